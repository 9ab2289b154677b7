package journal

import (
	"context"
	"fmt"

	"github.com/roach88/storeweave/internal/ir"
)

// Target is what replay dispatches into: an App or a bare engine.Store.
// Effects should not run in the target, since the actions they put were
// journaled too and would otherwise be applied twice.
type Target interface {
	Dispatch(action ir.Action) ir.Action
	GetState() ir.State
}

// DivergenceError reports the first entry whose replayed state hash does
// not match the recorded one.
type DivergenceError struct {
	Seq  int64
	Type string
	Want string
	Got  string
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("replay diverged at seq %d (%s): state hash %s, recorded %s",
		e.Seq, e.Type, short(e.Got), short(e.Want))
}

// ReplayResult summarizes a successful replay.
type ReplayResult struct {
	Replayed  int
	Skipped   int
	FinalHash string
	State     ir.State
}

// Replay re-dispatches entries into target in order and checks the state
// hash after each one. Reserved runtime actions (init, reducer replacement,
// registry updates) are skipped: the target produces its own.
func Replay(ctx context.Context, entries []Entry, target Target) (ReplayResult, error) {
	var result ReplayResult
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("replay interrupted at seq %d: %w", e.Seq, err)
		}
		if isReserved(e.Namespace) {
			result.Skipped++
			continue
		}

		action, err := e.Action()
		if err != nil {
			return result, err
		}
		target.Dispatch(action)
		result.Replayed++

		got, err := ir.StateHash(UserState(target.GetState()))
		if err != nil {
			return result, fmt.Errorf("replay seq %d: %w", e.Seq, err)
		}
		if got != e.StateHash {
			return result, &DivergenceError{Seq: e.Seq, Type: e.Type, Want: e.StateHash, Got: got}
		}
	}

	result.State = UserState(target.GetState())
	hash, err := ir.StateHash(result.State)
	if err != nil {
		return result, fmt.Errorf("replay: %w", err)
	}
	result.FinalHash = hash
	return result, nil
}

// Replay reads a session and replays it into target.
func (j *Journal) Replay(ctx context.Context, sessionID string, target Target) (ReplayResult, error) {
	entries, err := j.ReadSession(ctx, sessionID)
	if err != nil {
		return ReplayResult{}, err
	}
	result, err := Replay(ctx, entries, target)
	if err != nil {
		return result, fmt.Errorf("session %s: %w", sessionID, err)
	}
	j.logger.Debug("journal replayed",
		"session_id", sessionID,
		"replayed", result.Replayed,
		"skipped", result.Skipped,
		"state_hash", result.FinalHash,
	)
	return result, nil
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
