package journal

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/roach88/storeweave/internal/engine"
	"github.com/roach88/storeweave/internal/ir"
	"github.com/roach88/storeweave/internal/plugin"
)

// Entry is one journaled action.
type Entry struct {
	SessionID string
	Seq       int64
	ActionID  string
	Type      string
	Namespace string
	Payload   string // canonical JSON
	Meta      string // canonical JSON, without the seq
	StateHash string // hash of UserState after the action was reduced
}

// Session appends the actions of one store lifetime.
type Session struct {
	ID      string
	journal *Journal
}

// Append inserts an entry. Uses ON CONFLICT DO NOTHING for idempotency:
// writing the same (session, seq) twice is silently ignored.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO actions
		(session_id, seq, action_id, type, namespace, payload, meta, state_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING
	`,
		e.SessionID,
		e.Seq,
		e.ActionID,
		e.Type,
		e.Namespace,
		e.Payload,
		e.Meta,
		e.StateHash,
	)
	if err != nil {
		return fmt.Errorf("append %s seq %d: %w", e.Type, e.Seq, err)
	}
	return nil
}

// Record journals a reduced action together with the state it produced.
func (s *Session) Record(ctx context.Context, reduced ir.Action, state ir.State) error {
	e, err := NewEntry(s.ID, reduced, state)
	if err != nil {
		return err
	}
	return s.journal.Append(ctx, e)
}

// Middleware records every reduced action. Actions the store rejected
// (no seq stamped) are not recorded. Append failures go to onError, or to
// the journal's logger when onError is nil; they never fail the dispatch.
//
// The state hash is taken when the dispatch returns. With concurrent
// dispatchers a later action may already be folded in, which replay then
// reports as a divergence.
func (s *Session) Middleware(onError ir.ErrorFunc) engine.Middleware {
	if onError == nil {
		onError = func(err error) {
			s.journal.logger.Error("journal append failed", "session_id", s.ID, "error", err)
		}
	}
	return func(api engine.API) func(engine.DispatchFunc) engine.DispatchFunc {
		return func(next engine.DispatchFunc) engine.DispatchFunc {
			return func(action ir.Action) ir.Action {
				reduced := next(action)
				if reduced.Seq() == 0 {
					return reduced
				}
				if err := s.Record(context.Background(), reduced, api.GetState()); err != nil {
					onError(err)
				}
				return reduced
			}
		}
	}
}

// Hooks packages the recording middleware as an App plugin.
func (s *Session) Hooks(onError ir.ErrorFunc) plugin.Hooks {
	return plugin.Hooks{OnAction: []engine.Middleware{s.Middleware(onError)}}
}

// NewEntry builds the journal entry for a reduced action.
func NewEntry(sessionID string, reduced ir.Action, state ir.State) (Entry, error) {
	payload, err := ir.MarshalCanonical(reduced.Payload)
	if err != nil {
		return Entry{}, fmt.Errorf("journal %s: payload: %w", reduced.Type, err)
	}

	meta := maps.Clone(reduced.Meta)
	delete(meta, ir.MetaSeq)
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := ir.MarshalCanonical(meta)
	if err != nil {
		return Entry{}, fmt.Errorf("journal %s: meta: %w", reduced.Type, err)
	}

	id, err := ir.ActionID(reduced.Type, reduced.Payload, reduced.Seq())
	if err != nil {
		return Entry{}, fmt.Errorf("journal %s: %w", reduced.Type, err)
	}

	hash, err := ir.StateHash(UserState(state))
	if err != nil {
		return Entry{}, fmt.Errorf("journal %s: %w", reduced.Type, err)
	}

	ns, _, _ := ir.SplitType(reduced.Type)
	return Entry{
		SessionID: sessionID,
		Seq:       reduced.Seq(),
		ActionID:  id,
		Type:      reduced.Type,
		Namespace: ns,
		Payload:   string(payload),
		Meta:      string(metaJSON),
		StateHash: hash,
	}, nil
}

// UserState drops the runtime's reserved slices ("@@" prefixed) from a
// snapshot. Their content depends on registration history rather than on
// the dispatched actions.
func UserState(state ir.State) ir.State {
	out := make(ir.State, len(state))
	for ns, slice := range state {
		if isReserved(ns) {
			continue
		}
		out[ns] = slice
	}
	return out
}

func isReserved(ns string) bool {
	return strings.HasPrefix(ns, "@@")
}
