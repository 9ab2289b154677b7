package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/storeweave/internal/ir"
)

// ErrSessionNotFound is returned when a session ID is unknown.
var ErrSessionNotFound = errors.New("session not found")

// SessionInfo summarizes a recorded session.
type SessionInfo struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	StartedAt string `json:"started_at"`
	Actions   int    `json:"actions"`
	LastSeq   int64  `json:"last_seq"`
}

// Action rebuilds the dispatchable action from the entry. The payload comes
// back in the generic JSON value space (maps, slices, float64); handlers
// recover typed values with ir.DecodePayload.
func (e Entry) Action() (ir.Action, error) {
	var payload any
	if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
		return ir.Action{}, fmt.Errorf("entry seq %d: payload: %w", e.Seq, err)
	}

	var meta map[string]any
	if err := json.Unmarshal([]byte(e.Meta), &meta); err != nil {
		return ir.Action{}, fmt.Errorf("entry seq %d: meta: %w", e.Seq, err)
	}
	if len(meta) == 0 {
		meta = nil
	}

	return ir.Action{Type: e.Type, Payload: payload, Meta: meta}, nil
}

// ReadSession returns every entry of a session in seq order.
func (j *Journal) ReadSession(ctx context.Context, sessionID string) ([]Entry, error) {
	if _, err := j.ReadSessionInfo(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT session_id, seq, action_id, type, namespace, payload, meta, state_hash
		FROM actions
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("read session %s: %w", sessionID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session %s: %w", sessionID, err)
	}
	return entries, nil
}

// ReadNamespace returns the entries of one namespace within a session.
func (j *Journal) ReadNamespace(ctx context.Context, sessionID, namespace string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT session_id, seq, action_id, type, namespace, payload, meta, state_hash
		FROM actions
		WHERE session_id = ? AND namespace = ?
		ORDER BY seq ASC
	`, sessionID, namespace)
	if err != nil {
		return nil, fmt.Errorf("read namespace %s: %w", namespace, err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("read namespace %s: %w", namespace, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate namespace %s: %w", namespace, err)
	}
	return entries, nil
}

// ReadSessionInfo returns the summary of one session.
func (j *Journal) ReadSessionInfo(ctx context.Context, sessionID string) (SessionInfo, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT s.id, s.label, s.started_at, COUNT(a.seq), COALESCE(MAX(a.seq), 0)
		FROM sessions s
		LEFT JOIN actions a ON a.session_id = s.id
		WHERE s.id = ?
		GROUP BY s.id
	`, sessionID)

	var info SessionInfo
	err := row.Scan(&info.ID, &info.Label, &info.StartedAt, &info.Actions, &info.LastSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return SessionInfo{}, fmt.Errorf("read session info %s: %w", sessionID, err)
	}
	return info, nil
}

// ListSessions returns every session, oldest first. Session IDs are
// UUIDv7, so ID order is start order.
func (j *Journal) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT s.id, s.label, s.started_at, COUNT(a.seq), COALESCE(MAX(a.seq), 0)
		FROM sessions s
		LEFT JOIN actions a ON a.session_id = s.id
		GROUP BY s.id
		ORDER BY s.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionInfo{}
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ID, &info.Label, &info.StartedAt, &info.Actions, &info.LastSeq); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// LatestSession returns the most recently started session.
func (j *Journal) LatestSession(ctx context.Context) (SessionInfo, error) {
	var id string
	err := j.db.QueryRowContext(ctx, `SELECT id FROM sessions ORDER BY id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionInfo{}, fmt.Errorf("%w: journal is empty", ErrSessionNotFound)
	}
	if err != nil {
		return SessionInfo{}, fmt.Errorf("latest session: %w", err)
	}
	return j.ReadSessionInfo(ctx, id)
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	err := rows.Scan(
		&e.SessionID,
		&e.Seq,
		&e.ActionID,
		&e.Type,
		&e.Namespace,
		&e.Payload,
		&e.Meta,
		&e.StateHash,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	return e, nil
}
