package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storeweave/internal/journal"
)

func TestSessionsEmptyJournal(t *testing.T) {
	db := filepath.Join(t.TempDir(), "storeweave.db")

	out, err := execute(t, "sessions", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions recorded.")
}

func TestSessionsRequireJournal(t *testing.T) {
	for _, command := range []string{"sessions", "trace", "replay"} {
		t.Run(command, func(t *testing.T) {
			_, err := execute(t, command)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), "no journal configured")
		})
	}
}

func TestTraceLatestSession(t *testing.T) {
	db := filepath.Join(t.TempDir(), "storeweave.db")
	id := recordSession(t, db)

	out, err := execute(t, "trace", "--db", db, "--format", "json")
	require.NoError(t, err)

	resp := decode[TraceResult](t, out)
	assert.Equal(t, id, resp.Data.Session.ID)
	assert.Equal(t, "recorded", resp.Data.Session.Label)

	types := make([]string, 0, len(resp.Data.Timeline))
	for _, e := range resp.Data.Timeline {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		"@@storeweave/INIT",
		"counter/increment",
		"counter/add",
		"editor/type",
		"editor/undo",
	}, types)

	assert.Equal(t, 5, resp.Data.Stats.TotalEvents)
	assert.Equal(t, 1, resp.Data.Stats.Runtime)
	assert.Equal(t, map[string]int{"counter": 2, "editor": 2}, resp.Data.Stats.Namespaces)
	assert.JSONEq(t, `{"by":5}`, string(resp.Data.Timeline[2].Payload))
	assert.Equal(t, resp.Data.Timeline[4].StateHash, resp.Data.Stats.FinalHash)
}

func TestTraceFilters(t *testing.T) {
	db := filepath.Join(t.TempDir(), "storeweave.db")
	id := recordSession(t, db)

	out, err := execute(t, "trace", id, "--db", db, "--namespace", "editor", "--format", "json")
	require.NoError(t, err)
	resp := decode[TraceResult](t, out)
	require.Len(t, resp.Data.Timeline, 2)
	assert.Equal(t, "editor/type", resp.Data.Timeline[0].Type)

	out, err = execute(t, "trace", id, "--db", db, "--type", "counter/add")
	require.NoError(t, err)
	assert.Contains(t, out, "=== Timeline ===")
	assert.Contains(t, out, `counter/add {"by":5}`)
	assert.NotContains(t, out, "counter/increment")
}

func TestTraceUnknownSession(t *testing.T) {
	db := filepath.Join(t.TempDir(), "storeweave.db")
	recordSession(t, db)

	_, err := execute(t, "trace", "00000000-0000-0000-0000-000000000000", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, journal.ErrSessionNotFound)
}

func TestBuildTrace(t *testing.T) {
	info := journal.SessionInfo{ID: "s1", Label: "unit"}
	entries := []journal.Entry{
		{Seq: 1, Type: "@@storeweave/INIT", Namespace: "@@storeweave", Payload: "null", StateHash: "h1"},
		{Seq: 2, Type: "counter/increment", Namespace: "counter", Payload: "null", StateHash: "h2"},
		{Seq: 3, Type: "counter/add", Namespace: "counter", Payload: `{"by":2}`, StateHash: "h3"},
	}

	all := buildTrace(info, entries, "")
	assert.Equal(t, 3, all.Stats.TotalEvents)
	assert.Equal(t, 1, all.Stats.Runtime)
	assert.Equal(t, "h3", all.Stats.FinalHash)

	filtered := buildTrace(info, entries, "counter/increment")
	require.Len(t, filtered.Timeline, 1)
	assert.Equal(t, "h2", filtered.Stats.FinalHash)

	empty := buildTrace(info, nil, "")
	assert.NotNil(t, empty.Timeline)
	assert.Empty(t, empty.Stats.FinalHash)
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "01234567...89abcdef", truncateID("0123456789abcdef0123456789abcdef"))
}

// appendDivergent journals a session whose second entry carries a wrong
// state hash.
func appendDivergent(t *testing.T, db string) string {
	t.Helper()
	ctx := context.Background()
	j, err := journal.Open(db)
	require.NoError(t, err)
	defer j.Close()

	session, err := j.StartSession(ctx, "tampered")
	require.NoError(t, err)

	require.NoError(t, j.Append(ctx, journal.Entry{
		SessionID: session.ID, Seq: 1, ActionID: "a1", Type: "@@storeweave/INIT",
		Namespace: "@@storeweave", Payload: "null", Meta: "{}", StateHash: "x",
	}))
	require.NoError(t, j.Append(ctx, journal.Entry{
		SessionID: session.ID, Seq: 2, ActionID: "a2", Type: "counter/increment",
		Namespace: "counter", Payload: "null", Meta: "{}", StateHash: "not-the-hash",
	}))
	return session.ID
}
