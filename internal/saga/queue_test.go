package saga

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storeweave/internal/ir"
)

func TestActionQueue_FIFO(t *testing.T) {
	q := newActionQueue()
	for _, typ := range []string{"x/a", "x/b", "x/c"} {
		require.True(t, q.Enqueue(ir.NewAction(typ, nil)))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"x/a", "x/b", "x/c"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.Type)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestActionQueue_KeepLast(t *testing.T) {
	q := newActionQueue()
	q.KeepLast()
	assert.Equal(t, 0, q.Len())

	for _, typ := range []string{"x/a", "x/b", "x/c"} {
		q.Enqueue(ir.NewAction(typ, nil))
	}
	q.KeepLast()

	require.Equal(t, 1, q.Len())
	got, _ := q.TryDequeue()
	assert.Equal(t, "x/c", got.Type)
}

func TestActionQueue_WaitSignals(t *testing.T) {
	q := newActionQueue()

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Enqueue(ir.NewAction("x/a", nil))
	}()

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("no signal after enqueue")
	}
	_, ok := q.TryDequeue()
	assert.True(t, ok)
}

func TestActionQueue_Close(t *testing.T) {
	q := newActionQueue()
	q.Close()
	q.Close()

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(ir.NewAction("x/a", nil)), "enqueue after close should fail")

	select {
	case <-q.Wait():
	default:
		t.Fatal("close should wake waiters")
	}
}
