package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Push / Pop ---

func TestQueue_FIFOOrder(t *testing.T) {
	q := newOpQueue()
	assert.True(t, q.Push("gameA", OpUpload))
	assert.True(t, q.Push("gameB", OpUpload))
	assert.True(t, q.Push("gameC", OpReconcile))

	item, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "gameA", item.GameID)

	item, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "gameB", item.GameID)

	item, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, OpReconcile, item.Op)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueue_CoalescesSameGameAndOp(t *testing.T) {
	q := newOpQueue()
	assert.True(t, q.Push("gameA", OpUpload))
	assert.False(t, q.Push("gameA", OpUpload))
	assert.False(t, q.Push("gameA", OpUpload))

	assert.Equal(t, 1, q.Len())
}

func TestQueue_CoalescingKeepsOriginalPosition(t *testing.T) {
	q := newOpQueue()
	q.Push("gameA", OpUpload)
	q.Push("gameB", OpUpload)
	q.Push("gameA", OpUpload) // coalesces, stays first

	item, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "gameA", item.GameID)
}

func TestQueue_DifferentOpsForSameGameAreDistinct(t *testing.T) {
	q := newOpQueue()
	assert.True(t, q.Push("gameA", OpUpload))
	assert.True(t, q.Push("gameA", OpReconcile))
	assert.Equal(t, 2, q.Len())
}

func TestQueue_PopAllowsReenqueue(t *testing.T) {
	q := newOpQueue()
	q.Push("gameA", OpUpload)
	_, ok := q.Pop()
	require.True(t, ok)

	assert.True(t, q.Push("gameA", OpUpload))
}

// --- Clear / Snapshot ---

func TestQueue_ClearReturnsCountAndEmpties(t *testing.T) {
	q := newOpQueue()
	q.Push("gameA", OpUpload)
	q.Push("gameB", OpDownload)

	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Len())

	// Cleared keys can be queued again.
	assert.True(t, q.Push("gameA", OpUpload))
}

func TestQueue_SnapshotPreservesOrder(t *testing.T) {
	q := newOpQueue()
	q.Push("gameB", OpUpload)
	q.Push("gameA", OpUpload)

	snap := q.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "gameB", snap[0].GameID)
	assert.Equal(t, "gameA", snap[1].GameID)

	// Snapshot does not drain.
	assert.Equal(t, 2, q.Len())
}
