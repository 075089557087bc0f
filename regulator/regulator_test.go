package regulator

import (
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

type sizedChunk struct {
	id   int
	size int
}

func (c sizedChunk) Size() int { return c.size }

func testLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})
}

func TestBatchFitsUnderMaxMessageSize(t *testing.T) {
	var order []int
	r := New(200, time.Hour, Trickle, func(c Chunk, remBytes, remChunks int) Result {
		order = append(order, c.(sizedChunk).id)
		return Result{}
	}, testLogger())

	require.NoError(t, r.Write(sizedChunk{1, 50}))
	require.NoError(t, r.Write(sizedChunk{2, 51}))
	require.NoError(t, r.Write(sizedChunk{3, 52}))

	emitted := r.emitOneBatch()
	require.True(t, emitted)
	require.Equal(t, []int{1, 2, 3}, order)
	require.Equal(t, 0, r.Len())
}

func TestBatchStopsAtSizeBoundary(t *testing.T) {
	var order []int
	r := New(100, time.Hour, Trickle, func(c Chunk, remBytes, remChunks int) Result {
		order = append(order, c.(sizedChunk).id)
		return Result{}
	}, testLogger())

	require.NoError(t, r.Write(sizedChunk{1, 60}))
	require.NoError(t, r.Write(sizedChunk{2, 60}))

	r.emitOneBatch()
	require.Equal(t, []int{1}, order)
	require.Equal(t, 1, r.Len())

	order = nil
	r.emitOneBatch()
	require.Equal(t, []int{2}, order)
}

func TestChunkTooLargeRejected(t *testing.T) {
	r := New(10, time.Hour, Trickle, func(Chunk, int, int) Result { return Result{} }, testLogger())
	err := r.Write(sizedChunk{1, 11})
	require.ErrorIs(t, err, ErrChunkTooLarge)
}

func TestFailedChunkStaysAtHead(t *testing.T) {
	attempt := 0
	r := New(100, time.Hour, Trickle, func(c Chunk, remBytes, remChunks int) Result {
		attempt++
		if c.(sizedChunk).id == 1 && attempt == 1 {
			return Result{Failed: true}
		}
		return Result{}
	}, testLogger())

	require.NoError(t, r.Write(sizedChunk{1, 10}))
	require.NoError(t, r.Write(sizedChunk{2, 10}))

	r.emitOneBatch()
	require.Equal(t, 2, r.Len()) // chunk 1 failed, chunk 2 never attempted

	r.emitOneBatch()
	require.Equal(t, 0, r.Len())
}

func TestBurstModeDrainsAllReadyBatches(t *testing.T) {
	var batches int
	r := New(20, time.Hour, Burst, func(c Chunk, remBytes, remChunks int) Result {
		if remChunks == 0 {
			batches++
		}
		return Result{}
	}, testLogger())

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Write(sizedChunk{i, 10}))
	}
	r.tick()
	require.Equal(t, 0, r.Len())
	require.Equal(t, 3, batches) // 10+10, 10+10, 10 -> three batches under a 20-byte cap
}

func TestClearRequiresDestroyCallback(t *testing.T) {
	r := New(100, time.Hour, Trickle, func(Chunk, int, int) Result { return Result{} }, testLogger())
	require.NoError(t, r.Write(sizedChunk{1, 10}))

	err := r.Clear(nil)
	require.ErrorIs(t, err, ErrNilDestroy)
	require.Equal(t, 1, r.Len())

	var destroyed []int
	err = r.Clear(func(c Chunk) { destroyed = append(destroyed, c.(sizedChunk).id) })
	require.NoError(t, err)
	require.Equal(t, []int{1}, destroyed)
	require.Equal(t, 0, r.Len())
}
