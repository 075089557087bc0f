package sequencer

import (
	"encoding/binary"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})
}

func seqBuf(n uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return b
}

func TestOutOfOrderDeliveryDrainsInOrder(t *testing.T) {
	var mu sync.Mutex
	var sequenced []uint32
	var timeouts int

	s := New(4, 0, time.Hour, func(buf []byte) {
		mu.Lock()
		sequenced = append(sequenced, binary.LittleEndian.Uint32(buf))
		mu.Unlock()
	}, func() {
		mu.Lock()
		timeouts++
		mu.Unlock()
	}, testLogger())
	s.Start()
	defer s.Halt()

	for _, n := range []uint32{2, 0, 1, 3} {
		require.NoError(t, s.Write(seqBuf(n)))
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []uint32{0, 1, 2, 3}, sequenced)
	require.Equal(t, 0, timeouts)
}

func TestTimeoutFiresOnceWhenHeadNeverArrives(t *testing.T) {
	var mu sync.Mutex
	var sequenced []uint32
	var timeouts int
	timeoutCh := make(chan struct{}, 1)

	s := New(4, 0, 20*time.Millisecond, func(buf []byte) {
		mu.Lock()
		sequenced = append(sequenced, binary.LittleEndian.Uint32(buf))
		mu.Unlock()
	}, func() {
		mu.Lock()
		timeouts++
		mu.Unlock()
		select {
		case timeoutCh <- struct{}{}:
		default:
		}
	}, testLogger())
	s.Start()
	defer s.Halt()

	require.NoError(t, s.Write(seqBuf(1)))
	require.NoError(t, s.Write(seqBuf(2)))

	select {
	case <-timeoutCh:
	case <-time.After(time.Second):
		t.Fatal("onTimeout never fired")
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, sequenced)
	require.Equal(t, 1, timeouts)
}

func TestTimeoutFiresForGapRemainingAfterPartialDrain(t *testing.T) {
	var mu sync.Mutex
	var sequenced []uint32
	timeoutCh := make(chan struct{}, 1)

	s := New(4, 0, 20*time.Millisecond, func(buf []byte) {
		mu.Lock()
		sequenced = append(sequenced, binary.LittleEndian.Uint32(buf))
		mu.Unlock()
	}, func() {
		select {
		case timeoutCh <- struct{}{}:
		default:
		}
	}, testLogger())
	s.Start()
	defer s.Halt()

	// seq 2 arrives first and arms a timer for the baseSeq=0 gap. seq 0
	// then arrives and drains, advancing baseSeq to 1 — but seq 1 never
	// shows up, so a new, different gap now sits at baseSeq=1. seq 3
	// arrives and buffers behind it. The stale timer armed for the
	// original baseSeq=0 gap must not mask this new gap.
	require.NoError(t, s.Write(seqBuf(2)))
	require.NoError(t, s.Write(seqBuf(0)))
	require.NoError(t, s.Write(seqBuf(3)))

	select {
	case <-timeoutCh:
	case <-time.After(time.Second):
		t.Fatal("onTimeout never fired for the baseSeq=1 gap")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []uint32{0}, sequenced, "2 and 3 must stay buffered behind the still-missing seq 1")
}

func TestStaleDuplicateDiscarded(t *testing.T) {
	var sequenced []uint32
	s := New(4, 2, time.Hour, func(buf []byte) {
		sequenced = append(sequenced, binary.LittleEndian.Uint32(buf))
	}, func() {}, testLogger())
	s.Start()
	defer s.Halt()

	require.NoError(t, s.Write(seqBuf(0))) // stale, base already at 2
	require.Empty(t, sequenced)

	require.NoError(t, s.Write(seqBuf(2)))
	require.Equal(t, []uint32{2}, sequenced)
}

func TestWindowOverflowRejected(t *testing.T) {
	s := New(4, 0, time.Hour, func([]byte) {}, func() {}, testLogger())
	s.Start()
	defer s.Halt()

	err := s.Write(seqBuf(4))
	require.ErrorIs(t, err, ErrWindowOverflow)
}
