// Package sequencer implements the inbound per-topic reordering
// window: messages arriving out of order are held until their
// predecessors arrive, with a single timeout guarding against a
// message that never shows up.
package sequencer

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nimbusvoice/aiaclient/worker"
)

// ErrShortBuffer is returned when a write is too small to carry a
// plain sequence number.
var ErrShortBuffer = errors.New("sequencer: buffer shorter than a sequence number")

// ErrWindowOverflow is returned when a sequence number falls outside
// the current slot window; the caller should treat the session as
// unrecoverable (in production, disconnect with UNEXPECTED_SEQUENCE_NUMBER).
var ErrWindowOverflow = errors.New("sequencer: sequence number exceeds window")

// Sequencer reorders writes for one topic around a sliding window of
// maxSlots entries, indexed by seq mod maxSlots.
type Sequencer struct {
	worker.Worker

	log *log.Logger

	mu       sync.Mutex
	maxSlots uint32
	baseSeq  uint32
	slots    [][]byte

	timeoutMs time.Duration
	timer     *worker.TimerQueue
	armed     bool
	armedBase uint32

	onSequenced func(buf []byte)
	onTimeout   func()
}

// New constructs a Sequencer. onSequenced is invoked, in order, for
// every buffer as it becomes the new head of the window; onTimeout
// fires once if the head is still missing after timeoutMs.
func New(maxSlots uint32, startingSequenceNumber uint32, timeoutMs time.Duration, onSequenced func(buf []byte), onTimeout func(), logger *log.Logger) *Sequencer {
	s := &Sequencer{
		log:         logger.WithPrefix("sequencer"),
		maxSlots:    maxSlots,
		baseSeq:     startingSequenceNumber,
		slots:       make([][]byte, maxSlots),
		timeoutMs:   timeoutMs,
		onSequenced: onSequenced,
		onTimeout:   onTimeout,
	}
	s.timer = worker.NewTimerQueue(s.onTimerFire)
	return s
}

// Start launches the sequencer's deferred-timeout worker.
func (s *Sequencer) Start() {
	s.timer.Start()
}

// Halt stops the sequencer's timer worker.
func (s *Sequencer) Halt() {
	s.timer.Halt()
}

// Write extracts the leading u32 plain sequence number from buf and
// either delivers it immediately (if it is the expected head),
// buffers it for later, or discards it as a stale duplicate.
func (s *Sequencer) Write(buf []byte) error {
	if len(buf) < 4 {
		return ErrShortBuffer
	}
	seq := binary.LittleEndian.Uint32(buf[0:4])

	s.mu.Lock()
	if seq < s.baseSeq {
		s.log.Debugf("discarding stale duplicate seq=%d base=%d", seq, s.baseSeq)
		s.mu.Unlock()
		return nil
	}
	if seq >= s.baseSeq+s.maxSlots {
		s.mu.Unlock()
		return ErrWindowOverflow
	}

	if seq != s.baseSeq {
		s.slots[seq%s.maxSlots] = buf
		if !s.armed {
			s.armLocked()
		}
		s.mu.Unlock()
		return nil
	}

	var drained [][]byte
	drained = append(drained, buf)
	s.baseSeq++
	for {
		idx := s.baseSeq % s.maxSlots
		next := s.slots[idx]
		if next == nil {
			break
		}
		s.slots[idx] = nil
		drained = append(drained, next)
		s.baseSeq++
	}

	// A gap may remain further ahead in the window even though the
	// head just advanced (e.g. seq 2 buffered, then seq 0 arrives:
	// baseSeq advances to 1, seq 1 is still missing and seq 2 stays
	// buffered behind the hole). Re-arm against the new baseSeq whenever any
	// slot is still occupied, superseding whatever timer was armed
	// before: onTimerFire ignores any firing whose armedBase no
	// longer matches the current epoch.
	hasGap := false
	for _, b := range s.slots {
		if b != nil {
			hasGap = true
			break
		}
	}
	if hasGap {
		s.armLocked()
	} else {
		s.armed = false
	}
	s.mu.Unlock()

	for _, b := range drained {
		s.onSequenced(b)
	}
	return nil
}

// armLocked arms (or re-arms) the timeout timer against the current
// baseSeq. Callers must hold s.mu.
func (s *Sequencer) armLocked() {
	s.armed = true
	s.armedBase = s.baseSeq
	s.timer.Push(uint64(time.Now().Add(s.timeoutMs).UnixNano()), s.baseSeq)
}

func (s *Sequencer) onTimerFire(value interface{}) {
	firedBase := value.(uint32)

	s.mu.Lock()
	if !s.armed || s.armedBase != firedBase {
		// Superseded by a later arm (or already resolved and
		// cleared): this firing belongs to a stale epoch.
		s.mu.Unlock()
		return
	}
	stillMissing := s.baseSeq == firedBase
	s.armed = false
	s.mu.Unlock()

	if stillMissing {
		s.onTimeout()
	}
}
