// Package microphone implements the open/closed state machine that
// streams live capture out through the regulator as binary Content
// messages with a running byte offset.
package microphone

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nimbusvoice/aiaclient/regulator"
	"github.com/nimbusvoice/aiaclient/sds"
	"github.com/nimbusvoice/aiaclient/wire"
	"github.com/nimbusvoice/aiaclient/worker"
)

// preroll is the minimum number of samples WakeWordStart requires
// between the buffer start and beginIndex.
const preroll = 8000

// alexaWakeword is the only wake word name accepted.
const alexaWakeword = "ALEXA"

var (
	ErrAlreadyOpen         = errors.New("microphone: already open")
	ErrUnsupportedWakeword = errors.New("microphone: unsupported wake word")
	ErrInsufficientPreroll = errors.New("microphone: insufficient preroll before beginIndex")
)

// State is the microphone's open/closed state.
type State uint8

const (
	Closed State = iota
	Open
)

// Initiator describes what caused the microphone to open.
type Initiator struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventEmitter publishes the microphone's lifecycle events.
type EventEmitter interface {
	EmitMicrophoneOpened(offset uint64, profile string, initiator Initiator) error
	EmitMicrophoneClosed(offset uint64) error
	EmitOpenMicrophoneTimedOut() error
}

// chunk adapts one encoded binary message for the regulator.
type chunk struct{ data []byte }

func (c chunk) Size() int     { return len(c.data) }
func (c chunk) Bytes() []byte { return c.data }

// Microphone owns the SDS reader, the open/closed state, and the pump
// that streams chunks into the regulator while open.
type Microphone struct {
	worker.Worker

	log *log.Logger

	reader      *sds.Reader
	wordSize    uint32
	chunkWords  uint64
	publishRate time.Duration
	regulator   *regulator.Regulator
	events      EventEmitter

	openTimer *worker.TimerQueue

	mu         sync.Mutex
	state      State
	offset     uint64
	stopPumpCh chan struct{}

	// openDeadlineActive and pendingInitiator implement the
	// OpenMicrophone directive's open-until-deadline echo: if the app
	// opens the microphone before the deadline, the next MicrophoneOpened
	// echoes the directive's initiator verbatim.
	openDeadlineActive bool
	pendingInitiator   Initiator
}

// New constructs a Microphone. chunkWords is the fixed read size per
// pump tick, in words (samples).
func New(reader *sds.Reader, wordSize uint32, chunkWords uint64, publishRate time.Duration, reg *regulator.Regulator, events EventEmitter, logger *log.Logger) *Microphone {
	m := &Microphone{
		log:         logger.WithPrefix("microphone"),
		reader:      reader,
		wordSize:    wordSize,
		chunkWords:  chunkWords,
		publishRate: publishRate,
		regulator:   reg,
		events:      events,
	}
	m.openTimer = worker.NewTimerQueue(m.onOpenDeadline)
	return m
}

// Start launches the microphone's deadline timer worker.
func (m *Microphone) Start() {
	m.openTimer.Start()
}

// Halt stops the microphone, including any running pump.
func (m *Microphone) Halt() {
	m.stopPump()
	m.openTimer.Halt()
	m.Worker.Halt()
}

// State reports the current open/closed state.
func (m *Microphone) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HoldToTalkStart opens the microphone at sampleIndex with a HOLD
// initiator.
func (m *Microphone) HoldToTalkStart(sampleIndex int64) error {
	return m.open(sampleIndex, "", Initiator{Type: "HOLD"})
}

// TapToTalkStart opens the microphone at sampleIndex with a TAP
// initiator carrying profile.
func (m *Microphone) TapToTalkStart(sampleIndex int64, profile string) error {
	return m.open(sampleIndex, profile, Initiator{Type: "TAP"})
}

// WakeWordStart opens the microphone at beginIndex with a WAKEWORD
// initiator. Only "ALEXA" is accepted, and at least preroll samples
// must exist between the buffer start and beginIndex.
func (m *Microphone) WakeWordStart(beginIndex, endIndex int64, profile, wakeword string) error {
	if wakeword != alexaWakeword {
		return ErrUnsupportedWakeword
	}
	if beginIndex < preroll {
		return ErrInsufficientPreroll
	}
	payload, err := json.Marshal(map[string]int64{"beginIndex": beginIndex, "endIndex": endIndex})
	if err != nil {
		return err
	}
	return m.open(beginIndex, profile, Initiator{Type: "WAKEWORD", Payload: payload})
}

// OnOpenMicrophoneDirective records a deadline; if the app opens the
// microphone before it elapses, the next MicrophoneOpened echoes
// initiator verbatim instead of the app's own.
func (m *Microphone) OnOpenMicrophoneDirective(deadline time.Duration, initiator Initiator) {
	m.mu.Lock()
	m.openDeadlineActive = true
	m.pendingInitiator = initiator
	m.mu.Unlock()
	m.openTimer.Push(uint64(time.Now().Add(deadline).UnixNano()), nil)
}

func (m *Microphone) onOpenDeadline(interface{}) {
	m.mu.Lock()
	stillWaiting := m.openDeadlineActive && m.state == Closed
	if stillWaiting {
		m.openDeadlineActive = false
	}
	m.mu.Unlock()

	if stillWaiting {
		if err := m.events.EmitOpenMicrophoneTimedOut(); err != nil {
			m.log.Errorf("failed to emit OpenMicrophoneTimedOut: %v", err)
		}
	}
}

func (m *Microphone) open(requestedIndex int64, profile string, initiator Initiator) error {
	m.mu.Lock()
	if m.state == Open {
		m.mu.Unlock()
		return ErrAlreadyOpen
	}
	if m.openDeadlineActive {
		initiator = m.pendingInitiator
		m.openDeadlineActive = false
		m.openTimer.Pop()
	}
	m.mu.Unlock()

	if _, err := m.reader.Seek(requestedIndex, sds.RefStart); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = Open
	m.offset = 0
	stopCh := make(chan struct{})
	m.stopPumpCh = stopCh
	m.mu.Unlock()

	if err := m.events.EmitMicrophoneOpened(0, profile, initiator); err != nil {
		m.log.Errorf("failed to emit MicrophoneOpened: %v", err)
	}

	m.Go(func() { m.pump(stopCh) })
	return nil
}

// CloseMicrophone stops the pump and emits MicrophoneClosed with the
// final session-relative byte offset.
func (m *Microphone) CloseMicrophone() error {
	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return nil
	}
	finalOffset := m.offset
	m.mu.Unlock()

	m.stopPump()

	if err := m.events.EmitMicrophoneClosed(finalOffset); err != nil {
		m.log.Errorf("failed to emit MicrophoneClosed: %v", err)
	}
	return nil
}

func (m *Microphone) stopPump() {
	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return
	}
	m.state = Closed
	ch := m.stopPumpCh
	m.stopPumpCh = nil
	m.mu.Unlock()

	if ch != nil {
		close(ch)
	}
}

func (m *Microphone) pump(stopCh chan struct{}) {
	buf := make([]byte, m.chunkWords*uint64(m.wordSize))
	ticker := time.NewTicker(m.publishRate)
	defer ticker.Stop()

	for {
		select {
		case <-m.HaltCh():
			return
		case <-stopCh:
			return
		case <-ticker.C:
		}

		n, err := m.reader.Read(buf)
		switch err {
		case nil:
		case sds.ErrWouldBlock:
			continue
		case sds.ErrOverrun:
			m.log.Warnf("microphone SDS reader overran, continuing from current position")
			continue
		case sds.ErrClosed:
			return
		default:
			m.log.Errorf("microphone SDS read failed: %v", err)
			return
		}
		if n == 0 {
			continue
		}

		m.mu.Lock()
		msgOffset := m.offset
		m.offset += uint64(n)
		m.mu.Unlock()

		data := make([]byte, 8+n)
		binary.LittleEndian.PutUint64(data[0:8], msgOffset)
		copy(data[8:], buf[:n])

		binMsg := &wire.BinaryMessage{Type: wire.BinaryContent, Count: 1, Data: data}
		if err := m.regulator.Write(chunk{data: binMsg.Encode()}); err != nil {
			m.log.Errorf("microphone regulator write failed: %v", err)
		}
	}
}
