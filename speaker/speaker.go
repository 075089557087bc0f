// Package speaker implements the default playback-buffer speaker
// manager: it reassembles decrypted Speaker binary blobs into frames,
// buffers them under configurable thresholds, and drains them to a
// host renderer at a fixed cadence.
package speaker

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nimbusvoice/aiaclient/wire"
	"github.com/nimbusvoice/aiaclient/worker"
)

// BufferState is the health of the playback buffer.
type BufferState string

const (
	BufferGood            BufferState = "GOOD"
	BufferOverrunWarning  BufferState = "OVERRUN_WARNING"
	BufferUnderrunWarning BufferState = "UNDERRUN_WARNING"
)

// Renderer is the host's audio output capability.
type Renderer interface {
	RenderFrame(offset uint64, data []byte) error
}

// EventEmitter publishes the speaker manager's lifecycle events.
type EventEmitter interface {
	EmitSpeakerOpened() error
	EmitSpeakerClosed() error
	EmitSpeakerMarkerEncountered(offset uint64) error
	EmitBufferStateChanged(state BufferState) error
}

// Config bounds the playback buffer and its drain cadence.
type Config struct {
	FrameBytes         int
	OverrunThreshold   int
	UnderrunThreshold  int
	RenderRate         time.Duration
	IdleCloseThreshold time.Duration
}

// Manager is the default buffering Speaker implementation. It
// satisfies dispatcher.SpeakerSink.
type Manager struct {
	worker.Worker

	log      *log.Logger
	cfg      Config
	renderer Renderer
	events   EventEmitter

	idleTimer *worker.TimerQueue
	idleGen   uint64

	mu     sync.Mutex
	open   bool
	buffer []byte
	state  BufferState
}

// New constructs a Manager.
func New(cfg Config, renderer Renderer, events EventEmitter, logger *log.Logger) *Manager {
	m := &Manager{
		log:      logger.WithPrefix("speaker"),
		cfg:      cfg,
		renderer: renderer,
		events:   events,
		state:    BufferGood,
	}
	m.idleTimer = worker.NewTimerQueue(m.onIdleTimeout)
	return m
}

// Start launches the render loop and the idle-close timer worker.
func (m *Manager) Start() {
	m.idleTimer.Start()
	m.Go(m.renderLoop)
}

// Halt stops the render loop and idle timer.
func (m *Manager) Halt() {
	m.idleTimer.Halt()
	m.Worker.Halt()
}

// HandleSpeakerData decodes one or more concatenated binary messages
// from a decrypted Speaker payload and routes each by type.
func (m *Manager) HandleSpeakerData(sequenceNumber uint32, body []byte) {
	for len(body) > 0 {
		msg, consumed, err := wire.DecodeBinaryMessage(body)
		if err != nil {
			m.log.Errorf("malformed speaker binary message at seq=%d: %v", sequenceNumber, err)
			return
		}
		body = body[consumed:]

		switch msg.Type {
		case wire.BinaryContent:
			m.handleContent(msg.Data)
		case wire.BinaryMarker:
			m.handleMarker(msg.Data)
		default:
			m.log.Warnf("unknown speaker binary message type %d", msg.Type)
		}
	}
}

func (m *Manager) handleContent(data []byte) {
	if len(data) < 8 {
		m.log.Errorf("speaker Content message shorter than its offset prefix")
		return
	}
	payload := data[8:]

	m.mu.Lock()
	wasOpen := m.open
	m.open = true
	m.buffer = append(m.buffer, payload...)
	bufLen := len(m.buffer)
	m.mu.Unlock()

	if !wasOpen {
		if err := m.events.EmitSpeakerOpened(); err != nil {
			m.log.Errorf("failed to emit SpeakerOpened: %v", err)
		}
	}

	m.resetIdleTimer()
	m.maybeTransition(bufLen)
}

func (m *Manager) handleMarker(data []byte) {
	var offset uint64
	if len(data) >= 8 {
		offset = binary.LittleEndian.Uint64(data)
	}
	if err := m.events.EmitSpeakerMarkerEncountered(offset); err != nil {
		m.log.Errorf("failed to emit SpeakerMarkerEncountered: %v", err)
	}
}

func (m *Manager) maybeTransition(bufLen int) {
	m.mu.Lock()
	prev := m.state
	next := prev
	switch {
	case bufLen >= m.cfg.OverrunThreshold:
		next = BufferOverrunWarning
	case bufLen <= m.cfg.UnderrunThreshold:
		next = BufferUnderrunWarning
	default:
		next = BufferGood
	}
	m.state = next
	m.mu.Unlock()

	if next != prev {
		if err := m.events.EmitBufferStateChanged(next); err != nil {
			m.log.Errorf("failed to emit BufferStateChanged: %v", err)
		}
	}
}

func (m *Manager) renderLoop() {
	ticker := time.NewTicker(m.cfg.RenderRate)
	defer ticker.Stop()

	var offset uint64
	for {
		select {
		case <-m.HaltCh():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if !m.open || len(m.buffer) == 0 {
			m.mu.Unlock()
			continue
		}
		n := m.cfg.FrameBytes
		if n > len(m.buffer) {
			n = len(m.buffer)
		}
		frame := append([]byte(nil), m.buffer[:n]...)
		m.buffer = m.buffer[n:]
		bufLen := len(m.buffer)
		m.mu.Unlock()

		if err := m.renderer.RenderFrame(offset, frame); err != nil {
			m.log.Errorf("render failed at offset %d: %v", offset, err)
		}
		offset += uint64(n)

		m.maybeTransition(bufLen)
	}
}

func (m *Manager) resetIdleTimer() {
	m.mu.Lock()
	m.idleGen++
	gen := m.idleGen
	m.mu.Unlock()
	m.idleTimer.Push(uint64(time.Now().Add(m.cfg.IdleCloseThreshold).UnixNano()), gen)
}

func (m *Manager) onIdleTimeout(value interface{}) {
	gen := value.(uint64)

	m.mu.Lock()
	if !m.open || gen != m.idleGen {
		m.mu.Unlock()
		return
	}
	m.open = false
	m.buffer = nil
	m.state = BufferGood
	m.mu.Unlock()

	if err := m.events.EmitSpeakerClosed(); err != nil {
		m.log.Errorf("failed to emit SpeakerClosed: %v", err)
	}
}
