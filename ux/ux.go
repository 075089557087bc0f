// Package ux reflects the service's attention state and volume
// directives onto the host.
package ux

import (
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"
)

// AttentionState is the server-reported UX state the client must
// reflect (idle, listening, thinking, speaking, and so on).
type AttentionState string

// Observer is notified whenever the attention state changes.
type Observer interface {
	OnAttentionStateChanged(state AttentionState) error
}

// VolumeHost is the device's settable output volume.
type VolumeHost interface {
	SetVolume(level int) error
}

// EventEmitter publishes VolumeChanged.
type EventEmitter interface {
	EmitVolumeChanged(level int) error
}

type setAttentionStatePayload struct {
	State AttentionState `json:"state"`
}

type setVolumePayload struct {
	Level int `json:"level"`
}

// Manager holds the attention state and volume the client currently
// reflects.
type Manager struct {
	log      *log.Logger
	host     VolumeHost
	observer Observer
	events   EventEmitter

	mu     sync.Mutex
	state  AttentionState
	volume int
	hasVol bool
}

// New constructs a Manager.
func New(host VolumeHost, observer Observer, events EventEmitter, logger *log.Logger) *Manager {
	return &Manager{log: logger.WithPrefix("ux"), host: host, observer: observer, events: events}
}

// HandleSetAttentionState is the dispatcher.DirectiveHandler for
// SetAttentionState.
func (m *Manager) HandleSetAttentionState(payload json.RawMessage, _ int, _ uint32, _ int) error {
	var p setAttentionStatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	m.mu.Lock()
	m.state = p.State
	m.mu.Unlock()
	return m.observer.OnAttentionStateChanged(p.State)
}

// HandleSetVolume is the dispatcher.DirectiveHandler for SetVolume.
func (m *Manager) HandleSetVolume(payload json.RawMessage, _ int, _ uint32, _ int) error {
	var p setVolumePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if err := m.host.SetVolume(p.Level); err != nil {
		m.log.Errorf("failed to apply SetVolume: %v", err)
		return err
	}
	m.mu.Lock()
	m.volume = p.Level
	m.hasVol = true
	m.mu.Unlock()
	return m.events.EmitVolumeChanged(p.Level)
}

// AttentionState reports the currently reflected attention state.
func (m *Manager) AttentionState() AttentionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentVolume reports the last volume applied via SetVolume, and
// whether one has been set yet. The facade reads this to assemble the
// combined SynchronizeState event alongside the alert set.
func (m *Manager) CurrentVolume() (level int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume, m.hasVol
}
