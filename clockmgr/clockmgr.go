// Package clockmgr reflects the service's SetClock directive onto the
// host clock and answers SynchronizeClock events on demand.
package clockmgr

import (
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"
)

// HostClock is the device's settable clock.
type HostClock interface {
	SetEpochSeconds(seconds int64) error
}

// EventEmitter publishes SynchronizeClock.
type EventEmitter interface {
	EmitSynchronizeClock() error
}

type setClockPayload struct {
	EpochSeconds int64 `json:"epochSeconds"`
}

// Manager owns the device's view of wall-clock time as set by the
// service.
type Manager struct {
	log    *log.Logger
	host   HostClock
	events EventEmitter

	mu           sync.Mutex
	lastSetEpoch int64
}

// New constructs a Manager.
func New(host HostClock, events EventEmitter, logger *log.Logger) *Manager {
	return &Manager{log: logger.WithPrefix("clockmgr"), host: host, events: events}
}

// HandleSetClock is the dispatcher.DirectiveHandler for SetClock.
func (m *Manager) HandleSetClock(payload json.RawMessage, _ int, _ uint32, _ int) error {
	var p setClockPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if err := m.host.SetEpochSeconds(p.EpochSeconds); err != nil {
		m.log.Errorf("failed to apply SetClock: %v", err)
		return err
	}
	m.mu.Lock()
	m.lastSetEpoch = p.EpochSeconds
	m.mu.Unlock()
	return nil
}

// LastSetEpoch reports the epoch seconds from the most recent applied
// SetClock directive.
func (m *Manager) LastSetEpoch() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSetEpoch
}

// SynchronizeClock emits SynchronizeClock, e.g. on (re)connect so the
// service can re-push an authoritative time if the device drifted
// while disconnected.
func (m *Manager) SynchronizeClock() error {
	return m.events.EmitSynchronizeClock()
}
