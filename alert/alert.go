// Package alert holds the device's offline alert set, applies the
// SetAlert/DeleteAlert directives, and drives host playback of alerts
// that fire while offline.
package alert

import (
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"
)

// Token is an opaque alert identifier as issued by the service; the
// client never interprets its contents.
type Token string

// Player starts and stops local playback for an alert firing while
// disconnected from the service.
type Player interface {
	StartOfflineAlert(token Token) error
	StopOfflineAlert(token Token) error
}

// Persister durably stores the current alert set so it survives a
// restart.
type Persister interface {
	StoreAlerts(tokens []Token) error
}

// EventEmitter publishes the alert directives' success/failure events
// and AlertVolumeChanged.
type EventEmitter interface {
	EmitSetAlertSucceeded(token Token) error
	EmitSetAlertFailed(token Token, reason string) error
	EmitDeleteAlertSucceeded(token Token) error
	EmitDeleteAlertFailed(token Token, reason string) error
	EmitAlertVolumeChanged(level int) error
}

type setAlertPayload struct {
	Token Token `json:"token"`
}

type deleteAlertPayload struct {
	Token Token `json:"token"`
}

type setAlertVolumePayload struct {
	Level int `json:"level"`
}

// Manager owns the alert set.
type Manager struct {
	log     *log.Logger
	player  Player
	storage Persister
	events  EventEmitter

	mu     sync.Mutex
	tokens map[Token]bool
	volume int
}

// New constructs a Manager.
func New(player Player, storage Persister, events EventEmitter, logger *log.Logger) *Manager {
	return &Manager{
		log:     logger.WithPrefix("alert"),
		player:  player,
		storage: storage,
		events:  events,
		tokens:  map[Token]bool{},
	}
}

// HandleSetAlert is the dispatcher.DirectiveHandler for SetAlert.
func (m *Manager) HandleSetAlert(payload json.RawMessage, _ int, _ uint32, _ int) error {
	var p setAlertPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}

	m.mu.Lock()
	m.tokens[p.Token] = true
	err := m.storage.StoreAlerts(m.allTokensLocked())
	if err != nil {
		delete(m.tokens, p.Token)
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Errorf("failed to persist alert set: %v", err)
		return m.events.EmitSetAlertFailed(p.Token, err.Error())
	}
	return m.events.EmitSetAlertSucceeded(p.Token)
}

// HandleDeleteAlert is the dispatcher.DirectiveHandler for DeleteAlert.
func (m *Manager) HandleDeleteAlert(payload json.RawMessage, _ int, _ uint32, _ int) error {
	var p deleteAlertPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}

	m.mu.Lock()
	existed := m.tokens[p.Token]
	delete(m.tokens, p.Token)
	err := m.storage.StoreAlerts(m.allTokensLocked())
	if err != nil && existed {
		m.tokens[p.Token] = true
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Errorf("failed to persist alert set: %v", err)
		return m.events.EmitDeleteAlertFailed(p.Token, err.Error())
	}
	return m.events.EmitDeleteAlertSucceeded(p.Token)
}

// HandleSetAlertVolume is the dispatcher.DirectiveHandler for
// SetAlertVolume.
func (m *Manager) HandleSetAlertVolume(payload json.RawMessage, _ int, _ uint32, _ int) error {
	var p setAlertVolumePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	m.mu.Lock()
	m.volume = p.Level
	m.mu.Unlock()
	return m.events.EmitAlertVolumeChanged(p.Level)
}

// Fire is called by the host when an alert's scheduled time arrives
// while the client is offline; it starts local playback if the token
// is still in the current alert set.
func (m *Manager) Fire(token Token) error {
	m.mu.Lock()
	known := m.tokens[token]
	m.mu.Unlock()
	if !known {
		return nil
	}
	return m.player.StartOfflineAlert(token)
}

// Silence stops local playback of token, e.g. on a physical button
// press dismissing a firing alert.
func (m *Manager) Silence(token Token) error {
	return m.player.StopOfflineAlert(token)
}

// AllTokens returns the current alert set, used by the facade to
// assemble the combined SynchronizeState event.
func (m *Manager) AllTokens() []Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allTokensLocked()
}

func (m *Manager) allTokensLocked() []Token {
	tokens := make([]Token, 0, len(m.tokens))
	for t := range m.tokens {
		tokens = append(tokens, t)
	}
	return tokens
}
