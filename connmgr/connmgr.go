// Package connmgr drives the connect/acknowledge/reject/disconnect
// protocol and the exponential-backoff-with-full-jitter reconnect
// loop.
package connmgr

import (
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nimbusvoice/aiaclient/dispatcher"
	"github.com/nimbusvoice/aiaclient/wire"
	"github.com/nimbusvoice/aiaclient/worker"
)

// State is the connection manager's lifecycle state.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Disconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// RejectCode is the typed reason a ConnectionAcknowledge carries when
// it is not CONNECTION_ESTABLISHED.
type RejectCode string

const (
	RejectUnknownFailure       RejectCode = "UNKNOWN_FAILURE"
	RejectAPIVersionDeprecated RejectCode = "API_VERSION_DEPRECATED"
	RejectInvalidClientID      RejectCode = "INVALID_CLIENT_ID"
	RejectInvalidAccountID     RejectCode = "INVALID_ACCOUNT_ID"
)

// ServiceDisconnectCode is the typed reason carried by a service-sent
// Disconnect message, or synthesized locally from a dispatcher failure.
type ServiceDisconnectCode string

const (
	ServiceGoingOffline             ServiceDisconnectCode = "GOING_OFFLINE"
	ServiceUnexpectedSequenceNumber ServiceDisconnectCode = "UNEXPECTED_SEQUENCE_NUMBER"
	ServiceEncryptionError          ServiceDisconnectCode = "ENCRYPTION_ERROR"
	ServiceAPIVersionDeprecated     ServiceDisconnectCode = "API_VERSION_DEPRECATED"
	ServiceMessageTampered          ServiceDisconnectCode = "MESSAGE_TAMPERED"
)

// Transport is the pub/sub capability the connection manager drives
// directly for the unencrypted, unsequenced ConnectionFromClient topic
// and the session's subscription set.
type Transport interface {
	Subscribe(fullTopic string) error
	Unsubscribe(fullTopic string) error
	Publish(fullTopic string, payload []byte) error
}

// Config holds the fixed parameters of the connect/backoff protocol.
type Config struct {
	TopicRoot    string
	AWSAccountID string
	ClientID     string
	AckTimeout   time.Duration
	BackoffBase  time.Duration
	MaxBackoff   time.Duration
}

// sessionTopics are subscribed on Connect and unsubscribed on any
// disconnect path.
var sessionTopics = []wire.Topic{wire.Directive, wire.Speaker, wire.CapabilitiesAcknowledge, wire.ConnectionFromService}

// Manager implements the connection lifecycle state machine.
type Manager struct {
	worker.Worker

	log       *log.Logger
	cfg       Config
	transport Transport

	ackTimer     *worker.TimerQueue
	backoffTimer *worker.TimerQueue

	mu       sync.Mutex
	state    State
	retryNum int

	onConnected    func()
	onRejected     func(RejectCode)
	onDisconnected func(ServiceDisconnectCode, string)
}

// New constructs a Manager. The three callbacks are invoked
// synchronously from whichever goroutine observed the triggering
// event (incoming message or explicit Disconnect call). An ack timeout
// invokes none of them; it only schedules the next connect attempt.
func New(cfg Config, transport Transport, onConnected func(), onRejected func(RejectCode), onDisconnected func(ServiceDisconnectCode, string), logger *log.Logger) *Manager {
	m := &Manager{
		log:            logger.WithPrefix("connmgr"),
		cfg:            cfg,
		transport:      transport,
		onConnected:    onConnected,
		onRejected:     onRejected,
		onDisconnected: onDisconnected,
	}
	m.ackTimer = worker.NewTimerQueue(m.onAckTimeout)
	m.backoffTimer = worker.NewTimerQueue(m.onBackoffElapsed)
	return m
}

// Start launches the manager's two deferred-job workers. Call once
// before Connect.
func (m *Manager) Start() {
	m.ackTimer.Start()
	m.backoffTimer.Start()
}

// Halt stops the manager's workers.
func (m *Manager) Halt() {
	m.ackTimer.Halt()
	m.backoffTimer.Halt()
}

// State reports the manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect subscribes to the session topics, publishes Connect, and
// arms the acknowledgement deadline.
func (m *Manager) Connect() error {
	m.mu.Lock()
	m.state = Connecting
	m.mu.Unlock()

	for _, topic := range sessionTopics {
		full, _ := wire.FullTopic(m.cfg.TopicRoot, topic)
		if err := m.transport.Subscribe(full); err != nil {
			return err
		}
	}

	msg, err := wire.NewMessage("Connect", map[string]string{
		"awsAccountId": m.cfg.AWSAccountID,
		"clientId":     m.cfg.ClientID,
	})
	if err != nil {
		return err
	}
	buf, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	full, _ := wire.FullTopic(m.cfg.TopicRoot, wire.ConnectionFromClient)
	if err := m.transport.Publish(full, buf); err != nil {
		return err
	}

	m.ackTimer.Push(uint64(time.Now().Add(m.cfg.AckTimeout).UnixNano()), nil)
	return nil
}

func (m *Manager) onAckTimeout(interface{}) {
	m.mu.Lock()
	if m.state != Connecting {
		m.mu.Unlock()
		return
	}
	n := m.retryNum
	m.retryNum++
	m.mu.Unlock()

	delay := backoff(n, m.cfg.BackoffBase, m.cfg.MaxBackoff)
	m.log.Warnf("connection ack timed out, reconnecting in %s (retry %d)", delay, n)
	m.backoffTimer.Push(uint64(time.Now().Add(delay).UnixNano()), nil)
}

func (m *Manager) onBackoffElapsed(interface{}) {
	if err := m.Connect(); err != nil {
		m.log.Errorf("reconnect attempt failed: %v", err)
	}
}

// backoff implements uniform(0, min(base*2^n, maxBackoff)) full
// jitter.
func backoff(n int, base, maxBackoff time.Duration) time.Duration {
	ceiling := base << uint(n)
	if ceiling <= 0 || ceiling > maxBackoff {
		ceiling = maxBackoff
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceiling)))
}

// OnAcknowledge is the ConnectionHandler callback for a
// ConnectionAcknowledge message arriving on ConnectionFromService.
func (m *Manager) OnAcknowledge(payload json.RawMessage) error {
	var ack struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(payload, &ack); err != nil {
		return err
	}

	m.ackTimer.Pop()

	if ack.Code == "CONNECTION_ESTABLISHED" {
		m.mu.Lock()
		m.state = Connected
		m.retryNum = 0
		m.mu.Unlock()
		m.onConnected()
		return nil
	}

	m.mu.Lock()
	m.state = Disconnected
	m.mu.Unlock()
	m.onRejected(RejectCode(ack.Code))
	return nil
}

// OnDisconnect is the ConnectionHandler callback for a Disconnect
// message arriving on ConnectionFromService.
func (m *Manager) OnDisconnect(payload json.RawMessage) error {
	var d struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(payload, &d); err != nil {
		return err
	}
	m.teardown()
	m.onDisconnected(ServiceDisconnectCode(d.Code), d.Description)
	return nil
}

// Disconnect satisfies dispatcher.Disconnector: the dispatcher tears
// the session down with one of its own typed failure codes.
func (m *Manager) Disconnect(code dispatcher.DisconnectCode) {
	m.teardown()
	if err := m.publishDisconnect(string(code), ""); err != nil {
		m.log.Errorf("failed to publish Disconnect after %v: %v", code, err)
	}
	m.onDisconnected(ServiceDisconnectCode(code), "")
}

// CloseLocally performs a client-initiated disconnect.
func (m *Manager) CloseLocally(description string) error {
	m.teardown()
	return m.publishDisconnect("CLIENT_DISCONNECT", description)
}

func (m *Manager) teardown() {
	m.mu.Lock()
	m.state = Disconnecting
	m.mu.Unlock()

	for _, topic := range sessionTopics {
		full, _ := wire.FullTopic(m.cfg.TopicRoot, topic)
		if err := m.transport.Unsubscribe(full); err != nil {
			m.log.Warnf("unsubscribe from %s failed: %v", full, err)
		}
	}
	m.ackTimer.Pop()

	m.mu.Lock()
	m.state = Disconnected
	m.mu.Unlock()
}

func (m *Manager) publishDisconnect(code, description string) error {
	payload := map[string]string{"code": code}
	if description != "" {
		payload["description"] = description
	}
	msg, err := wire.NewMessage("Disconnect", payload)
	if err != nil {
		return err
	}
	buf, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	full, _ := wire.FullTopic(m.cfg.TopicRoot, wire.ConnectionFromClient)
	return m.transport.Publish(full, buf)
}
