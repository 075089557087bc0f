// Package secretmgr holds the ordered history of shared secrets keyed
// by per-topic starting sequence numbers, selects the correct secret
// for any (topic, sequence) pair, and drives the secret-rotation
// handshake.
package secretmgr

import (
	"encoding/base64"
	"errors"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/nimbusvoice/aiaclient/cryptoprim"
	"github.com/nimbusvoice/aiaclient/wire"
)

// rotationPadding is added to an outbound topic's current next
// sequence number when a rotation carves out its new starting point,
// leaving room for in-flight messages already assigned lower numbers.
const rotationPadding = 5

// outboundEncryptedTopics are the topics whose new starting sequence
// number on rotation is derived from the emitter rather than given
// explicitly by the directive.
var outboundEncryptedTopics = []wire.Topic{wire.Event, wire.Microphone, wire.CapabilitiesPublish}

// ErrNoSecret is returned when encrypt/decrypt is attempted before any
// secret has been provisioned.
var ErrNoSecret = errors.New("secretmgr: no secret provisioned for topic/sequence")

// SequenceSource reports the next sequence number an emitter will
// assign, used to compute rotation starting points for outbound topics.
type SequenceSource interface {
	NextSequenceNumber() uint32
}

// EventEmitter publishes the SecretRotated event once a rotation's new
// starting sequence numbers are known.
type EventEmitter interface {
	EmitSecretRotated(startingSequenceNumbers map[wire.Topic]uint32) error
}

// Persister durably records the secret history so a restart can
// resume mid-session without forcing re-registration.
type Persister interface {
	StoreSecrets(records []*SecretRecord) error
}

// AEADFactory constructs an AEAD primitive bound to secret.
type AEADFactory func(secret []byte) (cryptoprim.AEAD, error)

// SecretRecord is one entry in the ordered secret history.
type SecretRecord struct {
	Secret                 []byte
	StartingSequenceNumber map[wire.Topic]uint32
}

// Manager implements the secret-keyed encrypt/decrypt operations and
// the RotateSecret directive handshake.
type Manager struct {
	mu sync.Mutex

	log *log.Logger

	records []*SecretRecord
	current *SecretRecord
	aead    cryptoprim.AEAD

	aeadFactory AEADFactory
	random      cryptoprim.RandomSource
	storage     Persister
	sequencers  map[wire.Topic]SequenceSource
	events      EventEmitter
}

// New constructs a Manager. sequencers supplies, per outbound
// encrypted topic, the emitter whose NextSequenceNumber computes
// rotation starting points.
func New(aeadFactory AEADFactory, random cryptoprim.RandomSource, storage Persister, sequencers map[wire.Topic]SequenceSource, events EventEmitter, logger *log.Logger) *Manager {
	return &Manager{
		log:         logger.WithPrefix("secretmgr"),
		aeadFactory: aeadFactory,
		random:      random,
		storage:     storage,
		sequencers:  sequencers,
		events:      events,
	}
}

// Provision installs the initial secret record obtained during
// registration, with all starting sequence numbers at zero.
func (m *Manager) Provision(secret []byte) error {
	rec := &SecretRecord{
		Secret:                 secret,
		StartingSequenceNumber: map[wire.Topic]uint32{},
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return m.storage.StoreSecrets(m.records)
}

// Restore installs a secret history recovered from persistent storage
// by a prior session, without re-persisting it. records must be
// ordered oldest-first, matching what StoreSecrets last wrote.
func (m *Manager) Restore(records []*SecretRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
	m.current = nil
	m.aead = nil
}

// Encrypt seals plaintext for topic at seq, selecting the record whose
// starting sequence number for topic is the largest not exceeding seq.
func (m *Manager) Encrypt(topic wire.Topic, seq uint32, plaintext []byte) (iv [wire.IVSize]byte, mac [wire.MACSize]byte, ciphertext []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.aeadForLocked(topic, seq)
	if err != nil {
		return iv, mac, nil, err
	}
	iv, err = cryptoprim.NewIV(m.random)
	if err != nil {
		return iv, mac, nil, err
	}
	mac, ciphertext, err = a.Seal(iv, plaintext)
	return iv, mac, ciphertext, err
}

// Decrypt opens ciphertext for topic at seq under the caller-provided
// iv and mac.
func (m *Manager) Decrypt(topic wire.Topic, seq uint32, iv [wire.IVSize]byte, mac [wire.MACSize]byte, ciphertext []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.aeadForLocked(topic, seq)
	if err != nil {
		return nil, err
	}
	return a.Open(iv, mac, ciphertext)
}

// aeadForLocked selects (and, if needed, rekeys to) the record
// governing topic at seq. Callers must hold m.mu.
func (m *Manager) aeadForLocked(topic wire.Topic, seq uint32) (cryptoprim.AEAD, error) {
	rec := m.selectLocked(topic, seq)
	if rec == nil {
		return nil, ErrNoSecret
	}
	if rec == m.current {
		return m.aead, nil
	}
	a, err := m.aeadFactory(rec.Secret)
	if err != nil {
		return nil, err
	}
	m.current = rec
	m.aead = a
	return a, nil
}

// selectLocked linear-scans the record list for the one with the
// largest startingSequenceNumber[topic] <= seq. Records not yet
// carrying a starting sequence number for topic are treated as 0
// (they predate that topic's first rotation).
func (m *Manager) selectLocked(topic wire.Topic, seq uint32) *SecretRecord {
	var best *SecretRecord
	var bestStart uint32
	haveBest := false
	for _, rec := range m.records {
		start := rec.StartingSequenceNumber[topic]
		if start > seq {
			continue
		}
		if !haveBest || start >= bestStart {
			best = rec
			bestStart = start
			haveBest = true
		}
	}
	return best
}

// RotateSecret handles the RotateSecret directive: newSecretB64 is the
// base64-encoded replacement secret; directiveSeq/speakerSeq are the
// new starting sequence numbers the service has already committed to
// for the Directive and Speaker topics. Outbound encrypted topics get
// the emitter's current next sequence number plus rotationPadding.
func (m *Manager) RotateSecret(newSecretB64 string, directiveSeq, speakerSeq uint32) error {
	secret, err := base64.StdEncoding.DecodeString(newSecretB64)
	if err != nil {
		return err
	}

	m.mu.Lock()

	rec := &SecretRecord{
		Secret: secret,
		StartingSequenceNumber: map[wire.Topic]uint32{
			wire.Directive: directiveSeq,
			wire.Speaker:   speakerSeq,
		},
	}
	for _, topic := range outboundEncryptedTopics {
		src, ok := m.sequencers[topic]
		if !ok {
			m.mu.Unlock()
			return errors.New("secretmgr: no sequence source registered for outbound topic")
		}
		rec.StartingSequenceNumber[topic] = src.NextSequenceNumber() + rotationPadding
	}

	m.records = append(m.records, rec)
	if err := m.storage.StoreSecrets(m.records); err != nil {
		m.records = m.records[:len(m.records)-1]
		m.mu.Unlock()
		return err
	}

	outbound := make(map[wire.Topic]uint32, len(outboundEncryptedTopics))
	for _, topic := range outboundEncryptedTopics {
		outbound[topic] = rec.StartingSequenceNumber[topic]
	}
	m.mu.Unlock()

	if err := m.events.EmitSecretRotated(outbound); err != nil {
		m.log.Warnf("SecretRotated publish failed, reverting rotation: %v", err)
		m.mu.Lock()
		// Pop the in-memory record to match the reverted persisted
		// state: a rotation the service never heard about must not
		// linger as the active key, or encrypt/decrypt would diverge
		// from what the service still expects.
		m.records = m.records[:len(m.records)-1]
		if m.current == rec {
			m.current = nil
			m.aead = nil
		}
		revertErr := m.storage.StoreSecrets(m.records)
		m.mu.Unlock()
		if revertErr != nil {
			m.log.Errorf("failed to revert persisted secret after failed rotation publish: %v", revertErr)
		}
		return err
	}
	return nil
}
