// Package dispatcher demultiplexes incoming transport messages by
// topic, reassembles them through the per-topic sequencer, decrypts
// and tamper-checks the result, and routes the payload to a
// registered directive handler or the speaker sink.
package dispatcher

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/nimbusvoice/aiaclient/sequencer"
	"github.com/nimbusvoice/aiaclient/wire"
)

// DisconnectCode is the typed reason the dispatcher hands to the
// connection manager when it must tear the session down.
type DisconnectCode string

const (
	DisconnectEncryptionError          DisconnectCode = "ENCRYPTION_ERROR"
	DisconnectMessageTampered          DisconnectCode = "MESSAGE_TAMPERED"
	DisconnectUnexpectedSequenceNumber DisconnectCode = "UNEXPECTED_SEQUENCE_NUMBER"
)

// Decryptor is the Secret Manager's decrypt capability.
type Decryptor interface {
	Decrypt(topic wire.Topic, seq uint32, iv [wire.IVSize]byte, mac [wire.MACSize]byte, ciphertext []byte) ([]byte, error)
}

// ConnectionHandler receives the two named messages that can arrive
// on the unencrypted, unsequenced ConnectionFromService topic.
type ConnectionHandler interface {
	OnAcknowledge(payload json.RawMessage) error
	OnDisconnect(payload json.RawMessage) error
}

// DirectiveHandler processes one decoded array element. index is its
// position within the array envelope.
type DirectiveHandler func(payload json.RawMessage, payloadLen int, sequenceNumber uint32, index int) error

// SpeakerSink receives decrypted Speaker binary bodies.
type SpeakerSink interface {
	HandleSpeakerData(sequenceNumber uint32, body []byte)
}

// ExceptionEmitter reports a malformed inbound message as an
// ExceptionEncountered event, tagged with the topic it arrived on.
type ExceptionEmitter interface {
	EmitMalformedMessage(topic wire.Topic) error
}

// Disconnector tears the session down with a typed reason.
type Disconnector interface {
	Disconnect(code DisconnectCode)
}

// Dispatcher routes one client session's inbound traffic.
type Dispatcher struct {
	log *log.Logger

	topicRoot string

	decryptor    Decryptor
	connHandler  ConnectionHandler
	exceptions   ExceptionEmitter
	disconnector Disconnector

	mu                sync.RWMutex
	sequencers        map[wire.Topic]*sequencer.Sequencer
	directiveHandlers map[wire.Topic]map[string]DirectiveHandler
	speakerSink       SpeakerSink
}

// New constructs a Dispatcher. Sequencers for the encrypted inbound
// topics (Directive, CapabilitiesAcknowledge, Speaker) are added
// afterward via WireSequencer.
func New(topicRoot string, decryptor Decryptor, connHandler ConnectionHandler, exceptions ExceptionEmitter, disconnector Disconnector, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		log:               logger.WithPrefix("dispatcher"),
		topicRoot:         topicRoot,
		decryptor:         decryptor,
		connHandler:       connHandler,
		exceptions:        exceptions,
		disconnector:      disconnector,
		sequencers:        map[wire.Topic]*sequencer.Sequencer{},
		directiveHandlers: map[wire.Topic]map[string]DirectiveHandler{},
	}
}

// WireSequencer installs the sequencer that governs topic's reordering
// window. It must be called before OnMessage delivers anything for
// that topic.
func (d *Dispatcher) WireSequencer(topic wire.Topic, s *sequencer.Sequencer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sequencers[topic] = s
}

// RegisterDirectiveHandler binds name (the JSON message header's
// "name" field) on topic's array envelope to handler.
func (d *Dispatcher) RegisterDirectiveHandler(topic wire.Topic, name string, handler DirectiveHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	handlers, ok := d.directiveHandlers[topic]
	if !ok {
		handlers = map[string]DirectiveHandler{}
		d.directiveHandlers[topic] = handlers
	}
	handlers[name] = handler
}

// SetSpeakerSink installs the binary Speaker body consumer.
func (d *Dispatcher) SetSpeakerSink(sink SpeakerSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speakerSink = sink
}

// OnMessage handles one raw transport delivery on fullTopic.
func (d *Dispatcher) OnMessage(fullTopic string, payload []byte) error {
	topic, ok := wire.Leaf(d.topicRoot, fullTopic)
	if !ok {
		d.log.Debugf("discarding message on unknown topic %q", fullTopic)
		return nil
	}
	descriptor, ok := wire.Describe(topic)
	if !ok || descriptor.Direction == wire.Outbound {
		return nil
	}

	if topic == wire.ConnectionFromService {
		return d.handleConnectionFromService(payload)
	}

	d.mu.RLock()
	seq, ok := d.sequencers[topic]
	d.mu.RUnlock()
	if !ok {
		return errors.New("dispatcher: no sequencer wired for topic")
	}
	return seq.Write(payload)
}

func (d *Dispatcher) handleConnectionFromService(payload []byte) error {
	var msg wire.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	switch msg.Header.Name {
	case "ConnectionAcknowledge":
		return d.connHandler.OnAcknowledge(msg.Payload)
	case "Disconnect":
		return d.connHandler.OnDisconnect(msg.Payload)
	default:
		d.log.Warnf("unknown ConnectionFromService message %q", msg.Header.Name)
		return nil
	}
}

// HandleSequenced returns the sequencer onSequenced callback for
// topic: decrypt, tamper-check, and route the plaintext body. The
// owning facade passes this to the sequencer it constructs for topic.
func (d *Dispatcher) HandleSequenced(topic wire.Topic) func([]byte) {
	return func(buf []byte) {
		if len(buf) < wire.CommonHeaderSize {
			if err := d.exceptions.EmitMalformedMessage(topic); err != nil {
				d.log.Errorf("failed to emit MalformedMessage: %v", err)
			}
			return
		}
		header, ciphertext, err := wire.DecodeCommonHeader(buf)
		if err != nil {
			if err := d.exceptions.EmitMalformedMessage(topic); err != nil {
				d.log.Errorf("failed to emit MalformedMessage: %v", err)
			}
			return
		}

		plaintext, err := d.decryptor.Decrypt(topic, header.SequenceNumber, header.IV, header.MAC, ciphertext)
		if err != nil {
			d.log.Errorf("decrypt failed on %v seq=%d: %v", topic, header.SequenceNumber, err)
			d.disconnector.Disconnect(DisconnectEncryptionError)
			return
		}
		if len(plaintext) < 4 {
			if err := d.exceptions.EmitMalformedMessage(topic); err != nil {
				d.log.Errorf("failed to emit MalformedMessage: %v", err)
			}
			return
		}
		encSeq := binary.LittleEndian.Uint32(plaintext[0:4])
		if encSeq != header.SequenceNumber {
			d.log.Errorf("sequence number tampered on %v: plain=%d enc=%d", topic, header.SequenceNumber, encSeq)
			d.disconnector.Disconnect(DisconnectMessageTampered)
			return
		}
		body := plaintext[4:]

		descriptor, _ := wire.Describe(topic)
		switch descriptor.Form {
		case wire.FormJSON:
			d.routeJSONArray(topic, descriptor.ArrayName, header.SequenceNumber, body)
		case wire.FormBinary:
			d.mu.RLock()
			sink := d.speakerSink
			d.mu.RUnlock()
			if sink != nil {
				sink.HandleSpeakerData(header.SequenceNumber, body)
			}
		}
	}
}

func (d *Dispatcher) routeJSONArray(topic wire.Topic, arrayName string, sequenceNumber uint32, body []byte) {
	messages, err := wire.UnmarshalArray(arrayName, body)
	if err != nil {
		if err := d.exceptions.EmitMalformedMessage(topic); err != nil {
			d.log.Errorf("failed to emit MalformedMessage: %v", err)
		}
		return
	}

	d.mu.RLock()
	handlers := d.directiveHandlers[topic]
	d.mu.RUnlock()

	for i, msg := range messages {
		handler, ok := handlers[msg.Header.Name]
		if !ok {
			d.log.Warnf("no handler registered for %v message %q", topic, msg.Header.Name)
			if err := d.exceptions.EmitMalformedMessage(topic); err != nil {
				d.log.Errorf("failed to emit MalformedMessage: %v", err)
			}
			continue
		}
		if err := handler(msg.Payload, len(msg.Payload), sequenceNumber, i); err != nil {
			d.log.Errorf("handler for %v %q failed: %v", topic, msg.Header.Name, err)
		}
	}
}

// OnSequencerTimeout is the onTimeout callback bound to every
// sequencer this dispatcher wires: the head of that topic's window
// never arrived, so the session is no longer recoverable.
func (d *Dispatcher) OnSequencerTimeout() {
	d.disconnector.Disconnect(DisconnectUnexpectedSequenceNumber)
}
