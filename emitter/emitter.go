// Package emitter owns, per outbound topic, the next sequence number
// and turns aggregated chunks into a fully framed, encrypted wire
// message handed to the transport.
package emitter

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/nimbusvoice/aiaclient/wire"
)

var (
	// ErrIncompleteNonArrayMessage is returned when a JSON non-array
	// topic receives a chunk that isn't the whole message.
	ErrIncompleteNonArrayMessage = errors.New("emitter: non-array JSON topic requires a single complete chunk")
)

// Sealer is the Secret Manager's encryption capability, scoped to the
// one operation the emitter needs.
type Sealer interface {
	Encrypt(topic wire.Topic, sequenceNumber uint32, plaintext []byte) (iv [wire.IVSize]byte, mac [wire.MACSize]byte, ciphertext []byte, err error)
}

// Publisher is the transport's outbound capability.
type Publisher interface {
	Publish(fullTopic string, payload []byte) error
}

// Emitter serializes and publishes messages for a single topic.
type Emitter struct {
	mu sync.Mutex

	topic      wire.Topic
	descriptor wire.Descriptor
	topicRoot  string
	nextSeq    uint32

	sealer    Sealer
	publisher Publisher

	pending []json.RawMessage // array-topic accumulation
	binary  []byte            // binary-topic accumulation
}

// New constructs an Emitter for topic, publishing under topicRoot.
func New(topic wire.Topic, topicRoot string, sealer Sealer, publisher Publisher) (*Emitter, error) {
	d, ok := wire.Describe(topic)
	if !ok {
		return nil, errors.New("emitter: unknown topic")
	}
	return &Emitter{
		topic:      topic,
		descriptor: d,
		topicRoot:  topicRoot,
		sealer:     sealer,
		publisher:  publisher,
	}, nil
}

// NextSequenceNumber returns the sequence number the next full message
// will be assigned, without consuming it. The secret manager's
// rotation handshake reads this to compute padded starting sequence
// numbers for outbound encrypted topics.
func (e *Emitter) NextSequenceNumber() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextSeq
}

// EmitChunk accepts one chunk of a message plus the regulator's
// countdown for the current batch, assembling and publishing a
// complete wire message once the countdown reaches its topic's
// completion point.
func (e *Emitter) EmitChunk(chunk json.RawMessage, remainingChunks int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.descriptor.Form {
	case wire.FormJSON:
		if e.descriptor.ArrayName == "" {
			if remainingChunks != 0 {
				return ErrIncompleteNonArrayMessage
			}
			return e.publishLocked(chunk)
		}
		e.pending = append(e.pending, chunk)
		if remainingChunks == 0 {
			env := &wire.ArrayEnvelope{ArrayName: e.descriptor.ArrayName}
			for _, m := range e.pending {
				env.Messages = append(env.Messages, rawToMessage(m))
			}
			e.pending = nil
			buf, err := env.MarshalJSON()
			if err != nil {
				return err
			}
			return e.publishLocked(buf)
		}
		return nil
	default:
		return errors.New("emitter: use EmitBinaryChunk for binary topics")
	}
}

// EmitBinaryChunk concatenates binary chunks verbatim, publishing once
// remainingChunks reaches zero.
func (e *Emitter) EmitBinaryChunk(chunk []byte, remainingChunks int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.descriptor.Form != wire.FormBinary {
		return errors.New("emitter: use EmitChunk for JSON topics")
	}
	e.binary = append(e.binary, chunk...)
	if remainingChunks != 0 {
		return nil
	}
	payload := e.binary
	e.binary = nil
	return e.publishLocked(payload)
}

func rawToMessage(raw json.RawMessage) *wire.Message {
	var m wire.Message
	if err := json.Unmarshal(raw, &m); err == nil {
		return &m
	}
	// Already a bare payload without a header; this should not happen
	// on a correctly constructed pipeline, but degrade gracefully.
	return &wire.Message{Payload: raw}
}

func (e *Emitter) publishLocked(payload []byte) error {
	seq := e.nextSeq
	e.nextSeq++

	full, ok := wire.FullTopic(e.topicRoot, e.topic)
	if !ok {
		return errors.New("emitter: unknown topic")
	}

	if !e.descriptor.Encrypted {
		return e.publisher.Publish(full, payload)
	}

	plaintext := make([]byte, 4+len(payload))
	putUint32LE(plaintext, seq)
	copy(plaintext[4:], payload)

	iv, mac, ciphertext, err := e.sealer.Encrypt(e.topic, seq, plaintext)
	if err != nil {
		return err
	}
	header := &wire.CommonHeader{SequenceNumber: seq, IV: iv, MAC: mac}
	return e.publisher.Publish(full, header.Encode(ciphertext))
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
