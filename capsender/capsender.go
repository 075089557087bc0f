// Package capsender owns the one-shot capabilities publish/acknowledge
// handshake: generate the capabilities document once, hand it to the
// capabilities regulator, and track the service's response.
package capsender

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/nimbusvoice/aiaclient/regulator"
	"github.com/nimbusvoice/aiaclient/wire"
)

// State is the capabilities handshake's progress.
type State uint8

const (
	None State = iota
	Published
	Accepted
	Rejected
)

func (s State) String() string {
	switch s {
	case None:
		return "NONE"
	case Published:
		return "PUBLISHED"
	case Accepted:
		return "ACCEPTED"
	case Rejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// DocumentSource supplies the compile-time-known capabilities document
// to publish. It is consulted fresh on every PublishCapabilities call.
type DocumentSource interface {
	CapabilitiesDocument() (interface{}, error)
}

// Observer is notified once the service responds to a publish.
type Observer interface {
	OnCapabilitiesAccepted() error
	OnCapabilitiesRejected(description string) error
}

// chunk adapts one encoded capabilities document for the regulator.
type chunk struct{ data []byte }

func (c chunk) Size() int     { return len(c.data) }
func (c chunk) Bytes() []byte { return c.data }

// ackPayload is the CapabilitiesAcknowledge directive's payload shape.
type ackPayload struct {
	Accepted    bool   `json:"accepted"`
	Description string `json:"description,omitempty"`
}

// Sender drives the None -> Published -> {Accepted|Rejected} state
// machine. It satisfies dispatcher.DirectiveHandler once bound via
// HandleAcknowledge.
type Sender struct {
	log       *log.Logger
	source    DocumentSource
	regulator *regulator.Regulator
	observer  Observer

	mu    sync.Mutex
	state State
}

// New constructs a Sender.
func New(source DocumentSource, reg *regulator.Regulator, observer Observer, logger *log.Logger) *Sender {
	return &Sender{
		log:       logger.WithPrefix("capsender"),
		source:    source,
		regulator: reg,
		observer:  observer,
	}
}

// State reports the current handshake state.
func (s *Sender) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PublishCapabilities generates the capabilities document and writes
// it to the regulator. It is a no-op while already Published: the
// service has not yet responded, so re-sending would just duplicate
// in-flight work.
func (s *Sender) PublishCapabilities() error {
	s.mu.Lock()
	if s.state == Published {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	doc, err := s.source.CapabilitiesDocument()
	if err != nil {
		return err
	}
	msg, err := wire.NewMessage("Capabilities", doc)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if err := s.regulator.Write(chunk{data: raw}); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = Published
	s.mu.Unlock()
	return nil
}

// HandleAcknowledge is the dispatcher.DirectiveHandler for the
// CapabilitiesAcknowledge array's "CapabilitiesAcknowledge" message.
func (s *Sender) HandleAcknowledge(payload json.RawMessage, _ int, _ uint32, _ int) error {
	var ack ackPayload
	if err := json.Unmarshal(payload, &ack); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == None {
		s.mu.Unlock()
		return errors.New("capsender: acknowledge received before publish")
	}
	if ack.Accepted {
		s.state = Accepted
	} else {
		s.state = Rejected
	}
	s.mu.Unlock()

	if ack.Accepted {
		return s.observer.OnCapabilitiesAccepted()
	}
	return s.observer.OnCapabilitiesRejected(ack.Description)
}
