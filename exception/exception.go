// Package exception turns locally detected protocol faults and
// service-reported Exception directives into ExceptionEncountered
// events.
package exception

import (
	"encoding/json"

	"github.com/charmbracelet/log"

	"github.com/nimbusvoice/aiaclient/wire"
)

// Code is the typed error kind carried on an ExceptionEncountered
// event.
type Code string

const (
	CodeMalformedMessage Code = "MalformedMessage"
)

// messageRef names the inbound message an exception was raised
// against.
type messageRef struct {
	Topic          string `json:"topic"`
	SequenceNumber uint32 `json:"sequenceNumber,omitempty"`
	Index          int    `json:"index,omitempty"`
}

type exceptionPayload struct {
	Error   struct{ Code Code } `json:"error"`
	Message *messageRef         `json:"message,omitempty"`
}

// EventEmitter publishes the ExceptionEncountered event.
type EventEmitter interface {
	EmitExceptionEncountered(payload interface{}) error
}

// directivePayload is the service-reported Exception directive shape.
type directivePayload struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// Reporter implements dispatcher.ExceptionEmitter (locally detected
// faults) and the Exception directive handler (service-reported
// faults), both funneling into the same event emitter.
type Reporter struct {
	log    *log.Logger
	events EventEmitter
}

// New constructs a Reporter.
func New(events EventEmitter, logger *log.Logger) *Reporter {
	return &Reporter{log: logger.WithPrefix("exception"), events: events}
}

// EmitMalformedMessage satisfies dispatcher.ExceptionEmitter: a
// locally parsed inbound message on topic failed validation.
func (r *Reporter) EmitMalformedMessage(topic wire.Topic) error {
	descriptor, _ := wire.Describe(topic)
	payload := exceptionPayload{Message: &messageRef{Topic: descriptor.Leaf}}
	payload.Error.Code = CodeMalformedMessage
	return r.events.EmitExceptionEncountered(payload)
}

// HandleExceptionDirective is the dispatcher.DirectiveHandler for the
// service-reported "Exception" directive: it logs the report and
// re-emits it as an ExceptionEncountered event so host UX can surface it.
func (r *Reporter) HandleExceptionDirective(payload json.RawMessage, _ int, _ uint32, _ int) error {
	var d directivePayload
	if err := json.Unmarshal(payload, &d); err != nil {
		return err
	}
	r.log.Warnf("service reported exception %q: %s", d.Code, d.Description)

	out := exceptionPayload{}
	out.Error.Code = Code(d.Code)
	return r.events.EmitExceptionEncountered(out)
}
