// Package button turns host transport-control button presses into
// ButtonCommandIssued events.
package button

import (
	"errors"

	"github.com/charmbracelet/log"
)

// Command is one of the transport-control commands a physical button
// can issue.
type Command string

const (
	Play     Command = "PLAY"
	Next     Command = "NEXT"
	Previous Command = "PREVIOUS"
	Stop     Command = "STOP"
	Pause    Command = "PAUSE"
)

// ErrUnknownCommand is returned when Press is called with a command
// outside the known set.
var ErrUnknownCommand = errors.New("button: unknown command")

// EventEmitter publishes the ButtonCommandIssued event.
type EventEmitter interface {
	EmitButtonCommandIssued(command Command) error
}

// Commander validates and forwards host button presses.
type Commander struct {
	log    *log.Logger
	events EventEmitter
}

// New constructs a Commander.
func New(events EventEmitter, logger *log.Logger) *Commander {
	return &Commander{log: logger.WithPrefix("button"), events: events}
}

// Press validates command and emits ButtonCommandIssued.
func (c *Commander) Press(command Command) error {
	switch command {
	case Play, Next, Previous, Stop, Pause:
	default:
		return ErrUnknownCommand
	}
	return c.events.EmitButtonCommandIssued(command)
}
