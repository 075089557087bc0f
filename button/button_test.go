package button

import (
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})
}

type capturedEvents struct{ commands []Command }

func (c *capturedEvents) EmitButtonCommandIssued(command Command) error {
	c.commands = append(c.commands, command)
	return nil
}

func TestPressEmitsKnownCommand(t *testing.T) {
	events := &capturedEvents{}
	c := New(events, testLogger())

	require.NoError(t, c.Press(Play))
	require.Equal(t, []Command{Play}, events.commands)
}

func TestPressRejectsUnknownCommand(t *testing.T) {
	events := &capturedEvents{}
	c := New(events, testLogger())

	require.ErrorIs(t, c.Press(Command("REWIND")), ErrUnknownCommand)
	require.Empty(t, events.commands)
}
