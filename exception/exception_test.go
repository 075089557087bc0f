package exception

import (
	"encoding/json"
	"os"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/nimbusvoice/aiaclient/wire"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})
}

type capturedEvents struct {
	mu       sync.Mutex
	payloads []interface{}
}

func (c *capturedEvents) EmitExceptionEncountered(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return nil
}

func TestMalformedMessageReportsTopic(t *testing.T) {
	events := &capturedEvents{}
	r := New(events, testLogger())

	require.NoError(t, r.EmitMalformedMessage(wire.Directive))

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.payloads, 1)
	p := events.payloads[0].(exceptionPayload)
	require.Equal(t, CodeMalformedMessage, p.Error.Code)
	require.Equal(t, "directive", p.Message.Topic)
}

func TestExceptionDirectiveReemitsAsEvent(t *testing.T) {
	events := &capturedEvents{}
	r := New(events, testLogger())

	payload, _ := json.Marshal(directivePayload{Code: "SERVICE_UNAVAILABLE", Description: "backend down"})
	require.NoError(t, r.HandleExceptionDirective(payload, len(payload), 0, 0))

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.payloads, 1)
	p := events.payloads[0].(exceptionPayload)
	require.Equal(t, Code("SERVICE_UNAVAILABLE"), p.Error.Code)
}
