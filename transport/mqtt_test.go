package transport

import (
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (f *fakeMessage) Duplicate() bool   { return false }
func (f *fakeMessage) Qos() byte         { return 1 }
func (f *fakeMessage) Retained() bool    { return false }
func (f *fakeMessage) Topic() string     { return f.topic }
func (f *fakeMessage) MessageID() uint16 { return 0 }
func (f *fakeMessage) Payload() []byte   { return f.payload }
func (f *fakeMessage) Ack()              {}

func TestOnMessageRoutesToRegisteredHandler(t *testing.T) {
	var gotTopic string
	var gotPayload []byte
	c := New(Config{BrokerURL: "tcp://localhost:1883", ClientID: "test", ConnectTimeout: time.Second}, func(topic string, payload []byte) {
		gotTopic = topic
		gotPayload = payload
	}, testLogger())

	c.onMessage(nil, &fakeMessage{topic: "aia/device-1/directive", payload: []byte("hello")})

	require.Equal(t, "aia/device-1/directive", gotTopic)
	require.Equal(t, []byte("hello"), gotPayload)
}

func TestOnMessageWithNoHandlerDoesNotPanic(t *testing.T) {
	c := New(Config{BrokerURL: "tcp://localhost:1883", ClientID: "test", ConnectTimeout: time.Second}, nil, testLogger())
	require.NotPanics(t, func() {
		c.onMessage(nil, &fakeMessage{topic: "aia/device-1/directive", payload: []byte("hello")})
	})
}
