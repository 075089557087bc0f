package capsender

import (
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/nimbusvoice/aiaclient/regulator"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})
}

type fakeSource struct{ doc map[string]string }

func (f *fakeSource) CapabilitiesDocument() (interface{}, error) { return f.doc, nil }

type fakeObserver struct {
	mu          sync.Mutex
	accepted    int
	rejected    int
	description string
}

func (f *fakeObserver) OnCapabilitiesAccepted() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted++
	return nil
}

func (f *fakeObserver) OnCapabilitiesRejected(description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected++
	f.description = description
	return nil
}

func newTestSender(t *testing.T, published *[][]byte, mu *sync.Mutex) *Sender {
	reg := regulator.New(4096, 5*time.Millisecond, regulator.Burst, func(c regulator.Chunk, remBytes, remChunks int) regulator.Result {
		mu.Lock()
		*published = append(*published, c.(chunk).data)
		mu.Unlock()
		return regulator.Result{}
	}, testLogger())
	reg.Start()
	t.Cleanup(reg.Halt)

	source := &fakeSource{doc: map[string]string{"speaker": "enabled"}}
	observer := &fakeObserver{}
	return New(source, reg, observer, testLogger())
}

func TestPublishCapabilitiesIsIdempotentWhilePublished(t *testing.T) {
	var published [][]byte
	var mu sync.Mutex
	s := newTestSender(t, &published, &mu)

	require.NoError(t, s.PublishCapabilities())
	require.Equal(t, Published, s.State())
	require.NoError(t, s.PublishCapabilities())

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 1)
}

func TestAcknowledgeAcceptedNotifiesObserver(t *testing.T) {
	var published [][]byte
	var mu sync.Mutex
	s := newTestSender(t, &published, &mu)
	observer := s.observer.(*fakeObserver)

	require.NoError(t, s.PublishCapabilities())
	payload, _ := json.Marshal(ackPayload{Accepted: true})
	require.NoError(t, s.HandleAcknowledge(payload, len(payload), 0, 0))

	require.Equal(t, Accepted, s.State())
	require.Equal(t, 1, observer.accepted)
}

func TestAcknowledgeRejectedNotifiesObserverWithDescription(t *testing.T) {
	var published [][]byte
	var mu sync.Mutex
	s := newTestSender(t, &published, &mu)
	observer := s.observer.(*fakeObserver)

	require.NoError(t, s.PublishCapabilities())
	payload, _ := json.Marshal(ackPayload{Accepted: false, Description: "unsupported profile"})
	require.NoError(t, s.HandleAcknowledge(payload, len(payload), 0, 0))

	require.Equal(t, Rejected, s.State())
	require.Equal(t, 1, observer.rejected)
	require.Equal(t, "unsupported profile", observer.description)
}

func TestAcknowledgeBeforePublishErrors(t *testing.T) {
	var published [][]byte
	var mu sync.Mutex
	s := newTestSender(t, &published, &mu)

	payload, _ := json.Marshal(ackPayload{Accepted: true})
	require.Error(t, s.HandleAcknowledge(payload, len(payload), 0, 0))
}
