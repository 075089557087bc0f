package ux

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})
}

type fakeVolumeHost struct{ applied int }

func (f *fakeVolumeHost) SetVolume(level int) error {
	f.applied = level
	return nil
}

type fakeObserver struct{ states []AttentionState }

func (f *fakeObserver) OnAttentionStateChanged(state AttentionState) error {
	f.states = append(f.states, state)
	return nil
}

type capturedEvents struct {
	volumeChanges []int
}

func (c *capturedEvents) EmitVolumeChanged(level int) error {
	c.volumeChanges = append(c.volumeChanges, level)
	return nil
}

func TestHandleSetAttentionStateNotifiesObserver(t *testing.T) {
	host := &fakeVolumeHost{}
	observer := &fakeObserver{}
	events := &capturedEvents{}
	m := New(host, observer, events, testLogger())

	payload, _ := json.Marshal(setAttentionStatePayload{State: "LISTENING"})
	require.NoError(t, m.HandleSetAttentionState(payload, len(payload), 0, 0))

	require.Equal(t, AttentionState("LISTENING"), m.AttentionState())
	require.Equal(t, []AttentionState{"LISTENING"}, observer.states)
}

func TestHandleSetVolumeAppliesAndEmits(t *testing.T) {
	host := &fakeVolumeHost{}
	observer := &fakeObserver{}
	events := &capturedEvents{}
	m := New(host, observer, events, testLogger())

	payload, _ := json.Marshal(setVolumePayload{Level: 7})
	require.NoError(t, m.HandleSetVolume(payload, len(payload), 0, 0))

	require.Equal(t, 7, host.applied)
	require.Equal(t, []int{7}, events.volumeChanges)
}

func TestCurrentVolumeReportsUnsetUntilApplied(t *testing.T) {
	host := &fakeVolumeHost{}
	observer := &fakeObserver{}
	events := &capturedEvents{}
	m := New(host, observer, events, testLogger())

	_, ok := m.CurrentVolume()
	require.False(t, ok)

	payload, _ := json.Marshal(setVolumePayload{Level: 3})
	require.NoError(t, m.HandleSetVolume(payload, len(payload), 0, 0))
	level, ok := m.CurrentVolume()
	require.True(t, ok)
	require.Equal(t, 3, level)
}
