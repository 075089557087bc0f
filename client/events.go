package client

import (
	"encoding/json"

	"github.com/nimbusvoice/aiaclient/alert"
	"github.com/nimbusvoice/aiaclient/button"
	"github.com/nimbusvoice/aiaclient/microphone"
	"github.com/nimbusvoice/aiaclient/regulator"
	"github.com/nimbusvoice/aiaclient/speaker"
	"github.com/nimbusvoice/aiaclient/wire"
)

// eventChunk adapts one marshaled event message for the event
// regulator, mirroring capsender's and microphone's own chunk types.
type eventChunk struct{ data []byte }

func (c eventChunk) Size() int     { return len(c.data) }
func (c eventChunk) Bytes() []byte { return c.data }

// eventBus is the single regulator-backed fan-in for every component's
// named events. It satisfies each component's narrow EventEmitter
// capability interface by marshaling to the shared {header, payload}
// wire shape and handing the result to the Event topic's regulator, so
// no one component owns the outbound event path.
type eventBus struct {
	reg *regulator.Regulator
}

func (b *eventBus) publish(name string, payload interface{}) error {
	msg, err := wire.NewMessage(name, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.reg.Write(eventChunk{data: raw})
}

// microphone.EventEmitter

func (b *eventBus) EmitMicrophoneOpened(offset uint64, profile string, initiator microphone.Initiator) error {
	return b.publish("MicrophoneOpened", struct {
		Offset    uint64               `json:"offset"`
		Profile   string               `json:"profile,omitempty"`
		Initiator microphone.Initiator `json:"initiator"`
	}{Offset: offset, Profile: profile, Initiator: initiator})
}

func (b *eventBus) EmitMicrophoneClosed(offset uint64) error {
	return b.publish("MicrophoneClosed", struct {
		Offset uint64 `json:"offset"`
	}{Offset: offset})
}

func (b *eventBus) EmitOpenMicrophoneTimedOut() error {
	return b.publish("OpenMicrophoneTimedOut", struct{}{})
}

// speaker.EventEmitter

func (b *eventBus) EmitSpeakerOpened() error { return b.publish("SpeakerOpened", struct{}{}) }

func (b *eventBus) EmitSpeakerClosed() error { return b.publish("SpeakerClosed", struct{}{}) }

func (b *eventBus) EmitSpeakerMarkerEncountered(offset uint64) error {
	return b.publish("SpeakerMarkerEncountered", struct {
		Offset uint64 `json:"offset"`
	}{Offset: offset})
}

func (b *eventBus) EmitBufferStateChanged(state speaker.BufferState) error {
	return b.publish("BufferStateChanged", struct {
		State speaker.BufferState `json:"state"`
	}{State: state})
}

// secretmgr.EventEmitter

type secretRotatedPayload struct {
	SequenceNumber           uint32  `json:"sequenceNumber"`
	MicrophoneSequenceNumber *uint32 `json:"microphoneSequenceNumber,omitempty"`
}

func (b *eventBus) EmitSecretRotated(startingSequenceNumbers map[wire.Topic]uint32) error {
	payload := secretRotatedPayload{SequenceNumber: startingSequenceNumbers[wire.Event]}
	if v, ok := startingSequenceNumbers[wire.Microphone]; ok {
		payload.MicrophoneSequenceNumber = &v
	}
	return b.publish("SecretRotated", payload)
}

// exception.EventEmitter

func (b *eventBus) EmitExceptionEncountered(payload interface{}) error {
	return b.publish("ExceptionEncountered", payload)
}

// ux.EventEmitter

func (b *eventBus) EmitVolumeChanged(level int) error {
	return b.publish("VolumeChanged", struct {
		Level int `json:"level"`
	}{Level: level})
}

// alert.EventEmitter

func (b *eventBus) EmitSetAlertSucceeded(token alert.Token) error {
	return b.publish("SetAlertSucceeded", struct {
		Token alert.Token `json:"token"`
	}{Token: token})
}

func (b *eventBus) EmitSetAlertFailed(token alert.Token, reason string) error {
	return b.publish("SetAlertFailed", struct {
		Token  alert.Token `json:"token"`
		Reason string      `json:"reason"`
	}{Token: token, Reason: reason})
}

func (b *eventBus) EmitDeleteAlertSucceeded(token alert.Token) error {
	return b.publish("DeleteAlertSucceeded", struct {
		Token alert.Token `json:"token"`
	}{Token: token})
}

func (b *eventBus) EmitDeleteAlertFailed(token alert.Token, reason string) error {
	return b.publish("DeleteAlertFailed", struct {
		Token  alert.Token `json:"token"`
		Reason string      `json:"reason"`
	}{Token: token, Reason: reason})
}

func (b *eventBus) EmitAlertVolumeChanged(level int) error {
	return b.publish("AlertVolumeChanged", struct {
		Level int `json:"level"`
	}{Level: level})
}

// button.EventEmitter

func (b *eventBus) EmitButtonCommandIssued(command button.Command) error {
	return b.publish("ButtonCommandIssued", struct {
		Command button.Command `json:"command"`
	}{Command: command})
}

// clockmgr.EventEmitter

func (b *eventBus) EmitSynchronizeClock() error {
	return b.publish("SynchronizeClock", struct{}{})
}

// synchronizeStatePayload is SynchronizeState's wire shape: it
// combines ux's volume and alert's token set, so the facade (not
// either leaf component) assembles and publishes it.
type synchronizeStatePayload struct {
	Speaker *speakerState `json:"speaker,omitempty"`
	Alerts  *alertsState  `json:"alerts,omitempty"`
}

type speakerState struct {
	Volume int `json:"volume"`
}

type alertsState struct {
	AllAlerts []alert.Token `json:"allAlerts"`
}
