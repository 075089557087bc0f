package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFullTopicAndLeaf(t *testing.T) {
	full, ok := FullTopic("device-123", Event)
	require.True(t, ok)
	require.Equal(t, "device-123/event", full)

	topic, ok := Leaf("device-123", full)
	require.True(t, ok)
	require.Equal(t, Event, topic)
}

func TestLeafRejectsForeignRoot(t *testing.T) {
	_, ok := Leaf("device-123", "other-device/event")
	require.False(t, ok)
}

func TestCommonHeaderRoundTrip(t *testing.T) {
	h := &CommonHeader{SequenceNumber: 7}
	h.IV[0] = 0xAB
	h.MAC[0] = 0xCD
	ciphertext := []byte("hello ciphertext")

	encoded := h.Encode(ciphertext)
	require.Len(t, encoded, CommonHeaderSize+len(ciphertext))

	decoded, rest, err := DecodeCommonHeader(encoded)
	require.NoError(t, err)
	require.Equal(t, uint32(7), decoded.SequenceNumber)
	require.Equal(t, byte(0xAB), decoded.IV[0])
	require.Equal(t, byte(0xCD), decoded.MAC[0])
	require.Equal(t, ciphertext, rest)
}

func TestDecodeCommonHeaderShort(t *testing.T) {
	_, _, err := DecodeCommonHeader(make([]byte, CommonHeaderSize-1))
	require.ErrorIs(t, err, ErrShortHeader)
}

func TestBinaryMessageRoundTrip(t *testing.T) {
	m := &BinaryMessage{Type: BinaryContent, Count: 1, Data: []byte{1, 2, 3, 4}}
	encoded := m.Encode()

	decoded, n, err := DecodeBinaryMessage(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, m.Type, decoded.Type)
	require.Equal(t, m.Data, decoded.Data)
}

func TestDecodeBinaryMessageTruncated(t *testing.T) {
	m := &BinaryMessage{Type: BinaryContent, Data: []byte{1, 2, 3, 4}}
	encoded := m.Encode()
	_, _, err := DecodeBinaryMessage(encoded[:len(encoded)-1])
	require.ErrorIs(t, err, ErrShortBinaryMessage)
}

func TestArrayEnvelopeRoundTrip(t *testing.T) {
	msg, err := NewMessage("MicrophoneClosed", map[string]int{"offset": 42})
	require.NoError(t, err)

	env := &ArrayEnvelope{ArrayName: "events", Messages: []*Message{msg}}
	buf, err := env.MarshalJSON()
	require.NoError(t, err)

	msgs, err := UnmarshalArray("events", buf)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "MicrophoneClosed", msgs[0].Header.Name)
}
