package wire

import (
	"encoding/binary"
	"errors"
)

const (
	// IVSize is the AES-GCM nonce length mandated by the spec (96 bits).
	IVSize = 12
	// MACSize is the AES-GCM tag length mandated by the spec (128 bits).
	MACSize = 16
	// CommonHeaderSize is the byte length of the plaintext framing that
	// precedes every encrypted topic's ciphertext.
	CommonHeaderSize = 4 + IVSize + MACSize
)

// ErrShortHeader is returned when a payload is too small to contain a
// common header.
var ErrShortHeader = errors.New("wire: payload shorter than common header")

// CommonHeader is the little-endian framing for encrypted topics:
//
//	[ u32 sequenceNumber_plain ][ 12-byte IV ][ 16-byte MAC ][ ciphertext... ]
//
// The ciphertext, once decrypted, begins with its own copy of the
// sequence number so tamper detection does not depend solely on the
// AEAD tag.
type CommonHeader struct {
	SequenceNumber uint32
	IV             [IVSize]byte
	MAC            [MACSize]byte
}

// Encode serializes h followed by ciphertext.
func (h *CommonHeader) Encode(ciphertext []byte) []byte {
	out := make([]byte, CommonHeaderSize+len(ciphertext))
	binary.LittleEndian.PutUint32(out[0:4], h.SequenceNumber)
	copy(out[4:4+IVSize], h.IV[:])
	copy(out[4+IVSize:4+IVSize+MACSize], h.MAC[:])
	copy(out[CommonHeaderSize:], ciphertext)
	return out
}

// DecodeCommonHeader parses the plaintext framing of buf and returns
// the header plus the remaining ciphertext bytes.
func DecodeCommonHeader(buf []byte) (*CommonHeader, []byte, error) {
	if len(buf) < CommonHeaderSize {
		return nil, nil, ErrShortHeader
	}
	h := &CommonHeader{
		SequenceNumber: binary.LittleEndian.Uint32(buf[0:4]),
	}
	copy(h.IV[:], buf[4:4+IVSize])
	copy(h.MAC[:], buf[4+IVSize:4+IVSize+MACSize])
	return h, buf[CommonHeaderSize:], nil
}

// BinaryMessageType distinguishes Speaker/Microphone binary sub-messages.
type BinaryMessageType uint8

const (
	// BinaryContent is shared by Speaker and Microphone binary messages.
	BinaryContent BinaryMessageType = 0
	// BinaryMarker is a Speaker-only message type.
	BinaryMarker BinaryMessageType = 1
	// BinaryWakewordMetadata is a Microphone-only message type.
	BinaryWakewordMetadata BinaryMessageType = 1
)

const binaryHeaderSize = 4 + 1 + 1 + 2

// ErrShortBinaryMessage is returned when a buffer is too small to hold
// a binary message header.
var ErrShortBinaryMessage = errors.New("wire: payload shorter than binary message header")

// BinaryMessage is the header that precedes Microphone/Speaker payload
// data: [ u32 length ][ u8 type ][ u8 count ][ 2 bytes reserved ][ data ].
type BinaryMessage struct {
	Type  BinaryMessageType
	Count uint8
	Data  []byte
}

// Encode serializes m, with Length computed from len(m.Data).
func (m *BinaryMessage) Encode() []byte {
	out := make([]byte, binaryHeaderSize+len(m.Data))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(m.Data)))
	out[4] = byte(m.Type)
	out[5] = m.Count
	copy(out[binaryHeaderSize:], m.Data)
	return out
}

// DecodeBinaryMessage parses the first binary message in buf and
// returns it along with the number of bytes consumed.
func DecodeBinaryMessage(buf []byte) (*BinaryMessage, int, error) {
	if len(buf) < binaryHeaderSize {
		return nil, 0, ErrShortBinaryMessage
	}
	length := binary.LittleEndian.Uint32(buf[0:4])
	total := binaryHeaderSize + int(length)
	if len(buf) < total {
		return nil, 0, ErrShortBinaryMessage
	}
	m := &BinaryMessage{
		Type:  BinaryMessageType(buf[4]),
		Count: buf[5],
		Data:  append([]byte(nil), buf[binaryHeaderSize:total]...),
	}
	return m, total, nil
}
