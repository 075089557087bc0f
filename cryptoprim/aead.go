// Package cryptoprim implements the client's cryptographic primitives:
// AES-GCM AEAD, Curve25519 ECDH key agreement, and a random source.
// AES-GCM and curve25519 are exact algorithms this spec mandates, so
// they stay on the standard library and golang.org/x/crypto rather
// than reaching for a higher-level ecosystem wrapper.
package cryptoprim

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"github.com/nimbusvoice/aiaclient/wire"
)

// ErrOpenFailed is returned when AEAD decryption fails authentication.
var ErrOpenFailed = errors.New("cryptoprim: AEAD open failed")

// AEAD is the capability the secret manager drives. It is rekeyed by
// constructing a new AEAD for each distinct secret rather than
// exposing a SetKey method, so a stale key can never be reused by
// accident.
type AEAD interface {
	// Seal encrypts plaintext, writing a caller-supplied 12-byte IV and
	// returning the 16-byte tag and ciphertext.
	Seal(iv [wire.IVSize]byte, plaintext []byte) (tag [wire.MACSize]byte, ciphertext []byte, err error)
	// Open decrypts ciphertext under iv and tag, returning the plaintext.
	Open(iv [wire.IVSize]byte, tag [wire.MACSize]byte, ciphertext []byte) ([]byte, error)
}

type gcmAEAD struct {
	gcm cipher.AEAD
}

// NewAESGCM constructs an AEAD over a 16 or 32-byte AES key.
func NewAESGCM(key []byte) (AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithTagSize(block, wire.MACSize)
	if err != nil {
		return nil, err
	}
	if gcm.NonceSize() != wire.IVSize {
		return nil, errors.New("cryptoprim: unexpected GCM nonce size")
	}
	return &gcmAEAD{gcm: gcm}, nil
}

func (g *gcmAEAD) Seal(iv [wire.IVSize]byte, plaintext []byte) ([wire.MACSize]byte, []byte, error) {
	sealed := g.gcm.Seal(nil, iv[:], plaintext, nil)
	ctLen := len(sealed) - wire.MACSize
	var tag [wire.MACSize]byte
	copy(tag[:], sealed[ctLen:])
	return tag, sealed[:ctLen], nil
}

func (g *gcmAEAD) Open(iv [wire.IVSize]byte, tag [wire.MACSize]byte, ciphertext []byte) ([]byte, error) {
	sealed := make([]byte, 0, len(ciphertext)+wire.MACSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag[:]...)
	plaintext, err := g.gcm.Open(nil, iv[:], sealed, nil)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

// RandomSource is the capability interface over a random byte source,
// kept distinct from crypto/rand so callers can be driven by an
// interface in tests.
type RandomSource interface {
	RandomBytes(n int) ([]byte, error)
}

type cryptoRandSource struct{}

// SystemRandom returns a RandomSource backed by crypto/rand.
func SystemRandom() RandomSource { return cryptoRandSource{} }

func (cryptoRandSource) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// NewIV draws a fresh random 96-bit IV from r.
func NewIV(r RandomSource) ([wire.IVSize]byte, error) {
	var iv [wire.IVSize]byte
	b, err := r.RandomBytes(wire.IVSize)
	if err != nil {
		return iv, err
	}
	copy(iv[:], b)
	return iv, nil
}
