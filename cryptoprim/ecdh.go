package cryptoprim

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// ErrLowOrderPoint is returned when a peer's public key reduces the
// shared secret to the all-zero point.
var ErrLowOrderPoint = errors.New("cryptoprim: ECDH produced a low-order point")

// GenerateKeypair draws a fresh Curve25519 keypair from r.
func GenerateKeypair(r RandomSource) (private, public [32]byte, err error) {
	seed, err := r.RandomBytes(32)
	if err != nil {
		return private, public, err
	}
	copy(private[:], seed)
	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return private, public, err
	}
	copy(public[:], pub)
	return private, public, nil
}

// DeriveRegistrationSecret performs X25519 with the service's public
// key, then HKDF-SHA256 over the raw shared point to produce an
// AES-GCM-sized (16-byte) symmetric secret, matching the registration
// handshake's "16-byte shared secret" shape.
func DeriveRegistrationSecret(private [32]byte, peerPublic [32]byte) ([]byte, error) {
	shared, err := curve25519.X25519(private[:], peerPublic[:])
	if err != nil {
		return nil, err
	}
	zero := true
	for _, b := range shared {
		if b != 0 {
			zero = false
			break
		}
	}
	if zero {
		return nil, ErrLowOrderPoint
	}

	kdf := hkdf.New(sha256.New, shared, nil, []byte("aiaclient registration secret"))
	out := make([]byte, 16)
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, err
	}
	return out, nil
}
