// Package registration performs the one-shot HTTPS exchange that
// trades an authentication token for a topic root and a service
// public key, derives the shared secret via ECDH, and persists both.
package registration

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/nimbusvoice/aiaclient/cryptoprim"
)

// Sender performs the blocking HTTPS POST. Grounded on the host
// callback contract (§6): the client never reaches for net/http
// directly except behind this one seam.
type Sender interface {
	Send(req *http.Request) (*http.Response, error)
}

// Persister durably stores the derived secret and topic root as a
// single atomic unit: a crash between writing one and the other must
// never be observable on restart.
type Persister interface {
	StoreRegistration(secret []byte, topicRoot string) error
}

const curveAlgorithm = "CURVE25519"

type requestBody struct {
	Authentication struct {
		Token    string `json:"token"`
		ClientID string `json:"clientId"`
	} `json:"authentication"`
	Encryption struct {
		Algorithm string `json:"algorithm"`
		PublicKey string `json:"publicKey"`
	} `json:"encryption"`
	IOT struct {
		AWSAccountID string `json:"awsAccountId"`
		ClientID     string `json:"clientId"`
		Endpoint     string `json:"endpoint"`
	} `json:"iot"`
}

type responseBody struct {
	Encryption struct {
		PublicKey string `json:"publicKey"`
	} `json:"encryption"`
	IOT struct {
		TopicRoot string `json:"topicRoot"`
	} `json:"iot"`
}

// ErrKind is a typed registration failure reason.
type ErrKind string

const (
	ErrSendFailed    ErrKind = "SEND_FAILED"
	ErrResponseError ErrKind = "RESPONSE_ERROR"
)

// Error is a typed registration failure.
type Error struct {
	Kind ErrKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("registration: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Config carries the device identity fields the registration request
// needs.
type Config struct {
	Endpoint     string
	Token        string
	ClientID     string
	AWSAccountID string
	IOTEndpoint  string
}

// Result is what Register hands back to the facade to wire the rest
// of the session.
type Result struct {
	TopicRoot string
	Secret    []byte
}

// Register performs the full exchange: generate a keypair, POST the
// request, derive the shared secret from the response's public key,
// and persist both the secret and the topic root.
func Register(cfg Config, sender Sender, random cryptoprim.RandomSource, storage Persister, logger *log.Logger) (*Result, error) {
	log := logger.WithPrefix("registration")

	private, public, err := cryptoprim.GenerateKeypair(random)
	if err != nil {
		return nil, err
	}

	var body requestBody
	body.Authentication.Token = cfg.Token
	body.Authentication.ClientID = cfg.ClientID
	body.Encryption.Algorithm = curveAlgorithm
	body.Encryption.PublicKey = base64.StdEncoding.EncodeToString(public[:])
	body.IOT.AWSAccountID = cfg.AWSAccountID
	body.IOT.ClientID = cfg.ClientID
	body.IOT.Endpoint = cfg.IOTEndpoint

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, cfg.Endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := sender.Send(httpReq)
	if err != nil {
		log.Errorf("registration request failed: %v", err)
		return nil, &Error{Kind: ErrSendFailed, Err: err}
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrResponseError, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: ErrResponseError, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBytes)}
	}

	var out responseBody
	if err := json.Unmarshal(respBytes, &out); err != nil {
		return nil, &Error{Kind: ErrResponseError, Err: err}
	}
	if out.IOT.TopicRoot == "" {
		return nil, &Error{Kind: ErrResponseError, Err: errors.New("missing topicRoot in response")}
	}

	peerPublicBytes, err := base64.StdEncoding.DecodeString(out.Encryption.PublicKey)
	if err != nil || len(peerPublicBytes) != 32 {
		return nil, &Error{Kind: ErrResponseError, Err: errors.New("malformed peer public key")}
	}
	var peerPublic [32]byte
	copy(peerPublic[:], peerPublicBytes)

	secret, err := cryptoprim.DeriveRegistrationSecret(private, peerPublic)
	if err != nil {
		return nil, err
	}

	if err := storage.StoreRegistration(secret, out.IOT.TopicRoot); err != nil {
		return nil, err
	}

	return &Result{TopicRoot: out.IOT.TopicRoot, Secret: secret}, nil
}
