package registration

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/nimbusvoice/aiaclient/cryptoprim"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})
}

type fakeStorage struct {
	topicRoot string
	secret    []byte
}

func (f *fakeStorage) StoreRegistration(secret []byte, topicRoot string) error {
	f.secret = secret
	f.topicRoot = topicRoot
	return nil
}

type fakeSender struct {
	statusCode int
	peerPublic [32]byte
	sendErr    error
	lastReq    requestBody
}

func (f *fakeSender) Send(req *http.Request) (*http.Response, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	raw, _ := io.ReadAll(req.Body)
	_ = json.Unmarshal(raw, &f.lastReq)

	var out responseBody
	out.Encryption.PublicKey = base64.StdEncoding.EncodeToString(f.peerPublic[:])
	out.IOT.TopicRoot = "aia/device-42"
	body, _ := json.Marshal(out)

	status := f.statusCode
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}, nil
}

func testConfig() Config {
	return Config{
		Endpoint:     "https://registration.example/register",
		Token:        "tok",
		ClientID:     "client-1",
		AWSAccountID: "acct",
		IOTEndpoint:  "iot.example",
	}
}

func TestRegisterDerivesSecretAndPersists(t *testing.T) {
	random := cryptoprim.SystemRandom()
	_, servicePublic, err := cryptoprim.GenerateKeypair(random)
	require.NoError(t, err)

	sender := &fakeSender{peerPublic: servicePublic}
	storage := &fakeStorage{}

	result, err := Register(testConfig(), sender, random, storage, testLogger())
	require.NoError(t, err)

	require.Equal(t, "aia/device-42", result.TopicRoot)
	require.Equal(t, "aia/device-42", storage.topicRoot)
	require.Len(t, result.Secret, 16)
	require.Equal(t, result.Secret, storage.secret)
	require.Equal(t, "client-1", sender.lastReq.Authentication.ClientID)
	require.Equal(t, curveAlgorithm, sender.lastReq.Encryption.Algorithm)
}

func TestRegisterSendFailureReturnsTypedError(t *testing.T) {
	random := cryptoprim.SystemRandom()
	sender := &fakeSender{sendErr: errors.New("network unreachable")}
	storage := &fakeStorage{}

	_, err := Register(testConfig(), sender, random, storage, testLogger())
	require.Error(t, err)
	var regErr *Error
	require.ErrorAs(t, err, &regErr)
	require.Equal(t, ErrSendFailed, regErr.Kind)
}

func TestRegisterNonOKStatusReturnsTypedError(t *testing.T) {
	random := cryptoprim.SystemRandom()
	sender := &fakeSender{statusCode: http.StatusForbidden}
	storage := &fakeStorage{}

	_, err := Register(testConfig(), sender, random, storage, testLogger())
	require.Error(t, err)
	var regErr *Error
	require.ErrorAs(t, err, &regErr)
	require.Equal(t, ErrResponseError, regErr.Kind)
}
