package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDecodesFullConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aiaclient.toml")
	contents := `
[features]
speaker = true
microphone = true
alerts = false
clock = true

[registration]
endpoint = "https://registration.example/register"
token = "tok"
client_id = "device-1"
aws_account_id = "acct"
iot_endpoint = "iot.example"

[transport]
broker_url = "tls://mqtt.example:8883"
connect_timeout = "10s"

[connection]
ack_timeout = "10s"
backoff_base = "1s"
max_backoff = "1h"

[audio]
sds_word_size = 2
sds_words = 32000
microphone_chunk_words = 320
publish_rate = "20ms"
speaker_frame_bytes = 320
speaker_overrun = 16000
speaker_underrun = 320
speaker_idle_close = "5s"

[storage]
dir = "/var/lib/aiaclient"

[metrics]
listen_addr = ":9090"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.True(t, cfg.Features.Speaker)
	require.False(t, cfg.Features.Alerts)
	require.Equal(t, "device-1", cfg.Registration.ClientID)
	require.Equal(t, "tls://mqtt.example:8883", cfg.Transport.BrokerURL)
	require.Equal(t, time.Hour, cfg.Connection.MaxBackoff)
	require.Equal(t, 32000, cfg.Audio.SDSWords)
	require.Equal(t, "/var/lib/aiaclient", cfg.Storage.Dir)
	require.Equal(t, ":9090", cfg.Metrics.ListenAddr)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
