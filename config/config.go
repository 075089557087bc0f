// Package config loads the daemon's TOML configuration file.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Features lists which optional components the device advertises in
// its capabilities document. The client constructs every component
// regardless of these values; they do not switch any component off.
type Features struct {
	Speaker    bool `toml:"speaker"`
	Microphone bool `toml:"microphone"`
	Alerts     bool `toml:"alerts"`
	Clock      bool `toml:"clock"`
}

// Registration holds the device identity used for the one-shot
// registration exchange.
type Registration struct {
	Endpoint     string `toml:"endpoint"`
	Token        string `toml:"token"`
	ClientID     string `toml:"client_id"`
	AWSAccountID string `toml:"aws_account_id"`
	IOTEndpoint  string `toml:"iot_endpoint"`
}

// Transport holds the MQTT broker connection parameters.
type Transport struct {
	BrokerURL      string        `toml:"broker_url"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
}

// Connection holds the connect/ack/backoff protocol's tunables.
type Connection struct {
	AckTimeout       time.Duration `toml:"ack_timeout"`
	BackoffBase      time.Duration `toml:"backoff_base"`
	MaxBackoff       time.Duration `toml:"max_backoff"`
	SequencerSlots   int           `toml:"sequencer_slots"`
	SequencerTimeout time.Duration `toml:"sequencer_timeout"`
}

// Audio holds the SDS, regulator and speaker buffer sizing.
type Audio struct {
	SDSWordSize          int           `toml:"sds_word_size"`
	SDSWords             int           `toml:"sds_words"`
	MicrophoneChunkWords int           `toml:"microphone_chunk_words"`
	PublishRate          time.Duration `toml:"publish_rate"`
	MaxMessageSize       int           `toml:"max_message_size"`
	SpeakerFrameBytes    int           `toml:"speaker_frame_bytes"`
	SpeakerOverrun       int           `toml:"speaker_overrun"`
	SpeakerUnderrun      int           `toml:"speaker_underrun"`
	SpeakerIdleClose     time.Duration `toml:"speaker_idle_close"`
}

// Storage holds the persistence directory.
type Storage struct {
	Dir string `toml:"dir"`
}

// Metrics holds the Prometheus exposition listen address.
type Metrics struct {
	ListenAddr string `toml:"listen_addr"`
}

// Config is the daemon's complete configuration.
type Config struct {
	Features     Features     `toml:"features"`
	Registration Registration `toml:"registration"`
	Transport    Transport    `toml:"transport"`
	Connection   Connection   `toml:"connection"`
	Audio        Audio        `toml:"audio"`
	Storage      Storage      `toml:"storage"`
	Metrics      Metrics      `toml:"metrics"`
}

// Load decodes a TOML configuration file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
