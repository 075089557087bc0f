// Package transport is the paho.mqtt.golang-backed implementation of
// the session's publish/subscribe/unsubscribe/receive capability,
// satisfying both connmgr.Transport and emitter.Publisher.
package transport

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/charmbracelet/log"
)

// MessageHandler receives one inbound message on its full topic.
type MessageHandler func(topic string, payload []byte)

// Config holds the broker connection parameters.
type Config struct {
	BrokerURL      string
	ClientID       string
	ConnectTimeout time.Duration
	QoS            byte
}

// Client wraps an MQTT client, routing every inbound message to a
// single registered handler regardless of subscribed topic — the
// dispatcher does its own topic demultiplexing.
type Client struct {
	log    *log.Logger
	client mqtt.Client
	qos    byte

	mu      sync.RWMutex
	handler MessageHandler
}

// New constructs a Client. It does not connect until Connect is called.
func New(cfg Config, handler MessageHandler, logger *log.Logger) *Client {
	c := &Client{log: logger.WithPrefix("transport"), handler: handler, qos: cfg.QoS}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetDefaultPublishHandler(c.onMessage)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.log.Warnf("mqtt connection lost: %v", err)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect dials the broker and blocks until the connection completes
// or fails.
func (c *Client) Connect() error {
	token := c.client.Connect()
	token.Wait()
	return token.Error()
}

// Disconnect closes the broker connection, waiting up to
// quiesceMillis for in-flight work to drain.
func (c *Client) Disconnect(quiesceMillis uint) {
	c.client.Disconnect(quiesceMillis)
}

// Subscribe implements connmgr.Transport.
func (c *Client) Subscribe(fullTopic string) error {
	token := c.client.Subscribe(fullTopic, c.qos, nil)
	token.Wait()
	return token.Error()
}

// Unsubscribe implements connmgr.Transport.
func (c *Client) Unsubscribe(fullTopic string) error {
	token := c.client.Unsubscribe(fullTopic)
	token.Wait()
	return token.Error()
}

// Publish implements connmgr.Transport and emitter.Publisher.
func (c *Client) Publish(fullTopic string, payload []byte) error {
	token := c.client.Publish(fullTopic, c.qos, false, payload)
	token.Wait()
	return token.Error()
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		c.log.Warnf("dropping message on %q: no handler registered", msg.Topic())
		return
	}
	handler(msg.Topic(), msg.Payload())
}
