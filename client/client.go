// Package client wires every other package into one running session:
// it owns the transport connection, the regulators and emitters for
// each outbound topic, the sequencers for each inbound encrypted
// topic, the secret manager, and every optional capability component,
// following the rule that no component owns another — only the
// facade holds pointers to more than one collaborator at a time.
package client

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nimbusvoice/aiaclient/alert"
	"github.com/nimbusvoice/aiaclient/button"
	"github.com/nimbusvoice/aiaclient/capsender"
	"github.com/nimbusvoice/aiaclient/clockmgr"
	"github.com/nimbusvoice/aiaclient/config"
	"github.com/nimbusvoice/aiaclient/connmgr"
	"github.com/nimbusvoice/aiaclient/cryptoprim"
	"github.com/nimbusvoice/aiaclient/dispatcher"
	"github.com/nimbusvoice/aiaclient/emitter"
	"github.com/nimbusvoice/aiaclient/exception"
	"github.com/nimbusvoice/aiaclient/metrics"
	"github.com/nimbusvoice/aiaclient/microphone"
	"github.com/nimbusvoice/aiaclient/regulator"
	"github.com/nimbusvoice/aiaclient/registration"
	"github.com/nimbusvoice/aiaclient/sds"
	"github.com/nimbusvoice/aiaclient/secretmgr"
	"github.com/nimbusvoice/aiaclient/sequencer"
	"github.com/nimbusvoice/aiaclient/speaker"
	"github.com/nimbusvoice/aiaclient/storage"
	"github.com/nimbusvoice/aiaclient/transport"
	"github.com/nimbusvoice/aiaclient/ux"
	"github.com/nimbusvoice/aiaclient/wire"
)

// Client is one running device session.
type Client struct {
	log *log.Logger

	host    Host
	storage *storage.Store
	metrics *metrics.Registry

	transport *transport.Client
	dispatch  *dispatcher.Dispatcher
	connMgr   *connmgr.Manager
	secretMgr *secretmgr.Manager
	events    *eventBus

	eventReg *regulator.Regulator
	micReg   *regulator.Regulator
	capsReg  *regulator.Regulator

	directiveSeq *sequencer.Sequencer
	capsAckSeq   *sequencer.Sequencer
	speakerSeq   *sequencer.Sequencer

	sdsBuf    *sds.SDS
	micWriter *sds.Writer

	mic    *microphone.Microphone
	spk    *speaker.Manager
	caps   *capsender.Sender
	alerts *alert.Manager
	ux     *ux.Manager
	clock  *clockmgr.Manager
	exc    *exception.Reporter
	button *button.Commander
}

// sealerProxy breaks the construction cycle between the emitters
// (which need a Sealer) and the secret manager (which needs the
// emitters' NextSequenceNumber as rotation sources): the emitters are
// built against this proxy, and mgr is filled in once the secret
// manager itself exists, mirroring the dispatcher forward-reference
// the transport handler closure uses below.
type sealerProxy struct {
	mgr *secretmgr.Manager
}

func (p *sealerProxy) Encrypt(topic wire.Topic, seq uint32, plaintext []byte) ([wire.IVSize]byte, [wire.MACSize]byte, []byte, error) {
	return p.mgr.Encrypt(topic, seq, plaintext)
}

// exceptionAdapter counts malformed-message reports before handing
// them to the exception reporter, so the dispatcher's ExceptionEmitter
// seam doubles as the MalformedMessages metric's only producer.
type exceptionAdapter struct {
	reporter *exception.Reporter
	metrics  *metrics.Registry
}

func (a *exceptionAdapter) EmitMalformedMessage(topic wire.Topic) error {
	d, _ := wire.Describe(topic)
	a.metrics.MalformedMessages.WithLabelValues(d.Leaf).Inc()
	return a.reporter.EmitMalformedMessage(topic)
}

// httpSender is the production registration.Sender.
type httpSender struct{ client *http.Client }

func (h *httpSender) Send(req *http.Request) (*http.Response, error) { return h.client.Do(req) }

func batchEmitter(name string, reg *metrics.Registry, emit func(chunk json.RawMessage, remaining int) error) regulator.EmitFunc {
	return func(c regulator.Chunk, _ int, remainingChunks int) regulator.Result {
		raw := c.(interface{ Bytes() []byte }).Bytes()
		reg.RegulatorBatchSize.WithLabelValues(name).Observe(1)
		if err := emit(json.RawMessage(raw), remainingChunks); err != nil {
			return regulator.Result{Failed: true}
		}
		return regulator.Result{}
	}
}

func binaryBatchEmitter(name string, reg *metrics.Registry, emit func(chunk []byte, remaining int) error) regulator.EmitFunc {
	return func(c regulator.Chunk, _ int, remainingChunks int) regulator.Result {
		raw := c.(interface{ Bytes() []byte }).Bytes()
		reg.RegulatorBatchSize.WithLabelValues(name).Observe(1)
		if err := emit(raw, remainingChunks); err != nil {
			return regulator.Result{Failed: true}
		}
		return regulator.Result{}
	}
}

// New constructs a Client. capsSource supplies the capabilities
// document the session publishes on every connect; host supplies the
// device-specific audio/alert/volume/clock capabilities.
func New(appCfg *config.Config, capsSource capsender.DocumentSource, host Host, promReg prometheus.Registerer, logger *log.Logger) (*Client, error) {
	store := storage.New(appCfg.Storage.Dir)
	reg := metrics.New(promReg)

	topicRoot, hasRoot, err := store.LoadTopicRoot()
	if err != nil {
		return nil, err
	}
	secret, hasSecret, err := store.LoadSecret()
	if err != nil {
		return nil, err
	}

	var records []*secretmgr.SecretRecord
	if hasRoot && hasSecret {
		records, err = store.LoadSecrets()
		if err != nil {
			return nil, err
		}
	} else {
		result, err := registration.Register(registration.Config{
			Endpoint:     appCfg.Registration.Endpoint,
			Token:        appCfg.Registration.Token,
			ClientID:     appCfg.Registration.ClientID,
			AWSAccountID: appCfg.Registration.AWSAccountID,
			IOTEndpoint:  appCfg.Registration.IOTEndpoint,
		}, &httpSender{client: http.DefaultClient}, cryptoprim.SystemRandom(), store, logger)
		if err != nil {
			return nil, err
		}
		topicRoot = result.TopicRoot
		secret = result.Secret
	}

	c := &Client{
		log:     logger.WithPrefix("client"),
		host:    host,
		storage: store,
		metrics: reg,
	}

	sealer := &sealerProxy{}

	var dispatchRef *dispatcher.Dispatcher
	c.transport = transport.New(transport.Config{
		BrokerURL:      appCfg.Transport.BrokerURL,
		ClientID:       appCfg.Registration.ClientID,
		ConnectTimeout: appCfg.Transport.ConnectTimeout,
	}, func(topic string, payload []byte) {
		if dispatchRef == nil {
			return
		}
		if err := dispatchRef.OnMessage(topic, payload); err != nil {
			c.log.Errorf("dispatch failed for %s: %v", topic, err)
		}
	}, logger)

	eventEmitter, err := emitter.New(wire.Event, topicRoot, sealer, c.transport)
	if err != nil {
		return nil, err
	}
	micEmitter, err := emitter.New(wire.Microphone, topicRoot, sealer, c.transport)
	if err != nil {
		return nil, err
	}
	capsEmitter, err := emitter.New(wire.CapabilitiesPublish, topicRoot, sealer, c.transport)
	if err != nil {
		return nil, err
	}

	c.events = &eventBus{}
	c.eventReg = regulator.New(appCfg.Audio.MaxMessageSize, appCfg.Audio.PublishRate, regulator.Burst,
		batchEmitter("event", reg, eventEmitter.EmitChunk), logger)
	c.events.reg = c.eventReg

	c.micReg = regulator.New(appCfg.Audio.MaxMessageSize, appCfg.Audio.PublishRate, regulator.Burst,
		binaryBatchEmitter("microphone", reg, micEmitter.EmitBinaryChunk), logger)

	c.capsReg = regulator.New(appCfg.Audio.MaxMessageSize, appCfg.Audio.PublishRate, regulator.Burst,
		batchEmitter("capabilities", reg, capsEmitter.EmitChunk), logger)

	c.secretMgr = secretmgr.New(cryptoprim.NewAESGCM, cryptoprim.SystemRandom(), store, map[wire.Topic]secretmgr.SequenceSource{
		wire.Event:               eventEmitter,
		wire.Microphone:          micEmitter,
		wire.CapabilitiesPublish: capsEmitter,
	}, c.events, logger)
	sealer.mgr = c.secretMgr

	if records != nil {
		c.secretMgr.Restore(records)
	} else if err := c.secretMgr.Provision(secret); err != nil {
		return nil, err
	}

	c.exc = exception.New(c.events, logger)
	excAdapter := &exceptionAdapter{reporter: c.exc, metrics: reg}

	c.connMgr = connmgr.New(connmgr.Config{
		TopicRoot:    topicRoot,
		AWSAccountID: appCfg.Registration.AWSAccountID,
		ClientID:     appCfg.Registration.ClientID,
		AckTimeout:   appCfg.Connection.AckTimeout,
		BackoffBase:  appCfg.Connection.BackoffBase,
		MaxBackoff:   appCfg.Connection.MaxBackoff,
	}, c.transport, c.onConnected, c.onRejected, c.onDisconnected, logger)

	c.dispatch = dispatcher.New(topicRoot, c.secretMgr, c.connMgr, excAdapter, c.connMgr, logger)
	dispatchRef = c.dispatch

	slots := uint32(appCfg.Connection.SequencerSlots)
	timeout := appCfg.Connection.SequencerTimeout
	c.directiveSeq = sequencer.New(slots, 0, timeout, c.dispatch.HandleSequenced(wire.Directive), c.onSequencerTimeout("directive"), logger)
	c.dispatch.WireSequencer(wire.Directive, c.directiveSeq)
	c.capsAckSeq = sequencer.New(slots, 0, timeout, c.dispatch.HandleSequenced(wire.CapabilitiesAcknowledge), c.onSequencerTimeout("capabilitiesAcknowledge"), logger)
	c.dispatch.WireSequencer(wire.CapabilitiesAcknowledge, c.capsAckSeq)
	c.speakerSeq = sequencer.New(slots, 0, timeout, c.dispatch.HandleSequenced(wire.Speaker), c.onSequencerTimeout("speaker"), logger)
	c.dispatch.WireSequencer(wire.Speaker, c.speakerSeq)

	sdsBuf, err := sds.New(uint32(appCfg.Audio.SDSWordSize), uint64(appCfg.Audio.SDSWords), 1)
	if err != nil {
		return nil, err
	}
	c.sdsBuf = sdsBuf
	c.micWriter, err = sdsBuf.CreateWriter(sds.NonBlockable, false)
	if err != nil {
		return nil, err
	}
	micReader, err := sdsBuf.CreateReader(-1, sds.ReaderNonBlocking, true, false)
	if err != nil {
		return nil, err
	}

	c.mic = microphone.New(micReader, uint32(appCfg.Audio.SDSWordSize), uint64(appCfg.Audio.MicrophoneChunkWords),
		appCfg.Audio.PublishRate, c.micReg, c.events, logger)

	c.spk = speaker.New(speaker.Config{
		FrameBytes:         appCfg.Audio.SpeakerFrameBytes,
		OverrunThreshold:   appCfg.Audio.SpeakerOverrun,
		UnderrunThreshold:  appCfg.Audio.SpeakerUnderrun,
		RenderRate:         appCfg.Audio.PublishRate,
		IdleCloseThreshold: appCfg.Audio.SpeakerIdleClose,
	}, host, c.events, logger)
	c.dispatch.SetSpeakerSink(c.spk)

	c.caps = capsender.New(capsSource, c.capsReg, c, logger)
	c.dispatch.RegisterDirectiveHandler(wire.CapabilitiesAcknowledge, "CapabilitiesAcknowledge", c.caps.HandleAcknowledge)

	c.alerts = alert.New(host, store, c.events, logger)
	c.ux = ux.New(host, c, c.events, logger)
	c.clock = clockmgr.New(host, c.events, logger)
	c.button = button.New(c.events, logger)

	c.dispatch.RegisterDirectiveHandler(wire.Directive, "OpenMicrophone", c.handleOpenMicrophone)
	c.dispatch.RegisterDirectiveHandler(wire.Directive, "CloseMicrophone", c.handleCloseMicrophone)
	c.dispatch.RegisterDirectiveHandler(wire.Directive, "SetVolume", c.ux.HandleSetVolume)
	c.dispatch.RegisterDirectiveHandler(wire.Directive, "SetAttentionState", c.ux.HandleSetAttentionState)
	c.dispatch.RegisterDirectiveHandler(wire.Directive, "SetAlert", c.alerts.HandleSetAlert)
	c.dispatch.RegisterDirectiveHandler(wire.Directive, "DeleteAlert", c.alerts.HandleDeleteAlert)
	c.dispatch.RegisterDirectiveHandler(wire.Directive, "SetAlertVolume", c.alerts.HandleSetAlertVolume)
	c.dispatch.RegisterDirectiveHandler(wire.Directive, "SetClock", c.clock.HandleSetClock)
	c.dispatch.RegisterDirectiveHandler(wire.Directive, "RotateSecret", c.handleRotateSecret)
	c.dispatch.RegisterDirectiveHandler(wire.Directive, "Exception", c.exc.HandleExceptionDirective)

	return c, nil
}

// Start dials the broker and launches every component's background
// work, then performs the initial Connect handshake.
func (c *Client) Start() error {
	if err := c.transport.Connect(); err != nil {
		return err
	}
	c.eventReg.Start()
	c.micReg.Start()
	c.capsReg.Start()
	c.directiveSeq.Start()
	c.capsAckSeq.Start()
	c.speakerSeq.Start()
	c.connMgr.Start()
	c.mic.Start()
	c.spk.Start()
	return c.connMgr.Connect()
}

// Halt stops every component's background work and closes the broker
// connection.
func (c *Client) Halt() {
	c.mic.Halt()
	c.spk.Halt()
	c.directiveSeq.Halt()
	c.capsAckSeq.Halt()
	c.speakerSeq.Halt()
	c.eventReg.Halt()
	c.micReg.Halt()
	c.capsReg.Halt()
	c.connMgr.Halt()
	c.transport.Disconnect(250)
}

func (c *Client) onSequencerTimeout(label string) func() {
	return func() {
		c.metrics.SequencerTimeouts.WithLabelValues(label).Inc()
		c.dispatch.OnSequencerTimeout()
	}
}

func (c *Client) onConnected() {
	c.log.Info("connected")
	if err := c.caps.PublishCapabilities(); err != nil {
		c.log.Errorf("failed to publish capabilities: %v", err)
	}
	if err := c.clock.SynchronizeClock(); err != nil {
		c.log.Errorf("failed to emit SynchronizeClock: %v", err)
	}
	if err := c.EmitSynchronizeState(); err != nil {
		c.log.Errorf("failed to emit SynchronizeState: %v", err)
	}
}

func (c *Client) onRejected(code connmgr.RejectCode) {
	c.log.Errorf("connection rejected: %s", code)
}

func (c *Client) onDisconnected(code connmgr.ServiceDisconnectCode, description string) {
	c.log.Warnf("disconnected: %s %s", code, description)
	c.metrics.Reconnects.Inc()
	if err := c.connMgr.Connect(); err != nil {
		c.log.Errorf("reconnect attempt failed: %v", err)
	}
}

// OnCapabilitiesAccepted satisfies capsender.Observer.
func (c *Client) OnCapabilitiesAccepted() error {
	c.log.Info("capabilities accepted")
	return nil
}

// OnCapabilitiesRejected satisfies capsender.Observer.
func (c *Client) OnCapabilitiesRejected(description string) error {
	c.log.Warnf("capabilities rejected: %s", description)
	return nil
}

// OnAttentionStateChanged satisfies ux.Observer.
func (c *Client) OnAttentionStateChanged(state ux.AttentionState) error {
	c.log.Debugf("attention state changed to %s", state)
	return nil
}

type openMicrophonePayload struct {
	TimeoutInMilliseconds int64                `json:"timeoutInMilliseconds"`
	Initiator             microphone.Initiator `json:"initiator"`
}

func (c *Client) handleOpenMicrophone(payload json.RawMessage, _ int, _ uint32, _ int) error {
	var p openMicrophonePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	c.mic.OnOpenMicrophoneDirective(time.Duration(p.TimeoutInMilliseconds)*time.Millisecond, p.Initiator)
	return nil
}

func (c *Client) handleCloseMicrophone(_ json.RawMessage, _ int, _ uint32, _ int) error {
	return c.mic.CloseMicrophone()
}

type rotateSecretPayload struct {
	Secret                  string `json:"secret"`
	DirectiveSequenceNumber uint32 `json:"directiveSequenceNumber"`
	SpeakerSequenceNumber   uint32 `json:"speakerSequenceNumber"`
}

func (c *Client) handleRotateSecret(payload json.RawMessage, _ int, _ uint32, _ int) error {
	var p rotateSecretPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	return c.secretMgr.RotateSecret(p.Secret, p.DirectiveSequenceNumber, p.SpeakerSequenceNumber)
}

// EmitSynchronizeState assembles and publishes SynchronizeState from
// ux's current volume and alert's current token set: the one event
// whose payload spans two otherwise independent components.
func (c *Client) EmitSynchronizeState() error {
	payload := synchronizeStatePayload{}
	if level, ok := c.ux.CurrentVolume(); ok {
		payload.Speaker = &speakerState{Volume: level}
	}
	if tokens := c.alerts.AllTokens(); len(tokens) > 0 {
		payload.Alerts = &alertsState{AllAlerts: tokens}
	}
	return c.events.publish("SynchronizeState", payload)
}

// MicrophoneWriter exposes the capture front-end's write handle. The
// host pushes live audio samples here; the client only buffers and
// transports them from that point on.
func (c *Client) MicrophoneWriter() *sds.Writer { return c.micWriter }

// PressButton forwards a host transport-control button press.
func (c *Client) PressButton(command button.Command) error { return c.button.Press(command) }

// FireAlert starts local playback of token's offline alert, if it is
// still in the current alert set.
func (c *Client) FireAlert(token alert.Token) error { return c.alerts.Fire(token) }

// SilenceAlert stops local playback of token's offline alert.
func (c *Client) SilenceAlert(token alert.Token) error { return c.alerts.Silence(token) }

// HoldToTalkStart opens the microphone for a hold-to-talk press.
func (c *Client) HoldToTalkStart(sampleIndex int64) error { return c.mic.HoldToTalkStart(sampleIndex) }

// TapToTalkStart opens the microphone for a tap-to-talk press.
func (c *Client) TapToTalkStart(sampleIndex int64, profile string) error {
	return c.mic.TapToTalkStart(sampleIndex, profile)
}

// WakeWordStart opens the microphone for a detected wake word.
func (c *Client) WakeWordStart(beginIndex, endIndex int64, profile, wakeword string) error {
	return c.mic.WakeWordStart(beginIndex, endIndex, profile, wakeword)
}
