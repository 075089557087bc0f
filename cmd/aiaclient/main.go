// Command aiaclient runs the voice-assistant session daemon: it loads
// its TOML configuration, wires the client facade to a logging-only
// audio host, and runs until signaled.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nimbusvoice/aiaclient/alert"
	"github.com/nimbusvoice/aiaclient/capsender"
	"github.com/nimbusvoice/aiaclient/client"
	"github.com/nimbusvoice/aiaclient/config"
)

// loggingHost is the default Host: it has no real audio output or
// clock, and logs every capability call instead. Embedding
// applications supply their own Host wired to actual hardware.
type loggingHost struct {
	log *log.Logger
}

func (h *loggingHost) RenderFrame(offset uint64, data []byte) error {
	h.log.Debugf("render frame at offset %d (%d bytes)", offset, len(data))
	return nil
}

func (h *loggingHost) StartOfflineAlert(token alert.Token) error {
	h.log.Infof("offline alert fired: %s", token)
	return nil
}

func (h *loggingHost) StopOfflineAlert(token alert.Token) error {
	h.log.Infof("offline alert silenced: %s", token)
	return nil
}

func (h *loggingHost) SetVolume(level int) error {
	h.log.Infof("volume set to %d", level)
	return nil
}

func (h *loggingHost) SetEpochSeconds(seconds int64) error {
	h.log.Infof("clock set to epoch %d", seconds)
	return nil
}

// staticCapabilities publishes a capabilities document describing the
// features enabled in the loaded configuration.
type staticCapabilities struct {
	cfg *config.Config
}

func (s *staticCapabilities) CapabilitiesDocument() (interface{}, error) {
	return struct {
		Speaker    bool `json:"speaker"`
		Microphone bool `json:"microphone"`
		Alerts     bool `json:"alerts"`
		Clock      bool `json:"clock"`
	}{
		Speaker:    s.cfg.Features.Speaker,
		Microphone: s.cfg.Features.Microphone,
		Alerts:     s.cfg.Features.Alerts,
		Clock:      s.cfg.Features.Clock,
	}, nil
}

func main() {
	configPath := flag.String("config", "aiaclient.toml", "path to the TOML configuration file")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{Level: log.InfoLevel, ReportTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	promReg := prometheus.NewRegistry()
	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
				logger.Errorf("metrics listener stopped: %v", err)
			}
		}()
	}

	host := &loggingHost{log: logger.WithPrefix("host")}
	caps := &staticCapabilities{cfg: cfg}

	c, err := client.New(cfg, caps, host, promReg, logger)
	if err != nil {
		logger.Fatalf("failed to construct client: %v", err)
	}

	if err := c.Start(); err != nil {
		logger.Fatalf("failed to start client: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	c.Halt()
}
