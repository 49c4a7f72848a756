package dirclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/arcadenet/lanlobby/internal/logging"
)

// HeartbeatConfig contains heartbeat sender settings.
type HeartbeatConfig struct {
	// Interval between heartbeats. Must stay below the directory's
	// staleness threshold.
	Interval time.Duration

	// DeltaXP is the experience delta reported with each beat.
	DeltaXP int64
}

// DefaultHeartbeatConfig returns sensible defaults.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 5 * time.Second,
		DeltaXP:  1,
	}
}

// HeartbeatSender periodically refreshes the account's presence in the
// directory. Individual failed beats are logged and skipped; the
// staleness threshold leaves room for a missed beat.
type HeartbeatSender struct {
	client   *Client
	username string
	cfg      HeartbeatConfig
	clock    clock.Clock
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewHeartbeatSender creates a sender for the given account. A nil clk
// uses the wall clock.
func NewHeartbeatSender(client *Client, username string, cfg HeartbeatConfig, clk clock.Clock, logger *slog.Logger) *HeartbeatSender {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &HeartbeatSender{
		client:   client,
		username: username,
		cfg:      cfg,
		clock:    clk,
		logger:   logger.With(slog.String(logging.KeyComponent, "heartbeat")),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the heartbeat loop.
func (h *HeartbeatSender) Start() {
	h.wg.Add(1)
	go h.run()
}

// Stop terminates the loop and waits for it to exit.
func (h *HeartbeatSender) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
	h.wg.Wait()
}

func (h *HeartbeatSender) run() {
	defer h.wg.Done()

	ticker := h.clock.Ticker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.Interval)
			_, err := h.client.Heartbeat(ctx, h.username, h.cfg.DeltaXP)
			cancel()
			if err != nil {
				h.logger.Debug("heartbeat failed",
					logging.KeyUsername, h.username,
					logging.KeyError, err)
			}
		}
	}
}
