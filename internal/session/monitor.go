package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/arcadenet/lanlobby/internal/dirclient"
	"github.com/arcadenet/lanlobby/internal/logging"
)

// MonitorConfig contains liveness monitor settings.
type MonitorConfig struct {
	// Interval between presence polls.
	Interval time.Duration
}

// DefaultMonitorConfig returns sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{Interval: 5 * time.Second}
}

// Monitor polls the directory for the remote peer's presence. The
// first negative answer is terminal: the terminate flag is set, the
// OnLost callback fires once, and the loop exits. Directory transport
// errors are not negatives; polling simply continues. This is the only
// mechanism that detects an unannounced peer departure once the direct
// transport has gone silent.
type Monitor struct {
	client *dirclient.Client
	remote string
	cfg    MonitorConfig
	clock  clock.Clock
	logger *slog.Logger

	// OnLost runs exactly once when the peer is observed offline.
	// Typically it closes the session transport to unblock a reader.
	OnLost func()

	terminated atomic.Bool
	stopOnce   sync.Once
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewMonitor creates a liveness monitor for the remote account. A nil
// clk uses the wall clock.
func NewMonitor(client *dirclient.Client, remote string, cfg MonitorConfig, clk clock.Clock, logger *slog.Logger) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Monitor{
		client: client,
		remote: remote,
		cfg:    cfg,
		clock:  clk,
		logger: logger.With(slog.String(logging.KeyComponent, "liveness")),
		stopCh: make(chan struct{}),
	}
}

// Start launches the poll loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop terminates the loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

// Terminated reports whether the remote peer was observed offline.
// Session loops must check this before each blocking operation.
func (m *Monitor) Terminated() bool {
	return m.terminated.Load()
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := m.clock.Ticker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Interval)
			online, err := m.client.IsOnline(ctx, m.remote)
			cancel()
			if err != nil {
				m.logger.Debug("liveness poll failed",
					logging.KeyUsername, m.remote,
					logging.KeyError, err)
				continue
			}
			if !online {
				m.logger.Info("peer went offline, terminating session",
					logging.KeyUsername, m.remote)
				m.terminated.Store(true)
				if m.OnLost != nil {
					m.OnLost()
				}
				return
			}
		}
	}
}
