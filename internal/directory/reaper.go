package directory

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/arcadenet/lanlobby/internal/logging"
)

// ReaperConfig contains presence reaper settings.
type ReaperConfig struct {
	// Interval between sweeps.
	Interval time.Duration

	// StalenessThreshold is the maximum heartbeat silence before an
	// online account is demoted. Must exceed the client heartbeat
	// period so one lost beat is tolerated.
	StalenessThreshold time.Duration
}

// DefaultReaperConfig returns sensible defaults.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval:           5 * time.Second,
		StalenessThreshold: 10 * time.Second,
	}
}

// Reaper is the background sweep that expires stale presence. It is
// the only agent allowed to flip an account offline without an
// explicit logout or disconnect.
type Reaper struct {
	store  *Store
	cfg    ReaperConfig
	clock  clock.Clock
	logger *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewReaper creates a reaper over the given store. A nil clk uses the
// wall clock.
func NewReaper(store *Store, cfg ReaperConfig, clk clock.Clock, logger *slog.Logger) *Reaper {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Reaper{
		store:  store,
		cfg:    cfg,
		clock:  clk,
		logger: logger.With(slog.String(logging.KeyComponent, "reaper")),
		stopCh: make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop terminates the sweep loop and waits for it to exit.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

func (r *Reaper) run() {
	defer r.wg.Done()

	ticker := r.clock.Ticker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			demoted := r.store.Reap(r.cfg.StalenessThreshold)
			for _, username := range demoted {
				r.logger.Info("presence timed out, marking offline",
					logging.KeyUsername, username)
			}
		}
	}
}
