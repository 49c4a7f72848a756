package rendezvous

import (
	"context"
	"time"
)

// backoff produces the delay sequence between discovery rounds:
// exponential growth from InitialDelay to MaxDelay with jitter applied
// per sleep.
type backoff struct {
	cfg       BackoffConfig
	nextDelay time.Duration
}

func newBackoff(cfg BackoffConfig) *backoff {
	return &backoff{cfg: cfg, nextDelay: cfg.InitialDelay}
}

// sleep waits the current delay (or until the context is done) and
// advances the sequence.
func (b *backoff) sleep(ctx context.Context) error {
	delay := b.addJitter(b.nextDelay)

	next := time.Duration(float64(b.nextDelay) * b.cfg.Multiplier)
	if next > b.cfg.MaxDelay {
		next = b.cfg.MaxDelay
	}
	b.nextDelay = next

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// addJitter adds random jitter to a duration.
func (b *backoff) addJitter(d time.Duration) time.Duration {
	if b.cfg.Jitter <= 0 {
		return d
	}

	// Time-based pseudo-random is good enough for retry spreading.
	jitterRange := float64(d) * b.cfg.Jitter
	jitter := (float64(time.Now().UnixNano()%1000)/1000.0 - 0.5) * 2 * jitterRange

	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		result = d
	}
	return result
}
