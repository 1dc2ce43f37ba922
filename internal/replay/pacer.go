package replay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/funnyzak/reportsync/internal/config"
)

// DefaultInterval is the pause between consecutive submissions.
const DefaultInterval = 2 * time.Second

// Pacer spaces out upstream submissions.
type Pacer interface {
	// Wait blocks until the next submission may start.
	Wait(ctx context.Context) error
}

// NewPacer builds the pacing policy selected in configuration.
func NewPacer(cfg config.PacingConfig) (Pacer, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	switch strings.ToLower(cfg.Mode) {
	case "", "fixed":
		return NewFixedPacer(interval), nil
	case "token_bucket":
		return NewTokenBucketPacer(interval, cfg.Burst), nil
	case "none":
		return NoPacer{}, nil
	default:
		return nil, fmt.Errorf("unknown pacing mode %q", cfg.Mode)
	}
}

// FixedPacer enforces a minimum delay between submissions. The first call
// never waits.
type FixedPacer struct {
	interval time.Duration
	mu       sync.Mutex
	last     time.Time
}

// NewFixedPacer returns a pacer with the given inter-call delay.
func NewFixedPacer(interval time.Duration) *FixedPacer {
	return &FixedPacer{interval: interval}
}

// Wait implements Pacer
func (p *FixedPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.last.IsZero() {
		if remaining := p.interval - time.Since(p.last); remaining > 0 {
			timer := time.NewTimer(remaining)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	p.last = time.Now()
	return nil
}

// TokenBucketPacer allows bursts of submissions refilled at a fixed rate.
type TokenBucketPacer struct {
	limiter *rate.Limiter
}

// NewTokenBucketPacer refills one token per interval up to burst tokens.
func NewTokenBucketPacer(interval time.Duration, burst int) *TokenBucketPacer {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketPacer{limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

// Wait implements Pacer
func (p *TokenBucketPacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// NoPacer never waits.
type NoPacer struct{}

// Wait implements Pacer
func (NoPacer) Wait(ctx context.Context) error {
	return ctx.Err()
}
