// File: internal/behavior/behavior.go

// Package behavior adds human-scale timing between browser actions: jittered
// pauses, occasional longer reading stops, and random scrolls. Uniform
// machine-speed action cadence is one of the portal's cheapest bot tells.
package behavior

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/dfalqueto/senafine/internal/config"
)

// Scroller is the page capability the simulator needs for scroll gestures.
type Scroller interface {
	Evaluate(ctx context.Context, js string, out any) error
}

// Simulator produces the delays. All methods are no-ops when disabled.
type Simulator struct {
	cfg    config.BehaviorConfig
	logger *zap.Logger
	rng    *rand.Rand
}

// NewSimulator creates a Simulator seeded from the wall clock.
func NewSimulator(cfg config.BehaviorConfig, logger *zap.Logger) *Simulator {
	return &Simulator{
		cfg:    cfg,
		logger: logger.Named("behavior"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// jitter returns base scaled by a random factor in [1-variance, 1+variance].
func (s *Simulator) jitter(base time.Duration) time.Duration {
	v := s.cfg.Variance
	if v <= 0 {
		return base
	}
	factor := 1 - v + s.rng.Float64()*2*v
	d := time.Duration(float64(base) * factor)
	if d < 0 {
		return 0
	}
	return d
}

// sleep waits for d or until the context is canceled.
func (s *Simulator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pause waits a jittered base delay, occasionally stretched into a longer
// reading pause.
func (s *Simulator) Pause(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	d := s.jitter(s.cfg.BaseDelay)
	if s.rng.Float64() < s.cfg.ReadingChance {
		d += time.Duration(2+s.rng.Intn(4)) * time.Second
		s.logger.Debug("Simulating reading pause", zap.Duration("delay", d))
	}
	return s.sleep(ctx, d)
}

// ShortPause waits roughly half a base delay. Used between small actions
// inside one page.
func (s *Simulator) ShortPause(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	return s.sleep(ctx, s.jitter(s.cfg.BaseDelay/2))
}

// MaybeScroll performs a small random scroll gesture with the configured
// probability. Scroll failures are logged and swallowed; cosmetics must
// never break the flow.
func (s *Simulator) MaybeScroll(ctx context.Context, page Scroller) {
	if !s.cfg.Enabled || s.rng.Float64() >= s.cfg.ScrollChance {
		return
	}
	px := 120 + s.rng.Intn(480)
	if s.rng.Float64() < 0.3 {
		px = -px
	}
	js := fmt.Sprintf(`window.scrollBy({top: %d, behavior: 'smooth'});`, px)
	if err := page.Evaluate(ctx, js, nil); err != nil {
		s.logger.Debug("Scroll gesture failed", zap.Error(err))
		return
	}
	_ = s.sleep(ctx, s.jitter(500*time.Millisecond))
}
