// File: internal/navigator/poll.go
package navigator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrPollTimeout is returned by pollUntil when the predicate never became
// true within the ceiling.
var ErrPollTimeout = errors.New("poll timed out")

// pollSpec describes one bounded wait loop. Every wait in the session goes
// through pollUntil so the tick/ceiling/progress-logging contract cannot
// drift between call sites.
type pollSpec struct {
	// name identifies the wait in log output.
	name string
	// tick is the interval between predicate evaluations.
	tick time.Duration
	// timeout is the hard ceiling on the whole wait.
	timeout time.Duration
	// progressEvery logs a progress line every N ticks; 0 disables.
	progressEvery int
}

// pollUntil evaluates predicate once per tick until it reports done, the
// ceiling elapses, or the context is canceled. The predicate's error aborts
// the loop; predicates are expected to swallow probe errors they consider
// transient.
func pollUntil(ctx context.Context, logger *zap.Logger, spec pollSpec, predicate func(context.Context) (bool, error)) error {
	start := time.Now()
	deadline := start.Add(spec.timeout)

	ticker := time.NewTicker(spec.tick)
	defer ticker.Stop()

	for n := 0; ; n++ {
		done, err := predicate(ctx)
		if err != nil {
			return err
		}
		if done {
			logger.Debug("Wait satisfied",
				zap.String("wait", spec.name),
				zap.Duration("elapsed", time.Since(start)))
			return nil
		}

		if spec.progressEvery > 0 && n > 0 && n%spec.progressEvery == 0 {
			logger.Info("Still waiting",
				zap.String("wait", spec.name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Duration("ceiling", spec.timeout))
		}

		if time.Now().After(deadline) {
			logger.Warn("Wait ceiling reached",
				zap.String("wait", spec.name),
				zap.Duration("elapsed", time.Since(start)))
			return ErrPollTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
