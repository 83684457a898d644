// File: internal/navigator/session.go
package navigator

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dfalqueto/senafine/internal/behavior"
	"github.com/dfalqueto/senafine/internal/config"
)

// Session is one authenticated browsing context and the components wired
// around it. One session owns one page; nothing else mutates it.
type Session struct {
	ID string

	auth   *Authenticator
	walker *Walker
	logger *zap.Logger
}

// NewSession wires a full navigator over a driver. solver, handler and
// dialog may each be nil.
func NewSession(driver Driver, solver Solver, handler DetailHandler, dialog DialogAutomator, cfg *config.Config, logger *zap.Logger) *Session {
	id := uuid.NewString()
	log := logger.With(zap.String("session_id", id))

	sim := behavior.NewSimulator(cfg.Behavior, log)
	detector := NewDetector(driver, cfg.Selectors, log)
	resolver := NewResolver(driver, detector, solver, cfg.Portal, cfg.Timeouts, log)
	auth := NewAuthenticator(driver, detector, resolver, sim, dialog, cfg, log)
	processor := NewProcessor(driver, detector, resolver, sim, handler, cfg, log)
	walker := NewWalker(driver, detector, resolver, sim, processor, cfg, log)

	return &Session{
		ID:     id,
		auth:   auth,
		walker: walker,
		logger: log.Named("session"),
	}
}

// Run authenticates (or confirms an existing authentication) and walks the
// whole vehicle list. The returned stats are valid even on error, covering
// whatever completed before the failure.
func (s *Session) Run(ctx context.Context) (WalkStats, error) {
	if !s.auth.AlreadyAuthenticated(ctx) {
		if err := s.auth.Login(ctx); err != nil {
			return WalkStats{}, err
		}
	}
	s.logger.Info("Session authenticated, starting walk")

	stats, err := s.walker.Walk(ctx)
	s.logger.Info("Walk finished",
		zap.Int("pages", stats.Pages),
		zap.Int("items", stats.Items),
		zap.Int("processed", stats.Processed),
		zap.Int("no_detail", stats.NoDetail),
		zap.Int("recovered", stats.Recovered),
		zap.Error(err))
	return stats, err
}
