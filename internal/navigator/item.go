// File: internal/navigator/item.go
package navigator

import (
	"context"

	"go.uber.org/zap"

	"github.com/dfalqueto/senafine/internal/behavior"
	"github.com/dfalqueto/senafine/internal/config"
)

// ItemOutcome is the terminal result of processing one item. No outcome
// aborts the walk; the worst case is a recovered failure.
type ItemOutcome int

const (
	// ItemProcessed means the detail page rendered and the handler ran.
	ItemProcessed ItemOutcome = iota
	// ItemNoDetail means the detail page rendered without a fine block,
	// which is a valid result (a vehicle with zero fines).
	ItemNoDetail
	// ItemRecovered means processing failed and the session was recovered
	// back to the list.
	ItemRecovered
)

func (o ItemOutcome) String() string {
	switch o {
	case ItemProcessed:
		return "processed"
	case ItemNoDetail:
		return "no_detail"
	case ItemRecovered:
		return "recovered"
	default:
		return "unknown"
	}
}

// DetailHandler consumes a rendered detail page: extraction, persistence,
// whatever the run is for. Its error marks the item recovered, never the
// session failed.
type DetailHandler func(ctx context.Context, driver Driver, item Item) error

// Processor opens one item, waits for its detail content, runs the handler
// and returns the session to the list. Every failure path inside it ends in
// back-navigation recovery rather than propagating.
type Processor struct {
	driver   Driver
	detector *Detector
	resolver *Resolver
	behavior *behavior.Simulator
	handler  DetailHandler
	cfg      *config.Config
	logger   *zap.Logger
}

// NewProcessor builds a Processor. handler may be nil for dry runs.
func NewProcessor(driver Driver, detector *Detector, resolver *Resolver, sim *behavior.Simulator, handler DetailHandler, cfg *config.Config, logger *zap.Logger) *Processor {
	return &Processor{
		driver:   driver,
		detector: detector,
		resolver: resolver,
		behavior: sim,
		handler:  handler,
		cfg:      cfg,
		logger:   logger.Named("item"),
	}
}

// Process runs one item to a terminal outcome.
func (p *Processor) Process(ctx context.Context, item Item) ItemOutcome {
	log := p.logger.With(zap.Int("index", item.Index), zap.String("item", truncate(item.Text, 60)))
	log.Info("Opening item")

	_ = p.behavior.ShortPause(ctx)

	if err := p.driver.ClickNth(ctx, item.Selector, item.Index); err != nil {
		log.Warn("Item click failed", zap.Error(err))
		p.returnToList(ctx, log)
		return ItemRecovered
	}

	_ = p.driver.WaitReady(ctx)

	// A challenge right after opening is common under rate pressure; an
	// unresolved one aborts this item only.
	if ch := p.detector.Detect(ctx); ch != nil {
		if !p.resolver.Resolve(ctx, ch, p.cfg.Timeouts.ChallengeResolution) {
			log.Warn("Challenge on detail page unresolved, abandoning item",
				zap.Stringer("kind", ch.Kind))
			p.returnToList(ctx, log)
			return ItemRecovered
		}
	}

	outcome := ItemProcessed
	if err := p.driver.WaitVisible(ctx, p.cfg.Selectors.FineBlock, p.cfg.Timeouts.DetailWait); err != nil {
		// Absence of the fine block is a legitimate terminal state.
		log.Info("No fine block on detail page", zap.Error(err))
		outcome = ItemNoDetail
	} else if p.handler != nil {
		_ = p.behavior.Pause(ctx)
		p.behavior.MaybeScroll(ctx, p.driver)
		if err := p.handler(ctx, p.driver, item); err != nil {
			log.Error("Detail handler failed", zap.Error(err))
			outcome = ItemRecovered
		}
	}

	p.returnToList(ctx, log)
	log.Info("Item finished", zap.Stringer("outcome", outcome))
	return outcome
}

// returnToList restores the session to the vehicle list: history back first,
// then a direct navigation to the canonical URL. The list container must be
// reacquired either way; back navigation on a single-page app does not
// guarantee preserved state.
func (p *Processor) returnToList(ctx context.Context, log *zap.Logger) {
	if err := p.driver.NavigateBack(ctx); err != nil {
		log.Warn("Back navigation failed, renavigating to list", zap.Error(err))
	} else {
		_ = p.driver.WaitReady(ctx)
		if p.listVisible(ctx) {
			return
		}
		log.Warn("List container absent after back navigation, renavigating")
	}

	if err := p.driver.Navigate(ctx, p.cfg.Portal.VehicleListURL); err != nil {
		log.Error("Direct list navigation failed", zap.Error(err))
		return
	}
	_ = p.driver.WaitReady(ctx)
	if !p.listVisible(ctx) {
		log.Error("List container still absent after direct navigation")
	}
}

func (p *Processor) listVisible(ctx context.Context) bool {
	err := pollUntil(ctx, p.logger, pollSpec{
		name:          "list_reacquire",
		tick:          p.cfg.Timeouts.PollTick,
		timeout:       p.cfg.Timeouts.DetailWait,
		progressEvery: p.cfg.Timeouts.ProgressEvery,
	}, func(ctx context.Context) (bool, error) {
		n, err := p.driver.Count(ctx, p.cfg.Selectors.ListContainer)
		if err != nil {
			return false, nil
		}
		return n > 0, nil
	})
	return err == nil
}

// truncate shortens s to at most n runes; item texts are Portuguese, so
// cutting on byte offsets could split an accented character.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
