// File: internal/navigator/walker.go
package navigator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dfalqueto/senafine/internal/behavior"
	"github.com/dfalqueto/senafine/internal/config"
)

// Item is one enumerable entity in the vehicle list. Selector records which
// structural query yielded it so the processor can re-address it by index.
type Item struct {
	Index    int
	Text     string
	Selector string
}

// ListPage is one page of the paginated list.
type ListPage struct {
	Index     int // 1-based
	Items     []Item
	TotalHint int // total item count parsed from pagination text, 0 if unknown
}

// WalkStats summarizes a completed walk.
type WalkStats struct {
	Pages     int
	Items     int
	Processed int
	NoDetail  int
	Recovered int
}

// ErrListNotFound means the list container never became visible; this is
// session-fatal, unlike any single item failing.
var ErrListNotFound = errors.New("vehicle list container not found")

var paginationRangePattern = regexp.MustCompile(`(\d+)\s*-\s*(\d+)\s+de\s+(\d+)`)

// ItemProcessor handles one enumerated item. Implemented by Processor;
// tests substitute scripted fakes.
type ItemProcessor interface {
	Process(ctx context.Context, item Item) ItemOutcome
}

// Walker enumerates the paginated vehicle list and drives the processor
// over every valid item.
type Walker struct {
	driver    Driver
	detector  *Detector
	resolver  *Resolver
	behavior  *behavior.Simulator
	processor ItemProcessor
	limiter   *rate.Limiter
	cfg       *config.Config
	logger    *zap.Logger
}

// NewWalker builds a Walker. The limiter paces page advances and item opens
// to the configured interval.
func NewWalker(driver Driver, detector *Detector, resolver *Resolver, sim *behavior.Simulator, processor ItemProcessor, cfg *config.Config, logger *zap.Logger) *Walker {
	interval := cfg.Walker.PageInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Walker{
		driver:    driver,
		detector:  detector,
		resolver:  resolver,
		behavior:  sim,
		processor: processor,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		cfg:       cfg,
		logger:    logger.Named("walker"),
	}
}

// Walk enumerates every page until no next-page signal remains or the
// configured page ceiling is hit.
func (w *Walker) Walk(ctx context.Context) (WalkStats, error) {
	var stats WalkStats

	if err := w.driver.Navigate(ctx, w.cfg.Portal.VehicleListURL); err != nil {
		return stats, fmt.Errorf("failed to open vehicle list: %w", err)
	}
	if err := w.awaitList(ctx); err != nil {
		return stats, err
	}

	for pageIndex := 1; ; pageIndex++ {
		page, err := w.collectPage(ctx, pageIndex)
		if err != nil {
			return stats, err
		}
		stats.Pages++
		stats.Items += len(page.Items)

		w.logger.Info("Processing list page",
			zap.Int("page", page.Index),
			zap.Int("items", len(page.Items)),
			zap.Int("total_hint", page.TotalHint))

		for _, item := range page.Items {
			if err := w.limiter.Wait(ctx); err != nil {
				return stats, err
			}
			switch w.processor.Process(ctx, item) {
			case ItemProcessed:
				stats.Processed++
			case ItemNoDetail:
				stats.NoDetail++
			case ItemRecovered:
				stats.Recovered++
			}
		}

		more, err := w.hasNextPage(ctx, page)
		if err != nil {
			return stats, err
		}
		if !more {
			w.logger.Info("No next-page signal, walk complete",
				zap.Int("pages", stats.Pages), zap.Int("items", stats.Items))
			break
		}
		// Check the ceiling before clicking; loading a page that would only
		// be discarded wastes a page load and a challenge pass.
		if max := w.cfg.Walker.MaxPages; max > 0 && pageIndex >= max {
			w.logger.Warn("Page ceiling reached, stopping walk", zap.Int("max_pages", max))
			break
		}
		if err := w.advancePage(ctx, pageIndex); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

// awaitList waits for the list container to render; its absence after the
// full budget is session-fatal.
func (w *Walker) awaitList(ctx context.Context) error {
	_ = w.driver.WaitReady(ctx)
	err := pollUntil(ctx, w.logger, pollSpec{
		name:          "list_container",
		tick:          w.cfg.Timeouts.PollTick,
		timeout:       w.cfg.Timeouts.Navigation,
		progressEvery: w.cfg.Timeouts.ProgressEvery,
	}, func(ctx context.Context) (bool, error) {
		if ch := w.detector.Detect(ctx); ch != nil {
			if !w.resolver.Resolve(ctx, ch, w.cfg.Timeouts.ChallengeResolution) {
				w.logger.Warn("Challenge on list page unresolved", zap.Stringer("kind", ch.Kind))
			}
			return false, nil
		}
		n, err := w.driver.Count(ctx, w.cfg.Selectors.ListContainer)
		if err != nil {
			return false, nil
		}
		return n > 0, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListNotFound, err)
	}
	return nil
}

// collectPage discovers and validates the items on the current page.
func (w *Walker) collectPage(ctx context.Context, pageIndex int) (ListPage, error) {
	page := ListPage{Index: pageIndex}
	total, expected := w.paginationRange(ctx)
	page.TotalHint = total

	items, err := w.discoverItems(ctx, w.cfg.Selectors.ListItem)
	if err != nil {
		w.logger.Debug("Primary item selector failed", zap.Error(err))
	}

	// The plausibility check runs on the validated yield, not the raw match
	// count: a stale primary selector can still match control artifacts. Zero
	// surviving items, or fewer than the range text promises for this page,
	// triggers the fallback.
	implausible := len(items) == 0 || (expected > 0 && len(items) < expected)
	if implausible && w.cfg.Selectors.ListItemFallback != "" {
		w.logger.Warn("Primary item selector yield implausible, using fallback",
			zap.String("primary", w.cfg.Selectors.ListItem),
			zap.Int("valid_items", len(items)),
			zap.Int("expected", expected))
		fallback, ferr := w.discoverItems(ctx, w.cfg.Selectors.ListItemFallback)
		if err != nil && ferr != nil {
			return page, fmt.Errorf("item discovery failed on both selectors: %w", ferr)
		}
		if len(fallback) > len(items) {
			items = fallback
		}
	}

	page.Items = items
	return page, nil
}

// discoverItems queries one structural selector and keeps the candidates
// that pass the validity predicates.
func (w *Walker) discoverItems(ctx context.Context, selector string) ([]Item, error) {
	count, err := w.driver.Count(ctx, selector)
	if err != nil {
		return nil, err
	}
	var items []Item
	for i := 0; i < count; i++ {
		if item, ok := w.validateItem(ctx, selector, i); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// validateItem applies the three validity predicates: clickable, carries
// non-trivial text, and is not a pagination/control artifact. Probe errors
// exclude the candidate.
func (w *Walker) validateItem(ctx context.Context, selector string, index int) (Item, bool) {
	clickable, err := w.driver.NthClickable(ctx, selector, index)
	if err != nil || !clickable {
		return Item{}, false
	}

	text, err := w.driver.NthText(ctx, selector, index)
	if err != nil {
		return Item{}, false
	}
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < w.cfg.Selectors.MinItemTextLength {
		return Item{}, false
	}

	lower := strings.ToLower(trimmed)
	for _, kw := range w.cfg.Selectors.ControlKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			w.logger.Debug("Excluding control artifact",
				zap.Int("index", index), zap.String("keyword", kw))
			return Item{}, false
		}
	}

	return Item{Index: index, Text: trimmed, Selector: selector}, true
}

// paginationRange parses the "A-B de N" range text, returning the grand
// total N and the item count the range promises for the current page. Both
// are 0 when the text is absent or unparseable.
func (w *Walker) paginationRange(ctx context.Context) (total, pageCount int) {
	text, err := w.driver.Text(ctx, w.cfg.Selectors.PaginationText)
	if err != nil {
		return 0, 0
	}
	m := paginationRangePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0
	}
	lower, _ := strconv.Atoi(m[1])
	upper, _ := strconv.Atoi(m[2])
	total, _ = strconv.Atoi(m[3])
	if upper >= lower {
		pageCount = upper - lower + 1
	}
	return total, pageCount
}

// hasNextPage runs the three next-page strategies in order; the first one
// that yields a verdict wins. No signal from any of them means the list is
// exhausted, which is success.
func (w *Walker) hasNextPage(ctx context.Context, page ListPage) (bool, error) {
	// Strategy 1: structured pagination range text.
	if text, err := w.driver.Text(ctx, w.cfg.Selectors.PaginationText); err == nil {
		if m := paginationRangePattern.FindStringSubmatch(text); m != nil {
			upper, _ := strconv.Atoi(m[2])
			total, _ := strconv.Atoi(m[3])
			more := upper < total
			w.logger.Debug("Next-page verdict from range text",
				zap.String("range", m[0]), zap.Bool("more", more))
			return more, nil
		}
	}

	// Strategy 2: known next-button disabled probe.
	if n, err := w.driver.Count(ctx, w.cfg.Selectors.NextButton); err == nil && n > 0 {
		if disabled, err := w.buttonDisabled(ctx, w.cfg.Selectors.NextButton); err == nil {
			w.logger.Debug("Next-page verdict from button state", zap.Bool("disabled", disabled))
			return !disabled, nil
		}
	}

	// Strategy 3: generic text/aria-label shapes.
	for _, sel := range w.cfg.Selectors.NextButtonFallbacks {
		n, err := w.driver.Count(ctx, sel)
		if err != nil || n == 0 {
			continue
		}
		disabled, err := w.buttonDisabled(ctx, sel)
		if err != nil {
			continue
		}
		w.logger.Debug("Next-page verdict from fallback control",
			zap.String("selector", sel), zap.Bool("disabled", disabled))
		return !disabled, nil
	}

	return false, nil
}

func (w *Walker) buttonDisabled(ctx context.Context, selector string) (bool, error) {
	if _, ok, err := w.driver.Attribute(ctx, selector, "disabled"); err == nil && ok {
		return true, nil
	} else if err != nil {
		return false, err
	}
	cls, ok, err := w.driver.Attribute(ctx, selector, "class")
	if err != nil {
		return false, err
	}
	return ok && strings.Contains(cls, "disabled"), nil
}

// advancePage clicks the next-page control and leniently settles the new
// page, then clears any challenge before enumeration resumes.
func (w *Walker) advancePage(ctx context.Context, fromPage int) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	_ = w.behavior.Pause(ctx)
	w.behavior.MaybeScroll(ctx, w.driver)

	clicked := false
	candidates := append([]string{w.cfg.Selectors.NextButton}, w.cfg.Selectors.NextButtonFallbacks...)
	for _, sel := range candidates {
		if err := w.driver.Click(ctx, sel); err == nil {
			clicked = true
			break
		}
	}
	if !clicked {
		return fmt.Errorf("next-page control reported more pages but could not be clicked (page %d)", fromPage)
	}

	// Never hard-fail this wait; a fixed settle delay is the last rung.
	_ = w.driver.WaitReady(ctx)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(w.cfg.Timeouts.SettleDelay):
	}

	if ch := w.detector.Detect(ctx); ch != nil {
		if !w.resolver.Resolve(ctx, ch, w.cfg.Timeouts.ChallengeResolution) {
			w.logger.Warn("Challenge after page advance unresolved", zap.Stringer("kind", ch.Kind))
		}
	}

	w.logger.Info("Advanced to next page", zap.Int("page", fromPage+1))
	return nil
}
