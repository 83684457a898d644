// File: internal/extract/handler.go
package extract

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dfalqueto/senafine/internal/config"
	"github.com/dfalqueto/senafine/internal/navigator"
)

// Saver persists extracted records. The walk only needs the count of
// records that actually landed.
type Saver interface {
	SaveFines(ctx context.Context, records []FineRecord) (int, error)
}

// Handler turns a rendered detail page into persisted fine records. It
// satisfies the navigator's detail handler contract.
type Handler struct {
	saver  Saver
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler builds a Handler. saver may be nil for dry runs; extraction
// still happens so a dry run exercises the full path.
func NewHandler(saver Saver, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		saver:  saver,
		cfg:    cfg,
		logger: logger.Named("extract"),
		now:    time.Now,
	}
}

// Handle reads every fine block on the current detail page, parses each
// into a record and persists the batch. A page whose blocks all fail to
// parse is an error; the caller treats it as a recovered item.
func (h *Handler) Handle(ctx context.Context, driver navigator.Driver, item navigator.Item) error {
	plate := PlateFromText(item.Text)
	log := h.logger.With(zap.String("plate", plate), zap.Int("index", item.Index))
	if plate == "" {
		log.Warn("No plate recognized in item text", zap.String("text", item.Text))
	}

	selector := h.cfg.Selectors.FineBlock
	count, err := driver.Count(ctx, selector)
	if err != nil {
		return fmt.Errorf("counting fine blocks: %w", err)
	}
	log.Info("Extracting fine blocks", zap.Int("blocks", count))

	records := make([]FineRecord, 0, count)
	scrapedAt := h.now()
	for i := 0; i < count; i++ {
		text, err := driver.NthText(ctx, selector, i)
		if err != nil {
			log.Warn("Fine block unreadable", zap.Int("block", i), zap.Error(err))
			continue
		}
		record, ok := ParseBlock(text, plate, scrapedAt)
		if !ok {
			log.Warn("Fine block without identity, skipped", zap.Int("block", i))
			continue
		}
		records = append(records, record)
	}

	if len(records) == 0 {
		return fmt.Errorf("no parseable fine records among %d blocks", count)
	}

	if h.saver == nil {
		log.Info("Dry run, records not persisted", zap.Int("records", len(records)))
		return nil
	}

	saved, err := h.saver.SaveFines(ctx, records)
	if err != nil {
		return fmt.Errorf("persisting %d records: %w", len(records), err)
	}
	log.Info("Records persisted", zap.Int("extracted", len(records)), zap.Int("saved", saved))
	return nil
}
