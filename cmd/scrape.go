// File: cmd/scrape.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dfalqueto/senafine/internal/browser"
	"github.com/dfalqueto/senafine/internal/captcha"
	"github.com/dfalqueto/senafine/internal/certs"
	"github.com/dfalqueto/senafine/internal/config"
	"github.com/dfalqueto/senafine/internal/extract"
	"github.com/dfalqueto/senafine/internal/navigator"
	"github.com/dfalqueto/senafine/internal/observability"
	"github.com/dfalqueto/senafine/internal/store"
)

// newScrapeCmd creates and configures the `scrape` command.
func newScrapeCmd() *cobra.Command {
	scrapeCmd := &cobra.Command{
		Use:   "scrape",
		Short: "Authenticates to the portal and collects fine records for every vehicle",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so they override file and env
			// values with the right precedence.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("walker.max_pages", cmd.Flags().Lookup("max-pages")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.user_data_dir", cmd.Flags().Lookup("profile-dir")); err != nil {
				return err
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			if _, err := certs.Preflight(cfg.Certificate.Path, logger); err != nil {
				if cfg.Certificate.Required {
					return fmt.Errorf("certificate preflight failed: %w", err)
				}
				logger.Warn("Certificate preflight failed, continuing without it", zap.Error(err))
			}

			saver, st, cleanup, err := buildSaver(ctx, cfg, dryRun, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			var solver navigator.Solver
			if cfg.Captcha.Enabled {
				client, err := captcha.NewClient(cfg.Captcha, logger)
				if err != nil {
					return fmt.Errorf("failed to build captcha client: %w", err)
				}
				solver = client
			}

			manager, err := browser.NewManager(ctx, logger, cfg)
			if err != nil {
				return fmt.Errorf("failed to launch browser: %w", err)
			}
			defer func() {
				if err := manager.Shutdown(context.Background()); err != nil {
					logger.Warn("Browser shutdown incomplete", zap.Error(err))
				}
			}()

			page, err := manager.NewPage(ctx)
			if err != nil {
				return fmt.Errorf("failed to open page: %w", err)
			}
			defer page.Close()

			handler := extract.NewHandler(saver, cfg, logger)

			session := navigator.NewSession(page, solver, handler.Handle, nil, cfg, logger)
			stats, err := session.Run(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Run aborted by signal", zap.String("session_id", session.ID))
					return fmt.Errorf("run aborted by user signal")
				}
				return err
			}

			fmt.Printf("\nRun complete. Pages: %d  Vehicles: %d  Processed: %d  No fines: %d  Recovered: %d\n",
				stats.Pages, stats.Items, stats.Processed, stats.NoDetail, stats.Recovered)

			// Cookie count tells the operator whether the persisted profile
			// can short-circuit login on the next run.
			if cookies, err := page.Cookies(ctx); err == nil {
				logger.Debug("Session cookies held", zap.Int("count", len(cookies)))
			}

			if st != nil {
				totals, err := st.GetStatistics(ctx)
				if err != nil {
					logger.Warn("Failed to read store totals", zap.Error(err))
				} else {
					logger.Info("Store totals",
						zap.Int("fines", totals.TotalFines),
						zap.Int("vehicles", totals.TotalVehicles))
				}
			}
			return nil
		},
	}

	scrapeCmd.Flags().Bool("headless", false, "run the browser headless")
	scrapeCmd.Flags().Int("max-pages", 0, "hard ceiling on list pages to walk (0 = unbounded)")
	scrapeCmd.Flags().String("profile-dir", "", "browser profile directory for cookie persistence")
	scrapeCmd.Flags().Bool("dry-run", false, "extract records but do not persist them")

	return scrapeCmd
}

// buildSaver connects the persistence layer. Dry runs and disabled stores
// return a nil saver, which downgrades the detail handler to extract-only.
func buildSaver(ctx context.Context, cfg *config.Config, dryRun bool, logger *zap.Logger) (extract.Saver, *store.Store, func(), error) {
	noop := func() {}
	if dryRun || !cfg.Store.Enabled {
		logger.Info("Persistence disabled", zap.Bool("dry_run", dryRun))
		return nil, nil, noop, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Store.URL)
	if err != nil {
		return nil, nil, noop, fmt.Errorf("failed to create database pool: %w", err)
	}

	s, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, noop, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, noop, err
	}
	return s, s, pool.Close, nil
}
