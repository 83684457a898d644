// File: cmd/fines.go
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dfalqueto/senafine/internal/config"
	"github.com/dfalqueto/senafine/internal/extract"
	"github.com/dfalqueto/senafine/internal/observability"
	"github.com/dfalqueto/senafine/internal/store"
)

// newFinesCmd creates the `fines` command, which lists stored fines for a
// vehicle plate.
func newFinesCmd() *cobra.Command {
	finesCmd := &cobra.Command{
		Use:   "fines <plate>",
		Short: "Lists stored fine records for a vehicle plate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			plate := extract.PlateFromText(strings.ToUpper(args[0]))
			if plate == "" {
				return fmt.Errorf("%q is not a recognizable vehicle plate", args[0])
			}

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			if cfg.Store.URL == "" {
				return fmt.Errorf("store.url is required (set SENAFINE_STORE_URL)")
			}

			pool, err := pgxpool.New(ctx, cfg.Store.URL)
			if err != nil {
				return fmt.Errorf("failed to create database pool: %w", err)
			}
			defer pool.Close()

			s, err := store.New(ctx, pool, logger)
			if err != nil {
				return err
			}

			records, err := s.GetFinesByVehicle(ctx, plate)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Printf("No stored fines for %s\n", plate)
				return nil
			}

			enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		},
	}
	return finesCmd
}

// newStatsCmd creates the `stats` command, which summarizes the stored data.
func newStatsCmd() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Shows totals for the stored fine data",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			if cfg.Store.URL == "" {
				return fmt.Errorf("store.url is required (set SENAFINE_STORE_URL)")
			}

			pool, err := pgxpool.New(ctx, cfg.Store.URL)
			if err != nil {
				return fmt.Errorf("failed to create database pool: %w", err)
			}
			defer pool.Close()

			s, err := store.New(ctx, pool, logger)
			if err != nil {
				return err
			}

			stats, err := s.GetStatistics(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Fines: %d\nVehicles: %d\n", stats.TotalFines, stats.TotalVehicles)
			return nil
		},
	}
	return statsCmd
}
