// migrate applies the one-off database migrations.
//
// Commands:
// - up: apply pending migrations matching MIGRATIONS_TAGS
// - down <name>: roll back one applied migration
// - status: list migrations and whether they have run
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leafsync/leafsync/internal/config"
	"github.com/leafsync/leafsync/internal/logging"
	"github.com/leafsync/leafsync/internal/migrations"
	"github.com/leafsync/leafsync/pkg/retry"
)

var (
	envFile string
	tags    []string
	timeout time.Duration
)

var connectRetry = retry.Config{
	MaxAttempts: 5,
	InitialWait: time.Second,
	MaxWait:     15 * time.Second,
	Multiplier:  2,
	Jitter:      0.1,
}

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Run database migrations",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(ctx context.Context, r *migrations.Runner, cfg *config.MigrateConfig) error {
			filter := cfg.Tags
			if cmd.Flags().Changed("tags") {
				filter = tags
			}
			ran, err := r.Up(ctx, filter)
			for _, name := range ran {
				fmt.Fprintf(cmd.OutOrStdout(), "applied  %s\n", name)
			}
			if err == nil && len(ran) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to apply")
			}
			return err
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down <name>",
	Short: "Roll back an applied migration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(ctx context.Context, r *migrations.Runner, _ *config.MigrateConfig) error {
			if err := r.Down(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back  %s\n", args[0])
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(ctx context.Context, r *migrations.Runner, _ *config.MigrateConfig) error {
			st, err := r.Status(ctx)
			if err != nil {
				return err
			}
			for _, s := range st {
				state := "pending"
				if s.Applied {
					state = "applied"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s [%s]\n", state, s.Name, strings.Join(s.Tags, ","))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Overall timeout")
	upCmd.Flags().StringSliceVar(&tags, "tags", nil, "Only run migrations with one of these tags")
	rootCmd.AddCommand(upCmd, downCmd, statusCmd)
}

func openDatabase(ctx context.Context, cfg *config.MigrateConfig) (migrations.Database, error) {
	switch cfg.Driver {
	case "postgres":
		return migrations.OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return migrations.ConnectMongo(ctx, cfg.MongoURL, cfg.MongoDatabase)
	}
}

func withRunner(cmd *cobra.Command, fn func(context.Context, *migrations.Runner, *config.MigrateConfig) error) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	cfg, err := config.LoadMigrate()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return fmt.Errorf("logging init error: %w", err)
	}
	defer logging.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	// the database often starts alongside this job
	var db migrations.Database
	err = retry.Do(ctx, connectRetry, func() error {
		d, err := openDatabase(ctx, cfg)
		if err != nil {
			logging.L().Warn("database not reachable", zap.String("driver", cfg.Driver), zap.Error(err))
			return retry.Retryable(err)
		}
		db = d
		return nil
	})
	if err != nil {
		return err
	}
	defer db.Close(context.Background())

	logging.L().Info("connected", zap.String("driver", cfg.Driver))
	return fn(ctx, migrations.NewRunner(db, migrations.Default(), logging.L()), cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
