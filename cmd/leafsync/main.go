// leafsync keeps a local copy of a project's file tree in step with the
// server and works with the project's linked files.
//
// Commands:
// - sync: follow the project's real-time channel and apply tree events
// - refresh: re-import a linked file and reindex references
// - download: copy a file into local or S3 storage
// - info: show a file's provenance
// - tree: print the project tree
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leafsync/leafsync/internal/config"
	"github.com/leafsync/leafsync/internal/logging"
	"github.com/leafsync/leafsync/pkg/client"
	"github.com/leafsync/leafsync/pkg/filetree"
	"github.com/leafsync/leafsync/pkg/models"
)

var (
	envFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "leafsync",
	Short:         "Project file-tree sync and linked-file tools",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
			return fmt.Errorf("logging init error: %w", err)
		}
		log := logging.L().With(zap.String("command", cmd.Name()), zap.String("project_id", cfg.ProjectID))
		cmd.SetContext(logging.IntoContext(cmd.Context(), log))
		if cfg.AuthToken != "" {
			if expired, err := client.TokenExpired(cfg.AuthToken, time.Minute); err == nil && expired {
				log.Warn("auth token is expired or about to expire")
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load")
}

func newClient(ctx context.Context) *client.Client {
	return client.New(client.Config{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.HTTPTimeout,
		AuthToken: cfg.AuthToken,
		CSRFToken: cfg.CSRFToken,
		Logger:    logging.FromContext(ctx),
	})
}

// loadFile fetches the project tree and returns the file with id fileID.
func loadFile(ctx context.Context, c *client.Client, fileID string) (*models.File, error) {
	root, err := c.FetchTree(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("fetch tree: %w", err)
	}
	tree, err := filetree.NewTree(root)
	if err != nil {
		return nil, fmt.Errorf("build tree: %w", err)
	}
	e, err := tree.FindOrErr(fileID)
	if err != nil {
		return nil, err
	}
	if e.Kind != models.KindFile || e.File == nil {
		return nil, fmt.Errorf("%s is a %s, not a file", fileID, e.Kind)
	}
	return e.File, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			logging.L().Error("not authorized, check LEAFSYNC_TOKEN", zap.Error(err))
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
