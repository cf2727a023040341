package main

import (
	"context"
	"fmt"
	"path"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/leafsync/leafsync/internal/logging"
	"github.com/leafsync/leafsync/internal/storage"
	s3backend "github.com/leafsync/leafsync/internal/storage/s3"
	"github.com/leafsync/leafsync/pkg/linkedfile"
)

var downloadForce bool

var downloadCmd = &cobra.Command{
	Use:   "download <file-id> [key]",
	Short: "Copy a project file into the configured storage backend",
	Long: "Copy a project file into the configured storage backend. The key " +
		"defaults to <project-id>/<file-name>. An object already under the key is kept " +
		"unless --force is given.",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c := newClient(ctx)
		file, err := loadFile(ctx, c, args[0])
		if err != nil {
			return err
		}
		key := path.Join(cfg.ProjectID, file.Name)
		if len(args) == 2 {
			key = args[1]
		}

		backend, err := storage.New(ctx, storage.Config{
			Backend:   cfg.StorageBackend,
			LocalPath: cfg.LocalStoragePath,
			S3: s3backend.Config{
				Endpoint:  cfg.S3Endpoint,
				Bucket:    cfg.S3Bucket,
				AccessKey: cfg.S3AccessKey,
				SecretKey: cfg.S3SecretKey,
				Region:    cfg.S3Region,
				Prefix:    cfg.S3Prefix,
			},
			Logger: logging.FromContext(ctx),
		})
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer backend.Close()

		h := linkedfile.NewHeader(ctx, linkedfile.HeaderConfig{
			ProjectID: cfg.ProjectID,
			File:      *file,
			API:       c,
			Logger:    logging.FromContext(ctx),
		})
		defer h.Close()

		stored, n, err := storeFile(ctx, backend, h, key, downloadForce)
		if err != nil {
			return err
		}
		verb := "stored"
		if !stored {
			verb = "kept existing"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s) in %s:%s\n",
			verb, file.Name, humanize.Bytes(uint64(n)), backend.Type(), key)
		return nil
	},
}

func init() {
	downloadCmd.Flags().BoolVar(&downloadForce, "force", false, "Replace an object already stored under the key")
	rootCmd.AddCommand(downloadCmd)
}

type downloader interface {
	Download(ctx context.Context, sink linkedfile.Sink, key string) (int64, error)
}

// storeFile downloads into backend under key unless an object is already
// there and force is unset. It reports whether it wrote and the size of
// the object now stored.
func storeFile(ctx context.Context, backend storage.Backend, d downloader, key string, force bool) (bool, int64, error) {
	if !force {
		exists, err := backend.ObjectExists(ctx, key)
		if err != nil {
			return false, 0, fmt.Errorf("check %s: %w", key, err)
		}
		if exists {
			rc, size, err := backend.GetObject(ctx, key)
			if err != nil {
				return false, 0, fmt.Errorf("read %s: %w", key, err)
			}
			rc.Close()
			return false, size, nil
		}
	}
	n, err := d.Download(ctx, backend, key)
	if err != nil {
		return false, 0, err
	}
	return true, n, nil
}
