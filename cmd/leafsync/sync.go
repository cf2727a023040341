package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leafsync/leafsync/internal/config"
	"github.com/leafsync/leafsync/internal/logging"
	"github.com/leafsync/leafsync/internal/metrics"
	"github.com/leafsync/leafsync/pkg/filetree"
	"github.com/leafsync/leafsync/pkg/linkedfile"
	"github.com/leafsync/leafsync/pkg/models"
	"github.com/leafsync/leafsync/pkg/realtime"
)

// transport is a channel that delivers events while Run is active.
type transport interface {
	realtime.Channel
	Run(ctx context.Context) error
}

// treeFetcher loads the server's current tree.
type treeFetcher interface {
	FetchTree(ctx context.Context, projectID string) (*models.Folder, error)
}

var (
	syncSelect  []string
	syncRefresh []string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Follow the project's real-time channel and keep the file tree in step",
	Long: "Follow the project's real-time channel and keep the file tree in step. " +
		"SIGHUP re-reads LOG_LEVEL from the env file.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runSync(ctx)
	},
}

func init() {
	syncCmd.Flags().StringSliceVar(&syncSelect, "select", nil, "Entities to start with selected")
	syncCmd.Flags().StringSliceVar(&syncRefresh, "refresh", nil, "Linked files to refresh once connected")
	rootCmd.AddCommand(syncCmd)
}

func newTransport(log *zap.Logger, onConnect func(context.Context) error) transport {
	rc := realtime.Config{
		BaseURL:   cfg.BaseURL,
		ProjectID: cfg.ProjectID,
		AuthToken: cfg.AuthToken,
		Logger:    log,
		OnConnect: onConnect,
	}
	switch cfg.Transport {
	case config.TransportWebSocket:
		return realtime.NewWebSocketTransport(rc)
	case config.TransportSSE:
		return realtime.NewSSETransport(rc)
	}
	return nil
}

// resyncOnConnect reloads the tree into l every time the channel
// connects. ready is closed after the first successful resync.
func resyncOnConnect(api treeFetcher, projectID string, l *filetree.SocketListener, ready chan<- struct{}) func(context.Context) error {
	var once sync.Once
	return func(ctx context.Context) error {
		root, err := api.FetchTree(ctx, projectID)
		if err != nil {
			return fmt.Errorf("fetch tree: %w", err)
		}
		if err := l.Resync(root); err != nil {
			return err
		}
		once.Do(func() { close(ready) })
		return nil
	}
}

// selectInitial toggles each known id into the selection and returns the
// ids that are not in the tree.
func selectInitial(tree *filetree.Tree, sel *filetree.Selection, ids []string) []string {
	var unknown []string
	for _, id := range ids {
		if _, ok := tree.Find(id); !ok {
			unknown = append(unknown, id)
			continue
		}
		sel.Toggle(id)
	}
	return unknown
}

// refreshLinked refreshes one linked file with the listener primed to
// select its replacement when the server announces it.
func refreshLinked(ctx context.Context, api linkedfile.API, projectID string, tree *filetree.Tree, expect linkedfile.RefreshExpecter, fileID string, log *zap.Logger) error {
	e, err := tree.FindOrErr(fileID)
	if err != nil {
		return err
	}
	if e.File == nil {
		return fmt.Errorf("%s is a %s, not a file", fileID, e.Kind)
	}
	h := linkedfile.NewHeader(ctx, linkedfile.HeaderConfig{
		ProjectID: projectID,
		File:      *e.File,
		API:       api,
		Expect:    expect,
		Logger:    log,
	})
	defer h.Close()
	return h.Refresh(ctx)
}

// watchLogLevel applies LOG_LEVEL from the env file on every SIGHUP.
func watchLogLevel(ctx context.Context, log *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			level := config.LogLevel(envFile)
			if err := logging.SetLevel(level); err != nil {
				log.Warn("log level not changed", zap.Error(err))
				continue
			}
			log.Info("log level changed", zap.String("level", level))
		}
	}
}

func runSync(ctx context.Context) error {
	if cfg.UserID == "" {
		return errors.New("sync needs the current user: set LEAFSYNC_USER_ID or use a token that carries one")
	}
	log := logging.FromContext(ctx)
	c := newClient(ctx)

	root, err := c.FetchTree(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("fetch tree: %w", err)
	}
	tree, err := filetree.NewTree(root)
	if err != nil {
		return fmt.Errorf("build tree: %w", err)
	}
	tree.OnChange(metrics.SetTreeNodes)
	metrics.SetTreeNodes(tree.Count())

	selection := filetree.NewSelection(tree)
	selection.OnChange(metrics.SetSelectedEntities)
	if unknown := selectInitial(tree, selection, syncSelect); len(unknown) > 0 {
		log.Warn("ignoring unknown entities in --select", zap.Strings("ids", unknown))
	}

	listener := filetree.NewSocketListener(filetree.ListenerConfig{
		Tree:      tree,
		Selection: selection,
		UserID:    cfg.UserID,
		Logger:    log,
	})

	ready := make(chan struct{})
	t := newTransport(log, resyncOnConnect(c, cfg.ProjectID, listener, ready))
	if t == nil && len(syncRefresh) > 0 {
		return errors.New("--refresh needs a transport to see the replacement file")
	}
	var ch realtime.Channel
	if t != nil {
		ch = t
	}
	unmount := listener.Mount(ch)
	defer unmount()

	log.Info("tree loaded",
		zap.Int("entities", tree.Count()),
		zap.String("transport", cfg.Transport))

	if t == nil && cfg.MetricsAddr == "" {
		log.Info("no transport configured, nothing to follow")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watchLogLevel(gctx, log)
		return nil
	})

	if t != nil {
		g.Go(func() error {
			err := t.Run(gctx)
			var herr *realtime.HandlerError
			if errors.As(err, &herr) {
				return fmt.Errorf("local tree diverged from server: %w", err)
			}
			return err
		})
	}

	if len(syncRefresh) > 0 {
		g.Go(func() error {
			select {
			case <-ready:
			case <-gctx.Done():
				return nil
			}
			for _, id := range syncRefresh {
				if err := refreshLinked(gctx, c, cfg.ProjectID, tree, listener, id, log); err != nil {
					log.Warn("refresh failed", zap.String("file_id", id), zap.Error(err))
				}
			}
			return nil
		})
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux(log),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Info("sync stopped",
		zap.Int("entities", tree.Count()),
		zap.Strings("selected", selection.SelectedIDs()))
	return err
}

func metricsMux(log *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Debug("health check")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return logging.Middleware(log, mux)
}
