package linkedfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leafsync/leafsync/internal/metrics"
	"github.com/leafsync/leafsync/pkg/client"
	"github.com/leafsync/leafsync/pkg/models"
)

var (
	// ErrRefreshInFlight is returned when Refresh is called while a refresh
	// is still running.
	ErrRefreshInFlight = errors.New("refresh already in progress")
	// ErrNotLinked is returned when refreshing a file with no external source.
	ErrNotLinked = errors.New("file is not a linked file")
)

// API is the subset of the project API the header uses.
type API interface {
	RefreshLinkedFile(ctx context.Context, projectID, fileID string) error
	IndexAllReferences(ctx context.Context, projectID string) ([]string, error)
	DownloadFile(ctx context.Context, projectID, fileID string) (io.ReadCloser, int64, error)
}

// ReferenceKeyStore receives the bibliography keys from a reindex.
type ReferenceKeyStore interface {
	StoreReferencesKeys(keys []string)
}

// ReferenceKeysFunc adapts a function to ReferenceKeyStore.
type ReferenceKeysFunc func(keys []string)

// StoreReferencesKeys calls f(keys).
func (f ReferenceKeysFunc) StoreReferencesKeys(keys []string) { f(keys) }

// RefreshExpecter is told the name of a file about to be replaced by a
// refresh. filetree.SocketListener implements it.
type RefreshExpecter interface {
	ExpectLinkedFileRefreshed(name string)
}

// Sink stores downloaded content. Storage backends implement it.
type Sink interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error
}

// HeaderConfig holds the header's dependencies.
type HeaderConfig struct {
	ProjectID string
	File      models.File
	API       API
	Keys      ReferenceKeyStore
	Expect    RefreshExpecter
	Logger    *zap.Logger
	Now       func() time.Time
}

// View is what the header displays.
type View struct {
	Provenance   *Provenance
	ShowRefresh  bool
	Refreshing   bool
	RefreshLabel string
	DownloadHref string
	Error        string
}

// Header is the linked-file header for one file. It lives until its
// context ends or Close is called; results that arrive afterwards are
// dropped.
type Header struct {
	cfg   HeaderConfig
	log   *zap.Logger
	alive context.Context
	close context.CancelFunc

	mu         sync.Mutex
	refreshing bool
	refreshErr string
}

// NewHeader creates a header bound to ctx.
func NewHeader(ctx context.Context, cfg HeaderConfig) *Header {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	alive, cancel := context.WithCancel(ctx)
	return &Header{
		cfg:   cfg,
		log:   cfg.Logger.Named("linkedfile").With(zap.String("file_id", cfg.File.ID)),
		alive: alive,
		close: cancel,
	}
}

// Close tears the header down.
func (h *Header) Close() {
	h.close()
}

// View returns the current display state.
func (h *Header) View() View {
	h.mu.Lock()
	defer h.mu.Unlock()

	v := View{
		Provenance:   RenderProvenance(&h.cfg.File, h.cfg.Now()),
		ShowRefresh:  h.cfg.File.IsLinked(),
		Refreshing:   h.refreshing,
		RefreshLabel: "Refresh",
		DownloadHref: client.DownloadHref(h.cfg.ProjectID, h.cfg.File.ID),
	}
	if h.refreshing {
		v.RefreshLabel = "Refreshing..."
	}
	if h.refreshErr != "" {
		v.Error = "Error: " + h.refreshErr
	}
	return v
}

// commit applies fn to the header state unless the header was torn down.
func (h *Header) commit(fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.alive.Err() != nil {
		h.log.Debug("header closed, dropping result")
		return false
	}
	fn()
	return true
}

// needsReindex reports whether refreshing the file can change the
// project's bibliography keys.
func (h *Header) needsReindex() bool {
	f := &h.cfg.File
	return (f.LinkedFileData != nil && f.LinkedFileData.Provider.IsReferenceProvider()) || f.IsBibliography()
}

// Refresh re-imports the file from its source. While it runs further
// calls fail with ErrRefreshInFlight. Whatever the outcome, files that
// feed the bibliography are reindexed afterwards. Requests already sent
// are not cancelled by ctx or Close. The returned error is the refresh
// request's; reindex failures are only logged.
func (h *Header) Refresh(ctx context.Context) error {
	if !h.cfg.File.IsLinked() {
		return ErrNotLinked
	}

	h.mu.Lock()
	if h.refreshing {
		h.mu.Unlock()
		return ErrRefreshInFlight
	}
	h.refreshing = true
	h.refreshErr = ""
	h.mu.Unlock()

	if h.cfg.Expect != nil {
		h.cfg.Expect.ExpectLinkedFileRefreshed(h.cfg.File.Name)
	}

	reqCtx := context.WithoutCancel(ctx)
	err := h.cfg.API.RefreshLinkedFile(reqCtx, h.cfg.ProjectID, h.cfg.File.ID)
	metrics.RecordLinkedFileRefresh(string(h.cfg.File.LinkedFileData.Provider), err == nil)

	h.commit(func() {
		h.refreshing = false
		if err != nil {
			h.refreshErr = err.Error()
		}
	})
	if err != nil {
		h.log.Warn("linked file refresh failed", zap.Error(err))
	} else {
		h.log.Info("linked file refresh requested")
	}

	if h.needsReindex() {
		h.reindex(reqCtx)
	}
	return err
}

func (h *Header) reindex(ctx context.Context) {
	keys, err := h.cfg.API.IndexAllReferences(ctx, h.cfg.ProjectID)
	metrics.RecordReferenceReindex(len(keys), err == nil)
	if err != nil {
		h.log.Warn("reference reindex failed", zap.Error(err))
		return
	}
	// the server broadcasts the same keys later; store them now so they
	// can be used straight away
	h.commit(func() {
		if h.cfg.Keys != nil {
			h.cfg.Keys.StoreReferencesKeys(keys)
		}
	})
}

// Download copies the file's content into sink under key and returns the
// number of bytes written.
func (h *Header) Download(ctx context.Context, sink Sink, key string) (int64, error) {
	body, size, err := h.cfg.API.DownloadFile(ctx, h.cfg.ProjectID, h.cfg.File.ID)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", h.cfg.File.ID, err)
	}
	defer body.Close()

	var r io.Reader = body
	if size < 0 {
		// object stores need the length up front
		data, err := io.ReadAll(body)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", h.cfg.File.ID, err)
		}
		r, size = bytes.NewReader(data), int64(len(data))
	}

	if err := sink.PutObject(ctx, key, r, size); err != nil {
		return 0, fmt.Errorf("store %s: %w", key, err)
	}
	metrics.RecordDownload(size)
	h.log.Info("file downloaded", zap.String("key", key), zap.Int64("bytes", size))
	return size, nil
}
