package linkedfile

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsync/leafsync/pkg/client"
	"github.com/leafsync/leafsync/pkg/models"
)

type fakeAPI struct {
	mu           sync.Mutex
	refreshErr   error
	reindexErr   error
	keys         []string
	refreshCalls int
	reindexCalls int
	// block, when set, holds RefreshLinkedFile until closed
	block   chan struct{}
	started chan struct{}
	content string
	size    int64
}

func (f *fakeAPI) RefreshLinkedFile(ctx context.Context, projectID, fileID string) error {
	f.mu.Lock()
	f.refreshCalls++
	block, started := f.block, f.started
	f.mu.Unlock()
	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return f.refreshErr
}

func (f *fakeAPI) IndexAllReferences(ctx context.Context, projectID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reindexCalls++
	return f.keys, f.reindexErr
}

func (f *fakeAPI) DownloadFile(ctx context.Context, projectID, fileID string) (io.ReadCloser, int64, error) {
	return io.NopCloser(strings.NewReader(f.content)), f.size, nil
}

type keyRecorder struct {
	mu   sync.Mutex
	keys [][]string
}

func (k *keyRecorder) StoreReferencesKeys(keys []string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = append(k.keys, keys)
}

type expectRecorder struct{ names []string }

func (e *expectRecorder) ExpectLinkedFileRefreshed(name string) { e.names = append(e.names, name) }

func linkedFile(name string, provider models.Provider) models.File {
	return models.File{
		ID: "f1", Name: name,
		LinkedFileData: &models.LinkedFileData{Provider: provider, URL: "https://example.com/" + name},
	}
}

func newTestHeader(t *testing.T, file models.File, api API, keys ReferenceKeyStore) *Header {
	t.Helper()
	h := NewHeader(context.Background(), HeaderConfig{ProjectID: "p1", File: file, API: api, Keys: keys})
	t.Cleanup(h.Close)
	return h
}

func TestRefresh_BibReindexesOnSuccessAndFailure(t *testing.T) {
	for _, refreshErr := range []error{nil, errors.New("upstream unavailable")} {
		api := &fakeAPI{refreshErr: refreshErr, keys: []string{"a", "b"}}
		keys := &keyRecorder{}
		h := newTestHeader(t, linkedFile("refs.bib", models.ProviderURL), api, keys)

		err := h.Refresh(context.Background())
		assert.Equal(t, refreshErr, err)
		assert.Equal(t, 1, api.reindexCalls, "refreshErr=%v", refreshErr)
		assert.Equal(t, [][]string{{"a", "b"}}, keys.keys)
	}
}

func TestRefresh_ReferenceProvidersReindex(t *testing.T) {
	for _, p := range []models.Provider{models.ProviderMendeley, models.ProviderZotero} {
		api := &fakeAPI{keys: []string{"k"}}
		h := newTestHeader(t, linkedFile("library.txt", p), api, &keyRecorder{})
		require.NoError(t, h.Refresh(context.Background()))
		assert.Equal(t, 1, api.reindexCalls, p)
	}
}

func TestRefresh_OtherFilesDoNotReindex(t *testing.T) {
	api := &fakeAPI{}
	h := newTestHeader(t, linkedFile("data.csv", models.ProviderURL), api, &keyRecorder{})
	require.NoError(t, h.Refresh(context.Background()))
	assert.Equal(t, 1, api.refreshCalls)
	assert.Equal(t, 0, api.reindexCalls)
}

func TestRefresh_FailureShowsError(t *testing.T) {
	api := &fakeAPI{refreshErr: errors.New("could not fetch url")}
	h := newTestHeader(t, linkedFile("data.csv", models.ProviderURL), api, nil)

	assert.Error(t, h.Refresh(context.Background()))
	v := h.View()
	assert.False(t, v.Refreshing)
	assert.Equal(t, "Refresh", v.RefreshLabel)
	assert.Equal(t, "Error: could not fetch url", v.Error)

	// a new attempt clears the previous error
	api.refreshErr = nil
	require.NoError(t, h.Refresh(context.Background()))
	assert.Empty(t, h.View().Error)
}

func TestRefresh_ReindexFailureOnlyLogged(t *testing.T) {
	api := &fakeAPI{reindexErr: errors.New("index down")}
	keys := &keyRecorder{}
	h := newTestHeader(t, linkedFile("refs.bib", models.ProviderURL), api, keys)

	require.NoError(t, h.Refresh(context.Background()))
	assert.Empty(t, keys.keys)
	assert.Empty(t, h.View().Error)
}

func TestRefresh_InFlightDisablesTrigger(t *testing.T) {
	api := &fakeAPI{block: make(chan struct{}), started: make(chan struct{})}
	h := newTestHeader(t, linkedFile("data.csv", models.ProviderURL), api, nil)

	done := make(chan error, 1)
	go func() { done <- h.Refresh(context.Background()) }()
	<-api.started

	v := h.View()
	assert.True(t, v.Refreshing)
	assert.Equal(t, "Refreshing...", v.RefreshLabel)
	assert.ErrorIs(t, h.Refresh(context.Background()), ErrRefreshInFlight)

	close(api.block)
	require.NoError(t, <-done)
	assert.False(t, h.View().Refreshing)
	assert.Equal(t, 1, api.refreshCalls)
}

func TestRefresh_ResultsAfterCloseAreDropped(t *testing.T) {
	api := &fakeAPI{
		refreshErr: errors.New("late failure"),
		keys:       []string{"k"},
		block:      make(chan struct{}),
		started:    make(chan struct{}),
	}
	keys := &keyRecorder{}
	h := newTestHeader(t, linkedFile("refs.bib", models.ProviderURL), api, keys)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Refresh(ctx) }()
	<-api.started

	// tearing down neither cancels the request nor lets it touch state
	cancel()
	h.Close()
	close(api.block)

	assert.EqualError(t, <-done, "late failure")
	v := h.View()
	assert.True(t, v.Refreshing)
	assert.Empty(t, v.Error)
	assert.Empty(t, keys.keys)
	assert.Equal(t, 1, api.reindexCalls)
}

func TestRefresh_AnnouncesExpectedReplacement(t *testing.T) {
	expect := &expectRecorder{}
	h := NewHeader(context.Background(), HeaderConfig{
		ProjectID: "p1", File: linkedFile("data.csv", models.ProviderURL), API: &fakeAPI{}, Expect: expect,
	})
	defer h.Close()
	require.NoError(t, h.Refresh(context.Background()))
	assert.Equal(t, []string{"data.csv"}, expect.names)
}

func TestRefresh_NotLinked(t *testing.T) {
	api := &fakeAPI{}
	h := newTestHeader(t, models.File{ID: "f1", Name: "refs.bib"}, api, nil)
	assert.ErrorIs(t, h.Refresh(context.Background()), ErrNotLinked)
	assert.Equal(t, 0, api.refreshCalls)
}

func TestView(t *testing.T) {
	h := newTestHeader(t, linkedFile("data.csv", models.ProviderURL), &fakeAPI{}, nil)
	v := h.View()
	assert.True(t, v.ShowRefresh)
	assert.Equal(t, "/project/p1/file/f1", v.DownloadHref)
	require.NotNil(t, v.Provenance)
	assert.Equal(t, KeyImportedFromURL, v.Provenance.MessageKey)

	plain := newTestHeader(t, models.File{ID: "f2", Name: "photo.jpg"}, &fakeAPI{}, nil)
	v = plain.View()
	assert.False(t, v.ShowRefresh)
	assert.Nil(t, v.Provenance)
	assert.Equal(t, "/project/p1/file/f2", v.DownloadHref)
}

type memSink struct {
	key  string
	data string
	size int64
}

func (m *memSink) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.key, m.data, m.size = key, string(data), size
	return nil
}

func TestDownload(t *testing.T) {
	for _, size := range []int64{5, -1} {
		api := &fakeAPI{content: "hello", size: size}
		h := newTestHeader(t, linkedFile("data.csv", models.ProviderURL), api, nil)
		sink := &memSink{}

		n, err := h.Download(context.Background(), sink, "p1/data.csv")
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
		assert.Equal(t, "p1/data.csv", sink.key)
		assert.Equal(t, "hello", sink.data)
		assert.Equal(t, int64(5), sink.size)
	}
}

func TestRefresh_AgainstServer(t *testing.T) {
	var refreshes, reindexes int32
	mux := http.NewServeMux()
	mux.HandleFunc("/project/p1/linked_file/f1/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshes, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"url returned 404"}`))
	})
	mux.HandleFunc("/project/p1/references/indexAll", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&reindexes, 1)
		w.Write([]byte(`{"keys":["turing1936"]}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	var stored []string
	h := NewHeader(context.Background(), HeaderConfig{
		ProjectID: "p1",
		File:      linkedFile("refs.bib", models.ProviderURL),
		API:       client.New(client.Config{BaseURL: ts.URL}),
		Keys:      ReferenceKeysFunc(func(k []string) { stored = k }),
	})
	defer h.Close()

	err := h.Refresh(context.Background())
	assert.EqualError(t, err, "url returned 404")
	assert.Equal(t, "Error: url returned 404", h.View().Error)
	assert.Equal(t, []string{"turing1936"}, stored)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
	assert.Equal(t, int32(1), atomic.LoadInt32(&reindexes))
}
