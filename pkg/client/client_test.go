package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsync/leafsync/pkg/protocol"
	"github.com/leafsync/leafsync/pkg/retry"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return New(Config{
		BaseURL:   ts.URL,
		AuthToken: "tok",
		CSRFToken: "csrf",
		RetryConfig: retry.Config{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
	})
}

func TestRefreshLinkedFile_Success(t *testing.T) {
	var gotPath, gotAuth, gotCSRF, gotRequestID string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotCSRF = r.Header.Get("X-Csrf-Token")
		gotRequestID = r.Header.Get("X-Request-ID")
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, c.RefreshLinkedFile(context.Background(), "p1", "f1"))
	assert.Equal(t, "/project/p1/linked_file/f1/refresh", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "csrf", gotCSRF)
	assert.NotEmpty(t, gotRequestID)
}

func TestRefreshLinkedFile_ErrorMessage(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(protocol.ErrorResponse{Message: "source file not found"})
	}))

	err := c.RefreshLinkedFile(context.Background(), "p1", "f1")
	require.Error(t, err)
	assert.Equal(t, "source file not found", err.Error())

	var rerr *RequestError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, http.StatusUnprocessableEntity, rerr.StatusCode)
	assert.False(t, errors.Is(err, ErrUnauthorized))
}

func TestRefreshLinkedFile_NotRetried(t *testing.T) {
	var calls int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	err := c.RefreshLinkedFile(context.Background(), "p1", "f1")
	require.Error(t, err)
	assert.Equal(t, "Internal Server Error", err.Error())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRefreshLinkedFile_LoginRedirectNotFollowed(t *testing.T) {
	var loginHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&loginHits, 1)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	})
	c := testClient(t, mux)

	err := c.RefreshLinkedFile(context.Background(), "p1", "f1")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(0), atomic.LoadInt32(&loginHits))
}

func TestIndexAllReferences(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/project/p1/references/indexAll", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body protocol.IndexAllRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.ShouldBroadcast)
		json.NewEncoder(w).Encode(protocol.IndexAllResponse{Keys: []string{"knuth1984", "lamport1994"}})
	}))

	keys, err := c.IndexAllReferences(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"knuth1984", "lamport1994"}, keys)
}

func TestIndexAllReferences_Unauthorized(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	_, err := c.IndexAllReferences(context.Background(), "p1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDownloadFile_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/project/p1/file/f1", r.URL.Path)
		assert.Empty(t, r.Header.Get("X-Csrf-Token"))
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("%PDF-1.4"))
	}))

	body, size, err := c.DownloadFile(context.Background(), "p1", "f1")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
	assert.Equal(t, int64(8), size)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDownloadFile_NotFound(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	_, _, err := c.DownloadFile(context.Background(), "p1", "missing")
	var rerr *RequestError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusNotFound, rerr.StatusCode)
}

func TestFetchTree(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/project/p1/tree", r.URL.Path)
		w.Write([]byte(`{"rootFolder":{"_id":"root","name":"rootFolder","docs":[{"_id":"d1","name":"main.tex"}]}}`))
	}))

	root, err := c.FetchTree(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "root", root.ID)
	require.Len(t, root.Docs, 1)
	assert.Equal(t, "main.tex", root.Docs[0].Name)
}

func TestDownloadHref(t *testing.T) {
	assert.Equal(t, "/project/p1/file/f1", DownloadHref("p1", "f1"))
}
