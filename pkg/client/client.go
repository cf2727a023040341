// Package client is the HTTP client for the project endpoints used by the
// linked-file header and the tree sync command.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leafsync/leafsync/pkg/models"
	"github.com/leafsync/leafsync/pkg/protocol"
	"github.com/leafsync/leafsync/pkg/retry"
)

// ErrUnauthorized is returned when the server rejects the session or tries
// to send the client to the login page.
var ErrUnauthorized = errors.New("not authorized")

// RequestError is a non-2xx response from the server.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if text := http.StatusText(e.StatusCode); text != "" {
		return text
	}
	return fmt.Sprintf("%s %s returned %d", e.Method, e.Path, e.StatusCode)
}

func (e *RequestError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden || isLoginRedirect(e.StatusCode) {
		return ErrUnauthorized
	}
	return nil
}

func isLoginRedirect(status int) bool {
	return status >= 300 && status < 400
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
	CSRFToken   string
	Logger      *zap.Logger
}

// Client talks to the project HTTP API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	log         *zap.Logger

	mu        sync.RWMutex
	authToken string
	csrfToken string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			// The server answers an expired session with a redirect to the
			// login page; surface that as a response instead of following it.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		retryConfig: cfg.RetryConfig,
		log:         cfg.Logger.Named("client"),
		authToken:   cfg.AuthToken,
		csrfToken:   cfg.CSRFToken,
	}
}

// SetAuthToken sets the bearer token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

// BaseURL returns the server root the client was configured with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("Accept", "application/json")

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if c.csrfToken != "" && method != http.MethodGet {
		req.Header.Set("X-Csrf-Token", c.csrfToken)
	}
	return req, nil
}

// postJSON sends body as JSON and decodes a JSON response into out when
// out is non-nil.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("request completed",
		zap.String("method", http.MethodPost),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readRequestError(resp, http.MethodPost, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func readRequestError(resp *http.Response, method, path string) error {
	rerr := &RequestError{Method: method, Path: path, StatusCode: resp.StatusCode}
	if isLoginRedirect(resp.StatusCode) {
		rerr.Message = "session expired: redirected to " + resp.Header.Get("Location")
		return rerr
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body protocol.ErrorResponse
	if json.Unmarshal(data, &body) == nil {
		rerr.Message = body.Message
		if rerr.Message == "" {
			rerr.Message = body.Error
		}
	}
	return rerr
}

// RefreshLinkedFile asks the server to re-import a linked file from its
// source. The replacement file arrives later over the real-time channel.
func (c *Client) RefreshLinkedFile(ctx context.Context, projectID, fileID string) error {
	path := fmt.Sprintf("/project/%s/linked_file/%s/refresh", url.PathEscape(projectID), url.PathEscape(fileID))
	return c.postJSON(ctx, path, nil, nil)
}

// IndexAllReferences rebuilds the project's bibliography key index and
// returns the keys. The server also broadcasts the new keys.
func (c *Client) IndexAllReferences(ctx context.Context, projectID string) ([]string, error) {
	path := fmt.Sprintf("/project/%s/references/indexAll", url.PathEscape(projectID))
	var resp protocol.IndexAllResponse
	if err := c.postJSON(ctx, path, protocol.IndexAllRequest{ShouldBroadcast: true}, &resp); err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// FetchTree fetches the project's root folder snapshot.
func (c *Client) FetchTree(ctx context.Context, projectID string) (*models.Folder, error) {
	path := fmt.Sprintf("/project/%s/tree", url.PathEscape(projectID))

	return retry.DoWithResult(ctx, c.retryConfig, func() (*models.Folder, error) {
		req, err := c.newRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			rerr := readRequestError(resp, http.MethodGet, path)
			if resp.StatusCode >= 500 {
				return nil, retry.Retryable(rerr)
			}
			return nil, rerr
		}

		var tr protocol.TreeResponse
		if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
			return nil, fmt.Errorf("decode tree: %w", err)
		}
		if tr.RootFolder == nil {
			return nil, fmt.Errorf("tree response has no root folder")
		}
		return tr.RootFolder, nil
	})
}

// DownloadFile streams a project file's binary content. The caller must
// close the returned reader. Size is -1 when the server sends no length.
func (c *Client) DownloadFile(ctx context.Context, projectID, fileID string) (io.ReadCloser, int64, error) {
	path := fmt.Sprintf("/project/%s/file/%s", url.PathEscape(projectID), url.PathEscape(fileID))

	type result struct {
		body io.ReadCloser
		size int64
	}
	r, err := retry.DoWithResult(ctx, c.retryConfig, func() (result, error) {
		req, err := c.newRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return result{}, err
		}
		req.Header.Set("Accept", "*/*")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return result{}, retry.Retryable(err)
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			rerr := readRequestError(resp, http.MethodGet, path)
			if resp.StatusCode >= 500 {
				return result{}, retry.Retryable(rerr)
			}
			return result{}, rerr
		}
		return result{body: resp.Body, size: resp.ContentLength}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return r.body, r.size, nil
}

// DownloadHref is the browser-facing download location for a file.
func DownloadHref(projectID, fileID string) string {
	return fmt.Sprintf("/project/%s/file/%s", projectID, fileID)
}
