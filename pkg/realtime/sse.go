package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/leafsync/leafsync/internal/metrics"
	"github.com/leafsync/leafsync/pkg/retry"
)

// SSETransport receives events from a text/event-stream endpoint. The
// event field is the event name and the data field a JSON array of args.
type SSETransport struct {
	*Emitter

	cfg        Config
	httpClient *http.Client
	log        *zap.Logger
	connected  atomic.Bool
}

// NewSSETransport creates a transport for the project's event stream.
func NewSSETransport(cfg Config) *SSETransport {
	cfg.defaults()
	return &SSETransport{
		Emitter: NewEmitter(),
		cfg:     cfg,
		httpClient: &http.Client{
			Timeout: 0, // the stream stays open
		},
		log: cfg.Logger.Named("sse"),
	}
}

// URL returns the event stream endpoint.
func (t *SSETransport) URL() string {
	return strings.TrimSuffix(t.cfg.BaseURL, "/") + "/project/" + url.PathEscape(t.cfg.ProjectID) + "/events"
}

// Connected reports whether the stream is currently open.
func (t *SSETransport) Connected() bool {
	return t.connected.Load()
}

// Run has the same contract as WebSocketTransport.Run.
func (t *SSETransport) Run(ctx context.Context) error {
	backoff := retry.NewBackoff(t.cfg.Reconnect)

	for {
		established, err := t.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if fatal(err) {
			return err
		}
		if established {
			backoff.Reset()
		}

		wait := backoff.Next()
		t.log.Warn("stream lost, reconnecting", zap.Error(err), zap.Duration("wait", wait))
		metrics.RecordChannelReconnect("sse")
		if retry.Sleep(ctx, wait) != nil {
			return nil
		}
	}
}

func (t *SSETransport) connect(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL(), nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header = t.cfg.header()
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	t.connected.Store(true)
	metrics.SetChannelConnected("sse", true)
	defer func() {
		t.connected.Store(false)
		metrics.SetChannelConnected("sse", false)
	}()
	t.log.Info("connected", zap.String("url", t.URL()))

	if err := t.cfg.onConnect(ctx); err != nil {
		return true, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)

	var eventType string
	var data []string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if eventType != "" && len(data) > 0 {
				if err := t.dispatch(eventType, strings.Join(data, "\n")); err != nil {
					return true, err
				}
			}
			eventType = ""
			data = data[:0]
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if ctx.Err() != nil {
		return true, nil
	}
	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("read: %w", err)
	}
	return true, fmt.Errorf("stream closed")
}

func (t *SSETransport) dispatch(event, data string) error {
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(data), &args); err != nil {
		t.log.Debug("ignoring malformed event", zap.String("event", event), zap.String("data", data))
		return nil
	}
	return t.Emit(event, args)
}
