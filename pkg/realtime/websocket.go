package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/leafsync/leafsync/internal/metrics"
	"github.com/leafsync/leafsync/pkg/protocol"
	"github.com/leafsync/leafsync/pkg/retry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
)

// Config holds settings shared by the transports.
type Config struct {
	BaseURL   string
	ProjectID string
	AuthToken string
	Reconnect retry.Config
	Logger    *zap.Logger
	// OnConnect runs after every successful (re)connect, before any event
	// is dispatched. Events sent while disconnected are lost, so this is
	// where a client reloads server state. An error ends Run.
	OnConnect func(ctx context.Context) error
}

// ConnectError is returned by Run when Config.OnConnect fails.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string { return "on connect: " + e.Err.Error() }

func (e *ConnectError) Unwrap() error { return e.Err }

// fatal reports whether err from a connection should end Run.
func fatal(err error) bool {
	var herr *HandlerError
	var cerr *ConnectError
	return errors.As(err, &herr) || errors.As(err, &cerr)
}

func (c *Config) onConnect(ctx context.Context) error {
	if c.OnConnect == nil {
		return nil
	}
	if err := c.OnConnect(ctx); err != nil {
		return &ConnectError{Err: err}
	}
	return nil
}

func (c *Config) defaults() {
	if c.Reconnect.InitialWait == 0 {
		c.Reconnect = retry.ReconnectConfig()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

func (c *Config) header() http.Header {
	h := http.Header{}
	if c.AuthToken != "" {
		h.Set("Authorization", "Bearer "+c.AuthToken)
	}
	return h
}

// WebSocketTransport receives JSON frames ({"name","args"}) over a
// WebSocket and dispatches them through its Emitter, one at a time.
type WebSocketTransport struct {
	*Emitter

	cfg       Config
	dialer    *websocket.Dialer
	log       *zap.Logger
	connected atomic.Bool
}

// NewWebSocketTransport creates a transport for the project's socket.
func NewWebSocketTransport(cfg Config) *WebSocketTransport {
	cfg.defaults()
	return &WebSocketTransport{
		Emitter: NewEmitter(),
		cfg:     cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		log: cfg.Logger.Named("websocket"),
	}
}

// URL returns the socket endpoint derived from the base URL.
func (t *WebSocketTransport) URL() (string, error) {
	u, err := url.Parse(strings.TrimSuffix(t.cfg.BaseURL, "/") + "/socket")
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("projectId", t.cfg.ProjectID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connected reports whether a connection is currently open.
func (t *WebSocketTransport) Connected() bool {
	return t.connected.Load()
}

// Run connects and dispatches frames until ctx is done or a handler
// fails. Dropped connections are re-established with backoff. It returns
// nil on cancellation, a *HandlerError when a handler fails and a
// *ConnectError when Config.OnConnect fails.
func (t *WebSocketTransport) Run(ctx context.Context) error {
	endpoint, err := t.URL()
	if err != nil {
		return err
	}
	backoff := retry.NewBackoff(t.cfg.Reconnect)

	for {
		established, err := t.connect(ctx, endpoint)
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
		t.log.Warn("connection lost, reconnecting",
			zap.Error(err), zap.Duration("wait", wait))
		metrics.RecordChannelReconnect("websocket")
		if retry.Sleep(ctx, wait) != nil {
			return nil
		}
	}
}

func (t *WebSocketTransport) connect(ctx context.Context, endpoint string) (bool, error) {
	conn, resp, err := t.dialer.DialContext(ctx, endpoint, t.cfg.header())
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	t.connected.Store(true)
	metrics.SetChannelConnected("websocket", true)
	defer func() {
		t.connected.Store(false)
		metrics.SetChannelConnected("websocket", false)
	}()
	t.log.Info("connected", zap.String("url", endpoint))

	if err := t.cfg.onConnect(ctx); err != nil {
		return true, err
	}

	done := make(chan struct{})
	defer close(done)
	go t.keepalive(ctx, conn, done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, fmt.Errorf("read: %w", err)
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Name == "" {
			t.log.Debug("ignoring malformed frame", zap.ByteString("data", data))
			continue
		}
		if err := t.Emit(frame.Name, frame.Args); err != nil {
			return true, err
		}
	}
}

// keepalive pings the server and closes the connection when ctx ends so
// the blocked read returns.
func (t *WebSocketTransport) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
