package poller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
)

// HeadWatcher receives new blocks through an eth_subscribe newHeads
// WebSocket subscription instead of HTTP polling. Preferred when the node
// exposes a WebSocket endpoint: the node pushes heads as they are sealed,
// so observation jitter is bounded by network delay rather than the poll
// interval.
type HeadWatcher struct {
	wsURL   string
	tracker *tracker
	logger  *slog.Logger
}

// NewHeadWatcher creates a watcher for the given endpoint. An http(s) URL is
// converted to its ws(s) equivalent, so the RPC URL can be reused directly.
func NewHeadWatcher(wsURL string, cfg Config) *HeadWatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HeadWatcher{
		wsURL:   DeriveWSURL(wsURL),
		tracker: newTracker(cfg.Agg, cfg.Phase, cfg.OnSample, logger),
		logger:  logger,
	}
}

// DeriveWSURL converts an http(s) RPC URL to its ws(s) equivalent.
func DeriveWSURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + httpURL[len("http://"):]
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + httpURL[len("https://"):]
	default:
		return httpURL
	}
}

// Run subscribes and consumes head notifications until the context is
// cancelled. The initial dial and subscribe are fatal; read errors after
// that trigger a reconnect with backoff.
func (w *HeadWatcher) Run(ctx context.Context) error {
	conn, err := w.connect(ctx)
	if err != nil {
		return err
	}

	for {
		if err := w.readLoop(ctx, conn); err == nil {
			return nil // context cancelled
		}

		// Reconnect after a transient read failure.
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}

		conn, err = w.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("head watcher reconnect failed", slog.String("error", err.Error()))
			// Keep trying; the run-level duration bounds the retry loop.
			conn = nil
			continue
		}
	}
}

func (w *HeadWatcher) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", w.wsURL, err)
	}

	subscribeMsg := map[string]any{
		"jsonrpc": "2.0",
		"method":  "eth_subscribe",
		"params":  []string{"newHeads"},
		"id":      1,
	}
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe newHeads: %w", err)
	}

	w.logger.Info("subscribed to newHeads", slog.String("url", w.wsURL))
	return conn, nil
}

// readLoop consumes notifications until a read error (returned) or context
// cancellation (nil).
func (w *HeadWatcher) readLoop(ctx context.Context, conn *websocket.Conn) error {
	if conn == nil {
		return fmt.Errorf("no connection")
	}
	defer conn.Close()

	// Close the connection when the context ends so ReadJSON unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg struct {
			JSONRPC string `json:"jsonrpc"`
			Method  string `json:"method"`
			Params  *struct {
				Result struct {
					Number    string `json:"number"`
					Timestamp string `json:"timestamp"`
				} `json:"result"`
			} `json:"params"`
		}

		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Debug("newHeads read error", slog.String("error", err.Error()))
			return err
		}

		// Subscription confirmations and other replies have no params.
		if msg.Params == nil {
			continue
		}

		height, err := hexutil.DecodeUint64(msg.Params.Result.Number)
		if err != nil {
			w.logger.Debug("malformed head number", slog.String("value", msg.Params.Result.Number))
			continue
		}

		w.tracker.observe(height, time.Now())
	}
}
