package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/karb/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSClient streams top-of-book updates from the CLOB market WebSocket. One
// Stream call is one connection; the caller owns reconnection.
type WSClient struct {
	wsURL  string
	logger *slog.Logger
}

// NewWSClient creates a client for the market endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "polymarket_ws")),
	}
}

// Stream connects, subscribes to the book channel for tokenIDs, and pushes
// every parsed update into out until ctx is cancelled or the connection
// breaks. It always returns a non-nil error; a clean shutdown returns
// ctx.Err().
func (w *WSClient) Stream(ctx context.Context, tokenIDs []string, out chan<- domain.BookUpdate) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	defer conn.Close()

	sub := wsSubscribe{Type: "market", Channel: "book", AssetIDs: tokenIDs}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	w.logger.Info("subscribed", slog.Int("tokens", len(tokenIDs)))

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Close the connection when ctx ends so the blocked read returns, and
	// keep the server's idle timer fed with pings.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("polymarket/ws: %w: %v", domain.ErrWSDisconnect, err)
		}
		for _, update := range w.parse(raw) {
			select {
			case out <- update:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// parse extracts book updates from one frame. The endpoint batches messages
// into JSON arrays; frames on other channels are dropped.
func (w *WSClient) parse(raw []byte) []domain.BookUpdate {
	var msgs []wsBookMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		var single wsBookMessage
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil
		}
		msgs = []wsBookMessage{single}
	}

	var out []domain.BookUpdate
	for _, msg := range msgs {
		if msg.EventType != "book" || msg.AssetID == "" {
			continue
		}
		update, err := bookUpdate(msg.AssetID, msg.Bids, msg.Asks, msg.Timestamp)
		if err != nil {
			w.logger.Warn("bad book frame",
				slog.String("asset_id", msg.AssetID), slog.Any("error", err))
			continue
		}
		out = append(out, update)
	}
	return out
}
