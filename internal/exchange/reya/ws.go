package reya

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 30 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10

	wsReconnectDelay    = 2 * time.Second
	wsMaxReconnectDelay = 60 * time.Second
)

// fundingUpdateFn receives streamed funding rate updates keyed by venue symbol.
type fundingUpdateFn func(symbol string, rate float64)

// wsStream maintains the funding-channel websocket, reconnecting with
// exponential backoff and restoring subscriptions on reconnect.
type wsStream struct {
	url    string
	logger *slog.Logger
	onRate fundingUpdateFn

	mu         sync.RWMutex
	conn       *websocket.Conn
	closed     bool
	subscribed []string

	done chan struct{}
}

func newWSStream(url string, logger *slog.Logger, onRate fundingUpdateFn) *wsStream {
	return &wsStream{
		url:    url,
		logger: logger.With(slog.String("component", "reya_ws")),
		onRate: onRate,
		done:   make(chan struct{}),
	}
}

func (w *wsStream) connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("stream is closed")
	}
	if w.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}
	w.conn = conn

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	if len(w.subscribed) > 0 {
		if err := w.sendSubscribe(w.subscribed); err != nil {
			return fmt.Errorf("restore subscriptions: %w", err)
		}
	}
	return nil
}

func (w *wsStream) subscribe(symbols []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("not connected")
	}
	if err := w.sendSubscribe(symbols); err != nil {
		return err
	}

	existing := make(map[string]struct{}, len(w.subscribed))
	for _, s := range w.subscribed {
		existing[s] = struct{}{}
	}
	for _, s := range symbols {
		if _, ok := existing[s]; !ok {
			w.subscribed = append(w.subscribed, s)
		}
	}
	return nil
}

func (w *wsStream) close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = w.conn.Close()
		w.conn = nil
	}
}

// sendSubscribe writes one subscribe frame. Caller must hold w.mu.
func (w *wsStream) sendSubscribe(symbols []string) error {
	frame := wsSubscribeFrame{
		Op:      "subscribe",
		Channel: "funding",
		Symbols: symbols,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsStream) readLoop() {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.logger.Warn("websocket read failed, reconnecting", slog.String("error", err.Error()))
			w.reconnect()
			return
		}

		w.handleMessage(message)
	}
}

func (w *wsStream) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (w *wsStream) handleMessage(raw []byte) {
	var frame wsDataFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return
	}
	if frame.Channel != "funding" {
		return
	}

	var update wsFundingUpdate
	if err := json.Unmarshal(frame.Data, &update); err != nil {
		return
	}
	if update.Symbol == "" {
		return
	}
	w.onRate(update.Symbol, update.FundingRate)
}

func (w *wsStream) reconnect() {
	w.mu.Lock()
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.mu.Unlock()

	delay := wsReconnectDelay
	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.connect(ctx)
		cancel()
		if err == nil {
			w.logger.Info("websocket reconnected")
			return
		}

		delay *= 2
		if delay > wsMaxReconnectDelay {
			delay = wsMaxReconnectDelay
		}
	}
}

type wsSubscribeFrame struct {
	Op      string   `json:"op"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
}

type wsDataFrame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsFundingUpdate struct {
	Symbol      string  `json:"symbol"`
	FundingRate float64 `json:"fundingRate,string"`
}
