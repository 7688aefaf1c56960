package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkrueger/edgebot/internal/domain"
)

const (
	// wsWriteWait bounds a single frame write.
	wsWriteWait = 10 * time.Second

	// wsPongWait is how long the connection may stay silent before the read
	// deadline kills it. Pings go out at a fraction of this.
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// BookUpdateHandler receives each full book snapshot from the "book" channel.
// Only the top of book survives the conversion; depth is not tracked.
type BookUpdateHandler func(domain.TopBook)

// PriceChangeHandler receives each incremental level update.
type PriceChangeHandler func(domain.PriceChange)

// LastTradePriceHandler receives each last-trade print.
type LastTradePriceHandler func(domain.LastTradePrice)

// WSClient speaks the CLOB market-data WebSocket protocol for one
// connection. It does not reconnect: when the read loop exits, Done is
// closed and the owner decides whether to dial a fresh client. Handlers
// must be registered before Connect.
type WSClient struct {
	wsURL string

	onBook  BookUpdateHandler
	onPrice PriceChangeHandler
	onTrade LastTradePriceHandler

	mu   sync.Mutex // serializes frame writes
	conn *websocket.Conn

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

// NewWSClient creates a client for the CLOB WebSocket endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// OnBookUpdate sets the book snapshot handler.
func (w *WSClient) OnBookUpdate(h BookUpdateHandler) { w.onBook = h }

// OnPriceChange sets the incremental price update handler.
func (w *WSClient) OnPriceChange(h PriceChangeHandler) { w.onPrice = h }

// OnLastTradePrice sets the last-trade handler.
func (w *WSClient) OnLastTradePrice(h LastTradePriceHandler) { w.onTrade = h }

// Connect dials the endpoint and starts the read and ping loops.
func (w *WSClient) Connect(ctx context.Context) error {
	select {
	case <-w.done:
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	default:
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	go w.readLoop(conn)
	go w.pingLoop(conn)

	return nil
}

// Subscribe asks for the given channels ("book", "price_change",
// "last_trade_price") on the given asset IDs.
func (w *WSClient) Subscribe(ctx context.Context, channels, assetIDs []string) error {
	for _, ch := range channels {
		if err := w.writeJSON(WSCommand{Type: "subscribe", Channel: ch, Assets: assetIDs}); err != nil {
			return fmt.Errorf("polymarket/ws: subscribe %s: %w", ch, err)
		}
	}
	return nil
}

// Unsubscribe drops the given asset IDs from the given channels.
func (w *WSClient) Unsubscribe(ctx context.Context, channels, assetIDs []string) error {
	for _, ch := range channels {
		if err := w.writeJSON(WSCommand{Type: "unsubscribe", Channel: ch, Assets: assetIDs}); err != nil {
			return fmt.Errorf("polymarket/ws: unsubscribe %s: %w", ch, err)
		}
	}
	return nil
}

// Done is closed once the connection is finished, either by Close or by a
// read failure. After Done, Err reports the terminal error if any.
func (w *WSClient) Done() <-chan struct{} { return w.done }

// Err returns the read error that ended the connection, nil before Done and
// on clean close.
func (w *WSClient) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Close sends a close frame and tears the connection down. Safe to call
// more than once.
func (w *WSClient) Close() error {
	w.finish(nil)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
	return w.conn.Close()
}

// finish records the terminal error and closes done exactly once.
func (w *WSClient) finish(err error) {
	w.doneOnce.Do(func() {
		w.err = err
		close(w.done)
	})
}

func (w *WSClient) writeJSON(cmd WSCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("not connected")
	}
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop dispatches inbound frames until the connection dies.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				// Close already ran; the read error is just the teardown.
			default:
				w.finish(fmt.Errorf("polymarket/ws: read: %w", err))
			}
			conn.Close()
			return
		}
		w.dispatch(message)
	}
}

// pingLoop keeps the connection alive until done.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// dispatch routes one raw frame by its event type. Frames that do not parse
// are dropped.
func (w *WSClient) dispatch(raw []byte) {
	var envelope struct {
		MsgType string `json:"msg_type"`
		Event   string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	msgType := envelope.MsgType
	if msgType == "" {
		msgType = envelope.Event
	}

	switch msgType {
	case "book":
		if w.onBook == nil {
			return
		}
		var book BookMessage
		if err := json.Unmarshal(raw, &book); err != nil {
			return
		}
		w.onBook(BookToDomainTop(&book))

	case "price_change":
		if w.onPrice == nil {
			return
		}
		var pc PriceChangeMessage
		if err := json.Unmarshal(raw, &pc); err != nil {
			return
		}
		w.onPrice(PriceChangeToDomain(&pc))

	case "last_trade_price":
		if w.onTrade == nil {
			return
		}
		var ltp PriceMessage
		if err := json.Unmarshal(raw, &ltp); err != nil {
			return
		}
		w.onTrade(PriceToDomainLastTrade(&ltp))
	}
}
