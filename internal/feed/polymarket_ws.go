// Package feed pumps real-time Polymarket prices into the caches the
// lifecycle manager reads during exit checks.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dkrueger/edgebot/internal/domain"
	"github.com/dkrueger/edgebot/internal/platform/polymarket"
)

// BookHandler is called for each top-of-book update.
type BookHandler func(ctx context.Context, top domain.TopBook)

// PriceHandler is called for each incremental price change.
type PriceHandler func(ctx context.Context, change domain.PriceChange)

// TradeHandler is called for each last-trade print.
type TradeHandler func(ctx context.Context, trade domain.LastTradePrice)

// PriceFeed connects to the Polymarket CLOB WebSocket, subscribes to book,
// price_change, and last_trade_price for the tracked asset IDs, and invokes
// the handlers on each message. It reconnects on disconnect, and the asset
// set can change between cycles as the market universe shifts.
type PriceFeed struct {
	wsURL   string
	onBook  BookHandler
	onPrice PriceHandler
	onTrade TradeHandler
	logger  *slog.Logger

	mu       sync.Mutex
	assetIDs []string
	client   *polymarket.WSClient

	closeOnce sync.Once
	done      chan struct{}
}

// NewPriceFeed creates a feed. Any handler may be nil.
func NewPriceFeed(wsURL string, onBook BookHandler, onPrice PriceHandler, onTrade TradeHandler, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		wsURL:   wsURL,
		onBook:  onBook,
		onPrice: onPrice,
		onTrade: onTrade,
		logger:  logger.With(slog.String("component", "price_feed")),
		done:    make(chan struct{}),
	}
}

// Run connects and processes messages until ctx is cancelled, reconnecting
// with a fixed delay on disconnect.
func (f *PriceFeed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("price feed disconnected, reconnecting",
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

// Track replaces the tracked asset set. New assets are subscribed and
// dropped ones unsubscribed on the live connection; when disconnected the
// set is simply picked up by the next connection.
func (f *PriceFeed) Track(ctx context.Context, assetIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	old := make(map[string]struct{}, len(f.assetIDs))
	for _, id := range f.assetIDs {
		old[id] = struct{}{}
	}
	next := make(map[string]struct{}, len(assetIDs))
	for _, id := range assetIDs {
		next[id] = struct{}{}
	}

	var added, removed []string
	for id := range next {
		if _, ok := old[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range old {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}

	f.assetIDs = assetIDs

	if f.client == nil {
		return nil
	}
	if len(removed) > 0 {
		if err := f.client.Unsubscribe(ctx, feedChannels(), removed); err != nil {
			return err
		}
	}
	if len(added) > 0 {
		if err := f.client.Subscribe(ctx, feedChannels(), added); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the feed.
func (f *PriceFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func feedChannels() []string {
	return []string{"book", "price_change", "last_trade_price"}
}

func (f *PriceFeed) runConnection(ctx context.Context) error {
	client := polymarket.NewWSClient(f.wsURL)
	defer func() {
		f.mu.Lock()
		f.client = nil
		f.mu.Unlock()
		client.Close()
	}()

	client.OnBookUpdate(func(top domain.TopBook) {
		if f.onBook != nil {
			f.onBook(context.Background(), top)
		}
	})
	client.OnPriceChange(func(change domain.PriceChange) {
		if f.onPrice != nil {
			f.onPrice(context.Background(), change)
		}
	})
	client.OnLastTradePrice(func(trade domain.LastTradePrice) {
		if f.onTrade != nil {
			f.onTrade(context.Background(), trade)
		}
	})

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(connCtx)
	cancel()
	if err != nil {
		return err
	}

	f.mu.Lock()
	assets := f.assetIDs
	f.client = client
	f.mu.Unlock()

	if len(assets) > 0 {
		if err := client.Subscribe(ctx, feedChannels(), assets); err != nil {
			return err
		}
		f.logger.Info("price feed subscribed", slog.Int("assets", len(assets)))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	case <-client.Done():
		if err := client.Err(); err != nil {
			return err
		}
		return domain.ErrWSDisconnect
	}
}
