package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dkrueger/edgebot/internal/domain"
)

// PriceService is the write path from the WebSocket feed into the price and
// book caches. The lifecycle manager reads those caches during exit checks.
type PriceService struct {
	priceCache domain.PriceCache
	bookCache  domain.BookCache
	bus        domain.SignalBus
	logger     *slog.Logger
}

// NewPriceService creates a PriceService with all required dependencies.
func NewPriceService(
	priceCache domain.PriceCache,
	bookCache domain.BookCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *PriceService {
	return &PriceService{
		priceCache: priceCache,
		bookCache:  bookCache,
		bus:        bus,
		logger:     logger,
	}
}

// HandleBook processes a top-of-book snapshot: stores it, refreshes the
// mid-price, and publishes a price event for the dashboard.
func (s *PriceService) HandleBook(ctx context.Context, top domain.TopBook) error {
	if err := s.bookCache.SetTop(ctx, top); err != nil {
		return fmt.Errorf("price_service: set top for %q: %w", top.AssetID, err)
	}

	if mid := top.Mid(); mid > 0 {
		if err := s.priceCache.SetPrice(ctx, top.AssetID, mid, top.Timestamp); err != nil {
			return fmt.Errorf("price_service: set price for %q: %w", top.AssetID, err)
		}
	}

	s.publish(ctx, map[string]any{
		"event":     "book",
		"asset_id":  top.AssetID,
		"best_bid":  top.BestBid,
		"best_ask":  top.BestAsk,
		"mid_price": top.Mid(),
		"timestamp": top.Timestamp.Format(time.RFC3339Nano),
	}, top.AssetID)

	return nil
}

// HandlePriceChange folds an incremental level update into the cached top
// of book. Only improvements and removals of the current best are visible
// at this depth; periodic book snapshots re-anchor everything else.
func (s *PriceService) HandlePriceChange(ctx context.Context, change domain.PriceChange) error {
	top, err := s.bookCache.GetTop(ctx, change.AssetID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("price_service: get top for %q: %w", change.AssetID, err)
		}
		top = domain.TopBook{AssetID: change.AssetID}
	}

	switch change.Side {
	case "BUY", "buy":
		if change.Size > 0 && change.Price > top.BestBid {
			top.BestBid = change.Price
		} else if change.Size == 0 && change.Price == top.BestBid {
			top.BestBid = 0
		}
	case "SELL", "sell":
		if change.Size > 0 && (top.BestAsk == 0 || change.Price < top.BestAsk) {
			top.BestAsk = change.Price
		} else if change.Size == 0 && change.Price == top.BestAsk {
			top.BestAsk = 0
		}
	default:
		return nil
	}

	top.Timestamp = change.Timestamp
	if err := s.bookCache.SetTop(ctx, top); err != nil {
		return fmt.Errorf("price_service: set top for %q: %w", change.AssetID, err)
	}

	if mid := top.Mid(); mid > 0 {
		if err := s.priceCache.SetPrice(ctx, change.AssetID, mid, change.Timestamp); err != nil {
			return fmt.Errorf("price_service: set price for %q: %w", change.AssetID, err)
		}
	}

	s.publish(ctx, map[string]any{
		"event":     "price_change",
		"asset_id":  change.AssetID,
		"side":      change.Side,
		"price":     change.Price,
		"size":      change.Size,
		"best_bid":  top.BestBid,
		"best_ask":  top.BestAsk,
		"timestamp": change.Timestamp.Format(time.RFC3339Nano),
	}, change.AssetID)

	return nil
}

// HandleLastTrade records a trade print as the asset's latest price.
func (s *PriceService) HandleLastTrade(ctx context.Context, trade domain.LastTradePrice) error {
	if trade.Price <= 0 {
		return nil
	}
	if err := s.priceCache.SetPrice(ctx, trade.AssetID, trade.Price, trade.Timestamp); err != nil {
		return fmt.Errorf("price_service: set price for %q: %w", trade.AssetID, err)
	}

	s.publish(ctx, map[string]any{
		"event":     "last_trade",
		"asset_id":  trade.AssetID,
		"price":     trade.Price,
		"size":      trade.Size,
		"timestamp": trade.Timestamp.Format(time.RFC3339Nano),
	}, trade.AssetID)

	return nil
}

// GetPrice returns the latest cached price and its timestamp for one asset.
func (s *PriceService) GetPrice(ctx context.Context, assetID string) (float64, time.Time, error) {
	price, ts, err := s.priceCache.GetPrice(ctx, assetID)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("price_service: get price for %q: %w", assetID, err)
	}
	return price, ts, nil
}

// GetPrices returns the latest cached prices for multiple assets. Missing
// assets are omitted from the returned map.
func (s *PriceService) GetPrices(ctx context.Context, assetIDs []string) (map[string]float64, error) {
	prices, err := s.priceCache.GetPrices(ctx, assetIDs)
	if err != nil {
		return nil, fmt.Errorf("price_service: get prices: %w", err)
	}
	return prices, nil
}

// GetTop returns the cached top of book for the given asset.
func (s *PriceService) GetTop(ctx context.Context, assetID string) (domain.TopBook, error) {
	top, err := s.bookCache.GetTop(ctx, assetID)
	if err != nil {
		return domain.TopBook{}, fmt.Errorf("price_service: get top for %q: %w", assetID, err)
	}
	return top, nil
}

func (s *PriceService) publish(ctx context.Context, payload map[string]any, assetID string) {
	evt, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, "prices", evt); err != nil {
		s.logger.WarnContext(ctx, "price_service: publish failed",
			slog.String("asset_id", assetID),
			slog.String("error", err.Error()),
		)
	}
}
