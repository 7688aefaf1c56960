// Package signal fuses normalized market signals into probability estimates
// using directional evidence weighting, per-source freshness decay, and a
// corroboration-based confidence score.
package signal

import (
	"log/slog"
	"time"

	"github.com/dkrueger/edgebot/internal/domain"
)

// importanceCap bounds the probability shift a single signal may contribute,
// keyed by importance level 1..5.
var importanceCap = map[int]float64{
	1: 0.02,
	2: 0.04,
	3: 0.07,
	4: 0.12,
	5: 0.18,
}

const (
	// fallbackCap applies when importance is outside 1..5 (pre-validation data).
	fallbackCap = 0.04

	// urgentBoost amplifies both the shift cap and the weight of urgent signals.
	urgentBoost = 1.5

	// unknownDirectionFactor attenuates signals whose market relationship is
	// ambiguous. They still count, with much less conviction.
	unknownDirectionFactor = 0.3

	probFloor = 0.02
	probCeil  = 0.98

	maxConfidence = 0.92
)

// Aggregator fuses the per-market signal batch into ProbabilityEstimates.
// Credibility overrides from config take precedence over the built-in table.
type Aggregator struct {
	credibility map[string]float64
	logger      *slog.Logger
}

// NewAggregator creates an Aggregator. credibilityOverrides may be nil.
func NewAggregator(credibilityOverrides map[string]float64, logger *slog.Logger) *Aggregator {
	overrides := make(map[string]float64, len(credibilityOverrides))
	for src, cred := range credibilityOverrides {
		overrides[domain.NormalizeSource(src)] = cred
	}
	return &Aggregator{
		credibility: overrides,
		logger:      logger.With(slog.String("component", "aggregator")),
	}
}

// Estimate aggregates all signals for one market into a probability estimate
// anchored at the current yes price. With no usable signals it returns the
// market price with zero confidence.
func (a *Aggregator) Estimate(mkt domain.Market, signals []domain.Signal, now time.Time) domain.ProbabilityEstimate {
	est := domain.ProbabilityEstimate{
		MarketID:    mkt.ID,
		Question:    mkt.Question,
		MarketPrice: mkt.YesPrice,
		Probability: mkt.YesPrice,
	}
	if len(signals) == 0 {
		return est
	}

	var (
		totalShift  float64
		totalWeight float64
		sumCred     float64
		sumMatch    float64
		sumImp      float64
		bestFresh   float64
		sources     = make(map[string]bool, len(signals))
	)

	for _, sig := range signals {
		cred := a.credibilityFor(sig)
		fresh := Freshness(sig, now)
		shift := directionalShift(sig) * capFor(sig) * cred * sig.MatchQuality * fresh

		weight := cred * sig.MatchQuality * fresh
		if sig.Urgent {
			weight *= urgentBoost
		}

		totalShift += shift * weight
		totalWeight += weight

		sumCred += SourceConfidence(sig.Source, sig.SourceType)
		sumMatch += sig.MatchQuality
		sumImp += float64(sig.Importance)
		if fresh > bestFresh {
			bestFresh = fresh
		}
		sources[domain.NormalizeSource(sig.Source)] = true
	}

	n := float64(len(signals))
	est.SignalCount = len(signals)
	est.AvgImportance = sumImp / n
	est.BestFreshness = bestFresh
	est.UniqueSources = len(sources)

	if totalWeight == 0 {
		return est
	}

	netShift := totalShift / totalWeight

	// High-volume markets are harder to move: dampen the shift.
	switch {
	case mkt.Volume > 1_000_000:
		netShift *= 0.4
	case mkt.Volume > 100_000:
		netShift *= 0.65
	}

	est.Probability = clamp(mkt.YesPrice+netShift, probFloor, probCeil)

	diversity := min(1, float64(len(sources))/3)
	countBonus := min(1, n/3)
	est.Confidence = min(maxConfidence,
		0.30*(sumCred/n)+
			0.20*(sumMatch/n)+
			0.25*bestFresh+
			0.15*diversity+
			0.10*countBonus,
	)

	a.logger.Debug("estimate computed",
		slog.String("market_id", mkt.ID),
		slog.Float64("market_price", mkt.YesPrice),
		slog.Float64("probability", est.Probability),
		slog.Float64("confidence", est.Confidence),
		slog.Int("signals", est.SignalCount),
	)
	return est
}

// credibilityFor resolves credibility with config overrides first.
func (a *Aggregator) credibilityFor(sig domain.Signal) float64 {
	if c, ok := a.credibility[domain.NormalizeSource(sig.Source)]; ok {
		return c
	}
	return Credibility(sig.Source, sig.SourceType)
}

// directionalShift converts sentiment into a yes-probability direction.
// Unknown direction attenuates rather than discards the evidence.
func directionalShift(sig domain.Signal) float64 {
	switch sig.Direction {
	case domain.DirectionUp:
		return sig.Sentiment
	case domain.DirectionDown:
		return -sig.Sentiment
	default:
		return sig.Sentiment * unknownDirectionFactor
	}
}

// capFor returns the maximum probability shift the signal may contribute.
func capFor(sig domain.Signal) float64 {
	limit, ok := importanceCap[sig.Importance]
	if !ok {
		limit = fallbackCap
	}
	if sig.Urgent {
		limit *= urgentBoost
	}
	return limit
}
