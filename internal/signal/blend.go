package signal

import "github.com/dkrueger/edgebot/internal/domain"

// DefaultEstimateDiscount is how far an external estimate pulls the final
// probability away from the market price when no strategy override applies.
const DefaultEstimateDiscount = 0.5

// Discount pulls an external probability toward the market price:
//
//	final = marketPrice + (external - marketPrice) * discount
//
// The market aggregates thousands of participants; an external model adds
// information but never overrides the market outright. The result is clamped
// to the same [0.02, 0.98] band as aggregated estimates.
func Discount(external, marketPrice, discount float64) float64 {
	return clamp(marketPrice+(external-marketPrice)*discount, probFloor, probCeil)
}

// Blend folds an external estimate into an aggregated one for the same
// market. The external probability wins the probability slot (discounted
// toward the market price); confidence takes the max of both inputs.
func Blend(est domain.ProbabilityEstimate, ext domain.ExternalEstimate, discount float64) domain.ProbabilityEstimate {
	est.Probability = Discount(ext.Probability, est.MarketPrice, discount)
	if ext.Confidence > est.Confidence {
		est.Confidence = ext.Confidence
	}
	if ext.Reasoning != "" {
		est.Reasoning = ext.Reasoning
	}
	return est
}

// FromExternal builds an estimate for a market the aggregator produced
// nothing for, seeded entirely by the external estimator.
func FromExternal(mkt domain.Market, ext domain.ExternalEstimate, discount float64) domain.ProbabilityEstimate {
	return domain.ProbabilityEstimate{
		MarketID:      mkt.ID,
		Question:      mkt.Question,
		MarketPrice:   mkt.YesPrice,
		Probability:   Discount(ext.Probability, mkt.YesPrice, discount),
		Confidence:    ext.Confidence,
		SignalCount:   1,
		AvgImportance: 4,
		Reasoning:     ext.Reasoning,
	}
}
