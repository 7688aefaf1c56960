package domain

import (
	"fmt"
	"strings"
	"time"
)

// SignalDirection is the direction a signal implies for the YES outcome.
type SignalDirection string

const (
	DirectionUp      SignalDirection = "up"
	DirectionDown    SignalDirection = "down"
	DirectionUnknown SignalDirection = "unknown"
)

// Signal is one normalized piece of evidence about a market, produced by the
// ingestion collaborators (feeds, calendars, on-chain watchers). The engine
// only ever sees this shape; source-specific fields live in Metadata.
type Signal struct {
	ID           string
	MarketID     string
	Source       string // e.g. "coindesk", "fed_calendar"
	SourceType   string // e.g. "news", "data_release", "onchain", "social"
	Title        string
	Sentiment    float64 // [-1, 1]
	MatchQuality float64 // [0, 1], how well the signal maps to the market question
	Importance   int     // 1..5
	Urgent       bool
	Direction    SignalDirection
	PublishedAt  time.Time
	Metadata     map[string]string
}

// Validate checks the signal at the ingestion boundary. A failing signal is a
// data-integrity problem: the item is skipped, never the whole cycle.
func (s Signal) Validate() error {
	switch {
	case s.MarketID == "":
		return fmt.Errorf("signal %s: empty market id: %w", s.ID, ErrDataIntegrity)
	case s.Sentiment < -1 || s.Sentiment > 1:
		return fmt.Errorf("signal %s: sentiment %.3f out of [-1,1]: %w", s.ID, s.Sentiment, ErrDataIntegrity)
	case s.MatchQuality < 0 || s.MatchQuality > 1:
		return fmt.Errorf("signal %s: match quality %.3f out of [0,1]: %w", s.ID, s.MatchQuality, ErrDataIntegrity)
	case s.Importance < 1 || s.Importance > 5:
		return fmt.Errorf("signal %s: importance %d out of 1..5: %w", s.ID, s.Importance, ErrDataIntegrity)
	case s.PublishedAt.IsZero():
		return fmt.Errorf("signal %s: zero published_at: %w", s.ID, ErrDataIntegrity)
	}
	switch s.Direction {
	case DirectionUp, DirectionDown, DirectionUnknown:
	default:
		return fmt.Errorf("signal %s: direction %q: %w", s.ID, s.Direction, ErrDataIntegrity)
	}
	return nil
}

// AgeHours returns the signal age in hours at the given instant.
func (s Signal) AgeHours(now time.Time) float64 {
	return now.Sub(s.PublishedAt).Hours()
}

// ProbabilityEstimate is one cycle's fused view of a market: the aggregated
// probability for the YES outcome together with a confidence score. It is
// immutable once produced and shared read-only across strategy namespaces.
type ProbabilityEstimate struct {
	MarketID      string
	Question      string
	MarketPrice   float64 // YES price at aggregation time
	Probability   float64 // fused estimate for YES
	Confidence    float64 // [0, 0.92]
	SignalCount   int
	AvgImportance float64
	BestFreshness float64
	UniqueSources int
	Reasoning     string // optional, from the external estimator
}

// Deviation returns the signed distance of the estimate from the market price.
func (e ProbabilityEstimate) Deviation() float64 {
	return e.Probability - e.MarketPrice
}

// ExternalEstimate is the optional output of the external probability
// estimator collaborator. It is never taken at face value; the aggregator
// blends it toward the market price before use.
type ExternalEstimate struct {
	MarketID    string
	Probability float64
	Confidence  float64
	Direction   string
	Reasoning   string
}

// Validate guards the estimator boundary.
func (e ExternalEstimate) Validate() error {
	if e.MarketID == "" {
		return fmt.Errorf("external estimate: empty market id: %w", ErrDataIntegrity)
	}
	if e.Probability < 0 || e.Probability > 1 {
		return fmt.Errorf("external estimate %s: probability %.3f out of [0,1]: %w", e.MarketID, e.Probability, ErrDataIntegrity)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("external estimate %s: confidence %.3f out of [0,1]: %w", e.MarketID, e.Confidence, ErrDataIntegrity)
	}
	return nil
}

// NormalizeSource lowercases and trims a source identifier so credibility
// lookups are stable across feeds.
func NormalizeSource(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}
