package signal

import (
	"math"
	"strings"
	"time"

	"github.com/dkrueger/edgebot/internal/domain"
)

// News types bucket signals for freshness decay. Fast-decaying types are
// priced into the market within minutes; slow ones stay tradable for hours.
const (
	newsTypeDataRelease = "data_release"
	newsTypeOfficial    = "official_statement"
	newsTypeBreaking    = "breaking_news"
	newsTypeAnalysis    = "analysis"
	newsTypeTrending    = "trending"
	newsTypeOnchain     = "onchain"
	newsTypeDefault     = "default"
)

// halfLifeHours is the freshness half-life per news type. After one
// half-life a signal's influence has halved.
var halfLifeHours = map[string]float64{
	newsTypeDataRelease: 0.5,
	newsTypeOfficial:    2.0,
	newsTypeBreaking:    1.0,
	newsTypeAnalysis:    6.0,
	newsTypeTrending:    12.0,
	newsTypeOnchain:     2.0,
	newsTypeDefault:     4.0,
}

// sourceCredibility weights how far a source's signals may move the
// estimate, keyed by normalized source id.
var sourceCredibility = map[string]float64{
	// Wire services / official data.
	"reuters": 1.0, "ap": 1.0, "bloomberg": 1.0,
	// Crypto-native media.
	"coindesk": 0.6, "the block": 0.6, "blockbeats": 0.8, "panews": 0.7,
	// Aggregated / sentiment.
	"cryptonews": 0.3, "coingecko-trending": 0.2, "fear&greed": 0.3,
	// On-chain watchers.
	"btc-whale": 0.85, "eth-gas": 0.7, "btc-fees": 0.6,
	"defi-tvl": 0.8, "exchange-flow": 0.9,
	// Sports.
	"espn": 0.85, "espn-nba": 0.85, "espn-nfl": 0.85,
	"espn-soccer": 0.80, "espn-mlb": 0.80,
	// Price anomaly detectors: something IS happening.
	"price-alert": 0.95, "volume-spike": 0.80,
}

// sourceConfidence is the base confidence in the reported fact itself,
// distinct from credibility: a price alert is almost certainly true even
// when its market impact is unclear.
var sourceConfidence = map[string]float64{
	"reuters": 0.90, "ap": 0.90, "bloomberg": 0.85,
	"btc-whale": 0.80, "exchange-flow": 0.85, "defi-tvl": 0.75,
	"btc-fees": 0.65, "eth-gas": 0.65,
	"espn": 0.80, "espn-nba": 0.80, "espn-nfl": 0.80,
	"espn-soccer": 0.75, "espn-mlb": 0.75,
	"price-alert": 0.90, "volume-spike": 0.75,
	"coindesk": 0.60, "the block": 0.60, "blockbeats": 0.65, "panews": 0.60,
	"cryptonews": 0.40, "coingecko-trending": 0.30, "fear&greed": 0.35,
}

// Fallbacks by source type when the source id is unknown.
var (
	typeCredibility = map[string]float64{
		"data_release":  0.90,
		"price_anomaly": 0.90,
		"onchain":       0.75,
		"sports":        0.80,
		"news":          0.50,
		"analysis":      0.45,
		"social":        0.30,
	}
	typeConfidence = map[string]float64{
		"data_release":  0.85,
		"price_anomaly": 0.80,
		"onchain":       0.70,
		"sports":        0.75,
		"news":          0.55,
		"analysis":      0.50,
		"social":        0.35,
	}
)

const (
	defaultCredibility = 0.30
	defaultConfidence  = 0.50

	minFreshness = 0.05
)

var (
	onchainSources  = map[string]bool{"btc-whale": true, "exchange-flow": true, "defi-tvl": true, "btc-fees": true, "eth-gas": true}
	anomalySources  = map[string]bool{"price-alert": true, "volume-spike": true}
	trendingSources = map[string]bool{"coingecko-trending": true, "fear&greed": true, "cryptonews": true}

	injuryWords      = []string{"injury", "ruled out", "out for", "questionable"}
	dataReleaseWords = []string{"cpi", "gdp", "jobs report", "employment", "nonfarm", "earnings", "revenue", "quarterly", "q1 ", "q2 ", "q3 ", "q4 "}
	officialWords    = []string{"federal reserve", "fomc", "powell", "white house", "sec ", "official", "announces", "signed", "executive order"}
)

// Credibility resolves a source's shift credibility, falling back to the
// source type, then a conservative default.
func Credibility(source, sourceType string) float64 {
	if c, ok := sourceCredibility[domain.NormalizeSource(source)]; ok {
		return c
	}
	if c, ok := typeCredibility[domain.NormalizeSource(sourceType)]; ok {
		return c
	}
	return defaultCredibility
}

// SourceConfidence resolves a source's base fact confidence with the same
// fallback chain as Credibility.
func SourceConfidence(source, sourceType string) float64 {
	if c, ok := sourceConfidence[domain.NormalizeSource(source)]; ok {
		return c
	}
	if c, ok := typeConfidence[domain.NormalizeSource(sourceType)]; ok {
		return c
	}
	return defaultConfidence
}

// ClassifyNewsType buckets a signal into a freshness decay class from its
// source, source type, and title keywords.
func ClassifyNewsType(sig domain.Signal) string {
	source := domain.NormalizeSource(sig.Source)
	sourceType := domain.NormalizeSource(sig.SourceType)
	title := strings.ToLower(sig.Title)

	// Price anomalies are priced in within minutes.
	if anomalySources[source] || sourceType == "price_anomaly" {
		return newsTypeDataRelease
	}

	// Sports: injuries decay fast, everything else moderately.
	if strings.HasPrefix(source, "espn") || sourceType == "sports" {
		if containsAny(title, injuryWords) {
			return newsTypeBreaking
		}
		return newsTypeOfficial
	}

	if onchainSources[source] || sourceType == "onchain" {
		return newsTypeOnchain
	}

	if containsAny(title, dataReleaseWords) || sourceType == "data_release" {
		return newsTypeDataRelease
	}

	if containsAny(title, officialWords) {
		return newsTypeOfficial
	}

	if sig.Urgent {
		return newsTypeBreaking
	}

	if sourceType == "analysis" {
		return newsTypeAnalysis
	}

	if trendingSources[source] || sourceType == "social" {
		return newsTypeTrending
	}

	return newsTypeDefault
}

// HalfLife returns the decay half-life in hours for a news type.
func HalfLife(newsType string) float64 {
	if h, ok := halfLifeHours[newsType]; ok {
		return h
	}
	return halfLifeHours[newsTypeDefault]
}

// Freshness computes the exponential decay multiplier for a signal at the
// given instant: 2^(-age/halflife), floored at 0.05 and capped at 1.0.
// A future published timestamp counts as age zero.
func Freshness(sig domain.Signal, now time.Time) float64 {
	age := sig.AgeHours(now)
	if age < 0 {
		age = 0
	}
	f := math.Pow(2, -age/HalfLife(ClassifyNewsType(sig)))
	return clamp(f, minFreshness, 1.0)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
