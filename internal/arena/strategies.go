package arena

import (
	"fmt"
	"sort"

	"github.com/dkrueger/edgebot/internal/config"
	"github.com/dkrueger/edgebot/internal/domain"
)

// defaultSimBankroll seeds each namespace's paper book when the config
// leaves it unset.
const defaultSimBankroll = 1000

// Builtins returns the stock strategy set. Each entry is a complete
// parameter vector; the arena copies them per run, so mutating the result
// is safe.
func Builtins() []domain.StrategyParams {
	return []domain.StrategyParams{
		{
			Name:                    "baseline",
			KellyFraction:           0.5,
			EstimateDiscount:        0.5,
			MinEdge:                 0.02,
			MaxPositionPct:          0.10,
			TPRatio:                 0.70,
			SLRatio:                 0.75,
			TrailingEnabled:         true,
			TrailingActivation:      0.5,
			TrailingDistance:        0.30,
			TimeoutHours:            24,
			MaxOpenPositions:        8,
			MinConfidence:           0,
			CorrelatedExposureLimit: 0.25,
		},
		{
			Name:                    "aggressive",
			KellyFraction:           0.75,
			EstimateDiscount:        0.7,
			MinEdge:                 0.01,
			MaxPositionPct:          0.15,
			TPRatio:                 0.85,
			SLRatio:                 0.65,
			TrailingEnabled:         true,
			TrailingActivation:      0.5,
			TrailingDistance:        0.30,
			TimeoutHours:            24,
			MaxOpenPositions:        12,
			MinConfidence:           0,
			CorrelatedExposureLimit: 0.35,
		},
		{
			Name:                    "conservative",
			KellyFraction:           0.25,
			EstimateDiscount:        0.3,
			MinEdge:                 0.04,
			MaxPositionPct:          0.06,
			TPRatio:                 0.55,
			SLRatio:                 0.85,
			TrailingEnabled:         true,
			TrailingActivation:      0.5,
			TrailingDistance:        0.30,
			TimeoutHours:            24,
			MaxOpenPositions:        5,
			MinConfidence:           0.55,
			CorrelatedExposureLimit: 0.20,
		},
		{
			Name:                    "sniper",
			KellyFraction:           0.5,
			EstimateDiscount:        0.5,
			MinEdge:                 0.06,
			MaxPositionPct:          0.12,
			TPRatio:                 0.50,
			SLRatio:                 0.82,
			TrailingEnabled:         false,
			TimeoutHours:            6,
			MaxOpenPositions:        4,
			MinConfidence:           0.60,
			CorrelatedExposureLimit: 0.25,
		},
		{
			Name:                    "trend_follower",
			KellyFraction:           0.5,
			EstimateDiscount:        0.5,
			MinEdge:                 0.03,
			MaxPositionPct:          0.10,
			TPRatio:                 0.90,
			SLRatio:                 0.70,
			TrailingEnabled:         true,
			TrailingActivation:      0.3,
			TrailingDistance:        0.20,
			TimeoutHours:            48,
			MaxOpenPositions:        10,
			MinConfidence:           0,
			CorrelatedExposureLimit: 0.30,
		},
	}
}

// BuildRoster assembles the active strategy set from the builtins, the TOML
// strategy table, and the YAML override file, in that order. An empty
// active list runs every builtin. The designated live strategy gets its
// LiveMirror flag; naming an unknown strategy anywhere is an error.
func BuildRoster(cfg config.ArenaConfig, overrides map[string]config.StrategyOverride) ([]domain.StrategyParams, error) {
	byName := make(map[string]domain.StrategyParams)
	for _, p := range Builtins() {
		byName[p.Name] = p
	}

	// TOML entries define new strategies or restate builtins wholesale.
	for name, st := range cfg.Strategies {
		byName[name] = fromTOML(name, st)
	}

	// YAML overrides patch single fields on whatever exists by now.
	for name, o := range overrides {
		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("arena: override for unknown strategy %q", name)
		}
		byName[name] = applyOverride(p, o)
	}

	active := cfg.Active
	if len(active) == 0 {
		active = make([]string, 0, len(byName))
		for name := range byName {
			active = append(active, name)
		}
		sort.Strings(active)
	}

	bankroll := cfg.SimBankroll
	if bankroll <= 0 {
		bankroll = defaultSimBankroll
	}

	roster := make([]domain.StrategyParams, 0, len(active))
	seen := make(map[string]struct{}, len(active))
	for _, name := range active {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("arena: active strategy %q is not defined", name)
		}
		p.Bankroll = bankroll
		p.LiveMirror = name == cfg.LiveStrategy
		roster = append(roster, p)
	}

	if cfg.LiveStrategy != "" {
		if _, ok := seen[cfg.LiveStrategy]; !ok {
			return nil, fmt.Errorf("arena: live strategy %q is not active", cfg.LiveStrategy)
		}
	}

	return roster, nil
}

func fromTOML(name string, st config.StrategyTOML) domain.StrategyParams {
	return domain.StrategyParams{
		Name:                    name,
		KellyFraction:           st.KellyFraction,
		EstimateDiscount:        st.EstimateDiscount,
		MinEdge:                 st.MinEdge,
		MaxPositionPct:          st.MaxPositionPct,
		TPRatio:                 st.TPRatio,
		SLRatio:                 st.SLRatio,
		TrailingEnabled:         st.TrailingStop,
		TrailingActivation:      st.TrailingActivation,
		TrailingDistance:        st.TrailingDistance,
		TightenAfterHours:       st.TightenAfterHours,
		TimeoutHours:            st.TimeoutHours,
		MaxOpenPositions:        st.MaxOpenPositions,
		MinConfidence:           st.MinConfidence,
		CorrelatedExposureLimit: st.CorrelatedLimitPct,
	}
}

func applyOverride(p domain.StrategyParams, o config.StrategyOverride) domain.StrategyParams {
	if o.KellyFraction != nil {
		p.KellyFraction = *o.KellyFraction
	}
	if o.EstimateDiscount != nil {
		p.EstimateDiscount = *o.EstimateDiscount
	}
	if o.MinEdge != nil {
		p.MinEdge = *o.MinEdge
	}
	if o.MaxPositionPct != nil {
		p.MaxPositionPct = *o.MaxPositionPct
	}
	if o.TPRatio != nil {
		p.TPRatio = *o.TPRatio
	}
	if o.SLRatio != nil {
		p.SLRatio = *o.SLRatio
	}
	if o.TrailingStop != nil {
		p.TrailingEnabled = *o.TrailingStop
	}
	if o.TrailingActivation != nil {
		p.TrailingActivation = *o.TrailingActivation
	}
	if o.TrailingDistance != nil {
		p.TrailingDistance = *o.TrailingDistance
	}
	if o.TightenAfterHours != nil {
		p.TightenAfterHours = *o.TightenAfterHours
	}
	if o.TimeoutHours != nil {
		p.TimeoutHours = *o.TimeoutHours
	}
	if o.MaxOpenPositions != nil {
		p.MaxOpenPositions = *o.MaxOpenPositions
	}
	if o.MinConfidence != nil {
		p.MinConfidence = *o.MinConfidence
	}
	if o.CorrelatedLimitPct != nil {
		p.CorrelatedExposureLimit = *o.CorrelatedLimitPct
	}
	return p
}
