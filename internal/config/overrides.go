package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// StrategyOverride is the set of per-strategy fields that operators may adjust
// at runtime through the YAML override file without redeploying. Pointer
// fields distinguish "not set" from an explicit zero. The field list is the
// whitelist: the loader rejects any key not named here.
type StrategyOverride struct {
	KellyFraction      *float64 `yaml:"kelly_fraction"`
	EstimateDiscount   *float64 `yaml:"estimate_discount"`
	MinEdge            *float64 `yaml:"min_edge"`
	MaxPositionPct     *float64 `yaml:"max_position_pct"`
	TPRatio            *float64 `yaml:"tp_ratio"`
	SLRatio            *float64 `yaml:"sl_ratio"`
	TrailingStop       *bool    `yaml:"trailing_stop"`
	TrailingActivation *float64 `yaml:"trailing_activation"`
	TrailingDistance   *float64 `yaml:"trailing_distance"`
	TightenAfterHours  *float64 `yaml:"tighten_after_hours"`
	TimeoutHours       *float64 `yaml:"timeout_hours"`
	MaxOpenPositions   *int     `yaml:"max_open_positions"`
	MinConfidence      *float64 `yaml:"min_confidence"`
	CorrelatedLimitPct *float64 `yaml:"correlated_limit_pct"`
}

// LoadStrategyOverrides parses the YAML override file at path into a map of
// strategy name to overrides. Unknown field names are an error so typos
// surface at startup instead of silently doing nothing. A missing file is not
// an error, mirroring the optional .env handling; the caller gets an empty
// map.
func LoadStrategyOverrides(path string) (map[string]StrategyOverride, error) {
	if path == "" {
		return map[string]StrategyOverride{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]StrategyOverride{}, nil
		}
		return nil, fmt.Errorf("config: read strategy overrides %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	out := map[string]StrategyOverride{}
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]StrategyOverride{}, nil
		}
		return nil, fmt.Errorf("config: parse strategy overrides %s: %w", path, err)
	}

	for name, o := range out {
		if err := o.validate(); err != nil {
			return nil, fmt.Errorf("config: strategy override %q: %w", name, err)
		}
	}

	return out, nil
}

// validate checks the set fields for out-of-range values.
func (o StrategyOverride) validate() error {
	if o.KellyFraction != nil && (*o.KellyFraction <= 0 || *o.KellyFraction > 1) {
		return fmt.Errorf("kelly_fraction must be in (0,1], got %v", *o.KellyFraction)
	}
	if o.EstimateDiscount != nil && (*o.EstimateDiscount < 0 || *o.EstimateDiscount > 1) {
		return fmt.Errorf("estimate_discount must be in [0,1], got %v", *o.EstimateDiscount)
	}
	if o.MinEdge != nil && *o.MinEdge < 0 {
		return fmt.Errorf("min_edge must be >= 0, got %v", *o.MinEdge)
	}
	if o.MaxPositionPct != nil && (*o.MaxPositionPct <= 0 || *o.MaxPositionPct > 1) {
		return fmt.Errorf("max_position_pct must be in (0,1], got %v", *o.MaxPositionPct)
	}
	if o.TPRatio != nil && (*o.TPRatio < 0 || *o.TPRatio > 1) {
		return fmt.Errorf("tp_ratio must be in [0,1], got %v", *o.TPRatio)
	}
	if o.SLRatio != nil && (*o.SLRatio < 0 || *o.SLRatio > 1) {
		return fmt.Errorf("sl_ratio must be in [0,1], got %v", *o.SLRatio)
	}
	if o.TrailingActivation != nil && (*o.TrailingActivation <= 0 || *o.TrailingActivation > 1) {
		return fmt.Errorf("trailing_activation must be in (0,1], got %v", *o.TrailingActivation)
	}
	if o.TrailingDistance != nil && (*o.TrailingDistance <= 0 || *o.TrailingDistance >= 1) {
		return fmt.Errorf("trailing_distance must be in (0,1), got %v", *o.TrailingDistance)
	}
	if o.TightenAfterHours != nil && *o.TightenAfterHours < 0 {
		return fmt.Errorf("tighten_after_hours must be >= 0, got %v", *o.TightenAfterHours)
	}
	if o.TimeoutHours != nil && *o.TimeoutHours <= 0 {
		return fmt.Errorf("timeout_hours must be > 0, got %v", *o.TimeoutHours)
	}
	if o.MaxOpenPositions != nil && *o.MaxOpenPositions < 1 {
		return fmt.Errorf("max_open_positions must be >= 1, got %d", *o.MaxOpenPositions)
	}
	if o.MinConfidence != nil && (*o.MinConfidence < 0 || *o.MinConfidence > 1) {
		return fmt.Errorf("min_confidence must be in [0,1], got %v", *o.MinConfidence)
	}
	if o.CorrelatedLimitPct != nil && (*o.CorrelatedLimitPct <= 0 || *o.CorrelatedLimitPct > 1) {
		return fmt.Errorf("correlated_limit_pct must be in (0,1], got %v", *o.CorrelatedLimitPct)
	}
	return nil
}
