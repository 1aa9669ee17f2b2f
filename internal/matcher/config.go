// Package matcher pairs payment records with bank transactions.
//
// Two entry points share one engine:
//
//   - MatchTransactions scores pre-filtered payment/transaction pairs with the
//     configured scorer and keeps the best non-conflicting pairs.
//   - AutoReconcile runs three passes over the unmatched pools in order:
//     exact, tolerance-based partial, then scorer-driven fuzzy matching.
//
// Example usage:
//
//	config := matcher.DefaultToleranceConfig()
//	config.DateRangeDays = 5
//
//	engine := matcher.NewMatchingEngine(config, extractor, model)
//	result, err := engine.AutoReconcile(ctx, bank, system, nil)
package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ToleranceConfig holds every tunable of the matching engine.
//
// Use the provided factory functions for common regimes:
//   - DefaultToleranceConfig(): balanced settings for most deployments
//   - StrictToleranceConfig(): tight tolerances for audited ledgers
//   - RelaxedToleranceConfig(): loose tolerances for exploratory matching
type ToleranceConfig struct {
	// ToleranceAmount is the absolute amount difference accepted in the
	// exact and partial phases.
	ToleranceAmount float64 `json:"tolerance_amount" yaml:"tolerance_amount" mapstructure:"tolerance_amount"`

	// TolerancePercentage is the relative amount difference, in percent,
	// accepted in the partial phase.
	TolerancePercentage float64 `json:"tolerance_percentage" yaml:"tolerance_percentage" mapstructure:"tolerance_percentage"`

	// DateRangeDays bounds the date difference rewarded in the partial phase.
	DateRangeDays int `json:"date_range_days" yaml:"date_range_days" mapstructure:"date_range_days"`

	// SuggestThreshold is the exclusive lower bound for suggestions.
	SuggestThreshold float64 `json:"suggest_threshold" yaml:"suggest_threshold" mapstructure:"suggest_threshold"`

	// AutoPromoteThreshold is the exclusive lower bound for promoting a
	// fuzzy suggestion into a confirmed match.
	AutoPromoteThreshold float64 `json:"auto_promote_threshold" yaml:"auto_promote_threshold" mapstructure:"auto_promote_threshold"`

	// EvaluationThreshold is the confidence at or above which a pair counts
	// as predicted positive during evaluation.
	EvaluationThreshold float64 `json:"evaluation_threshold" yaml:"evaluation_threshold" mapstructure:"evaluation_threshold"`

	// PartialAcceptThreshold is the outer acceptance gate of the partial phase.
	PartialAcceptThreshold float64 `json:"partial_accept_threshold" yaml:"partial_accept_threshold" mapstructure:"partial_accept_threshold"`

	// CandidateFloor is the exclusive lower bound for candidates kept by
	// MatchTransactions before deduplication.
	CandidateFloor float64 `json:"candidate_floor" yaml:"candidate_floor" mapstructure:"candidate_floor"`

	// PrefilterAmountRatio bounds the amount difference of scored pairs
	// relative to the payment amount.
	PrefilterAmountRatio float64 `json:"prefilter_amount_ratio" yaml:"prefilter_amount_ratio" mapstructure:"prefilter_amount_ratio"`

	// PrefilterWindowDays bounds the date difference of scored pairs.
	PrefilterWindowDays int `json:"prefilter_window_days" yaml:"prefilter_window_days" mapstructure:"prefilter_window_days"`

	// BatchSize is the number of payments per worker batch.
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	// Workers limits the batches scored concurrently.
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`
}

// DefaultToleranceConfig returns a configuration with sensible defaults
func DefaultToleranceConfig() *ToleranceConfig {
	return &ToleranceConfig{
		ToleranceAmount:        1.0,
		TolerancePercentage:    0.1,
		DateRangeDays:          3,
		SuggestThreshold:       0.7,
		AutoPromoteThreshold:   0.9,
		EvaluationThreshold:    0.95,
		PartialAcceptThreshold: 0.8,
		CandidateFloor:         0.5,
		PrefilterAmountRatio:   0.05,
		PrefilterWindowDays:    30,
		BatchSize:              100,
		Workers:                4,
	}
}

// StrictToleranceConfig returns a configuration for strict matching
func StrictToleranceConfig() *ToleranceConfig {
	config := DefaultToleranceConfig()
	config.ToleranceAmount = 0.01
	config.TolerancePercentage = 0
	config.DateRangeDays = 1
	config.SuggestThreshold = 0.85
	config.AutoPromoteThreshold = 0.97
	config.PartialAcceptThreshold = 0.9
	config.CandidateFloor = 0.7
	config.PrefilterAmountRatio = 0.01
	config.PrefilterWindowDays = 7
	return config
}

// RelaxedToleranceConfig returns a configuration for relaxed matching
func RelaxedToleranceConfig() *ToleranceConfig {
	config := DefaultToleranceConfig()
	config.ToleranceAmount = 5.0
	config.TolerancePercentage = 1.0
	config.DateRangeDays = 7
	config.SuggestThreshold = 0.6
	config.AutoPromoteThreshold = 0.85
	config.CandidateFloor = 0.4
	config.PrefilterAmountRatio = 0.1
	config.PrefilterWindowDays = 45
	return config
}

// Validate checks if the tolerance configuration is valid
func (tc *ToleranceConfig) Validate() error {
	if tc.ToleranceAmount < 0 {
		return fmt.Errorf("tolerance amount cannot be negative: %f", tc.ToleranceAmount)
	}

	if tc.TolerancePercentage < 0 || tc.TolerancePercentage > 100 {
		return fmt.Errorf("tolerance percentage must be between 0.0 and 100.0: %f", tc.TolerancePercentage)
	}

	if tc.DateRangeDays < 0 {
		return fmt.Errorf("date range days cannot be negative: %d", tc.DateRangeDays)
	}

	thresholds := []struct {
		name  string
		value float64
	}{
		{"suggest threshold", tc.SuggestThreshold},
		{"auto promote threshold", tc.AutoPromoteThreshold},
		{"evaluation threshold", tc.EvaluationThreshold},
		{"partial accept threshold", tc.PartialAcceptThreshold},
		{"candidate floor", tc.CandidateFloor},
	}
	for _, th := range thresholds {
		if th.value < 0 || th.value > 1 {
			return fmt.Errorf("%s must be between 0.0 and 1.0: %f", th.name, th.value)
		}
	}

	if tc.AutoPromoteThreshold < tc.SuggestThreshold {
		return fmt.Errorf("auto promote threshold (%f) must not be below suggest threshold (%f)",
			tc.AutoPromoteThreshold, tc.SuggestThreshold)
	}

	if tc.PrefilterAmountRatio < 0 {
		return fmt.Errorf("prefilter amount ratio cannot be negative: %f", tc.PrefilterAmountRatio)
	}

	if tc.PrefilterWindowDays < 0 {
		return fmt.Errorf("prefilter window days cannot be negative: %d", tc.PrefilterWindowDays)
	}

	if tc.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive: %d", tc.BatchSize)
	}

	if tc.Workers <= 0 {
		return fmt.Errorf("workers must be positive: %d", tc.Workers)
	}

	return nil
}

// Clone creates a copy of the configuration
func (tc *ToleranceConfig) Clone() *ToleranceConfig {
	if tc == nil {
		return nil
	}
	clone := *tc
	return &clone
}

// GetAmountTolerance returns the larger of the absolute tolerance and the
// percentage tolerance applied to amount.
func (tc *ToleranceConfig) GetAmountTolerance(amount decimal.Decimal) decimal.Decimal {
	absolute := decimal.NewFromFloat(tc.ToleranceAmount)
	if tc.TolerancePercentage == 0 {
		return absolute
	}
	relative := amount.Abs().Mul(decimal.NewFromFloat(tc.TolerancePercentage / 100.0))
	return decimal.Max(absolute, relative)
}

// String returns a human-readable description of the configuration
func (tc *ToleranceConfig) String() string {
	return fmt.Sprintf("ToleranceConfig{Amount: %.2f, Percentage: %.2f%%, DateRange: %d days, Suggest: %.2f, Promote: %.2f, Workers: %d}",
		tc.ToleranceAmount, tc.TolerancePercentage, tc.DateRangeDays, tc.SuggestThreshold, tc.AutoPromoteThreshold, tc.Workers)
}
