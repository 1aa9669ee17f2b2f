package reconciler

import (
	"fmt"
	"strings"
	"time"

	"payment-reconciliation-engine/internal/models"
)

// PreprocessingConfig controls how parsed records are normalized before
// matching. Records are never modified in place; the preprocessor returns
// copies.
type PreprocessingConfig struct {
	// Timezone every date is converted to. Empty keeps dates as parsed.
	Timezone string `json:"timezone" yaml:"timezone" mapstructure:"timezone"`

	// RoundDecimalPlaces rounds amounts; -1 disables rounding.
	RoundDecimalPlaces int `json:"round_decimal_places" yaml:"round_decimal_places" mapstructure:"round_decimal_places"`

	TrimWhitespace    bool `json:"trim_whitespace" yaml:"trim_whitespace" mapstructure:"trim_whitespace"`
	NormalizeCurrency bool `json:"normalize_currency" yaml:"normalize_currency" mapstructure:"normalize_currency"`
	DropZeroAmounts   bool `json:"drop_zero_amounts" yaml:"drop_zero_amounts" mapstructure:"drop_zero_amounts"`

	// RemoveDuplicates drops records repeating an earlier record's id,
	// amount and day.
	RemoveDuplicates bool `json:"remove_duplicates" yaml:"remove_duplicates" mapstructure:"remove_duplicates"`
}

// DefaultPreprocessingConfig returns the default preprocessing configuration.
func DefaultPreprocessingConfig() *PreprocessingConfig {
	return &PreprocessingConfig{
		Timezone:           "UTC",
		RoundDecimalPlaces: -1,
		TrimWhitespace:     true,
		NormalizeCurrency:  true,
		DropZeroAmounts:    false,
		RemoveDuplicates:   false,
	}
}

// Validate checks the preprocessing configuration.
func (c *PreprocessingConfig) Validate() error {
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	if c.RoundDecimalPlaces < -1 || c.RoundDecimalPlaces > 8 {
		return fmt.Errorf("round_decimal_places must be between -1 and 8, got %d", c.RoundDecimalPlaces)
	}
	return nil
}

// PreprocessingStats counts what the preprocessor did to one batch.
type PreprocessingStats struct {
	TotalRecords int `json:"total_records"`
	RecordsKept  int `json:"records_kept"`
	ZeroAmounts  int `json:"zero_amounts_dropped"`
	Duplicates   int `json:"duplicates_dropped"`
}

// DataPreprocessor normalizes parsed payments and bank transactions.
type DataPreprocessor struct {
	config   *PreprocessingConfig
	location *time.Location
}

// NewDataPreprocessor creates a preprocessor; nil gets the default config.
func NewDataPreprocessor(config *PreprocessingConfig) (*DataPreprocessor, error) {
	if config == nil {
		config = DefaultPreprocessingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dp := &DataPreprocessor{config: config}
	if config.Timezone != "" {
		dp.location, _ = time.LoadLocation(config.Timezone)
	}
	return dp, nil
}

// PreprocessPayments returns normalized copies of payments.
func (dp *DataPreprocessor) PreprocessPayments(payments []*models.PaymentRecord) ([]*models.PaymentRecord, PreprocessingStats) {
	stats := PreprocessingStats{TotalRecords: len(payments)}
	seen := make(map[string]bool)
	out := make([]*models.PaymentRecord, 0, len(payments))

	for _, p := range payments {
		c := *p
		c.ID = dp.normalizeString(c.ID)
		c.Reference = dp.normalizeString(c.Reference)
		c.CounterpartyID = dp.normalizeString(c.CounterpartyID)
		c.CounterpartyName = dp.normalizeString(c.CounterpartyName)
		c.Description = dp.normalizeString(c.Description)
		c.TenantID = dp.normalizeString(c.TenantID)
		c.Currency = dp.normalizeCurrency(c.Currency)
		c.Date = dp.normalizeDate(c.Date)
		if dp.config.RoundDecimalPlaces >= 0 {
			c.Amount = c.Amount.Round(int32(dp.config.RoundDecimalPlaces))
		}

		if dp.config.DropZeroAmounts && c.Amount.IsZero() {
			stats.ZeroAmounts++
			continue
		}
		if dp.config.RemoveDuplicates {
			key := duplicateKey(c.ID, c.Amount.String(), c.Date)
			if seen[key] {
				stats.Duplicates++
				continue
			}
			seen[key] = true
		}
		out = append(out, &c)
	}

	stats.RecordsKept = len(out)
	return out, stats
}

// PreprocessTransactions returns normalized copies of bank transactions.
func (dp *DataPreprocessor) PreprocessTransactions(transactions []*models.BankTransaction) ([]*models.BankTransaction, PreprocessingStats) {
	stats := PreprocessingStats{TotalRecords: len(transactions)}
	seen := make(map[string]bool)
	out := make([]*models.BankTransaction, 0, len(transactions))

	for _, t := range transactions {
		c := *t
		c.ID = dp.normalizeString(c.ID)
		c.Reference = dp.normalizeString(c.Reference)
		c.CounterpartyName = dp.normalizeString(c.CounterpartyName)
		c.Description = dp.normalizeString(c.Description)
		c.TenantID = dp.normalizeString(c.TenantID)
		c.Currency = dp.normalizeCurrency(c.Currency)
		c.Date = dp.normalizeDate(c.Date)
		if dp.config.RoundDecimalPlaces >= 0 {
			c.Amount = c.Amount.Round(int32(dp.config.RoundDecimalPlaces))
		}

		if dp.config.DropZeroAmounts && c.Amount.IsZero() {
			stats.ZeroAmounts++
			continue
		}
		if dp.config.RemoveDuplicates {
			key := duplicateKey(c.ID, c.Amount.String(), c.Date)
			if seen[key] {
				stats.Duplicates++
				continue
			}
			seen[key] = true
		}
		out = append(out, &c)
	}

	stats.RecordsKept = len(out)
	return out, stats
}

func (dp *DataPreprocessor) normalizeString(s string) string {
	if dp.config.TrimWhitespace {
		return strings.TrimSpace(s)
	}
	return s
}

func (dp *DataPreprocessor) normalizeCurrency(code string) string {
	if dp.config.NormalizeCurrency {
		return models.NormalizeCurrency(code)
	}
	return code
}

func (dp *DataPreprocessor) normalizeDate(t time.Time) time.Time {
	if dp.location != nil && !t.IsZero() {
		return t.In(dp.location)
	}
	return t
}

func duplicateKey(id, amount string, date time.Time) string {
	return fmt.Sprintf("%s_%s_%s", id, amount, models.FormatDate(date))
}
