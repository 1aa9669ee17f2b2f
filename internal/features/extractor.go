// Package features turns a payment/bank-transaction pair into the bounded
// similarity vector the confidence scorer consumes.
package features

import (
	"fmt"

	"payment-reconciliation-engine/internal/models"
)

// ExtractorConfig holds the decay constants of the similarity functions.
type ExtractorConfig struct {
	AmountDecay    float64 `json:"amount_decay" yaml:"amount_decay" mapstructure:"amount_decay"`
	DateWindowDays int     `json:"date_window_days" yaml:"date_window_days" mapstructure:"date_window_days"`
}

// DefaultExtractorConfig returns decay 5 and a 30 day window.
func DefaultExtractorConfig() *ExtractorConfig {
	return &ExtractorConfig{
		AmountDecay:    5,
		DateWindowDays: 30,
	}
}

// Validate checks the configuration values.
func (c *ExtractorConfig) Validate() error {
	if c.AmountDecay <= 0 {
		return fmt.Errorf("amount decay must be positive: %f", c.AmountDecay)
	}
	if c.DateWindowDays <= 0 {
		return fmt.Errorf("date window days must be positive: %d", c.DateWindowDays)
	}
	return nil
}

// Extractor computes ReconciliationFeatures. It only reads the history
// table, so one Extractor may serve concurrent batches.
type Extractor struct {
	config  *ExtractorConfig
	history *CounterpartyHistory
}

// NewExtractor creates an extractor; nil arguments get defaults.
func NewExtractor(config *ExtractorConfig, history *CounterpartyHistory) *Extractor {
	if config == nil {
		config = DefaultExtractorConfig()
	}
	if history == nil {
		history = NewCounterpartyHistory()
	}
	return &Extractor{config: config, history: history}
}

// History exposes the counterparty table the extractor reads.
func (e *Extractor) History() *CounterpartyHistory {
	return e.history
}

// Extract produces the six-feature vector for one pair.
func (e *Extractor) Extract(p *models.PaymentRecord, t *models.BankTransaction) models.ReconciliationFeatures {
	pa, _ := p.AbsAmount().Float64()
	ta, _ := t.AbsAmount().Float64()

	amount := AmountSimilarity(pa, ta, e.config.AmountDecay)
	if p.AbsAmount().Equal(t.AbsAmount()) {
		amount = 1
	}

	f := models.ReconciliationFeatures{
		AmountSimilarity:       amount,
		DateProximity:          DateProximity(models.CalendarDaysBetween(p.Date, t.Date), e.config.DateWindowDays),
		ReferenceSimilarity:    TextSimilarity(p.Reference, t.ReferenceOrDescription()),
		CounterpartySimilarity: TextSimilarity(p.CounterpartyName, t.CounterpartyName),
		CurrencyMatch:          CurrencyMatch(p.Currency, t.Currency),
		HistoricalMatchScore:   e.history.Score(p.CounterpartyID, t.CounterpartyName),
	}
	return f.Clamped()
}
