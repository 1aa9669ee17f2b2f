package models

import (
	"fmt"
	"math"
)

// FeatureCount is the length of the vector the confidence scorer consumes.
const FeatureCount = 6

// ReconciliationFeatures are the six bounded similarity signals for one
// payment/transaction pair. The order of Vector is the scorer's input contract.
type ReconciliationFeatures struct {
	AmountSimilarity       float64 `json:"amount_similarity"`
	DateProximity          float64 `json:"date_proximity"`
	ReferenceSimilarity    float64 `json:"reference_similarity"`
	CounterpartySimilarity float64 `json:"counterparty_similarity"`
	CurrencyMatch          float64 `json:"currency_match"`
	HistoricalMatchScore   float64 `json:"historical_match_score"`
}

// Vector returns the features in scorer order.
func (f ReconciliationFeatures) Vector() []float64 {
	return []float64{
		f.AmountSimilarity,
		f.DateProximity,
		f.ReferenceSimilarity,
		f.CounterpartySimilarity,
		f.CurrencyMatch,
		f.HistoricalMatchScore,
	}
}

// Clamped bounds every feature to [0,1]; currency is forced to exactly 0 or 1.
func (f ReconciliationFeatures) Clamped() ReconciliationFeatures {
	currency := 0.0
	if f.CurrencyMatch >= 0.5 {
		currency = 1.0
	}
	return ReconciliationFeatures{
		AmountSimilarity:       Clamp01(f.AmountSimilarity),
		DateProximity:          Clamp01(f.DateProximity),
		ReferenceSimilarity:    Clamp01(f.ReferenceSimilarity),
		CounterpartySimilarity: Clamp01(f.CounterpartySimilarity),
		CurrencyMatch:          currency,
		HistoricalMatchScore:   Clamp01(f.HistoricalMatchScore),
	}
}

// FeaturesFromVector is the inverse of Vector.
func FeaturesFromVector(v []float64) (ReconciliationFeatures, error) {
	if len(v) != FeatureCount {
		return ReconciliationFeatures{}, fmt.Errorf("expected %d features, got %d", FeatureCount, len(v))
	}
	return ReconciliationFeatures{
		AmountSimilarity:       v[0],
		DateProximity:          v[1],
		ReferenceSimilarity:    v[2],
		CounterpartySimilarity: v[3],
		CurrencyMatch:          v[4],
		HistoricalMatchScore:   v[5],
	}, nil
}

// Clamp01 bounds x to [0,1]; NaN maps to 0.
func Clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

// MatchType is the confidence tier of a match.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchProbable MatchType = "probable"
	MatchPossible MatchType = "possible"
)

// SuggestedAction tells a reviewer what to do with a match.
type SuggestedAction string

const (
	ActionAutoMatch   SuggestedAction = "auto-match"
	ActionReview      SuggestedAction = "review"
	ActionInvestigate SuggestedAction = "investigate"
)

// Phase records which matcher stage produced a match.
type Phase string

const (
	PhaseExact       Phase = "EXACT"
	PhasePartial     Phase = "PARTIAL"
	PhaseFuzzy       Phase = "FUZZY"
	PhaseIndependent Phase = "INDEPENDENT"
)

// FieldDifference is one audited disagreement between the two sides of a match.
type FieldDifference struct {
	Field       string `json:"field"`
	Payment     string `json:"payment"`
	Transaction string `json:"transaction"`
}

// ReconciliationMatch is a proposed or accepted pairing.
type ReconciliationMatch struct {
	Payment         *PaymentRecord         `json:"payment"`
	Transaction     *BankTransaction       `json:"transaction"`
	Confidence      float64                `json:"confidence"`
	MatchType       MatchType              `json:"match_type"`
	SuggestedAction SuggestedAction        `json:"suggested_action"`
	Features        ReconciliationFeatures `json:"features"`
	Phase           Phase                  `json:"phase"`
	Differences     []FieldDifference      `json:"differences,omitempty"`
}

func (m *ReconciliationMatch) String() string {
	return fmt.Sprintf("Match{%s <-> %s, confidence: %.3f, type: %s, phase: %s}",
		m.Payment.ID, m.Transaction.ID, m.Confidence, m.MatchType, m.Phase)
}

// ReconciliationHistory is one labeled decision used for training and evaluation.
type ReconciliationHistory struct {
	Payment     PaymentRecord   `json:"payment"`
	Transaction BankTransaction `json:"transaction"`
	IsMatch     bool            `json:"is_match"`
	Confidence  *float64        `json:"confidence,omitempty"`
}

// Validate checks both sides of the labeled pair.
func (h *ReconciliationHistory) Validate() error {
	if err := h.Payment.Validate(); err != nil {
		return err
	}
	return h.Transaction.Validate()
}
