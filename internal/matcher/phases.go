package matcher

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment-reconciliation-engine/internal/features"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/scorer"
	"payment-reconciliation-engine/pkg/logger"
)

// Partial phase weights.
const (
	partialAmountWeight    = 0.4
	partialDateWeight      = 0.3
	partialReferenceWeight = 0.3

	// partialMatchGate is the inner acceptance gate of the partial phase.
	// PartialAcceptThreshold is applied on top of it.
	partialMatchGate = 0.5
	// referenceOverlapGate is the reference similarity needed before the
	// reference weight counts at all.
	referenceOverlapGate = 0.5
)

// Reference overlap levels, strongest first.
const (
	overlapEqual     = 1.0
	overlapContains  = 0.9
	overlapInvoice   = 0.8
	overlapAmountHit = 0.7
)

var (
	invoicePattern = regexp.MustCompile(`(?i)\b(?:inv(?:oice)?|bill)\s*(?:no\.?|number|#)?\s*[-#:_.]?\s*(\d+)`)
	numberPattern  = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
)

// AutoReconcileResult is the outcome of one three-phase run. RunID and
// ProcessingTime describe the run itself and differ between runs; every
// other field depends only on the input and the installed model.
type AutoReconcileResult struct {
	RunID              string                        `json:"run_id"`
	Matches            []*models.ReconciliationMatch `json:"matches"`
	Suggested          []*models.ReconciliationMatch `json:"suggested_matches"`
	UnmatchedBank      []*models.BankTransaction     `json:"unmatched_bank"`
	UnmatchedSystem    []*models.PaymentRecord       `json:"unmatched_system"`
	ReconciliationRate float64                       `json:"reconciliation_rate"`
	PhaseCounts        map[models.Phase]int          `json:"phase_counts"`
	DuplicateBank      []DuplicateGroup              `json:"duplicate_bank,omitempty"`
	DuplicateSystem    []DuplicateGroup              `json:"duplicate_system,omitempty"`
	ProcessingTime     time.Duration                 `json:"processing_time"`
}

// pools holds the unmatched remainder that each phase consumes.
type pools struct {
	bank   []*models.BankTransaction
	system []*models.PaymentRecord
}

// AutoReconcile matches bank transactions against system payment records in
// three passes. Each pass only sees what the previous one left unmatched:
//
//  1. Exact: same day, amounts within ToleranceAmount, and matching
//     references. Confidence 1.0.
//  2. Partial: a weighted score over amount, date and reference overlap,
//     accepted above both the inner gate and PartialAcceptThreshold.
//  3. Fuzzy: scorer confidence over pre-filtered pairs. Pairs above
//     AutoPromoteThreshold become matches, pairs above SuggestThreshold are
//     returned as suggestions.
//
// cfg overrides the engine configuration when non-nil. Invalid input fails
// before any phase runs. Cancellation during the fuzzy phase returns the
// result built so far together with the error.
func (me *MatchingEngine) AutoReconcile(ctx context.Context, bank []*models.BankTransaction, system []*models.PaymentRecord, cfg *ToleranceConfig) (*AutoReconcileResult, error) {
	if cfg == nil {
		cfg = me.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := models.ValidateTransactions(bank); err != nil {
		return nil, err
	}
	if err := models.ValidatePayments(system); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &AutoReconcileResult{
		RunID:           uuid.NewString(),
		PhaseCounts:     make(map[models.Phase]int),
		DuplicateBank:   DetectDuplicateTransactions(bank),
		DuplicateSystem: DetectDuplicatePayments(system),
	}
	log := me.logger.WithField("run_id", result.RunID)
	if len(result.DuplicateBank) > 0 || len(result.DuplicateSystem) > 0 {
		log.WithFields(logger.Fields{
			"duplicate_bank_groups":   len(result.DuplicateBank),
			"duplicate_system_groups": len(result.DuplicateSystem),
		}).Warn("Duplicate records detected, matches among them are ambiguous")
	}

	p := &pools{
		bank:   slices.Clone(bank),
		system: slices.Clone(system),
	}

	result.Matches = append(result.Matches, me.exactPhase(cfg, p)...)
	result.PhaseCounts[models.PhaseExact] = len(result.Matches)

	partial := me.partialPhase(cfg, p)
	result.Matches = append(result.Matches, partial...)
	result.PhaseCounts[models.PhasePartial] = len(partial)

	promoted, suggested, err := me.fuzzyPhase(ctx, cfg, p)
	result.Matches = append(result.Matches, promoted...)
	result.Suggested = suggested
	result.PhaseCounts[models.PhaseFuzzy] = len(promoted)

	result.UnmatchedBank = p.bank
	result.UnmatchedSystem = p.system
	if len(bank) > 0 {
		result.ReconciliationRate = float64(len(result.Matches)) / float64(len(bank)) * 100
	}
	result.ProcessingTime = time.Since(start)

	log.WithFields(logger.Fields{
		"bank":                len(bank),
		"system":              len(system),
		"exact":               result.PhaseCounts[models.PhaseExact],
		"partial":             result.PhaseCounts[models.PhasePartial],
		"fuzzy":               result.PhaseCounts[models.PhaseFuzzy],
		"suggested":           len(result.Suggested),
		"reconciliation_rate": result.ReconciliationRate,
		"duration_ms":         result.ProcessingTime.Milliseconds(),
	}).Info("Auto reconciliation completed")

	return result, err
}

// exactPhase scans bank transactions from last to first and pairs each with
// the first system record satisfying isExactMatch.
func (me *MatchingEngine) exactPhase(cfg *ToleranceConfig, p *pools) []*models.ReconciliationMatch {
	tolerance := decimal.NewFromFloat(cfg.ToleranceAmount)
	var matches []*models.ReconciliationMatch

	for i := len(p.bank) - 1; i >= 0; i-- {
		b := p.bank[i]
		for j, s := range p.system {
			if !isExactMatch(s, b, tolerance) {
				continue
			}
			matches = append(matches, me.phaseMatch(s, b, 1.0, models.PhaseExact))
			p.bank = slices.Delete(p.bank, i, i+1)
			p.system = slices.Delete(p.system, j, j+1)
			break
		}
	}
	return matches
}

// isExactMatch requires the same calendar day, amounts within tolerance and
// either equal references or one side's description containing the other
// side's reference.
func isExactMatch(s *models.PaymentRecord, b *models.BankTransaction, tolerance decimal.Decimal) bool {
	if !models.SameDay(s.Date, b.Date) {
		return false
	}
	if s.AbsAmount().Sub(b.AbsAmount()).Abs().GreaterThan(tolerance) {
		return false
	}

	sRef := models.NormalizeText(s.Reference)
	bRef := models.NormalizeText(b.Reference)
	if sRef != "" && sRef == bRef {
		return true
	}
	if sRef != "" && strings.Contains(models.NormalizeText(b.Description), sRef) {
		return true
	}
	return bRef != "" && strings.Contains(models.NormalizeText(s.Description), bRef)
}

// partialPhase pairs each remaining bank transaction with its best-scoring
// system record when that score passes both acceptance gates.
func (me *MatchingEngine) partialPhase(cfg *ToleranceConfig, p *pools) []*models.ReconciliationMatch {
	var matches []*models.ReconciliationMatch

	for i := 0; i < len(p.bank); {
		b := p.bank[i]
		best, bestScore := -1, 0.0
		for j, s := range p.system {
			if score := partialScore(cfg, s, b); score > bestScore {
				best, bestScore = j, score
			}
		}

		if best >= 0 && bestScore > partialMatchGate && bestScore > cfg.PartialAcceptThreshold {
			s := p.system[best]
			m := me.phaseMatch(s, b, bestScore, models.PhasePartial)
			m.Differences = fieldDifferences(s, b)
			matches = append(matches, m)
			p.bank = slices.Delete(p.bank, i, i+1)
			p.system = slices.Delete(p.system, best, best+1)
			continue
		}
		i++
	}
	return matches
}

// partialScore adds 0.4 when the amounts agree within tolerance, 0.3 when
// the dates lie within DateRangeDays and 0.3 times the reference overlap
// when that overlap exceeds 0.5.
func partialScore(cfg *ToleranceConfig, s *models.PaymentRecord, b *models.BankTransaction) float64 {
	score := 0.0

	diff := s.AbsAmount().Sub(b.AbsAmount()).Abs()
	if diff.LessThanOrEqual(cfg.GetAmountTolerance(s.AbsAmount())) {
		score += partialAmountWeight
	}
	if models.CalendarDaysBetween(s.Date, b.Date) <= cfg.DateRangeDays {
		score += partialDateWeight
	}
	if overlap := referenceOverlap(s, b); overlap > referenceOverlapGate {
		score += partialReferenceWeight * overlap
	}
	return score
}

// referenceOverlap measures how strongly the reference texts of the two
// records point at each other.
func referenceOverlap(s *models.PaymentRecord, b *models.BankTransaction) float64 {
	sRef := models.NormalizeText(s.Reference)
	bRef := models.NormalizeText(b.Reference)
	sDesc := models.NormalizeText(s.Description)
	bDesc := models.NormalizeText(b.Description)

	if sRef != "" && sRef == bRef {
		return overlapEqual
	}
	if containsEither(sRef, bRef) || (sRef != "" && strings.Contains(bDesc, sRef)) || (bRef != "" && strings.Contains(sDesc, bRef)) {
		return overlapContains
	}
	if sharesInvoiceNumber(s.Reference+" "+s.Description, b.Reference+" "+b.Description) {
		return overlapInvoice
	}
	if mentionsAmount(b.Reference+" "+b.Description, s.AbsAmount()) || mentionsAmount(s.Reference+" "+s.Description, b.AbsAmount()) {
		return overlapAmountHit
	}
	return features.EditSimilarity(sRef, models.NormalizeText(b.ReferenceOrDescription()))
}

func containsEither(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func invoiceNumbers(text string) map[string]bool {
	numbers := make(map[string]bool)
	for _, m := range invoicePattern.FindAllStringSubmatch(text, -1) {
		n := strings.TrimLeft(m[1], "0")
		if n == "" {
			n = "0"
		}
		numbers[n] = true
	}
	return numbers
}

func sharesInvoiceNumber(a, b string) bool {
	left := invoiceNumbers(a)
	if len(left) == 0 {
		return false
	}
	for n := range invoiceNumbers(b) {
		if left[n] {
			return true
		}
	}
	return false
}

// mentionsAmount reports whether text contains a number equal to amount,
// with or without thousands separators.
func mentionsAmount(text string, amount decimal.Decimal) bool {
	if amount.IsZero() {
		return false
	}
	for _, raw := range numberPattern.FindAllString(text, -1) {
		n, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
		if err == nil && n.Equal(amount) {
			return true
		}
	}
	return false
}

// fuzzyPhase scores the remaining pools. Candidates above the promote
// threshold are accepted greedily, highest confidence first; the rest above
// the suggest threshold become suggestions unless they touch a promoted
// record.
func (me *MatchingEngine) fuzzyPhase(ctx context.Context, cfg *ToleranceConfig, p *pools) (promoted, suggested []*models.ReconciliationMatch, err error) {
	pf := NewPrefilter(p.bank, cfg.PrefilterAmountRatio, cfg.PrefilterWindowDays)
	candidates, err := me.scoreCandidates(ctx, cfg, p.system, pf, cfg.SuggestThreshold, models.PhaseFuzzy)
	sortByConfidence(candidates)

	usedBank := make(map[string]bool)
	usedSystem := make(map[string]bool)
	for _, c := range candidates {
		if c.Confidence <= cfg.AutoPromoteThreshold {
			break
		}
		if usedBank[c.Transaction.ID] || usedSystem[c.Payment.ID] {
			continue
		}
		promoted = append(promoted, c)
		usedBank[c.Transaction.ID] = true
		usedSystem[c.Payment.ID] = true
	}

	for _, c := range candidates {
		if usedBank[c.Transaction.ID] || usedSystem[c.Payment.ID] {
			continue
		}
		suggested = append(suggested, c)
	}

	p.bank = slices.DeleteFunc(p.bank, func(b *models.BankTransaction) bool { return usedBank[b.ID] })
	p.system = slices.DeleteFunc(p.system, func(s *models.PaymentRecord) bool { return usedSystem[s.ID] })
	return promoted, suggested, err
}

// phaseMatch builds a match with a fixed confidence from a rule-based phase.
func (me *MatchingEngine) phaseMatch(s *models.PaymentRecord, b *models.BankTransaction, confidence float64, phase models.Phase) *models.ReconciliationMatch {
	f := me.Extractor.Extract(s, b)
	confidence = models.Clamp01(confidence)
	return &models.ReconciliationMatch{
		Payment:         s,
		Transaction:     b,
		Confidence:      confidence,
		MatchType:       scorer.ClassifyMatchType(confidence),
		SuggestedAction: scorer.SuggestAction(confidence, f),
		Features:        f,
		Phase:           phase,
	}
}

// fieldDifferences lists the fields on which the two sides disagree.
func fieldDifferences(s *models.PaymentRecord, b *models.BankTransaction) []models.FieldDifference {
	var diffs []models.FieldDifference
	if !s.AbsAmount().Equal(b.AbsAmount()) {
		diffs = append(diffs, models.FieldDifference{Field: "amount", Payment: s.Amount.String(), Transaction: b.Amount.String()})
	}
	if !models.SameDay(s.Date, b.Date) {
		diffs = append(diffs, models.FieldDifference{Field: "date", Payment: models.FormatDate(s.Date), Transaction: models.FormatDate(b.Date)})
	}
	if models.NormalizeText(s.Reference) != models.NormalizeText(b.Reference) {
		diffs = append(diffs, models.FieldDifference{Field: "reference", Payment: s.Reference, Transaction: b.Reference})
	}
	if models.NormalizeCurrency(s.Currency) != models.NormalizeCurrency(b.Currency) {
		diffs = append(diffs, models.FieldDifference{Field: "currency", Payment: s.Currency, Transaction: b.Currency})
	}
	if s.CounterpartyName != "" && b.CounterpartyName != "" &&
		models.NormalizeText(s.CounterpartyName) != models.NormalizeText(b.CounterpartyName) {
		diffs = append(diffs, models.FieldDifference{Field: "counterparty", Payment: s.CounterpartyName, Transaction: b.CounterpartyName})
	}
	return diffs
}
