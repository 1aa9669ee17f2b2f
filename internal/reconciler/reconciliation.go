package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"payment-reconciliation-engine/internal/matcher"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/parsers"
	rerrors "payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// ReconciliationRequest describes a file-based reconciliation run.
type ReconciliationRequest struct {
	PaymentsFile string   `json:"payments_file"`
	BankFiles    []string `json:"bank_files"`
	// BankFormat names a predefined layout for every bank file. Empty means
	// auto-detect per file.
	BankFormat string     `json:"bank_format,omitempty"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`

	// Tolerance overrides the service tolerances for this run.
	Tolerance *matcher.ToleranceConfig `json:"tolerance,omitempty"`

	// StrictDateMatching reports matches whose dates differ as discrepancies.
	StrictDateMatching bool `json:"strict_date_matching"`
	MaxConcurrentFiles int  `json:"max_concurrent_files,omitempty"`
}

// Validate validates the reconciliation request
func (r *ReconciliationRequest) Validate() error {
	if strings.TrimSpace(r.PaymentsFile) == "" {
		return rerrors.ValidationError(rerrors.CodeMissingField, "payments_file", "", nil).
			WithSuggestion("Provide the payments export with --payments")
	}
	if len(r.BankFiles) == 0 {
		return rerrors.ValidationError(rerrors.CodeMissingField, "bank_files", "", nil).
			WithSuggestion("Provide at least one bank statement with --bank")
	}
	if r.StartDate != nil && r.EndDate != nil && r.StartDate.After(*r.EndDate) {
		return rerrors.ValidationError(rerrors.CodeInvalidDate, "date_range",
			fmt.Sprintf("%s..%s", models.FormatDate(*r.StartDate), models.FormatDate(*r.EndDate)),
			fmt.Errorf("start date must be before end date"))
	}
	if r.Tolerance != nil {
		if err := r.Tolerance.Validate(); err != nil {
			return rerrors.ConfigurationError(rerrors.CodeInvalidConfig, "tolerance", nil, err)
		}
	}
	return nil
}

// ReconciliationReport is the complete outcome of a file-based run.
type ReconciliationReport struct {
	Result          *matcher.AutoReconcileResult   `json:"result"`
	Summary         *ResultSummary                 `json:"summary"`
	ProcessingStats *ProcessingStats               `json:"processing_stats"`
	ParseStats      map[string]*parsers.ParseStats `json:"-"`
	Discrepancies   []*Discrepancy                 `json:"discrepancies,omitempty"`
	ProcessedAt     time.Time                      `json:"processed_at"`
	Request         *ReconciliationRequest         `json:"request,omitempty"`
}

// ResultSummary provides a high-level overview of reconciliation results
type ResultSummary struct {
	TotalPayments     int `json:"total_payments"`
	MatchedPayments   int `json:"matched_payments"`
	UnmatchedPayments int `json:"unmatched_payments"`

	TotalBankTransactions     int `json:"total_bank_transactions"`
	MatchedBankTransactions   int `json:"matched_bank_transactions"`
	UnmatchedBankTransactions int `json:"unmatched_bank_transactions"`

	ExactMatches   int `json:"exact_matches"`
	PartialMatches int `json:"partial_matches"`
	FuzzyMatches   int `json:"fuzzy_matches"`
	Suggested      int `json:"suggested"`

	ReconciliationRate float64 `json:"reconciliation_rate"`

	TotalPaymentAmount     decimal.Decimal `json:"total_payment_amount"`
	TotalBankAmount        decimal.Decimal `json:"total_bank_amount"`
	MatchedAmount          decimal.Decimal `json:"matched_amount"`
	UnmatchedPaymentAmount decimal.Decimal `json:"unmatched_payment_amount"`
	UnmatchedBankAmount    decimal.Decimal `json:"unmatched_bank_amount"`
	NetDiscrepancy         decimal.Decimal `json:"net_discrepancy"`

	ProcessingDuration time.Duration `json:"processing_duration"`
	DateRange          *DateRange    `json:"date_range,omitempty"`
}

// ProcessingStats contains detailed processing statistics
type ProcessingStats struct {
	FilesProcessed  int `json:"files_processed"`
	ParseErrors     int `json:"parse_errors"`
	RecordsDropped  int `json:"records_dropped"`
	RecordsFiltered int `json:"records_filtered"`

	RecordsPerSecond    float64       `json:"records_per_second"`
	TotalProcessingTime time.Duration `json:"total_processing_time"`
	ParsingTime         time.Duration `json:"parsing_time"`
	MatchingTime        time.Duration `json:"matching_time"`
}

// Discrepancy is a problem found in the matched or input data that a
// reviewer should look at.
type Discrepancy struct {
	Type        DiscrepancyType         `json:"type"`
	Payment     *models.PaymentRecord   `json:"payment,omitempty"`
	Transaction *models.BankTransaction `json:"transaction,omitempty"`
	IDs         []string                `json:"ids,omitempty"`
	Description string                  `json:"description"`
	Amount      decimal.Decimal         `json:"amount,omitempty"`
	Severity    Severity                `json:"severity"`
}

// DiscrepancyType represents the type of discrepancy
type DiscrepancyType string

const (
	DiscrepancyAmountDifference     DiscrepancyType = "amount_difference"
	DiscrepancyDateMismatch         DiscrepancyType = "date_mismatch"
	DiscrepancyCurrencyMismatch     DiscrepancyType = "currency_mismatch"
	DiscrepancyDuplicatePayment     DiscrepancyType = "duplicate_payment"
	DiscrepancyDuplicateTransaction DiscrepancyType = "duplicate_transaction"
)

// Severity represents the severity level of a discrepancy
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// DateRange represents a date range filter
type DateRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// ReconcileFiles parses the payments file and every bank file, normalizes
// and date-filters the records, and runs the three-phase reconciliation.
// Parse failures of whole files abort the run; malformed rows are skipped
// and counted. On cancellation the partial report is returned with the
// error.
func (s *Service) ReconcileFiles(ctx context.Context, request *ReconciliationRequest) (*ReconciliationReport, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	log := s.logger.WithFields(logger.Fields{
		"payments_file": request.PaymentsFile,
		"bank_files":    len(request.BankFiles),
	})
	log.Info("Starting file reconciliation")

	report := &ReconciliationReport{
		ProcessedAt:     start,
		Request:         request,
		ParseStats:      make(map[string]*parsers.ParseStats),
		Summary:         &ResultSummary{},
		ProcessingStats: &ProcessingStats{},
	}
	if request.StartDate != nil || request.EndDate != nil {
		report.Summary.DateRange = &DateRange{Start: request.StartDate, End: request.EndDate}
	}

	payments, paymentStats, err := LoadPayments(ctx, request.PaymentsFile, nil)
	if err != nil {
		return nil, err
	}
	report.ParseStats[request.PaymentsFile] = paymentStats

	bank, bankStats, err := LoadBankFiles(ctx, request.BankFiles, request.BankFormat, request.MaxConcurrentFiles)
	if err != nil {
		return nil, err
	}
	for path, stats := range bankStats {
		report.ParseStats[path] = stats
	}
	report.ProcessingStats.ParsingTime = time.Since(start)

	preprocessor, err := NewDataPreprocessor(s.config.Preprocess)
	if err != nil {
		return nil, rerrors.ConfigurationError(rerrors.CodeInvalidConfig, "preprocessing", nil, err)
	}
	payments, paymentPrep := preprocessor.PreprocessPayments(payments)
	bank, bankPrep := preprocessor.PreprocessTransactions(bank)
	report.ProcessingStats.RecordsDropped = paymentPrep.TotalRecords - paymentPrep.RecordsKept +
		bankPrep.TotalRecords - bankPrep.RecordsKept

	beforeFilter := len(payments) + len(bank)
	payments, bank = applyDateRangeFiltering(payments, bank, request.StartDate, request.EndDate)
	report.ProcessingStats.RecordsFiltered = beforeFilter - len(payments) - len(bank)

	matchStart := time.Now()
	result, err := s.AutoReconcile(ctx, bank, payments, request.Tolerance)
	if result == nil {
		return nil, err
	}
	report.ProcessingStats.MatchingTime = time.Since(matchStart)
	report.Result = result

	report.Discrepancies = analyzeDiscrepancies(result, request.StrictDateMatching)
	summarize(report.Summary, result, payments, bank)
	buildProcessingStats(report, len(payments)+len(bank), time.Since(start))

	log.WithFields(logger.Fields{
		"run_id":              result.RunID,
		"matches":             len(result.Matches),
		"discrepancies":       len(report.Discrepancies),
		"parse_errors":        report.ProcessingStats.ParseErrors,
		"reconciliation_rate": result.ReconciliationRate,
		"duration_ms":         report.ProcessingStats.TotalProcessingTime.Milliseconds(),
	}).Info("File reconciliation completed")

	return report, err
}

// Reconcile runs the three-phase reconciliation over records already in
// memory and builds the same report ReconcileFiles does, without parse
// statistics.
func (s *Service) Reconcile(ctx context.Context, bank []*models.BankTransaction, system []*models.PaymentRecord, cfg *matcher.ToleranceConfig, strictDates bool) (*ReconciliationReport, error) {
	start := time.Now()
	result, err := s.AutoReconcile(ctx, bank, system, cfg)
	if result == nil {
		return nil, err
	}

	report := &ReconciliationReport{
		Result:          result,
		Summary:         &ResultSummary{},
		ProcessingStats: &ProcessingStats{MatchingTime: result.ProcessingTime},
		Discrepancies:   analyzeDiscrepancies(result, strictDates),
		ProcessedAt:     start,
	}
	summarize(report.Summary, result, system, bank)
	buildProcessingStats(report, len(system)+len(bank), time.Since(start))
	return report, err
}

// applyDateRangeFiltering keeps the records dated within [start, end].
func applyDateRangeFiltering(payments []*models.PaymentRecord, bank []*models.BankTransaction, start, end *time.Time) ([]*models.PaymentRecord, []*models.BankTransaction) {
	if start == nil && end == nil {
		return payments, bank
	}

	filteredPayments := make([]*models.PaymentRecord, 0, len(payments))
	for _, p := range payments {
		if isWithinDateRange(p.Date, start, end) {
			filteredPayments = append(filteredPayments, p)
		}
	}

	filteredBank := make([]*models.BankTransaction, 0, len(bank))
	for _, t := range bank {
		if isWithinDateRange(t.Date, start, end) {
			filteredBank = append(filteredBank, t)
		}
	}

	return filteredPayments, filteredBank
}

// isWithinDateRange compares calendar days, so the end date is inclusive
// whatever its time of day.
func isWithinDateRange(date time.Time, start, end *time.Time) bool {
	day := calendarDay(date)
	if start != nil && day.Before(calendarDay(*start)) {
		return false
	}
	if end != nil && day.After(calendarDay(*end)) {
		return false
	}
	return true
}

func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// analyzeDiscrepancies inspects accepted matches for field disagreements
// and turns duplicate groups into discrepancies.
func analyzeDiscrepancies(result *matcher.AutoReconcileResult, strictDates bool) []*Discrepancy {
	var discrepancies []*Discrepancy

	for _, m := range result.Matches {
		paymentAmount := m.Payment.AbsAmount()
		bankAmount := m.Transaction.AbsAmount()
		if !paymentAmount.Equal(bankAmount) {
			discrepancies = append(discrepancies, &Discrepancy{
				Type:        DiscrepancyAmountDifference,
				Payment:     m.Payment,
				Transaction: m.Transaction,
				Description: fmt.Sprintf("Amount difference: payment %s vs bank %s",
					paymentAmount.StringFixed(2), bankAmount.StringFixed(2)),
				Amount:   paymentAmount.Sub(bankAmount).Abs(),
				Severity: determineSeverity(m.Confidence),
			})
		}

		if models.NormalizeCurrency(m.Payment.Currency) != models.NormalizeCurrency(m.Transaction.Currency) {
			discrepancies = append(discrepancies, &Discrepancy{
				Type:        DiscrepancyCurrencyMismatch,
				Payment:     m.Payment,
				Transaction: m.Transaction,
				Description: fmt.Sprintf("Currency mismatch: payment %s vs bank %s",
					m.Payment.Currency, m.Transaction.Currency),
				Severity: SeverityHigh,
			})
		}

		if strictDates && !models.SameDay(m.Payment.Date, m.Transaction.Date) {
			discrepancies = append(discrepancies, &Discrepancy{
				Type:        DiscrepancyDateMismatch,
				Payment:     m.Payment,
				Transaction: m.Transaction,
				Description: fmt.Sprintf("Date mismatch: payment %s vs bank %s",
					models.FormatDate(m.Payment.Date), models.FormatDate(m.Transaction.Date)),
				Severity: SeverityMedium,
			})
		}
	}

	for _, g := range result.DuplicateSystem {
		discrepancies = append(discrepancies, &Discrepancy{
			Type:        DiscrepancyDuplicatePayment,
			IDs:         g.IDs,
			Description: fmt.Sprintf("Duplicate payments detected: %s", strings.Join(g.IDs, ", ")),
			Severity:    SeverityHigh,
		})
	}
	for _, g := range result.DuplicateBank {
		discrepancies = append(discrepancies, &Discrepancy{
			Type:        DiscrepancyDuplicateTransaction,
			IDs:         g.IDs,
			Description: fmt.Sprintf("Duplicate bank transactions detected: %s", strings.Join(g.IDs, ", ")),
			Severity:    SeverityHigh,
		})
	}

	return discrepancies
}

func determineSeverity(confidence float64) Severity {
	switch {
	case confidence >= 0.9:
		return SeverityLow
	case confidence >= 0.7:
		return SeverityMedium
	case confidence >= 0.5:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// summarize fills counts and financial totals. Amounts are magnitudes.
func summarize(summary *ResultSummary, result *matcher.AutoReconcileResult, payments []*models.PaymentRecord, bank []*models.BankTransaction) {
	summary.TotalPayments = len(payments)
	summary.TotalBankTransactions = len(bank)
	summary.MatchedPayments = len(result.Matches)
	summary.MatchedBankTransactions = len(result.Matches)
	summary.UnmatchedPayments = len(result.UnmatchedSystem)
	summary.UnmatchedBankTransactions = len(result.UnmatchedBank)
	summary.ExactMatches = result.PhaseCounts[models.PhaseExact]
	summary.PartialMatches = result.PhaseCounts[models.PhasePartial]
	summary.FuzzyMatches = result.PhaseCounts[models.PhaseFuzzy]
	summary.Suggested = len(result.Suggested)
	summary.ReconciliationRate = result.ReconciliationRate

	totalPayments := decimal.Zero
	for _, p := range payments {
		totalPayments = totalPayments.Add(p.AbsAmount())
	}
	totalBank := decimal.Zero
	for _, t := range bank {
		totalBank = totalBank.Add(t.AbsAmount())
	}
	matched := decimal.Zero
	for _, m := range result.Matches {
		matched = matched.Add(m.Payment.AbsAmount())
	}
	unmatchedPayments := decimal.Zero
	for _, p := range result.UnmatchedSystem {
		unmatchedPayments = unmatchedPayments.Add(p.AbsAmount())
	}
	unmatchedBank := decimal.Zero
	for _, t := range result.UnmatchedBank {
		unmatchedBank = unmatchedBank.Add(t.AbsAmount())
	}

	summary.TotalPaymentAmount = totalPayments
	summary.TotalBankAmount = totalBank
	summary.MatchedAmount = matched
	summary.UnmatchedPaymentAmount = unmatchedPayments
	summary.UnmatchedBankAmount = unmatchedBank
	summary.NetDiscrepancy = totalPayments.Sub(totalBank)
}

func buildProcessingStats(report *ReconciliationReport, records int, elapsed time.Duration) {
	stats := report.ProcessingStats
	stats.FilesProcessed = len(report.ParseStats)
	for _, ps := range report.ParseStats {
		if ps != nil {
			stats.ParseErrors += ps.ErrorCount
		}
	}
	stats.TotalProcessingTime = elapsed
	if elapsed > 0 {
		stats.RecordsPerSecond = float64(records) / elapsed.Seconds()
	}
	report.Summary.ProcessingDuration = elapsed
}
