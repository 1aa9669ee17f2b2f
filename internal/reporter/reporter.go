// Package reporter renders reconciliation, matching, training and
// evaluation results for people and for other programs.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: structured data for programmatic consumption
//   - YAML: the JSON document rendered as YAML
//   - CSV: one row per match or unmatched record, for spreadsheets
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatJSON})
//	err = generator.GenerateReport(report, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/reconciler"
	"payment-reconciliation-engine/internal/trainer"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatYAML    OutputFormat = "yaml"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatYAML, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" yaml:"format" mapstructure:"format"`

	IncludeMatches         bool `json:"include_matches" yaml:"include_matches" mapstructure:"include_matches"`
	IncludeSuggestions     bool `json:"include_suggestions" yaml:"include_suggestions" mapstructure:"include_suggestions"`
	IncludeUnmatched       bool `json:"include_unmatched" yaml:"include_unmatched" mapstructure:"include_unmatched"`
	IncludeDiscrepancies   bool `json:"include_discrepancies" yaml:"include_discrepancies" mapstructure:"include_discrepancies"`
	IncludeProcessingStats bool `json:"include_processing_stats" yaml:"include_processing_stats" mapstructure:"include_processing_stats"`
	IncludeFeatures        bool `json:"include_features" yaml:"include_features" mapstructure:"include_features"`

	// MaxListItems caps console lists; 0 prints everything.
	MaxListItems int  `json:"max_list_items" yaml:"max_list_items" mapstructure:"max_list_items"`
	SortByAmount bool `json:"sort_by_amount" yaml:"sort_by_amount" mapstructure:"sort_by_amount"`

	CSVDelimiter rune `json:"csv_delimiter" yaml:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers" yaml:"csv_headers" mapstructure:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                 FormatConsole,
		IncludeMatches:         true,
		IncludeSuggestions:     true,
		IncludeUnmatched:       true,
		IncludeDiscrepancies:   true,
		IncludeProcessingStats: true,
		IncludeFeatures:        false,
		MaxListItems:           10,
		SortByAmount:           false,
		CSVDelimiter:           ',',
		CSVHeaders:             true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator renders results in the configured format.
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// Config returns the generator configuration.
func (rg *ReportGenerator) Config() *ReportConfig {
	return rg.config
}

// GenerateReport writes a file reconciliation report.
func (rg *ReportGenerator) GenerateReport(report *reconciler.ReconciliationReport, writer io.Writer) error {
	if report == nil || report.Result == nil {
		return fmt.Errorf("reconciliation report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.consoleReport(report, writer)
	case FormatJSON:
		return writeJSON(writer, rg.filterReportForOutput(report))
	case FormatYAML:
		return writeYAML(writer, rg.filterReportForOutput(report))
	case FormatCSV:
		return rg.csvReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateMatches writes a list of matches or suggestions.
func (rg *ReportGenerator) GenerateMatches(title string, matches []*models.ReconciliationMatch, writer io.Writer) error {
	switch rg.config.Format {
	case FormatConsole:
		fmt.Fprintf(writer, "=== %s ===\n", strings.ToUpper(title))
		fmt.Fprintf(writer, "Total: %d\n\n", len(matches))
		rg.printMatchList(matches, writer)
		return nil
	case FormatJSON:
		return writeJSON(writer, map[string]interface{}{"total": len(matches), "matches": matches})
	case FormatYAML:
		return writeYAML(writer, map[string]interface{}{"total": len(matches), "matches": matches})
	case FormatCSV:
		cw := rg.newCSVWriter(writer)
		if err := rg.writeCSVHeader(cw); err != nil {
			return err
		}
		for _, m := range matches {
			if err := cw.Write(matchRecord(title, m)); err != nil {
				return fmt.Errorf("failed to write match record: %w", err)
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateTrainingReport writes the outcome of a training run.
func (rg *ReportGenerator) GenerateTrainingReport(report *trainer.TrainingReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("training report cannot be nil")
	}

	switch rg.config.Format {
	case FormatJSON:
		return writeJSON(writer, report)
	case FormatYAML:
		return writeYAML(writer, report)
	case FormatCSV:
		cw := rg.newCSVWriter(writer)
		rows := [][]string{
			{"samples", fmt.Sprint(report.Samples)},
			{"train_size", fmt.Sprint(report.TrainSize)},
			{"validation_size", fmt.Sprint(report.ValidationSize)},
			{"epochs", fmt.Sprint(report.Epochs)},
			{"final_accuracy", fmt.Sprintf("%.4f", report.FinalAccuracy)},
			{"skipped", fmt.Sprint(report.Skipped)},
			{"model_version", fmt.Sprint(report.ModelVersion)},
			{"history_version", fmt.Sprint(report.HistoryVersion)},
		}
		if rg.config.CSVHeaders {
			rows = append([][]string{{"Metric", "Value"}}, rows...)
		}
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("failed to write training report: %w", err)
		}
		return nil
	}

	fmt.Fprintf(writer, "=== TRAINING ===\n")
	if report.Skipped {
		fmt.Fprintf(writer, "Skipped: %d labeled examples, not enough to train\n", report.Samples)
		return nil
	}
	fmt.Fprintf(writer, "Samples:          %d (train %d, validation %d)\n", report.Samples, report.TrainSize, report.ValidationSize)
	fmt.Fprintf(writer, "Epochs:           %d\n", report.Epochs)
	fmt.Fprintf(writer, "Final Accuracy:   %.2f%%\n", report.FinalAccuracy*100)
	fmt.Fprintf(writer, "Model Version:    %d\n", report.ModelVersion)
	fmt.Fprintf(writer, "History Version:  %d\n", report.HistoryVersion)
	return nil
}

// GenerateEvaluationReport writes evaluation metrics.
func (rg *ReportGenerator) GenerateEvaluationReport(metrics *trainer.EvaluationMetrics, writer io.Writer) error {
	if metrics == nil {
		return fmt.Errorf("evaluation metrics cannot be nil")
	}

	switch rg.config.Format {
	case FormatJSON:
		return writeJSON(writer, metrics)
	case FormatYAML:
		return writeYAML(writer, metrics)
	case FormatCSV:
		cw := rg.newCSVWriter(writer)
		rows := [][]string{
			{"threshold", fmt.Sprintf("%.4f", metrics.Threshold)},
			{"total", fmt.Sprint(metrics.Total)},
			{"true_positives", fmt.Sprint(metrics.TruePositives)},
			{"false_positives", fmt.Sprint(metrics.FalsePositives)},
			{"true_negatives", fmt.Sprint(metrics.TrueNegatives)},
			{"false_negatives", fmt.Sprint(metrics.FalseNegatives)},
			{"accuracy", fmt.Sprintf("%.4f", metrics.Accuracy)},
			{"precision", fmt.Sprintf("%.4f", metrics.Precision)},
			{"recall", fmt.Sprintf("%.4f", metrics.Recall)},
			{"f1", fmt.Sprintf("%.4f", metrics.F1)},
		}
		if rg.config.CSVHeaders {
			rows = append([][]string{{"Metric", "Value"}}, rows...)
		}
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("failed to write evaluation report: %w", err)
		}
		return nil
	}

	fmt.Fprintf(writer, "=== EVALUATION ===\n")
	fmt.Fprintf(writer, "Threshold:  %.2f\n", metrics.Threshold)
	fmt.Fprintf(writer, "Pairs:      %d\n\n", metrics.Total)
	fmt.Fprintf(writer, "                 Actual Match  Actual Non-match\n")
	fmt.Fprintf(writer, "Predicted Match  %12d  %16d\n", metrics.TruePositives, metrics.FalsePositives)
	fmt.Fprintf(writer, "Predicted Other  %12d  %16d\n\n", metrics.FalseNegatives, metrics.TrueNegatives)
	fmt.Fprintf(writer, "Accuracy:   %.4f\n", metrics.Accuracy)
	fmt.Fprintf(writer, "Precision:  %.4f\n", metrics.Precision)
	fmt.Fprintf(writer, "Recall:     %.4f\n", metrics.Recall)
	fmt.Fprintf(writer, "F1:         %.4f\n", metrics.F1)
	return nil
}

func (rg *ReportGenerator) consoleReport(report *reconciler.ReconciliationReport, writer io.Writer) error {
	result := report.Result
	summary := report.Summary

	fmt.Fprintf(writer, "RECONCILIATION REPORT\n")
	fmt.Fprintf(writer, "Run ID: %s\n", result.RunID)
	fmt.Fprintf(writer, "Generated: %s\n", report.ProcessedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(writer, "Processing Duration: %v\n\n", summary.ProcessingDuration)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummary(summary, writer)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== FINANCIAL SUMMARY ===\n")
	rg.printFinancialSummary(summary, writer)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== MATCH PHASES ===\n")
	rg.printPhaseTable(summary, writer)
	fmt.Fprintf(writer, "\n")

	if rg.config.IncludeMatches && len(result.Matches) > 0 {
		fmt.Fprintf(writer, "=== MATCHES ===\n")
		rg.printMatchList(result.Matches, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeSuggestions && len(result.Suggested) > 0 {
		fmt.Fprintf(writer, "=== SUGGESTED FOR REVIEW ===\n")
		rg.printMatchList(result.Suggested, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeUnmatched && len(result.UnmatchedSystem) > 0 {
		fmt.Fprintf(writer, "=== UNMATCHED PAYMENTS ===\n")
		rg.printPaymentList(result.UnmatchedSystem, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeUnmatched && len(result.UnmatchedBank) > 0 {
		fmt.Fprintf(writer, "=== UNMATCHED BANK TRANSACTIONS ===\n")
		rg.printTransactionList(result.UnmatchedBank, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeDiscrepancies && len(report.Discrepancies) > 0 {
		fmt.Fprintf(writer, "=== DISCREPANCIES ===\n")
		rg.printDiscrepancies(report.Discrepancies, writer)
	}

	if rg.config.IncludeProcessingStats && report.ProcessingStats != nil {
		fmt.Fprintf(writer, "=== PROCESSING STATISTICS ===\n")
		rg.printProcessingStats(report.ProcessingStats, writer)
	}

	return nil
}

func (rg *ReportGenerator) csvReport(report *reconciler.ReconciliationReport, writer io.Writer) error {
	cw := rg.newCSVWriter(writer)
	if err := rg.writeCSVHeader(cw); err != nil {
		return err
	}

	result := report.Result
	if rg.config.IncludeMatches {
		for _, m := range result.Matches {
			if err := cw.Write(matchRecord("Matched", m)); err != nil {
				return fmt.Errorf("failed to write match record: %w", err)
			}
		}
	}
	if rg.config.IncludeSuggestions {
		for _, m := range result.Suggested {
			if err := cw.Write(matchRecord("Suggested", m)); err != nil {
				return fmt.Errorf("failed to write suggestion record: %w", err)
			}
		}
	}
	if rg.config.IncludeUnmatched {
		for _, p := range result.UnmatchedSystem {
			record := []string{"Unmatched Payment", p.ID, "", p.Amount.String(), p.Currency,
				models.FormatDate(p.Date), "", "", "", "", "No matching bank transaction found"}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("failed to write unmatched payment record: %w", err)
			}
		}
		for _, t := range result.UnmatchedBank {
			record := []string{"Unmatched Bank Transaction", "", t.ID, t.Amount.String(), t.Currency,
				models.FormatDate(t.Date), "", "", "", "", "No matching payment found"}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("failed to write unmatched transaction record: %w", err)
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

var csvHeaders = []string{
	"Status",
	"Payment_ID",
	"Bank_ID",
	"Amount",
	"Currency",
	"Date",
	"Confidence",
	"Match_Type",
	"Phase",
	"Suggested_Action",
	"Notes",
}

func (rg *ReportGenerator) newCSVWriter(writer io.Writer) *csv.Writer {
	cw := csv.NewWriter(writer)
	if rg.config.CSVDelimiter != 0 {
		cw.Comma = rg.config.CSVDelimiter
	}
	return cw
}

func (rg *ReportGenerator) writeCSVHeader(cw *csv.Writer) error {
	if !rg.config.CSVHeaders {
		return nil
	}
	if err := cw.Write(csvHeaders); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	return nil
}

func matchRecord(status string, m *models.ReconciliationMatch) []string {
	notes := make([]string, 0, len(m.Differences))
	for _, d := range m.Differences {
		notes = append(notes, fmt.Sprintf("%s: %s vs %s", d.Field, d.Payment, d.Transaction))
	}
	return []string{
		status,
		m.Payment.ID,
		m.Transaction.ID,
		m.Payment.Amount.String(),
		m.Payment.Currency,
		models.FormatDate(m.Payment.Date),
		fmt.Sprintf("%.4f", m.Confidence),
		string(m.MatchType),
		string(m.Phase),
		string(m.SuggestedAction),
		strings.Join(notes, "; "),
	}
}

func (rg *ReportGenerator) printSummary(summary *reconciler.ResultSummary, writer io.Writer) {
	fmt.Fprintf(writer, "Payments:\n")
	fmt.Fprintf(writer, "  Total:     %d\n", summary.TotalPayments)
	fmt.Fprintf(writer, "  Matched:   %d (%.1f%%)\n",
		summary.MatchedPayments, percentage(summary.MatchedPayments, summary.TotalPayments))
	fmt.Fprintf(writer, "  Unmatched: %d (%.1f%%)\n",
		summary.UnmatchedPayments, percentage(summary.UnmatchedPayments, summary.TotalPayments))

	fmt.Fprintf(writer, "\nBank Transactions:\n")
	fmt.Fprintf(writer, "  Total:     %d\n", summary.TotalBankTransactions)
	fmt.Fprintf(writer, "  Matched:   %d (%.1f%%)\n",
		summary.MatchedBankTransactions, percentage(summary.MatchedBankTransactions, summary.TotalBankTransactions))
	fmt.Fprintf(writer, "  Unmatched: %d (%.1f%%)\n",
		summary.UnmatchedBankTransactions, percentage(summary.UnmatchedBankTransactions, summary.TotalBankTransactions))

	fmt.Fprintf(writer, "\nReconciliation Rate: %.1f%%\n", summary.ReconciliationRate)
	fmt.Fprintf(writer, "Suggested for Review: %d\n", summary.Suggested)
}

func (rg *ReportGenerator) printFinancialSummary(summary *reconciler.ResultSummary, writer io.Writer) {
	fmt.Fprintf(writer, "Total Payment Amount:     %s\n", summary.TotalPaymentAmount.StringFixed(2))
	fmt.Fprintf(writer, "Total Bank Amount:        %s\n", summary.TotalBankAmount.StringFixed(2))
	fmt.Fprintf(writer, "Matched Amount:           %s\n", summary.MatchedAmount.StringFixed(2))
	fmt.Fprintf(writer, "Unmatched Payments:       %s\n", summary.UnmatchedPaymentAmount.StringFixed(2))
	fmt.Fprintf(writer, "Unmatched Bank:           %s\n", summary.UnmatchedBankAmount.StringFixed(2))
	fmt.Fprintf(writer, "Net Discrepancy:          %s\n", summary.NetDiscrepancy.StringFixed(2))
}

func (rg *ReportGenerator) printPhaseTable(summary *reconciler.ResultSummary, writer io.Writer) {
	total := summary.ExactMatches + summary.PartialMatches + summary.FuzzyMatches

	fmt.Fprintf(writer, "Exact Matches:    %d (%.1f%%)\n",
		summary.ExactMatches, percentage(summary.ExactMatches, total))
	fmt.Fprintf(writer, "Partial Matches:  %d (%.1f%%)\n",
		summary.PartialMatches, percentage(summary.PartialMatches, total))
	fmt.Fprintf(writer, "Fuzzy Matches:    %d (%.1f%%)\n",
		summary.FuzzyMatches, percentage(summary.FuzzyMatches, total))
}

func (rg *ReportGenerator) printMatchList(matches []*models.ReconciliationMatch, writer io.Writer) {
	for i, m := range matches {
		if rg.truncate(i, len(matches), writer) {
			break
		}
		fmt.Fprintf(writer, "  %d. %s <-> %s, Amount: %s %s, Confidence: %.3f, Type: %s, Action: %s\n",
			i+1,
			m.Payment.ID,
			m.Transaction.ID,
			m.Payment.Amount.StringFixed(2),
			m.Payment.Currency,
			m.Confidence,
			m.MatchType,
			m.SuggestedAction)
		if rg.config.IncludeFeatures {
			f := m.Features
			fmt.Fprintf(writer, "     amount %.3f, date %.3f, reference %.3f, counterparty %.3f, currency %.0f, history %.3f\n",
				f.AmountSimilarity, f.DateProximity, f.ReferenceSimilarity,
				f.CounterpartySimilarity, f.CurrencyMatch, f.HistoricalMatchScore)
		}
	}
}

func (rg *ReportGenerator) printPaymentList(payments []*models.PaymentRecord, writer io.Writer) {
	if rg.config.SortByAmount {
		payments = append([]*models.PaymentRecord(nil), payments...)
		sort.SliceStable(payments, func(i, j int) bool {
			return payments[i].AbsAmount().GreaterThan(payments[j].AbsAmount())
		})
	}

	fmt.Fprintf(writer, "Total Unmatched Payments: %d\n\n", len(payments))
	for i, p := range payments {
		if rg.truncate(i, len(payments), writer) {
			break
		}
		fmt.Fprintf(writer, "  %d. ID: %s, Amount: %s %s, Date: %s, Reference: %s\n",
			i+1, p.ID, p.Amount.StringFixed(2), p.Currency, models.FormatDate(p.Date), p.Reference)
	}
}

func (rg *ReportGenerator) printTransactionList(transactions []*models.BankTransaction, writer io.Writer) {
	if rg.config.SortByAmount {
		transactions = append([]*models.BankTransaction(nil), transactions...)
		sort.SliceStable(transactions, func(i, j int) bool {
			return transactions[i].AbsAmount().GreaterThan(transactions[j].AbsAmount())
		})
	}

	fmt.Fprintf(writer, "Total Unmatched Bank Transactions: %d\n\n", len(transactions))
	for i, t := range transactions {
		if rg.truncate(i, len(transactions), writer) {
			break
		}
		fmt.Fprintf(writer, "  %d. ID: %s, Amount: %s %s, Date: %s, Description: %s\n",
			i+1, t.ID, t.Amount.StringFixed(2), t.Currency, models.FormatDate(t.Date), t.ReferenceOrDescription())
	}
}

// truncate prints the "and N more" line once i reaches MaxListItems.
func (rg *ReportGenerator) truncate(i, total int, writer io.Writer) bool {
	if rg.config.MaxListItems > 0 && i >= rg.config.MaxListItems {
		fmt.Fprintf(writer, "  ... and %d more\n", total-i)
		return true
	}
	return false
}

func (rg *ReportGenerator) printDiscrepancies(discrepancies []*reconciler.Discrepancy, writer io.Writer) {
	fmt.Fprintf(writer, "Total Discrepancies Found: %d\n\n", len(discrepancies))

	groups := make(map[reconciler.Severity][]*reconciler.Discrepancy)
	for _, d := range discrepancies {
		groups[d.Severity] = append(groups[d.Severity], d)
	}

	severities := []reconciler.Severity{
		reconciler.SeverityCritical,
		reconciler.SeverityHigh,
		reconciler.SeverityMedium,
		reconciler.SeverityLow,
	}
	for _, severity := range severities {
		group := groups[severity]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(writer, "%s Severity (%d):\n", strings.ToUpper(string(severity)), len(group))
		for _, d := range group {
			fmt.Fprintf(writer, "  - %s: %s", d.Type, d.Description)
			if !d.Amount.IsZero() {
				fmt.Fprintf(writer, " (Amount: %s)", d.Amount.StringFixed(2))
			}
			fmt.Fprintf(writer, "\n")
		}
		fmt.Fprintf(writer, "\n")
	}
}

func (rg *ReportGenerator) printProcessingStats(stats *reconciler.ProcessingStats, writer io.Writer) {
	fmt.Fprintf(writer, "Files Processed:      %d\n", stats.FilesProcessed)
	fmt.Fprintf(writer, "Parse Errors:         %d\n", stats.ParseErrors)
	fmt.Fprintf(writer, "Records Dropped:      %d\n", stats.RecordsDropped)
	fmt.Fprintf(writer, "Outside Date Range:   %d\n", stats.RecordsFiltered)
	fmt.Fprintf(writer, "Records/Second:       %.2f\n", stats.RecordsPerSecond)
	fmt.Fprintf(writer, "Total Processing:     %v\n", stats.TotalProcessingTime)
	fmt.Fprintf(writer, "Parsing Time:         %v\n", stats.ParsingTime)
	fmt.Fprintf(writer, "Matching Time:        %v\n", stats.MatchingTime)
}

func (rg *ReportGenerator) filterReportForOutput(report *reconciler.ReconciliationReport) map[string]interface{} {
	result := report.Result
	output := map[string]interface{}{
		"run_id":       result.RunID,
		"summary":      report.Summary,
		"processed_at": report.ProcessedAt,
		"phase_counts": result.PhaseCounts,
	}

	if rg.config.IncludeMatches {
		output["matches"] = result.Matches
	}
	if rg.config.IncludeSuggestions {
		output["suggested_matches"] = result.Suggested
	}
	if rg.config.IncludeUnmatched {
		output["unmatched_system"] = result.UnmatchedSystem
		output["unmatched_bank"] = result.UnmatchedBank
	}
	if rg.config.IncludeDiscrepancies && report.Discrepancies != nil {
		output["discrepancies"] = report.Discrepancies
	}
	if rg.config.IncludeProcessingStats && report.ProcessingStats != nil {
		output["processing_stats"] = report.ProcessingStats
	}
	return output
}

func writeJSON(writer io.Writer, v interface{}) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// writeYAML renders v through its JSON form so both formats share field
// names and the custom record encodings.
func writeYAML(writer io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return err
	}
	return encoder.Close()
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}
