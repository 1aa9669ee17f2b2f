package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"payment-reconciliation-engine/cmd/reconciler/config"
	"payment-reconciliation-engine/internal/reconciler"
	"payment-reconciliation-engine/pkg/logger"
)

// Flags for the reconcile command
var (
	paymentsFile       string
	bankFiles          []string
	bankFormat         string
	outputFile         string
	startDate          string
	endDate            string
	strictDates        bool
	maxConcurrentFiles int
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile payment records with bank statements",
	Long: `Reconcile compares internal payment records with bank statement
transactions in three phases: exact matches, tolerance-based partial
matches, and model-scored fuzzy matches. Unresolved pairs above the
suggestion threshold are listed for review.

This command requires:
- A payments file (CSV)
- One or more bank statement files (CSV, layout auto-detected or set with --bank-format)

Examples:
  # Basic reconciliation
  reconciler reconcile --payments-file payments.csv --bank-files statement.csv

  # Multiple bank files with date filtering
  reconciler reconcile -p payments.csv -b bank1.csv,bank2.csv \
    --start-date 2024-01-01 --end-date 2024-01-31

  # Custom output format and tolerances
  reconciler reconcile -p payments.csv -b statement.csv \
    --output-format json --output-file report.json \
    --date-tolerance 5 --amount-tolerance 2.50`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringVarP(&paymentsFile, "payments-file", "p", "", "path to the payments CSV file (required)")
	reconcileCmd.Flags().StringSliceVarP(&bankFiles, "bank-files", "b", []string{}, "comma-separated paths to bank statement CSV files (required)")
	reconcileCmd.Flags().StringVar(&bankFormat, "bank-format", "", "bank statement layout: Standard, Bank1, Bank2 (default: auto-detect)")

	reconcileCmd.Flags().StringP("output-format", "f", "console", "output format: console, json, yaml, csv")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	reconcileCmd.Flags().Int("max-items", 50, "maximum items per list in console output (0 = unlimited)")

	reconcileCmd.Flags().StringVar(&startDate, "start-date", "", "filter start date (YYYY-MM-DD)")
	reconcileCmd.Flags().StringVar(&endDate, "end-date", "", "filter end date, inclusive (YYYY-MM-DD)")

	addToleranceFlags(reconcileCmd)
	reconcileCmd.Flags().BoolVar(&strictDates, "strict-dates", false, "report matches with differing dates as discrepancies")
	reconcileCmd.Flags().IntVar(&maxConcurrentFiles, "max-concurrent-files", 4, "bank files parsed concurrently")

	reconcileCmd.MarkFlagRequired("payments-file")
	reconcileCmd.MarkFlagRequired("bank-files")
}

// addToleranceFlags registers the matching tolerance flags. They override
// the tolerance section of the configuration when set.
func addToleranceFlags(cmd *cobra.Command) {
	cmd.Flags().Float64P("amount-tolerance", "a", 1.0, "absolute amount difference accepted")
	cmd.Flags().Float64("percentage-tolerance", 0.1, "relative amount difference accepted in the partial phase, in percent")
	cmd.Flags().IntP("date-tolerance", "d", 3, "date difference in days accepted in the partial phase")
	cmd.Flags().Int("workers", 4, "payment batches scored concurrently")
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	if paymentsFile == "" {
		return fmt.Errorf("payments-file is required")
	}
	if len(bankFiles) == 0 {
		return fmt.Errorf("at least one bank-file is required")
	}

	if err := validateFileExists(paymentsFile, "payments file"); err != nil {
		return err
	}
	for i, bankFile := range bankFiles {
		if err := validateFileExists(bankFile, fmt.Sprintf("bank file %d", i+1)); err != nil {
			return err
		}
	}

	if bankFormat != "" {
		if _, err := config.GetBankProfile(bankFormat); err != nil {
			return err
		}
	}

	start, err := parseDateFlag("start date", startDate)
	if err != nil {
		return err
	}
	end, err := parseDateFlag("end date", endDate)
	if err != nil {
		return err
	}
	if start != nil && end != nil && start.After(*end) {
		return fmt.Errorf("start date cannot be after end date")
	}

	if maxConcurrentFiles < 1 {
		return fmt.Errorf("max-concurrent-files must be at least 1")
	}

	return validateOutputFile(outputFile)
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

func validateOutputFile(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("output directory does not exist: %s", dir)
		}
	}
	return nil
}

func parseDateFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s format. Use YYYY-MM-DD: %w", name, err)
	}
	return &t, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	log := logger.WithComponent("cli")
	log.WithFields(logger.Fields{
		"payments_file": paymentsFile,
		"bank_files":    strings.Join(bankFiles, ", "),
		"output_format": appConfig.Report.Format,
		"output_file":   outputFile,
	}).Debug("Starting reconciliation")

	eng, err := openEngine(ctx, appConfig)
	if err != nil {
		return err
	}
	defer eng.Close()

	start, _ := parseDateFlag("start date", startDate)
	end, _ := parseDateFlag("end date", endDate)

	request := &reconciler.ReconciliationRequest{
		PaymentsFile:       paymentsFile,
		BankFiles:          bankFiles,
		BankFormat:         bankFormat,
		StartDate:          start,
		EndDate:            end,
		StrictDateMatching: strictDates,
		MaxConcurrentFiles: maxConcurrentFiles,
	}

	report, runErr := eng.service.ReconcileFiles(ctx, request)
	if report == nil {
		return runErr
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Reconciliation interrupted, writing partial report: %v\n", runErr)
	}

	for path, stats := range report.ParseStats {
		reportParseErrors(path, stats.Errors)
	}

	if err := writeResult(cmd.OutOrStdout(), outputFile, report); err != nil {
		return err
	}

	s := report.Summary
	log.WithFields(logger.Fields{
		"payments":            s.TotalPayments,
		"bank_transactions":   s.TotalBankTransactions,
		"matched":             s.MatchedBankTransactions,
		"suggested":           s.Suggested,
		"discrepancies":       len(report.Discrepancies),
		"reconciliation_rate": s.ReconciliationRate,
		"duration":            s.ProcessingDuration,
	}).Info("Reconciliation completed")

	return runErr
}
