package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/pkg/logger"
)

// recordFlags are the input and output flags shared by match and suggest.
type recordFlags struct {
	paymentsFile string
	bankFiles    []string
	bankFormat   string
	outputFile   string
}

func (f *recordFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.paymentsFile, "payments-file", "p", "", "path to the payments CSV file (required)")
	cmd.Flags().StringSliceVarP(&f.bankFiles, "bank-files", "b", []string{}, "comma-separated paths to bank statement CSV files (required)")
	cmd.Flags().StringVar(&f.bankFormat, "bank-format", "", "bank statement layout: Standard, Bank1, Bank2 (default: auto-detect)")
	cmd.Flags().StringP("output-format", "f", "console", "output format: console, json, yaml, csv")
	cmd.Flags().StringVarP(&f.outputFile, "output-file", "o", "", "output file path (default: stdout)")
	cmd.Flags().Bool("show-features", false, "include the feature vector of every pair")
	cmd.MarkFlagRequired("payments-file")
	cmd.MarkFlagRequired("bank-files")
}

func (f *recordFlags) validate() error {
	if err := validateFileExists(f.paymentsFile, "payments file"); err != nil {
		return err
	}
	if len(f.bankFiles) == 0 {
		return fmt.Errorf("at least one bank-file is required")
	}
	for i, bankFile := range f.bankFiles {
		if err := validateFileExists(bankFile, fmt.Sprintf("bank file %d", i+1)); err != nil {
			return err
		}
	}
	return validateOutputFile(f.outputFile)
}

var (
	matchFlags   recordFlags
	suggestFlags recordFlags
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Score payment/transaction pairs and keep the best one-to-one matches",
	Long: `Match pre-filters candidate pairs by amount and date, scores every
candidate with the installed model and keeps the highest-confidence
pairs so that no payment or transaction is used twice.

Examples:
  reconciler match -p payments.csv -b statement.csv
  reconciler match -p payments.csv -b statement.csv --show-features -f json`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return matchFlags.validate()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMatch(cmd, &matchFlags, false)
	},
}

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "List candidate matches for manual review",
	Long: `Suggest scores every bank transaction against every payment and lists,
per transaction, the best candidates above the suggestion threshold.

Examples:
  reconciler suggest -p payments.csv -b statement.csv -f csv -o review.csv`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return suggestFlags.validate()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMatch(cmd, &suggestFlags, true)
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(suggestCmd)

	matchFlags.register(matchCmd)
	addToleranceFlags(matchCmd)
	suggestFlags.register(suggestCmd)
	addToleranceFlags(suggestCmd)
}

func runMatch(cmd *cobra.Command, flags *recordFlags, suggest bool) error {
	ctx, stop := signalContext()
	defer stop()

	eng, err := openEngine(ctx, appConfig)
	if err != nil {
		return err
	}
	defer eng.Close()

	payments, bank, err := loadRecords(ctx, flags.paymentsFile, flags.bankFiles, flags.bankFormat, len(flags.bankFiles))
	if err != nil {
		return err
	}

	var matches []*models.ReconciliationMatch
	if suggest {
		matches, err = eng.service.SuggestMatches(ctx, bank, payments)
	} else {
		matches, err = eng.service.MatchTransactions(ctx, payments, bank)
	}
	if matches == nil && err != nil {
		return err
	}
	if matches == nil {
		matches = []*models.ReconciliationMatch{}
	}

	logger.WithComponent("cli").WithFields(logger.Fields{
		"command":           cmd.Name(),
		"payments":          len(payments),
		"bank_transactions": len(bank),
		"matches":           len(matches),
	}).Info("Matching completed")

	if werr := writeResult(cmd.OutOrStdout(), flags.outputFile, matches); werr != nil {
		return werr
	}
	return err
}
