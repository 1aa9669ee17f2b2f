package reconciler

import (
	"context"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/parsers"
	rerrors "payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// LoadPayments parses a payments file. Malformed rows are skipped and
// reported in the returned stats.
func LoadPayments(ctx context.Context, path string, format *parsers.Format) ([]*models.PaymentRecord, *parsers.ParseStats, error) {
	parser, err := parsers.NewPaymentParser(format)
	if err != nil {
		return nil, nil, err
	}
	return parser.ParseFile(ctx, path)
}

// LoadBankFiles parses bank statement files concurrently. formatName
// selects a predefined layout for every file; empty means auto-detect per
// file. Per-file parse stats are keyed by path.
func LoadBankFiles(ctx context.Context, paths []string, formatName string, maxConcurrency int) ([]*models.BankTransaction, map[string]*parsers.ParseStats, error) {
	var format *parsers.Format
	if formatName != "" {
		format = parsers.BankFormat(formatName)
		if format == nil {
			return nil, nil, rerrors.ConfigurationError(rerrors.CodeInvalidConfig, "bank_format", formatName, nil).
				WithSuggestion("Use one of: Standard, Bank1, Bank2")
		}
	}

	files := make(map[string]*parsers.Format, len(paths))
	for _, path := range paths {
		if format != nil {
			files[path] = format.Clone()
		} else {
			files[path] = nil
		}
	}

	results := parsers.NewConcurrentParser(maxConcurrency).ParseBankFiles(ctx, files)
	stats := make(map[string]*parsers.ParseStats, len(results))
	for _, r := range results {
		if r.Stats != nil {
			stats[r.Path] = r.Stats
		}
		logger.WithComponent("reconciliation_service").WithFields(logger.Fields{
			"file_path":    r.Path,
			"format":       r.Format,
			"transactions": len(r.Transactions),
		}).Debug("Bank statement file loaded")
	}

	transactions, err := parsers.MergeBankResults(results)
	return transactions, stats, err
}

// LoadHistory parses a labeled history file.
func LoadHistory(ctx context.Context, path string) ([]models.ReconciliationHistory, *parsers.ParseStats, error) {
	parser, err := parsers.NewHistoryParser(nil)
	if err != nil {
		return nil, nil, err
	}
	return parser.ParseFile(ctx, path)
}
