package parsers

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"payment-reconciliation-engine/internal/models"
	rerrors "payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// HistoryParser reads labeled payment/bank transaction pairs. Each row
// carries payment_* columns, bank_* columns and an is_match label; an
// optional confidence column keeps the score shown to the reviewer.
type HistoryParser struct {
	*BaseParser
	format *Format
	logger logger.Logger
}

// NewHistoryParser creates a history parser; nil gets DefaultHistoryFormat.
func NewHistoryParser(format *Format) (*HistoryParser, error) {
	if format == nil {
		format = DefaultHistoryFormat()
	}
	if strings.TrimSpace(format.Name) == "" {
		return nil, rerrors.ConfigurationError(rerrors.CodeInvalidConfig, "history_format", format.Name,
			fmt.Errorf("format name cannot be empty"))
	}
	return &HistoryParser{
		BaseParser: NewBaseParser(format.parseConfig()),
		format:     format,
		logger:     logger.WithComponent("history_parser"),
	}, nil
}

// ParseFile reads labeled history from a CSV file.
func (hp *HistoryParser) ParseFile(ctx context.Context, path string) ([]models.ReconciliationHistory, *ParseStats, error) {
	hp.logger.WithField("file_path", path).Info("Starting history parsing")

	file, err := hp.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	return hp.Parse(ctx, file, path)
}

// Parse reads labeled history from r.
func (hp *HistoryParser) Parse(ctx context.Context, r io.Reader, source string) ([]models.ReconciliationHistory, *ParseStats, error) {
	payments := fieldReader{bp: hp.BaseParser, format: hp.format, prefix: PaymentPrefix}
	bank := fieldReader{bp: hp.BaseParser, format: hp.format, prefix: BankPrefix}
	labelColumn := hp.format.Column(FieldIsMatch)

	required := append(payments.requiredHeaders(), bank.requiredHeaders()...)
	required = append(required, labelColumn)

	return parseRows(ctx, hp.BaseParser, r, source, required,
		func(record []string, pc *ParseContext) (models.ReconciliationHistory, *ParseError) {
			p, perr := payments.payment(record, pc)
			if perr != nil {
				return models.ReconciliationHistory{}, perr
			}
			t, perr := bank.transaction(record, pc)
			if perr != nil {
				return models.ReconciliationHistory{}, perr
			}

			raw := hp.Field(record, pc, labelColumn)
			label, err := ParseLabel(raw)
			if err != nil {
				return models.ReconciliationHistory{}, &ParseError{
					Field:   labelColumn,
					Value:   raw,
					Message: "invalid match label",
					Err:     rerrors.ValidationError(rerrors.CodeInvalidData, labelColumn, raw, err),
				}
			}

			h := models.ReconciliationHistory{Payment: *p, Transaction: *t, IsMatch: label}
			if rawConf := hp.Field(record, pc, hp.format.Column("confidence")); rawConf != "" {
				c, err := strconv.ParseFloat(rawConf, 64)
				if err != nil {
					return models.ReconciliationHistory{}, &ParseError{
						Field:   "confidence",
						Value:   rawConf,
						Message: "invalid confidence",
						Err:     rerrors.ValidationError(rerrors.CodeOutOfRange, "confidence", rawConf, err),
					}
				}
				c = models.Clamp01(c)
				h.Confidence = &c
			}
			return h, nil
		})
}

// ParseLabel accepts the usual spellings of a boolean match label.
func ParseLabel(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "t", "yes", "y", "match", "matched":
		return true, nil
	case "0", "false", "f", "no", "n", "nomatch", "no_match", "unmatched":
		return false, nil
	}
	return false, fmt.Errorf("unrecognized label %q", raw)
}
