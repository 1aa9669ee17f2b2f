package parsers

import (
	"context"
	"io"

	"payment-reconciliation-engine/internal/models"
	rerrors "payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// BankParser reads bank statement transactions.
type BankParser struct {
	*BaseParser
	format *Format
	logger logger.Logger
}

// NewBankParser creates a bank parser; nil gets StandardBankFormat.
func NewBankParser(format *Format) (*BankParser, error) {
	if format == nil {
		format = StandardBankFormat.Clone()
	}
	if err := format.Validate(); err != nil {
		return nil, rerrors.ConfigurationError(rerrors.CodeInvalidConfig, "bank_format", format.Name, err).
			WithSuggestion("Use one of the predefined bank formats or fix the column mapping")
	}
	return &BankParser{
		BaseParser: NewBaseParser(format.parseConfig()),
		format:     format,
		logger:     logger.WithComponent("bank_parser"),
	}, nil
}

// NewBankParserWithAutoDetect reads the header row of path and picks the
// matching predefined format.
func NewBankParserWithAutoDetect(path string) (*BankParser, error) {
	format, err := DetectFileFormat(path)
	if err != nil {
		return nil, err
	}
	return NewBankParser(format)
}

// DetectFileFormat sniffs the header row of path with every known
// delimiter and returns the first predefined format whose key columns are
// all present.
func DetectFileFormat(path string) (*Format, error) {
	for _, candidate := range BankFormats() {
		bp := NewBaseParser(candidate.parseConfig())
		file, err := bp.OpenFile(path)
		if err != nil {
			return nil, err
		}
		headers, err := bp.NewReader(file).Read()
		file.Close()
		if err != nil {
			if err == io.EOF {
				return nil, rerrors.ValidationError(rerrors.CodeMissingField, "file_content", "empty", nil)
			}
			continue
		}

		if candidate.matches(headers) {
			return candidate.Clone(), nil
		}
	}
	return StandardBankFormat.Clone(), nil
}

// Format returns the layout the parser reads.
func (bp *BankParser) Format() *Format {
	return bp.format
}

// ParseFile reads bank transactions from a CSV file.
func (bp *BankParser) ParseFile(ctx context.Context, path string) ([]*models.BankTransaction, *ParseStats, error) {
	bp.logger.WithFields(logger.Fields{
		"file_path": path,
		"format":    bp.format.Name,
	}).Info("Starting bank statement parsing")

	file, err := bp.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	return bp.Parse(ctx, file, path)
}

// Parse reads bank transactions from r.
func (bp *BankParser) Parse(ctx context.Context, r io.Reader, source string) ([]*models.BankTransaction, *ParseStats, error) {
	fr := fieldReader{bp: bp.BaseParser, format: bp.format}
	seen := uniqueIDs{}

	return parseRows(ctx, bp.BaseParser, r, source, fr.requiredHeaders(),
		func(record []string, pc *ParseContext) (*models.BankTransaction, *ParseError) {
			t, perr := fr.transaction(record, pc)
			if perr != nil {
				return nil, perr
			}
			if perr := seen.check(t.ID, fr.column(FieldID)); perr != nil {
				return nil, perr
			}
			return t, nil
		})
}
