package parsers

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"payment-reconciliation-engine/internal/models"
	rerrors "payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// fieldReader extracts typed values for one side of a row. prefix is
// prepended to every standard field name, which lets the history parser
// read payment_* and bank_* columns with the same code.
type fieldReader struct {
	bp     *BaseParser
	format *Format
	prefix string
}

func (fr fieldReader) column(field string) string {
	return fr.format.Column(fr.prefix + field)
}

func (fr fieldReader) text(record []string, pc *ParseContext, field string) string {
	return fr.bp.Field(record, pc, fr.column(field))
}

func (fr fieldReader) required(record []string, pc *ParseContext, field string) (string, *ParseError) {
	value := fr.text(record, pc, field)
	if value == "" {
		return "", &ParseError{
			Field:   fr.column(field),
			Message: "required value is empty",
			Err:     rerrors.ValidationError(rerrors.CodeMissingField, fr.column(field), "", nil),
		}
	}
	return value, nil
}

func (fr fieldReader) amount(record []string, pc *ParseContext) (decimal.Decimal, *ParseError) {
	raw, perr := fr.required(record, pc, FieldAmount)
	if perr != nil {
		return decimal.Zero, perr
	}
	amount, err := models.ParseDecimalFromString(raw)
	if err != nil {
		return decimal.Zero, &ParseError{
			Field:   fr.column(FieldAmount),
			Value:   raw,
			Message: "invalid amount",
			Err:     rerrors.ValidationError(rerrors.CodeInvalidAmount, fr.column(FieldAmount), raw, err),
		}
	}
	return amount, nil
}

func (fr fieldReader) date(record []string, pc *ParseContext) (time.Time, *ParseError) {
	raw, perr := fr.required(record, pc, FieldDate)
	if perr != nil {
		return time.Time{}, perr
	}
	if layout := strings.TrimSpace(fr.format.DateFormat); layout != "" {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	t, err := models.ParseTimeWithFormats(raw)
	if err != nil {
		return time.Time{}, &ParseError{
			Field:   fr.column(FieldDate),
			Value:   raw,
			Message: "invalid date",
			Err:     rerrors.ValidationError(rerrors.CodeInvalidDate, fr.column(FieldDate), raw, err),
		}
	}
	return t, nil
}

func (fr fieldReader) currency(record []string, pc *ParseContext) string {
	if c := fr.text(record, pc, FieldCurrency); c != "" {
		return models.NormalizeCurrency(c)
	}
	return models.NormalizeCurrency(fr.format.DefaultCurrency)
}

func (fr fieldReader) payment(record []string, pc *ParseContext) (*models.PaymentRecord, *ParseError) {
	id, perr := fr.required(record, pc, FieldID)
	if perr != nil {
		return nil, perr
	}
	amount, perr := fr.amount(record, pc)
	if perr != nil {
		perr.Message = fmt.Sprintf("payment %s: %s", id, perr.Message)
		return nil, perr
	}
	date, perr := fr.date(record, pc)
	if perr != nil {
		perr.Message = fmt.Sprintf("payment %s: %s", id, perr.Message)
		return nil, perr
	}

	p := &models.PaymentRecord{
		ID:               id,
		Amount:           amount,
		Currency:         fr.currency(record, pc),
		Date:             date,
		Reference:        fr.text(record, pc, FieldReference),
		CounterpartyID:   fr.text(record, pc, FieldCounterpartyID),
		CounterpartyName: fr.text(record, pc, FieldCounterpartyName),
		Description:      fr.text(record, pc, FieldDescription),
		TenantID:         fr.text(record, pc, FieldTenantID),
	}
	if err := p.Validate(); err != nil {
		return nil, &ParseError{
			Field:   fr.column(FieldID),
			Value:   id,
			Message: "payment validation failed",
			Err:     rerrors.ValidationError(rerrors.CodeInvalidData, "payment", id, err),
		}
	}
	return p, nil
}

func (fr fieldReader) transaction(record []string, pc *ParseContext) (*models.BankTransaction, *ParseError) {
	id, perr := fr.required(record, pc, FieldID)
	if perr != nil {
		return nil, perr
	}
	amount, perr := fr.amount(record, pc)
	if perr != nil {
		perr.Message = fmt.Sprintf("transaction %s: %s", id, perr.Message)
		return nil, perr
	}
	date, perr := fr.date(record, pc)
	if perr != nil {
		perr.Message = fmt.Sprintf("transaction %s: %s", id, perr.Message)
		return nil, perr
	}

	t := &models.BankTransaction{
		ID:               id,
		Amount:           amount,
		Currency:         fr.currency(record, pc),
		Date:             date,
		Description:      fr.text(record, pc, FieldDescription),
		CounterpartyName: fr.text(record, pc, FieldCounterpartyName),
		Reference:        fr.text(record, pc, FieldReference),
		TenantID:         fr.text(record, pc, FieldTenantID),
	}
	if err := t.Validate(); err != nil {
		return nil, &ParseError{
			Field:   fr.column(FieldID),
			Value:   id,
			Message: "transaction validation failed",
			Err:     rerrors.ValidationError(rerrors.CodeInvalidData, "transaction", id, err),
		}
	}
	return t, nil
}

func (fr fieldReader) requiredHeaders() []string {
	return []string{fr.column(FieldID), fr.column(FieldAmount), fr.column(FieldDate)}
}

// uniqueIDs rejects rows that repeat an id already seen in the same file.
type uniqueIDs map[string]struct{}

func (u uniqueIDs) check(id, column string) *ParseError {
	if _, dup := u[id]; dup {
		return &ParseError{
			Field:   column,
			Value:   id,
			Message: "duplicate id",
			Err:     rerrors.ValidationError(rerrors.CodeDuplicateID, column, id, nil),
		}
	}
	u[id] = struct{}{}
	return nil
}

// PaymentParser reads internal payment records.
type PaymentParser struct {
	*BaseParser
	format *Format
	logger logger.Logger
}

// NewPaymentParser creates a payment parser; nil gets DefaultPaymentFormat.
func NewPaymentParser(format *Format) (*PaymentParser, error) {
	if format == nil {
		format = DefaultPaymentFormat()
	}
	if err := format.Validate(); err != nil {
		return nil, rerrors.ConfigurationError(rerrors.CodeInvalidConfig, "payment_format", format.Name, err)
	}
	return &PaymentParser{
		BaseParser: NewBaseParser(format.parseConfig()),
		format:     format,
		logger:     logger.WithComponent("payment_parser"),
	}, nil
}

// ParseFile reads payments from a CSV file.
func (pp *PaymentParser) ParseFile(ctx context.Context, path string) ([]*models.PaymentRecord, *ParseStats, error) {
	pp.logger.WithField("file_path", path).Info("Starting payment parsing")

	file, err := pp.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	return pp.Parse(ctx, file, path)
}

// Parse reads payments from r. source names the input in errors and logs.
func (pp *PaymentParser) Parse(ctx context.Context, r io.Reader, source string) ([]*models.PaymentRecord, *ParseStats, error) {
	fr := fieldReader{bp: pp.BaseParser, format: pp.format}
	seen := uniqueIDs{}

	return parseRows(ctx, pp.BaseParser, r, source, fr.requiredHeaders(),
		func(record []string, pc *ParseContext) (*models.PaymentRecord, *ParseError) {
			p, perr := fr.payment(record, pc)
			if perr != nil {
				return nil, perr
			}
			if perr := seen.check(p.ID, fr.column(FieldID)); perr != nil {
				return nil, perr
			}
			return p, nil
		})
}
