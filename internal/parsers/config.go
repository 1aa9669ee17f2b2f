package parsers

import (
	"fmt"
	"strings"
)

// Standard field names. A Format maps each one to the header used by a
// particular file layout.
const (
	FieldID               = "id"
	FieldAmount           = "amount"
	FieldCurrency         = "currency"
	FieldDate             = "date"
	FieldReference        = "reference"
	FieldDescription      = "description"
	FieldCounterpartyID   = "counterparty_id"
	FieldCounterpartyName = "counterparty_name"
	FieldTenantID         = "tenant_id"
	FieldIsMatch          = "is_match"
)

// Prefixes distinguishing the two sides of a labeled history row.
const (
	PaymentPrefix = "payment_"
	BankPrefix    = "bank_"
)

// Format describes one CSV layout.
type Format struct {
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	HasHeader   bool   `json:"has_header" yaml:"has_header" mapstructure:"has_header"`
	Delimiter   rune   `json:"delimiter" yaml:"delimiter" mapstructure:"delimiter"`
	// DateFormat is tried before the generic date layouts.
	DateFormat string `json:"date_format,omitempty" yaml:"date_format,omitempty" mapstructure:"date_format"`
	// DefaultCurrency fills rows without a currency column or value.
	DefaultCurrency string `json:"default_currency,omitempty" yaml:"default_currency,omitempty" mapstructure:"default_currency"`
	// Columns maps standard field names to header names. Unmapped fields
	// use the standard name.
	Columns map[string]string `json:"columns,omitempty" yaml:"columns,omitempty" mapstructure:"columns"`
}

// Column returns the header for a standard field name.
func (f *Format) Column(field string) string {
	if name, ok := f.Columns[field]; ok && strings.TrimSpace(name) != "" {
		return name
	}
	return field
}

// Validate checks the format.
func (f *Format) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("format name cannot be empty")
	}
	if f.Delimiter == 0 || f.Delimiter == '\n' || f.Delimiter == '\r' || f.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", f.Delimiter)
	}
	for _, field := range []string{FieldID, FieldAmount, FieldDate} {
		if strings.TrimSpace(f.Column(field)) == "" {
			return fmt.Errorf("column for %s cannot be empty", field)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (f *Format) Clone() *Format {
	clone := *f
	clone.Columns = make(map[string]string, len(f.Columns))
	for k, v := range f.Columns {
		clone.Columns[k] = v
	}
	return &clone
}

func (f *Format) parseConfig() *ParseConfig {
	config := DefaultParseConfig()
	config.HasHeader = f.HasHeader
	config.Delimiter = f.Delimiter
	return config
}

// DefaultPaymentFormat is the layout of an internal payments export.
func DefaultPaymentFormat() *Format {
	return &Format{
		Name:            "payments",
		Description:     "Internal payment records",
		HasHeader:       true,
		Delimiter:       ',',
		DefaultCurrency: "USD",
	}
}

// DefaultHistoryFormat is the layout of a labeled history file: payment_*
// columns, bank_* columns and is_match.
func DefaultHistoryFormat() *Format {
	return &Format{
		Name:            "history",
		Description:     "Labeled payment/bank transaction pairs",
		HasHeader:       true,
		Delimiter:       ',',
		DefaultCurrency: "USD",
	}
}

// Predefined bank statement layouts.
var (
	StandardBankFormat = &Format{
		Name:            "Standard",
		Description:     "Standard bank statement format",
		HasHeader:       true,
		Delimiter:       ',',
		DateFormat:      "2006-01-02",
		DefaultCurrency: "USD",
	}

	Bank1Format = &Format{
		Name:            "Bank1",
		Description:     "Bank1 statement format with MM/DD/YYYY dates",
		HasHeader:       true,
		Delimiter:       ',',
		DateFormat:      "01/02/2006",
		DefaultCurrency: "USD",
		Columns: map[string]string{
			FieldID:               "transaction_id",
			FieldAmount:           "transaction_amount",
			FieldDate:             "posting_date",
			FieldDescription:      "transaction_description",
			FieldCounterpartyName: "payee",
		},
	}

	Bank2Format = &Format{
		Name:            "Bank2",
		Description:     "Bank2 statement format with semicolon delimiter",
		HasHeader:       true,
		Delimiter:       ';',
		DateFormat:      "2006-01-02",
		DefaultCurrency: "EUR",
		Columns: map[string]string{
			FieldID:               "ref_number",
			FieldAmount:           "debit_credit_amount",
			FieldDate:             "value_date",
			FieldDescription:      "transaction_details",
			FieldCounterpartyName: "ordering_party",
			FieldCurrency:         "ccy",
		},
	}
)

// BankFormat returns a predefined bank layout by name, or nil.
func BankFormat(name string) *Format {
	for _, f := range BankFormats() {
		if strings.EqualFold(f.Name, strings.TrimSpace(name)) {
			return f.Clone()
		}
	}
	return nil
}

// BankFormats lists the predefined bank layouts.
func BankFormats() []*Format {
	return []*Format{StandardBankFormat, Bank1Format, Bank2Format}
}

// DetectBankFormat picks the predefined layout whose id, amount and date
// columns all appear in headers. Standard is the fallback.
func DetectBankFormat(headers []string) *Format {
	for _, f := range BankFormats() {
		if f.matches(headers) {
			return f.Clone()
		}
	}
	return StandardBankFormat.Clone()
}

// matches reports whether the id, amount and date columns are all present.
func (f *Format) matches(headers []string) bool {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = true
	}
	return present[strings.ToLower(f.Column(FieldID))] &&
		present[strings.ToLower(f.Column(FieldAmount))] &&
		present[strings.ToLower(f.Column(FieldDate))]
}
