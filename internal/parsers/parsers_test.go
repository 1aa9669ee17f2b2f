package parsers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	rerrors "payment-reconciliation-engine/pkg/errors"
)

// writeCSV writes content to name inside a per-test directory.
func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}

func TestPaymentParser_ParseFile(t *testing.T) {
	parser, err := NewPaymentParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	path := writeCSV(t, "payments.csv", `id,amount,currency,date,reference,counterparty_id,counterparty_name
P1,"1,250.00",usd,2024-03-01,INV-55,V-1,Acme Corp
P2,300,,03/02/2024,,,

P3,-75.5,EUR,2024-03-04T10:30:00Z,REF 9,V-2,Globex
`)

	payments, stats, err := parser.ParseFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to parse payments: %v", err)
	}
	if len(payments) != 3 {
		t.Fatalf("Expected 3 payments, got %d", len(payments))
	}
	if stats.RecordsValid != 3 || stats.HasErrors() {
		t.Errorf("Unexpected stats: %s", stats)
	}

	p1 := payments[0]
	if p1.ID != "P1" || !p1.Amount.Equal(decimal.RequireFromString("1250")) {
		t.Errorf("Unexpected first payment: %s", p1)
	}
	if p1.Currency != "USD" {
		t.Errorf("Expected currency to be normalized to USD, got %s", p1.Currency)
	}
	if p1.Reference != "INV-55" || p1.CounterpartyID != "V-1" || p1.CounterpartyName != "Acme Corp" {
		t.Errorf("Optional fields not read: %+v", p1)
	}

	p2 := payments[1]
	if p2.Currency != "USD" {
		t.Errorf("Expected default currency USD, got %s", p2.Currency)
	}
	if p2.Date.Month() != 3 || p2.Date.Day() != 2 {
		t.Errorf("Expected March 2, got %s", p2.Date)
	}

	if !payments[2].Amount.IsNegative() {
		t.Errorf("Expected sign to be kept, got %s", payments[2].Amount)
	}
}

func TestPaymentParser_RejectsBadRows(t *testing.T) {
	parser, err := NewPaymentParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	csv := `id,amount,currency,date
P1,100,USD,2024-03-01
P2,abc,USD,2024-03-01
P3,100,USD,yesterday
,100,USD,2024-03-01
P1,200,USD,2024-03-02
P9,1"0,USD,2024-03-01
P4,100,USD,2024-03-05`

	payments, stats, err := parser.Parse(context.Background(), strings.NewReader(csv), "inline")
	if err != nil {
		t.Fatalf("Bad rows must not fail the parse: %v", err)
	}

	var ids []string
	for _, p := range payments {
		ids = append(ids, p.ID)
	}
	if strings.Join(ids, ",") != "P1,P4" {
		t.Errorf("Expected P1,P4 to survive, got %v", ids)
	}
	if stats.ErrorCount != 5 {
		t.Fatalf("Expected 5 rejected rows, got %d: %v", stats.ErrorCount, stats.SampleErrors(0))
	}

	summary := stats.ErrorSummary()
	tests := []struct {
		code rerrors.ErrorCode
		want int
	}{
		{rerrors.CodeInvalidAmount, 1},
		{rerrors.CodeInvalidDate, 1},
		{rerrors.CodeMissingField, 1},
		{rerrors.CodeDuplicateID, 1},
		{rerrors.CodeInvalidData, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := summary.ByCode[tt.code]; got != tt.want {
				t.Errorf("Expected %d errors with code %s, got %d", tt.want, tt.code, got)
			}
		})
	}

	if stats.Errors[0].Line != 3 {
		t.Errorf("Expected first rejected row on line 3, got %d", stats.Errors[0].Line)
	}
}

func TestPaymentParser_HeaderProblems(t *testing.T) {
	parser, err := NewPaymentParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	tests := []struct {
		name    string
		content string
		code    rerrors.ErrorCode
	}{
		{"missing date column", "id,amount\nP1,100\n", rerrors.CodeMissingColumn},
		{"empty file", "", rerrors.CodeMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parser.Parse(context.Background(), strings.NewReader(tt.content), "inline")
			if !rerrors.HasCode(err, tt.code) {
				t.Errorf("Expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestPaymentParser_MissingFile(t *testing.T) {
	parser, err := NewPaymentParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	_, _, err = parser.ParseFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	if !rerrors.HasCode(err, rerrors.CodeFileNotFound) {
		t.Errorf("Expected file not found, got %v", err)
	}
}

func TestPaymentParser_InvalidEncoding(t *testing.T) {
	parser, err := NewPaymentParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	path := writeCSV(t, "latin1.csv", "id,amount,currency,date\nP1,10,USD,2024-01-01,caf\xe9\n")
	_, _, err = parser.ParseFile(context.Background(), path)
	if !rerrors.HasCode(err, rerrors.CodeEncodingError) {
		t.Errorf("Expected encoding error, got %v", err)
	}
}

func TestParse_Cancelled(t *testing.T) {
	parser, err := NewPaymentParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = parser.Parse(ctx, strings.NewReader("id,amount,currency,date\nP1,1,USD,2024-01-01\n"), "inline")
	if !rerrors.HasCode(err, rerrors.CodeCancelled) {
		t.Errorf("Expected cancellation, got %v", err)
	}
}

func TestBankParser_PredefinedFormats(t *testing.T) {
	tests := []struct {
		name     string
		format   *Format
		content  string
		id       string
		currency string
		month    int
		day      int
		desc     string
	}{
		{
			name:   "standard",
			format: nil,
			content: `id,amount,currency,date,description,counterparty_name
T1,-100.50,USD,2024-01-15,ACH INV-55,ACME CORP`,
			id: "T1", currency: "USD", month: 1, day: 15, desc: "ACH INV-55",
		},
		{
			name:   "bank1",
			format: Bank1Format,
			content: `transaction_id,transaction_amount,posting_date,transaction_description,payee
B1-7,250.00,03/04/2024,WIRE 7781,Globex`,
			id: "B1-7", currency: "USD", month: 3, day: 4, desc: "WIRE 7781",
		},
		{
			name:   "bank2",
			format: Bank2Format,
			content: `ref_number;debit_credit_amount;value_date;transaction_details;ccy
R-9;-80.00;2024-02-29;SEPA Initech;eur`,
			id: "R-9", currency: "EUR", month: 2, day: 29, desc: "SEPA Initech",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser, err := NewBankParser(tt.format)
			if err != nil {
				t.Fatalf("Failed to create parser: %v", err)
			}

			txns, stats, err := parser.Parse(context.Background(), strings.NewReader(tt.content), tt.name)
			if err != nil {
				t.Fatalf("Failed to parse: %v", err)
			}
			if len(txns) != 1 {
				t.Fatalf("Expected 1 transaction, got %d (%v)", len(txns), stats.SampleErrors(0))
			}

			got := txns[0]
			if got.ID != tt.id || got.Currency != tt.currency || got.Description != tt.desc {
				t.Errorf("Unexpected transaction: %+v", got)
			}
			if int(got.Date.Month()) != tt.month || got.Date.Day() != tt.day {
				t.Errorf("Expected %d/%d, got %s", tt.month, tt.day, got.Date)
			}
		})
	}
}

func TestNewBankParser_InvalidFormat(t *testing.T) {
	if _, err := NewBankParser(&Format{Name: "", Delimiter: ','}); err == nil {
		t.Error("Expected error for unnamed format")
	}
	if _, err := NewBankParser(&Format{Name: "x"}); err == nil {
		t.Error("Expected error for missing delimiter")
	}
}

func TestDetectBankFormat(t *testing.T) {
	tests := []struct {
		name     string
		headers  []string
		expected string
	}{
		{"standard", []string{"id", "amount", "date"}, "Standard"},
		{"bank1", []string{"Transaction_ID", "transaction_amount", "posting_date", "payee"}, "Bank1"},
		{"bank2", []string{"ref_number", "debit_credit_amount", "value_date"}, "Bank2"},
		{"unknown falls back", []string{"key", "value", "timestamp"}, "Standard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectBankFormat(tt.headers); got.Name != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got.Name)
			}
		})
	}
}

func TestDetectFileFormat_SniffsDelimiter(t *testing.T) {
	path := writeCSV(t, "bank2.csv", "ref_number;debit_credit_amount;value_date\nR1;10;2024-01-01\n")

	parser, err := NewBankParserWithAutoDetect(path)
	if err != nil {
		t.Fatalf("Failed to detect: %v", err)
	}
	if parser.Format().Name != "Bank2" {
		t.Fatalf("Expected Bank2, got %s", parser.Format().Name)
	}

	txns, _, err := parser.ParseFile(context.Background(), path)
	if err != nil || len(txns) != 1 {
		t.Fatalf("Expected 1 transaction, got %d (%v)", len(txns), err)
	}
}

func TestBankFormat_ReturnsCopy(t *testing.T) {
	f := BankFormat("bank1")
	if f == nil {
		t.Fatal("Expected Bank1 format")
	}
	f.Columns[FieldID] = "changed"
	if Bank1Format.Column(FieldID) != "transaction_id" {
		t.Error("Predefined format was modified through a lookup")
	}
	if BankFormat("nope") != nil {
		t.Error("Expected nil for unknown format")
	}
}

func TestHistoryParser_Parse(t *testing.T) {
	parser, err := NewHistoryParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	csv := `payment_id,payment_amount,payment_date,payment_counterparty_id,payment_reference,bank_id,bank_amount,bank_date,bank_counterparty_name,bank_description,is_match,confidence
P1,100,2024-01-01,V-1,INV-1,T1,-100,2024-01-01,ACME,INV-1 ACH,yes,0.97
P2,100,2024-01-01,V-1,INV-2,T2,-900,2024-02-01,Globex,rent,0,
P3,100,2024-01-01,V-1,INV-3,T3,-100,2024-01-02,ACME,INV-3,maybe,`

	history, stats, err := parser.Parse(context.Background(), strings.NewReader(csv), "history")
	if err != nil {
		t.Fatalf("Failed to parse history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 labeled pairs, got %d", len(history))
	}
	if stats.ErrorCount != 1 || stats.Errors[0].Field != "is_match" {
		t.Errorf("Expected the unlabeled row to be rejected, got %v", stats.SampleErrors(0))
	}

	first := history[0]
	if !first.IsMatch || first.Payment.CounterpartyID != "V-1" || first.Transaction.CounterpartyName != "ACME" {
		t.Errorf("Unexpected first pair: %+v", first)
	}
	if first.Confidence == nil || *first.Confidence != 0.97 {
		t.Errorf("Expected confidence 0.97, got %v", first.Confidence)
	}
	if history[1].IsMatch || history[1].Confidence != nil {
		t.Errorf("Unexpected second pair: %+v", history[1])
	}
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		raw     string
		want    bool
		wantErr bool
	}{
		{"1", true, false},
		{"TRUE", true, false},
		{" yes ", true, false},
		{"match", true, false},
		{"0", false, false},
		{"No", false, false},
		{"unmatched", false, false},
		{"", false, true},
		{"2", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseLabel(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLabel(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLabel(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestConcurrentParser_ParseBankFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.csv")
	missing := filepath.Join(dir, "c.csv")

	if err := os.WriteFile(a, []byte("id,amount,date\nT1,10,2024-01-01\nT2,20,2024-01-02\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("transaction_id,transaction_amount,posting_date\nT1,30,01/03/2024\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cp := NewConcurrentParser(2)
	results := cp.ParseBankFiles(context.Background(), map[string]*Format{
		a:       nil,
		b:       nil,
		missing: StandardBankFormat,
	})

	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if results[0].Path != a || results[1].Path != b || results[2].Path != missing {
		t.Fatalf("Results not in path order: %s, %s, %s", results[0].Path, results[1].Path, results[2].Path)
	}
	if results[1].Format != "Bank1" {
		t.Errorf("Expected Bank1 to be detected for b.csv, got %s", results[1].Format)
	}
	if !rerrors.HasCode(results[2].Err, rerrors.CodeFileNotFound) {
		t.Errorf("Expected file not found for c.csv, got %v", results[2].Err)
	}

	merged, err := MergeBankResults(results)
	if err == nil {
		t.Error("Expected the missing file to be reported")
	}
	var ids []string
	for _, txn := range merged {
		ids = append(ids, txn.ID)
	}
	if strings.Join(ids, ",") != "T1,T2,b.csv:T1" {
		t.Errorf("Unexpected merged ids: %v", ids)
	}
}
