// Package models holds the records the engine reconciles and the values it
// produces. Records are treated as immutable once observed.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical wire format for record dates.
const DateLayout = "2006-01-02"

// PaymentRecord is an internal payment: a receivable or payable the system
// expects to see settled on a bank statement.
type PaymentRecord struct {
	ID               string          `json:"id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Date             time.Time       `json:"date"`
	Reference        string          `json:"reference,omitempty"`
	CounterpartyID   string          `json:"counterparty_id,omitempty"`
	CounterpartyName string          `json:"counterparty_name,omitempty"`
	Description      string          `json:"description,omitempty"`
	TenantID         string          `json:"tenant_id,omitempty"`
}

// BankTransaction is one line of an external bank statement. The sign of
// Amount encodes direction; matching works on the magnitude.
type BankTransaction struct {
	ID               string          `json:"id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Date             time.Time       `json:"date"`
	Description      string          `json:"description,omitempty"`
	CounterpartyName string          `json:"counterparty_name,omitempty"`
	Reference        string          `json:"reference,omitempty"`
	TenantID         string          `json:"tenant_id,omitempty"`
}

// Validate performs structural validation on the payment
func (p *PaymentRecord) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("payment id cannot be empty")
	}
	if p.Date.IsZero() {
		return fmt.Errorf("payment %s: date cannot be zero", p.ID)
	}
	if strings.TrimSpace(p.Currency) == "" {
		return fmt.Errorf("payment %s: currency cannot be empty", p.ID)
	}
	return nil
}

// AbsAmount returns the payment magnitude.
func (p *PaymentRecord) AbsAmount() decimal.Decimal {
	return p.Amount.Abs()
}

func (p *PaymentRecord) String() string {
	return fmt.Sprintf("Payment{ID: %s, Amount: %s %s, Date: %s, Ref: %s}",
		p.ID, p.Amount.String(), p.Currency, p.Date.Format(DateLayout), p.Reference)
}

// MarshalJSON writes the date in DateLayout when it has no time component.
func (p PaymentRecord) MarshalJSON() ([]byte, error) {
	type Alias PaymentRecord
	return json.Marshal(&struct {
		Date string `json:"date"`
		Alias
	}{
		Date:  FormatDate(p.Date),
		Alias: Alias(p),
	})
}

// UnmarshalJSON accepts any of the date layouts ParseTimeWithFormats knows.
func (p *PaymentRecord) UnmarshalJSON(data []byte) error {
	type Alias PaymentRecord
	aux := &struct {
		Date string `json:"date"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if aux.Date == "" {
		p.Date = time.Time{}
		return nil
	}
	date, err := ParseTimeWithFormats(aux.Date)
	if err != nil {
		return fmt.Errorf("invalid payment date: %w", err)
	}
	p.Date = date
	return nil
}

// Validate performs structural validation on the bank transaction
func (t *BankTransaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("bank transaction id cannot be empty")
	}
	if t.Date.IsZero() {
		return fmt.Errorf("bank transaction %s: date cannot be zero", t.ID)
	}
	if strings.TrimSpace(t.Currency) == "" {
		return fmt.Errorf("bank transaction %s: currency cannot be empty", t.ID)
	}
	return nil
}

// AbsAmount returns the transaction magnitude.
func (t *BankTransaction) AbsAmount() decimal.Decimal {
	return t.Amount.Abs()
}

// ReferenceOrDescription is the text compared against a payment reference.
func (t *BankTransaction) ReferenceOrDescription() string {
	if strings.TrimSpace(t.Reference) != "" {
		return t.Reference
	}
	return t.Description
}

func (t *BankTransaction) String() string {
	return fmt.Sprintf("BankTransaction{ID: %s, Amount: %s %s, Date: %s, Desc: %s}",
		t.ID, t.Amount.String(), t.Currency, t.Date.Format(DateLayout), t.Description)
}

func (t BankTransaction) MarshalJSON() ([]byte, error) {
	type Alias BankTransaction
	return json.Marshal(&struct {
		Date string `json:"date"`
		Alias
	}{
		Date:  FormatDate(t.Date),
		Alias: Alias(t),
	})
}

func (t *BankTransaction) UnmarshalJSON(data []byte) error {
	type Alias BankTransaction
	aux := &struct {
		Date string `json:"date"`
		*Alias
	}{
		Alias: (*Alias)(t),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if aux.Date == "" {
		t.Date = time.Time{}
		return nil
	}
	date, err := ParseTimeWithFormats(aux.Date)
	if err != nil {
		return fmt.Errorf("invalid bank transaction date: %w", err)
	}
	t.Date = date
	return nil
}

// FormatDate renders midnight timestamps as dates and anything else as RFC3339.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(DateLayout)
	}
	return t.Format(time.RFC3339)
}

// ParseDecimalFromString parses a decimal value from string with validation
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	for _, symbol := range []string{"$", "€", "£", ","} {
		s = strings.ReplaceAll(s, symbol, "")
	}
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}
	return d, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	DateLayout,
	"01/02/2006",
	"2006/01/02",
	"Jan 2, 2006",
}

// ParseTimeWithFormats attempts to parse time from string using multiple common formats
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

// CalendarDaysBetween counts whole calendar days between a and b, ignoring
// time of day. The result is never negative.
func CalendarDaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	days := int(da.Sub(db).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}

// SameDay reports whether a and b fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	return CalendarDaysBetween(a, b) == 0
}

// NormalizeText lowercases and trims s for comparisons.
func NormalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeCurrency upper-cases and trims an ISO currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
