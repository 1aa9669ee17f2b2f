package models

import (
	"github.com/pkg/errors"

	rerrors "payment-reconciliation-engine/pkg/errors"
)

// ValidatePayments rejects structurally invalid payment sets: empty ids,
// zero dates, missing currencies and duplicate ids.
func ValidatePayments(payments []*PaymentRecord) error {
	seen := make(map[string]struct{}, len(payments))
	for i, p := range payments {
		if p == nil {
			return rerrors.ValidationError(rerrors.CodeMissingField, "payments", i, nil)
		}
		if err := p.Validate(); err != nil {
			return rerrors.ValidationError(rerrors.CodeInvalidData, "payment", p.ID, err)
		}
		if _, dup := seen[p.ID]; dup {
			return rerrors.ValidationError(rerrors.CodeDuplicateID, "payment.id", p.ID, nil)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// ValidateTransactions applies the same rules to bank transactions.
func ValidateTransactions(transactions []*BankTransaction) error {
	seen := make(map[string]struct{}, len(transactions))
	for i, t := range transactions {
		if t == nil {
			return rerrors.ValidationError(rerrors.CodeMissingField, "transactions", i, nil)
		}
		if err := t.Validate(); err != nil {
			return rerrors.ValidationError(rerrors.CodeInvalidData, "transaction", t.ID, err)
		}
		if _, dup := seen[t.ID]; dup {
			return rerrors.ValidationError(rerrors.CodeDuplicateID, "transaction.id", t.ID, nil)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// ValidateHistory checks every labeled example.
func ValidateHistory(history []ReconciliationHistory) error {
	for i := range history {
		if err := history[i].Validate(); err != nil {
			return rerrors.ValidationError(rerrors.CodeInvalidData, "history", i, errors.WithMessagef(err, "example %d", i))
		}
	}
	return nil
}
