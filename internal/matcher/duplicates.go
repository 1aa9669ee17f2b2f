package matcher

import (
	"strings"

	"payment-reconciliation-engine/internal/models"
)

// DuplicateGroup lists records that share amount, calendar day and
// reference text. Such records make every phase ambiguous.
type DuplicateGroup struct {
	Key string   `json:"key"`
	IDs []string `json:"ids"`
}

// DetectDuplicateTransactions groups bank transactions with the same
// absolute amount, day and normalized reference-or-description. Groups are
// returned in order of first appearance.
func DetectDuplicateTransactions(transactions []*models.BankTransaction) []DuplicateGroup {
	keys := make([]string, 0, len(transactions))
	ids := make([]string, 0, len(transactions))
	for _, t := range transactions {
		if t == nil {
			continue
		}
		keys = append(keys, duplicateKey(t.AbsAmount().String(), models.FormatDate(t.Date), t.ReferenceOrDescription()))
		ids = append(ids, t.ID)
	}
	return groupDuplicates(keys, ids)
}

// DetectDuplicatePayments groups payment records the same way.
func DetectDuplicatePayments(payments []*models.PaymentRecord) []DuplicateGroup {
	keys := make([]string, 0, len(payments))
	ids := make([]string, 0, len(payments))
	for _, p := range payments {
		if p == nil {
			continue
		}
		text := p.Reference
		if strings.TrimSpace(text) == "" {
			text = p.Description
		}
		keys = append(keys, duplicateKey(p.AbsAmount().String(), models.FormatDate(p.Date), text))
		ids = append(ids, p.ID)
	}
	return groupDuplicates(keys, ids)
}

func duplicateKey(amount, date, text string) string {
	return amount + "|" + date + "|" + models.NormalizeText(text)
}

func groupDuplicates(keys, ids []string) []DuplicateGroup {
	index := make(map[string]int)
	var groups []DuplicateGroup
	for i, key := range keys {
		if g, ok := index[key]; ok {
			groups[g].IDs = append(groups[g].IDs, ids[i])
			continue
		}
		index[key] = len(groups)
		groups = append(groups, DuplicateGroup{Key: key, IDs: []string{ids[i]}})
	}

	duplicates := groups[:0]
	for _, g := range groups {
		if len(g.IDs) > 1 {
			duplicates = append(duplicates, g)
		}
	}
	if len(duplicates) == 0 {
		return nil
	}
	return duplicates
}
