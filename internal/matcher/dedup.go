package matcher

import (
	"sort"

	"payment-reconciliation-engine/internal/models"
)

// RankAndDeduplicate sorts candidates by confidence and walks them once,
// accepting a pair only when neither its payment nor its transaction has
// been accepted already. The walk is greedy: it keeps the locally best pair
// and does not search for the assignment with the largest total confidence.
// The input slice is not modified.
func RankAndDeduplicate(candidates []*models.ReconciliationMatch) []*models.ReconciliationMatch {
	ranked := make([]*models.ReconciliationMatch, 0, len(candidates))
	for _, c := range candidates {
		if c != nil && c.Payment != nil && c.Transaction != nil {
			ranked = append(ranked, c)
		}
	}
	sortByConfidence(ranked)

	matchedPayments := make(map[string]bool)
	matchedTransactions := make(map[string]bool)
	var accepted []*models.ReconciliationMatch

	for _, m := range ranked {
		if matchedPayments[m.Payment.ID] || matchedTransactions[m.Transaction.ID] {
			continue
		}
		accepted = append(accepted, m)
		matchedPayments[m.Payment.ID] = true
		matchedTransactions[m.Transaction.ID] = true
	}
	return accepted
}

// sortByConfidence orders matches by confidence, highest first. Ties are
// broken by payment ID then transaction ID.
func sortByConfidence(matches []*models.ReconciliationMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Payment.ID != b.Payment.ID {
			return a.Payment.ID < b.Payment.ID
		}
		return a.Transaction.ID < b.Transaction.ID
	})
}
