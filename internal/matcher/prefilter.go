package matcher

import (
	"sort"

	"github.com/shopspring/decimal"

	"payment-reconciliation-engine/internal/models"
)

// amountEntry groups transactions sharing one absolute amount.
type amountEntry struct {
	amount       decimal.Decimal
	transactions []*models.BankTransaction
}

// Prefilter bounds the pairs handed to the scorer. It keeps transactions
// whose absolute amount lies within ratio of the payment amount and whose
// date lies within windowDays of the payment date. A true match outside
// those bounds is never scored.
type Prefilter struct {
	entries    []*amountEntry
	ratio      decimal.Decimal
	windowDays int
	size       int
}

// NewPrefilter indexes transactions by absolute amount.
func NewPrefilter(transactions []*models.BankTransaction, ratio float64, windowDays int) *Prefilter {
	pf := &Prefilter{
		ratio:      decimal.NewFromFloat(ratio),
		windowDays: windowDays,
	}

	byAmount := make(map[string]*amountEntry)
	for _, t := range transactions {
		if t == nil {
			continue
		}
		amount := t.AbsAmount()
		key := amount.String()
		if entry, exists := byAmount[key]; exists {
			entry.transactions = append(entry.transactions, t)
		} else {
			byAmount[key] = &amountEntry{amount: amount, transactions: []*models.BankTransaction{t}}
		}
		pf.size++
	}

	pf.entries = make([]*amountEntry, 0, len(byAmount))
	for _, entry := range byAmount {
		pf.entries = append(pf.entries, entry)
	}
	sort.Slice(pf.entries, func(i, j int) bool {
		return pf.entries[i].amount.LessThan(pf.entries[j].amount)
	})

	return pf
}

// Len returns the number of indexed transactions.
func (pf *Prefilter) Len() int {
	return pf.size
}

// Candidates returns the transactions that may match p, ordered by amount.
func (pf *Prefilter) Candidates(p *models.PaymentRecord) []*models.BankTransaction {
	amount := p.AbsAmount()
	slack := amount.Mul(pf.ratio)
	minAmount := amount.Sub(slack)
	maxAmount := amount.Add(slack)

	start := sort.Search(len(pf.entries), func(i int) bool {
		return pf.entries[i].amount.GreaterThanOrEqual(minAmount)
	})

	var result []*models.BankTransaction
	for i := start; i < len(pf.entries); i++ {
		entry := pf.entries[i]
		if entry.amount.GreaterThan(maxAmount) {
			break
		}
		for _, t := range entry.transactions {
			if models.CalendarDaysBetween(p.Date, t.Date) <= pf.windowDays {
				result = append(result, t)
			}
		}
	}
	return result
}
