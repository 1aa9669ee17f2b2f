package features

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"payment-reconciliation-engine/internal/models"
)

// SubstringSimilarity is the floor applied when one text contains the other.
const SubstringSimilarity = 0.8

// EditSimilarity returns 1 - distance/maxLen over runes of the normalized
// inputs. Two empty strings score 0.
func EditSimilarity(a, b string) float64 {
	a, b = models.NormalizeText(a), models.NormalizeText(b)
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return models.Clamp01(1 - float64(dist)/float64(maxLen))
}

// TextSimilarity compares free-text identifiers: exact equality scores 1,
// containment scores at least SubstringSimilarity, anything else falls back
// to edit similarity. Empty on either side scores 0.
func TextSimilarity(a, b string) float64 {
	na, nb := models.NormalizeText(a), models.NormalizeText(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	edit := EditSimilarity(na, nb)
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return math.Max(SubstringSimilarity, edit)
	}
	return edit
}

// AmountSimilarity decays exponentially with the relative difference of the
// two magnitudes: exp(-decay * |a-b| / avg(a,b)).
func AmountSimilarity(a, b, decay float64) float64 {
	a, b = math.Abs(a), math.Abs(b)
	if a == b {
		return 1
	}
	avg := (a + b) / 2
	if avg == 0 {
		return 1
	}
	return models.Clamp01(math.Exp(-decay * math.Abs(a-b) / avg))
}

// DateProximity is 1 on the same calendar day and decays linearly to 0 at windowDays.
func DateProximity(days, windowDays int) float64 {
	if windowDays <= 0 {
		if days == 0 {
			return 1
		}
		return 0
	}
	return math.Max(0, 1-float64(days)/float64(windowDays))
}

// CurrencyMatch is 1 when both codes are equal after normalization.
func CurrencyMatch(a, b string) float64 {
	if models.NormalizeCurrency(a) == models.NormalizeCurrency(b) {
		return 1
	}
	return 0
}
