package scorer

import (
	"fmt"

	"payment-reconciliation-engine/internal/models"
	rerrors "payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

const (
	// ExactThreshold is the minimum confidence of the exact tier.
	ExactThreshold = 0.99
	// ProbableThreshold is the minimum confidence of the probable tier.
	ProbableThreshold = 0.85
)

// ClassifyMatchType maps a confidence to its tier. The mapping is monotonic.
func ClassifyMatchType(confidence float64) models.MatchType {
	switch {
	case confidence >= ExactThreshold:
		return models.MatchExact
	case confidence >= ProbableThreshold:
		return models.MatchProbable
	default:
		return models.MatchPossible
	}
}

// SuggestAction recommends auto-match only for exact-tier pairs whose amounts
// agree and whose currencies match.
func SuggestAction(confidence float64, f models.ReconciliationFeatures) models.SuggestedAction {
	switch {
	case confidence >= ExactThreshold && f.AmountSimilarity >= ExactThreshold && f.CurrencyMatch == 1:
		return models.ActionAutoMatch
	case confidence >= ProbableThreshold:
		return models.ActionReview
	default:
		return models.ActionInvestigate
	}
}

// SafePredict runs s.Predict and turns any error or panic into confidence 0.
// The failure is logged at debug level and never reaches the caller.
func SafePredict(s Scorer, features []float64, log logger.Logger) (confidence float64) {
	defer func() {
		if r := recover(); r != nil {
			if log != nil {
				log.WithFields(logger.Fields{
					"code":  rerrors.CodePredictionFailed,
					"panic": fmt.Sprint(r),
				}).Debug("Scorer panicked, treating pair as no match")
			}
			confidence = 0
		}
	}()

	c, err := s.Predict(features)
	if err != nil {
		if log != nil {
			log.WithError(err).WithField("code", rerrors.CodePredictionFailed).Debug("Prediction failed, treating pair as no match")
		}
		return 0
	}
	return models.Clamp01(c)
}
