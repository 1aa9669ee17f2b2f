package matcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"payment-reconciliation-engine/internal/features"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/scorer"
	rerrors "payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// MatchingEngine is the core engine responsible for pairing payments with
// bank transactions. It only reads the extractor's history table and the
// scorer, so one engine may serve concurrent runs.
type MatchingEngine struct {
	Config    *ToleranceConfig
	Extractor *features.Extractor
	Scorer    scorer.Scorer
	logger    logger.Logger
}

// NewMatchingEngine creates a new matching engine. Nil arguments get
// defaults: the default tolerances, an extractor with an empty history and
// an untrained logistic scorer.
func NewMatchingEngine(config *ToleranceConfig, extractor *features.Extractor, model scorer.Scorer) *MatchingEngine {
	if config == nil {
		config = DefaultToleranceConfig()
	}
	if extractor == nil {
		extractor = features.NewExtractor(nil, nil)
	}
	if model == nil {
		model = scorer.NewLogisticScorer(nil, nil)
	}

	return &MatchingEngine{
		Config:    config,
		Extractor: extractor,
		Scorer:    model,
		logger:    logger.WithComponent("matcher"),
	}
}

// MatchTransactions scores every pre-filtered pair, keeps those above the
// candidate floor and returns the best pairs with each record used at most
// once, highest confidence first.
//
// Payments are scored in batches by a bounded set of workers. If ctx is
// cancelled no new batch starts; the matches from finished batches are
// returned together with a cancellation error.
func (me *MatchingEngine) MatchTransactions(ctx context.Context, payments []*models.PaymentRecord, transactions []*models.BankTransaction) ([]*models.ReconciliationMatch, error) {
	if err := models.ValidatePayments(payments); err != nil {
		return nil, err
	}
	if err := models.ValidateTransactions(transactions); err != nil {
		return nil, err
	}

	start := time.Now()
	cfg := me.Config
	pf := NewPrefilter(transactions, cfg.PrefilterAmountRatio, cfg.PrefilterWindowDays)

	candidates, err := me.scoreCandidates(ctx, cfg, payments, pf, cfg.CandidateFloor, models.PhaseIndependent)
	matches := RankAndDeduplicate(candidates)

	me.logger.WithFields(logger.Fields{
		"payments":     len(payments),
		"transactions": len(transactions),
		"candidates":   len(candidates),
		"matches":      len(matches),
		"duration_ms":  time.Since(start).Milliseconds(),
	}).Info("Matching completed")

	return matches, err
}

// SuggestMatches lists every pre-filtered pair whose confidence exceeds the
// suggest threshold, highest first. Records may appear in several
// suggestions.
func (me *MatchingEngine) SuggestMatches(ctx context.Context, bank []*models.BankTransaction, system []*models.PaymentRecord) ([]*models.ReconciliationMatch, error) {
	if err := models.ValidateTransactions(bank); err != nil {
		return nil, err
	}
	if err := models.ValidatePayments(system); err != nil {
		return nil, err
	}

	cfg := me.Config
	pf := NewPrefilter(bank, cfg.PrefilterAmountRatio, cfg.PrefilterWindowDays)
	suggestions, err := me.scoreCandidates(ctx, cfg, system, pf, cfg.SuggestThreshold, models.PhaseFuzzy)
	sortByConfidence(suggestions)

	me.logger.WithFields(logger.Fields{
		"bank":        len(bank),
		"system":      len(system),
		"suggestions": len(suggestions),
	}).Debug("Suggestions computed")

	return suggestions, err
}

// ScorePair extracts features for one pair and scores it. Scorer failures
// yield confidence 0.
func (me *MatchingEngine) ScorePair(p *models.PaymentRecord, t *models.BankTransaction) *models.ReconciliationMatch {
	f := me.Extractor.Extract(p, t)
	confidence := scorer.SafePredict(me.Scorer, f.Vector(), me.logger)
	return &models.ReconciliationMatch{
		Payment:         p,
		Transaction:     t,
		Confidence:      confidence,
		MatchType:       scorer.ClassifyMatchType(confidence),
		SuggestedAction: scorer.SuggestAction(confidence, f),
		Features:        f,
		Phase:           models.PhaseIndependent,
	}
}

// scoreCandidates scores payments against their pre-filtered transactions
// and keeps pairs whose confidence is strictly above floor. Results are
// merged in batch order, so the output order depends only on the input.
func (me *MatchingEngine) scoreCandidates(ctx context.Context, cfg *ToleranceConfig, payments []*models.PaymentRecord, pf *Prefilter, floor float64, phase models.Phase) ([]*models.ReconciliationMatch, error) {
	if len(payments) == 0 || pf.Len() == 0 {
		return nil, nil
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(payments)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	batches := (len(payments) + batchSize - 1) / batchSize
	results := make([][]*models.ReconciliationMatch, batches)
	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "score_candidates",
		Total:     int64(len(payments)),
		Logger:    me.logger,
	})

	semaphore := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var cancelled error

enqueue:
	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		select {
		case <-ctx.Done():
			cancelled = ctx.Err()
			break enqueue
		case semaphore <- struct{}{}:
		}

		lo := b * batchSize
		hi := lo + batchSize
		if hi > len(payments) {
			hi = len(payments)
		}

		wg.Add(1)
		go func(slot int, batch []*models.PaymentRecord) {
			defer wg.Done()
			defer func() { <-semaphore }()

			var found []*models.ReconciliationMatch
			for _, p := range batch {
				for _, t := range pf.Candidates(p) {
					m := me.ScorePair(p, t)
					if m.Confidence > floor {
						m.Phase = phase
						found = append(found, m)
					}
				}
			}
			results[slot] = found
			progress.Add(int64(len(batch)))
		}(b, payments[lo:hi])
	}
	wg.Wait()
	progress.Complete()

	var merged []*models.ReconciliationMatch
	for _, r := range results {
		merged = append(merged, r...)
	}

	if cancelled != nil {
		me.logger.WithFields(logger.Fields{
			"batches_total":  batches,
			"matches_so_far": len(merged),
		}).Warn("Scoring cancelled, keeping completed batches")
		return merged, rerrors.ReconciliationError(rerrors.CodeCancelled, "score_candidates",
			fmt.Errorf("scoring interrupted: %w", cancelled))
	}
	return merged, nil
}
