// Package trainer fits the confidence scorer on labeled reconciliation
// history and measures it against held-out decisions.
package trainer

import (
	"context"
	"fmt"
	"sync"

	"payment-reconciliation-engine/internal/events"
	"payment-reconciliation-engine/internal/features"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/scorer"
	rerrors "payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// DefaultEvaluationThreshold is the cutoff Evaluate uses when the caller
// passes none.
const DefaultEvaluationThreshold = 0.95

// Config holds the trainer settings.
type Config struct {
	// MinExamples is the smallest history that triggers training.
	MinExamples int `json:"min_examples" yaml:"min_examples" mapstructure:"min_examples"`
}

// DefaultConfig returns the standard trainer settings.
func DefaultConfig() *Config {
	return &Config{MinExamples: 100}
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if c.MinExamples < 1 {
		return fmt.Errorf("min examples must be at least 1: %d", c.MinExamples)
	}
	return nil
}

// TrainingReport summarizes a Train call.
type TrainingReport struct {
	Samples        int     `json:"samples"`
	TrainSize      int     `json:"train_size"`
	ValidationSize int     `json:"validation_size"`
	FinalAccuracy  float64 `json:"final_accuracy"`
	Epochs         int     `json:"epochs"`
	Skipped        bool    `json:"skipped"`
	ModelVersion   int64   `json:"model_version"`
	HistoryVersion int64   `json:"history_version"`
}

// EvaluationMetrics is the confusion matrix of a test run and the ratios
// derived from it. Ratios with a zero denominator are 0.
type EvaluationMetrics struct {
	Threshold      float64 `json:"threshold"`
	Total          int     `json:"total"`
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	TrueNegatives  int     `json:"true_negatives"`
	FalseNegatives int     `json:"false_negatives"`
	Accuracy       float64 `json:"accuracy"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// Trainer owns the write side of the model and the counterparty history.
// Train calls are serialized; Evaluate may run concurrently with them and
// sees whichever model is installed.
type Trainer struct {
	config    *Config
	extractor *features.Extractor
	model     scorer.Scorer
	history   features.HistoryStore
	sink      events.Sink
	logger    logger.Logger

	mu sync.Mutex
}

// New creates a trainer. historyStore and sink may be nil.
func New(config *Config, extractor *features.Extractor, model scorer.Scorer, historyStore features.HistoryStore, sink events.Sink) *Trainer {
	if config == nil {
		config = DefaultConfig()
	}
	if extractor == nil {
		extractor = features.NewExtractor(nil, nil)
	}
	return &Trainer{
		config:    config,
		extractor: extractor,
		model:     model,
		history:   historyStore,
		sink:      sink,
		logger:    logger.WithComponent("trainer"),
	}
}

// LoadState restores the persisted model and counterparty history. Missing
// or unreadable state leaves a fresh model and an empty history; the error
// is returned for the caller to log.
func (t *Trainer) LoadState(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []*rerrors.ReconcilerError
	if err := t.model.Load(ctx); err != nil {
		errs = append(errs, rerrors.WrapIfNeeded(err, rerrors.CategoryModel, rerrors.CodeModelUnavailable, "load model"))
	}

	if t.history != nil {
		snapshot, err := t.history.LoadHistory(ctx)
		if err != nil {
			errs = append(errs, rerrors.WrapIfNeeded(err, rerrors.CategoryStorage, rerrors.CodePersistenceFailed, "load counterparty history"))
		} else {
			t.extractor.History().Restore(snapshot)
			t.logger.WithFields(logger.Fields{
				"history_version": snapshot.Version,
				"vendors":         len(snapshot.Counts),
			}).Debug("Counterparty history restored")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return rerrors.NewErrorSummary(errs)
}

// Train fits the scorer on history.
//
// Fewer than MinExamples examples is not an error: the call logs a warning
// and returns a skipped report without touching the model, the history or
// the stores. Otherwise features are extracted with the counterparty
// history as it stood before this call, the scorer is trained, and every
// positive example with a known vendor is recorded in a copy of the
// history. The new model and history are persisted first and installed
// afterwards, so concurrent matching sees either the previous state or the
// new one. Persistence failures are logged and do not fail the call.
func (t *Trainer) Train(ctx context.Context, history []models.ReconciliationHistory) (*TrainingReport, error) {
	if err := models.ValidateHistory(history); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(history) < t.config.MinExamples {
		t.logger.WithFields(logger.Fields{
			"code":     rerrors.CodeInsufficientData,
			"samples":  len(history),
			"required": t.config.MinExamples,
		}).Warn("Not enough labeled history to train, keeping current model")
		return &TrainingReport{Samples: len(history), Skipped: true}, nil
	}

	examples := make([]scorer.Example, len(history))
	for i := range history {
		f := t.extractor.Extract(&history[i].Payment, &history[i].Transaction)
		examples[i] = scorer.Example{Features: f.Vector(), Label: history[i].IsMatch}
	}

	staged, isStaged := t.model.(scorer.StagedTrainer)
	var (
		params  scorer.ModelParams
		trained scorer.TrainReport
		err     error
	)
	if isStaged {
		params, trained, err = staged.Fit(ctx, examples)
	} else {
		trained, err = t.model.Train(ctx, examples)
	}
	if err != nil {
		return nil, err
	}
	report := &TrainingReport{
		Samples:        trained.Samples,
		TrainSize:      trained.TrainSize,
		ValidationSize: trained.ValidationSize,
		FinalAccuracy:  trained.FinalAccuracy,
		Epochs:         trained.Epochs,
		Skipped:        trained.Skipped,
		ModelVersion:   trained.ModelVersion,
	}
	if trained.Skipped {
		return report, nil
	}

	table := t.extractor.History()
	next := table.Snapshot()
	recorded := 0
	for i := range history {
		h := &history[i]
		if h.IsMatch && next.Record(h.Payment.CounterpartyID, h.Transaction.CounterpartyName) {
			recorded++
		}
	}
	report.HistoryVersion = next.Version

	// readers keep the previous model and history until both are persisted
	if isStaged {
		err = staged.Persist(ctx, params)
	} else {
		err = t.model.Save(ctx)
	}
	if err != nil {
		t.logger.WithError(err).Error("Failed to persist model, continuing with in-memory model")
	}
	if t.history != nil {
		if err := t.history.SaveHistory(ctx, next); err != nil {
			t.logger.WithError(err).Error("Failed to persist counterparty history")
		}
	}
	if isStaged {
		if err := staged.SetParams(params); err != nil {
			return nil, err
		}
	}
	table.Restore(next)

	t.publish(ctx, events.NewTrainingEvent(report.Samples, report.FinalAccuracy, report.Epochs, report.ModelVersion))

	t.logger.WithFields(logger.Fields{
		"samples":              report.Samples,
		"final_accuracy":       report.FinalAccuracy,
		"model_version":        report.ModelVersion,
		"counterparties_added": recorded,
	}).Info("Training completed")

	return report, nil
}

// Evaluate scores every labeled pair and compares the prediction
// (confidence >= threshold) with the label. A threshold outside (0,1] falls
// back to DefaultEvaluationThreshold. Callers with a configured cutoff
// pass tolerance.evaluation_threshold.
func (t *Trainer) Evaluate(ctx context.Context, testSet []models.ReconciliationHistory, threshold float64) (*EvaluationMetrics, error) {
	if err := models.ValidateHistory(testSet); err != nil {
		return nil, err
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultEvaluationThreshold
	}

	m := &EvaluationMetrics{Threshold: threshold, Total: len(testSet)}
	for i := range testSet {
		if err := ctx.Err(); err != nil {
			return nil, rerrors.ReconciliationError(rerrors.CodeCancelled, "evaluate", err)
		}

		h := &testSet[i]
		f := t.extractor.Extract(&h.Payment, &h.Transaction)
		predicted := scorer.SafePredict(t.model, f.Vector(), t.logger) >= threshold

		switch {
		case predicted && h.IsMatch:
			m.TruePositives++
		case predicted && !h.IsMatch:
			m.FalsePositives++
		case !predicted && h.IsMatch:
			m.FalseNegatives++
		default:
			m.TrueNegatives++
		}
	}

	m.Accuracy = ratio(m.TruePositives+m.TrueNegatives, m.Total)
	m.Precision = ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
	m.Recall = ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}

	t.logger.WithFields(logger.Fields{
		"total":     m.Total,
		"threshold": threshold,
		"precision": m.Precision,
		"recall":    m.Recall,
		"f1":        m.F1,
	}).Info("Evaluation completed")

	return m, nil
}

func (t *Trainer) publish(ctx context.Context, event events.Event) {
	if t.sink == nil {
		return
	}
	if err := t.sink.Publish(ctx, event); err != nil {
		t.logger.WithError(err).WithField("event_id", event.ID).Warn("Failed to publish event")
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
