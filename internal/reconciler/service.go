// Package reconciler wires the matching engine, the confidence scorer, the
// counterparty history and the trainer into one service, and exposes the
// operations the CLI and the HTTP API call.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"payment-reconciliation-engine/internal/events"
	"payment-reconciliation-engine/internal/features"
	"payment-reconciliation-engine/internal/matcher"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/scorer"
	"payment-reconciliation-engine/internal/trainer"
	rerrors "payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// Config groups the settings of every component the service owns.
type Config struct {
	Tolerance  *matcher.ToleranceConfig  `json:"tolerance" yaml:"tolerance" mapstructure:"tolerance"`
	Extractor  *features.ExtractorConfig `json:"features" yaml:"features" mapstructure:"features"`
	Model      *scorer.LogisticConfig    `json:"model" yaml:"model" mapstructure:"model"`
	Training   *trainer.Config           `json:"training" yaml:"training" mapstructure:"training"`
	Preprocess *PreprocessingConfig      `json:"preprocessing" yaml:"preprocessing" mapstructure:"preprocessing"`
}

// DefaultConfig returns the default settings of every component.
func DefaultConfig() *Config {
	return &Config{
		Tolerance:  matcher.DefaultToleranceConfig(),
		Extractor:  features.DefaultExtractorConfig(),
		Model:      scorer.DefaultLogisticConfig(),
		Training:   trainer.DefaultConfig(),
		Preprocess: DefaultPreprocessingConfig(),
	}
}

// Validate fills missing sections with defaults and validates each one.
func (c *Config) Validate() error {
	defaults := DefaultConfig()
	if c.Tolerance == nil {
		c.Tolerance = defaults.Tolerance
	}
	if c.Extractor == nil {
		c.Extractor = defaults.Extractor
	}
	if c.Model == nil {
		c.Model = defaults.Model
	}
	if c.Training == nil {
		c.Training = defaults.Training
	}
	if c.Preprocess == nil {
		c.Preprocess = defaults.Preprocess
	}

	checks := []struct {
		name string
		fn   func() error
	}{
		{"tolerance", c.Tolerance.Validate},
		{"features", c.Extractor.Validate},
		{"model", c.Model.Validate},
		{"training", c.Training.Validate},
		{"preprocessing", c.Preprocess.Validate},
	}
	for _, check := range checks {
		if err := check.fn(); err != nil {
			return rerrors.ConfigurationError(rerrors.CodeInvalidConfig, check.name, nil, err)
		}
	}
	return nil
}

// Dependencies are the collaborators the service does not own. Every
// field is optional: without stores the model and history live only in
// memory, without a sink no events are published, and without a Scorer an
// untrained logistic model backed by ModelStore is used.
type Dependencies struct {
	ModelStore   scorer.ModelStore
	HistoryStore features.HistoryStore
	Sink         events.Sink
	Scorer       scorer.Scorer
}

// Service is the reconciliation facade. It is safe for concurrent use:
// matching runs only read the model and history, and training is
// serialized by the trainer.
type Service struct {
	config  *Config
	engine  *matcher.MatchingEngine
	trainer *trainer.Trainer
	sink    events.Sink
	logger  logger.Logger
}

// NewService builds the service from config and deps.
func NewService(config *Config, deps Dependencies) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	model := deps.Scorer
	if model == nil {
		modelConfig := *config.Model
		modelConfig.MinExamples = config.Training.MinExamples
		model = scorer.NewLogisticScorer(&modelConfig, deps.ModelStore)
	}

	extractor := features.NewExtractor(config.Extractor, features.NewCounterpartyHistory())
	engine := matcher.NewMatchingEngine(config.Tolerance, extractor, model)
	tr := trainer.New(config.Training, extractor, model, deps.HistoryStore, deps.Sink)

	return &Service{
		config:  config,
		engine:  engine,
		trainer: tr,
		sink:    deps.Sink,
		logger:  logger.WithComponent("reconciliation_service"),
	}, nil
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// Engine exposes the matching engine.
func (s *Service) Engine() *matcher.MatchingEngine {
	return s.engine
}

// LoadState restores the persisted model and counterparty history. A
// failure leaves the service usable with its current model; the error is
// logged and returned.
func (s *Service) LoadState(ctx context.Context) error {
	if err := s.trainer.LoadState(ctx); err != nil {
		s.logger.WithError(err).WithField("code", rerrors.CodeModelUnavailable).
			Warn("Could not restore persisted state, continuing with the current model")
		return err
	}
	return nil
}

// MatchTransactions returns the best one-to-one pairs between payments and
// bank transactions, highest confidence first.
func (s *Service) MatchTransactions(ctx context.Context, payments []*models.PaymentRecord, transactions []*models.BankTransaction) ([]*models.ReconciliationMatch, error) {
	start := time.Now()
	matches, err := s.engine.MatchTransactions(ctx, payments, transactions)
	if matches == nil && err != nil {
		return nil, err
	}
	s.publishPerformance(ctx, "match", len(payments), len(transactions), len(matches), time.Since(start))
	return matches, err
}

// AutoReconcile runs the exact, partial and fuzzy phases. cfg overrides
// the configured tolerances when non-nil.
func (s *Service) AutoReconcile(ctx context.Context, bank []*models.BankTransaction, system []*models.PaymentRecord, cfg *matcher.ToleranceConfig) (*matcher.AutoReconcileResult, error) {
	result, err := s.engine.AutoReconcile(ctx, bank, system, cfg)
	if result == nil {
		return nil, err
	}
	s.publishPerformance(ctx, "auto_reconcile", len(system), len(bank), len(result.Matches), result.ProcessingTime)
	return result, err
}

// SuggestMatches returns every pair scoring above the suggestion
// threshold, for human review.
func (s *Service) SuggestMatches(ctx context.Context, bank []*models.BankTransaction, system []*models.PaymentRecord) ([]*models.ReconciliationMatch, error) {
	start := time.Now()
	suggestions, err := s.engine.SuggestMatches(ctx, bank, system)
	if suggestions == nil && err != nil {
		return nil, err
	}
	s.publishPerformance(ctx, "suggest", len(system), len(bank), len(suggestions), time.Since(start))
	return suggestions, err
}

// TrainModel fits the scorer on labeled history and records confirmed
// counterparties.
func (s *Service) TrainModel(ctx context.Context, history []models.ReconciliationHistory) (*trainer.TrainingReport, error) {
	return s.trainer.Train(ctx, history)
}

// EvaluateModel measures the current model against labeled pairs at the
// configured evaluation threshold.
func (s *Service) EvaluateModel(ctx context.Context, testSet []models.ReconciliationHistory) (*trainer.EvaluationMetrics, error) {
	return s.trainer.Evaluate(ctx, testSet, s.engine.Config.EvaluationThreshold)
}

// ModelInfo describes the installed model.
type ModelInfo struct {
	Trained        bool      `json:"trained"`
	Version        int64     `json:"version"`
	Samples        int       `json:"samples"`
	Accuracy       float64   `json:"accuracy"`
	TrainedAt      time.Time `json:"trained_at,omitempty"`
	HistoryVersion int64     `json:"history_version"`
	Vendors        int       `json:"vendors"`
}

// ModelInfo reports the installed model's parameters when the scorer is
// the built-in logistic model.
func (s *Service) ModelInfo() ModelInfo {
	history := s.engine.Extractor.History()
	info := ModelInfo{
		HistoryVersion: history.Version(),
		Vendors:        history.Vendors(),
	}
	if ls, ok := s.engine.Scorer.(*scorer.LogisticScorer); ok {
		params := ls.Params()
		info.Trained = params.Trained()
		info.Version = params.Version
		info.Samples = params.Samples
		info.Accuracy = params.Accuracy
		info.TrainedAt = params.TrainedAt
	}
	return info
}

func (s *Service) publishPerformance(ctx context.Context, operation string, payments, transactions, matches int, elapsed time.Duration) {
	if s.sink == nil {
		return
	}
	event := events.NewPerformanceEvent(operation, payments, transactions, matches, elapsed)
	if err := s.sink.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.WithError(err).WithFields(logger.Fields{
			"event_id":  event.ID,
			"operation": operation,
		}).Warn("Failed to publish performance event")
	}
}

func (s *Service) String() string {
	return fmt.Sprintf("Service{tolerance: %s}", s.engine.Config)
}
