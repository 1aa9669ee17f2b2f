package scorer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"payment-reconciliation-engine/internal/models"
	rerrors "payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// LogisticConfig controls the training loop.
type LogisticConfig struct {
	Epochs       int     `json:"epochs" yaml:"epochs" mapstructure:"epochs"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate" mapstructure:"learning_rate"`
	MinExamples  int     `json:"min_examples" yaml:"min_examples" mapstructure:"min_examples"`
	TrainSplit   float64 `json:"train_split" yaml:"train_split" mapstructure:"train_split"`
}

// DefaultLogisticConfig returns the standard training settings.
func DefaultLogisticConfig() *LogisticConfig {
	return &LogisticConfig{
		Epochs:       300,
		LearningRate: 0.5,
		MinExamples:  100,
		TrainSplit:   0.8,
	}
}

// Validate checks the configuration values.
func (c *LogisticConfig) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive: %d", c.Epochs)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive: %f", c.LearningRate)
	}
	if c.MinExamples < 1 {
		return fmt.Errorf("min examples must be at least 1: %d", c.MinExamples)
	}
	if c.TrainSplit <= 0 || c.TrainSplit > 1 {
		return fmt.Errorf("train split must be in (0,1]: %f", c.TrainSplit)
	}
	return nil
}

// LogisticScorer is a logistic regression over the feature vector, trained
// by full-batch gradient descent from zero weights. Training is
// deterministic for a given example order. New parameters replace the old
// ones in a single step, so concurrent Predict calls always see a complete
// model.
type LogisticScorer struct {
	config *LogisticConfig
	store  ModelStore
	logger logger.Logger

	mu     sync.RWMutex
	params ModelParams

	trainMu sync.Mutex
}

// NewLogisticScorer creates an untrained scorer. store may be nil for an
// in-memory model.
func NewLogisticScorer(config *LogisticConfig, store ModelStore) *LogisticScorer {
	if config == nil {
		config = DefaultLogisticConfig()
	}
	return &LogisticScorer{
		config: config,
		store:  store,
		logger: logger.WithComponent("scorer"),
		params: freshParams(),
	}
}

// Params returns a copy of the current parameters.
func (s *LogisticScorer) Params() ModelParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.params
	p.Weights = append([]float64(nil), s.params.Weights...)
	return p
}

// SetParams installs parameters directly.
func (s *LogisticScorer) SetParams(p ModelParams) error {
	if len(p.Weights) != models.FeatureCount {
		return rerrors.ModelError(rerrors.CodeDimensionMismatch, "set_params",
			fmt.Errorf("expected %d weights, got %d", models.FeatureCount, len(p.Weights)))
	}
	p.Weights = append([]float64(nil), p.Weights...)
	s.mu.Lock()
	s.params = p
	s.mu.Unlock()
	return nil
}

// Predict returns sigmoid(w·x + b).
func (s *LogisticScorer) Predict(features []float64) (float64, error) {
	if len(features) != models.FeatureCount {
		return 0, rerrors.ModelError(rerrors.CodeDimensionMismatch, "predict",
			fmt.Errorf("expected %d features, got %d", models.FeatureCount, len(features)))
	}
	for i, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, rerrors.ModelError(rerrors.CodePredictionFailed, "predict",
				fmt.Errorf("feature %d is not finite", i))
		}
	}

	s.mu.RLock()
	z := dot(s.params.Weights, features) + s.params.Bias
	s.mu.RUnlock()

	return sigmoid(z), nil
}

// Train fits the model and installs the result. Fewer than MinExamples
// examples is not an error: the call logs a warning and leaves the model
// untouched.
func (s *LogisticScorer) Train(ctx context.Context, examples []Example) (TrainReport, error) {
	params, report, err := s.Fit(ctx, examples)
	if err != nil || report.Skipped {
		return report, err
	}
	return report, s.SetParams(params)
}

// Fit trains new parameters without installing them. The first TrainSplit
// share of examples is used for fitting and the remainder for validation,
// in the order given. A skipped report carries no parameters.
func (s *LogisticScorer) Fit(ctx context.Context, examples []Example) (ModelParams, TrainReport, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	var params ModelParams
	report := TrainReport{Samples: len(examples)}
	if len(examples) < s.config.MinExamples {
		s.logger.WithFields(logger.Fields{
			"samples":  len(examples),
			"required": s.config.MinExamples,
			"code":     rerrors.CodeInsufficientData,
		}).Warn("Not enough training examples, keeping current model")
		report.Skipped = true
		return params, report, nil
	}

	for i, ex := range examples {
		if len(ex.Features) != models.FeatureCount {
			return params, report, rerrors.ModelError(rerrors.CodeDimensionMismatch, "train",
				fmt.Errorf("example %d has %d features", i, len(ex.Features)))
		}
	}

	split := int(float64(len(examples)) * s.config.TrainSplit)
	if split < 1 {
		split = 1
	}
	trainSet, validation := examples[:split], examples[split:]
	if len(validation) == 0 {
		validation = trainSet
	}

	weights := make([]float64, models.FeatureCount)
	bias := 0.0
	grad := make([]float64, models.FeatureCount)
	n := float64(len(trainSet))

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "train_epochs",
		Total:     int64(s.config.Epochs),
		Logger:    s.logger,
	})

	var loss float64
	for epoch := 0; epoch < s.config.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return params, report, rerrors.ReconciliationError(rerrors.CodeCancelled, "train", err)
		}

		for j := range grad {
			grad[j] = 0
		}
		gradBias := 0.0
		loss = 0

		for _, ex := range trainSet {
			p := sigmoid(dot(weights, ex.Features) + bias)
			y := label(ex.Label)
			diff := p - y
			for j, x := range ex.Features {
				grad[j] += diff * x
			}
			gradBias += diff
			loss += crossEntropy(p, y)
		}

		for j := range weights {
			weights[j] -= s.config.LearningRate * grad[j] / n
		}
		bias -= s.config.LearningRate * gradBias / n
		loss /= n
		progress.Add(1)
	}
	progress.Complete()

	accuracy := accuracyAt(weights, bias, validation, 0.5)

	s.mu.RLock()
	version := s.params.Version + 1
	s.mu.RUnlock()
	params = ModelParams{
		Version:   version,
		Weights:   weights,
		Bias:      bias,
		Samples:   len(examples),
		Accuracy:  accuracy,
		TrainedAt: time.Now().UTC(),
	}

	report.TrainSize = len(trainSet)
	report.ValidationSize = len(examples) - split
	report.Epochs = s.config.Epochs
	report.FinalLoss = loss
	report.FinalAccuracy = accuracy
	report.ModelVersion = version
	report.CompletedAt = time.Now().UTC()

	s.logger.WithFields(logger.Fields{
		"samples":        report.Samples,
		"train_size":     report.TrainSize,
		"validation":     report.ValidationSize,
		"final_accuracy": accuracy,
		"final_loss":     loss,
		"model_version":  version,
	}).Info("Training completed")

	return params, report, nil
}

// Save persists the current parameters. A scorer without a store is a no-op.
func (s *LogisticScorer) Save(ctx context.Context) error {
	return s.Persist(ctx, s.Params())
}

// Persist writes params to the store without installing them.
func (s *LogisticScorer) Persist(ctx context.Context, params ModelParams) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveModel(ctx, &params); err != nil {
		return rerrors.WrapIfNeeded(err, rerrors.CategoryStorage, rerrors.CodePersistenceFailed, "failed to save model")
	}
	return nil
}

// Load replaces the parameters with the persisted model. A missing model
// is not an error: the scorer starts from a fresh untrained model. When the
// store fails or holds unusable parameters the current model stays in place.
func (s *LogisticScorer) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	params, err := s.store.LoadModel(ctx)
	if errors.Is(err, ErrModelNotFound) {
		s.logger.WithField("code", rerrors.CodeModelUnavailable).Warn("No persisted model, using untrained model")
		s.reset()
		return nil
	}
	if err != nil {
		return rerrors.WrapIfNeeded(err, rerrors.CategoryStorage, rerrors.CodePersistenceFailed, "failed to load model")
	}
	if err := s.SetParams(*params); err != nil {
		return err
	}

	s.logger.WithFields(logger.Fields{
		"model_version": params.Version,
		"accuracy":      params.Accuracy,
	}).Info("Loaded model")
	return nil
}

func (s *LogisticScorer) reset() {
	s.mu.Lock()
	s.params = freshParams()
	s.mu.Unlock()
}

func accuracyAt(weights []float64, bias float64, examples []Example, threshold float64) float64 {
	if len(examples) == 0 {
		return 0
	}
	correct := 0
	for _, ex := range examples {
		predicted := sigmoid(dot(weights, ex.Features)+bias) >= threshold
		if predicted == ex.Label {
			correct++
		}
	}
	return float64(correct) / float64(len(examples))
}

func dot(w, x []float64) float64 {
	sum := 0.0
	for i := range w {
		sum += w[i] * x[i]
	}
	return sum
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func label(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func crossEntropy(p, y float64) float64 {
	const eps = 1e-12
	p = math.Min(math.Max(p, eps), 1-eps)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}
