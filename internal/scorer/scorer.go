// Package scorer maps a feature vector to a match confidence in [0,1].
//
// The engine treats the scorer as an opaque capability: anything that
// implements Scorer and accepts the six-feature vector from package
// features can be swapped in.
package scorer

import (
	"context"
	"errors"
	"time"

	"payment-reconciliation-engine/internal/models"
)

// ErrModelNotFound is returned by a ModelStore with nothing persisted yet.
var ErrModelNotFound = errors.New("model not found")

// Scorer is the confidence model capability.
type Scorer interface {
	Predict(features []float64) (float64, error)
	Train(ctx context.Context, examples []Example) (TrainReport, error)
	Save(ctx context.Context) error
	Load(ctx context.Context) error
}

// StagedTrainer is a Scorer whose training output can be persisted before
// it becomes visible to Predict.
type StagedTrainer interface {
	Scorer
	Fit(ctx context.Context, examples []Example) (ModelParams, TrainReport, error)
	Persist(ctx context.Context, params ModelParams) error
	SetParams(params ModelParams) error
}

// Example is one labeled feature vector.
type Example struct {
	Features []float64
	Label    bool
}

// TrainReport summarizes one training run.
type TrainReport struct {
	Skipped        bool      `json:"skipped"`
	Samples        int       `json:"samples"`
	TrainSize      int       `json:"train_size"`
	ValidationSize int       `json:"validation_size"`
	Epochs         int       `json:"epochs"`
	FinalLoss      float64   `json:"final_loss"`
	FinalAccuracy  float64   `json:"final_accuracy"`
	ModelVersion   int64     `json:"model_version"`
	CompletedAt    time.Time `json:"completed_at"`
}

// ModelParams is the persisted form of a trained model.
type ModelParams struct {
	Version   int64     `json:"version"`
	Weights   []float64 `json:"weights"`
	Bias      float64   `json:"bias"`
	Samples   int       `json:"samples"`
	Accuracy  float64   `json:"accuracy"`
	TrainedAt time.Time `json:"trained_at"`
}

// Trained reports whether the parameters came from a training run.
func (p *ModelParams) Trained() bool {
	return p.Version > 0
}

// ModelStore persists model parameters.
type ModelStore interface {
	LoadModel(ctx context.Context) (*ModelParams, error)
	SaveModel(ctx context.Context, params *ModelParams) error
}

// freshParams is an untrained model: zero weights, predicts 0.5 everywhere.
func freshParams() ModelParams {
	return ModelParams{Weights: make([]float64, models.FeatureCount)}
}
