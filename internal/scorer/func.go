package scorer

import "context"

// NoopTrainer supplies no-op Train, Save and Load for scorers that are not
// trainable.
type NoopTrainer struct{}

func (NoopTrainer) Train(ctx context.Context, examples []Example) (TrainReport, error) {
	return TrainReport{Skipped: true, Samples: len(examples)}, nil
}

func (NoopTrainer) Save(ctx context.Context) error { return nil }

func (NoopTrainer) Load(ctx context.Context) error { return nil }

// FuncScorer adapts a plain function to the Scorer interface.
type FuncScorer struct {
	NoopTrainer
	Fn func(features []float64) (float64, error)
}

func (f FuncScorer) Predict(features []float64) (float64, error) {
	return f.Fn(features)
}

// Constant returns a scorer that always predicts c.
func Constant(c float64) FuncScorer {
	return FuncScorer{Fn: func([]float64) (float64, error) { return c, nil }}
}
