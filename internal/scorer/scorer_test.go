package scorer

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-reconciliation-engine/internal/models"
	rerrors "payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// separableExamples alternates clear positives and clear negatives so both
// the training prefix and the validation suffix contain each class.
func separableExamples(n int) []Example {
	examples := make([]Example, 0, n)
	for i := 0; i < n; i++ {
		jitter := float64(i%5) * 0.02
		if i%2 == 0 {
			examples = append(examples, Example{
				Features: []float64{1 - jitter, 0.95 - jitter, 0.9, 0.85, 1, 0.6},
				Label:    true,
			})
		} else {
			examples = append(examples, Example{
				Features: []float64{0.1 + jitter, 0.2, 0.05, 0.1, 0, 0},
				Label:    false,
			})
		}
	}
	return examples
}

func TestLogisticScorer_UntrainedPredictsHalf(t *testing.T) {
	s := NewLogisticScorer(nil, nil)
	p, err := s.Predict([]float64{1, 1, 1, 1, 1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p, 1e-12)
}

func TestLogisticScorer_PredictErrors(t *testing.T) {
	s := NewLogisticScorer(nil, nil)

	_, err := s.Predict([]float64{1, 2})
	assert.True(t, rerrors.HasCode(err, rerrors.CodeDimensionMismatch))

	_, err = s.Predict([]float64{1, 1, math.NaN(), 1, 1, 1})
	assert.True(t, rerrors.HasCode(err, rerrors.CodePredictionFailed))
}

func TestLogisticScorer_TrainGate(t *testing.T) {
	store := NewMemoryStore()
	s := NewLogisticScorer(nil, store)

	report, err := s.Train(context.Background(), separableExamples(99))
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, int64(0), s.Params().Version)

	report, err = s.Train(context.Background(), separableExamples(100))
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 80, report.TrainSize)
	assert.Equal(t, 20, report.ValidationSize)
	assert.Equal(t, 300, report.Epochs)
	assert.Equal(t, int64(1), report.ModelVersion)
}

func TestLogisticScorer_TrainLearnsSeparableData(t *testing.T) {
	s := NewLogisticScorer(nil, nil)
	report, err := s.Train(context.Background(), separableExamples(200))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, report.FinalAccuracy, 0.95)

	pos, err := s.Predict([]float64{1, 1, 0.9, 0.9, 1, 0.5})
	require.NoError(t, err)
	neg, err := s.Predict([]float64{0.1, 0.2, 0, 0.1, 0, 0})
	require.NoError(t, err)

	assert.Greater(t, pos, 0.5)
	assert.Less(t, neg, 0.5)
	assert.Greater(t, pos, neg)
}

func TestLogisticScorer_TrainIsDeterministic(t *testing.T) {
	a := NewLogisticScorer(nil, nil)
	b := NewLogisticScorer(nil, nil)
	_, err := a.Train(context.Background(), separableExamples(150))
	require.NoError(t, err)
	_, err = b.Train(context.Background(), separableExamples(150))
	require.NoError(t, err)

	assert.Equal(t, a.Params().Weights, b.Params().Weights)
	assert.Equal(t, a.Params().Bias, b.Params().Bias)
}

// The split is positional: a dataset whose tail is all one class is
// validated only on that class.
func TestLogisticScorer_SplitIsNotShuffled(t *testing.T) {
	examples := separableExamples(100)
	for i := 80; i < 100; i++ {
		examples[i] = Example{Features: []float64{1, 1, 1, 1, 1, 1}, Label: true}
	}

	s := NewLogisticScorer(nil, nil)
	report, err := s.Train(context.Background(), examples)
	require.NoError(t, err)
	assert.Equal(t, 20, report.ValidationSize)
	assert.Equal(t, 1.0, report.FinalAccuracy)
}

func TestLogisticScorer_TrainCancelledKeepsModel(t *testing.T) {
	s := NewLogisticScorer(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Train(ctx, separableExamples(120))
	require.Error(t, err)
	assert.True(t, rerrors.HasCode(err, rerrors.CodeCancelled))
	assert.Equal(t, int64(0), s.Params().Version)
}

func TestLogisticScorer_SaveLoad(t *testing.T) {
	store := NewMemoryStore()
	trained := NewLogisticScorer(nil, store)
	_, err := trained.Train(context.Background(), separableExamples(100))
	require.NoError(t, err)
	require.NoError(t, trained.Save(context.Background()))
	assert.Equal(t, 1, store.Saves())

	loaded := NewLogisticScorer(nil, store)
	require.NoError(t, loaded.Load(context.Background()))
	assert.Equal(t, trained.Params().Weights, loaded.Params().Weights)

	features := []float64{0.9, 0.8, 0.7, 0.6, 1, 0.2}
	p1, _ := trained.Predict(features)
	p2, _ := loaded.Predict(features)
	assert.Equal(t, p1, p2)
}

func TestLogisticScorer_LoadMissingUsesFreshModel(t *testing.T) {
	s := NewLogisticScorer(nil, NewMemoryStore())
	require.NoError(t, s.Load(context.Background()))
	params := s.Params()
	assert.False(t, params.Trained())

	p, err := s.Predict(make([]float64, models.FeatureCount))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p, 1e-12)
}

type failingStore struct{}

func (failingStore) LoadModel(ctx context.Context) (*ModelParams, error) {
	return nil, errors.New("disk unreadable")
}

func (failingStore) SaveModel(ctx context.Context, params *ModelParams) error {
	return errors.New("disk full")
}

func TestLogisticScorer_StoreFailures(t *testing.T) {
	s := NewLogisticScorer(nil, nil)
	_, err := s.Train(context.Background(), separableExamples(200))
	require.NoError(t, err)

	positive := separableExamples(1)[0].Features
	before, err := s.Predict(positive)
	require.NoError(t, err)
	require.Greater(t, before, 0.9)

	s.store = failingStore{}
	err = s.Load(context.Background())
	require.Error(t, err)
	assert.True(t, rerrors.HasCode(err, rerrors.CodePersistenceFailed))

	after, err := s.Predict(positive)
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed load keeps the trained model")
	params := s.Params()
	assert.True(t, params.Trained())

	assert.True(t, rerrors.HasCode(s.Save(context.Background()), rerrors.CodePersistenceFailed))
}

func TestLogisticScorer_LoadRejectsBadParams(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.SaveModel(context.Background(), &ModelParams{Version: 9, Weights: []float64{1, 2}}))

	s := NewLogisticScorer(nil, nil)
	_, err := s.Train(context.Background(), separableExamples(150))
	require.NoError(t, err)

	s.store = store
	err = s.Load(context.Background())
	assert.True(t, rerrors.HasCode(err, rerrors.CodeDimensionMismatch))
	assert.Equal(t, int64(1), s.Params().Version)
}

func TestLogisticScorer_LoadMissingResets(t *testing.T) {
	s := NewLogisticScorer(nil, nil)
	_, err := s.Train(context.Background(), separableExamples(150))
	require.NoError(t, err)

	s.store = NewMemoryStore()
	require.NoError(t, s.Load(context.Background()))
	params := s.Params()
	assert.False(t, params.Trained())
}

func TestLogisticScorer_FitDoesNotInstall(t *testing.T) {
	store := NewMemoryStore()
	s := NewLogisticScorer(nil, store)

	params, report, err := s.Fit(context.Background(), separableExamples(150))
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, int64(1), params.Version)
	assert.Equal(t, int64(0), s.Params().Version)

	require.NoError(t, s.Persist(context.Background(), params))
	assert.Equal(t, 1, store.Saves())
	assert.Equal(t, int64(0), s.Params().Version, "persisting does not install")

	require.NoError(t, s.SetParams(params))
	assert.Equal(t, int64(1), s.Params().Version)
}

func TestClassifyMatchType(t *testing.T) {
	tests := []struct {
		confidence float64
		want       models.MatchType
	}{
		{1.0, models.MatchExact},
		{0.99, models.MatchExact},
		{0.9899, models.MatchProbable},
		{0.85, models.MatchProbable},
		{0.8499, models.MatchPossible},
		{0.0, models.MatchPossible},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyMatchType(tt.confidence), "confidence %v", tt.confidence)
	}
}

func TestClassifyMatchType_Monotonic(t *testing.T) {
	rank := map[models.MatchType]int{models.MatchPossible: 0, models.MatchProbable: 1, models.MatchExact: 2}
	prev := -1
	for c := 0.0; c <= 1.0; c += 0.001 {
		r := rank[ClassifyMatchType(c)]
		require.GreaterOrEqual(t, r, prev, "tier decreased at %v", c)
		prev = r
	}
}

func TestSuggestAction(t *testing.T) {
	exactAmount := models.ReconciliationFeatures{AmountSimilarity: 1, CurrencyMatch: 1}

	assert.Equal(t, models.ActionAutoMatch, SuggestAction(0.995, exactAmount))
	assert.Equal(t, models.ActionReview, SuggestAction(0.995, models.ReconciliationFeatures{AmountSimilarity: 0.98, CurrencyMatch: 1}))
	assert.Equal(t, models.ActionReview, SuggestAction(0.995, models.ReconciliationFeatures{AmountSimilarity: 1, CurrencyMatch: 0}))
	assert.Equal(t, models.ActionReview, SuggestAction(0.85, exactAmount))
	assert.Equal(t, models.ActionInvestigate, SuggestAction(0.84, exactAmount))
}

type panickingScorer struct{ NoopTrainer }

func (panickingScorer) Predict([]float64) (float64, error) { panic("corrupt weights") }

type erroringScorer struct{ NoopTrainer }

func (erroringScorer) Predict([]float64) (float64, error) { return 0.9, errors.New("bad") }

func TestSafePredict(t *testing.T) {
	features := make([]float64, models.FeatureCount)
	log := logger.Nop()

	assert.Equal(t, 0.0, SafePredict(panickingScorer{}, features, log))
	assert.Equal(t, 0.0, SafePredict(erroringScorer{}, features, log))
	assert.Equal(t, 0.5, SafePredict(NewLogisticScorer(nil, nil), features, nil))
}
