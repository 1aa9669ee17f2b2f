package trainer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-reconciliation-engine/internal/events"
	"payment-reconciliation-engine/internal/features"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/scorer"
	"payment-reconciliation-engine/internal/storage"
	rerrors "payment-reconciliation-engine/pkg/errors"
)

// labeledHistory alternates confirmed matches and rejected pairs. Every
// confirmed match belongs to vendor V-ACME paid to "ACME CORP".
func labeledHistory(n int) []models.ReconciliationHistory {
	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	history := make([]models.ReconciliationHistory, 0, n)

	for i := 0; i < n; i++ {
		amount := decimal.NewFromInt(int64(1000 + i))
		date := base.AddDate(0, 0, i%20)
		p := models.PaymentRecord{
			ID:               fmt.Sprintf("P%03d", i),
			Amount:           amount,
			Currency:         "USD",
			Date:             date,
			Reference:        fmt.Sprintf("INV-%03d", i),
			CounterpartyID:   "V-ACME",
			CounterpartyName: "Acme Corp",
		}

		if i%2 == 0 {
			history = append(history, models.ReconciliationHistory{
				Payment: p,
				Transaction: models.BankTransaction{
					ID:               fmt.Sprintf("T%03d", i),
					Amount:           amount.Neg(),
					Currency:         "USD",
					Date:             date,
					Description:      fmt.Sprintf("INV-%03d payment", i),
					CounterpartyName: "ACME CORP",
				},
				IsMatch: true,
			})
			continue
		}

		history = append(history, models.ReconciliationHistory{
			Payment: p,
			Transaction: models.BankTransaction{
				ID:               fmt.Sprintf("T%03d", i),
				Amount:           amount.Mul(decimal.NewFromInt(5)),
				Currency:         "EUR",
				Date:             date.AddDate(0, 0, 25),
				Description:      "quarterly subscription",
				CounterpartyName: "Globex",
			},
			IsMatch: false,
		})
	}
	return history
}

type recordingScorer struct {
	scorer.NoopTrainer
	examples []scorer.Example
}

func (r *recordingScorer) Predict([]float64) (float64, error) { return 0.5, nil }

func (r *recordingScorer) Train(ctx context.Context, examples []scorer.Example) (scorer.TrainReport, error) {
	r.examples = examples
	return scorer.TrainReport{Samples: len(examples), TrainSize: len(examples), Epochs: 1, ModelVersion: 1}, nil
}

func newFileStore(t *testing.T) *storage.FileStore {
	t.Helper()
	fs, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return fs
}

func TestTrain_GateBelowMinimum(t *testing.T) {
	ctx := context.Background()
	modelStore := scorer.NewMemoryStore()
	historyStore := newFileStore(t)
	sink := &events.MemorySink{}
	model := scorer.NewLogisticScorer(nil, modelStore)

	tr := New(nil, nil, model, historyStore, sink)
	report, err := tr.Train(ctx, labeledHistory(99))
	require.NoError(t, err)

	assert.True(t, report.Skipped)
	assert.Equal(t, 99, report.Samples)
	assert.Equal(t, 0, modelStore.Saves(), "model must not be saved")
	assert.Empty(t, sink.Events())

	snapshot, err := historyStore.LoadHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, snapshot.Counts)
	assert.Equal(t, int64(0), tr.extractor.History().Version())
}

func TestTrain_AtMinimumTrainsAndPersists(t *testing.T) {
	ctx := context.Background()
	modelStore := scorer.NewMemoryStore()
	historyStore := newFileStore(t)
	sink := &events.MemorySink{}
	model := scorer.NewLogisticScorer(nil, modelStore)

	tr := New(nil, nil, model, historyStore, sink)
	report, err := tr.Train(ctx, labeledHistory(100))
	require.NoError(t, err)

	assert.False(t, report.Skipped)
	assert.Equal(t, 100, report.Samples)
	assert.Equal(t, 80, report.TrainSize)
	assert.Equal(t, 20, report.ValidationSize)
	assert.Equal(t, 300, report.Epochs)
	assert.GreaterOrEqual(t, report.FinalAccuracy, 0.9)
	assert.Equal(t, int64(1), report.ModelVersion)
	assert.Equal(t, int64(50), report.HistoryVersion)

	assert.Equal(t, 1, modelStore.Saves())

	snapshot, err := historyStore.LoadHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, snapshot.Counts["V-ACME"]["acme corp"])
	assert.Equal(t, 1.0, tr.extractor.History().Score("V-ACME", "Acme Corp"))

	trainingEvents := sink.OfKind(events.KindTraining)
	require.Len(t, trainingEvents, 1)
	assert.Equal(t, 100, trainingEvents[0].Training.Samples)
	assert.Equal(t, report.FinalAccuracy, trainingEvents[0].Training.FinalAccuracy)
}

// observingStore records what readers could see at the moment the model
// is persisted.
type observingStore struct {
	*scorer.MemoryStore
	model   *scorer.LogisticScorer
	history *features.CounterpartyHistory

	modelVersion   int64
	historyVersion int64
}

func (o *observingStore) SaveModel(ctx context.Context, params *scorer.ModelParams) error {
	o.modelVersion = o.model.Params().Version
	o.historyVersion = o.history.Version()
	return o.MemoryStore.SaveModel(ctx, params)
}

func TestTrain_InstallsAfterPersisting(t *testing.T) {
	extractor := features.NewExtractor(nil, nil)
	store := &observingStore{MemoryStore: scorer.NewMemoryStore(), history: extractor.History()}
	model := scorer.NewLogisticScorer(nil, store)
	store.model = model

	tr := New(nil, extractor, model, nil, nil)
	report, err := tr.Train(context.Background(), labeledHistory(100))
	require.NoError(t, err)

	assert.Equal(t, int64(0), store.modelVersion, "model installed before it was saved")
	assert.Equal(t, int64(0), store.historyVersion, "history installed before the model was saved")
	assert.Equal(t, int64(1), model.Params().Version)
	assert.Equal(t, report.HistoryVersion, extractor.History().Version())
}

func TestTrain_ConcurrentReadersSeeWholeHistory(t *testing.T) {
	extractor := features.NewExtractor(nil, nil)
	tr := New(nil, extractor, scorer.NewLogisticScorer(nil, scorer.NewMemoryStore()), nil, nil)

	done := make(chan struct{})
	var wg sync.WaitGroup
	seen := make(map[int64]bool)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			seen[extractor.History().Version()] = true
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	_, err := tr.Train(context.Background(), labeledHistory(100))
	close(done)
	wg.Wait()
	require.NoError(t, err)

	for version := range seen {
		assert.Contains(t, []int64{0, 50}, version, "reader saw a partially recorded history")
	}
	assert.Equal(t, int64(50), extractor.History().Version())
}

func TestTrain_FeaturesUsePriorHistory(t *testing.T) {
	rec := &recordingScorer{}
	tr := New(nil, nil, rec, nil, nil)

	_, err := tr.Train(context.Background(), labeledHistory(100))
	require.NoError(t, err)
	require.Len(t, rec.examples, 100)
	for i, ex := range rec.examples {
		assert.Equal(t, 0.0, ex.Features[5], "example %d saw history recorded by the same run", i)
	}

	_, err = tr.Train(context.Background(), labeledHistory(100))
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.examples[0].Features[5], "second run sees the first run's history")
	assert.Equal(t, 0.0, rec.examples[1].Features[5], "unknown counterparty scores 0")
}

func TestTrain_InvalidHistory(t *testing.T) {
	history := labeledHistory(100)
	history[7].Payment.ID = ""

	tr := New(nil, nil, &recordingScorer{}, nil, nil)
	_, err := tr.Train(context.Background(), history)
	require.Error(t, err)
	assert.True(t, rerrors.HasCode(err, rerrors.CodeInvalidData))
}

func TestTrain_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	modelStore := scorer.NewMemoryStore()
	tr := New(nil, nil, scorer.NewLogisticScorer(nil, modelStore), nil, nil)
	_, err := tr.Train(ctx, labeledHistory(120))
	require.Error(t, err)
	assert.True(t, rerrors.HasCode(err, rerrors.CodeCancelled))
	assert.Equal(t, 0, modelStore.Saves())
	assert.Equal(t, int64(0), tr.extractor.History().Version())
}

// amountExact predicts a match exactly when amounts agree.
var amountExact = scorer.FuncScorer{Fn: func(v []float64) (float64, error) {
	if v[0] == 1 {
		return 1, nil
	}
	return 0, nil
}}

func TestEvaluate_AllCorrect(t *testing.T) {
	tr := New(nil, nil, amountExact, nil, nil)
	m, err := tr.Evaluate(context.Background(), labeledHistory(40), 0)
	require.NoError(t, err)

	assert.Equal(t, 0.95, m.Threshold)
	assert.Equal(t, 40, m.Total)
	assert.Equal(t, 20, m.TruePositives)
	assert.Equal(t, 20, m.TrueNegatives)
	assert.Equal(t, 1.0, m.Accuracy)
	assert.Equal(t, 1.0, m.Precision)
	assert.Equal(t, 1.0, m.Recall)
	assert.Equal(t, 1.0, m.F1)
}

func TestEvaluate_ZeroDenominators(t *testing.T) {
	tr := New(nil, nil, scorer.Constant(0), nil, nil)

	m, err := tr.Evaluate(context.Background(), nil, 0.95)
	require.NoError(t, err)
	assert.Equal(t, EvaluationMetrics{Threshold: 0.95}, *m)

	m, err = tr.Evaluate(context.Background(), labeledHistory(10), 0.95)
	require.NoError(t, err)
	assert.Equal(t, 5, m.FalseNegatives)
	assert.Equal(t, 0.0, m.Precision)
	assert.Equal(t, 0.0, m.Recall)
	assert.Equal(t, 0.0, m.F1)
	assert.Equal(t, 0.5, m.Accuracy)
}

func TestEvaluate_ThresholdIsInclusive(t *testing.T) {
	tr := New(nil, nil, scorer.Constant(0.95), nil, nil)
	m, err := tr.Evaluate(context.Background(), labeledHistory(10), 0.95)
	require.NoError(t, err)
	assert.Equal(t, 5, m.TruePositives)
	assert.Equal(t, 5, m.FalsePositives)
	assert.Equal(t, 0.5, m.Precision)
	assert.Equal(t, 1.0, m.Recall)
	assert.InDelta(t, 2.0/3.0, m.F1, 1e-12)
}

func TestEvaluate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := New(nil, nil, amountExact, nil, nil)
	_, err := tr.Evaluate(ctx, labeledHistory(4), 0.95)
	assert.True(t, rerrors.HasCode(err, rerrors.CodeCancelled))
}

func TestLoadState_RestoresModelAndHistory(t *testing.T) {
	ctx := context.Background()
	fs := newFileStore(t)

	first := New(nil, nil, scorer.NewLogisticScorer(nil, fs), fs, nil)
	report, err := first.Train(ctx, labeledHistory(100))
	require.NoError(t, err)
	require.False(t, report.Skipped)

	restoredModel := scorer.NewLogisticScorer(nil, fs)
	extractor := features.NewExtractor(nil, nil)
	second := New(nil, extractor, restoredModel, fs, nil)
	require.NoError(t, second.LoadState(ctx))

	assert.Equal(t, int64(1), restoredModel.Params().Version)
	assert.Equal(t, 1.0, extractor.History().Score("V-ACME", "acme corp"))
	assert.Equal(t, int64(50), extractor.History().Version())
}

func TestLoadState_Empty(t *testing.T) {
	fs := newFileStore(t)
	model := scorer.NewLogisticScorer(nil, fs)
	tr := New(nil, nil, model, fs, nil)

	require.NoError(t, tr.LoadState(context.Background()))
	params := model.Params()
	assert.False(t, params.Trained())
}
