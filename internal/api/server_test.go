package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-reconciliation-engine/internal/api"
	"payment-reconciliation-engine/internal/events"
	"payment-reconciliation-engine/internal/reconciler"
	"payment-reconciliation-engine/internal/scorer"
	"payment-reconciliation-engine/internal/trainer"
	"payment-reconciliation-engine/pkg/logger"
)

const records = `{
	"payments": [
		{"id": "P1", "amount": "100.00", "currency": "USD", "date": "2024-01-15", "reference": "INV-1"}
	],
	"transactions": [
		{"id": "T1", "amount": "-100.00", "currency": "USD", "date": "2024-01-15", "reference": "INV-1"}
	]
}`

type fakeLister struct {
	events []events.Event
	err    error
	kind   events.Kind
	limit  int
}

func (f *fakeLister) RecentEvents(ctx context.Context, kind events.Kind, limit int) ([]events.Event, error) {
	f.kind, f.limit = kind, limit
	return f.events, f.err
}

func newTestServer(t *testing.T, lister api.EventLister) *api.Server {
	t.Helper()
	svc, err := reconciler.NewService(nil, reconciler.Dependencies{Scorer: scorer.Constant(0.8)})
	require.NoError(t, err)

	cfg := api.DefaultConfig()
	cfg.Version = "test"
	return api.NewServer(cfg, svc, lister, logger.Nop())
}

func do(t *testing.T, server *api.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestServer_Health(t *testing.T) {
	server := newTestServer(t, nil)

	rec := do(t, server, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var response api.HealthResponse
	decode(t, rec, &response)
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "test", response.Version)
}

func TestServer_RequestIDPropagated(t *testing.T) {
	server := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestServer_Match(t *testing.T) {
	t.Run("POST /api/match returns matches", func(t *testing.T) {
		server := newTestServer(t, nil)

		rec := do(t, server, http.MethodPost, "/api/match", records)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var response api.MatchResponse
		decode(t, rec, &response)
		require.Equal(t, 1, response.Count)
		assert.Equal(t, "P1", response.Matches[0].Payment.ID)
		assert.Equal(t, "T1", response.Matches[0].Transaction.ID)
		assert.Equal(t, 0.8, response.Matches[0].Confidence)
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		server := newTestServer(t, nil)

		rec := do(t, server, http.MethodPost, "/api/match", `{"payments": [`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var response api.ErrorResponse
		decode(t, rec, &response)
		assert.Equal(t, "validation", response.Category)
		assert.Equal(t, "invalid_data", response.Code)
	})

	t.Run("missing transactions returns 400", func(t *testing.T) {
		server := newTestServer(t, nil)

		rec := do(t, server, http.MethodPost, "/api/match", `{"payments": []}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("duplicate ids return 400", func(t *testing.T) {
		server := newTestServer(t, nil)
		body := `{
			"payments": [
				{"id": "P1", "amount": "1", "currency": "USD", "date": "2024-01-15"},
				{"id": "P1", "amount": "2", "currency": "USD", "date": "2024-01-15"}
			],
			"transactions": []
		}`

		rec := do(t, server, http.MethodPost, "/api/match", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var response api.ErrorResponse
		decode(t, rec, &response)
		assert.Equal(t, "duplicate_id", response.Code)
	})
}

func TestServer_Suggest(t *testing.T) {
	server := newTestServer(t, nil)

	rec := do(t, server, http.MethodPost, "/api/suggest", records)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response api.MatchResponse
	decode(t, rec, &response)
	assert.Equal(t, 1, response.Count)
}

func TestServer_Reconcile(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		server := newTestServer(t, nil)

		rec := do(t, server, http.MethodPost, "/api/reconcile", records)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var report reconciler.ReconciliationReport
		decode(t, rec, &report)
		require.NotNil(t, report.Result)
		require.Len(t, report.Result.Matches, 1)
		assert.Equal(t, 1, report.Summary.ExactMatches)
		assert.Equal(t, 100.0, report.Summary.ReconciliationRate)
		assert.Empty(t, report.Result.UnmatchedSystem)
	})

	t.Run("partial tolerance override", func(t *testing.T) {
		server := newTestServer(t, nil)
		body := strings.Replace(records, `"payments"`, `"tolerance": {"date_range_days": 5}, "payments"`, 1)

		rec := do(t, server, http.MethodPost, "/api/reconcile", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var report reconciler.ReconciliationReport
		decode(t, rec, &report)
		require.NotNil(t, report.Result)
		assert.Len(t, report.Result.Matches, 1)
	})

	t.Run("override does not change server config", func(t *testing.T) {
		svc, err := reconciler.NewService(nil, reconciler.Dependencies{Scorer: scorer.Constant(0.8)})
		require.NoError(t, err)
		server := api.NewServer(api.DefaultConfig(), svc, nil, logger.Nop())
		body := strings.Replace(records, `"payments"`, `"tolerance": {"date_range_days": 9}, "payments"`, 1)

		rec := do(t, server, http.MethodPost, "/api/reconcile", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, 3, svc.Engine().Config.DateRangeDays)
	})

	t.Run("invalid tolerance", func(t *testing.T) {
		server := newTestServer(t, nil)
		body := strings.Replace(records, `"payments"`, `"tolerance": {"tolerance_amount": -1}, "payments"`, 1)

		rec := do(t, server, http.MethodPost, "/api/reconcile", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var response api.ErrorResponse
		decode(t, rec, &response)
		assert.Equal(t, "configuration", response.Category)
		assert.Equal(t, "invalid_config", response.Code)
	})
}

func TestServer_TrainAndEvaluate(t *testing.T) {
	server := newTestServer(t, nil)
	body := `[
		{"payment": {"id": "P1", "amount": "10", "currency": "USD", "date": "2024-01-15"},
		 "transaction": {"id": "T1", "amount": "-10", "currency": "USD", "date": "2024-01-15"},
		 "is_match": true},
		{"payment": {"id": "P2", "amount": "10", "currency": "USD", "date": "2024-01-15"},
		 "transaction": {"id": "T2", "amount": "-900", "currency": "EUR", "date": "2024-06-15"},
		 "is_match": false}
	]`

	t.Run("train below minimum is skipped", func(t *testing.T) {
		rec := do(t, server, http.MethodPost, "/api/train", `{"history": `+body+`}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var report trainer.TrainingReport
		decode(t, rec, &report)
		assert.True(t, report.Skipped)
		assert.Equal(t, 2, report.Samples)
	})

	t.Run("evaluate", func(t *testing.T) {
		rec := do(t, server, http.MethodPost, "/api/evaluate", `{"test_set": `+body+`}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var metrics trainer.EvaluationMetrics
		decode(t, rec, &metrics)
		assert.Equal(t, 2, metrics.Total)
		assert.Equal(t, 0.95, metrics.Threshold)
		assert.Equal(t, 1, metrics.FalseNegatives)
		assert.Equal(t, 1, metrics.TrueNegatives)
	})

	t.Run("invalid example", func(t *testing.T) {
		rec := do(t, server, http.MethodPost, "/api/evaluate", `{"test_set": [{"payment": {"id": ""}, "transaction": {"id": "T1"}}]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_ModelInfo(t *testing.T) {
	server := newTestServer(t, nil)

	rec := do(t, server, http.MethodGet, "/api/model", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info reconciler.ModelInfo
	decode(t, rec, &info)
	assert.False(t, info.Trained)
	assert.Equal(t, 0, info.Vendors)
}

func TestServer_Events(t *testing.T) {
	t.Run("not registered without a lister", func(t *testing.T) {
		server := newTestServer(t, nil)

		rec := do(t, server, http.MethodGet, "/api/events", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("lists events", func(t *testing.T) {
		lister := &fakeLister{events: []events.Event{
			events.NewTrainingEvent(120, 0.95, 300, 1),
		}}
		server := newTestServer(t, lister)

		rec := do(t, server, http.MethodGet, "/api/events?kind=training&limit=5", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var response api.EventsResponse
		decode(t, rec, &response)
		assert.Equal(t, 1, response.Count)
		assert.Equal(t, events.KindTraining, response.Events[0].Kind)
		assert.Equal(t, events.KindTraining, lister.kind)
		assert.Equal(t, 5, lister.limit)
	})

	t.Run("bad limit", func(t *testing.T) {
		server := newTestServer(t, &fakeLister{})

		rec := do(t, server, http.MethodGet, "/api/events?limit=abc", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		server := newTestServer(t, &fakeLister{err: errors.New("database is locked")})

		rec := do(t, server, http.MethodGet, "/api/events", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		var response api.ErrorResponse
		decode(t, rec, &response)
		assert.Equal(t, "unexpected_error", response.Code)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*api.Config)
		wantErr bool
	}{
		{"defaults", func(c *api.Config) {}, false},
		{"zero port", func(c *api.Config) { c.Port = 0 }, true},
		{"port too large", func(c *api.Config) { c.Port = 70000 }, true},
		{"no body limit", func(c *api.Config) { c.MaxBodyBytes = 0 }, true},
		{"negative timeout", func(c *api.Config) { c.ReadTimeout = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := api.DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
