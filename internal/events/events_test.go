package events

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-reconciliation-engine/pkg/logger"
)

func TestNewPerformanceEvent(t *testing.T) {
	e := NewPerformanceEvent("match_transactions", 200, 180, 150, 2*time.Second)

	require.NotNil(t, e.Performance)
	assert.Equal(t, KindPerformance, e.Kind)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, int64(2000), e.Performance.ProcessingTimeMs)
	assert.InDelta(t, 100.0, e.Performance.Throughput, 1e-9)

	zero := NewPerformanceEvent("x", 10, 0, 0, 0)
	assert.Equal(t, 0.0, zero.Performance.Throughput)
}

func TestNewTrainingEvent(t *testing.T) {
	e := NewTrainingEvent(500, 0.93, 300, 4)
	require.NotNil(t, e.Training)
	assert.Equal(t, KindTraining, e.Kind)
	assert.Equal(t, 500, e.Training.Samples)
	assert.NotEqual(t, e.ID, NewTrainingEvent(1, 0, 1, 1).ID)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(logger.NewWithWriter(&buf, logger.InfoLevel))

	require.NoError(t, sink.Publish(context.Background(), NewPerformanceEvent("auto_reconcile", 3, 4, 2, time.Second)))
	out := buf.String()
	assert.True(t, strings.Contains(out, "matches_found=2"), out)
	assert.True(t, strings.Contains(out, "operation=auto_reconcile"), out)
}

type failingSink struct{}

func (failingSink) Publish(ctx context.Context, event Event) error {
	return errors.New("broker down")
}

func TestMultiSink(t *testing.T) {
	mem := &MemorySink{}
	multi := MultiSink{mem, nil, failingSink{}}

	err := multi.Publish(context.Background(), NewTrainingEvent(100, 1, 300, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, mem.Events(), 1)
	assert.Len(t, mem.OfKind(KindTraining), 1)
	assert.Empty(t, mem.OfKind(KindPerformance))
}
