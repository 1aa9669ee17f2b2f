package logger

import (
	"sync"
	"time"
)

// ProgressTracker logs the progress of a long-running operation at a fixed
// interval. It is safe for concurrent use by batch workers.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mu          sync.Mutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string
	Total       int64
	LogInterval time.Duration
	Logger      Logger
}

// ProgressStats is a point-in-time snapshot of a tracker.
type ProgressStats struct {
	Operation string
	Total     int64
	Current   int64
	Elapsed   time.Duration
	Rate      float64
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	now := time.Now()
	tracker := &ProgressTracker{
		logger:      config.Logger.WithField("operation", config.Operation),
		operation:   config.Operation,
		total:       config.Total,
		startTime:   now,
		lastLogTime: now,
		logInterval: config.LogInterval,
	}
	tracker.logger.WithField("total", config.Total).Debug("Starting operation")
	return tracker
}

// Add advances the counter by delta.
func (p *ProgressTracker) Add(delta int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current += delta
	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.lastLogTime = now
		p.logger.WithFields(Fields{
			"processed": p.current,
			"total":     p.total,
		}).Info("Progress")
	}
}

// Stats returns the current counters.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.startTime)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(p.current) / elapsed.Seconds()
	}
	return ProgressStats{
		Operation: p.operation,
		Total:     p.total,
		Current:   p.current,
		Elapsed:   elapsed,
		Rate:      rate,
	}
}

// Complete logs final statistics and returns them.
func (p *ProgressTracker) Complete() ProgressStats {
	stats := p.Stats()
	p.logger.WithFields(Fields{
		"processed": stats.Current,
		"total":     stats.Total,
		"duration":  stats.Elapsed.String(),
	}).Debug("Operation completed")
	return stats
}
