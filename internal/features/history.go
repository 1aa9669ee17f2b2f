package features

import (
	"context"
	"sync"

	"payment-reconciliation-engine/internal/models"
)

// HistorySnapshot is the serializable form of the counterparty table.
type HistorySnapshot struct {
	Version int64                     `json:"version"`
	Counts  map[string]map[string]int `json:"counts"`
}

// HistoryStore persists counterparty history between runs.
type HistoryStore interface {
	LoadHistory(ctx context.Context) (HistorySnapshot, error)
	SaveHistory(ctx context.Context, snapshot HistorySnapshot) error
}

// CounterpartyHistory counts confirmed matches per vendor and bank-side
// counterparty name. Counts only grow; every change bumps the version.
type CounterpartyHistory struct {
	mu      sync.RWMutex
	counts  map[string]map[string]int
	totals  map[string]int
	version int64
}

// NewCounterpartyHistory returns an empty table.
func NewCounterpartyHistory() *CounterpartyHistory {
	return &CounterpartyHistory{
		counts: make(map[string]map[string]int),
		totals: make(map[string]int),
	}
}

// Record adds one confirmed match. Unknown vendors or empty names are ignored.
func (h *CounterpartyHistory) Record(vendorID, counterpartyName string) bool {
	name := models.NormalizeText(counterpartyName)
	if vendorID == "" || name == "" {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	names, ok := h.counts[vendorID]
	if !ok {
		names = make(map[string]int)
		h.counts[vendorID] = names
	}
	names[name]++
	h.totals[vendorID]++
	h.version++
	return true
}

// Score is the share of the vendor's confirmed matches that used this
// counterparty name. Unknown vendors score 0.
func (h *CounterpartyHistory) Score(vendorID, counterpartyName string) float64 {
	name := models.NormalizeText(counterpartyName)
	if vendorID == "" || name == "" {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	total := h.totals[vendorID]
	if total == 0 {
		return 0
	}
	return float64(h.counts[vendorID][name]) / float64(total)
}

// Version increases with every recorded match.
func (h *CounterpartyHistory) Version() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.version
}

// Vendors returns the number of vendors with at least one confirmed match.
func (h *CounterpartyHistory) Vendors() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.totals)
}

// Snapshot deep-copies the table.
func (h *CounterpartyHistory) Snapshot() HistorySnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	counts := make(map[string]map[string]int, len(h.counts))
	for vendor, names := range h.counts {
		copied := make(map[string]int, len(names))
		for name, n := range names {
			copied[name] = n
		}
		counts[vendor] = copied
	}
	return HistorySnapshot{Version: h.version, Counts: counts}
}

// Record adds one confirmed match to the snapshot. It follows the same
// rules as CounterpartyHistory.Record.
func (s *HistorySnapshot) Record(vendorID, counterpartyName string) bool {
	name := models.NormalizeText(counterpartyName)
	if vendorID == "" || name == "" {
		return false
	}
	if s.Counts == nil {
		s.Counts = make(map[string]map[string]int)
	}
	names, ok := s.Counts[vendorID]
	if !ok {
		names = make(map[string]int)
		s.Counts[vendorID] = names
	}
	names[name]++
	s.Version++
	return true
}

// Restore replaces the table with a snapshot.
func (h *CounterpartyHistory) Restore(snapshot HistorySnapshot) {
	counts := make(map[string]map[string]int, len(snapshot.Counts))
	totals := make(map[string]int, len(snapshot.Counts))
	for vendor, names := range snapshot.Counts {
		copied := make(map[string]int, len(names))
		for name, n := range names {
			if n <= 0 {
				continue
			}
			copied[models.NormalizeText(name)] += n
			totals[vendor] += n
		}
		if len(copied) > 0 {
			counts[vendor] = copied
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts = counts
	h.totals = totals
	h.version = snapshot.Version
}
