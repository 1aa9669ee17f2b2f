package api

import (
	"payment-reconciliation-engine/internal/events"
	"payment-reconciliation-engine/internal/matcher"
	"payment-reconciliation-engine/internal/models"
)

// MatchRequest carries the records of a match or suggest call.
type MatchRequest struct {
	Payments     []*models.PaymentRecord   `json:"payments" binding:"required"`
	Transactions []*models.BankTransaction `json:"transactions" binding:"required"`
}

// MatchResponse lists matches or suggestions, highest confidence first.
type MatchResponse struct {
	Count   int                           `json:"count"`
	Matches []*models.ReconciliationMatch `json:"matches"`
}

// ReconcileRequest carries the records of an auto-reconcile call. Tolerance
// overrides the server configuration field by field.
type ReconcileRequest struct {
	Payments           []*models.PaymentRecord   `json:"payments" binding:"required"`
	Transactions       []*models.BankTransaction `json:"transactions" binding:"required"`
	Tolerance          *matcher.ToleranceConfig  `json:"tolerance,omitempty"`
	StrictDateMatching bool                      `json:"strict_date_matching"`
}

// TrainRequest carries labeled history.
type TrainRequest struct {
	History []models.ReconciliationHistory `json:"history" binding:"required"`
}

// EvaluateRequest carries a labeled test set.
type EvaluateRequest struct {
	TestSet []models.ReconciliationHistory `json:"test_set" binding:"required"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// EventsResponse lists recorded run events, newest first.
type EventsResponse struct {
	Count  int            `json:"count"`
	Events []events.Event `json:"events"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Category   string `json:"category"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}
