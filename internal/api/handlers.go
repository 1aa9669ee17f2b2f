package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"payment-reconciliation-engine/internal/events"
	"payment-reconciliation-engine/internal/models"
	rerrors "payment-reconciliation-engine/pkg/errors"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: s.config.Version})
}

func (s *Server) modelInfo(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.ModelInfo())
}

func (s *Server) listEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		s.writeError(c, rerrors.ValidationError(rerrors.CodeOutOfRange, "limit", c.Query("limit"), err).
			WithSuggestion("Use a positive integer limit"))
		return
	}

	list, err := s.events.RecentEvents(c.Request.Context(), events.Kind(c.Query("kind")), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if list == nil {
		list = []events.Event{}
	}
	c.JSON(http.StatusOK, EventsResponse{Count: len(list), Events: list})
}

func (s *Server) match(c *gin.Context) {
	var req MatchRequest
	if !s.bind(c, &req) {
		return
	}

	matches, err := s.service.MatchTransactions(c.Request.Context(), req.Payments, req.Transactions)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, matchResponse(matches))
}

func (s *Server) suggest(c *gin.Context) {
	var req MatchRequest
	if !s.bind(c, &req) {
		return
	}

	suggestions, err := s.service.SuggestMatches(c.Request.Context(), req.Transactions, req.Payments)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, matchResponse(suggestions))
}

func (s *Server) reconcile(c *gin.Context) {
	// fields left out of a tolerance override keep the configured values
	tolerance := *s.service.Engine().Config
	req := ReconcileRequest{Tolerance: &tolerance}
	if !s.bind(c, &req) {
		return
	}
	if req.Tolerance != nil {
		if err := req.Tolerance.Validate(); err != nil {
			s.writeError(c, rerrors.ConfigurationError(rerrors.CodeInvalidConfig, "tolerance", nil, err))
			return
		}
	}

	report, err := s.service.Reconcile(c.Request.Context(), req.Transactions, req.Payments, req.Tolerance, req.StrictDateMatching)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) train(c *gin.Context) {
	var req TrainRequest
	if !s.bind(c, &req) {
		return
	}

	report, err := s.service.TrainModel(c.Request.Context(), req.History)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) evaluate(c *gin.Context) {
	var req EvaluateRequest
	if !s.bind(c, &req) {
		return
	}

	metrics, err := s.service.EvaluateModel(c.Request.Context(), req.TestSet)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

// bind decodes the JSON body into req and answers 400 on failure.
func (s *Server) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		s.writeError(c, rerrors.ValidationError(rerrors.CodeInvalidData, "body", nil, err).
			WithSuggestion("Send a JSON body with the documented fields"))
		return false
	}
	return true
}

func (s *Server) writeError(c *gin.Context, err error) {
	rerr, ok := rerrors.AsReconcilerError(err)
	if !ok {
		rerr = rerrors.WrapIfNeeded(err, rerrors.CategoryInternal, rerrors.CodeUnexpectedError, "request failed")
	}

	status := statusFor(rerr)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Request handling failed")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Category:   string(rerr.Category),
		Code:       string(rerr.Code),
		Message:    rerr.Message,
		Suggestion: rerr.Suggestion,
	})
}

func statusFor(err *rerrors.ReconcilerError) int {
	switch err.Category {
	case rerrors.CategoryParse, rerrors.CategoryValidation, rerrors.CategoryConfiguration:
		return http.StatusBadRequest
	case rerrors.CategoryReconciliation:
		if err.Code == rerrors.CodeCancelled {
			return http.StatusRequestTimeout
		}
		return http.StatusUnprocessableEntity
	case rerrors.CategoryModel:
		if err.Code == rerrors.CodeModelUnavailable {
			return http.StatusServiceUnavailable
		}
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func matchResponse(matches []*models.ReconciliationMatch) MatchResponse {
	if matches == nil {
		matches = []*models.ReconciliationMatch{}
	}
	return MatchResponse{Count: len(matches), Matches: matches}
}
