package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/triage/internal/domain"
	healthuc "github.com/kailas-cloud/triage/internal/usecase/health"
)

// ErrorCode is the machine-readable error kind returned to clients.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest                ErrorCode = "bad_request"
	CodeValidationFailed          ErrorCode = "validation_failed"
	CodeUnauthorized              ErrorCode = "unauthorized"
	CodeTenantRequired            ErrorCode = "tenant_required"
	CodeCrossTenantAccess         ErrorCode = "cross_tenant_access"
	CodeNotFound                  ErrorCode = "not_found"
	CodeMethodNotAllowed          ErrorCode = "method_not_allowed"
	CodeAlreadyExists             ErrorCode = "already_exists"
	CodeInvalidRule               ErrorCode = "invalid_rule"
	CodeVectorDimMismatch         ErrorCode = "vector_dim_mismatch"
	CodeRateLimited               ErrorCode = "rate_limited"
	CodeQueueFull                 ErrorCode = "queue_full"
	CodeEmbeddingProviderError    ErrorCode = "embedding_provider_error"
	CodeClassifierUnavailable     ErrorCode = "classifier_unavailable"
	CodeKeywordSearchNotSupported ErrorCode = "keyword_search_not_supported"
	CodeInternalError             ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server serves the triage HTTP API.
type Server struct {
	rules         RuleService
	lists         DomainListService
	classifier    ClassificationService
	search        SearchService
	indexer       IndexingService
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	rules RuleService,
	lists DomainListService,
	classifier ClassificationService,
	search SearchService,
	indexer IndexingService,
	health HealthChecker,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		rules:      rules,
		lists:      lists,
		classifier: classifier,
		search:     search,
		indexer:    indexer,
		health:     health,
		logger:     logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrTenantRequired, http.StatusForbidden, CodeTenantRequired),
		sentinelHandler(domain.ErrCrossTenantAccess, http.StatusForbidden, CodeCrossTenantAccess),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrAlreadyExists, http.StatusConflict, CodeAlreadyExists),
		detailHandler(domain.ErrInvalidRule, http.StatusBadRequest, CodeInvalidRule),
		detailHandler(domain.ErrInvalidInput, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, CodeVectorDimMismatch),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited),
		sentinelHandler(domain.ErrQueueFull, http.StatusServiceUnavailable, CodeQueueFull),
		sentinelHandler(domain.ErrEmbeddingProviderError,
			http.StatusBadGateway, CodeEmbeddingProviderError),
		sentinelHandler(domain.ErrClassifierUnavailable,
			http.StatusBadGateway, CodeClassifierUnavailable),
		sentinelHandler(domain.ErrKeywordSearchNotSupported,
			http.StatusNotImplemented, CodeKeywordSearchNotSupported),
	}
	return s
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrTenantRequired,
		domain.ErrCrossTenantAccess,
		domain.ErrNotFound,
		domain.ErrAlreadyExists,
		domain.ErrInvalidRule,
		domain.ErrInvalidInput,
		domain.ErrVectorDimMismatch,
		domain.ErrRateLimited,
		domain.ErrQueueFull,
		domain.ErrEmbeddingProviderError,
		domain.ErrClassifierUnavailable,
		domain.ErrKeywordSearchNotSupported,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// detailHandler is a sentinelHandler for validation errors, whose full text
// names the offending field and is safe to return.
func detailHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, _ string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, err.Error())
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := requestLogger(r, s.logger)
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
