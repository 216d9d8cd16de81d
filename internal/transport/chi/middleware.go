package chi

import (
	"context"
	"errors"
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/triage/internal/domain"
	logpkg "github.com/kailas-cloud/triage/internal/logger"
)

// HeaderOrganization carries the tenant of every /api/v1 request.
const HeaderOrganization = "X-Organization-ID"

type orgKey struct{}

func withOrganization(ctx context.Context, org string) context.Context {
	return context.WithValue(ctx, orgKey{}, org)
}

// organization returns the tenant placed in the context by TenantMiddleware.
func organization(ctx context.Context) string {
	org, _ := ctx.Value(orgKey{}).(string)
	return org
}

// TenantMiddleware requires a well-formed X-Organization-ID header and scopes
// the request logger to it.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org := r.Header.Get(HeaderOrganization)
		if err := domain.CheckOrganization(org); err != nil {
			if errors.Is(err, domain.ErrTenantRequired) {
				writeError(w, http.StatusForbidden, CodeTenantRequired, "missing "+HeaderOrganization+" header")
				return
			}
			writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
			return
		}

		ctx := logpkg.With(withOrganization(r.Context(), org), zap.String("organization_id", org))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// JSONRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func JSONRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.String("path", r.URL.Path),
						zap.Stack("stacktrace"),
					)
					writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// WideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func WideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi's RequestID middleware already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("organization_id", r.Header.Get(HeaderOrganization)),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}

// requestLogger prefers the request-scoped logger set by WideEventMiddleware.
func requestLogger(r *http.Request, fallback *zap.Logger) *zap.Logger {
	return logpkg.FromContextOr(r.Context(), fallback)
}
