package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/who-owes-who/ledger"
)

// Authorizer is the authorization gate. It turns a bearer token into a
// caller; auth.Verifier is the production implementation.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (ledger.Caller, error)
}

type callerContextKey struct{}

// WithCaller stores the authorized caller in ctx.
func WithCaller(ctx context.Context, caller ledger.Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext returns the caller stored in ctx. Requests that did not
// pass RequireAuth yield an unauthorized zero Caller.
func CallerFromContext(ctx context.Context) ledger.Caller {
	caller, _ := ctx.Value(callerContextKey{}).(ledger.Caller)
	return caller
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(gate Authorizer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := gate.Authorize(r.Context(), bearerToken(r))
			if err != nil || !caller.Authorized {
				logger.Info("request not authorized",
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()),
					"error", err,
				)
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized", Code: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
