package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const (
	requestIDHeader = "X-Request-ID"
	tenantIDHeader  = "X-Tenant-ID"

	requestIDKey = contextKey("requestID")
	tenantIDKey  = contextKey("tenantID")
)

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set(requestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey).(string); ok {
		return reqID
	}

	return ""
}

// tenantID requires a valid X-Tenant-ID header on every API route. All
// reads and writes downstream are scoped to this tenant; a request
// without one has no data to operate on and is rejected outright.
func (s *Server) tenantID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(tenantIDHeader)
		if raw == "" {
			s.respondError(w, http.StatusBadRequest, "missing X-Tenant-ID header")
			return
		}

		tenantID, err := uuid.Parse(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "X-Tenant-ID must be a valid UUID")
			return
		}

		ctx := context.WithValue(r.Context(), tenantIDKey, tenantID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getTenantID(ctx context.Context) uuid.UUID {
	if tenantID, ok := ctx.Value(tenantIDKey).(uuid.UUID); ok {
		return tenantID
	}

	return uuid.Nil
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r.Context())

		log := s.log.With(
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("user_agent", r.UserAgent()),
		)
		log.Info("request started")

		t1 := time.Now()

		next.ServeHTTP(w, r)

		log.Info("request completed",
			slog.String("duration", time.Since(t1).String()),
		)
	})
}
