package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/LoyaltyGo/pkg/logger"
)

// HeaderCorrelationID is accepted from the gateway and echoed on every response.
const HeaderCorrelationID = "X-Correlation-ID"

// RequestLogging tags the request with a correlation id and the caller ids
// sent by the gateway, stores l as the request logger and writes one access
// line per request. Records logged with the request context carry those ids.
// Mount it after Tracing so the access line carries the trace id.
func RequestLogging(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			correlationID := strings.TrimSpace(r.Header.Get(HeaderCorrelationID))
			if correlationID == "" {
				correlationID = uuid.NewString()
			}
			w.Header().Set(HeaderCorrelationID, correlationID)

			ctx := logger.WithCorrelationID(r.Context(), correlationID)
			if id := strings.TrimSpace(r.Header.Get(HeaderUserID)); id != "" {
				ctx = logger.WithUserID(ctx, id)
			}
			if id := strings.TrimSpace(r.Header.Get(HeaderMerchantID)); id != "" {
				ctx = logger.WithMerchantID(ctx, id)
			}
			ctx = logger.NewContext(ctx, l)

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			l.Log(ctx, accessLevel(r.URL.Path, rec.statusCode), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", rec.bytes),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("user_agent", r.UserAgent()),
			)
		})
	}
}

// accessLevel logs server errors at error and probe or scrape traffic at
// debug.
func accessLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case path == "/metrics" || strings.HasPrefix(path, "/health/"):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
