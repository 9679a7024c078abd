package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) error { return nil }

func down(msg string) Checker {
	return func(context.Context) error { return errors.New(msg) }
}

func probe(t *testing.T, handler http.HandlerFunc) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestLiveness(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("postgres", down("connection refused"))

	code, resp := probe(t, h.LivenessHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusUp, resp.Status)
	assert.Empty(t, resp.Checks)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name       string
		critical   map[string]Checker
		optional   map[string]Checker
		wantCode   int
		wantStatus Status
	}{
		{
			name:       "no dependencies",
			wantCode:   http.StatusOK,
			wantStatus: StatusUp,
		},
		{
			name:       "all up",
			critical:   map[string]Checker{"postgres": up, "redis": up},
			optional:   map[string]Checker{"kafka": up},
			wantCode:   http.StatusOK,
			wantStatus: StatusUp,
		},
		{
			name:       "optional down degrades",
			critical:   map[string]Checker{"postgres": up, "redis": up},
			optional:   map[string]Checker{"kafka": down("broker unreachable")},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
		},
		{
			name:       "critical down fails",
			critical:   map[string]Checker{"postgres": up, "redis": down("connection refused")},
			optional:   map[string]Checker{"kafka": up},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusDown,
		},
		{
			name:       "critical down outranks degraded",
			critical:   map[string]Checker{"postgres": down("db down")},
			optional:   map[string]Checker{"kafka": down("kafka down")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler()
			for name, c := range tt.critical {
				h.RegisterCritical(name, c)
			}
			for name, c := range tt.optional {
				h.RegisterNonCritical(name, c)
			}

			code, resp := probe(t, h.ReadinessHandler())
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Len(t, resp.Checks, len(tt.critical)+len(tt.optional))
			for name := range tt.critical {
				assert.True(t, resp.Checks[name].Critical, name)
			}
			for name := range tt.optional {
				assert.False(t, resp.Checks[name].Critical, name)
			}
		})
	}
}

func TestReadiness_ReportsCheckError(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("redis", down("dial tcp 10.0.0.5:6379: connection refused"))

	_, resp := probe(t, h.ReadinessHandler())
	assert.Equal(t, StatusDown, resp.Checks["redis"].Status)
	assert.Equal(t, "dial tcp 10.0.0.5:6379: connection refused", resp.Checks["redis"].Error)
}

func TestRegister_ReplacesSameName(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("postgres", down("fail"))
	h.RegisterNonCritical("postgres", up)

	resp := h.Check(context.Background())
	require.Len(t, resp.Checks, 1)
	assert.Equal(t, StatusUp, resp.Status)
	assert.False(t, resp.Checks["postgres"].Critical)
}

func TestCheck_BoundsSlowDependency(t *testing.T) {
	h := NewHandler()
	h.RegisterNonCritical("ledger", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	resp := h.Check(ctx)
	assert.Less(t, time.Since(start), probeTimeout)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Contains(t, resp.Checks["ledger"].Error, "deadline exceeded")
}

func TestCheck_RecordsLatency(t *testing.T) {
	h := NewHandler()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time {
		clock = clock.Add(40 * time.Millisecond)
		return clock
	}
	h.RegisterCritical("postgres", up)

	resp := h.Check(context.Background())
	assert.Equal(t, int64(40), resp.Checks["postgres"].LatencyMS)
}
