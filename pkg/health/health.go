package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/utafrali/LoyaltyGo/pkg/httputil"
)

// probeTimeout bounds each dependency check in a readiness probe.
const probeTimeout = 2 * time.Second

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

// Status is the state of one dependency or of the whole service.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Response is the body of both probe endpoints.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status    Status `json:"status"`
	Critical  bool   `json:"critical"`
	LatencyMS int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

type dependency struct {
	name     string
	check    Checker
	critical bool
}

// Handler serves liveness and readiness probes. A critical dependency that
// is down fails readiness; any other only degrades it.
type Handler struct {
	mu   sync.RWMutex
	deps []dependency
	now  func() time.Time
}

// NewHandler returns a Handler with no dependencies.
func NewHandler() *Handler {
	return &Handler{now: time.Now}
}

// RegisterCritical adds a dependency whose failure fails readiness.
func (h *Handler) RegisterCritical(name string, check Checker) {
	h.add(dependency{name: name, check: check, critical: true})
}

// RegisterNonCritical adds a dependency whose failure degrades readiness.
func (h *Handler) RegisterNonCritical(name string, check Checker) {
	h.add(dependency{name: name, check: check})
}

func (h *Handler) add(d dependency) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.deps {
		if h.deps[i].name == d.name {
			h.deps[i] = d
			return
		}
	}
	h.deps = append(h.deps, d)
}

// LivenessHandler answers 200 while the process can serve HTTP.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		write(w, http.StatusOK, Response{Status: StatusUp, Timestamp: h.now().UTC()})
	}
}

// ReadinessHandler checks every dependency in parallel. It answers 503 when
// a critical dependency is down and 200 otherwise.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Check(r.Context())
		code := http.StatusOK
		if resp.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		write(w, code, resp)
	}
}

// Check runs all dependency checks and aggregates them.
func (h *Handler) Check(ctx context.Context) Response {
	h.mu.RLock()
	deps := append([]dependency(nil), h.deps...)
	h.mu.RUnlock()

	results := make([]CheckResult, len(deps))
	var g errgroup.Group
	for i, d := range deps {
		g.Go(func() error {
			results[i] = h.run(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	resp := Response{
		Status:    StatusUp,
		Timestamp: h.now().UTC(),
		Checks:    make(map[string]CheckResult, len(deps)),
	}
	for i, d := range deps {
		res := results[i]
		resp.Checks[d.name] = res
		switch {
		case res.Status == StatusUp:
		case res.Critical:
			resp.Status = StatusDown
		case resp.Status == StatusUp:
			resp.Status = StatusDegraded
		}
	}
	return resp
}

func (h *Handler) run(ctx context.Context, d dependency) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := h.now()
	err := d.check(ctx)
	res := CheckResult{
		Status:    StatusUp,
		Critical:  d.critical,
		LatencyMS: h.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		res.Status = StatusDown
		res.Error = err.Error()
	}
	return res
}

func write(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, code, resp)
}
