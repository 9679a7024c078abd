package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"

	apperrors "github.com/utafrali/LoyaltyGo/pkg/errors"
)

// Doer is satisfied by Client and CircuitBreakerClient. Outbound gateways
// depend on it so tests can substitute a stub.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// ErrCircuitOpen is wrapped into every request the breaker refuses to send.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerConfig tunes the breaker in front of one downstream.
type BreakerConfig struct {
	// Downstream names the dependency in logs and metric labels.
	Downstream string

	// HalfOpenProbes is how many requests may test a half-open breaker.
	HalfOpenProbes uint32

	// CountWindow clears the closed-state counters; 0 keeps them forever.
	CountWindow time.Duration

	// OpenFor is how long the breaker refuses traffic after tripping.
	OpenFor time.Duration

	// FailureRatio trips the breaker once MinRequests have been observed.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig returns the settings used for the ledger and the
// merchant directory unless overridden by configuration.
func DefaultBreakerConfig(downstream string) BreakerConfig {
	return BreakerConfig{
		Downstream:     downstream,
		HalfOpenProbes: 1,
		CountWindow:    time.Minute,
		OpenFor:        15 * time.Second,
		FailureRatio:   0.5,
		MinRequests:    5,
	}
}

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "downstream_breaker_state",
			Help: "Breaker state per downstream (0=closed, 1=half-open, 2=open)",
		},
		[]string{"downstream"},
	)

	breakerRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downstream_breaker_rejected_total",
			Help: "Requests refused without a call because the breaker was open",
		},
		[]string{"downstream"},
	)
)

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// CircuitBreakerClient sends requests through a Client guarded by a breaker.
// 5xx responses and transport errors count as failures; 4xx responses and
// requests abandoned by the caller do not.
type CircuitBreakerClient struct {
	client     *Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	logger     *slog.Logger
	downstream string
}

// NewCircuitBreakerClient wraps client with a breaker configured by cfg.
func NewCircuitBreakerClient(client *Client, cfg BreakerConfig, logger *slog.Logger) *CircuitBreakerClient {
	settings := gobreaker.Settings{
		Name:        cfg.Downstream,
		MaxRequests: cfg.HalfOpenProbes,
		Interval:    cfg.CountWindow,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("downstream breaker state change",
				slog.String("downstream", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateValue(to))
		},
	}
	breakerState.WithLabelValues(cfg.Downstream).Set(0)

	return &CircuitBreakerClient{
		client:     client,
		breaker:    gobreaker.NewCircuitBreaker[*http.Response](settings),
		logger:     logger,
		downstream: cfg.Downstream,
	}
}

// Do executes req through the breaker. A refused request returns a 503
// AppError that also matches ErrCircuitOpen.
func (c *CircuitBreakerClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.client.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%s: server error %d: %s: %w", c.downstream, resp.StatusCode, body, apperrors.ErrBadGateway)
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		breakerRejected.WithLabelValues(c.downstream).Inc()
		c.logger.WarnContext(ctx, "downstream request refused by breaker",
			slog.String("downstream", c.downstream),
			slog.String("path", req.URL.Path),
		)
		unavailable := apperrors.ServiceUnavailable(c.downstream + " is temporarily unavailable")
		return nil, fmt.Errorf("%w: %w", unavailable, ErrCircuitOpen)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// State reports the breaker state; used by tests and health output.
func (c *CircuitBreakerClient) State() gobreaker.State {
	return c.breaker.State()
}
