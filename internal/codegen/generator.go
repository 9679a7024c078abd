// Package codegen mints globally unique, kind-prefixed redemption codes.
package codegen

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/LoyaltyGo/internal/domain"
	"github.com/utafrali/LoyaltyGo/pkg/slug"
)

const (
	suffixBytes        = 4 // 8 hex characters
	defaultMaxAttempts = 10
	couponFallback     = "CP"
)

var (
	codesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vouchers_codes_generated_total",
		Help: "Total number of redemption codes generated, by voucher kind.",
	}, []string{"kind"})

	codeCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vouchers_codegen_collisions_total",
		Help: "Total number of generated code candidates rejected as duplicates.",
	})
)

// CodeChecker reports which of the candidate codes already exist in the
// global code set.
type CodeChecker interface {
	ExistingCodes(ctx context.Context, codes []string) ([]string, error)
}

// MerchantNamer resolves a merchant's display name.
type MerchantNamer interface {
	MerchantName(ctx context.Context, merchantID string) (string, error)
}

// Generator produces redemption codes of the form <prefix><8 hex chars>.
type Generator struct {
	checker     CodeChecker
	namer       MerchantNamer
	maxAttempts int
	random      io.Reader
	logger      *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithMaxAttempts caps how many candidate rounds are tried before giving up.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithRandom replaces the entropy source.
func WithRandom(r io.Reader) Option {
	return func(g *Generator) { g.random = r }
}

// New creates a Generator.
func New(checker CodeChecker, namer MerchantNamer, logger *slog.Logger, opts ...Option) *Generator {
	g := &Generator{
		checker:     checker,
		namer:       namer,
		maxAttempts: defaultMaxAttempts,
		random:      rand.Reader,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns one new code for the merchant and kind.
func (g *Generator) Generate(ctx context.Context, merchantID string, kind domain.Kind) (string, error) {
	codes, err := g.GenerateBatch(ctx, merchantID, kind, 1)
	if err != nil {
		return "", err
	}
	return codes[0], nil
}

// GenerateBatch returns n codes that are unique among themselves and absent
// from the global code set at the time of the check. Candidates that collide
// are regenerated; after maxAttempts rounds the call fails with
// CODE_SPACE_EXHAUSTED.
func (g *Generator) GenerateBatch(ctx context.Context, merchantID string, kind domain.Kind, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	prefix := g.prefix(ctx, merchantID, kind)

	accepted := make([]string, 0, n)
	seen := make(map[string]struct{}, n)

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		need := n - len(accepted)
		candidates := make([]string, 0, need)
		for i := 0; i < need; i++ {
			code, err := g.candidate(prefix)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[code]; dup {
				codeCollisions.Inc()
				continue
			}
			seen[code] = struct{}{}
			candidates = append(candidates, code)
		}
		if len(candidates) == 0 {
			continue
		}

		existing, err := g.checker.ExistingCodes(ctx, candidates)
		if err != nil {
			return nil, fmt.Errorf("check code uniqueness: %w", err)
		}
		taken := make(map[string]struct{}, len(existing))
		for _, c := range existing {
			taken[c] = struct{}{}
		}
		for _, c := range candidates {
			if _, ok := taken[c]; ok {
				codeCollisions.Inc()
				continue
			}
			accepted = append(accepted, c)
		}

		if len(accepted) == n {
			codesGenerated.WithLabelValues(string(kind)).Add(float64(n))
			return accepted, nil
		}
		g.logger.WarnContext(ctx, "generated codes collided, retrying",
			slog.Int("missing", n-len(accepted)),
			slog.Int("attempt", attempt),
		)
	}

	return nil, domain.Reject(domain.RejectCodeSpaceExhausted, domain.MsgCodeSpaceExhausted).
		WithDetails(map[string]any{"attempts": g.maxAttempts})
}

// prefix picks the two-letter code prefix for a kind. Coupon prefixes come
// from the merchant name; a lookup failure falls back to CP.
func (g *Generator) prefix(ctx context.Context, merchantID string, kind domain.Kind) string {
	switch kind {
	case domain.KindGiftCard:
		return "GC"
	case domain.KindVoucher:
		return "VC"
	}

	if g.namer == nil || merchantID == "" {
		return couponFallback
	}
	name, err := g.namer.MerchantName(ctx, merchantID)
	if err != nil {
		g.logger.WarnContext(ctx, "merchant name lookup failed, using fallback prefix",
			slog.String("merchant_id", merchantID),
			slog.String("error", err.Error()),
		)
		return couponFallback
	}
	return slug.Initials(name, 2, couponFallback)
}

func (g *Generator) candidate(prefix string) (string, error) {
	buf := make([]byte, suffixBytes)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", fmt.Errorf("read random suffix: %w", err)
	}
	return prefix + strings.ToUpper(hex.EncodeToString(buf)), nil
}
