package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/LoyaltyGo/internal/service"
	"github.com/utafrali/LoyaltyGo/pkg/health"
	"github.com/utafrali/LoyaltyGo/pkg/middleware"
)

const (
	serviceName        = "voucher"
	defaultTimeout     = 30 * time.Second
	templatesCacheAgeS = 3600
	compressionLevel   = 5
)

// RouterConfig holds the transport-level settings of the router.
type RouterConfig struct {
	CORS           middleware.CORSConfig
	PprofCIDRs     []string
	RequestTimeout time.Duration
}

// NewRouter creates a chi router with all voucher service routes registered.
func NewRouter(
	voucherService *service.VoucherService,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(chimw.Compress(compressionLevel))
	r.Use(chimw.Timeout(cfg.RequestTimeout))
	r.Use(middleware.NewHTTPMetrics(prometheus.DefaultRegisterer, serviceName, "/health/live", "/health/ready", "/metrics").Handler)
	r.Use(middleware.Identity())

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	if len(cfg.PprofCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)
	}

	voucherHandler := NewVoucherHandler(voucherService, logger)

	r.Route("/vouchers", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.With(middleware.CacheControl(templatesCacheAgeS)).Get("/templates", voucherHandler.Templates)

		// Everything else reflects live quota state.
		r.Group(func(r chi.Router) {
			r.Use(middleware.NoStore)

			r.Post("/create", voucherHandler.CreateVoucher)
			r.Post("/gift-card", voucherHandler.CreateGiftCard)
			r.Post("/redeem", voucherHandler.Redeem)
			r.Post("/preview", voucherHandler.Preview)
			r.Post("/generate-codes", voucherHandler.GenerateCodes)

			r.Get("/check/{code}", voucherHandler.CheckCode)
			r.Get("/merchant/{merchantId}", voucherHandler.ListMerchantVouchers)
			r.Get("/merchant/{merchantId}/export", voucherHandler.ExportMerchantVouchers)
			r.Get("/stats/{voucherId}", voucherHandler.Stats)
			r.Get("/customer/{customerId}", voucherHandler.CustomerHistory)

			r.Get("/{voucherId}", voucherHandler.GetVoucher)
			r.Put("/{voucherId}", voucherHandler.UpdateVoucher)
			r.Post("/{voucherId}/deactivate", voucherHandler.DeactivateVoucher)
			r.Post("/{voucherId}/activate", voucherHandler.ActivateVoucher)
		})
	})

	return r
}
