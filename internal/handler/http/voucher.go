package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/LoyaltyGo/internal/domain"
	"github.com/utafrali/LoyaltyGo/internal/repository"
	"github.com/utafrali/LoyaltyGo/internal/service"
	apperrors "github.com/utafrali/LoyaltyGo/pkg/errors"
	"github.com/utafrali/LoyaltyGo/pkg/httputil"
	"github.com/utafrali/LoyaltyGo/pkg/middleware"
	"github.com/utafrali/LoyaltyGo/pkg/pagination"
	"github.com/utafrali/LoyaltyGo/pkg/validator"
)

// HeaderIdempotencyKey may carry the redemption attempt id instead of the body.
const HeaderIdempotencyKey = "Idempotency-Key"

// VoucherHandler handles HTTP requests for voucher endpoints.
type VoucherHandler struct {
	service *service.VoucherService
	logger  *slog.Logger
}

// NewVoucherHandler creates a new voucher HTTP handler.
func NewVoucherHandler(svc *service.VoucherService, logger *slog.Logger) *VoucherHandler {
	return &VoucherHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateVoucherRequest is the JSON request body for creating a voucher campaign.
type CreateVoucherRequest struct {
	MerchantID            string          `json:"merchantId" validate:"omitempty,max=64"`
	Kind                  string          `json:"kind" validate:"required,oneof=GIFT_CARD VOUCHER COUPON"`
	Name                  string          `json:"name" validate:"required,min=1,max=255"`
	Description           string          `json:"description" validate:"max=2000"`
	ValueType             string          `json:"valueType" validate:"required,oneof=POINTS PERCENT FIXED_AMOUNT"`
	Value                 int64           `json:"value" validate:"required,gt=0"`
	Quantity              int             `json:"quantity" validate:"gte=0"`
	ValidFrom             *time.Time      `json:"validFrom"`
	ValidUntil            *time.Time      `json:"validUntil"`
	MinPurchaseAmount     decimal.Decimal `json:"minPurchaseAmount" validate:"gte=0"`
	MaxUsesPerCustomer    int             `json:"maxUsesPerCustomer" validate:"gte=0"`
	MaxTotalUses          int             `json:"maxTotalUses" validate:"gte=0"`
	ApplicableProductIDs  []string        `json:"applicableProductIds" validate:"omitempty,dive,required"`
	ApplicableCategoryIDs []string        `json:"applicableCategoryIds" validate:"omitempty,dive,required"`
	Metadata              map[string]any  `json:"metadata"`
}

// CreateGiftCardRequest is the JSON request body for issuing a gift card.
type CreateGiftCardRequest struct {
	MerchantID     string     `json:"merchantId" validate:"omitempty,max=64"`
	PurchaserID    string     `json:"purchaserId" validate:"omitempty,max=64"`
	Value          int64      `json:"value" validate:"required,gt=0"`
	Name           string     `json:"name" validate:"max=255"`
	Description    string     `json:"description" validate:"max=2000"`
	ValidUntil     *time.Time `json:"validUntil"`
	RecipientName  string     `json:"recipientName" validate:"max=255"`
	RecipientPhone string     `json:"recipientPhone" validate:"omitempty,e164"`
	RecipientEmail string     `json:"recipientEmail" validate:"omitempty,email"`
	SenderName     string     `json:"senderName" validate:"max=255"`
	Message        string     `json:"message" validate:"max=1000"`
}

// RedeemRequest is the JSON request body for redeeming a code.
type RedeemRequest struct {
	Code           string           `json:"code" validate:"required,vcode"`
	MerchantID     string           `json:"merchantId" validate:"omitempty,max=64"`
	CustomerID     string           `json:"customerId" validate:"omitempty,max=64"`
	PurchaseAmount *decimal.Decimal `json:"purchaseAmount"`
	AttemptID      string           `json:"attemptId" validate:"omitempty,max=128"`
	OrderID        string           `json:"orderId" validate:"omitempty,max=128"`
	Metadata       map[string]any   `json:"metadata"`
}

// PreviewRequest is the JSON request body for quoting a redemption.
type PreviewRequest struct {
	Code           string           `json:"code" validate:"required,vcode"`
	MerchantID     string           `json:"merchantId" validate:"omitempty,max=64"`
	PurchaseAmount *decimal.Decimal `json:"purchaseAmount"`
}

// GenerateCodesRequest is the JSON request body for topping up codes.
type GenerateCodesRequest struct {
	VoucherID  string `json:"voucherId" validate:"required"`
	MerchantID string `json:"merchantId" validate:"omitempty,max=64"`
	Count      int    `json:"count" validate:"required,gt=0"`
}

// UpdateVoucherRequest is the JSON request body for patching a voucher.
type UpdateVoucherRequest struct {
	MerchantID            string           `json:"merchantId" validate:"omitempty,max=64"`
	Name                  *string          `json:"name" validate:"omitempty,min=1,max=255"`
	Description           *string          `json:"description" validate:"omitempty,max=2000"`
	Kind                  *string          `json:"kind" validate:"omitempty,oneof=GIFT_CARD VOUCHER COUPON"`
	ValueType             *string          `json:"valueType" validate:"omitempty,oneof=POINTS PERCENT FIXED_AMOUNT"`
	Value                 *int64           `json:"value" validate:"omitempty,gt=0"`
	ValidFrom             *time.Time       `json:"validFrom"`
	ValidUntil            *time.Time       `json:"validUntil"`
	MinPurchaseAmount     *decimal.Decimal `json:"minPurchaseAmount"`
	MaxUsesPerCustomer    *int             `json:"maxUsesPerCustomer" validate:"omitempty,gt=0"`
	MaxTotalUses          *int             `json:"maxTotalUses" validate:"omitempty,gt=0"`
	Status                *string          `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE"`
	ApplicableProductIDs  []string         `json:"applicableProductIds" validate:"omitempty,dive,required"`
	ApplicableCategoryIDs []string         `json:"applicableCategoryIds" validate:"omitempty,dive,required"`
	Metadata              map[string]any   `json:"metadata"`
}

// MerchantActionRequest is the optional body of activate and deactivate.
type MerchantActionRequest struct {
	MerchantID string `json:"merchantId" validate:"omitempty,max=64"`
}

// --- Handlers ---

// CreateVoucher handles POST /vouchers/create
func (h *VoucherHandler) CreateVoucher(w http.ResponseWriter, r *http.Request) {
	var req CreateVoucherRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	merchantID, ok := h.merchantScope(w, r, req.MerchantID)
	if !ok {
		return
	}

	issued, err := h.service.CreateVoucher(r.Context(), &service.CreateVoucherInput{
		MerchantID:            merchantID,
		Kind:                  domain.Kind(req.Kind),
		Name:                  req.Name,
		Description:           req.Description,
		ValueType:             domain.ValueType(req.ValueType),
		Value:                 req.Value,
		Quantity:              req.Quantity,
		ValidFrom:             req.ValidFrom,
		ValidUntil:            req.ValidUntil,
		MinPurchaseAmount:     req.MinPurchaseAmount,
		MaxUsesPerCustomer:    req.MaxUsesPerCustomer,
		MaxTotalUses:          req.MaxTotalUses,
		ApplicableProductIDs:  req.ApplicableProductIDs,
		ApplicableCategoryIDs: req.ApplicableCategoryIDs,
		Metadata:              req.Metadata,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: issued})
}

// CreateGiftCard handles POST /vouchers/gift-card
func (h *VoucherHandler) CreateGiftCard(w http.ResponseWriter, r *http.Request) {
	var req CreateGiftCardRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	merchantID, ok := h.merchantScope(w, r, req.MerchantID)
	if !ok {
		return
	}
	purchaserID := firstNonEmpty(req.PurchaserID, middleware.UserIDFromContext(r.Context()))

	issued, err := h.service.CreateGiftCard(r.Context(), &service.CreateGiftCardInput{
		MerchantID:     merchantID,
		PurchaserID:    purchaserID,
		Value:          req.Value,
		Name:           req.Name,
		Description:    req.Description,
		ValidUntil:     req.ValidUntil,
		RecipientName:  req.RecipientName,
		RecipientPhone: req.RecipientPhone,
		RecipientEmail: req.RecipientEmail,
		SenderName:     req.SenderName,
		Message:        req.Message,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: issued})
}

// Redeem handles POST /vouchers/redeem
func (h *VoucherHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	customerID := firstNonEmpty(req.CustomerID, middleware.UserIDFromContext(r.Context()))
	if customerID == "" {
		h.writeError(w, r, apperrors.InvalidInput("customerId is required"))
		return
	}

	redemption, err := h.service.Redeem(r.Context(), &service.RedeemInput{
		Code:           req.Code,
		MerchantID:     firstNonEmpty(req.MerchantID, middleware.MerchantIDFromContext(r.Context())),
		CustomerID:     customerID,
		PurchaseAmount: req.PurchaseAmount,
		AttemptID:      firstNonEmpty(req.AttemptID, strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))),
		OrderID:        req.OrderID,
		Metadata:       req.Metadata,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: redemption})
}

// Preview handles POST /vouchers/preview
func (h *VoucherHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	quote, err := h.service.PreviewRedemption(r.Context(), &service.PreviewInput{
		Code:           req.Code,
		MerchantID:     firstNonEmpty(req.MerchantID, middleware.MerchantIDFromContext(r.Context())),
		PurchaseAmount: req.PurchaseAmount,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: quote})
}

// CheckCode handles GET /vouchers/check/{code}
func (h *VoucherHandler) CheckCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	merchantID := firstNonEmpty(r.URL.Query().Get("merchantId"), middleware.MerchantIDFromContext(r.Context()))

	result, err := h.service.CheckCode(r.Context(), code, merchantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// ListMerchantVouchers handles GET /vouchers/merchant/{merchantId}
func (h *VoucherHandler) ListMerchantVouchers(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)
	filter := repository.VoucherFilter{
		MerchantID: chi.URLParam(r, "merchantId"),
		Page:       params.Page,
		PerPage:    params.PerPage,
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := domain.Status(strings.ToUpper(v))
		if !status.Valid() {
			h.writeError(w, r, apperrors.InvalidInput("status must be ACTIVE or INACTIVE"))
			return
		}
		filter.Status = &status
	}
	if v := r.URL.Query().Get("kind"); v != "" {
		kind := domain.Kind(strings.ToUpper(v))
		if !kind.Valid() {
			h.writeError(w, r, apperrors.InvalidInput("kind must be GIFT_CARD, VOUCHER or COUPON"))
			return
		}
		filter.Kind = &kind
	}

	vouchers, total, err := h.service.ListVouchers(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(vouchers, total, params))
}

// ExportMerchantVouchers handles GET /vouchers/merchant/{merchantId}/export
func (h *VoucherHandler) ExportMerchantVouchers(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantId")

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="vouchers-`+merchantID+`.csv"`)
	if err := h.service.ExportVouchers(r.Context(), merchantID, w); err != nil {
		// Headers may already be out; the truncated body is all we can do.
		h.logger.ErrorContext(r.Context(), "voucher export failed",
			slog.String("merchant_id", merchantID),
			slog.String("error", err.Error()),
		)
	}
}

// Stats handles GET /vouchers/stats/{voucherId}
func (h *VoucherHandler) Stats(w http.ResponseWriter, r *http.Request) {
	merchantID := firstNonEmpty(middleware.MerchantIDFromContext(r.Context()), r.URL.Query().Get("merchantId"))
	if merchantID == "" {
		h.writeError(w, r, apperrors.InvalidInput("merchantId is required"))
		return
	}

	stats, err := h.service.VoucherStats(r.Context(), merchantID, chi.URLParam(r, "voucherId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: stats})
}

// CustomerHistory handles GET /vouchers/customer/{customerId}
func (h *VoucherHandler) CustomerHistory(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)

	items, total, err := h.service.CustomerHistory(r.Context(), chi.URLParam(r, "customerId"), params.Page, params.PerPage)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(items, total, params))
}

// GenerateCodes handles POST /vouchers/generate-codes
func (h *VoucherHandler) GenerateCodes(w http.ResponseWriter, r *http.Request) {
	var req GenerateCodesRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	merchantID, ok := h.merchantScope(w, r, req.MerchantID)
	if !ok {
		return
	}

	issued, err := h.service.GeneratePromoCodes(r.Context(), merchantID, req.VoucherID, req.Count)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: issued})
}

// GetVoucher handles GET /vouchers/{voucherId}
func (h *VoucherHandler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	merchantID := firstNonEmpty(middleware.MerchantIDFromContext(r.Context()), r.URL.Query().Get("merchantId"))
	if merchantID == "" {
		h.writeError(w, r, apperrors.InvalidInput("merchantId is required"))
		return
	}

	v, err := h.service.GetVoucher(r.Context(), merchantID, chi.URLParam(r, "voucherId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: v})
}

// UpdateVoucher handles PUT /vouchers/{voucherId}
func (h *VoucherHandler) UpdateVoucher(w http.ResponseWriter, r *http.Request) {
	var req UpdateVoucherRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	merchantID, ok := h.merchantScope(w, r, req.MerchantID)
	if !ok {
		return
	}

	input := &service.UpdateVoucherInput{
		Name:                  req.Name,
		Description:           req.Description,
		Value:                 req.Value,
		ValidFrom:             req.ValidFrom,
		ValidUntil:            req.ValidUntil,
		MinPurchaseAmount:     req.MinPurchaseAmount,
		MaxUsesPerCustomer:    req.MaxUsesPerCustomer,
		MaxTotalUses:          req.MaxTotalUses,
		ApplicableProductIDs:  req.ApplicableProductIDs,
		ApplicableCategoryIDs: req.ApplicableCategoryIDs,
		Metadata:              req.Metadata,
	}
	if req.Kind != nil {
		kind := domain.Kind(*req.Kind)
		input.Kind = &kind
	}
	if req.ValueType != nil {
		vt := domain.ValueType(*req.ValueType)
		input.ValueType = &vt
	}
	if req.Status != nil {
		status := domain.Status(*req.Status)
		input.Status = &status
	}

	v, err := h.service.UpdateVoucher(r.Context(), merchantID, chi.URLParam(r, "voucherId"), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: v})
}

// DeactivateVoucher handles POST /vouchers/{voucherId}/deactivate
func (h *VoucherHandler) DeactivateVoucher(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.service.DeactivateVoucher)
}

// ActivateVoucher handles POST /vouchers/{voucherId}/activate
func (h *VoucherHandler) ActivateVoucher(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.service.ActivateVoucher)
}

// Templates handles GET /vouchers/templates
func (h *VoucherHandler) Templates(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.service.Templates()})
}

type statusChange func(ctx context.Context, merchantID, voucherID string) (*domain.Voucher, error)

func (h *VoucherHandler) changeStatus(w http.ResponseWriter, r *http.Request, change statusChange) {
	var req MerchantActionRequest
	if r.ContentLength > 0 {
		if err := validator.DecodeAndValidate(r, &req); err != nil {
			httputil.WriteValidationError(w, err)
			return
		}
	}

	merchantID, ok := h.merchantScope(w, r, req.MerchantID)
	if !ok {
		return
	}

	v, err := change(r.Context(), merchantID, chi.URLParam(r, "voucherId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: v})
}

// merchantScope resolves the merchant a mutation acts for. The identity
// forwarded by the gateway wins over the body.
func (h *VoucherHandler) merchantScope(w http.ResponseWriter, r *http.Request, fromBody string) (string, bool) {
	merchantID := firstNonEmpty(middleware.MerchantIDFromContext(r.Context()), strings.TrimSpace(fromBody))
	if merchantID == "" {
		h.writeError(w, r, apperrors.InvalidInput("merchantId is required"))
		return "", false
	}
	return merchantID, true
}

// writeError converts rejections to their client-facing shape before the
// shared error writer sees them.
func (h *VoucherHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if rej, ok := domain.AsRejection(err); ok {
		if rej.Err != nil {
			h.logger.WarnContext(r.Context(), "rejection with cause",
				slog.String("code", string(rej.Kind)),
				slog.String("error", rej.Err.Error()),
			)
		}
		err = rej.ToAppError()
	}
	httputil.WriteError(w, r, err, h.logger)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
