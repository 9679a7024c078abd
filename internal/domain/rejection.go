package domain

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/utafrali/LoyaltyGo/pkg/errors"
)

// RejectionKind classifies why a voucher operation was refused. Rejections
// are expected business outcomes, not faults.
type RejectionKind string

const (
	RejectInvalidCode                RejectionKind = "INVALID_CODE"
	RejectMerchantMismatch           RejectionKind = "MERCHANT_MISMATCH"
	RejectOutOfValidityWindow        RejectionKind = "OUT_OF_VALIDITY_WINDOW"
	RejectCampaignInactive           RejectionKind = "CAMPAIGN_INACTIVE"
	RejectQuotaExhaustedGlobal       RejectionKind = "QUOTA_EXHAUSTED_GLOBAL"
	RejectQuotaExhaustedPerCustomer  RejectionKind = "QUOTA_EXHAUSTED_PER_CUSTOMER"
	RejectQuotaExhaustedTotal        RejectionKind = "QUOTA_EXHAUSTED_TOTAL"
	RejectMinPurchaseNotMet          RejectionKind = "MIN_PURCHASE_NOT_MET"
	RejectPurchaseAmountRequired     RejectionKind = "PURCHASE_AMOUNT_REQUIRED"
	RejectCodeSpaceExhausted         RejectionKind = "CODE_SPACE_EXHAUSTED"
	RejectCampaignNotFound           RejectionKind = "CAMPAIGN_NOT_FOUND"
	RejectPartialFailurePointsCredit RejectionKind = "PARTIAL_FAILURE_POINTS_CREDIT"
	RejectInsufficientBalance        RejectionKind = "INSUFFICIENT_BALANCE"
)

var rejectionStatus = map[RejectionKind]int{
	RejectInvalidCode:                http.StatusNotFound,
	RejectMerchantMismatch:           http.StatusForbidden,
	RejectOutOfValidityWindow:        http.StatusUnprocessableEntity,
	RejectCampaignInactive:           http.StatusUnprocessableEntity,
	RejectQuotaExhaustedGlobal:       http.StatusConflict,
	RejectQuotaExhaustedPerCustomer:  http.StatusConflict,
	RejectQuotaExhaustedTotal:        http.StatusConflict,
	RejectMinPurchaseNotMet:          http.StatusUnprocessableEntity,
	RejectPurchaseAmountRequired:     http.StatusBadRequest,
	RejectCodeSpaceExhausted:         http.StatusServiceUnavailable,
	RejectCampaignNotFound:           http.StatusNotFound,
	RejectPartialFailurePointsCredit: http.StatusBadGateway,
	RejectInsufficientBalance:        http.StatusUnprocessableEntity,
}

// Status returns the HTTP status a rejection of this kind is reported with.
func (k RejectionKind) Status() int {
	if s, ok := rejectionStatus[k]; ok {
		return s
	}
	return http.StatusUnprocessableEntity
}

// RejectionError is a typed, client-facing refusal. Message is shown to the
// end user as-is and never contains internal identifiers.
type RejectionError struct {
	Kind    RejectionKind
	Message string
	Details map[string]any
	// Err is an optional infrastructure cause. It is logged, never returned
	// to the client.
	Err error
}

// Reject builds a RejectionError.
func Reject(kind RejectionKind, message string) *RejectionError {
	return &RejectionError{Kind: kind, Message: message}
}

// Rejectf builds a RejectionError with a formatted message.
func Rejectf(kind RejectionKind, format string, args ...any) *RejectionError {
	return &RejectionError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *RejectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

// ExpectedOutcome reports that a rejection is a business result, so query
// tracing does not flag the span as failed.
func (e *RejectionError) ExpectedOutcome() bool {
	return true
}

// WithDetails returns a copy of e carrying details.
func (e *RejectionError) WithDetails(details map[string]any) *RejectionError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause returns a copy of e wrapping err.
func (e *RejectionError) WithCause(err error) *RejectionError {
	cp := *e
	cp.Err = err
	return &cp
}

// ToAppError converts the rejection to the transport error shape.
func (e *RejectionError) ToAppError() *apperrors.AppError {
	return &apperrors.AppError{
		Code:    string(e.Kind),
		Message: e.Message,
		Status:  e.Kind.Status(),
		Details: e.Details,
		Err:     e,
	}
}

// AsRejection extracts a RejectionError from err's chain.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// IsRejection reports whether err is a rejection of the given kind.
func IsRejection(err error, kind RejectionKind) bool {
	rej, ok := AsRejection(err)
	return ok && rej.Kind == kind
}

// Shared user-facing messages.
const (
	MsgCodeValid           = "Код действителен"
	MsgCodeNotFound        = "Код не найден или уже использован"
	MsgCodeExpired         = "Срок действия кода истек"
	MsgVoucherInactive     = "Ваучер неактивен"
	MsgAllCodesUsed        = "Все коды уже использованы"
	MsgWrongMerchant       = "Код не принадлежит этому магазину"
	MsgTotalLimitReached   = "Лимит использований ваучера исчерпан"
	MsgPurchaseRequired    = "Для этого ваучера нужно указать сумму покупки"
	MsgCampaignNotFound    = "Ваучер не найден"
	MsgCodeSpaceExhausted  = "Не удалось сгенерировать уникальный код, попробуйте позже"
	MsgCreditPending       = "Ваучер использован, начисление баллов будет выполнено позже"
	MsgInsufficientBalance = "Недостаточно баллов для покупки подарочной карты"
	MsgRedeemBusy          = "Ваучер сейчас используется слишком часто, попробуйте еще раз"
)
