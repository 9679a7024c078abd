package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels classify failures across layers. Repositories and clients wrap
// them; handlers turn them into responses with FromError.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternal       = errors.New("internal error")
	ErrConflict       = errors.New("conflict")
	ErrGone           = errors.New("gone")
	ErrUnprocessable  = errors.New("unprocessable")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrBadGateway     = errors.New("bad gateway")
)

// kind is the response a sentinel maps to when no AppError carries it.
type kind struct {
	sentinel error
	status   int
	code     string
	message  string
}

// kinds is ordered; the first sentinel matched by errors.Is wins.
var kinds = []kind{
	{ErrNotFound, http.StatusNotFound, "NOT_FOUND", "resource not found"},
	{ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS", "resource already exists"},
	{ErrConflict, http.StatusConflict, "CONFLICT", "resource is busy, retry later"},
	{ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT", "invalid input"},
	{ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required"},
	{ErrForbidden, http.StatusForbidden, "FORBIDDEN", "access denied"},
	{ErrGone, http.StatusGone, "GONE", "resource is no longer available"},
	{ErrUnprocessable, http.StatusUnprocessableEntity, "UNPROCESSABLE", "request cannot be processed"},
	{ErrServiceUnavail, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service temporarily unavailable"},
	{ErrBadGateway, http.StatusBadGateway, "BAD_GATEWAY", "upstream service failed"},
}

// AppError is an error with a client-facing code, message and status.
// Details carries client-safe context such as counts or dates.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Status  int            `json:"-"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetails returns a copy of e carrying details.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

func newError(sentinel error, code, message string) *AppError {
	for _, k := range kinds {
		if k.sentinel == sentinel {
			if code == "" {
				code = k.code
			}
			return &AppError{Code: code, Message: message, Status: k.status, Err: sentinel}
		}
	}
	panic("apperrors: unregistered sentinel " + sentinel.Error())
}

func NotFound(resource, id string) *AppError {
	return newError(ErrNotFound, "", fmt.Sprintf("%s with id %s not found", resource, id))
}

func AlreadyExists(resource, field, value string) *AppError {
	return newError(ErrAlreadyExists, "", fmt.Sprintf("%s with %s %q already exists", resource, field, value))
}

func InvalidInput(message string) *AppError {
	return newError(ErrInvalidInput, "", message)
}

func Unauthorized(message string) *AppError {
	return newError(ErrUnauthorized, "", message)
}

func Forbidden(message string) *AppError {
	return newError(ErrForbidden, "", message)
}

func Conflict(message string) *AppError {
	return newError(ErrConflict, "", message)
}

func Gone(message string) *AppError {
	return newError(ErrGone, "", message)
}

// Unprocessable is a 422 with a caller-chosen code, used for business
// rejections.
func Unprocessable(code, message string) *AppError {
	return newError(ErrUnprocessable, code, message)
}

func ServiceUnavailable(message string) *AppError {
	return newError(ErrServiceUnavail, "", message)
}

// Internal is a 500 whose message never reveals err.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// FromError returns the AppError in err's chain or builds one from the
// first matching sentinel. Invalid input keeps err's text since it was
// produced from the request; other sentinels get a fixed message. Anything
// else becomes Internal.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, k := range kinds {
		if !errors.Is(err, k.sentinel) {
			continue
		}
		message := k.message
		if k.sentinel == ErrInvalidInput {
			message = err.Error()
		}
		return &AppError{Code: k.code, Message: message, Status: k.status, Err: err}
	}
	return Internal(err)
}

// HTTPStatus returns the status FromError would respond with.
func HTTPStatus(err error) int {
	return FromError(err).Status
}
