package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/LoyaltyGo/pkg/errors"
)

// maxErrorBody caps how much of a failed response is read.
const maxErrorBody = 1 << 20

// errorEnvelope is the {"error":{code,message}} body every platform
// service answers with.
type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusErrors maps downstream 4xx and 503 answers to local errors. msg is
// already prefixed with the downstream name.
var statusErrors = map[int]func(downstream, detail, msg string) *apperrors.AppError{
	http.StatusBadRequest:          func(_, _, msg string) *apperrors.AppError { return apperrors.InvalidInput(msg) },
	http.StatusUnauthorized:        func(_, _, msg string) *apperrors.AppError { return apperrors.Unauthorized(msg) },
	http.StatusForbidden:           func(_, _, msg string) *apperrors.AppError { return apperrors.Forbidden(msg) },
	http.StatusNotFound:            func(d, detail, _ string) *apperrors.AppError { return apperrors.NotFound(d, detail) },
	http.StatusConflict:            func(_, _, msg string) *apperrors.AppError { return apperrors.Conflict(msg) },
	http.StatusGone:                func(_, _, msg string) *apperrors.AppError { return apperrors.Gone(msg) },
	http.StatusUnprocessableEntity: func(_, _, msg string) *apperrors.AppError { return apperrors.Unprocessable("UNPROCESSABLE", msg) },
	http.StatusServiceUnavailable:  func(_, _, msg string) *apperrors.AppError { return apperrors.ServiceUnavailable(msg) },
}

// ParseResponseError consumes and closes a non-2xx response from downstream
// and returns the matching AppError. A code from a structured body replaces
// the local one, so callers can branch on codes such as
// INSUFFICIENT_BALANCE. Other 5xx answers wrap ErrBadGateway.
func ParseResponseError(resp *http.Response, downstream string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("%s answered %d, body unreadable: %w", downstream, resp.StatusCode, err)
	}

	code, detail := "", string(body)
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		code, detail = env.Error.Code, env.Error.Message
	}

	build, known := statusErrors[resp.StatusCode]
	if !known && resp.StatusCode >= 500 {
		return fmt.Errorf("%s server error (%d/%s): %s: %w", downstream, resp.StatusCode, code, detail, apperrors.ErrBadGateway)
	}

	msg := downstream + ": " + detail
	var appErr *apperrors.AppError
	if known {
		appErr = build(downstream, detail, msg)
	} else {
		appErr = &apperrors.AppError{Code: "DOWNSTREAM_ERROR", Message: msg, Status: resp.StatusCode}
	}
	if code != "" {
		appErr.Code = code
	}
	return appErr
}
