package handler

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
)

const internalMessage = "internal error"

// httpStatus maps an application error code to an HTTP status.
func httpStatus(code errors.Code) int {
	switch code {
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Code    errors.Code   `json:"code"`
	Reason  errors.Reason `json:"reason,omitempty"`
	Field   string        `json:"field,omitempty"`
	Message string        `json:"message"`
}

func toErrorBody(err error) errorBody {
	appErr, ok := errors.From(err)
	if !ok || appErr.Code == errors.ErrCodeInternal {
		return errorBody{Code: errors.ErrCodeInternal, Message: internalMessage}
	}
	return errorBody{
		Code:    appErr.Code,
		Reason:  appErr.Reason,
		Field:   appErr.Field,
		Message: appErr.Message,
	}
}

// mapErrorToGRPC maps an application error to a gRPC status.
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	body := toErrorBody(err)

	var code codes.Code
	switch body.Code {
	case errors.ErrCodeInvalidInput:
		code = codes.InvalidArgument
	case errors.ErrCodeNotFound:
		code = codes.NotFound
	case errors.ErrCodeForbidden:
		code = codes.PermissionDenied
	case errors.ErrCodeConflict:
		code = codes.FailedPrecondition
		if body.Reason == errors.ReasonLockTimeout {
			code = codes.Aborted
		}
	case errors.ErrCodeInsufficientFunds:
		code = codes.ResourceExhausted
	default:
		code = codes.Internal
	}

	msg := body.Message
	if body.Reason != "" {
		msg = string(body.Reason) + ": " + msg
	}
	return status.Error(code, msg)
}
