package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeInternal     = "INTERNAL_SERVER_ERROR"
)

// Error is the one error type that crosses the procedure pipeline boundary.
// Anything else coming out of a handler is wrapped into an internal Error
// before it reaches the wire.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(code string, message string) *Error {
	return &Error{Code: code, Message: message}
}

// FieldErrors collects validation failures per input field. It doubles as
// the error cause so the formatter can surface the detail tree.
type FieldErrors map[string][]string

func (fe FieldErrors) Add(field string, message string) {
	fe[field] = append(fe[field], message)
}

func (fe FieldErrors) Error() string {
	fields := make([]string, 0, len(fe))
	for field := range fe {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "invalid input on: " + strings.Join(fields, ", ")
}

func invalidInput(fe FieldErrors) *Error {
	return &Error{Code: CodeBadRequest, Message: "invalid input", Cause: fe}
}

func httpStatus(code string) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func defaultMessage(code string) string {
	switch code {
	case CodeBadRequest:
		return "Bad request"
	case CodeUnauthorized:
		return "Unauthorized"
	case CodeNotFound:
		return "Not found"
	default:
		return "Internal server error"
	}
}

type errorData struct {
	HTTPStatus int `json:"httpStatus"`
	// FieldErrors is null unless the cause is a validation failure.
	FieldErrors FieldErrors `json:"fieldErrors"`
}

type errorShape struct {
	Message string    `json:"message"`
	Code    string    `json:"code"`
	Data    errorData `json:"data"`
}

// formatError reduces any pipeline error to the uniform wire shape. Empty
// messages fall back to the code's fixed human-readable text.
func formatError(err error) (int, errorShape) {
	rpcErr := &Error{}
	if !errors.As(err, &rpcErr) {
		rpcErr = &Error{Code: CodeInternal, Cause: err}
	}

	message := rpcErr.Message
	if message == "" {
		message = defaultMessage(rpcErr.Code)
	}

	var fieldErrs FieldErrors
	if fe := FieldErrors(nil); errors.As(err, &fe) {
		fieldErrs = fe
	}

	status := httpStatus(rpcErr.Code)
	return status, errorShape{
		Message: message,
		Code:    rpcErr.Code,
		Data: errorData{
			HTTPStatus:  status,
			FieldErrors: fieldErrs,
		},
	}
}
