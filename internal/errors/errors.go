// Package errors defines the coded application errors shared by the workflow
// engine, the repositories and the transport layer.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies a specific failure.
type Code string

const (
	ErrCodeInvalidStateTransition     Code = "INVALID_STATE_TRANSITION"
	ErrCodeWrongActor                 Code = "WRONG_ACTOR"
	ErrCodeNoStepsRemaining           Code = "NO_STEPS_REMAINING"
	ErrCodeInvalidQuotationIndex      Code = "INVALID_QUOTATION_INDEX"
	ErrCodeInvalidDecision            Code = "INVALID_DECISION"
	ErrCodeInvalidInput               Code = "INVALID_INPUT"
	ErrCodeQuotationRequirementNotMet Code = "QUOTATION_REQUIREMENT_NOT_MET"
	ErrCodeQuotationNotSelected       Code = "QUOTATION_NOT_SELECTED"
	ErrCodeStaleState                 Code = "STALE_STATE"
	ErrCodeNotFound                   Code = "NOT_FOUND"
	ErrCodeConflict                   Code = "CONFLICT"
	ErrCodeInternal                   Code = "INTERNAL"
)

// Kind groups codes by how a caller should react.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindBusiness    Kind = "business"
	KindConcurrency Kind = "concurrency"
	KindNotFound    Kind = "not_found"
	KindInternal    Kind = "internal"
)

var codeKinds = map[Code]Kind{
	ErrCodeInvalidStateTransition:     KindValidation,
	ErrCodeWrongActor:                 KindValidation,
	ErrCodeNoStepsRemaining:           KindValidation,
	ErrCodeInvalidQuotationIndex:      KindValidation,
	ErrCodeInvalidDecision:            KindValidation,
	ErrCodeInvalidInput:               KindValidation,
	ErrCodeQuotationRequirementNotMet: KindBusiness,
	ErrCodeQuotationNotSelected:       KindBusiness,
	ErrCodeStaleState:                 KindConcurrency,
	ErrCodeConflict:                   KindConcurrency,
	ErrCodeNotFound:                   KindNotFound,
	ErrCodeInternal:                   KindInternal,
}

// AppError is the error type returned across package boundaries.
type AppError struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *AppError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches another AppError by code so callers can compare against sentinels
// built with New.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Kind reports the error's category; unknown codes are internal.
func (e *AppError) Kind() Kind {
	if k, ok := codeKinds[e.Code]; ok {
		return k
	}
	return KindInternal
}

// HTTPStatus maps the error to a response status.
func (e *AppError) HTTPStatus() int {
	if e.Code == ErrCodeWrongActor {
		return http.StatusForbidden
	}
	switch e.Kind() {
	case KindValidation:
		return http.StatusBadRequest
	case KindBusiness:
		return http.StatusUnprocessableEntity
	case KindConcurrency:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// New creates an AppError with the given code.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf creates an AppError with a formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// InvalidInput reports a structurally invalid field.
func InvalidInput(field, message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: message, Field: field}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// StaleState reports a lost optimistic concurrency race.
func StaleState(message string) *AppError {
	return &AppError{Code: ErrCodeStaleState, Message: message}
}

// As extracts an *AppError from err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of err, or ErrCodeInternal for foreign errors.
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
