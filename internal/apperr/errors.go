// Package apperr defines the error taxonomy shared by every tool, search
// service and transport adapter.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeNotFound           Code = "NOT_FOUND_ERROR"
	CodeToolCall           Code = "TOOL_CALL_ERROR"
	CodeRateLimit          Code = "RATE_LIMIT_ERROR"
	CodeDatabase           Code = "DATABASE_ERROR"
	CodeSearch             Code = "SEARCH_ERROR"
	CodeVectorSearch       Code = "VECTOR_SEARCH_ERROR"
	CodeTimeout            Code = "TIMEOUT_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeConflict           Code = "CONFLICT_ERROR"
	CodeConfig             Code = "CONFIG_ERROR"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// Error is the typed error every failure is normalized into before it
// reaches a caller.
type Error struct {
	Code        Code
	Message     string
	Status      int
	Operational bool
	Details     map[string]any
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code so callers can write
// errors.Is(err, &apperr.Error{Code: apperr.CodeNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns e with key set in its details map.
func (e *Error) WithDetail(key string, v any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = v
	return e
}

func newError(code Code, status int, operational bool, msg string, cause error) *Error {
	return &Error{
		Code:        code,
		Message:     msg,
		Status:      status,
		Operational: operational,
		Err:         cause,
	}
}

// FieldIssue is one per-field validation failure.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func Validation(msg string, issues ...FieldIssue) *Error {
	e := newError(CodeValidation, http.StatusBadRequest, true, msg, nil)
	if len(issues) > 0 {
		e.WithDetail("issues", issues)
	}
	return e
}

func NotFound(resource, id string) *Error {
	return newError(CodeNotFound, http.StatusNotFound, true, fmt.Sprintf("%s not found", resource), nil).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

func ToolCall(tool string, cause error) *Error {
	return newError(CodeToolCall, http.StatusBadRequest, true, fmt.Sprintf("tool %s failed", tool), cause).
		WithDetail("tool", tool)
}

// RateLimit reports an exhausted window; resetAt tells the caller when to retry.
func RateLimit(tool string, limit int, resetAt time.Time) *Error {
	return newError(CodeRateLimit, http.StatusTooManyRequests, true,
		fmt.Sprintf("rate limit of %d calls exceeded for %s", limit, tool), nil).
		WithDetail("tool", tool).
		WithDetail("limit", limit).
		WithDetail("resetAt", resetAt.UTC().Format(time.RFC3339))
}

func Database(msg string, cause error) *Error {
	return newError(CodeDatabase, http.StatusInternalServerError, true, msg, cause)
}

func Search(msg string, cause error) *Error {
	return newError(CodeSearch, http.StatusInternalServerError, true, msg, cause)
}

func VectorSearch(msg string, cause error) *Error {
	return newError(CodeVectorSearch, http.StatusInternalServerError, true, msg, cause)
}

func Timeout(msg string, cause error) *Error {
	return newError(CodeTimeout, http.StatusRequestTimeout, true, msg, cause)
}

func ServiceUnavailable(msg string, cause error) *Error {
	return newError(CodeServiceUnavailable, http.StatusServiceUnavailable, true, msg, cause)
}

func Conflict(msg string) *Error {
	return newError(CodeConflict, http.StatusConflict, true, msg, nil)
}

// Config errors are fatal at startup and never operational.
func Config(msg string, cause error) *Error {
	return newError(CodeConfig, http.StatusInternalServerError, false, msg, cause)
}

func Internal(msg string, cause error) *Error {
	return newError(CodeInternal, http.StatusInternalServerError, false, msg, cause)
}

// Normalize converts any error into the taxonomy. Errors that already carry
// a code are returned unchanged.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout("operation timed out", err)
	case errors.Is(err, context.Canceled):
		return ServiceUnavailable("operation canceled", err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "sqlite") || strings.Contains(msg, "database") || strings.Contains(msg, "sql:") {
		return Database("database operation failed", err)
	}
	if strings.Contains(msg, "timeout") {
		return Timeout("operation timed out", err)
	}
	return Internal("internal error", err)
}

// CodeOf returns the taxonomy code of err, or "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return Normalize(err).Code
}

// Body is the public error payload. It never includes the wrapped cause.
type Body struct {
	Code       Code           `json:"code"`
	Message    string         `json:"message"`
	StatusCode int            `json:"statusCode"`
	Details    map[string]any `json:"details,omitempty"`
}

// Public renders the caller-visible part of err.
func Public(err error) Body {
	e := Normalize(err)
	return Body{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.Status,
		Details:    e.Details,
	}
}
