package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Code identifies one member of the closed error taxonomy. Every failure
// crossing a component boundary carries exactly one Code; providers never
// surface free-form errors.
type Code string

// The taxonomy.
const (
	CodeInvalidRequest     Code = "invalid_request"
	CodeModelNotFound      Code = "model_not_found"
	CodeAuthMissing        Code = "auth_missing"
	CodeAuthRejected       Code = "auth_rejected"
	CodeRateLimited        Code = "rate_limited"
	CodeTransientNetwork   Code = "transient_network"
	CodeUpstreamServer     Code = "upstream_server_error"
	CodeContextOverflow    Code = "context_overflow"
	CodeCapabilityMismatch Code = "capability_mismatch"
	CodeBudgetExhausted    Code = "budget_exhausted"
	CodeCancelled          Code = "cancelled"
	CodeTimeout            Code = "timeout"
	CodeProviderProtocol   Code = "provider_protocol_error"
	CodeCatalogIncomplete  Code = "catalog_incomplete"
	CodeNoEligibleModel    Code = "no_eligible_model"
)

// Error is the single error type exchanged between components.
type Error struct {
	Code     Code
	Provider string
	Model    string
	Message  string
	// RetryAfter is the vendor-requested backoff for rate_limited errors.
	// Zero means the vendor did not specify one.
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Provider != "" {
		b.WriteString(" [")
		b.WriteString(e.Provider)
		if e.Model != "" {
			b.WriteString("/")
			b.WriteString(e.Model)
		}
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, &Error{Code: c}) match on code alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Errf builds a taxonomy error with a formatted message.
func Errf(code Code, provider, model, format string, args ...any) *Error {
	return &Error{Code: code, Provider: provider, Model: model, Message: fmt.Sprintf(format, args...)}
}

// WrapErr attaches provider/model attribution and a code to an underlying error.
func WrapErr(code Code, provider, model string, cause error) *Error {
	return &Error{Code: code, Provider: provider, Model: model, Cause: cause}
}

// CodeOf extracts the taxonomy code from err. Context cancellation and
// deadline errors map to cancelled/timeout; anything else untagged is
// treated as transient network failure (the conservative retryable bucket).
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CodeTimeout
	}
	return CodeTransientNetwork
}

// Retryable reports whether the failure may succeed on the same candidate
// after a backoff.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeRateLimited, CodeTransientNetwork, CodeUpstreamServer:
		return true
	}
	return false
}

// FatalForRequest reports whether the failure ends the whole dispatch:
// no further candidates are attempted.
func FatalForRequest(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidRequest, CodeBudgetExhausted, CodeCancelled, CodeTimeout,
		CodeProviderProtocol, CodeCatalogIncomplete, CodeNoEligibleModel:
		return true
	}
	return false
}

// FatalForModel reports whether the failure rules out the current candidate
// but the next one in the chain may still serve the request.
func FatalForModel(err error) bool {
	return !Retryable(err) && !FatalForRequest(err)
}

// RetryAfterOf returns the vendor-requested backoff, or zero.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// MapWireError converts an HTTP error status from any REST vendor into the
// taxonomy. Shared by the hand-rolled wire providers; SDK-backed providers
// feed their status codes through the same table.
func MapWireError(provider, model string, status int, header http.Header, body string) *Error {
	msg := strings.TrimSpace(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Code: CodeAuthRejected, Provider: provider, Model: model, Message: msg}
	case status == http.StatusNotFound:
		return &Error{Code: CodeModelNotFound, Provider: provider, Model: model, Message: msg}
	case status == http.StatusTooManyRequests:
		return &Error{
			Code: CodeRateLimited, Provider: provider, Model: model, Message: msg,
			RetryAfter: parseRetryAfter(header),
		}
	case status == http.StatusRequestEntityTooLarge:
		return &Error{Code: CodeContextOverflow, Provider: provider, Model: model, Message: msg}
	case status == http.StatusBadRequest:
		if looksLikeContextOverflow(msg) {
			return &Error{Code: CodeContextOverflow, Provider: provider, Model: model, Message: msg}
		}
		return &Error{Code: CodeInvalidRequest, Provider: provider, Model: model, Message: msg}
	case status >= 500:
		return &Error{Code: CodeUpstreamServer, Provider: provider, Model: model, Message: msg}
	}
	return &Error{Code: CodeUpstreamServer, Provider: provider, Model: model,
		Message: fmt.Sprintf("unexpected status %d: %s", status, msg)}
}

func parseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Vendors phrase context-window violations inconsistently; all of them
// mention either the context or the token budget.
func looksLikeContextOverflow(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{
		"context length", "context window", "maximum context",
		"too many tokens", "prompt is too long", "token limit",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// MapTransportError classifies a failed HTTP round-trip (no response at all).
func MapTransportError(provider, model string, err error) *Error {
	switch {
	case errors.Is(err, context.Canceled):
		return WrapErr(CodeCancelled, provider, model, err)
	case errors.Is(err, context.DeadlineExceeded):
		return WrapErr(CodeTimeout, provider, model, err)
	}
	return WrapErr(CodeTransientNetwork, provider, model, err)
}
