// errors.go: Error helpers for Janus
//
// Registration failures are fatal at boot, guard failures are per-request
// and recoverable, cache corruption is logged and healed. All three carry a
// JANUS_* code so callers can branch on ErrorCoder without string matching.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"context"
	goerrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/agilira/go-errors"
)

// newRegistrationError builds the fatal error raised for malformed controllers.
func newRegistrationError(msg string) *errors.Error {
	return errors.New(ErrCodeRegistration, msg)
}

// newCorruption builds the error used when a persisted document or store
// cannot be decoded.
func newCorruption(msg string) *errors.Error {
	return errors.New(ErrCodeCacheCorruption, msg)
}

// wrapStoreIO hides raw backend errors behind the JANUS_STORE_IO code.
func wrapStoreIO(err error, op string) *errors.Error {
	return errors.Wrap(err, ErrCodeStoreIO, "durable store "+op+" failed").
		WithContext("operation", op)
}

// HasCode reports whether err, or any error it wraps, carries code.
func HasCode(err error, code string) bool {
	for e := err; e != nil; e = goerrors.Unwrap(e) {
		if coder, ok := e.(errors.ErrorCoder); ok && string(coder.ErrorCode()) == code {
			return true
		}
	}
	return false
}

// isContextErr reports cancellation or deadline errors, which pass through unwrapped.
func isContextErr(err error) bool {
	return goerrors.Is(err, context.Canceled) || goerrors.Is(err, context.DeadlineExceeded)
}

// IsRegistrationError reports whether err is a fatal controller registration error.
func IsRegistrationError(err error) bool {
	return HasCode(err, ErrCodeRegistration)
}

// IsValidationError reports whether err is a guard rejection.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return goerrors.As(err, &verr)
}

// GuardFailure is one rejected guard.
type GuardFailure struct {
	Rule   string
	Reason string
}

// ValidationError aggregates every guard that rejected an invocation.
// Guards are never short-circuited on failure, so Failures lists all of them.
type ValidationError struct {
	Identity string
	Method   string
	Failures []GuardFailure
}

// Error implements error.
func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d guard(s) rejected %s::%s", ErrCodeValidation, len(e.Failures), e.Identity, e.Method)
	for i, f := range e.Failures {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f.Rule)
		b.WriteString(": ")
		b.WriteString(f.Reason)
	}
	return b.String()
}

// ErrorCode implements errors.ErrorCoder.
func (e *ValidationError) ErrorCode() errors.ErrorCode {
	return ErrCodeValidation
}

// Reasons returns the failure reasons in guard order.
func (e *ValidationError) Reasons() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Reason
	}
	return out
}

// RejectionReply maps a guard rejection to a client-visible reply.
// Any other error yields nil so the caller can handle it as a server fault.
func RejectionReply(err error) *Reply {
	var verr *ValidationError
	if !goerrors.As(err, &verr) {
		return nil
	}
	return &Reply{
		Status:  http.StatusForbidden,
		Headers: map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:    []byte(strings.Join(verr.Reasons(), "\n")),
	}
}
