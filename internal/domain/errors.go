// Package domain holds the error taxonomy shared by the booking and payment flows.
package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports malformed input, keyed by field.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns a ValidationError for a single field.
func NewValidationError(field, msg string) ValidationError {
	return ValidationError{Fields: map[string]string{field: msg}}
}

func (e ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation error"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

type NotFoundError struct {
	Resource string
	Msg      string
	Err      error
}

func (e NotFoundError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e NotFoundError) Unwrap() error { return e.Err }

type ConflictError struct {
	Resource string
	Msg      string
	Err      error
}

func (e ConflictError) Error() string {
	switch {
	case e.Msg != "" && e.Resource != "":
		return fmt.Sprintf("%s conflict: %s", e.Resource, e.Msg)
	case e.Msg != "":
		return e.Msg
	case e.Resource != "":
		return fmt.Sprintf("%s conflict", e.Resource)
	default:
		return "conflict"
	}
}

func (e ConflictError) Unwrap() error { return e.Err }

// GatewayAuthError means the gateway refused our credentials or could not issue a token.
type GatewayAuthError struct {
	Err error
}

func (e GatewayAuthError) Error() string {
	if e.Err == nil {
		return "payment gateway authentication failed"
	}
	return fmt.Sprintf("payment gateway authentication failed: %v", e.Err)
}

func (e GatewayAuthError) Unwrap() error { return e.Err }

// GatewayRejectedError carries a business rejection reported by the gateway.
type GatewayRejectedError struct {
	Code string
	Msg  string
}

func (e GatewayRejectedError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("payment rejected (%s)", e.Code)
	}
	return e.Msg
}

// GatewayUnavailableError means the gateway could not be reached or answered with an unexpected shape.
type GatewayUnavailableError struct {
	Op  string
	Err error
}

func (e GatewayUnavailableError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e GatewayUnavailableError) Unwrap() error { return e.Err }

// StoreWriteError wraps a persistence failure. Its message is never shown to callers.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e StoreWriteError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e StoreWriteError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target ConflictError
	return errors.As(err, &target)
}

func IsGatewayAuth(err error) bool {
	var target GatewayAuthError
	return errors.As(err, &target)
}

func IsGatewayRejected(err error) bool {
	var target GatewayRejectedError
	return errors.As(err, &target)
}

func IsGatewayUnavailable(err error) bool {
	var target GatewayUnavailableError
	return errors.As(err, &target)
}

func IsStoreWrite(err error) bool {
	var target StoreWriteError
	return errors.As(err, &target)
}
