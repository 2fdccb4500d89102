package errdef

import (
	"errors"
	"fmt"
)

// NotFoundError indicates the referenced entity is absent or owned by someone else
type NotFoundError struct {
	What string
}

func NewNotFound(format string, args ...interface{}) error {
	return &NotFoundError{What: fmt.Sprintf(format, args...)}
}

func (e *NotFoundError) Error() string {
	return "not found: " + e.What
}

// ValidationError indicates a malformed or contradictory request
type ValidationError struct {
	Msg string
}

func NewValidation(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// ConflictError indicates a duplicate admission or an already linked resource.
// Retryable is set when the conflict was detected as a concurrent race
// (unique constraint on commit) and the caller may try again.
type ConflictError struct {
	Msg       string
	Retryable bool
}

func NewConflict(msg string) error {
	return &ConflictError{Msg: msg}
}

func NewRetryableConflict(msg string) error {
	return &ConflictError{Msg: msg, Retryable: true}
}

func (e *ConflictError) Error() string {
	return e.Msg
}

// LimitExceededError indicates a plan quota violation
type LimitExceededError struct {
	Msg string
}

func NewLimitExceeded(format string, args ...interface{}) error {
	return &LimitExceededError{Msg: fmt.Sprintf(format, args...)}
}

func (e *LimitExceededError) Error() string {
	return e.Msg
}

// ProviderError wraps a failure of an external collaborator
type ProviderError struct {
	Provider string
	err      error
}

func NewProvider(provider string, err error) error {
	return &ProviderError{Provider: provider, err: err}
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.err
}

// IsNotFound tests err for NotFoundError
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsConflict tests err for ConflictError
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsRetryableConflict tests err for a conflict the caller may rerun
func IsRetryableConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e) && e.Retryable
}

// IsLimitExceeded tests err for LimitExceededError
func IsLimitExceeded(err error) bool {
	var e *LimitExceededError
	return errors.As(err, &e)
}

// IsValidation tests err for ValidationError
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}
