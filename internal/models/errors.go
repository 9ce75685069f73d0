package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Every typed error below matches exactly one of them via errors.Is.
var (
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
	ErrNotFound        = errors.New("not found")
	ErrRemoteTransient = errors.New("remote transient failure")
	ErrRemoteFatal     = errors.New("remote fatal failure")
	ErrLockTimeout     = errors.New("lock timeout")
)

const (
	MsgAlreadyLinked      = "this order already has a supplier order ID"
	MsgLinkedToOtherOrder = "supplier order id is linked to another order"
)

type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type ConflictError struct {
	Message         string
	SupplierOrderID string
	ExistingOrderID string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type NotFoundError struct {
	Entity string
	ID     string
}

func NewNotFoundError(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// RemoteTransientError is a 429/5xx or network failure from a storefront or
// supplier API. Callers retry it with bounded backoff.
type RemoteTransientError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *RemoteTransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient http %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: transient: %v", e.Service, e.Err)
}

func (e *RemoteTransientError) Unwrap() error { return e.Err }

func (e *RemoteTransientError) Is(target error) bool { return target == ErrRemoteTransient }

// RemoteFatalError is a 401/402/403/404 from a remote API. It is never retried.
type RemoteFatalError struct {
	Service    string
	StatusCode int
}

func (e *RemoteFatalError) Error() string {
	return fmt.Sprintf("%s: http %d", e.Service, e.StatusCode)
}

func (e *RemoteFatalError) Is(target error) bool { return target == ErrRemoteFatal }

// Benign reports whether the failure is expected noise (revoked access,
// removed order) that should not raise an alert.
func (e *RemoteFatalError) Benign() bool {
	switch e.StatusCode {
	case 401, 402, 403, 404:
		return true
	}
	return false
}

type LockTimeoutError struct {
	Key  string
	Wait string
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock %s not acquired within %s", e.Key, e.Wait)
}

func (e *LockTimeoutError) Is(target error) bool { return target == ErrLockTimeout }

// RemoteErrorForStatus classifies an HTTP status from a remote API.
// It returns nil for 2xx/3xx.
func RemoteErrorForStatus(service string, code int) error {
	switch {
	case code == 429 || code >= 500:
		return &RemoteTransientError{Service: service, StatusCode: code}
	case code >= 400:
		return &RemoteFatalError{Service: service, StatusCode: code}
	}
	return nil
}

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRemoteTransient) || errors.Is(err, ErrLockTimeout)
}
