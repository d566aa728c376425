package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrBankNotConfigured   = errors.New("bank destination not configured")
	ErrPlanNotFound        = errors.New("plan not found")

	// ErrConflict is returned by the ledger when a conditional write lost its race.
	ErrConflict = errors.New("conditional write conflict")
	// ErrDuplicateVoucher is returned when a generated voucher code already exists.
	ErrDuplicateVoucher = errors.New("voucher code already issued")
	// ErrAlreadyResolved marks a settlement attempt on a transaction that is no longer pending.
	ErrAlreadyResolved = errors.New("transaction already resolved")
)

// ValidationError reports malformed caller input. No state was mutated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InsufficientFundsError is returned when a purchase exceeds the effective balance.
type InsufficientFundsError struct {
	Price     int64
	Available int64
	Shortfall int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %d more", e.Shortfall)
}

// NotFoundError reports a reference that could not be resolved.
type NotFoundError struct {
	Resource string
	Ref      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.Ref)
}

// SettlementError wraps a lost conditional write or a store failure. Callers should
// retry the whole operation from a fresh read.
type SettlementError struct {
	Op  string
	Err error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement %s failed: %v", e.Op, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

// DispatchError reports a failed outbound notification. It is logged, never returned
// to the caller of the operation that triggered it.
type DispatchError struct {
	Kind NotificationKind
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s notification: %v", e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
