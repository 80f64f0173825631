package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NotFoundError indicates a referenced account, balance or CDR does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InsufficientBalanceError indicates the funds check failed. Required and
// Available are carried so callers can surface both amounts.
type InsufficientBalanceError struct {
	AccountID string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for account %s: required %s, available %s",
		e.AccountID, e.Required.String(), e.Available.String())
}

// DuplicateMessageError indicates a second charge attempt for a message id
// that was already charged.
type DuplicateMessageError struct {
	MessageID string
}

func (e *DuplicateMessageError) Error() string {
	return fmt.Sprintf("duplicate charge attempt for message %s", e.MessageID)
}

// UpstreamError indicates a routing or carrier collaborator failure.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s failed: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
