// Package teller defines the request/response types of the teller HTTP API.
package teller

import (
	"time"

	"github.com/shopspring/decimal"
)

// ErrorResponse is the generic error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// InsufficientBalanceResponse is the 402 body, carrying the gap
type InsufficientBalanceResponse struct {
	Error     string          `json:"error"`
	AccountID string          `json:"account_id"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
}

// ChargeResponse is returned on a successful charge
type ChargeResponse struct {
	MessageID     string          `json:"message_id"`
	AccountID     string          `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	LedgerEntryID string          `json:"ledger_entry_id"`
	Status        string          `json:"status"`
}

// BalanceResponse reports an account balance
type BalanceResponse struct {
	AccountID   string          `json:"account_id"`
	Balance     decimal.Decimal `json:"balance"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	Available   decimal.Decimal `json:"available"`
	Currency    string          `json:"currency"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CheckBalanceRequest asks whether an account can cover an amount
type CheckBalanceRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// CreditRequest applies a top-up or refund
type CreditRequest struct {
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	Reason    string          `json:"reason" binding:"required"`
	Reference string          `json:"reference"`
}

// CreditResponse is returned on a successful credit
type CreditResponse struct {
	LedgerEntryID string          `json:"ledger_entry_id"`
	AccountID     string          `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
}
