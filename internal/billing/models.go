package billing

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Account types
const (
	AccountTypeAdmin    = "admin"
	AccountTypeReseller = "reseller"
	AccountTypeClient   = "client"
)

// Account statuses
const (
	AccountStatusActive    = "active"
	AccountStatusSuspended = "suspended"
)

// Ledger directions
const (
	DirectionDebit  = "debit"
	DirectionCredit = "credit"
)

// Canonical CDR statuses. Carrier-native vocabularies are mapped onto this
// set by the reconciliation pipeline.
const (
	StatusSubmitted = "submitted"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
	StatusExpired   = "expired"
	StatusRejected  = "rejected"
	StatusPending   = "pending"
	StatusUnknown   = "unknown"
)

// Account represents a billable account
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Currency  string    `json:"currency"`
	ParentID  *string   `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccountBalance is the one-to-one balance row for an account. Balance may go
// negative but never below -CreditLimit at any committed state.
type AccountBalance struct {
	AccountID   string          `json:"account_id"`
	Balance     decimal.Decimal `json:"balance"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	Currency    string          `json:"currency"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Available returns the spendable amount (balance plus credit limit).
func (b *AccountBalance) Available() decimal.Decimal {
	return b.Balance.Add(b.CreditLimit)
}

// LedgerEntry is an immutable append-only balance movement record.
type LedgerEntry struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Direction string          `json:"direction"`
	Reason    string          `json:"reason"`
	Reference string          `json:"reference"`
	CreatedAt time.Time       `json:"created_at"`
}

// CDR is the call detail record for one outbound message attempt. MessageID
// is globally unique and doubles as the charge idempotency key.
type CDR struct {
	ID          string           `json:"id"`
	MessageID   string           `json:"message_id"`
	AccountID   string           `json:"account_id"`
	ConnectorID string           `json:"connector_id,omitempty"`
	MSISDN      string           `json:"msisdn"`
	Sender      string           `json:"sender,omitempty"`
	Status      string           `json:"status"`
	Parts       int              `json:"parts"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	DispatchID  *string          `json:"dispatch_id,omitempty"`
	UserSmsID   *string          `json:"user_sms_id,omitempty"`
	SubmitAt    time.Time        `json:"submit_at"`
	DeliveryAt  *time.Time       `json:"delivery_at,omitempty"`
	ErrorCode   *string          `json:"error_code,omitempty"`
	DLRPayload  json.RawMessage  `json:"dlr_payload,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// DispatchSummary aggregates CDR counters for one batch dispatch.
type DispatchSummary struct {
	DispatchID string          `json:"dispatch_id"`
	Total      int             `json:"total"`
	Submitted  int             `json:"submitted"`
	Delivered  int             `json:"delivered"`
	Failed     int             `json:"failed"`
	Pending    int             `json:"pending"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	Currency   string          `json:"currency,omitempty"`
}
