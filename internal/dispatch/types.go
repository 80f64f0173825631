package dispatch

import (
	"context"

	"github.com/shopspring/decimal"

	"smsgate/billing/internal/billing"
	"smsgate/billing/internal/clients/carrier"
	"smsgate/billing/internal/clients/routing"
)

// RouteFinder prices a destination and picks the carrier connector
type RouteFinder interface {
	GetRoute(ctx context.Context, msisdn, accountID string, parts int) (*routing.Route, error)
}

// Submitter hands one message to the carrier and returns the provider
// message id
type Submitter interface {
	Submit(ctx context.Context, req carrier.SubmitRequest) (string, error)
}

// Charger is the slice of the charge engine the controller needs
type Charger interface {
	ApplyCharge(ctx context.Context, req billing.ChargeRequest) (*billing.ChargeResult, error)
	CheckBalance(ctx context.Context, accountID string, amount decimal.Decimal) (*billing.BalanceCheck, error)
	GetBalance(ctx context.Context, accountID string) (*billing.AccountBalance, error)
}

// PartsCalculator returns the part count and encoding for a message body
type PartsCalculator func(message string) (int, string)

// Per-message outcome statuses
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
)

// BatchMessage is one entry in a batch send request
type BatchMessage struct {
	To        string `json:"to" binding:"required"`
	Body      string `json:"body" binding:"required"`
	UserSmsID string `json:"user_sms_id,omitempty"`
}

// BatchRequest is a request to send a batch of messages on one account
type BatchRequest struct {
	AccountID   string         `json:"account_id" binding:"required"`
	Sender      string         `json:"sender"`
	Messages    []BatchMessage `json:"messages" binding:"required,min=1"`
	DispatchID  string         `json:"dispatch_id,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
}

// MessageResult is the outcome for one message of a batch. Balance is the
// single post-batch balance, stamped identically on every result.
type MessageResult struct {
	To        string          `json:"to"`
	UserSmsID string          `json:"user_sms_id,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Status    string          `json:"status"`
	Parts     int             `json:"parts"`
	Encoding  string          `json:"encoding"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Error     string          `json:"error,omitempty"`
}

// BatchResult aggregates a completed batch. Results preserve input order.
type BatchResult struct {
	DispatchID string          `json:"dispatch_id"`
	Total      int             `json:"total"`
	Accepted   int             `json:"accepted"`
	Rejected   int             `json:"rejected"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Currency   string          `json:"currency"`
	Balance    decimal.Decimal `json:"balance"`
	Results    []MessageResult `json:"results"`
}

// SendRequest is a single-message send
type SendRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	To        string `json:"to" binding:"required"`
	Body      string `json:"body" binding:"required"`
	Sender    string `json:"sender"`
	UserSmsID string `json:"user_sms_id,omitempty"`
}

// SendResponse is the outcome of a single-message send
type SendResponse struct {
	MessageID   string          `json:"message_id"`
	ConnectorID string          `json:"connector_id"`
	Parts       int             `json:"parts"`
	Encoding    string          `json:"encoding"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Balance     decimal.Decimal `json:"balance"`
	Status      string          `json:"status"`
}
