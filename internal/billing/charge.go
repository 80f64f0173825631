package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"smsgate/billing/pkg/logging"
)

// ChargeRequest describes one charge-on-send attempt. MessageID is the
// idempotency key: charging the same message id twice must fail.
type ChargeRequest struct {
	AccountID    string          `json:"account_id" binding:"required"`
	MessageID    string          `json:"message_id" binding:"required"`
	MSISDN       string          `json:"msisdn" binding:"required"`
	Sender       string          `json:"sender"`
	ConnectorID  string          `json:"connector_id"`
	Parts        int             `json:"parts" binding:"required,min=1"`
	PricePerPart decimal.Decimal `json:"price_per_part"`
	Currency     string          `json:"currency" binding:"required"`
	DispatchID   *string         `json:"dispatch_id,omitempty"`
	UserSmsID    *string         `json:"user_sms_id,omitempty"`
}

// ChargeResult is the outcome of a successful charge
type ChargeResult struct {
	CDR              *CDR
	RemainingBalance decimal.Decimal
	LedgerEntryID    string
}

// Metrics holds the charge engine's Prometheus counters. All fields are
// optional; a nil vector is simply not incremented.
type Metrics struct {
	Charges *prometheus.CounterVec // labels: status
	Credits *prometheus.CounterVec // labels: status
}

func (m *Metrics) countCharge(status string) {
	if m != nil && m.Charges != nil {
		m.Charges.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) countCredit(status string) {
	if m != nil && m.Credits != nil {
		m.Credits.WithLabelValues(status).Inc()
	}
}

// ChargeEngine implements the atomic balance-debit protocol: funds gate,
// duplicate gate, debit, ledger entry and CDR row, all in one transaction.
type ChargeEngine struct {
	db      *sql.DB
	ledger  *LedgerStore
	cdrs    *CDRStore
	logger  logging.Logger
	metrics *Metrics
}

// NewChargeEngine creates a charge engine
func NewChargeEngine(db *sql.DB, ledger *LedgerStore, cdrs *CDRStore, logger logging.Logger, metrics *Metrics) *ChargeEngine {
	return &ChargeEngine{
		db:      db,
		ledger:  ledger,
		cdrs:    cdrs,
		logger:  logger,
		metrics: metrics,
	}
}

// ApplyCharge debits an account for one message and writes the ledger entry
// and CDR row atomically. Every failure path rolls back before any effect is
// visible: no ledger entry or CDR row exists for a rejected charge.
func (e *ChargeEngine) ApplyCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Parts < 1 {
		return nil, fmt.Errorf("parts must be >= 1, got %d", req.Parts)
	}
	if req.PricePerPart.IsNegative() {
		return nil, fmt.Errorf("price per part must be >= 0, got %s", req.PricePerPart)
	}

	amount := req.PricePerPart.Mul(decimal.NewFromInt(int64(req.Parts)))
	currency := strings.ToUpper(req.Currency)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin charge tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	balance, err := e.ledger.LockBalance(ctx, tx, req.AccountID)
	if err != nil {
		e.metrics.countCharge("not_found")
		return nil, err
	}

	if balance.Available().LessThan(amount) {
		e.metrics.countCharge("insufficient")
		return nil, &InsufficientBalanceError{
			AccountID: req.AccountID,
			Required:  amount,
			Available: balance.Available(),
		}
	}

	// Pre-check the idempotency key so the balance is never debited for a
	// duplicate; the unique index on message_id closes the remaining race at
	// insert time.
	exists, err := e.cdrs.ExistsInTx(ctx, tx, req.MessageID)
	if err != nil {
		e.metrics.countCharge("error")
		return nil, err
	}
	if exists {
		e.metrics.countCharge("duplicate")
		return nil, &DuplicateMessageError{MessageID: req.MessageID}
	}

	newBalance := balance.Balance.Sub(amount)

	entry := &LedgerEntry{
		AccountID: req.AccountID,
		Amount:    amount,
		Currency:  currency,
		Direction: DirectionDebit,
		Reason:    "sms_charge",
		Reference: req.MessageID,
	}
	if err := e.ledger.ApplyMovement(ctx, tx, req.AccountID, newBalance, entry); err != nil {
		e.metrics.countCharge("error")
		return nil, err
	}

	cdr := &CDR{
		MessageID:   req.MessageID,
		AccountID:   req.AccountID,
		ConnectorID: req.ConnectorID,
		MSISDN:      req.MSISDN,
		Sender:      req.Sender,
		Status:      StatusSubmitted,
		Parts:       req.Parts,
		Price:       &amount,
		Currency:    currency,
		DispatchID:  req.DispatchID,
		UserSmsID:   req.UserSmsID,
	}
	if err := e.cdrs.Insert(ctx, tx, cdr); err != nil {
		var dup *DuplicateMessageError
		if errors.As(err, &dup) {
			e.metrics.countCharge("duplicate")
		} else {
			e.metrics.countCharge("error")
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		e.metrics.countCharge("error")
		return nil, fmt.Errorf("commit charge tx: %w", err)
	}

	e.metrics.countCharge("applied")
	e.logger.WithFields(logging.Fields{
		"account_id": req.AccountID,
		"message_id": req.MessageID,
		"amount":     amount.String(),
		"balance":    newBalance.String(),
	}).Info("Charge applied")

	return &ChargeResult{
		CDR:              cdr,
		RemainingBalance: newBalance,
		LedgerEntryID:    entry.ID,
	}, nil
}

// BalanceCheck is the result of an advisory funds check
type BalanceCheck struct {
	Sufficient bool            `json:"sufficient"`
	Available  decimal.Decimal `json:"available"`
	Currency   string          `json:"currency"`
}

// CheckBalance reports whether the account could cover amount right now.
// No lock is taken; the answer is advisory and the charge path re-verifies
// under the row lock.
func (e *ChargeEngine) CheckBalance(ctx context.Context, accountID string, amount decimal.Decimal) (*BalanceCheck, error) {
	balance, err := e.ledger.GetBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	available := balance.Available()
	return &BalanceCheck{
		Sufficient: available.GreaterThanOrEqual(amount),
		Available:  available,
		Currency:   balance.Currency,
	}, nil
}

// GetBalance returns the account balance without locking
func (e *ChargeEngine) GetBalance(ctx context.Context, accountID string) (*AccountBalance, error) {
	return e.ledger.GetBalance(ctx, accountID)
}

// Credit applies a top-up or refund to an account under the same row lock
// discipline as charges.
func (e *ChargeEngine) Credit(ctx context.Context, accountID string, amount decimal.Decimal, reason, reference string) (*LedgerEntry, decimal.Decimal, error) {
	if !amount.IsPositive() {
		return nil, decimal.Zero, fmt.Errorf("credit amount must be positive, got %s", amount)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("begin credit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	balance, err := e.ledger.LockBalance(ctx, tx, accountID)
	if err != nil {
		e.metrics.countCredit("not_found")
		return nil, decimal.Zero, err
	}

	newBalance := balance.Balance.Add(amount)

	entry := &LedgerEntry{
		AccountID: accountID,
		Amount:    amount,
		Currency:  balance.Currency,
		Direction: DirectionCredit,
		Reason:    reason,
		Reference: reference,
	}
	if err := e.ledger.ApplyMovement(ctx, tx, accountID, newBalance, entry); err != nil {
		e.metrics.countCredit("error")
		return nil, decimal.Zero, err
	}

	if err := tx.Commit(); err != nil {
		e.metrics.countCredit("error")
		return nil, decimal.Zero, fmt.Errorf("commit credit tx: %w", err)
	}

	e.metrics.countCredit("applied")
	e.logger.WithFields(logging.Fields{
		"account_id": accountID,
		"amount":     amount.String(),
		"balance":    newBalance.String(),
		"reason":     reason,
	}).Info("Credit applied")

	return entry, newBalance, nil
}
