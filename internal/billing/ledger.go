package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"smsgate/billing/pkg/logging"
)

// LedgerStore persists account balances and the append-only balance ledger.
// Every balance mutation goes through LockBalance first, inside the caller's
// transaction, so two charges racing on one account serialize on the row lock.
type LedgerStore struct {
	db     *sql.DB
	logger logging.Logger
}

// NewLedgerStore creates a ledger store
func NewLedgerStore(db *sql.DB, logger logging.Logger) *LedgerStore {
	return &LedgerStore{db: db, logger: logger}
}

// LockBalance acquires an exclusive row lock on the account's balance, scoped
// to tx. Returns NotFoundError when no balance row exists.
func (s *LedgerStore) LockBalance(ctx context.Context, tx *sql.Tx, accountID string) (*AccountBalance, error) {
	var b AccountBalance
	err := tx.QueryRowContext(ctx, `
		SELECT account_id, balance, credit_limit, currency, updated_at
		FROM account_balances
		WHERE account_id = $1
		FOR UPDATE
	`, accountID).Scan(&b.AccountID, &b.Balance, &b.CreditLimit, &b.Currency, &b.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "account balance", ID: accountID}
	}
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	return &b, nil
}

// GetBalance reads the balance without locking
func (s *LedgerStore) GetBalance(ctx context.Context, accountID string) (*AccountBalance, error) {
	var b AccountBalance
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, balance, credit_limit, currency, updated_at
		FROM account_balances
		WHERE account_id = $1
	`, accountID).Scan(&b.AccountID, &b.Balance, &b.CreditLimit, &b.Currency, &b.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "account balance", ID: accountID}
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &b, nil
}

// ApplyMovement writes the new balance and appends one ledger entry within
// the caller's transaction. The entry ID is generated here and returned via
// the entry itself. The ledger is append-only; entries are never updated.
func (s *LedgerStore) ApplyMovement(ctx context.Context, tx *sql.Tx, accountID string, newBalance decimal.Decimal, entry *LedgerEntry) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE account_balances
		SET balance = $1, updated_at = NOW()
		WHERE account_id = $2
	`, newBalance, accountID); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balance_ledger (id, account_id, amount, currency, direction, reason, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.AccountID, entry.Amount, entry.Currency, entry.Direction,
		entry.Reason, entry.Reference, entry.CreatedAt); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}

	return nil
}

// ListEntries returns recent ledger entries for an account, newest first.
func (s *LedgerStore) ListEntries(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, amount, currency, direction, COALESCE(reason, ''), COALESCE(reference, ''), created_at
		FROM balance_ledger
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Currency, &e.Direction, &e.Reason, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
