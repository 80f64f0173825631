package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"smsgate/billing/pkg/logging"
)

// CDRStore persists call detail records. Each row is written once by the
// charge engine and thereafter mutated only through UpdateStatus.
type CDRStore struct {
	db     *sql.DB
	logger logging.Logger
}

// NewCDRStore creates a CDR store
func NewCDRStore(db *sql.DB, logger logging.Logger) *CDRStore {
	return &CDRStore{db: db, logger: logger}
}

const cdrColumns = `id, message_id, account_id, COALESCE(connector_id, ''), msisdn, COALESCE(sender, ''),
		status, parts, price, COALESCE(currency, ''), dispatch_id, user_sms_id,
		submit_at, delivery_at, error_code, dlr_payload, created_at`

func scanCDR(row interface{ Scan(...any) error }) (*CDR, error) {
	var c CDR
	var price decimal.NullDecimal
	err := row.Scan(&c.ID, &c.MessageID, &c.AccountID, &c.ConnectorID, &c.MSISDN, &c.Sender,
		&c.Status, &c.Parts, &price, &c.Currency, &c.DispatchID, &c.UserSmsID,
		&c.SubmitAt, &c.DeliveryAt, &c.ErrorCode, &c.DLRPayload, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if price.Valid {
		c.Price = &price.Decimal
	}
	return &c, nil
}

// FindByMessageID looks up a CDR by its message id
func (s *CDRStore) FindByMessageID(ctx context.Context, messageID string) (*CDR, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+cdrColumns+`
		FROM sms_cdr
		WHERE message_id = $1
	`, messageID)

	cdr, err := scanCDR(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "message", ID: messageID}
	}
	if err != nil {
		return nil, fmt.Errorf("find cdr: %w", err)
	}
	return cdr, nil
}

// Insert writes a new CDR row within the caller's transaction. The unique
// index on message_id is the idempotency gate: a duplicate fails here with
// DuplicateMessageError rather than being screened by a racy pre-check.
func (s *CDRStore) Insert(ctx context.Context, tx *sql.Tx, cdr *CDR) error {
	if cdr.ID == "" {
		cdr.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if cdr.SubmitAt.IsZero() {
		cdr.SubmitAt = now
	}
	cdr.CreatedAt = now

	var price decimal.NullDecimal
	if cdr.Price != nil {
		price = decimal.NullDecimal{Decimal: *cdr.Price, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO sms_cdr (id, message_id, account_id, connector_id, msisdn, sender,
			status, parts, price, currency, dispatch_id, user_sms_id, submit_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, cdr.ID, cdr.MessageID, cdr.AccountID, nullIfEmpty(cdr.ConnectorID), cdr.MSISDN, nullIfEmpty(cdr.Sender),
		cdr.Status, cdr.Parts, price, nullIfEmpty(cdr.Currency), cdr.DispatchID, cdr.UserSmsID,
		cdr.SubmitAt, cdr.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return &DuplicateMessageError{MessageID: cdr.MessageID}
		}
		return fmt.Errorf("insert cdr: %w", err)
	}
	return nil
}

// ExistsInTx checks for an existing message id inside a transaction. The
// unique index still closes the race window at insert time; this pre-check
// just lets the charge engine fail before debiting.
func (s *CDRStore) ExistsInTx(ctx context.Context, tx *sql.Tx, messageID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM sms_cdr WHERE message_id = $1`, messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check cdr exists: %w", err)
	}
	return true, nil
}

// UpdateStatus overwrites the delivery status of an existing CDR. The write
// is last-write-wins: a stale or out-of-order delivery event can regress the
// status. Delivery events are informational overlays, not financial
// mutations, so no row lock is taken. Returns NotFoundError when no CDR
// exists for the message id.
func (s *CDRStore) UpdateStatus(ctx context.Context, messageID, status string, deliveryAt *time.Time, errorCode *string, payload []byte) error {
	var dlr any
	if len(payload) > 0 {
		dlr = payload
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sms_cdr
		SET status = $1,
		    delivery_at = COALESCE($2, delivery_at),
		    error_code = $3,
		    dlr_payload = COALESCE($4, dlr_payload)
		WHERE message_id = $5
	`, status, deliveryAt, errorCode, dlr, messageID)
	if err != nil {
		return fmt.Errorf("update cdr status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update cdr status: %w", err)
	}
	if affected == 0 {
		return &NotFoundError{Entity: "message", ID: messageID}
	}
	return nil
}

// DispatchSummary aggregates counters over all CDRs sharing a dispatch id.
func (s *CDRStore) DispatchSummary(ctx context.Context, dispatchID string) (*DispatchSummary, error) {
	var summary DispatchSummary
	var currency sql.NullString
	summary.DispatchID = dispatchID

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'submitted'),
		       COUNT(*) FILTER (WHERE status = 'delivered'),
		       COUNT(*) FILTER (WHERE status IN ('failed', 'expired', 'rejected')),
		       COUNT(*) FILTER (WHERE status IN ('pending', 'unknown')),
		       COALESCE(SUM(price), 0),
		       MAX(currency)
		FROM sms_cdr
		WHERE dispatch_id = $1
	`, dispatchID).Scan(&summary.Total, &summary.Submitted, &summary.Delivered,
		&summary.Failed, &summary.Pending, &summary.TotalCost, &currency)
	if err != nil {
		return nil, fmt.Errorf("dispatch summary: %w", err)
	}

	if summary.Total == 0 {
		return nil, &NotFoundError{Entity: "dispatch", ID: dispatchID}
	}
	summary.Currency = currency.String
	return &summary, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
