package billing

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEngine(t *testing.T) (*ChargeEngine, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	logger := newTestLogger()
	ledger := NewLedgerStore(db, logger)
	cdrs := NewCDRStore(db, logger)
	return NewChargeEngine(db, ledger, cdrs, logger, nil), mock, db
}

func balanceRows(accountID, balance, creditLimit string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"account_id", "balance", "credit_limit", "currency", "updated_at"}).
		AddRow(accountID, balance, creditLimit, "USD", time.Now())
}

func chargeReq(accountID, messageID string, parts int, pricePerPart string) ChargeRequest {
	return ChargeRequest{
		AccountID:    accountID,
		MessageID:    messageID,
		MSISDN:       "+15551230001",
		Sender:       "TEST",
		ConnectorID:  "conn-1",
		Parts:        parts,
		PricePerPart: decimal.RequireFromString(pricePerPart),
		Currency:     "usd",
	}
}

func TestApplyCharge(t *testing.T) {
	engine, mock, db := newTestEngine(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT account_id, balance, credit_limit, currency, updated_at").
		WithArgs("acc-1").
		WillReturnRows(balanceRows("acc-1", "100.00", "0"))
	mock.ExpectQuery("SELECT 1 FROM sms_cdr").
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}))
	mock.ExpectExec("UPDATE account_balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO balance_ledger").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sms_cdr").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := engine.ApplyCharge(context.Background(), chargeReq("acc-1", "msg-1", 2, "10.00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.RemainingBalance.Equal(decimal.RequireFromString("80.00")) {
		t.Errorf("remaining balance = %s, want 80.00", result.RemainingBalance)
	}
	if result.CDR.Status != StatusSubmitted {
		t.Errorf("cdr status = %q, want %q", result.CDR.Status, StatusSubmitted)
	}
	if result.CDR.Price == nil || !result.CDR.Price.Equal(decimal.RequireFromString("20.00")) {
		t.Errorf("cdr price = %v, want 20.00", result.CDR.Price)
	}
	if result.CDR.Currency != "USD" {
		t.Errorf("cdr currency = %q, want USD", result.CDR.Currency)
	}
	if result.LedgerEntryID == "" {
		t.Error("ledger entry id is empty")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestApplyChargeInsufficientBalance(t *testing.T) {
	engine, mock, db := newTestEngine(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT account_id, balance, credit_limit, currency, updated_at").
		WithArgs("acc-1").
		WillReturnRows(balanceRows("acc-1", "5.00", "0"))
	mock.ExpectRollback()

	_, err := engine.ApplyCharge(context.Background(), chargeReq("acc-1", "msg-1", 2, "10.00"))

	var insufficient *InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("error = %v, want InsufficientBalanceError", err)
	}
	if !insufficient.Required.Equal(decimal.RequireFromString("20.00")) {
		t.Errorf("required = %s, want 20.00", insufficient.Required)
	}
	if !insufficient.Available.Equal(decimal.RequireFromString("5.00")) {
		t.Errorf("available = %s, want 5.00", insufficient.Available)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestApplyChargeCreditLimitCoversDebit(t *testing.T) {
	engine, mock, db := newTestEngine(t)
	defer db.Close()

	// balance -5.00 with credit limit 20.00 leaves 15.00 spendable
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT account_id, balance, credit_limit, currency, updated_at").
		WithArgs("acc-1").
		WillReturnRows(balanceRows("acc-1", "-5.00", "20.00"))
	mock.ExpectQuery("SELECT 1 FROM sms_cdr").
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}))
	mock.ExpectExec("UPDATE account_balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO balance_ledger").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sms_cdr").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := engine.ApplyCharge(context.Background(), chargeReq("acc-1", "msg-1", 1, "10.00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.RemainingBalance.Equal(decimal.RequireFromString("-15.00")) {
		t.Errorf("remaining balance = %s, want -15.00", result.RemainingBalance)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestApplyChargeDuplicateMessage(t *testing.T) {
	engine, mock, db := newTestEngine(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT account_id, balance, credit_limit, currency, updated_at").
		WithArgs("acc-1").
		WillReturnRows(balanceRows("acc-1", "100.00", "0"))
	mock.ExpectQuery("SELECT 1 FROM sms_cdr").
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectRollback()

	_, err := engine.ApplyCharge(context.Background(), chargeReq("acc-1", "msg-1", 1, "10.00"))

	var duplicate *DuplicateMessageError
	if !errors.As(err, &duplicate) {
		t.Fatalf("error = %v, want DuplicateMessageError", err)
	}
	if duplicate.MessageID != "msg-1" {
		t.Errorf("message id = %q, want msg-1", duplicate.MessageID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestApplyChargeDuplicateOnInsert(t *testing.T) {
	engine, mock, db := newTestEngine(t)
	defer db.Close()

	// The pre-check passes but a racing charge lands first; the unique index
	// rejects the insert and the whole transaction rolls back.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT account_id, balance, credit_limit, currency, updated_at").
		WithArgs("acc-1").
		WillReturnRows(balanceRows("acc-1", "100.00", "0"))
	mock.ExpectQuery("SELECT 1 FROM sms_cdr").
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}))
	mock.ExpectExec("UPDATE account_balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO balance_ledger").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sms_cdr").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := engine.ApplyCharge(context.Background(), chargeReq("acc-1", "msg-1", 1, "10.00"))

	var duplicate *DuplicateMessageError
	if !errors.As(err, &duplicate) {
		t.Fatalf("error = %v, want DuplicateMessageError", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestApplyChargeAccountNotFound(t *testing.T) {
	engine, mock, db := newTestEngine(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT account_id, balance, credit_limit, currency, updated_at").
		WithArgs("acc-missing").
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "balance", "credit_limit", "currency", "updated_at"}))
	mock.ExpectRollback()

	_, err := engine.ApplyCharge(context.Background(), chargeReq("acc-missing", "msg-1", 1, "10.00"))

	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
}

func TestApplyChargeRejectsInvalidInput(t *testing.T) {
	engine, _, db := newTestEngine(t)
	defer db.Close()

	if _, err := engine.ApplyCharge(context.Background(), chargeReq("acc-1", "msg-1", 0, "1.00")); err == nil {
		t.Error("expected error for zero parts")
	}
	if _, err := engine.ApplyCharge(context.Background(), chargeReq("acc-1", "msg-1", 1, "-1.00")); err == nil {
		t.Error("expected error for negative price")
	}
}

func TestCheckBalance(t *testing.T) {
	engine, mock, db := newTestEngine(t)
	defer db.Close()

	mock.ExpectQuery("SELECT account_id, balance, credit_limit, currency, updated_at").
		WithArgs("acc-1").
		WillReturnRows(balanceRows("acc-1", "30.00", "10.00"))

	check, err := engine.CheckBalance(context.Background(), "acc-1", decimal.RequireFromString("35.00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !check.Sufficient {
		t.Error("expected sufficient balance (30 + 10 credit >= 35)")
	}
	if !check.Available.Equal(decimal.RequireFromString("40.00")) {
		t.Errorf("available = %s, want 40.00", check.Available)
	}

	mock.ExpectQuery("SELECT account_id, balance, credit_limit, currency, updated_at").
		WithArgs("acc-1").
		WillReturnRows(balanceRows("acc-1", "30.00", "10.00"))

	check, err = engine.CheckBalance(context.Background(), "acc-1", decimal.RequireFromString("45.00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if check.Sufficient {
		t.Error("expected insufficient balance (30 + 10 credit < 45)")
	}
}

func TestCredit(t *testing.T) {
	engine, mock, db := newTestEngine(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT account_id, balance, credit_limit, currency, updated_at").
		WithArgs("acc-1").
		WillReturnRows(balanceRows("acc-1", "10.00", "0"))
	mock.ExpectExec("UPDATE account_balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO balance_ledger").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, newBalance, err := engine.Credit(context.Background(), "acc-1", decimal.RequireFromString("25.00"), "top_up", "payment-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !newBalance.Equal(decimal.RequireFromString("35.00")) {
		t.Errorf("new balance = %s, want 35.00", newBalance)
	}
	if entry.Direction != DirectionCredit {
		t.Errorf("direction = %q, want %q", entry.Direction, DirectionCredit)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	engine, _, db := newTestEngine(t)
	defer db.Close()

	if _, _, err := engine.Credit(context.Background(), "acc-1", decimal.Zero, "top_up", ""); err == nil {
		t.Error("expected error for zero amount")
	}
}
