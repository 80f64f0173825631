package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newTestCDRStore(t *testing.T) (*CDRStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return NewCDRStore(db, newTestLogger()), mock, func() { db.Close() }
}

var cdrTestColumns = []string{
	"id", "message_id", "account_id", "connector_id", "msisdn", "sender",
	"status", "parts", "price", "currency", "dispatch_id", "user_sms_id",
	"submit_at", "delivery_at", "error_code", "dlr_payload", "created_at",
}

func TestFindByMessageID(t *testing.T) {
	store, mock, cleanup := newTestCDRStore(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("FROM sms_cdr").
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows(cdrTestColumns).
			AddRow("cdr-1", "msg-1", "acc-1", "conn-1", "+15551230001", "TEST",
				"delivered", 2, "0.10", "USD", nil, nil,
				now, now, nil, []byte(`{"stat":"DELIVRD"}`), now))

	cdr, err := store.FindByMessageID(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cdr.Status != StatusDelivered {
		t.Errorf("status = %q, want delivered", cdr.Status)
	}
	if cdr.Parts != 2 {
		t.Errorf("parts = %d, want 2", cdr.Parts)
	}
	if cdr.Price == nil || cdr.Price.String() != "0.1" {
		t.Errorf("price = %v, want 0.1", cdr.Price)
	}
	if cdr.DeliveryAt == nil {
		t.Error("delivery_at is nil")
	}
}

func TestFindByMessageIDNotFound(t *testing.T) {
	store, mock, cleanup := newTestCDRStore(t)
	defer cleanup()

	mock.ExpectQuery("FROM sms_cdr").
		WithArgs("msg-gone").
		WillReturnRows(sqlmock.NewRows(cdrTestColumns))

	_, err := store.FindByMessageID(context.Background(), "msg-gone")

	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	store, mock, cleanup := newTestCDRStore(t)
	defer cleanup()

	deliveredAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE sms_cdr").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateStatus(context.Background(), "msg-1", StatusDelivered, &deliveredAt, nil, []byte(`{"stat":"DELIVRD"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateStatusNotFound(t *testing.T) {
	store, mock, cleanup := newTestCDRStore(t)
	defer cleanup()

	mock.ExpectExec("UPDATE sms_cdr").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateStatus(context.Background(), "msg-gone", StatusDelivered, nil, nil, nil)

	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
}

// A redelivered event writes the same status again and still succeeds.
func TestUpdateStatusIdempotent(t *testing.T) {
	store, mock, cleanup := newTestCDRStore(t)
	defer cleanup()

	mock.ExpectExec("UPDATE sms_cdr").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sms_cdr").
		WillReturnResult(sqlmock.NewResult(0, 1))

	for i := 0; i < 2; i++ {
		if err := store.UpdateStatus(context.Background(), "msg-1", StatusDelivered, nil, nil, nil); err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i+1, err)
		}
	}
}

func TestDispatchSummary(t *testing.T) {
	store, mock, cleanup := newTestCDRStore(t)
	defer cleanup()

	mock.ExpectQuery("WHERE dispatch_id").
		WithArgs("disp-1").
		WillReturnRows(sqlmock.NewRows([]string{"total", "submitted", "delivered", "failed", "pending", "total_cost", "currency"}).
			AddRow(4, 1, 2, 1, 0, "0.20", "USD"))

	summary, err := store.DispatchSummary(context.Background(), "disp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Total != 4 || summary.Delivered != 2 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want total=4 delivered=2 failed=1", summary)
	}
	if summary.TotalCost.String() != "0.2" {
		t.Errorf("total cost = %s, want 0.2", summary.TotalCost)
	}
	if summary.Currency != "USD" {
		t.Errorf("currency = %q, want USD", summary.Currency)
	}
}

func TestDispatchSummaryNotFound(t *testing.T) {
	store, mock, cleanup := newTestCDRStore(t)
	defer cleanup()

	mock.ExpectQuery("WHERE dispatch_id").
		WithArgs("disp-gone").
		WillReturnRows(sqlmock.NewRows([]string{"total", "submitted", "delivered", "failed", "pending", "total_cost", "currency"}).
			AddRow(0, 0, 0, 0, 0, "0", nil))

	_, err := store.DispatchSummary(context.Background(), "disp-gone")

	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
}
