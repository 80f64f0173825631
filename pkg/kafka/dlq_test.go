package kafka

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEncodeDLQMessage(t *testing.T) {
	msg := Message{
		Key:       []byte("msg-1"),
		Value:     []byte(`{"broken": `),
		Topic:     "dlr_events",
		Partition: 3,
		Offset:    42,
		Timestamp: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Headers:   map[string]string{"source": "gateway"},
	}
	attrs := map[string]string{
		"event_kind":     "delivery_receipt",
		"carrier_status": "DELIVRD",
	}

	encoded, err := EncodeDLQMessage(msg, errors.New("decode dlr event"), "dlr", attrs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var payload DLQPayload
	if err := json.Unmarshal(encoded, &payload); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}

	if payload.SourceTopic != "dlr_events" || payload.Partition != 3 || payload.Offset != 42 {
		t.Errorf("payload position = %s/%d/%d, want dlr_events/3/42", payload.SourceTopic, payload.Partition, payload.Offset)
	}
	if !payload.EventTime.Equal(msg.Timestamp) {
		t.Errorf("event_time = %v, want %v", payload.EventTime, msg.Timestamp)
	}
	if payload.Failure != "decode dlr event" || payload.DiscardedBy != "dlr" {
		t.Errorf("payload context = %q/%q, want decode dlr event/dlr", payload.Failure, payload.DiscardedBy)
	}
	if payload.DiscardedAt.IsZero() {
		t.Error("discarded_at is zero, want encode time")
	}
	if payload.Attributes["event_kind"] != "delivery_receipt" || payload.Attributes["carrier_status"] != "DELIVRD" {
		t.Errorf("attributes = %v, want domain context preserved", payload.Attributes)
	}
	if payload.Headers["source"] != "gateway" {
		t.Errorf("headers = %v, want original headers preserved", payload.Headers)
	}

	value, err := base64.StdEncoding.DecodeString(payload.ValueBase64)
	if err != nil {
		t.Fatalf("value is not valid base64: %v", err)
	}
	if string(value) != `{"broken": ` {
		t.Errorf("decoded value = %q, want original bytes", value)
	}

	key, err := base64.StdEncoding.DecodeString(payload.KeyBase64)
	if err != nil {
		t.Fatalf("key is not valid base64: %v", err)
	}
	if string(key) != "msg-1" {
		t.Errorf("decoded key = %q, want msg-1", key)
	}
}

func TestEncodeDLQMessageOmitsEmptyKey(t *testing.T) {
	encoded, err := EncodeDLQMessage(Message{Topic: "dlr_events", Value: []byte("x")}, nil, "dlr", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var payload DLQPayload
	if err := json.Unmarshal(encoded, &payload); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if payload.KeyBase64 != "" {
		t.Errorf("key_base64 = %q, want empty", payload.KeyBase64)
	}
	if payload.Failure != "" {
		t.Errorf("failure = %q, want empty for nil cause", payload.Failure)
	}
}

func TestDecodeDLQMessageRoundTrip(t *testing.T) {
	msg := Message{
		Key:       []byte("bill-7"),
		Value:     []byte(`{"message_id": ""}`),
		Topic:     "submit_acks",
		Partition: 1,
		Offset:    99,
		Timestamp: time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC),
	}

	encoded, err := EncodeDLQMessage(msg, errors.New("submit ack missing message_id"), "submit_ack", map[string]string{"bill_id": "bill-7"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload, value, err := DecodeDLQMessage(encoded)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if string(value) != `{"message_id": ""}` {
		t.Errorf("decoded value = %q, want original record bytes", value)
	}
	if payload.SourceTopic != "submit_acks" || payload.Offset != 99 {
		t.Errorf("payload position = %s/%d, want submit_acks/99", payload.SourceTopic, payload.Offset)
	}
	if payload.DiscardedBy != "submit_ack" || payload.Attributes["bill_id"] != "bill-7" {
		t.Errorf("payload context = %q/%v, want submit_ack with bill_id", payload.DiscardedBy, payload.Attributes)
	}
}

func TestDecodeDLQMessageRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeDLQMessage([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid payload")
	}
	if _, _, err := DecodeDLQMessage([]byte(`{"value_base64": "%%%"}`)); err == nil {
		t.Fatal("expected error for invalid base64 value")
	}
}
