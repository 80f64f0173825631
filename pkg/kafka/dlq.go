package kafka

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// DLQPayload wraps a permanently discarded billing event with enough of the
// original record to replay it once the defect is fixed. Attributes carry
// whatever domain context the discarding handler had (event kind, bill id,
// carrier status); the record itself travels base64-encoded since a malformed
// value is exactly what lands here.
type DLQPayload struct {
	SourceTopic string            `json:"source_topic"`
	Partition   int32             `json:"partition"`
	Offset      int64             `json:"offset"`
	EventTime   time.Time         `json:"event_time"`
	KeyBase64   string            `json:"key_base64,omitempty"`
	ValueBase64 string            `json:"value_base64"`
	Headers     map[string]string `json:"headers,omitempty"`
	Failure     string            `json:"failure"`
	DiscardedBy string            `json:"discarded_by"`
	DiscardedAt time.Time         `json:"discarded_at"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// EncodeDLQMessage serializes a discarded event. discardedBy names the
// handler that gave up on it; attrs is optional domain context.
func EncodeDLQMessage(msg Message, cause error, discardedBy string, attrs map[string]string) ([]byte, error) {
	payload := DLQPayload{
		SourceTopic: msg.Topic,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		EventTime:   msg.Timestamp,
		ValueBase64: base64.StdEncoding.EncodeToString(msg.Value),
		Headers:     msg.Headers,
		DiscardedBy: discardedBy,
		DiscardedAt: time.Now().UTC(),
		Attributes:  attrs,
	}

	if len(msg.Key) > 0 {
		payload.KeyBase64 = base64.StdEncoding.EncodeToString(msg.Key)
	}

	if cause != nil {
		payload.Failure = cause.Error()
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal dlq payload: %w", err)
	}

	return b, nil
}

// DecodeDLQMessage unpacks a DLQ payload and returns the original record
// value alongside it, for inspection or replay.
func DecodeDLQMessage(raw []byte) (*DLQPayload, []byte, error) {
	var payload DLQPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, fmt.Errorf("unmarshal dlq payload: %w", err)
	}

	value, err := base64.StdEncoding.DecodeString(payload.ValueBase64)
	if err != nil {
		return nil, nil, fmt.Errorf("decode dlq value: %w", err)
	}

	return &payload, value, nil
}
