package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"smsgate/billing/internal/billing"
	"smsgate/billing/pkg/kafka"
	"smsgate/billing/pkg/logging"
)

// dlrEvent is a carrier delivery-receipt notification
type dlrEvent struct {
	MessageID  string         `json:"message_id"`
	Status     string         `json:"status"`
	PDUType    string         `json:"pdu_type"`
	SmppMsgID  string         `json:"smpp_msgid"`
	DLRDetails map[string]any `json:"dlr_details"`
}

// carrierStatusMap translates the carrier-native DLR vocabulary (SMPP spec
// Table B-2) to canonical CDR statuses. Matching is case-sensitive.
var carrierStatusMap = map[string]string{
	"DELIVRD": billing.StatusDelivered,
	"EXPIRED": billing.StatusExpired,
	"DELETED": billing.StatusFailed,
	"UNDELIV": billing.StatusFailed,
	"ACCEPTD": billing.StatusPending,
	"UNKNOWN": billing.StatusFailed,
	"REJECTD": billing.StatusRejected,
}

// MapCarrierStatus maps a carrier-native status string to a canonical status.
// ESME_* codes come from submit_sm_resp: ESME_ROK means the carrier accepted
// the message, anything else is a carrier rejection. Unrecognized strings map
// to "unknown" rather than failing the event.
func MapCarrierStatus(raw string) string {
	if strings.HasPrefix(raw, "ESME_") {
		if raw == "ESME_ROK" {
			return billing.StatusSubmitted
		}
		return billing.StatusFailed
	}
	if mapped, ok := carrierStatusMap[raw]; ok {
		return mapped
	}
	return billing.StatusUnknown
}

// doneDateFormats are the legacy timestamp layouts carriers use in DLR
// done_date fields, tried in order.
var doneDateFormats = []string{
	"0601021504",
	"2006-01-02 15:04:05",
	"20060102150405",
}

// ParseDoneDate extracts the delivery timestamp from DLR details. A value
// that matches none of the known layouts yields nil, not an error.
func ParseDoneDate(details map[string]any) *time.Time {
	raw, ok := details["done_date"]
	if !ok || raw == nil {
		raw, ok = details["donedate"]
		if !ok || raw == nil {
			return nil
		}
	}

	value := fmt.Sprintf("%v", raw)
	for _, layout := range doneDateFormats {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

// HandleDLR processes one delivery-receipt event. Malformed payloads are
// permanently discarded; a missing CDR is logged and dropped since the send
// path may have raced ahead or the id is foreign; any other failure is
// returned so the event is redelivered.
func (h *Handlers) HandleDLR(ctx context.Context, msg kafka.Message) error {
	var event dlrEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.metrics.countDLR("malformed")
		h.discard(msg, fmt.Errorf("decode dlr event: %w", err), "dlr", map[string]string{
			"event_kind": "delivery_receipt",
		})
		return nil
	}

	if event.MessageID == "" {
		h.metrics.countDLR("malformed")
		h.discard(msg, errors.New("dlr event missing message_id"), "dlr", map[string]string{
			"event_kind":     "delivery_receipt",
			"carrier_status": event.Status,
			"pdu_type":       event.PDUType,
		})
		return nil
	}

	raw := event.Status
	if raw == "" {
		raw = "UNKNOWN"
	}
	status := MapCarrierStatus(raw)

	h.logger.WithFields(logging.Fields{
		"message_id": event.MessageID,
		"status":     status,
		"raw_status": raw,
		"pdu_type":   event.PDUType,
	}).Info("Processing DLR event")

	deliveryAt := ParseDoneDate(event.DLRDetails)

	var errorCode *string
	if code, ok := event.DLRDetails["err"].(string); ok && code != "" {
		errorCode = &code
	}

	var payload []byte
	if len(event.DLRDetails) > 0 {
		b, err := json.Marshal(event.DLRDetails)
		if err == nil {
			payload = b
		}
	}

	if err := h.cdrs.UpdateStatus(ctx, event.MessageID, status, deliveryAt, errorCode, payload); err != nil {
		var notFound *billing.NotFoundError
		if errors.As(err, &notFound) {
			// The id is foreign or the send path hasn't committed yet.
			h.metrics.countDLR("orphan")
			h.logger.WithField("message_id", event.MessageID).Warn("DLR for unknown message, dropping")
			return nil
		}
		h.metrics.countDLR("error")
		return fmt.Errorf("update cdr for message %s: %w", event.MessageID, err)
	}

	h.metrics.countDLR("applied")
	return nil
}
