package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"smsgate/billing/pkg/kafka"
	"smsgate/billing/pkg/logging"
)

// submitAckEvent is the carrier's confirmation that a message was accepted
// or rejected by the network, published per submit_sm_resp.
type submitAckEvent struct {
	BillID string `json:"bid"`
	User   struct {
		UID      string `json:"uid"`
		Username string `json:"username"`
	} `json:"user"`
	Amounts     map[string]json.Number `json:"amounts"`
	MessageID   string                 `json:"message_id"`
	ConnectorID string                 `json:"connector_id"`
	Status      string                 `json:"status"`
}

// HandleSubmitAck processes one submission-acknowledgement event. The charge
// was already applied on the send path, so an ESME_ROK ack is a no-op
// confirmation. A non-success status is only logged: reversing the charge
// with a compensating credit is a known gap, deliberately not implemented.
func (h *Handlers) HandleSubmitAck(ctx context.Context, msg kafka.Message) error {
	var event submitAckEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.metrics.countAck("malformed")
		h.discard(msg, fmt.Errorf("decode submit ack: %w", err), "submit_ack", map[string]string{
			"event_kind": "submission_ack",
		})
		return nil
	}

	if event.User.UID == "" || event.MessageID == "" {
		h.metrics.countAck("malformed")
		h.discard(msg, errors.New("submit ack missing account id or message_id"), "submit_ack", map[string]string{
			"event_kind":     "submission_ack",
			"bill_id":        event.BillID,
			"carrier_status": event.Status,
		})
		return nil
	}

	status := event.Status
	if status == "" {
		status = "UNKNOWN"
	}

	h.logger.WithFields(logging.Fields{
		"bill_id":    event.BillID,
		"account_id": event.User.UID,
		"message_id": event.MessageID,
		"status":     status,
	}).Info("Processing submit ack")

	if status == "ESME_ROK" {
		h.metrics.countAck("confirmed")
		h.logger.WithField("message_id", event.MessageID).Debug("Message accepted by carrier")
		return nil
	}

	// TODO: append a compensating credit ledger entry for carrier-rejected
	// submissions once the refund policy is settled.
	h.metrics.countAck("carrier_rejected")
	h.logger.WithFields(logging.Fields{
		"message_id": event.MessageID,
		"status":     status,
	}).Warn("Message rejected by carrier - refund not implemented")

	return nil
}
