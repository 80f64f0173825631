// Package reconcile consumes asynchronous carrier events and applies
// idempotent status updates to the CDR store. Both handlers tolerate
// at-least-once delivery: a redelivered event produces the same final state.
package reconcile

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"smsgate/billing/pkg/kafka"
	"smsgate/billing/pkg/logging"
)

// CDRUpdater is the slice of the CDR store the pipeline needs
type CDRUpdater interface {
	UpdateStatus(ctx context.Context, messageID, status string, deliveryAt *time.Time, errorCode *string, payload []byte) error
}

// DLQPublisher publishes permanently discarded events for inspection
type DLQPublisher interface {
	ProduceMessage(topic string, key []byte, value []byte, headers map[string]string) error
}

// Metrics holds the pipeline's Prometheus counters; nil vectors are skipped.
type Metrics struct {
	DLREvents  *prometheus.CounterVec // labels: status
	SubmitAcks *prometheus.CounterVec // labels: status
}

func (m *Metrics) countDLR(status string) {
	if m != nil && m.DLREvents != nil {
		m.DLREvents.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) countAck(status string) {
	if m != nil && m.SubmitAcks != nil {
		m.SubmitAcks.WithLabelValues(status).Inc()
	}
}

// Handlers owns the per-topic event handlers registered on the Kafka consumer
type Handlers struct {
	cdrs     CDRUpdater
	dlq      DLQPublisher
	dlqTopic string
	logger   logging.Logger
	metrics  *Metrics
}

// NewHandlers creates the reconciliation handlers. dlq may be nil, in which
// case malformed events are only logged before being discarded.
func NewHandlers(cdrs CDRUpdater, dlq DLQPublisher, dlqTopic string, logger logging.Logger, metrics *Metrics) *Handlers {
	return &Handlers{
		cdrs:     cdrs,
		dlq:      dlq,
		dlqTopic: dlqTopic,
		logger:   logger,
		metrics:  metrics,
	}
}

// discard permanently drops a malformed message, forwarding it to the DLQ
// when one is configured together with whatever domain context the handler
// managed to extract. Returning nil from the handler commits the offset.
func (h *Handlers) discard(msg kafka.Message, cause error, handler string, attrs map[string]string) {
	h.logger.WithError(cause).WithFields(logging.Fields{
		"topic":  msg.Topic,
		"offset": msg.Offset,
	}).Error("Discarding malformed event")

	if h.dlq == nil || h.dlqTopic == "" {
		return
	}

	payload, err := kafka.EncodeDLQMessage(msg, cause, handler, attrs)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode DLQ payload")
		return
	}
	if err := h.dlq.ProduceMessage(h.dlqTopic, msg.Key, payload, nil); err != nil {
		h.logger.WithError(err).Error("Failed to publish DLQ payload")
	}
}
