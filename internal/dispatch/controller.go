// Package dispatch implements batch message sending: price everything up
// front, gate the whole batch on one balance check, then fan out submission
// and charging under a concurrency ceiling.
package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"smsgate/billing/internal/billing"
	"smsgate/billing/internal/clients/carrier"
	"smsgate/billing/pkg/logging"
)

// DefaultConcurrency caps simultaneous in-flight carrier submissions. The
// ceiling protects the carrier connection pool and the database pool, it is
// not a correctness requirement.
const DefaultConcurrency = 50

// Metrics holds the controller's Prometheus counters. Nil vectors are
// simply not incremented.
type Metrics struct {
	Batches  *prometheus.CounterVec // labels: status
	Messages *prometheus.CounterVec // labels: status
}

func (m *Metrics) countBatch(status string) {
	if m != nil && m.Batches != nil {
		m.Batches.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) countMessage(status string) {
	if m != nil && m.Messages != nil {
		m.Messages.WithLabelValues(status).Inc()
	}
}

// Config configures the dispatch controller
type Config struct {
	Concurrency int
	DLRCallback string
	Logger      logging.Logger
	Metrics     *Metrics
}

// Controller coordinates routing, carrier submission and charging for
// single and batch sends.
type Controller struct {
	routes      RouteFinder
	carrier     Submitter
	charger     Charger
	parts       PartsCalculator
	concurrency int
	dlrCallback string
	logger      logging.Logger
	metrics     *Metrics
}

// NewController creates a dispatch controller
func NewController(routes RouteFinder, submitter Submitter, charger Charger, parts PartsCalculator, cfg Config) *Controller {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Controller{
		routes:      routes,
		carrier:     submitter,
		charger:     charger,
		parts:       parts,
		concurrency: concurrency,
		dlrCallback: cfg.DLRCallback,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// messagePlan is one pre-validated batch entry
type messagePlan struct {
	msg          BatchMessage
	parts        int
	encoding     string
	pricePerPart decimal.Decimal
	cost         decimal.Decimal
	currency     string
	connector    string
	operator     string
}

// SendBatch sends a batch of messages on one account.
//
// The batch is priced in full before anything is submitted, then gated on a
// single balance check covering the total estimated cost: an underfunded
// batch fails atomically with nothing sent. Past the gate, each message is
// submitted and charged independently under the concurrency ceiling; one
// message's failure never aborts its siblings. Results come back in input
// order, each stamped with the one balance read taken after the batch
// completes.
func (c *Controller) SendBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("batch contains no messages")
	}

	dispatchID := req.DispatchID
	if dispatchID == "" {
		dispatchID = uuid.NewString()
	}

	log := c.logger.WithFields(logging.Fields{
		"dispatch_id": dispatchID,
		"account_id":  req.AccountID,
		"messages":    len(req.Messages),
	})

	// Phase 1: price every message before touching the balance or the
	// carrier. A routing failure here fails the whole batch; pricing is
	// never defaulted.
	plans := make([]messagePlan, len(req.Messages))
	totalCost := decimal.Zero
	currency := ""
	for i, msg := range req.Messages {
		parts, encoding := c.parts(msg.Body)

		route, err := c.routes.GetRoute(ctx, msg.To, req.AccountID, parts)
		if err != nil {
			c.metrics.countBatch("route_failed")
			return nil, err
		}

		cost := route.PricePerPart.Mul(decimal.NewFromInt(int64(parts)))
		plans[i] = messagePlan{
			msg:          msg,
			parts:        parts,
			encoding:     encoding,
			pricePerPart: route.PricePerPart,
			cost:         cost,
			currency:     route.Currency,
			connector:    route.ConnectorID,
			operator:     route.OperatorName,
		}
		totalCost = totalCost.Add(cost)
		if currency == "" {
			currency = route.Currency
		}
	}

	// Phase 2: one advisory funds gate for the whole batch. The charge path
	// re-verifies per message under the row lock.
	check, err := c.charger.CheckBalance(ctx, req.AccountID, totalCost)
	if err != nil {
		c.metrics.countBatch("check_failed")
		return nil, err
	}
	if !check.Sufficient {
		c.metrics.countBatch("insufficient")
		return nil, &billing.InsufficientBalanceError{
			AccountID: req.AccountID,
			Required:  totalCost,
			Available: check.Available,
		}
	}

	// Phase 3: bounded fan-out. Workers write their slot by index and never
	// return an error, so a failing message cannot cancel its siblings.
	results := make([]MessageResult, len(plans))
	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for i := range plans {
		g.Go(func() error {
			results[i] = c.sendOne(ctx, req, dispatchID, plans[i])
			return nil
		})
	}
	_ = g.Wait()

	// Phase 4: aggregate actual charged totals, then stamp one post-batch
	// balance on every result.
	accepted, rejected := 0, 0
	totalPrice := decimal.Zero
	for i := range results {
		if results[i].Status == ResultAccepted {
			accepted++
			totalPrice = totalPrice.Add(results[i].Price)
		} else {
			rejected++
		}
	}

	finalBalance := decimal.Zero
	if balance, err := c.charger.GetBalance(ctx, req.AccountID); err != nil {
		log.WithError(err).Warn("Failed to read post-batch balance")
	} else {
		finalBalance = balance.Balance
	}
	for i := range results {
		results[i].Balance = finalBalance
	}

	c.metrics.countBatch("completed")
	log.WithFields(logging.Fields{
		"accepted":    accepted,
		"rejected":    rejected,
		"total_price": totalPrice.String(),
	}).Info("Batch dispatch completed")

	return &BatchResult{
		DispatchID: dispatchID,
		Total:      len(results),
		Accepted:   accepted,
		Rejected:   rejected,
		TotalPrice: totalPrice,
		Currency:   currency,
		Balance:    finalBalance,
		Results:    results,
	}, nil
}

// sendOne submits and charges a single batch member. Any failure becomes a
// rejected result with zero price; no error escapes to the group.
func (c *Controller) sendOne(ctx context.Context, req BatchRequest, dispatchID string, plan messagePlan) MessageResult {
	result := MessageResult{
		To:        plan.msg.To,
		UserSmsID: plan.msg.UserSmsID,
		Parts:     plan.parts,
		Encoding:  plan.encoding,
		Currency:  plan.currency,
		Price:     decimal.Zero,
	}

	messageID, err := c.carrier.Submit(ctx, carrier.SubmitRequest{
		To:          plan.msg.To,
		Body:        plan.msg.Body,
		Sender:      req.Sender,
		DLRCallback: c.dlrCallback,
		ClientRef:   plan.msg.UserSmsID,
	})
	if err != nil {
		c.metrics.countMessage("submit_failed")
		c.logger.WithFields(logging.Fields{
			"dispatch_id": dispatchID,
			"to":          plan.msg.To,
		}).WithError(err).Warn("Carrier submission failed")
		result.Status = ResultRejected
		result.Error = err.Error()
		return result
	}
	result.MessageID = messageID

	var userSmsID *string
	if plan.msg.UserSmsID != "" {
		userSmsID = &plan.msg.UserSmsID
	}
	charge, err := c.charger.ApplyCharge(ctx, billing.ChargeRequest{
		AccountID:    req.AccountID,
		MessageID:    messageID,
		MSISDN:       plan.msg.To,
		Sender:       req.Sender,
		ConnectorID:  plan.connector,
		Parts:        plan.parts,
		PricePerPart: plan.pricePerPart,
		Currency:     plan.currency,
		DispatchID:   &dispatchID,
		UserSmsID:    userSmsID,
	})
	if err != nil {
		c.metrics.countMessage("charge_failed")
		c.logger.WithFields(logging.Fields{
			"dispatch_id": dispatchID,
			"message_id":  messageID,
			"to":          plan.msg.To,
		}).WithError(err).Warn("Charge failed after submission")
		result.Status = ResultRejected
		result.Error = err.Error()
		return result
	}

	c.metrics.countMessage("accepted")
	result.Status = ResultAccepted
	if charge.CDR.Price != nil {
		result.Price = *charge.CDR.Price
	}
	return result
}

// Send sends a single message: route, price, funds gate, submit, charge.
func (c *Controller) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	parts, encoding := c.parts(req.Body)

	route, err := c.routes.GetRoute(ctx, req.To, req.AccountID, parts)
	if err != nil {
		return nil, err
	}
	cost := route.PricePerPart.Mul(decimal.NewFromInt(int64(parts)))

	check, err := c.charger.CheckBalance(ctx, req.AccountID, cost)
	if err != nil {
		return nil, err
	}
	if !check.Sufficient {
		return nil, &billing.InsufficientBalanceError{
			AccountID: req.AccountID,
			Required:  cost,
			Available: check.Available,
		}
	}

	messageID, err := c.carrier.Submit(ctx, carrier.SubmitRequest{
		To:          req.To,
		Body:        req.Body,
		Sender:      req.Sender,
		DLRCallback: c.dlrCallback,
		ClientRef:   req.UserSmsID,
	})
	if err != nil {
		return nil, err
	}

	var userSmsID *string
	if req.UserSmsID != "" {
		userSmsID = &req.UserSmsID
	}
	charge, err := c.charger.ApplyCharge(ctx, billing.ChargeRequest{
		AccountID:    req.AccountID,
		MessageID:    messageID,
		MSISDN:       req.To,
		Sender:       req.Sender,
		ConnectorID:  route.ConnectorID,
		Parts:        parts,
		PricePerPart: route.PricePerPart,
		Currency:     route.Currency,
		UserSmsID:    userSmsID,
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logging.Fields{
		"account_id": req.AccountID,
		"message_id": messageID,
		"to":         req.To,
		"parts":      parts,
	}).Info("Message sent")

	return &SendResponse{
		MessageID:   messageID,
		ConnectorID: route.ConnectorID,
		Parts:       parts,
		Encoding:    encoding,
		Price:       cost,
		Currency:    route.Currency,
		Balance:     charge.RemainingBalance,
		Status:      billing.StatusSubmitted,
	}, nil
}
