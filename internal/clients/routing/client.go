// Package routing is the client for the routing-decision collaborator. It
// answers one question: which carrier connector carries a destination, and
// at what price per part.
package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"smsgate/billing/internal/billing"
	"smsgate/billing/internal/clients"
	"smsgate/billing/pkg/logging"
)

// Route is a routing decision for one destination
type Route struct {
	ConnectorID  string
	OperatorName string
	PricePerPart decimal.Decimal
	Currency     string
}

// Config configures the routing client
type Config struct {
	BaseURL string
	Timeout time.Duration
	Retry   clients.RetryConfig
	Logger  logging.Logger
}

// Client talks to the routing service
type Client struct {
	http     *resty.Client
	executor failsafe.Executor[*resty.Response]
	logger   logging.Logger
}

// NewClient creates a routing client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if cfg.Retry == (clients.RetryConfig{}) {
		cfg.Retry = clients.DefaultRetryConfig()
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout)

	return &Client{
		http:     http,
		executor: clients.NewExecutor(cfg.Retry),
		logger:   cfg.Logger,
	}
}

type routeRequest struct {
	DestinationMSISDN string `json:"destination_msisdn"`
	AccountID         string `json:"account_id"`
	MessageParts      int    `json:"message_parts"`
}

type routeResponse struct {
	PrimaryConnectorID string          `json:"primary_connector_id"`
	CostPerPart        decimal.Decimal `json:"cost_per_part"`
	Currency           string          `json:"currency"`
	OperatorName       string          `json:"operator_name"`
	RoutingDecision    string          `json:"routing_decision"`
	Message            string          `json:"message,omitempty"`
}

// GetRoute obtains the price per part and connector for a destination.
// Failures surface as UpstreamError; the caller must never default pricing.
func (c *Client) GetRoute(ctx context.Context, msisdn, accountID string, parts int) (*Route, error) {
	var result routeResponse

	resp, err := clients.Execute(ctx, c.executor, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(routeRequest{
				DestinationMSISDN: msisdn,
				AccountID:         accountID,
				MessageParts:      parts,
			}).
			SetResult(&result).
			Post("/v1/route")
	})
	if err != nil {
		return nil, &billing.UpstreamError{Service: "routing", Err: err}
	}
	if resp.IsError() {
		return nil, &billing.UpstreamError{
			Service: "routing",
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()),
		}
	}
	if result.RoutingDecision != "success" {
		return nil, &billing.UpstreamError{
			Service: "routing",
			Err:     fmt.Errorf("no route for %s: %s", msisdn, result.Message),
		}
	}

	return &Route{
		ConnectorID:  result.PrimaryConnectorID,
		OperatorName: result.OperatorName,
		PricePerPart: result.CostPerPart,
		Currency:     result.Currency,
	}, nil
}
