// Package carrier is the client for the message-submission collaborator.
// The carrier protocol itself is opaque here: submit a message, get back the
// provider-assigned message id or a failure.
package carrier

import (
	"context"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/go-resty/resty/v2"

	"smsgate/billing/internal/billing"
	"smsgate/billing/internal/clients"
	"smsgate/billing/pkg/logging"
)

// SubmitRequest describes one outbound message submission
type SubmitRequest struct {
	To          string
	Body        string
	Sender      string
	DLRCallback string
	ClientRef   string
}

// Config configures the carrier client
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	Retry    clients.RetryConfig
	Logger   logging.Logger
}

// Client talks to the carrier gateway
type Client struct {
	http     *resty.Client
	executor failsafe.Executor[*resty.Response]
	logger   logging.Logger
}

// NewClient creates a carrier client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if cfg.Retry == (clients.RetryConfig{}) {
		cfg.Retry = clients.DefaultRetryConfig()
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout)
	if cfg.Username != "" {
		http.SetBasicAuth(cfg.Username, cfg.Password)
	}

	return &Client{
		http:     http,
		executor: clients.NewExecutor(cfg.Retry),
		logger:   cfg.Logger,
	}
}

type submitPayload struct {
	To       string `json:"to"`
	Content  string `json:"content"`
	From     string `json:"from,omitempty"`
	DLRURL   string `json:"dlr_url,omitempty"`
	ClientID string `json:"custom,omitempty"`
}

type submitResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// Submit sends one message through the carrier and returns the provider
// message id. Rejections and transport failures surface as UpstreamError.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	var result submitResponse

	resp, err := clients.Execute(ctx, c.executor, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(submitPayload{
				To:       req.To,
				Content:  req.Body,
				From:     req.Sender,
				DLRURL:   req.DLRCallback,
				ClientID: req.ClientRef,
			}).
			SetResult(&result).
			Post("/secure/send")
	})
	if err != nil {
		return "", &billing.UpstreamError{Service: "carrier", Err: err}
	}
	if resp.IsError() {
		return "", &billing.UpstreamError{
			Service: "carrier",
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()),
		}
	}
	if result.MessageID == "" {
		return "", &billing.UpstreamError{
			Service: "carrier",
			Err:     fmt.Errorf("submission rejected: %s", result.Error),
		}
	}

	return result.MessageID, nil
}
