// Package handlers wires the billing core to the HTTP surface.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	tellerapi "smsgate/billing/pkg/api/teller"
	"smsgate/billing/pkg/logging"
	"smsgate/billing/pkg/middleware"

	"smsgate/billing/internal/billing"
	"smsgate/billing/internal/dispatch"
	"smsgate/billing/internal/smsparts"
)

// Handlers holds the HTTP handler dependencies
type Handlers struct {
	engine     *billing.ChargeEngine
	cdrs       *billing.CDRStore
	ledger     *billing.LedgerStore
	dispatcher *dispatch.Controller
	logger     logging.Logger
}

// New creates the handler set
func New(engine *billing.ChargeEngine, cdrs *billing.CDRStore, ledger *billing.LedgerStore, dispatcher *dispatch.Controller, logger logging.Logger) *Handlers {
	return &Handlers{
		engine:     engine,
		cdrs:       cdrs,
		ledger:     ledger,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// writeError maps domain errors onto HTTP statuses
func (h *Handlers) writeError(c middleware.Context, err error) {
	var insufficient *billing.InsufficientBalanceError
	var notFound *billing.NotFoundError
	var duplicate *billing.DuplicateMessageError
	var upstream *billing.UpstreamError

	switch {
	case errors.As(err, &insufficient):
		c.JSON(http.StatusPaymentRequired, tellerapi.InsufficientBalanceResponse{
			Error:     "Insufficient balance",
			AccountID: insufficient.AccountID,
			Required:  insufficient.Required,
			Available: insufficient.Available,
		})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: err.Error()})
	case errors.As(err, &duplicate):
		c.JSON(http.StatusConflict, tellerapi.ErrorResponse{Error: err.Error()})
	case errors.As(err, &upstream):
		c.JSON(http.StatusBadGateway, tellerapi.ErrorResponse{Error: err.Error()})
	default:
		h.logger.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Internal server error"})
	}
}

// ApplyCharge handles POST /v1/charges
func (h *Handlers) ApplyCharge(c middleware.Context) {
	var req billing.ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: err.Error()})
		return
	}

	result, err := h.engine.ApplyCharge(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tellerapi.ChargeResponse{
		MessageID:     result.CDR.MessageID,
		AccountID:     result.CDR.AccountID,
		Amount:        *result.CDR.Price,
		Currency:      result.CDR.Currency,
		Balance:       result.RemainingBalance,
		LedgerEntryID: result.LedgerEntryID,
		Status:        result.CDR.Status,
	})
}

// GetBalance handles GET /v1/accounts/:id/balance
func (h *Handlers) GetBalance(c middleware.Context) {
	balance, err := h.engine.GetBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, tellerapi.BalanceResponse{
		AccountID:   balance.AccountID,
		Balance:     balance.Balance,
		CreditLimit: balance.CreditLimit,
		Available:   balance.Available(),
		Currency:    balance.Currency,
		UpdatedAt:   balance.UpdatedAt,
	})
}

// CheckBalance handles POST /v1/accounts/:id/check-balance
func (h *Handlers) CheckBalance(c middleware.Context) {
	var req tellerapi.CheckBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: err.Error()})
		return
	}

	check, err := h.engine.CheckBalance(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, check)
}

// Credit handles POST /v1/accounts/:id/credits
func (h *Handlers) Credit(c middleware.Context) {
	var req tellerapi.CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: err.Error()})
		return
	}

	accountID := c.Param("id")
	entry, newBalance, err := h.engine.Credit(c.Request.Context(), accountID, req.Amount, req.Reason, req.Reference)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tellerapi.CreditResponse{
		LedgerEntryID: entry.ID,
		AccountID:     accountID,
		Amount:        entry.Amount,
		Balance:       newBalance,
		Currency:      entry.Currency,
	})
}

// ListLedger handles GET /v1/accounts/:id/ledger
func (h *Handlers) ListLedger(c middleware.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "limit must be between 1 and 1000"})
			return
		}
		limit = parsed
	}

	entries, err := h.ledger.ListEntries(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, middleware.H{"entries": entries, "count": len(entries)})
}

// GetMessage handles GET /v1/messages/:id
func (h *Handlers) GetMessage(c middleware.Context) {
	cdr, err := h.cdrs.FindByMessageID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, cdr)
}

// SendMessage handles POST /v1/messages/send
func (h *Handlers) SendMessage(c middleware.Context) {
	var req dispatch.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: err.Error()})
		return
	}

	resp, err := h.dispatcher.Send(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SendBatch handles POST /v1/messages/send-batch
func (h *Handlers) SendBatch(c middleware.Context) {
	var req dispatch.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: err.Error()})
		return
	}

	result, err := h.dispatcher.SendBatch(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// CheckMessage handles POST /v1/messages/check. It previews the part count
// and encoding, and what normalization would save, without sending anything.
func (h *Handlers) CheckMessage(c middleware.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, smsparts.Normalize(req.Message))
}

// GetDispatch handles GET /v1/dispatches/:id
func (h *Handlers) GetDispatch(c middleware.Context) {
	summary, err := h.cdrs.DispatchSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
