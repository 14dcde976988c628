package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/charges"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/webhook"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/withdrawals"
)

const maxEntriesLimit = 100

type AccountLedger interface {
	GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error)
	GetRecentEntries(ctx context.Context, accountID int64, limit int) ([]models.LedgerEntry, error)
	GetLedgerEntries(ctx context.Context, accountID int64) ([]models.LedgerEntry, error)
}

type ChargeIssuer interface {
	Issue(ctx context.Context, planID int64, buyer charges.Buyer) (*charges.Result, error)
}

type WebhookHandler interface {
	Handle(ctx context.Context, signature string, body []byte) (webhook.Result, error)
}

type WithdrawalService interface {
	Request(ctx context.Context, req withdrawals.Request) (*models.Withdrawal, error)
	Approve(ctx context.Context, id int64) (*models.Withdrawal, error)
	Reject(ctx context.Context, id int64) (*models.Withdrawal, error)
	Process(ctx context.Context, id int64) (*models.Withdrawal, error)
}

// Services are the operations exposed over HTTP.
type Services struct {
	Ledger      AccountLedger
	Charges     ChargeIssuer
	Webhooks    WebhookHandler
	Withdrawals WithdrawalService
}

type Handler struct {
	svc    Services
	logger logrus.FieldLogger
}

func NewHandler(svc Services, logger logrus.FieldLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// PaymentWebhook acknowledges every authenticated, parseable callback with 200
// so the processor stops retrying; the outcome is reported in the body.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		abortWith(c, http.StatusBadRequest, "INVALID_REQUEST", "Unreadable body")
		return
	}

	res, err := h.svc.Webhooks.Handle(c.Request.Context(), c.GetHeader(webhook.SignatureHeader), body)
	switch {
	case errors.Is(err, webhook.ErrInvalidSignature):
		abortWith(c, http.StatusUnauthorized, "INVALID_SIGNATURE", "Invalid signature")
		return
	case errors.Is(err, webhook.ErrUnparseable):
		abortWith(c, http.StatusBadRequest, "INVALID_REQUEST", "Unparseable payload")
		return
	case err != nil:
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": res.Outcome})
}

type chargeRequest struct {
	PlanID    int64  `json:"plan_id" binding:"required,gt=0"`
	BuyerID   int64  `json:"buyer_id" binding:"required,gt=0"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

func (h *Handler) CreateCharge(c *gin.Context) {
	var req chargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	res, err := h.svc.Charges.Issue(c.Request.Context(), req.PlanID, charges.Buyer{
		ID:        req.BuyerID,
		FirstName: req.FirstName,
		Username:  req.Username,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetBalance(c *gin.Context) {
	accountID := c.GetInt64(ctxTarget)
	balance, err := h.svc.Ledger.GetBalance(c.Request.Context(), accountID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": accountID,
		"balance":    balance.StringFixed(2),
	})
}

func (h *Handler) GetEntries(c *gin.Context) {
	accountID := c.GetInt64(ctxTarget)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			abortWith(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer")
			return
		}
		limit = min(n, maxEntriesLimit)
	}

	entries, err := h.svc.Ledger.GetRecentEntries(c.Request.Context(), accountID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": accountID,
		"entries":    entries,
	})
}

// GetStatement returns the full ledger of an account, oldest first, including
// pending charge placeholders. Admin only.
func (h *Handler) GetStatement(c *gin.Context) {
	accountID := c.GetInt64(ctxTarget)
	entries, err := h.svc.Ledger.GetLedgerEntries(c.Request.Context(), accountID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": accountID,
		"entries":    entries,
	})
}

func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req withdrawals.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	req.AccountID = c.GetInt64(ctxTarget)

	w, err := h.svc.Withdrawals.Request(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (h *Handler) ApproveWithdrawal(c *gin.Context) {
	h.transition(c, h.svc.Withdrawals.Approve)
}

func (h *Handler) RejectWithdrawal(c *gin.Context) {
	h.transition(c, h.svc.Withdrawals.Reject)
}

// ProcessWithdrawal pays out through the processor. A refused payout still
// changed state (failed and refunded) and an unconfirmed one is left
// processing, so both answers carry the withdrawal.
func (h *Handler) ProcessWithdrawal(c *gin.Context) {
	id, ok := withdrawalID(c)
	if !ok {
		return
	}
	w, err := h.svc.Withdrawals.Process(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, w)
	case w != nil && errors.Is(err, withdrawals.ErrPayoutFailed):
		c.JSON(http.StatusBadGateway, gin.H{
			"status":     "error",
			"code":       "PAYOUT_FAILED",
			"message":    "payout refused by the processor, the amount was refunded",
			"withdrawal": w,
		})
	case w != nil && errors.Is(err, withdrawals.ErrPayoutUnconfirmed):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":     "error",
			"code":       "PAYOUT_UNCONFIRMED",
			"message":    "payout outcome unknown, retry processing or approve once confirmed",
			"withdrawal": w,
		})
	default:
		h.writeError(c, err)
	}
}

func (h *Handler) transition(c *gin.Context, op func(context.Context, int64) (*models.Withdrawal, error)) {
	id, ok := withdrawalID(c)
	if !ok {
		return
	}
	w, err := op(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func withdrawalID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abortWith(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid withdrawal id")
		return 0, false
	}
	return id, true
}
