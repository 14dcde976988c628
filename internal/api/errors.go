package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/charges"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/fees"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/processor"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/withdrawals"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Current string `json:"current_status,omitempty"`
}

func abortWith(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Status: "error", Code: code, Message: message})
}

// writeError maps a service error onto an HTTP answer. Anything unrecognised
// is logged and reported as 500 without detail.
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		validation *withdrawals.ValidationError
		transition *withdrawals.TransitionError
	)
	switch {
	case errors.As(err, &validation):
		abortWith(c, http.StatusBadRequest, validationCode(validation), validation.Reason)
	case errors.As(err, &transition):
		c.AbortWithStatusJSON(http.StatusConflict, ErrorResponse{
			Status:  "error",
			Code:    "INVALID_TRANSITION",
			Message: transition.Error(),
			Current: string(transition.Current),
		})
	case errors.Is(err, withdrawals.ErrNotFound):
		abortWith(c, http.StatusNotFound, "NOT_FOUND", "withdrawal not found")
	case errors.Is(err, charges.ErrPlanNotFound), errors.Is(err, charges.ErrBotNotFound):
		abortWith(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, interfaces.ErrProcessorRejected):
		abortWith(c, http.StatusBadGateway, "PROCESSOR_REJECTED", "payment processor refused the request")
	case errors.Is(err, processor.ErrProcessorUnavailable):
		abortWith(c, http.StatusServiceUnavailable, "PROCESSOR_UNAVAILABLE", "payment processor unavailable, try again later")
	default:
		h.logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("request failed")
		abortWith(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func validationCode(err *withdrawals.ValidationError) string {
	switch {
	case errors.Is(err, withdrawals.ErrBelowMinimum):
		return "BELOW_MINIMUM"
	case errors.Is(err, withdrawals.ErrInsufficientBalance):
		return "INSUFFICIENT_BALANCE"
	case errors.Is(err, fees.ErrFeeExceedsAmount):
		return "FEE_EXCEEDS_AMOUNT"
	default:
		return "INVALID_REQUEST"
	}
}
