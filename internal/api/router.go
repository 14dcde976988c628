package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes registers every endpoint on router.
func (h *Handler) SetupRoutes(router *gin.Engine, auth *Authenticator) {
	router.GET("/healthz", h.Health)
	router.POST("/payment-webhook", h.PaymentWebhook)

	v1 := router.Group("/api/v1")
	// Charges are opened by the bot front end on a buyer's behalf, never by
	// the buyer directly.
	v1.POST("/charges", auth.Required(), h.CreateCharge)

	accounts := v1.Group("/accounts/:id", auth.Required(), OwnAccount())
	{
		accounts.GET("/balance", h.GetBalance)
		accounts.GET("/entries", h.GetEntries)
		accounts.GET("/statement", auth.AdminOnly(), h.GetStatement)
		accounts.POST("/withdrawals", h.RequestWithdrawal)
	}

	admin := v1.Group("/withdrawals/:id", auth.Required(), auth.AdminOnly())
	{
		admin.POST("/approve", h.ApproveWithdrawal)
		admin.POST("/reject", h.RejectWithdrawal)
		admin.POST("/process", h.ProcessWithdrawal)
	}
}

// NewRouter builds the engine with recovery and request logging.
func NewRouter(h *Handler, auth *Authenticator, logger logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))
	h.SetupRoutes(router, auth)
	return router
}
