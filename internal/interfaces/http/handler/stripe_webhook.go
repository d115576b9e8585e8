package handler

import (
	"errors"
	"io"
	"net/http"

	appbilling "github.com/biocloudlabs/backend/internal/application/billing"
	"github.com/biocloudlabs/backend/internal/domain/shared"
	"github.com/gin-gonic/gin"
)

// Maximum webhook payload size (64KB - Stripe webhooks are typically small)
const maxWebhookPayloadSize = 65536

// StripeWebhookHandler handles Stripe webhook endpoints
// These endpoints are called by Stripe and do not require authentication
type StripeWebhookHandler struct {
	BaseHandler
	settlementService *appbilling.SettlementService
}

// NewStripeWebhookHandler creates a new StripeWebhookHandler
func NewStripeWebhookHandler(settlementService *appbilling.SettlementService) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		settlementService: settlementService,
	}
}

// StripeWebhookResponse represents the response for Stripe webhook
type StripeWebhookResponse struct {
	Received bool   `json:"received"`
	Message  string `json:"message,omitempty"`
}

// HandleStripeWebhook godoc
// @Summary      Handle Stripe webhook
// @Description  Receive checkout session events and settle the matching invoice
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        Stripe-Signature header string true "Stripe webhook signature"
// @Success      200 {object} StripeWebhookResponse "Webhook processed"
// @Failure      401 {object} StripeWebhookResponse "Invalid signature"
// @Failure      413 {object} StripeWebhookResponse "Payload too large"
// @Router       /webhooks/stripe [post]
func (h *StripeWebhookHandler) HandleStripeWebhook(c *gin.Context) {
	// Stripe requires the raw body for signature verification
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookPayloadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, StripeWebhookResponse{
			Received: false,
			Message:  "Failed to read request body",
		})
		return
	}

	if len(payload) > maxWebhookPayloadSize {
		c.JSON(http.StatusRequestEntityTooLarge, StripeWebhookResponse{
			Received: false,
			Message:  "Payload too large",
		})
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		c.JSON(http.StatusUnauthorized, StripeWebhookResponse{
			Received: false,
			Message:  "Missing Stripe-Signature header",
		})
		return
	}

	err = h.settlementService.HandleWebhook(c.Request.Context(), payload, signature)
	if err != nil {
		if errors.Is(err, shared.ErrSignatureInvalid) {
			c.JSON(http.StatusUnauthorized, StripeWebhookResponse{
				Received: false,
				Message:  "Webhook signature verification failed",
			})
			return
		}

		// Processing errors still return 200 so Stripe stops redelivering
		// events this deployment cannot handle. Internal details stay out
		// of the response.
		c.JSON(http.StatusOK, StripeWebhookResponse{
			Received: true,
			Message:  "Webhook received but processing encountered an issue",
		})
		return
	}

	c.JSON(http.StatusOK, StripeWebhookResponse{
		Received: true,
		Message:  "Webhook processed",
	})
}
