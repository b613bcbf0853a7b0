package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/PNeves10/aiquira-mvp/internal/api/middleware"
	"github.com/PNeves10/aiquira-mvp/internal/payment"
	"github.com/PNeves10/aiquira-mvp/internal/services"
)

// maxWebhookBody caps how much of a webhook request is read.
const maxWebhookBody = 64 * 1024

// CheckoutHandler handles purchases: opening checkout sessions, settling
// them from the provider's webhook, and the client-side confirm fallback.
type CheckoutHandler struct {
	transactionService services.ITransactionService
	provider           payment.ICheckoutProvider
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(transactionService services.ITransactionService, provider payment.ICheckoutProvider) *CheckoutHandler {
	return &CheckoutHandler{transactionService: transactionService, provider: provider}
}

type checkoutRequest struct {
	ListingID string `json:"listingId"`
}

// Checkout handles POST /api/checkout. Returns the hosted payment page URL
// the client must redirect to.
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	listingID, err := primitive.ObjectIDFromHex(req.ListingID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listingId"})
		return
	}

	txn, url, err := h.transactionService.InitiateCheckout(c.Request.Context(), middleware.UserID(c), listingID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOwnListing):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, mongo.ErrNoDocuments):
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start checkout"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "sessionId": txn.SessionID})
}

type confirmPaymentRequest struct {
	SessionID string `json:"sessionId"`
}

// ConfirmPayment handles POST /api/confirm-payment. The client calls this
// after being redirected back from the payment page. The session's status is
// fetched from the provider, never trusted from the client; settling goes
// through the same guarded transition as the webhook, so whichever path runs
// second is a no-op.
func (h *CheckoutHandler) ConfirmPayment(c *gin.Context) {
	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	session, err := h.provider.GetSession(c.Request.Context(), req.SessionID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not verify payment status"})
		return
	}

	switch session.Status {
	case payment.SessionStatusComplete:
		txn, _, err := h.transactionService.CompleteBySession(c.Request.Context(), req.SessionID)
		if err != nil {
			h.settleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": txn.Status})
	case payment.SessionStatusExpired:
		txn, _, err := h.transactionService.CancelBySession(c.Request.Context(), req.SessionID)
		if err != nil {
			h.settleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": txn.Status})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "pending"})
	}
}

// Webhook handles POST /api/webhook from the payment provider. The signature
// is verified before the payload is parsed; an unverifiable request is
// rejected without side effects.
func (h *CheckoutHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read payload"})
		return
	}

	event, err := h.provider.VerifyWebhook(payload, c.GetHeader("Signature"))
	if err != nil {
		log.Printf("Webhook rejected: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	switch event.Type {
	case payment.EventCheckoutCompleted:
		if _, _, err := h.transactionService.CompleteBySession(c.Request.Context(), event.Session.ID); err != nil {
			h.webhookSettleError(c, event.Session.ID, err)
			return
		}
	case payment.EventCheckoutExpired:
		if _, _, err := h.transactionService.CancelBySession(c.Request.Context(), event.Session.ID); err != nil {
			h.webhookSettleError(c, event.Session.ID, err)
			return
		}
	default:
		log.Printf("Ignoring webhook event type %q", event.Type)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Transactions handles GET /api/transactions for the authenticated user.
func (h *CheckoutHandler) Transactions(c *gin.Context) {
	txns, err := h.transactionService.ByUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch transactions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

func (h *CheckoutHandler) settleError(c *gin.Context, err error) {
	if errors.Is(err, mongo.ErrNoDocuments) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown session"})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to settle payment"})
}

// webhookSettleError answers the provider. Unknown sessions get 200 so the
// provider stops retrying an event we can never apply; real failures get 500
// to trigger a retry.
func (h *CheckoutHandler) webhookSettleError(c *gin.Context, sessionID string, err error) {
	if errors.Is(err, mongo.ErrNoDocuments) {
		log.Printf("Webhook for unknown session %s ignored", sessionID)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process event"})
}
