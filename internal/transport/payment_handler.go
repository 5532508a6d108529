package transport

import (
	"errors"
	"io"
	"net/http"

	"cycleport/internal/domain"
	"cycleport/internal/middleware"
	"cycleport/internal/payment"
	"cycleport/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// MaxWebhookBytes bounds the raw webhook body read for signature verification
const MaxWebhookBytes = 64 << 10

// StripeSignatureHeader carries the webhook signature
const StripeSignatureHeader = "Stripe-Signature"

// CreatePaymentIntentRequest represents the card checkout payload
type CreatePaymentIntentRequest struct {
	Amount         float64               `json:"amount"`
	OrderID        string                `json:"orderId"`
	BillingDetails domain.BillingDetails `json:"billingDetails"`
	Items          []domain.OrderItem    `json:"items"`
}

type webhookAck struct {
	Received bool `json:"received"`
}

// PaymentHandler handles payment intent creation and provider webhooks
type PaymentHandler struct {
	paymentService service.PaymentService
	logger         *zap.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(paymentService service.PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		logger:         logger,
	}
}

// RegisterRoutes registers the authenticated payment routes
func (h *PaymentHandler) RegisterRoutes(r chi.Router, authMiddleware, rateLimit func(http.Handler) http.Handler) {
	r.Route("/api/payment", func(r chi.Router) {
		r.Use(authMiddleware, rateLimit)
		r.Post("/create-payment-intent", h.CreatePaymentIntent)
	})
}

// RegisterWebhook mounts the webhook endpoint. It must be registered on a
// router whose middleware does not consume the request body.
func (h *PaymentHandler) RegisterWebhook(r chi.Router) {
	r.Post("/api/webhook", h.Webhook)
}

// CreatePaymentIntent opens a card payment for the caller's order
func (h *PaymentHandler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	caller, ok := actingUser(w, r)
	if !ok {
		return
	}

	var req CreatePaymentIntentRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	result, err := h.paymentService.CreatePaymentIntent(r.Context(), caller.ID, service.PaymentIntentInput{
		Amount:  req.Amount,
		OrderID: req.OrderID,
		Billing: req.BillingDetails,
		Items:   req.Items,
	})
	if err != nil {
		respondWithServiceError(w, h.logger, err, "Create payment intent")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, result)
}

// Webhook verifies and applies a provider notification
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.RespondWithError(w, http.StatusRequestEntityTooLarge, "webhook payload too large")
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "failed to read webhook payload")
		return
	}

	err = h.paymentService.HandleWebhook(r.Context(), payload, r.Header.Get(StripeSignatureHeader))
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			h.logger.Warn("Rejected webhook", zap.Error(err))
			middleware.RespondWithError(w, http.StatusBadRequest, "webhook signature verification failed")
			return
		}
		respondWithServiceError(w, h.logger, err, "Handle webhook")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, webhookAck{Received: true})
}
