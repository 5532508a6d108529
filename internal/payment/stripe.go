package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

// StripeGateway talks to Stripe with the account's secret key
type StripeGateway struct {
	api            *client.API
	webhookSecret  string
	defaultCountry string
	logger         *zap.Logger
}

// NewStripeGateway creates a gateway bound to one Stripe account
func NewStripeGateway(secretKey, webhookSecret, defaultCountry string, logger *zap.Logger) *StripeGateway {
	return &StripeGateway{
		api:            client.New(secretKey, nil),
		webhookSecret:  webhookSecret,
		defaultCountry: defaultCountry,
		logger:         logger,
	}
}

func (g *StripeGateway) address(req IntentRequest) *stripe.AddressParams {
	country := req.Billing.Address.Country
	if country == "" {
		country = g.defaultCountry
	}
	return &stripe.AddressParams{
		Line1:      stripe.String(req.Billing.Address.Line1),
		City:       stripe.String(req.Billing.Address.City),
		PostalCode: stripe.String(req.Billing.Address.PostalCode),
		Country:    stripe.String(country),
	}
}

// CreatePaymentIntent creates a customer from the billing details and opens a
// payment intent for it, tagged with the order's correlation id
func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	customerParams := &stripe.CustomerParams{
		Name:    stripe.String(req.Billing.Name),
		Email:   stripe.String(req.Billing.Email),
		Phone:   stripe.String(req.Billing.Phone),
		Address: g.address(req),
	}
	customerParams.Context = ctx

	customer, err := g.api.Customers.New(customerParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe customer: %w", err)
	}

	intentParams := &stripe.PaymentIntentParams{
		Amount:       stripe.Int64(req.AmountMinor),
		Currency:     stripe.String(req.Currency),
		Customer:     stripe.String(customer.ID),
		Description:  stripe.String("CyclePort Order - " + req.OrderID),
		ReceiptEmail: stripe.String(req.Billing.Email),
		Shipping: &stripe.ShippingDetailsParams{
			Name:    stripe.String(req.Billing.Name),
			Phone:   stripe.String(req.Billing.Phone),
			Address: g.address(req),
		},
	}
	intentParams.Context = ctx
	intentParams.AddMetadata("orderId", req.OrderID)

	intent, err := g.api.PaymentIntents.New(intentParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe payment intent: %w", err)
	}

	g.logger.Info("Payment intent created",
		zap.String("order_id", req.OrderID),
		zap.String("payment_intent_id", intent.ID),
		zap.Int64("amount", req.AmountMinor),
	)

	return &Intent{ID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

// ParseWebhookEvent verifies the Stripe-Signature header against the raw
// payload and extracts the payment intent it refers to
func (g *StripeGateway) ParseWebhookEvent(payload []byte, signature string) (*Event, error) {
	return parseStripeEvent(payload, signature, g.webhookSecret)
}

func parseStripeEvent(payload []byte, signature, secret string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: event.ID, Type: string(event.Type)}

	switch out.Type {
	case EventPaymentSucceeded, EventPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent: %w", err)
		}
		out.PaymentIntentID = intent.ID
		out.OrderID = intent.Metadata["orderId"]
	}

	return out, nil
}
