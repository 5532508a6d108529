package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cycleport/internal/domain"
	"cycleport/internal/payment"
	"cycleport/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CardPaymentMethod is recorded on reservations opened for card checkout
const CardPaymentMethod = "Card"

// PaymentService defines the interface for payment intents and webhook reconciliation
type PaymentService interface {
	CreatePaymentIntent(ctx context.Context, userID uuid.UUID, input PaymentIntentInput) (*PaymentIntentResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// PaymentIntentInput opens a card payment for an order. Items, when present,
// reserve stock for an order that does not exist yet.
type PaymentIntentInput struct {
	Amount  float64
	OrderID string
	Billing domain.BillingDetails
	Items   []domain.OrderItem
}

// PaymentIntentResult is handed to the browser to confirm the card payment
type PaymentIntentResult struct {
	ClientSecret string `json:"clientSecret"`
	OrderID      string `json:"orderId"`
}

// PaymentConfig holds the provider-independent payment settings
type PaymentConfig struct {
	Currency       string
	DefaultCountry string
	ReservationTTL time.Duration
}

type paymentService struct {
	orderRepo repository.OrderRepository
	gateway   payment.Gateway
	cfg       PaymentConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewPaymentService creates a new instance of PaymentService
func NewPaymentService(orderRepo repository.OrderRepository, gateway payment.Gateway, cfg PaymentConfig, logger *zap.Logger) PaymentService {
	return &paymentService{
		orderRepo: orderRepo,
		gateway:   gateway,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func sameAmount(a, b float64) bool {
	return decimal.NewFromFloat(a).Round(2).Equal(decimal.NewFromFloat(b).Round(2))
}

// payable reports whether a stored order may still take a payment. A released
// or shipped order has no stock behind it, and a reservation only counts
// while its hold is live.
func payable(order *domain.Order, now time.Time) bool {
	if order.Status != domain.OrderStatusPending {
		return false
	}
	return order.ReservedUntil == nil || order.ReservedUntil.After(now)
}

// CreatePaymentIntent opens a provider payment intent for the order named by
// input.OrderID, reserving stock first when items are supplied
func (s *paymentService) CreatePaymentIntent(ctx context.Context, userID uuid.UUID, input PaymentIntentInput) (*PaymentIntentResult, error) {
	if input.Amount <= 0 {
		return nil, invalidInput("invalid amount")
	}
	if !domain.ValidCorrelationID(input.OrderID) {
		return nil, invalidInput("a valid orderId is required")
	}
	if strings.TrimSpace(input.Billing.Name) == "" || strings.TrimSpace(input.Billing.Email) == "" {
		return nil, invalidInput("billing name and email are required")
	}
	if input.Billing.Address.Country == "" {
		input.Billing.Address.Country = s.cfg.DefaultCountry
	}

	minor, err := payment.ToMinorUnits(input.Amount)
	if err != nil {
		return nil, invalidInput("invalid amount")
	}

	hasOrder := true
	existing, err := s.orderRepo.FindByCorrelationID(ctx, input.OrderID)
	switch {
	case err == nil:
		if existing.UserID != userID {
			return nil, ErrOrderForbidden
		}
		if existing.IsPaid {
			return nil, ErrOrderAlreadyPaid
		}
		if !payable(existing, s.now()) {
			return nil, ErrOrderNotPayable
		}
		if !sameAmount(existing.Total, input.Amount) {
			return nil, invalidInput("amount does not match the order total")
		}
	case errors.Is(err, repository.ErrOrderNotFound):
		if len(input.Items) > 0 {
			if err := s.reserve(ctx, userID, input); err != nil {
				return nil, err
			}
		} else {
			hasOrder = false
			s.logger.Warn("Payment intent requested without an order",
				zap.String("order_id", input.OrderID),
				zap.String("user_id", userID.String()),
			)
		}
	default:
		return nil, fmt.Errorf("failed to look up order: %w", err)
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, payment.IntentRequest{
		OrderID:     input.OrderID,
		AmountMinor: minor,
		Currency:    s.cfg.Currency,
		Billing:     input.Billing,
	})
	if err != nil {
		s.logger.Error("Payment provider rejected intent", zap.String("order_id", input.OrderID), zap.Error(err))
		return nil, ErrPaymentProvider
	}

	if hasOrder {
		if err := s.orderRepo.SetPaymentIntent(ctx, input.OrderID, intent.ID); err != nil {
			s.logger.Warn("Failed to record payment intent on order",
				zap.String("order_id", input.OrderID),
				zap.String("payment_intent_id", intent.ID),
				zap.Error(err),
			)
		}
	}

	return &PaymentIntentResult{ClientSecret: intent.ClientSecret, OrderID: input.OrderID}, nil
}

// reserve holds stock for the checkout under a pending order that expires
// after the reservation TTL unless it is confirmed or paid
func (s *paymentService) reserve(ctx context.Context, userID uuid.UUID, input PaymentIntentInput) error {
	if err := validateItems(input.Items); err != nil {
		return err
	}

	now := s.now()
	until := now.Add(s.cfg.ReservationTTL)
	billing := input.Billing
	order := &domain.Order{
		ID:             uuid.New(),
		CustomOrderID:  input.OrderID,
		UserID:         userID,
		Items:          input.Items,
		Total:          roundMoney(input.Amount),
		PaymentMethod:  CardPaymentMethod,
		ReservedUntil:  &until,
		BillingDetails: &billing,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	order.ApplyStatus(domain.OrderStatusPending, now)

	if err := s.orderRepo.CreateWithStock(ctx, order); err != nil {
		var stockErr *domain.InsufficientStockError
		if errors.As(err, &stockErr) || errors.Is(err, repository.ErrProductNotFound) || errors.Is(err, repository.ErrOrderExists) {
			return err
		}
		return fmt.Errorf("failed to reserve stock: %w", err)
	}

	s.logger.Info("Stock reserved for checkout",
		zap.String("order_id", order.CustomOrderID),
		zap.Time("reserved_until", until),
	)
	return nil
}

// HandleWebhook verifies and applies a provider notification. Replays of a
// success event leave the order untouched.
func (s *paymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.gateway.ParseWebhookEvent(payload, signature)
	if err != nil {
		s.logger.Warn("Webhook signature verification failed", zap.Error(err))
		return payment.ErrInvalidSignature
	}

	switch event.Type {
	case payment.EventPaymentSucceeded:
		return s.markPaid(ctx, event)
	case payment.EventPaymentFailed:
		s.logger.Warn("Payment failed",
			zap.String("event_id", event.ID),
			zap.String("payment_intent_id", event.PaymentIntentID),
			zap.String("order_id", event.OrderID),
		)
	default:
		s.logger.Debug("Ignoring webhook event", zap.String("event_id", event.ID), zap.String("type", event.Type))
	}

	return nil
}

func (s *paymentService) markPaid(ctx context.Context, event *payment.Event) error {
	if event.OrderID == "" {
		s.logger.Warn("Payment succeeded without an order id", zap.String("payment_intent_id", event.PaymentIntentID))
		return nil
	}

	changed, err := s.orderRepo.MarkPaid(ctx, event.OrderID, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			s.logger.Warn("Payment succeeded for unknown order",
				zap.String("order_id", event.OrderID),
				zap.String("payment_intent_id", event.PaymentIntentID),
			)
			return nil
		}
		return fmt.Errorf("failed to mark order paid: %w", err)
	}

	if changed {
		s.logger.Info("Order marked paid", zap.String("order_id", event.OrderID), zap.String("event_id", event.ID))
	} else {
		s.logger.Info("Order already paid", zap.String("order_id", event.OrderID), zap.String("event_id", event.ID))
	}
	return nil
}
