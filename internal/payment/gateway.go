package payment

import (
	"context"
	"errors"
	"fmt"

	"cycleport/internal/domain"

	"github.com/shopspring/decimal"
)

// Event types the reconciler acts on
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// ErrInvalidSignature is returned when a webhook payload fails verification
var ErrInvalidSignature = errors.New("invalid webhook signature")

// IntentRequest describes a card payment to open with the provider
type IntentRequest struct {
	OrderID     string
	AmountMinor int64
	Currency    string
	Billing     domain.BillingDetails
}

// Intent is the provider's handle on an opened payment
type Intent struct {
	ID           string
	ClientSecret string
}

// Event is a verified webhook notification reduced to what reconciliation needs
type Event struct {
	ID              string
	Type            string
	PaymentIntentID string
	OrderID         string
}

// Gateway is the payment provider boundary
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	ParseWebhookEvent(payload []byte, signature string) (*Event, error)
}

// ToMinorUnits converts a major-unit amount to the smallest currency unit,
// rounding half away from zero. Amounts that round to zero are rejected.
func ToMinorUnits(amount float64) (int64, error) {
	d := decimal.NewFromFloat(amount)
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("amount must be positive, got %s", d.String())
	}
	minor := d.Shift(2).Round(0).IntPart()
	if minor == 0 {
		return 0, fmt.Errorf("amount %s is below the smallest currency unit", d.String())
	}
	return minor, nil
}
