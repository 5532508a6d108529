package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// DefaultPaymentMethod is used when the checkout does not name one
const DefaultPaymentMethod = "COD"

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusCancelled:
		return true
	}
	return false
}

// Order is an immutable snapshot of a checkout. Items carry the name and
// price at purchase time so later catalogue edits do not rewrite history.
type Order struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	CustomOrderID   string          `json:"customOrderId" db:"custom_order_id"`
	UserID          uuid.UUID       `json:"userId" db:"user_id"`
	Items           []OrderItem     `json:"items"`
	Total           float64         `json:"total" db:"total"`
	Status          OrderStatus     `json:"status" db:"status"`
	PaymentMethod   string          `json:"paymentMethod" db:"payment_method"`
	IsPaid          bool            `json:"isPaid" db:"is_paid"`
	PaidAt          *time.Time      `json:"paidAt" db:"paid_at"`
	PaymentIntentID string          `json:"paymentIntentId,omitempty" db:"payment_intent_id"`
	ReservedUntil   *time.Time      `json:"reservedUntil,omitempty" db:"reserved_until"`
	ShippingInfo    *ShippingInfo   `json:"shippingInfo,omitempty" db:"shipping_info"`
	BillingDetails  *BillingDetails `json:"billingDetails,omitempty" db:"billing_details"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`

	// Populated only for admin listings
	Customer *OrderCustomer `json:"customer,omitempty"`
}

// OrderItem is one purchased line
type OrderItem struct {
	ProductID uuid.UUID `json:"productId" db:"product_id"`
	Name      string    `json:"name" db:"name"`
	Quantity  int       `json:"quantity" db:"quantity"`
	Price     float64   `json:"price" db:"price"`
}

// OrderCustomer is the owner summary shown to admins
type OrderCustomer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ShippingInfo is the delivery address captured at checkout
type ShippingInfo struct {
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// BillingDetails is the payer snapshot sent to the payment provider
type BillingDetails struct {
	Name    string         `json:"name"`
	Email   string         `json:"email"`
	Phone   string         `json:"phone,omitempty"`
	Address BillingAddress `json:"address"`
}

// BillingAddress is the structured payer address
type BillingAddress struct {
	Line1      string `json:"line1,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// ApplyStatus sets the status and keeps IsPaid and PaidAt consistent with it:
// paid implies IsPaid and a PaidAt, every other status clears both.
func (o *Order) ApplyStatus(status OrderStatus, now time.Time) {
	o.Status = status
	if status == OrderStatusPaid {
		o.IsPaid = true
		if o.PaidAt == nil {
			paidAt := now
			o.PaidAt = &paidAt
		}
		return
	}
	o.IsPaid = false
	o.PaidAt = nil
}

// IsReservation reports whether the order is a stock hold made at payment-intent
// time that the checkout has not confirmed yet. The webhook may already have
// marked it paid.
func (o *Order) IsReservation() bool {
	if o.ReservedUntil == nil {
		return false
	}
	return o.Status == OrderStatusPending || o.Status == OrderStatusPaid
}

// InsufficientStockError reports the first order line that cannot be filled
type InsufficientStockError struct {
	ProductID uuid.UUID
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Only %d units of %s are available.", e.Available, e.Name)
}

// Quantities sums ordered quantities per product
func (o *Order) Quantities() map[uuid.UUID]int {
	out := make(map[uuid.UUID]int, len(o.Items))
	for _, item := range o.Items {
		out[item.ProductID] += item.Quantity
	}
	return out
}

var (
	correlationSuffix = mustGenerator(nanoid.CustomASCII("0123456789abcdefghijklmnopqrstuvwxyz", 10))
	correlationIDRe   = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// NewCorrelationID returns a timestamp-prefixed id that links a payment
// provider transaction to an order
func NewCorrelationID(now time.Time) string {
	return fmt.Sprintf("order-%d-%s", now.UnixMilli(), correlationSuffix())
}

// ValidCorrelationID reports whether a client supplied id is acceptable
func ValidCorrelationID(id string) bool {
	return correlationIDRe.MatchString(id)
}

func mustGenerator(gen func() string, err error) func() string {
	if err != nil {
		panic(fmt.Sprintf("correlation id generator: %v", err))
	}
	return gen
}
