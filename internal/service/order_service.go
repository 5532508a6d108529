package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cycleport/internal/domain"
	"cycleport/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderService defines the interface for checkout and order business logic
type OrderService interface {
	ValidateStock(ctx context.Context, items []domain.OrderItem) error
	CreateOrder(ctx context.Context, userID uuid.UUID, input CreateOrderInput) (*domain.Order, error)
	ListMine(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error)
	ListAll(ctx context.Context) ([]*domain.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) (*domain.Order, error)
}

// CreateOrderInput is a checkout request
type CreateOrderInput struct {
	OrderID        string
	Items          []domain.OrderItem
	Total          float64
	Status         domain.OrderStatus
	PaymentMethod  string
	ShippingInfo   *domain.ShippingInfo
	BillingDetails *domain.BillingDetails
}

type orderService struct {
	orderRepo   repository.OrderRepository
	productRepo repository.ProductRepository
	logger      *zap.Logger
	now         func() time.Time
}

// NewOrderService creates a new instance of OrderService
func NewOrderService(orderRepo repository.OrderRepository, productRepo repository.ProductRepository, logger *zap.Logger) OrderService {
	return &orderService{
		orderRepo:   orderRepo,
		productRepo: productRepo,
		logger:      logger,
		now:         time.Now,
	}
}

// validateItems checks the shape of order lines; stock is checked separately
func validateItems(items []domain.OrderItem) error {
	if len(items) == 0 {
		return invalidInput("no order items")
	}
	for i, item := range items {
		if item.ProductID == uuid.Nil {
			return invalidInput("item %d: productId is required", i+1)
		}
		if strings.TrimSpace(item.Name) == "" {
			return invalidInput("item %d: name is required", i+1)
		}
		if item.Quantity < 1 {
			return invalidInput("item %d: quantity must be at least 1", i+1)
		}
		if item.Price < 0 {
			return invalidInput("item %d: price must not be negative", i+1)
		}
	}
	return nil
}

// roundMoney keeps totals at two decimal places
func roundMoney(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// ValidateStock compares each line against the product's current stock. The
// first line that does not fit aborts with an InsufficientStockError.
func (s *orderService) ValidateStock(ctx context.Context, items []domain.OrderItem) error {
	if len(items) == 0 {
		return invalidInput("no order items")
	}

	quantities := (&domain.Order{Items: items}).Quantities()
	ids := make([]uuid.UUID, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	products, err := s.productRepo.FindByIDs(ctx, ids)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return err
		}
		return fmt.Errorf("failed to load products: %w", err)
	}

	stock := make(map[uuid.UUID]*domain.Product, len(products))
	for _, p := range products {
		stock[p.ID] = p
	}

	for _, item := range items {
		p := stock[item.ProductID]
		if requested := quantities[item.ProductID]; requested > p.CountInStock {
			return &domain.InsufficientStockError{
				ProductID: p.ID,
				Name:      p.Name,
				Requested: requested,
				Available: p.CountInStock,
			}
		}
	}

	return nil
}

// CreateOrder places an order, or confirms the caller's reservation when the
// correlation id names one
func (s *orderService) CreateOrder(ctx context.Context, userID uuid.UUID, input CreateOrderInput) (*domain.Order, error) {
	if err := validateItems(input.Items); err != nil {
		return nil, err
	}
	if input.Total <= 0 {
		return nil, invalidInput("total must be a positive number")
	}

	status := input.Status
	if status == "" {
		status = domain.OrderStatusPending
	}
	if !status.Valid() {
		return nil, invalidInput("invalid order status: %s", input.Status)
	}

	paymentMethod := input.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = domain.DefaultPaymentMethod
	}

	now := s.now()
	correlationID := input.OrderID
	if correlationID == "" {
		correlationID = domain.NewCorrelationID(now)
	} else {
		if !domain.ValidCorrelationID(correlationID) {
			return nil, invalidInput("invalid order id")
		}

		existing, err := s.orderRepo.FindByCorrelationID(ctx, correlationID)
		switch {
		case err == nil:
			return s.confirm(ctx, userID, existing, status, paymentMethod, input, now)
		case !errors.Is(err, repository.ErrOrderNotFound):
			return nil, fmt.Errorf("failed to look up order: %w", err)
		}
	}

	order := &domain.Order{
		ID:             uuid.New(),
		CustomOrderID:  correlationID,
		UserID:         userID,
		Items:          input.Items,
		Total:          roundMoney(input.Total),
		PaymentMethod:  paymentMethod,
		ShippingInfo:   input.ShippingInfo,
		BillingDetails: input.BillingDetails,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	order.ApplyStatus(status, now)

	if err := s.orderRepo.CreateWithStock(ctx, order); err != nil {
		return nil, s.wrapCreateError(err)
	}

	s.logger.Info("Order created",
		zap.String("order_id", order.CustomOrderID),
		zap.String("user_id", userID.String()),
		zap.String("status", string(order.Status)),
	)
	return order, nil
}

func (s *orderService) confirm(ctx context.Context, userID uuid.UUID, existing *domain.Order, status domain.OrderStatus, paymentMethod string, input CreateOrderInput, now time.Time) (*domain.Order, error) {
	if existing.UserID != userID {
		return nil, ErrOrderForbidden
	}
	if !existing.IsReservation() {
		return nil, repository.ErrOrderExists
	}

	existing.PaymentMethod = paymentMethod
	existing.ShippingInfo = input.ShippingInfo
	existing.BillingDetails = input.BillingDetails

	if err := s.orderRepo.ConfirmReservation(ctx, existing, status, now); err != nil {
		if errors.Is(err, repository.ErrReservationInactive) {
			return nil, repository.ErrOrderExists
		}
		return nil, fmt.Errorf("failed to confirm reservation: %w", err)
	}

	s.logger.Info("Reservation confirmed",
		zap.String("order_id", existing.CustomOrderID),
		zap.String("user_id", userID.String()),
		zap.Bool("is_paid", existing.IsPaid),
	)
	return existing, nil
}

func (s *orderService) wrapCreateError(err error) error {
	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) ||
		errors.Is(err, repository.ErrProductNotFound) ||
		errors.Is(err, repository.ErrOrderExists) {
		return err
	}
	return fmt.Errorf("failed to create order: %w", err)
}

func (s *orderService) ListMine(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	orders, err := s.orderRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *orderService) ListAll(ctx context.Context) ([]*domain.Order, error) {
	orders, err := s.orderRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// UpdateStatus moves an order to status, keeping isPaid and paidAt consistent
func (s *orderService) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, invalidInput("invalid order status: %s", status)
	}

	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	order.ApplyStatus(status, s.now())
	if err := s.orderRepo.SaveStatus(ctx, order); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	s.logger.Info("Order status updated", zap.String("order_id", order.CustomOrderID), zap.String("status", string(status)))
	return order, nil
}
