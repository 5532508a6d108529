package transport

import (
	"net/http"

	"cycleport/internal/domain"
	"cycleport/internal/middleware"
	"cycleport/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CreateOrderRequest represents the checkout payload
type CreateOrderRequest struct {
	OrderID        string                 `json:"orderId"`
	Items          []domain.OrderItem     `json:"items"`
	Total          float64                `json:"total"`
	Status         string                 `json:"status"`
	PaymentMethod  string                 `json:"paymentMethod"`
	ShippingInfo   *domain.ShippingInfo   `json:"shippingInfo"`
	BillingDetails *domain.BillingDetails `json:"billingDetails"`
}

// ValidateStockRequest lists the cart lines to check against current stock
type ValidateStockRequest struct {
	Items []domain.OrderItem `json:"items"`
}

// UpdateOrderStatusRequest moves an order to a new status
type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending paid shipped cancelled"`
}

type orderEnvelope struct {
	Order *domain.Order `json:"order"`
}

// OrderHandler handles HTTP requests for orders
type OrderHandler struct {
	orderService service.OrderService
	logger       *zap.Logger
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(orderService service.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		logger:       logger,
	}
}

// RegisterRoutes registers the order routes. Every route requires authentication.
func (h *OrderHandler) RegisterRoutes(r chi.Router, authMiddleware, adminMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Use(authMiddleware)

		r.Post("/", h.Create)
		r.Post("/validate-stock", h.ValidateStock)
		r.Get("/mine", h.ListMine)

		r.Group(func(r chi.Router) {
			r.Use(adminMiddleware)
			r.Get("/admin", h.ListAll)
			r.Patch("/{id}/status", h.UpdateStatus)
		})
	})
}

// Create places an order or confirms the caller's payment reservation
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := actingUser(w, r)
	if !ok {
		return
	}

	var req CreateOrderRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	order, err := h.orderService.CreateOrder(r.Context(), caller.ID, service.CreateOrderInput{
		OrderID:        req.OrderID,
		Items:          req.Items,
		Total:          req.Total,
		Status:         domain.OrderStatus(req.Status),
		PaymentMethod:  req.PaymentMethod,
		ShippingInfo:   req.ShippingInfo,
		BillingDetails: req.BillingDetails,
	})
	if err != nil {
		respondWithServiceError(w, h.logger, err, "Create order")
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, orderEnvelope{Order: order})
}

// ValidateStock checks the cart against current stock without reserving anything
func (h *OrderHandler) ValidateStock(w http.ResponseWriter, r *http.Request) {
	var req ValidateStockRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	if err := h.orderService.ValidateStock(r.Context(), req.Items); err != nil {
		respondWithServiceError(w, h.logger, err, "Validate stock")
		return
	}

	middleware.RespondWithMessage(w, http.StatusOK, "All items are in stock")
}

// ListMine returns the caller's orders, newest first
func (h *OrderHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := actingUser(w, r)
	if !ok {
		return
	}

	orders, err := h.orderService.ListMine(r.Context(), caller.ID)
	if err != nil {
		respondWithServiceError(w, h.logger, err, "List user orders")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, orders)
}

// ListAll returns every order with its owner (admin)
func (h *OrderHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderService.ListAll(r.Context())
	if err != nil {
		respondWithServiceError(w, h.logger, err, "List all orders")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, orders)
}

// UpdateStatus changes an order's status (admin)
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateOrderStatusRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	order, err := h.orderService.UpdateStatus(r.Context(), id, domain.OrderStatus(req.Status))
	if err != nil {
		respondWithServiceError(w, h.logger, err, "Update order status")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, orderEnvelope{Order: order})
}
