package transport

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"cycleport/internal/domain"
	"cycleport/internal/middleware"
	"cycleport/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProductRequest is the body of product create and update. Absent fields are nil.
type ProductRequest struct {
	Name         *string              `json:"name"`
	Description  *string              `json:"description"`
	Image        *string              `json:"image"`
	Category     *string              `json:"category"`
	Price        *float64             `json:"price"`
	Brand        *string              `json:"brand"`
	CountInStock *int                 `json:"countInStock"`
	Featured     *bool                `json:"featured"`
	Specs        *domain.ProductSpecs `json:"specs"`
}

func (req ProductRequest) input() service.ProductInput {
	return service.ProductInput{
		Name:         req.Name,
		Description:  req.Description,
		Image:        req.Image,
		Category:     req.Category,
		Price:        req.Price,
		Brand:        req.Brand,
		CountInStock: req.CountInStock,
		Featured:     req.Featured,
		Specs:        req.Specs,
	}
}

// AddReviewRequest is a new review
type AddReviewRequest struct {
	Rating  int    `json:"rating" validate:"required,gte=1,lte=5"`
	Comment string `json:"comment" validate:"required"`
}

// UpdateReviewRequest edits a review. Absent fields are kept.
type UpdateReviewRequest struct {
	Rating  *int    `json:"rating" validate:"omitempty,gte=1,lte=5"`
	Comment *string `json:"comment"`
}

type productEnvelope struct {
	Product *domain.Product `json:"product"`
}

type reviewEnvelope struct {
	Message string         `json:"message"`
	Review  *domain.Review `json:"review,omitempty"`
}

// ProductHandler handles HTTP requests for the catalogue and reviews
type ProductHandler struct {
	productService service.ProductService
	logger         *zap.Logger
}

// NewProductHandler creates a new ProductHandler
func NewProductHandler(productService service.ProductService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		productService: productService,
		logger:         logger,
	}
}

// RegisterRoutes registers the product and review routes
func (h *ProductHandler) RegisterRoutes(r chi.Router, authMiddleware, adminMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/categories", h.Categories)
		r.Get("/price-range", h.PriceRange)
		r.Get("/compare/specs", h.Compare)
		r.Get("/{id}", h.Get)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/{id}/reviews", h.AddReview)
			r.Put("/{id}/reviews/{reviewId}", h.UpdateReview)
			r.Delete("/{id}/reviews/{reviewId}", h.DeleteReview)
		})

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware, adminMiddleware)
			r.Post("/", h.Create)
			r.Put("/{id}", h.Update)
			r.Delete("/{id}", h.Delete)
		})
	})
}

// parseFilter reads name, category and price bounds from the query string.
// Non-numeric price bounds are ignored.
func parseFilter(q url.Values) domain.ProductFilter {
	filter := domain.ProductFilter{Name: strings.TrimSpace(q.Get("name"))}

	for _, c := range strings.Split(q.Get("category"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			filter.Categories = append(filter.Categories, domain.Category(c))
		}
	}

	if v, err := strconv.ParseFloat(q.Get("minPrice"), 64); err == nil {
		filter.MinPrice = &v
	}
	if v, err := strconv.ParseFloat(q.Get("maxPrice"), 64); err == nil {
		filter.MaxPrice = &v
	}

	return filter
}

// List returns products matching the query filters, newest first
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.productService.List(r.Context(), parseFilter(r.URL.Query()))
	if err != nil {
		respondWithServiceError(w, h.logger, err, "List products")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, products)
}

// Get returns one product with its reviews
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	product, err := h.productService.Get(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, h.logger, err, "Get product")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, product)
}

func (h *ProductHandler) Categories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.productService.Categories(r.Context())
	if err != nil {
		respondWithServiceError(w, h.logger, err, "List categories")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, categories)
}

func (h *ProductHandler) PriceRange(w http.ResponseWriter, r *http.Request) {
	priceRange, err := h.productService.PriceRange(r.Context())
	if err != nil {
		respondWithServiceError(w, h.logger, err, "Price range")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, priceRange)
}

// Compare returns the spec sheets of the products named in ?ids=a,b
func (h *ProductHandler) Compare(w http.ResponseWriter, r *http.Request) {
	var ids []uuid.UUID
	for _, raw := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if raw = strings.TrimSpace(raw); raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "invalid product id: "+raw)
			return
		}
		ids = append(ids, id)
	}

	specs, err := h.productService.Compare(r.Context(), ids)
	if err != nil {
		respondWithServiceError(w, h.logger, err, "Compare products")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, specs)
}

// Create adds a product (admin)
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	product, err := h.productService.Create(r.Context(), req.input())
	if err != nil {
		respondWithServiceError(w, h.logger, err, "Create product")
		return
	}
	middleware.RespondWithJSON(w, http.StatusCreated, product)
}

// Update edits a product (admin)
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req ProductRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	product, err := h.productService.Update(r.Context(), id, req.input())
	if err != nil {
		respondWithServiceError(w, h.logger, err, "Update product")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, productEnvelope{Product: product})
}

// Delete removes a product (admin)
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.productService.Delete(r.Context(), id); err != nil {
		respondWithServiceError(w, h.logger, err, "Delete product")
		return
	}
	middleware.RespondWithMessage(w, http.StatusOK, "Product deleted")
}

// AddReview records the caller's review of a product
func (h *ProductHandler) AddReview(w http.ResponseWriter, r *http.Request) {
	caller, ok := actingUser(w, r)
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req AddReviewRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	review, err := h.productService.AddReview(r.Context(), productID, caller, req.Rating, req.Comment)
	if err != nil {
		respondWithServiceError(w, h.logger, err, "Add review")
		return
	}
	middleware.RespondWithJSON(w, http.StatusCreated, reviewEnvelope{Message: "Review added", Review: review})
}

// UpdateReview edits the caller's own review
func (h *ProductHandler) UpdateReview(w http.ResponseWriter, r *http.Request) {
	caller, ok := actingUser(w, r)
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	reviewID, ok := pathID(w, r, "reviewId")
	if !ok {
		return
	}

	var req UpdateReviewRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	review, err := h.productService.UpdateReview(r.Context(), productID, reviewID, caller.ID, req.Rating, req.Comment)
	if err != nil {
		respondWithServiceError(w, h.logger, err, "Update review")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, reviewEnvelope{Message: "Review updated", Review: review})
}

// DeleteReview removes the caller's own review
func (h *ProductHandler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	caller, ok := actingUser(w, r)
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	reviewID, ok := pathID(w, r, "reviewId")
	if !ok {
		return
	}

	if err := h.productService.DeleteReview(r.Context(), productID, reviewID, caller.ID); err != nil {
		respondWithServiceError(w, h.logger, err, "Delete review")
		return
	}
	middleware.RespondWithMessage(w, http.StatusOK, "Review deleted")
}
