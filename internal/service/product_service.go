package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cycleport/internal/cache"
	"cycleport/internal/domain"
	"cycleport/internal/repository"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

const (
	cacheKeyCategories = "products:categories"
	cacheKeyPriceRange = "products:price-range"
)

// ProductService defines the interface for catalogue and review business logic
type ProductService interface {
	List(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	Categories(ctx context.Context) ([]domain.Category, error)
	PriceRange(ctx context.Context) (domain.PriceRange, error)
	Compare(ctx context.Context, ids []uuid.UUID) ([]domain.ProductComparison, error)
	Create(ctx context.Context, input ProductInput) (*domain.Product, error)
	Update(ctx context.Context, id uuid.UUID, input ProductInput) (*domain.Product, error)
	Delete(ctx context.Context, id uuid.UUID) error

	AddReview(ctx context.Context, productID uuid.UUID, author *domain.User, rating int, comment string) (*domain.Review, error)
	UpdateReview(ctx context.Context, productID, reviewID, userID uuid.UUID, rating *int, comment *string) (*domain.Review, error)
	DeleteReview(ctx context.Context, productID, reviewID, userID uuid.UUID) error
}

// ProductInput carries create and update fields. Nil means not supplied.
type ProductInput struct {
	Name         *string
	Description  *string
	Image        *string
	Category     *string
	Price        *float64
	Brand        *string
	CountInStock *int
	Featured     *bool
	Specs        *domain.ProductSpecs
}

type productService struct {
	repo   repository.ProductRepository
	cache  *cache.Cache
	logger *zap.Logger
	now    func() time.Time
}

// NewProductService creates a new instance of ProductService. A nil cache disables caching.
func NewProductService(repo repository.ProductRepository, c *cache.Cache, logger *zap.Logger) ProductService {
	return &productService{
		repo:   repo,
		cache:  c,
		logger: logger,
		now:    time.Now,
	}
}

func (s *productService) List(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error) {
	products, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// Get returns the product with its reviews. It is the authoritative stock read.
func (s *productService) Get(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

func (s *productService) Categories(ctx context.Context) ([]domain.Category, error) {
	if s.cache == nil {
		return s.repo.Categories(ctx)
	}
	return cache.Fetch(ctx, s.cache, cacheKeyCategories, s.repo.Categories)
}

func (s *productService) PriceRange(ctx context.Context) (domain.PriceRange, error) {
	if s.cache == nil {
		return s.repo.PriceRange(ctx)
	}
	return cache.Fetch(ctx, s.cache, cacheKeyPriceRange, s.repo.PriceRange)
}

// Compare returns the spec sheets of two or more products
func (s *productService) Compare(ctx context.Context, ids []uuid.UUID) ([]domain.ProductComparison, error) {
	if len(ids) < 2 {
		return nil, invalidInput("please provide at least two product ids to compare")
	}

	products, err := s.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	out := make([]domain.ProductComparison, len(products))
	for i, p := range products {
		out[i] = domain.ProductComparison{
			ID:    p.ID,
			Name:  p.Name,
			Image: p.Image,
			Brand: p.Brand,
			Specs: p.Specs,
		}
	}
	return out, nil
}

// Create adds a product. Name, positive price, category and brand are required.
func (s *productService) Create(ctx context.Context, input ProductInput) (*domain.Product, error) {
	if input.Name == nil || strings.TrimSpace(*input.Name) == "" ||
		input.Price == nil || input.Category == nil || input.Brand == nil || strings.TrimSpace(*input.Brand) == "" {
		return nil, invalidInput("missing required fields: name, price, category, brand")
	}
	if *input.Price <= 0 {
		return nil, invalidInput("price must be a positive number")
	}
	if input.CountInStock != nil && *input.CountInStock < 0 {
		return nil, invalidInput("countInStock must be a non-negative number")
	}
	category := domain.Category(*input.Category)
	if !category.Valid() {
		return nil, invalidInput("invalid category: %s", *input.Category)
	}

	name := strings.TrimSpace(*input.Name)
	now := s.now()
	product := &domain.Product{
		ID:        uuid.New(),
		Name:      name,
		Slug:      slug.Make(name),
		Category:  category,
		Price:     *input.Price,
		Brand:     strings.TrimSpace(*input.Brand),
		Specs:     input.Specs,
		Reviews:   []domain.Review{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if input.Description != nil {
		product.Description = *input.Description
	}
	if input.Image != nil {
		product.Image = *input.Image
	}
	if input.CountInStock != nil {
		product.CountInStock = *input.CountInStock
	}
	if input.Featured != nil {
		product.Featured = *input.Featured
	}

	if err := s.repo.Create(ctx, product); err != nil {
		if errors.Is(err, repository.ErrSlugTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.invalidateSummaries(ctx)
	s.logger.Info("Product created", zap.String("product_id", product.ID.String()), zap.String("slug", product.Slug))
	return product, nil
}

// Update applies a partial edit. A new name re-derives the slug; a non-positive
// price or negative stock is ignored.
func (s *productService) Update(ctx context.Context, id uuid.UUID, input ProductInput) (*domain.Product, error) {
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	if input.Name != nil && strings.TrimSpace(*input.Name) != "" {
		product.Name = strings.TrimSpace(*input.Name)
		product.Slug = slug.Make(product.Name)
	}
	if input.Description != nil && *input.Description != "" {
		product.Description = *input.Description
	}
	if input.Image != nil && *input.Image != "" {
		product.Image = *input.Image
	}
	if input.Category != nil && *input.Category != "" {
		category := domain.Category(*input.Category)
		if !category.Valid() {
			return nil, invalidInput("invalid category: %s", *input.Category)
		}
		product.Category = category
	}
	if input.Price != nil && *input.Price > 0 {
		product.Price = *input.Price
	}
	if input.Brand != nil && *input.Brand != "" {
		product.Brand = *input.Brand
	}
	var stock *int
	if input.CountInStock != nil && *input.CountInStock >= 0 {
		stock = input.CountInStock
	}
	if input.Featured != nil {
		product.Featured = *input.Featured
	}
	if input.Specs != nil {
		product.Specs = input.Specs
	}

	if err := s.repo.Update(ctx, product, stock); err != nil {
		if errors.Is(err, repository.ErrSlugTaken) || errors.Is(err, repository.ErrProductNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	s.invalidateSummaries(ctx)
	return product, nil
}

func (s *productService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete product: %w", err)
	}

	s.invalidateSummaries(ctx)
	s.logger.Info("Product deleted", zap.String("product_id", id.String()))
	return nil
}

func (s *productService) invalidateSummaries(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKeyCategories, cacheKeyPriceRange); err != nil {
		s.logger.Warn("Failed to invalidate product summaries", zap.Error(err))
	}
}

// AddReview records the author's single review and folds it into the product rating
func (s *productService) AddReview(ctx context.Context, productID uuid.UUID, author *domain.User, rating int, comment string) (*domain.Review, error) {
	if !domain.ValidRating(rating) {
		return nil, invalidInput("rating must be a number between %d and %d", domain.MinRating, domain.MaxRating)
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, invalidInput("comment is required")
	}

	review := &domain.Review{
		ID:        uuid.New(),
		ProductID: productID,
		UserID:    author.ID,
		Name:      author.Name,
		Rating:    rating,
		Comment:   comment,
		CreatedAt: s.now(),
	}

	if err := s.repo.AddReview(ctx, review); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) || errors.Is(err, repository.ErrAlreadyReviewed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to add review: %w", err)
	}

	return review, nil
}

// UpdateReview lets the author change rating and/or comment
func (s *productService) UpdateReview(ctx context.Context, productID, reviewID, userID uuid.UUID, rating *int, comment *string) (*domain.Review, error) {
	if rating != nil && !domain.ValidRating(*rating) {
		return nil, invalidInput("rating must be a number between %d and %d", domain.MinRating, domain.MaxRating)
	}
	if comment != nil && strings.TrimSpace(*comment) == "" {
		comment = nil
	}

	review, err := s.repo.UpdateReview(ctx, repository.ReviewUpdate{
		ProductID: productID,
		ReviewID:  reviewID,
		UserID:    userID,
		Rating:    rating,
		Comment:   comment,
		At:        s.now(),
	})
	if err != nil {
		if isReviewError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update review: %w", err)
	}

	return review, nil
}

// DeleteReview lets the author remove their review
func (s *productService) DeleteReview(ctx context.Context, productID, reviewID, userID uuid.UUID) error {
	if err := s.repo.DeleteReview(ctx, productID, reviewID, userID); err != nil {
		if isReviewError(err) {
			return err
		}
		return fmt.Errorf("failed to delete review: %w", err)
	}
	return nil
}

func isReviewError(err error) bool {
	return errors.Is(err, repository.ErrProductNotFound) ||
		errors.Is(err, repository.ErrReviewNotFound) ||
		errors.Is(err, repository.ErrReviewForbidden)
}
