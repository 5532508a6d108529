package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cycleport/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrSlugTaken       = errors.New("a product with this name already exists")
	ErrReviewNotFound  = errors.New("review not found")
	ErrReviewForbidden = errors.New("review belongs to another user")
	ErrAlreadyReviewed = errors.New("product already reviewed")
)

// ProductRepository defines the interface for product and review data access
type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) error
	Update(ctx context.Context, product *domain.Product, stock *int) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Product, error)
	List(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error)
	Categories(ctx context.Context) ([]domain.Category, error)
	PriceRange(ctx context.Context) (domain.PriceRange, error)

	AddReview(ctx context.Context, review *domain.Review) error
	UpdateReview(ctx context.Context, update ReviewUpdate) (*domain.Review, error)
	DeleteReview(ctx context.Context, productID, reviewID, userID uuid.UUID) error
}

// ReviewUpdate carries an author's edit. Nil fields are left unchanged.
type ReviewUpdate struct {
	ProductID uuid.UUID
	ReviewID  uuid.UUID
	UserID    uuid.UUID
	Rating    *int
	Comment   *string
	At        time.Time
}

type productRepository struct {
	db *sql.DB
}

// NewProductRepository creates a new instance of ProductRepository
func NewProductRepository(db *sql.DB) ProductRepository {
	return &productRepository{db: db}
}

const productColumns = `id, name, slug, description, image, category, price, brand, count_in_stock,
	featured, rating, num_reviews, specs, created_at, updated_at`

func scanProduct(row interface{ Scan(...interface{}) error }) (*domain.Product, error) {
	product := &domain.Product{Reviews: []domain.Review{}}
	var specs []byte

	err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Slug,
		&product.Description,
		&product.Image,
		&product.Category,
		&product.Price,
		&product.Brand,
		&product.CountInStock,
		&product.Featured,
		&product.Rating,
		&product.NumReviews,
		&specs,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	var s domain.ProductSpecs
	ok, err := scanJSON(specs, &s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode product specs: %w", err)
	}
	if ok {
		product.Specs = &s
	}

	return product, nil
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// Create inserts a new product into the database using parameterized queries
func (r *productRepository) Create(ctx context.Context, product *domain.Product) error {
	specs, err := jsonValue(product.Specs, product.Specs == nil)
	if err != nil {
		return fmt.Errorf("failed to encode product specs: %w", err)
	}

	query := `
		INSERT INTO products (id, name, slug, description, image, category, price, brand,
			count_in_stock, featured, specs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.ExecContext(
		ctx,
		query,
		product.ID,
		product.Name,
		product.Slug,
		product.Description,
		product.Image,
		string(product.Category),
		money(product.Price),
		product.Brand,
		product.CountInStock,
		product.Featured,
		specs,
		product.CreatedAt,
		product.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err, "products_slug_key") {
			return ErrSlugTaken
		}
		return fmt.Errorf("failed to create product: %w", err)
	}

	return nil
}

// Update writes the editable catalogue fields. Rating fields are owned by the
// review writes, and count_in_stock is only written when stock is non-nil so
// concurrent checkouts and releases are not overwritten. The stored count is
// read back into the product.
func (r *productRepository) Update(ctx context.Context, product *domain.Product, stock *int) error {
	specs, err := jsonValue(product.Specs, product.Specs == nil)
	if err != nil {
		return fmt.Errorf("failed to encode product specs: %w", err)
	}

	query := `
		UPDATE products
		SET name = $2, slug = $3, description = $4, image = $5, category = $6, price = $7,
		    brand = $8, count_in_stock = COALESCE($9::int, count_in_stock), featured = $10, specs = $11
		WHERE id = $1
		RETURNING count_in_stock, updated_at
	`

	err = r.db.QueryRowContext(
		ctx,
		query,
		product.ID,
		product.Name,
		product.Slug,
		product.Description,
		product.Image,
		string(product.Category),
		money(product.Price),
		product.Brand,
		stock,
		product.Featured,
		specs,
	).Scan(&product.CountInStock, &product.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProductNotFound
		}
		if isUniqueViolation(err, "products_slug_key") {
			return ErrSlugTaken
		}
		return fmt.Errorf("failed to update product: %w", err)
	}

	return nil
}

// Delete removes a product and, by cascade, its reviews
func (r *productRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM products WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrProductNotFound
	}

	return nil
}

// FindByID retrieves a product with its reviews, oldest review first
func (r *productRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to find product by ID: %w", err)
	}

	reviews, err := r.reviewsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	product.Reviews = reviews

	return product, nil
}

func (r *productRepository) reviewsFor(ctx context.Context, productID uuid.UUID) ([]domain.Review, error) {
	query := `
		SELECT id, product_id, user_id, name, rating, comment, created_at, updated_at
		FROM reviews
		WHERE product_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	reviews := []domain.Review{}
	for rows.Next() {
		var review domain.Review
		if err := rows.Scan(
			&review.ID,
			&review.ProductID,
			&review.UserID,
			&review.Name,
			&review.Rating,
			&review.Comment,
			&review.CreatedAt,
			&review.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, review)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reviews: %w", err)
	}

	return reviews, nil
}

// FindByIDs retrieves products without reviews, in the order the ids were given
func (r *productRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Product, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1::uuid[])`

	rows, err := r.db.QueryContext(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to find products: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*domain.Product, len(ids))
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		byID[product.ID] = product
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	products := make([]*domain.Product, 0, len(ids))
	for _, id := range ids {
		product, ok := byID[id]
		if !ok {
			return nil, ErrProductNotFound
		}
		products = append(products, product)
	}

	return products, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// List retrieves products matching every populated filter field, newest first
func (r *productRepository) List(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error) {
	conditions := []string{}
	args := []interface{}{}
	argIndex := 1

	if filter.Name != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", argIndex))
		args = append(args, "%"+likeEscaper.Replace(filter.Name)+"%")
		argIndex++
	}

	if len(filter.Categories) > 0 {
		categories := make([]string, len(filter.Categories))
		for i, c := range filter.Categories {
			categories[i] = string(c)
		}
		conditions = append(conditions, fmt.Sprintf("category = ANY($%d::text[])", argIndex))
		args = append(args, categories)
		argIndex++
	}

	if filter.MinPrice != nil {
		conditions = append(conditions, fmt.Sprintf("price >= $%d", argIndex))
		args = append(args, money(*filter.MinPrice))
		argIndex++
	}

	if filter.MaxPrice != nil {
		conditions = append(conditions, fmt.Sprintf("price <= $%d", argIndex))
		args = append(args, money(*filter.MaxPrice))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM products
		%s
		ORDER BY created_at DESC, id
	`, productColumns, whereClause)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := []*domain.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, product)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	return products, nil
}

// Categories returns the distinct categories present in the catalogue
func (r *productRepository) Categories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT category FROM products ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	categories := []domain.Category{}
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	return categories, nil
}

// PriceRange returns the cheapest and dearest price, zero for an empty catalogue
func (r *productRepository) PriceRange(ctx context.Context) (domain.PriceRange, error) {
	var pr domain.PriceRange
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MIN(price), 0), COALESCE(MAX(price), 0) FROM products`,
	).Scan(&pr.MinPrice, &pr.MaxPrice)

	if err != nil {
		return domain.PriceRange{}, fmt.Errorf("failed to read price range: %w", err)
	}

	return pr, nil
}

// lockAggregate locks the product row and returns its rating aggregate
func lockAggregate(ctx context.Context, tx *sql.Tx, productID uuid.UUID) (domain.RatingAggregate, error) {
	var agg domain.RatingAggregate
	err := tx.QueryRowContext(ctx,
		`SELECT rating_sum, num_reviews FROM products WHERE id = $1 FOR UPDATE`,
		productID,
	).Scan(&agg.Sum, &agg.Count)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return agg, ErrProductNotFound
		}
		return agg, fmt.Errorf("failed to lock product: %w", err)
	}

	return agg, nil
}

func storeAggregate(ctx context.Context, tx *sql.Tx, productID uuid.UUID, agg domain.RatingAggregate) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE products SET rating_sum = $2, num_reviews = $3, rating = $4 WHERE id = $1`,
		productID, agg.Sum, agg.Count, agg.Mean(),
	)
	if err != nil {
		return fmt.Errorf("failed to update rating: %w", err)
	}
	return nil
}

// AddReview inserts a review and folds it into the product's rating in one transaction
func (r *productRepository) AddReview(ctx context.Context, review *domain.Review) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		agg, err := lockAggregate(ctx, tx, review.ProductID)
		if err != nil {
			return err
		}

		var exists bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM reviews WHERE product_id = $1 AND user_id = $2)`,
			review.ProductID, review.UserID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check existing review: %w", err)
		}
		if exists {
			return ErrAlreadyReviewed
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO reviews (id, product_id, user_id, name, rating, comment, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			review.ID,
			review.ProductID,
			review.UserID,
			review.Name,
			review.Rating,
			review.Comment,
			review.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err, "reviews_product_user_key") {
				return ErrAlreadyReviewed
			}
			return fmt.Errorf("failed to create review: %w", err)
		}

		return storeAggregate(ctx, tx, review.ProductID, agg.Add(review.Rating))
	})
}

// lockReview loads a review for modification and checks its author
func lockReview(ctx context.Context, tx *sql.Tx, productID, reviewID, userID uuid.UUID) (*domain.Review, error) {
	review := &domain.Review{}
	err := tx.QueryRowContext(ctx, `
		SELECT id, product_id, user_id, name, rating, comment, created_at, updated_at
		FROM reviews
		WHERE id = $1 AND product_id = $2
		FOR UPDATE
	`, reviewID, productID).Scan(
		&review.ID,
		&review.ProductID,
		&review.UserID,
		&review.Name,
		&review.Rating,
		&review.Comment,
		&review.CreatedAt,
		&review.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("failed to find review: %w", err)
	}

	if review.UserID != userID {
		return nil, ErrReviewForbidden
	}

	return review, nil
}

// UpdateReview applies an author's edit and adjusts the product's rating in one transaction
func (r *productRepository) UpdateReview(ctx context.Context, update ReviewUpdate) (*domain.Review, error) {
	var review *domain.Review

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		agg, err := lockAggregate(ctx, tx, update.ProductID)
		if err != nil {
			return err
		}

		review, err = lockReview(ctx, tx, update.ProductID, update.ReviewID, update.UserID)
		if err != nil {
			return err
		}

		oldRating := review.Rating
		if update.Rating != nil {
			review.Rating = *update.Rating
		}
		if update.Comment != nil {
			review.Comment = *update.Comment
		}
		at := update.At
		review.UpdatedAt = &at

		_, err = tx.ExecContext(ctx,
			`UPDATE reviews SET rating = $2, comment = $3, updated_at = $4 WHERE id = $1`,
			review.ID, review.Rating, review.Comment, at,
		)
		if err != nil {
			return fmt.Errorf("failed to update review: %w", err)
		}

		return storeAggregate(ctx, tx, update.ProductID, agg.Replace(oldRating, review.Rating))
	})
	if err != nil {
		return nil, err
	}

	return review, nil
}

// DeleteReview removes an author's review and adjusts the product's rating in one transaction
func (r *productRepository) DeleteReview(ctx context.Context, productID, reviewID, userID uuid.UUID) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		agg, err := lockAggregate(ctx, tx, productID)
		if err != nil {
			return err
		}

		review, err := lockReview(ctx, tx, productID, reviewID, userID)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM reviews WHERE id = $1`, review.ID); err != nil {
			return fmt.Errorf("failed to delete review: %w", err)
		}

		return storeAggregate(ctx, tx, productID, agg.Remove(review.Rating))
	})
}
