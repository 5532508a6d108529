package repository

import (
	"context"
	"testing"
	"time"

	"cycleport/internal/domain"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Feature: cycleport, Property 5: Created products round-trip their attributes
func TestProperty_ProductCreationPreservesAttributes(t *testing.T) {
	repo := NewProductRepository(testDB)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("stored product matches the input", prop.ForAll(
		func(name string, price float64, stock int, category string) bool {
			now := time.Now().UTC().Truncate(time.Microsecond)
			product := &domain.Product{
				ID:           uuid.New(),
				Name:         name,
				Slug:         "p-" + uuid.NewString(),
				Category:     domain.Category(category),
				Price:        price,
				Brand:        "Trek",
				CountInStock: stock,
				Specs:        &domain.ProductSpecs{Frame: "Alloy", Electric: stock%2 == 0},
				CreatedAt:    now,
				UpdatedAt:    now,
			}

			if err := repo.Create(ctx, product); err != nil {
				t.Logf("Failed to create product: %v", err)
				return false
			}

			got, err := repo.FindByID(ctx, product.ID)
			if err != nil {
				t.Logf("Failed to find product: %v", err)
				return false
			}

			if got.Name != name || got.Category != product.Category || got.CountInStock != stock {
				t.Logf("FAIL: mismatch %+v", got)
				return false
			}
			if diff := got.Price - price; diff > 0.005 || diff < -0.005 {
				t.Logf("FAIL: price %v vs %v", got.Price, price)
				return false
			}
			if got.Specs == nil || *got.Specs != *product.Specs {
				t.Logf("FAIL: specs %+v", got.Specs)
				return false
			}
			return got.NumReviews == 0 && got.Rating == 0 && len(got.Reviews) == 0
		},
		gen.RegexMatch(`[A-Za-z0-9 ]{3,50}`),
		gen.Float64Range(0.01, 99999.99),
		gen.IntRange(0, 1000),
		gen.OneConstOf("men", "women", "kids", "gear", "mountain"),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProductRepository_SlugTaken(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testDB)
	existing := seedProduct(t, 3, 100)

	dup := *existing
	dup.ID = uuid.New()
	assert.ErrorIs(t, repo.Create(ctx, &dup), ErrSlugTaken)

	other := seedProduct(t, 3, 100)
	other.Slug = existing.Slug
	assert.ErrorIs(t, repo.Update(ctx, other, nil), ErrSlugTaken)
}

func TestProductRepository_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testDB)
	product := seedProduct(t, 3, 100)

	product.Price = 250.5
	stock := 7
	require.NoError(t, repo.Update(ctx, product, &stock))
	assert.Equal(t, 7, product.CountInStock)

	got, err := repo.FindByID(ctx, product.ID)
	require.NoError(t, err)
	assert.InDelta(t, 250.5, got.Price, 0.001)
	assert.Equal(t, 7, got.CountInStock)

	require.NoError(t, repo.Delete(ctx, product.ID))
	_, err = repo.FindByID(ctx, product.ID)
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, product.ID), ErrProductNotFound)
}

func TestProductRepository_UpdateKeepsConcurrentStockChange(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testDB)
	orders := NewOrderRepository(testDB)
	user := seedUser(t)
	product := seedProduct(t, 5, 100)

	stale, err := repo.FindByID(ctx, product.ID)
	require.NoError(t, err)
	require.Equal(t, 5, stale.CountInStock)

	// a checkout commits between the admin's read and write
	require.NoError(t, orders.CreateWithStock(ctx, newOrder(user, line(product, 2))))

	stale.Name = stale.Name + " Pro"
	require.NoError(t, repo.Update(ctx, stale, nil))
	assert.Equal(t, 3, stale.CountInStock)
	assert.Equal(t, 3, stockOf(t, product.ID))

	got, err := repo.FindByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, stale.Name, got.Name)
}

func TestProductRepository_ListFiltersCombine(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testDB)

	marker := uuid.NewString()[:8]
	now := time.Now().UTC()
	for i, p := range []struct {
		name     string
		category domain.Category
		price    float64
	}{
		{"Kids Cruiser " + marker, domain.CategoryKids, 150},
		{"Kids Racer " + marker, domain.CategoryKids, 450},
		{"Women Roadster " + marker, domain.CategoryWomen, 300},
		{"Gear Helmet " + marker, domain.CategoryGear, 50},
	} {
		require.NoError(t, repo.Create(ctx, &domain.Product{
			ID:        uuid.New(),
			Name:      p.name,
			Slug:      "list-" + uuid.NewString(),
			Category:  p.category,
			Price:     p.price,
			Brand:     domain.DefaultBrand,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
			UpdatedAt: now,
		}))
	}

	maxPrice := 400.0
	products, err := repo.List(ctx, domain.ProductFilter{
		Name:       marker,
		Categories: []domain.Category{domain.CategoryKids, domain.CategoryWomen},
		MaxPrice:   &maxPrice,
	})
	require.NoError(t, err)

	names := []string{}
	for _, p := range products {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Women Roadster " + marker, "Kids Cruiser " + marker}, names)

	upper, err := repo.List(ctx, domain.ProductFilter{Name: "GEAR HELMET " + marker})
	require.NoError(t, err)
	assert.Len(t, upper, 1)
}

func TestProductRepository_SummaryQueries(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testDB)
	cheap := seedProduct(t, 1, 0.5)
	dear := seedProduct(t, 1, 99999)

	pr, err := repo.PriceRange(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, pr.MinPrice, cheap.Price)
	assert.GreaterOrEqual(t, pr.MaxPrice, dear.Price)

	categories, err := repo.Categories(ctx)
	require.NoError(t, err)
	assert.Contains(t, categories, domain.CategoryMountain)
}

func TestProductRepository_FindByIDs(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testDB)
	a := seedProduct(t, 1, 10)
	b := seedProduct(t, 1, 20)

	products, err := repo.FindByIDs(ctx, []uuid.UUID{b.ID, a.ID})
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, b.ID, products[0].ID)
	assert.Equal(t, a.ID, products[1].ID)

	_, err = repo.FindByIDs(ctx, []uuid.UUID{a.ID, uuid.New()})
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func newReview(productID uuid.UUID, user *domain.User, rating int) *domain.Review {
	return &domain.Review{
		ID:        uuid.New(),
		ProductID: productID,
		UserID:    user.ID,
		Name:      user.Name,
		Rating:    rating,
		Comment:   "Solid ride",
		CreatedAt: time.Now().UTC(),
	}
}

func assertAggregateMatchesReviews(t *testing.T, repo ProductRepository, productID uuid.UUID) *domain.Product {
	t.Helper()

	product, err := repo.FindByID(context.Background(), productID)
	require.NoError(t, err)

	agg := domain.RecomputeAggregate(product.Reviews)
	assert.Equal(t, agg.Count, product.NumReviews)
	assert.InDelta(t, agg.Mean(), product.Rating, 1e-9)
	return product
}

// Feature: cycleport, Property 2: Incremental rating equals full recompute
func TestProductRepository_ReviewLifecycleKeepsAggregate(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testDB)
	product := seedProduct(t, 5, 500)
	alice, bob := seedUser(t), seedUser(t)

	aliceReview := newReview(product.ID, alice, 5)
	require.NoError(t, repo.AddReview(ctx, aliceReview))
	require.NoError(t, repo.AddReview(ctx, newReview(product.ID, bob, 2)))

	got := assertAggregateMatchesReviews(t, repo, product.ID)
	assert.Equal(t, 2, got.NumReviews)
	assert.InDelta(t, 3.5, got.Rating, 1e-9)

	rating := 3
	updated, err := repo.UpdateReview(ctx, ReviewUpdate{
		ProductID: product.ID,
		ReviewID:  aliceReview.ID,
		UserID:    alice.ID,
		Rating:    &rating,
		At:        time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Rating)
	assert.NotNil(t, updated.UpdatedAt)
	assert.Equal(t, "Solid ride", updated.Comment)

	got = assertAggregateMatchesReviews(t, repo, product.ID)
	assert.InDelta(t, 2.5, got.Rating, 1e-9)

	require.NoError(t, repo.DeleteReview(ctx, product.ID, aliceReview.ID, alice.ID))
	got = assertAggregateMatchesReviews(t, repo, product.ID)
	assert.Equal(t, 1, got.NumReviews)
	assert.InDelta(t, 2.0, got.Rating, 1e-9)
}

func TestProductRepository_SecondReviewRejected(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testDB)
	product := seedProduct(t, 5, 500)
	user := seedUser(t)

	require.NoError(t, repo.AddReview(ctx, newReview(product.ID, user, 4)))
	assert.ErrorIs(t, repo.AddReview(ctx, newReview(product.ID, user, 1)), ErrAlreadyReviewed)

	got := assertAggregateMatchesReviews(t, repo, product.ID)
	assert.Equal(t, 1, got.NumReviews)
}

// Feature: cycleport, Property 6: Only the author can remove a review
func TestProductRepository_NonAuthorCannotModifyReview(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testDB)
	product := seedProduct(t, 5, 500)
	author, stranger := seedUser(t), seedUser(t)

	review := newReview(product.ID, author, 4)
	require.NoError(t, repo.AddReview(ctx, review))

	assert.ErrorIs(t, repo.DeleteReview(ctx, product.ID, review.ID, stranger.ID), ErrReviewForbidden)

	comment := "hijacked"
	_, err := repo.UpdateReview(ctx, ReviewUpdate{
		ProductID: product.ID,
		ReviewID:  review.ID,
		UserID:    stranger.ID,
		Comment:   &comment,
		At:        time.Now(),
	})
	assert.ErrorIs(t, err, ErrReviewForbidden)

	got := assertAggregateMatchesReviews(t, repo, product.ID)
	require.Len(t, got.Reviews, 1)
	assert.Equal(t, "Solid ride", got.Reviews[0].Comment)

	assert.ErrorIs(t, repo.DeleteReview(ctx, product.ID, uuid.New(), author.ID), ErrReviewNotFound)
	assert.ErrorIs(t, repo.AddReview(ctx, newReview(uuid.New(), author, 4)), ErrProductNotFound)
}
