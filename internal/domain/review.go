package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Review is a customer's rating of a product. One per user per product.
type Review struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	ProductID uuid.UUID  `json:"productId" db:"product_id"`
	UserID    uuid.UUID  `json:"user" db:"user_id"`
	Name      string     `json:"name" db:"name"`
	Rating    int        `json:"rating" db:"rating"`
	Comment   string     `json:"comment" db:"comment"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty" db:"updated_at"`
}

// ValidRating reports whether r is an accepted star rating
func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}

// RatingAggregate is the running (sum, count) pair stored next to a product's
// mean rating so that review writes never rescan the review collection.
type RatingAggregate struct {
	Sum   int
	Count int
}

// Add accounts for a new review
func (a RatingAggregate) Add(rating int) RatingAggregate {
	return RatingAggregate{Sum: a.Sum + rating, Count: a.Count + 1}
}

// Replace accounts for an edited review
func (a RatingAggregate) Replace(oldRating, newRating int) RatingAggregate {
	return RatingAggregate{Sum: a.Sum - oldRating + newRating, Count: a.Count}
}

// Remove accounts for a deleted review
func (a RatingAggregate) Remove(rating int) RatingAggregate {
	if a.Count <= 1 {
		return RatingAggregate{}
	}
	return RatingAggregate{Sum: a.Sum - rating, Count: a.Count - 1}
}

// Mean is the average rating, zero when there are no reviews
func (a RatingAggregate) Mean() float64 {
	if a.Count == 0 {
		return 0
	}
	return float64(a.Sum) / float64(a.Count)
}

// RecomputeAggregate rebuilds the aggregate from the full review list. O(n).
func RecomputeAggregate(reviews []Review) RatingAggregate {
	var agg RatingAggregate
	for _, r := range reviews {
		agg = agg.Add(r.Rating)
	}
	return agg
}

// ApplyAggregate copies the aggregate onto the product's denormalised fields
func (p *Product) ApplyAggregate(a RatingAggregate) {
	p.NumReviews = a.Count
	p.Rating = a.Mean()
}
