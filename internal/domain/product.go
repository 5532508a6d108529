package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category is the fixed set of catalogue sections
type Category string

const (
	CategoryMen      Category = "men"
	CategoryWomen    Category = "women"
	CategoryKids     Category = "kids"
	CategoryGear     Category = "gear"
	CategoryMountain Category = "mountain"
)

// DefaultBrand is stored when a product is created without a brand
const DefaultBrand = "Generic"

// Categories returns every valid category
func Categories() []Category {
	return []Category{CategoryMen, CategoryWomen, CategoryKids, CategoryGear, CategoryMountain}
}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Product represents a bicycle or accessory in the catalogue
type Product struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	Name         string        `json:"name" db:"name"`
	Slug         string        `json:"slug" db:"slug"`
	Description  string        `json:"description" db:"description"`
	Image        string        `json:"image" db:"image"`
	Category     Category      `json:"category" db:"category"`
	Price        float64       `json:"price" db:"price"`
	Brand        string        `json:"brand" db:"brand"`
	CountInStock int           `json:"countInStock" db:"count_in_stock"`
	Featured     bool          `json:"featured" db:"featured"`
	Rating       float64       `json:"rating" db:"rating"`
	NumReviews   int           `json:"numReviews" db:"num_reviews"`
	Reviews      []Review      `json:"reviews"`
	Specs        *ProductSpecs `json:"specs,omitempty" db:"specs"`
	CreatedAt    time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time     `json:"updatedAt" db:"updated_at"`
}

// ProductSpecs holds the optional technical sheet used by the compare view
type ProductSpecs struct {
	Frame    string `json:"frame,omitempty"`
	Wheels   string `json:"wheels,omitempty"`
	Weight   string `json:"weight,omitempty"`
	Terrain  string `json:"terrain,omitempty"`
	Electric bool   `json:"electric"`
}

// ProductFilter narrows a catalogue listing. Nil or empty fields are ignored.
type ProductFilter struct {
	Name       string
	Categories []Category
	MinPrice   *float64
	MaxPrice   *float64
}

// Matches reports whether p satisfies every populated field of f
func (f ProductFilter) Matches(p *Product) bool {
	if f.Name != "" && !containsFold(p.Name, f.Name) {
		return false
	}
	if len(f.Categories) > 0 {
		found := false
		for _, c := range f.Categories {
			if p.Category == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MinPrice != nil && p.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && p.Price > *f.MaxPrice {
		return false
	}
	return true
}

// PriceRange summarises the cheapest and most expensive product
type PriceRange struct {
	MinPrice float64 `json:"minPrice"`
	MaxPrice float64 `json:"maxPrice"`
}

// ProductComparison is the projection returned by the compare endpoint
type ProductComparison struct {
	ID    uuid.UUID     `json:"id"`
	Name  string        `json:"name"`
	Image string        `json:"image"`
	Brand string        `json:"brand"`
	Specs *ProductSpecs `json:"specs"`
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
