package product

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = fault.New(fault.NotFound, "ProductNotFound", "product not found")

// Category groups catalog items.
type Category string

const (
	CategoryRings     Category = "rings"
	CategoryNecklaces Category = "necklaces"
	CategoryEarrings  Category = "earrings"
	CategoryBracelets Category = "bracelets"
	CategoryWatches   Category = "watches"
	CategoryOther     Category = "other"
)

var categories = []Category{
	CategoryRings, CategoryNecklaces, CategoryEarrings,
	CategoryBracelets, CategoryWatches, CategoryOther,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return slices.Contains(categories, c)
}

// Material is the primary material of an item.
type Material string

const (
	MaterialGold     Material = "gold"
	MaterialSilver   Material = "silver"
	MaterialPlatinum Material = "platinum"
	MaterialDiamond  Material = "diamond"
	MaterialPearl    Material = "pearl"
	MaterialOther    Material = "other"
)

// Valid reports whether m is empty or a known material.
func (m Material) Valid() bool {
	switch m {
	case "", MaterialGold, MaterialSilver, MaterialPlatinum, MaterialDiamond, MaterialPearl, MaterialOther:
		return true
	}
	return false
}

// Product represents a catalog item available for purchase.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	Category    Category
	Material    Material
	Stock       int
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks catalog invariants.
func (p *Product) Validate() error {
	fe := fault.FieldErrors{}
	if p.ID == "" {
		fe.Add("id", "required")
	}
	if p.Name == "" {
		fe.Add("name", "required")
	}
	if p.Price.IsNegative() {
		fe.Add("price", "must not be negative")
	}
	if !p.Category.Valid() {
		fe.Add("category", "unknown category")
	}
	if !p.Material.Valid() {
		fe.Add("material", "unknown material")
	}
	if p.Stock < 0 {
		fe.Add("stock", "must not be negative")
	}
	return fe.Err()
}

// Repository defines operations on the product catalog. Lock and stock methods
// are meant to run inside a unit of work.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	Upsert(ctx context.Context, p *Product) error
}
