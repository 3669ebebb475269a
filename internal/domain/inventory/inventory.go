// Package inventory reserves and releases product stock for orders.
//
// A reservation validates every requested line against locked product rows
// before any stock is touched, then applies all decrements together. Callers
// run Reserve and Release inside a unit of work so that a later failure in the
// same transaction rolls the decrements back.
package inventory

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-faster/errors"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
	"github.com/NPatel10/jewellery-ecommerce/internal/domain/product"
)

// Line is a requested quantity of one product.
type Line struct {
	ProductID string
	Quantity  int
}

// Adjustment changes the stock of one product by Delta.
type Adjustment struct {
	ProductID string
	Delta     int
}

// OutOfStockError indicates the product cannot cover the requested quantity.
type OutOfStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *OutOfStockError) Kind() fault.Kind { return fault.PreconditionFailed }
func (e *OutOfStockError) Code() string     { return "OutOfStock" }

// ProductUnavailableError indicates the product exists but is not for sale.
type ProductUnavailableError struct {
	ProductID string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %s is not available", e.ProductID)
}

func (e *ProductUnavailableError) Kind() fault.Kind { return fault.PreconditionFailed }
func (e *ProductUnavailableError) Code() string     { return "ProductUnavailable" }

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Kind() fault.Kind { return fault.NotFound }
func (e *ProductNotFoundError) Code() string     { return "ProductNotFound" }

// Store is the persistence used by reservations.
type Store interface {
	// LockForUpdate loads and row-locks the given products. Missing ids are
	// omitted from the result.
	LockForUpdate(ctx context.Context, ids []string) ([]product.Product, error)
	// AdjustStock applies every adjustment or none.
	AdjustStock(ctx context.Context, adjustments []Adjustment) error
}

// Normalize merges duplicate product lines, keeping first-seen order.
func Normalize(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, fault.Invalid("items", "at least one item is required")
	}
	out := make([]Line, 0, len(lines))
	index := make(map[string]int, len(lines))
	fe := fault.FieldErrors{}
	for i, l := range lines {
		if l.ProductID == "" {
			fe.Add(fmt.Sprintf("items[%d].productId", i), "required")
			continue
		}
		if l.Quantity < 1 {
			fe.Add(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
			continue
		}
		if j, ok := index[l.ProductID]; ok {
			out[j].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(out)
		out = append(out, l)
	}
	if err := fe.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Plan checks every line against the loaded products and returns the stock
// decrements to apply. Nothing is returned unless all lines pass.
func Plan(products []product.Product, lines []Line) ([]Adjustment, error) {
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	adjustments := make([]Adjustment, 0, len(lines))
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		switch {
		case !ok:
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		case !p.Active:
			return nil, &ProductUnavailableError{ProductID: l.ProductID}
		case p.Stock < l.Quantity:
			return nil, &OutOfStockError{ProductID: l.ProductID, Requested: l.Quantity, Available: p.Stock}
		}
		adjustments = append(adjustments, Adjustment{ProductID: l.ProductID, Delta: -l.Quantity})
	}
	return adjustments, nil
}

// Reserver reserves stock through a Store.
type Reserver struct {
	store Store
}

// NewReserver creates a Reserver.
func NewReserver(store Store) *Reserver {
	return &Reserver{store: store}
}

// Reserve locks the products referenced by lines, validates all of them and
// decrements their stock. It returns the locked products keyed by id so callers
// can snapshot prices from the same rows.
func (r *Reserver) Reserve(ctx context.Context, lines []Line) (map[string]product.Product, error) {
	normalized, err := Normalize(lines)
	if err != nil {
		return nil, err
	}

	locked, err := r.store.LockForUpdate(ctx, productIDs(normalized))
	if err != nil {
		return nil, errors.Wrap(err, "lock products")
	}

	adjustments, err := Plan(locked, normalized)
	if err != nil {
		return nil, err
	}
	if err := r.store.AdjustStock(ctx, adjustments); err != nil {
		return nil, errors.Wrap(err, "decrement stock")
	}

	byID := make(map[string]product.Product, len(locked))
	for _, p := range locked {
		byID[p.ID] = p
	}
	return byID, nil
}

// Release returns stock for lines, e.g. when an order is cancelled. Products
// that no longer exist are skipped.
func (r *Reserver) Release(ctx context.Context, lines []Line) error {
	normalized, err := Normalize(lines)
	if err != nil {
		return err
	}

	locked, err := r.store.LockForUpdate(ctx, productIDs(normalized))
	if err != nil {
		return errors.Wrap(err, "lock products")
	}

	adjustments := make([]Adjustment, 0, len(normalized))
	for _, l := range normalized {
		if !slices.ContainsFunc(locked, func(p product.Product) bool { return p.ID == l.ProductID }) {
			continue
		}
		adjustments = append(adjustments, Adjustment{ProductID: l.ProductID, Delta: l.Quantity})
	}
	if len(adjustments) == 0 {
		return nil
	}
	if err := r.store.AdjustStock(ctx, adjustments); err != nil {
		return errors.Wrap(err, "restock")
	}
	return nil
}

// productIDs returns the ids of lines sorted, so concurrent reservations lock
// rows in the same order.
func productIDs(lines []Line) []string {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	slices.Sort(ids)
	return ids
}
