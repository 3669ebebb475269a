package product

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NPatel10/jewellery-ecommerce/internal/domain/fault"
)

func TestProduct_Validate(t *testing.T) {
	valid := func() Product {
		return Product{
			ID:       "ring-1",
			Name:     "Solitaire Ring",
			Price:    decimal.RequireFromString("499.00"),
			Category: CategoryRings,
			Material: MaterialGold,
			Stock:    3,
			Active:   true,
		}
	}

	tests := []struct {
		name      string
		mutate    func(p *Product)
		wantField string
	}{
		{name: "valid", mutate: func(*Product) {}},
		{name: "missing name", mutate: func(p *Product) { p.Name = "" }, wantField: "name"},
		{name: "negative price", mutate: func(p *Product) { p.Price = decimal.NewFromInt(-1) }, wantField: "price"},
		{name: "unknown category", mutate: func(p *Product) { p.Category = "hats" }, wantField: "category"},
		{name: "unknown material", mutate: func(p *Product) { p.Material = "wood" }, wantField: "material"},
		{name: "negative stock", mutate: func(p *Product) { p.Stock = -1 }, wantField: "stock"},
		{name: "empty material allowed", mutate: func(p *Product) { p.Material = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, fault.Validation, fault.KindOf(err))
			assert.Contains(t, fault.FieldsOf(err), tt.wantField)
		})
	}
}

func TestCategory_Valid(t *testing.T) {
	for _, c := range []Category{"rings", "necklaces", "earrings", "bracelets", "watches", "other"} {
		assert.True(t, c.Valid(), c)
	}
	assert.False(t, Category("RINGS").Valid())
	assert.False(t, Category("").Valid())
}
