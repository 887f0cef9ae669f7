// internal/engine/filter-evaluator/evaluator_test.go
package filterevaluator

import (
	"errors"
	"math"
	"testing"

	apperrors "listing-alerts/internal/common/errors"
	filterexpression "listing-alerts/internal/engine/filter-expression"
	"listing-alerts/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// austinHouse is the listing used by the worked examples.
func austinHouse() *models.PropertySnapshot {
	return &models.PropertySnapshot{
		ID:           "prop-1",
		OwnerID:      "owner-1",
		Price:        decimal.RequireFromString("450000"),
		Status:       models.StatusActive,
		ListingType:  "SALE",
		PropertyType: "HOUSE",
		Bedrooms:     intPtr(3),
		Bathrooms:    decPtr("2.5"),
		SquareFeet:   intPtr(1850),
		YearBuilt:    intPtr(2004),
		Address:      "1100 Congress Ave",
		City:         "Austin",
		State:        "TX",
		ZipCode:      "78701",
		Description:  "Renovated KITCHEN, large backyard",
		Latitude:     floatPtr(30.2747),
		Longitude:    floatPtr(-97.7404),
	}
}

func evaluate(t *testing.T, doc string, p *models.PropertySnapshot) bool {
	t.Helper()
	ok, err := Evaluate(filterexpression.MustParse(doc), p)
	require.NoError(t, err)
	return ok
}

// ==========================
// Core Functionality Tests
// ==========================

func TestEvaluate_WorkedExamples(t *testing.T) {
	doc := `{"price":{"range":{"max":500000}},"bedrooms":{"equals":3},"city":{"textContains":"austin"}}`

	t.Run("matches with inclusive bound and case-insensitive text", func(t *testing.T) {
		assert.True(t, evaluate(t, doc, austinHouse()))
	})

	t.Run("price above max does not match", func(t *testing.T) {
		p := austinHouse()
		p.Price = decimal.RequireFromString("520000")
		assert.False(t, evaluate(t, doc, p))
	})

	t.Run("price exactly on the bound matches", func(t *testing.T) {
		p := austinHouse()
		p.Price = decimal.RequireFromString("500000.00")
		assert.True(t, evaluate(t, doc, p))
	})
}

func TestEvaluate_Clauses(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		mutate   func(p *models.PropertySnapshot)
		expected bool
	}{
		{name: "range min only", doc: `{"squareFeet":{"range":{"min":1800}}}`, expected: true},
		{name: "range below min", doc: `{"squareFeet":{"range":{"min":1851}}}`, expected: false},
		{name: "unbounded range matches any present value", doc: `{"yearBuilt":{"range":{}}}`, expected: true},
		{name: "decimal bathrooms inside range", doc: `{"bathrooms":{"range":{"min":2.5,"max":2.5}}}`, expected: true},
		{
			name:     "null field never satisfies a range",
			doc:      `{"lotSize":{"range":{"min":0}}}`,
			expected: false,
		},
		{
			name:     "null field fails even an unbounded range",
			doc:      `{"lotSize":{"range":{}}}`,
			expected: false,
		},
		{
			name:     "present lot size inside range",
			doc:      `{"lotSize":{"range":{"min":0.1,"max":0.5}}}`,
			mutate:   func(p *models.PropertySnapshot) { p.LotSize = decPtr("0.25") },
			expected: true,
		},
		{name: "binary float trap does not apply", doc: `{"price":{"range":{"min":0.3}}}`, mutate: func(p *models.PropertySnapshot) {
			p.Price = decimal.RequireFromString("0.1").Add(decimal.RequireFromString("0.2"))
		}, expected: true},
		{name: "equals enum", doc: `{"propertyType":{"equals":"HOUSE"}}`, expected: true},
		{name: "equals is case sensitive", doc: `{"propertyType":{"equals":"house"}}`, expected: false},
		{name: "oneOf hit", doc: `{"listingType":{"oneOf":["RENT","SALE"]}}`, expected: true},
		{name: "oneOf miss", doc: `{"listingType":{"oneOf":["RENT"]}}`, expected: false},
		{name: "oneOf numeric", doc: `{"bedrooms":{"oneOf":[2,3]}}`, expected: true},
		{name: "equals numeric on null field", doc: `{"lotSize":{"equals":1}}`, expected: false},
		{name: "equals on status", doc: `{"status":{"equals":"ACTIVE"}}`, expected: true},
		{name: "text contains folds case", doc: `{"description":{"textContains":"kitchen"}}`, expected: true},
		{name: "text contains folds case of the needle", doc: `{"address":{"textContains":"CONGRESS"}}`, expected: true},
		{name: "text contains miss", doc: `{"description":{"textContains":"pool"}}`, expected: false},
		{name: "text contains on empty field", doc: `{"description":{"textContains":"a"}}`, mutate: func(p *models.PropertySnapshot) {
			p.Description = ""
		}, expected: false},
		{name: "geo radius inside", doc: `{"loc":{"geoRadius":{"lat":30.2672,"lng":-97.7431,"radiusKm":2}}}`, expected: true},
		{name: "geo radius outside", doc: `{"loc":{"geoRadius":{"lat":29.7604,"lng":-95.3698,"radiusKm":50}}}`, expected: false},
		{name: "geo radius without coordinates", doc: `{"loc":{"geoRadius":{"lat":30.2672,"lng":-97.7431,"radiusKm":20000}}}`, mutate: func(p *models.PropertySnapshot) {
			p.Latitude, p.Longitude = nil, nil
		}, expected: false},
		{name: "all clauses must hold", doc: `{"city":{"equals":"Austin"},"bedrooms":{"range":{"min":4}}}`, expected: false},
		{name: "duplicate keys are AND-ed", doc: `{"price":{"range":{"min":400000}},"price":{"range":{"max":449999}}}`, expected: false},
		{name: "unknown constraints do not block known ones", doc: `{"hasPool":{"equals":true},"city":{"equals":"Austin"}}`, expected: true},
		{name: "only unknown constraints never match", doc: `{"hasPool":{"equals":true}}`, expected: false},
		{name: "empty filter never matches", doc: `{}`, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := austinHouse()
			if tt.mutate != nil {
				tt.mutate(p)
			}
			assert.Equal(t, tt.expected, evaluate(t, tt.doc, p))
		})
	}
}

func TestEvaluate_RangeMonotonic(t *testing.T) {
	p := austinHouse()
	narrow := `{"price":{"range":{"min":440000,"max":460000}}}`
	wider := []string{
		`{"price":{"range":{"min":400000,"max":460000}}}`,
		`{"price":{"range":{"min":440000,"max":900000}}}`,
		`{"price":{"range":{"max":460000}}}`,
		`{"price":{"range":{}}}`,
	}

	require.True(t, evaluate(t, narrow, p))
	for _, doc := range wider {
		assert.True(t, evaluate(t, doc, p), doc)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	expr := filterexpression.MustParse(`{"price":{"range":{"max":500000}},"city":{"textContains":"AUS"}}`)
	p := austinHouse()

	for i := 0; i < 50; i++ {
		ok, err := Evaluate(expr, p)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

// ==========================
// Error Handling Tests
// ==========================

func TestEvaluate_Errors(t *testing.T) {
	t.Run("non finite coordinates", func(t *testing.T) {
		p := austinHouse()
		p.Latitude = floatPtr(math.NaN())
		expr := filterexpression.MustParse(`{"loc":{"geoRadius":{"lat":30,"lng":-97,"radiusKm":10}}}`)

		ok, err := Evaluate(expr, p)
		assert.False(t, ok)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrEvaluation))
	})

	t.Run("nil snapshot", func(t *testing.T) {
		ok, err := Evaluate(filterexpression.MustParse(`{"city":{"equals":"Austin"}}`), nil)
		assert.False(t, ok)
		var evalErr *apperrors.EvaluationError
		assert.True(t, errors.As(err, &evalErr))
	})

	t.Run("nil expression matches nothing", func(t *testing.T) {
		ok, err := Evaluate(nil, austinHouse())
		assert.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestHaversineKm(t *testing.T) {
	assert.InDelta(t, 0, HaversineKm(30.2672, -97.7431, 30.2672, -97.7431), 1e-9)
	// Austin to Houston is roughly 235 km.
	assert.InDelta(t, 235, HaversineKm(30.2672, -97.7431, 29.7604, -95.3698), 5)
	// Antipodes are half the circumference apart.
	assert.InDelta(t, math.Pi*EarthRadiusKm, HaversineKm(0, 0, 0, 180), 1e-6)
}
