// internal/engine/change-classifier/classifier.go
package changeclassifier

import (
	"time"

	"listing-alerts/internal/models"

	"github.com/shopspring/decimal"
)

// Classify derives the alert reasons for the transition prev -> curr.
// prev is nil for a listing the engine has not seen before (or a relist).
func Classify(prev *models.PropertySnapshot, curr *models.PropertySnapshot) models.ReasonSet {
	if curr == nil {
		return nil
	}
	if prev == nil {
		if curr.Status == models.StatusActive {
			return models.NewReasonSet(models.ReasonNewListing)
		}
		return nil
	}

	var reasons []models.AlertReason
	statusChanged := prev.Status != curr.Status
	priceChanged := !prev.Price.Equal(curr.Price)

	if statusChanged {
		reasons = append(reasons, models.ReasonStatusChanged)
		if prev.Status == models.StatusDraft && curr.Status == models.StatusActive {
			reasons = append(reasons, models.ReasonNewListing)
		}
		// A repriced status change is reported as an edit, not a drop.
		if priceChanged {
			reasons = append(reasons, models.ReasonAttributeUpdated)
		}
	} else if priceChanged {
		if curr.Price.LessThan(prev.Price) {
			reasons = append(reasons, models.ReasonPriceDrop)
		} else {
			reasons = append(reasons, models.ReasonPriceIncrease)
		}
	}

	if attributesChanged(prev, curr) {
		reasons = append(reasons, models.ReasonAttributeUpdated)
	}
	return models.NewReasonSet(reasons...)
}

// attributesChanged compares every monitored field other than price and status.
func attributesChanged(a, b *models.PropertySnapshot) bool {
	return a.ListingType != b.ListingType ||
		a.PropertyType != b.PropertyType ||
		!equalInt(a.Bedrooms, b.Bedrooms) ||
		!equalDecimal(a.Bathrooms, b.Bathrooms) ||
		!equalInt(a.SquareFeet, b.SquareFeet) ||
		!equalInt(a.YearBuilt, b.YearBuilt) ||
		!equalDecimal(a.LotSize, b.LotSize) ||
		a.Address != b.Address ||
		a.City != b.City ||
		a.State != b.State ||
		a.ZipCode != b.ZipCode ||
		a.Description != b.Description ||
		!equalFloat(a.Latitude, b.Latitude) ||
		!equalFloat(a.Longitude, b.Longitude)
}

// PriceHistoryEntry returns the row to append to the listing's price history
// for this transition, or nil when nothing price relevant happened.
func PriceHistoryEntry(prev *models.PropertySnapshot, curr *models.PropertySnapshot, at time.Time) *models.PriceHistory {
	if curr == nil {
		return nil
	}
	entry := func(t models.PriceChangeType) *models.PriceHistory {
		return &models.PriceHistory{
			PropertyID: curr.ID,
			Price:      curr.Price,
			Date:       at.UTC(),
			ChangeType: t,
		}
	}

	if prev == nil {
		if curr.Status == models.StatusDraft {
			return nil
		}
		return entry(models.PriceChangeListed)
	}

	switch curr.Price.Cmp(prev.Price) {
	case -1:
		return entry(models.PriceChangeDrop)
	case 1:
		return entry(models.PriceChangeIncrease)
	}
	if prev.Status != curr.Status {
		return entry(models.PriceChangeStatus)
	}
	return nil
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalDecimal(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
