// internal/models/property.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PropertyStatus is the listing lifecycle state.
type PropertyStatus string

const (
	StatusDraft    PropertyStatus = "DRAFT"
	StatusActive   PropertyStatus = "ACTIVE"
	StatusPending  PropertyStatus = "PENDING"
	StatusSold     PropertyStatus = "SOLD"
	StatusInactive PropertyStatus = "INACTIVE"
)

// Valid reports whether s is one of the known statuses.
func (s PropertyStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusPending, StatusSold, StatusInactive:
		return true
	}
	return false
}

// IsMatchable reports whether a listing in this state can match saved searches.
func (s PropertyStatus) IsMatchable() bool {
	return s == StatusActive || s == StatusPending
}

// IsTerminal reports whether the listing has left the market.
func (s PropertyStatus) IsTerminal() bool {
	return s == StatusSold || s == StatusInactive
}

// PropertySnapshot is an immutable view of a listing at one point in time.
type PropertySnapshot struct {
	ID           string           `json:"id"`
	OwnerID      string           `json:"ownerId"`
	Price        decimal.Decimal  `json:"price"`
	Status       PropertyStatus   `json:"status"`
	ListingType  string           `json:"listingType"`
	PropertyType string           `json:"propertyType"`
	Bedrooms     *int             `json:"bedrooms,omitempty"`
	Bathrooms    *decimal.Decimal `json:"bathrooms,omitempty"`
	SquareFeet   *int             `json:"squareFeet,omitempty"`
	YearBuilt    *int             `json:"yearBuilt,omitempty"`
	LotSize      *decimal.Decimal `json:"lotSize,omitempty"`
	Address      string           `json:"address"`
	City         string           `json:"city"`
	State        string           `json:"state"`
	ZipCode      string           `json:"zipCode"`
	Description  string           `json:"description,omitempty"`
	Latitude     *float64         `json:"latitude,omitempty"`
	Longitude    *float64         `json:"longitude,omitempty"`
}

// NumericField returns the value of a numeric attribute by its filter name.
// The second result is false when the field is unknown or null.
func (p *PropertySnapshot) NumericField(name string) (decimal.Decimal, bool) {
	switch name {
	case "price":
		return p.Price, true
	case "bedrooms":
		return intValue(p.Bedrooms)
	case "bathrooms":
		return decimalValue(p.Bathrooms)
	case "squareFeet":
		return intValue(p.SquareFeet)
	case "yearBuilt":
		return intValue(p.YearBuilt)
	case "lotSize":
		return decimalValue(p.LotSize)
	}
	return decimal.Decimal{}, false
}

// StringField returns the value of a string attribute by its filter name.
func (p *PropertySnapshot) StringField(name string) (string, bool) {
	switch name {
	case "propertyType":
		return p.PropertyType, true
	case "listingType":
		return p.ListingType, true
	case "status":
		return string(p.Status), true
	case "address":
		return p.Address, true
	case "city":
		return p.City, true
	case "state":
		return p.State, true
	case "zipCode":
		return p.ZipCode, true
	case "description":
		return p.Description, true
	}
	return "", false
}

// Coordinates returns latitude and longitude when both are present.
func (p *PropertySnapshot) Coordinates() (lat, lng float64, ok bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return 0, 0, false
	}
	return *p.Latitude, *p.Longitude, true
}

func intValue(v *int) (decimal.Decimal, bool) {
	if v == nil {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromInt(int64(*v)), true
}

func decimalValue(v *decimal.Decimal) (decimal.Decimal, bool) {
	if v == nil {
		return decimal.Decimal{}, false
	}
	return *v, true
}

// PriceChangeType labels a PriceHistory row.
type PriceChangeType string

const (
	PriceChangeListed   PriceChangeType = "LISTED"
	PriceChangeDrop     PriceChangeType = "PRICE_DROP"
	PriceChangeIncrease PriceChangeType = "PRICE_INCREASE"
	PriceChangeStatus   PriceChangeType = "STATUS_CHANGE"
)

// PriceHistory is one append-only row of a listing's price record.
type PriceHistory struct {
	PropertyID string          `json:"propertyId"`
	Price      decimal.Decimal `json:"price"`
	Date       time.Time       `json:"date"`
	ChangeType PriceChangeType `json:"changeType"`
}
