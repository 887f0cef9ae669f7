// internal/models/event.go
package models

import (
	"time"

	apperrors "listing-alerts/internal/common/errors"
)

// EventKind is the kind of mutation reported by the property feed.
type EventKind string

const (
	EventCreate      EventKind = "create"
	EventUpdate      EventKind = "update"
	EventPriceChange EventKind = "price-change"
)

// PropertyChangeEvent carries the snapshots before and after one mutation.
type PropertyChangeEvent struct {
	EventID          string            `json:"eventId"`
	PropertyID       string            `json:"propertyId"`
	Kind             EventKind         `json:"kind"`
	PreviousSnapshot *PropertySnapshot `json:"previousSnapshot,omitempty"`
	CurrentSnapshot  PropertySnapshot  `json:"currentSnapshot"`
	OccurredAt       time.Time         `json:"occurredAt"`
}

// Validate checks the fields every later stage relies on.
func (e *PropertyChangeEvent) Validate() error {
	malformed := func(field, reason string) error {
		return &apperrors.MalformedEventError{EventID: e.EventID, Field: field, Reason: reason}
	}

	if e.PropertyID == "" {
		return malformed("propertyId", "is required")
	}
	switch e.Kind {
	case EventCreate, EventUpdate, EventPriceChange:
	default:
		return malformed("kind", "must be create, update or price-change")
	}
	if err := validateSnapshot(&e.CurrentSnapshot, "currentSnapshot", malformed); err != nil {
		return err
	}
	if e.CurrentSnapshot.ID != e.PropertyID {
		return malformed("currentSnapshot.id", "does not match propertyId")
	}
	if e.PreviousSnapshot != nil {
		if err := validateSnapshot(e.PreviousSnapshot, "previousSnapshot", malformed); err != nil {
			return err
		}
		if e.PreviousSnapshot.ID != e.PropertyID {
			return malformed("previousSnapshot.id", "does not match propertyId")
		}
	}
	if e.Kind == EventCreate && e.PreviousSnapshot != nil {
		return malformed("previousSnapshot", "must be absent on create")
	}
	return nil
}

func validateSnapshot(s *PropertySnapshot, prefix string, malformed func(string, string) error) error {
	if s.ID == "" {
		return malformed(prefix+".id", "is required")
	}
	if s.OwnerID == "" {
		return malformed(prefix+".ownerId", "is required")
	}
	if !s.Status.Valid() {
		return malformed(prefix+".status", "is not a known status")
	}
	if s.Price.IsNegative() {
		return malformed(prefix+".price", "must not be negative")
	}
	if (s.Latitude == nil) != (s.Longitude == nil) {
		return malformed(prefix+".latitude", "latitude and longitude must be given together")
	}
	return nil
}
