// internal/engine/alert-dispatcher/models.go
package alertdispatcher

import (
	"context"
	"time"

	"listing-alerts/internal/models"
)

// PreferenceStore returns a user's notification switches, creating the
// all-enabled default row on first access.
type PreferenceStore interface {
	GetOrCreate(ctx context.Context, userID string) (models.NotificationPref, error)
}

// SuppressionStore remembers which (user, property) pairs were alerted
// recently. Reserve returns false when the pair is still inside its window.
type SuppressionStore interface {
	Reserve(ctx context.Context, userID, propertyID string, window time.Duration) (bool, error)
	Release(ctx context.Context, userID, propertyID string) error
}

// Suppression causes, used as metric labels.
const (
	causePreference   = "preference"
	causeWindow       = "window"
	causeNoChannel    = "no_channel"
	causeNotAlertable = "not_alertable"
)

type pairKey struct {
	userID     string
	propertyID string
}

// group is every match of one user for one property within a batch.
type group struct {
	key       pairKey
	reasons   models.ReasonSet
	searchIDs []string
}
