// internal/models/search.go
package models

import (
	"encoding/json"
	"time"
)

// SavedSearch is a user's stored filter set. Filters stays raw JSON so that
// duplicate keys and unknown constraints survive until parse time.
type SavedSearch struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Name        string          `json:"name"`
	Filters     json.RawMessage `json:"filters"`
	Active      bool            `json:"active"`
	OwnerActive bool            `json:"ownerActive"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// NotificationPref holds a user's alert switches.
type NotificationPref struct {
	UserID             string `json:"userId"`
	EmailNotifications bool   `json:"emailNotifications"`
	PushNotifications  bool   `json:"pushNotifications"`
	SavedSearchAlerts  bool   `json:"savedSearchAlerts"`
	PriceDropAlerts    bool   `json:"priceDropAlerts"`
	NewListingAlerts   bool   `json:"newListingAlerts"`
	OpenHouseReminders bool   `json:"openHouseReminders"`
}

// DefaultNotificationPref is what a user gets before touching their settings.
func DefaultNotificationPref(userID string) NotificationPref {
	return NotificationPref{
		UserID:             userID,
		EmailNotifications: true,
		PushNotifications:  true,
		SavedSearchAlerts:  true,
		PriceDropAlerts:    true,
		NewListingAlerts:   true,
		OpenHouseReminders: true,
	}
}

// Contact is where a user's alerts are delivered.
type Contact struct {
	UserID       string
	Email        string
	PushEndpoint string
}
