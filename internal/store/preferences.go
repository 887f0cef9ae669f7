// internal/store/preferences.go
package store

import (
	"context"
	"fmt"
	"sync"

	"listing-alerts/internal/common/database"
	"listing-alerts/internal/models"
)

type PreferenceRepository struct {
	db database.DBTX
}

func NewPreferenceRepository(db database.DBTX) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// GetOrCreate reads a user's notification preferences, inserting the
// all-enabled defaults first when the user has none yet.
func (r *PreferenceRepository) GetOrCreate(ctx context.Context, userID string) (models.NotificationPref, error) {
	d := models.DefaultNotificationPref(userID)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notification_preferences (
			user_id, email_notifications, push_notifications, saved_search_alerts,
			price_drop_alerts, new_listing_alerts, open_house_reminders
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO NOTHING`,
		d.UserID,
		d.EmailNotifications,
		d.PushNotifications,
		d.SavedSearchAlerts,
		d.PriceDropAlerts,
		d.NewListingAlerts,
		d.OpenHouseReminders,
	)
	if err != nil {
		return models.NotificationPref{}, fmt.Errorf("insert default preferences: %w", err)
	}

	p := models.NotificationPref{UserID: userID}
	err = r.db.QueryRowContext(ctx, `
		SELECT email_notifications, push_notifications, saved_search_alerts,
		       price_drop_alerts, new_listing_alerts, open_house_reminders
		FROM notification_preferences
		WHERE user_id = $1`, userID).Scan(
		&p.EmailNotifications,
		&p.PushNotifications,
		&p.SavedSearchAlerts,
		&p.PriceDropAlerts,
		&p.NewListingAlerts,
		&p.OpenHouseReminders,
	)
	if err != nil {
		return models.NotificationPref{}, fmt.Errorf("select preferences: %w", err)
	}
	return p, nil
}

// MemoryPreferenceStore keeps preferences in process. Used when no database
// is configured and in tests.
type MemoryPreferenceStore struct {
	mu    sync.RWMutex
	prefs map[string]models.NotificationPref
}

func NewMemoryPreferenceStore() *MemoryPreferenceStore {
	return &MemoryPreferenceStore{prefs: make(map[string]models.NotificationPref)}
}

func (s *MemoryPreferenceStore) GetOrCreate(_ context.Context, userID string) (models.NotificationPref, error) {
	s.mu.RLock()
	p, ok := s.prefs[userID]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.prefs[userID]; ok {
		return p, nil
	}
	p = models.DefaultNotificationPref(userID)
	s.prefs[userID] = p
	return p, nil
}

// Put replaces a user's preferences.
func (s *MemoryPreferenceStore) Put(p models.NotificationPref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[p.UserID] = p
}
