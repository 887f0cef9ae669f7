// internal/store/saved_searches.go
package store

import (
	"context"
	"fmt"

	"listing-alerts/internal/common/database"
	apperrors "listing-alerts/internal/common/errors"
	"listing-alerts/internal/models"
)

const loadActiveSearchesQuery = `
	SELECT s.id, s.user_id, s.name, s.filters, s.is_active, u.is_active, s.created_at, s.updated_at
	FROM saved_searches s
	JOIN users u ON u.id = s.user_id
	WHERE s.is_active = true
	ORDER BY s.id`

type SavedSearchRepository struct {
	db database.DBTX
}

func NewSavedSearchRepository(db database.DBTX) *SavedSearchRepository {
	return &SavedSearchRepository{db: db}
}

// LoadActive returns every active saved search together with whether its
// owner's account is still active. Filters are returned untouched.
func (r *SavedSearchRepository) LoadActive(ctx context.Context) ([]models.SavedSearch, error) {
	rows, err := r.db.QueryContext(ctx, loadActiveSearchesQuery)
	if err != nil {
		return nil, apperrors.NewSavedSearchLoadFailedError(err)
	}
	defer rows.Close()

	var searches []models.SavedSearch
	for rows.Next() {
		var (
			s       models.SavedSearch
			filters []byte
		)
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &filters, &s.Active, &s.OwnerActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, apperrors.NewSavedSearchLoadFailedError(fmt.Errorf("scan saved search: %w", err))
		}
		s.Filters = append([]byte(nil), filters...)
		searches = append(searches, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewSavedSearchLoadFailedError(err)
	}
	return searches, nil
}
