// internal/store/contacts.go
package store

import (
	"context"
	"database/sql"
	"fmt"

	"listing-alerts/internal/common/database"
	"listing-alerts/internal/models"
)

type ContactRepository struct {
	db database.DBTX
}

func NewContactRepository(db database.DBTX) *ContactRepository {
	return &ContactRepository{db: db}
}

// Contact returns the delivery addresses of a user. Missing columns come
// back empty so the sink can skip that channel.
func (r *ContactRepository) Contact(ctx context.Context, userID string) (models.Contact, error) {
	var email, endpoint sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT email, push_endpoint_arn
		FROM users
		WHERE id = $1`, userID).Scan(&email, &endpoint)
	if err != nil {
		return models.Contact{}, fmt.Errorf("select contact for user %s: %w", userID, err)
	}
	return models.Contact{UserID: userID, Email: email.String, PushEndpoint: endpoint.String}, nil
}
