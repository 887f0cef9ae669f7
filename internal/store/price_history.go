// internal/store/price_history.go
package store

import (
	"context"

	"listing-alerts/internal/common/database"
	apperrors "listing-alerts/internal/common/errors"
	"listing-alerts/internal/models"
)

type PriceHistoryRepository struct {
	db database.DBTX
}

func NewPriceHistoryRepository(db database.DBTX) *PriceHistoryRepository {
	return &PriceHistoryRepository{db: db}
}

// Record appends one row to a listing's price history.
func (r *PriceHistoryRepository) Record(ctx context.Context, entry models.PriceHistory) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO price_history (property_id, price, date, change_type)
		VALUES ($1, $2, $3, $4)`,
		entry.PropertyID,
		entry.Price.String(),
		entry.Date.UTC(),
		string(entry.ChangeType),
	)
	if err != nil {
		return apperrors.NewPriceHistoryWriteFailedError(entry.PropertyID, err)
	}
	return nil
}
