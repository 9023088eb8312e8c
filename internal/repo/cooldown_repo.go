package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-merchant-backend/internal/domain"
)

// GetCooldown returns the last purchase time of userID, or ErrNotFound.
func GetCooldown(ctx context.Context, db *gorm.DB, userID string) (*domain.CooldownEntry, error) {
	var c domain.CooldownEntry
	if err := db.WithContext(ctx).First(&c, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertCooldown creates or moves userID's cooldown entry to at.
func UpsertCooldown(ctx context.Context, db *gorm.DB, userID string, at time.Time) error {
	c := domain.CooldownEntry{UserID: userID, LastPurchaseAt: at.UTC()}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_purchase_at"}),
		}).
		Create(&c).Error
}
