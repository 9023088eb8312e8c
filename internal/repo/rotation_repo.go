// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file persists rotations so an active rotation survives
// a process restart.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-merchant-backend/internal/domain"
)

// SaveRotation inserts a rotation and its offers in one transaction.
func SaveRotation(ctx context.Context, db *gorm.DB, r *domain.Rotation) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		offers := r.Offers
		if err := tx.Omit("Offers").Create(r).Error; err != nil {
			return err
		}
		for i := range offers {
			offers[i].RotationID = r.ID
			offers[i].Position = i
		}
		if len(offers) > 0 {
			if err := tx.Create(&offers).Error; err != nil {
				return err
			}
		}
		r.Offers = offers
		return nil
	})
}

// LatestActiveRotation returns the most recent rotation still open at now,
// with its offers in draw order, or ErrNotFound.
func LatestActiveRotation(ctx context.Context, db *gorm.DB, now time.Time) (*domain.Rotation, error) {
	var r domain.Rotation
	err := db.WithContext(ctx).
		Preload("Offers", func(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC") }).
		Where("expires_at > ?", now.UTC()).
		Order("created_at DESC").
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}
