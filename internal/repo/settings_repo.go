// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides access to the MerchantSettings singleton.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-merchant-backend/internal/domain"
)

// GetSettings returns the settings singleton, creating it with defaults when
// the row does not exist yet.
func GetSettings(ctx context.Context, db *gorm.DB) (domain.MerchantSettings, error) {
	var s domain.MerchantSettings
	err := db.WithContext(ctx).First(&s, "id = ?", domain.SettingsSingletonID).Error
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return s, err
	}

	s = domain.DefaultSettings()
	s.UpdatedAt = time.Now().UTC()
	err = db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&s).Error
	if err != nil {
		return domain.MerchantSettings{}, err
	}
	// Another writer may have won the insert race; read back the stored row.
	err = db.WithContext(ctx).First(&s, "id = ?", domain.SettingsSingletonID).Error
	return s, err
}

// SaveSettings overwrites the admin-editable settings fields. LastRotationAt
// is owned by the scheduler and left untouched.
func SaveSettings(ctx context.Context, db *gorm.DB, s domain.MerchantSettings) (domain.MerchantSettings, error) {
	if _, err := GetSettings(ctx, db); err != nil {
		return domain.MerchantSettings{}, err
	}
	err := db.WithContext(ctx).
		Model(&domain.MerchantSettings{}).
		Where("id = ?", domain.SettingsSingletonID).
		Updates(map[string]any{
			"enabled":            s.Enabled,
			"rotation_minutes":   s.RotationMinutes,
			"items_per_rotation": s.ItemsPerRotation,
			"cooldown_seconds":   s.CooldownSeconds,
			"updated_at":         time.Now().UTC(),
		}).Error
	if err != nil {
		return domain.MerchantSettings{}, err
	}
	return GetSettings(ctx, db)
}

// TouchLastRotation stamps the time the scheduler installed a rotation.
func TouchLastRotation(ctx context.Context, db *gorm.DB, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.MerchantSettings{}).
		Where("id = ?", domain.SettingsSingletonID).
		Update("last_rotation_at", at.UTC()).Error
}
