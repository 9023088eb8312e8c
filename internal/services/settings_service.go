package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/tbourn/go-merchant-backend/internal/domain"
	"github.com/tbourn/go-merchant-backend/internal/repo"
)

// SettingsPatch is a partial update; nil fields are left unchanged.
type SettingsPatch struct {
	Enabled          *bool `json:"enabled"`
	RotationMinutes  *int  `json:"rotation_minutes"`
	ItemsPerRotation *int  `json:"items_per_rotation"`
	CooldownSeconds  *int  `json:"cooldown_seconds"`
}

// SettingsService reads and updates the merchant settings singleton.
type SettingsService struct {
	DB    *gorm.DB
	Cache *SettingsCache
}

// Get returns the stored settings.
func (s *SettingsService) Get(ctx context.Context) (domain.MerchantSettings, error) {
	return repo.GetSettings(ctx, s.DB)
}

// Update validates and applies p, then invalidates the cache so the core
// sees the change on its next read.
func (s *SettingsService) Update(ctx context.Context, p SettingsPatch) (domain.MerchantSettings, error) {
	cur, err := repo.GetSettings(ctx, s.DB)
	if err != nil {
		return domain.MerchantSettings{}, err
	}
	if p.Enabled != nil {
		cur.Enabled = *p.Enabled
	}
	if p.RotationMinutes != nil {
		cur.RotationMinutes = *p.RotationMinutes
	}
	if p.ItemsPerRotation != nil {
		cur.ItemsPerRotation = *p.ItemsPerRotation
	}
	if p.CooldownSeconds != nil {
		cur.CooldownSeconds = *p.CooldownSeconds
	}
	if err := ValidateSettings(cur); err != nil {
		return domain.MerchantSettings{}, err
	}
	out, err := repo.SaveSettings(ctx, s.DB, cur)
	if err != nil {
		return domain.MerchantSettings{}, err
	}
	if s.Cache != nil {
		s.Cache.Invalidate()
	}
	return out, nil
}

// ValidateSettings enforces rotation_minutes > 0, items_per_rotation > 0
// and cooldown_seconds >= 0.
func ValidateSettings(cfg domain.MerchantSettings) error {
	switch {
	case cfg.RotationMinutes <= 0:
		return fmt.Errorf("%w: rotation_minutes must be positive", ErrInvalidSettings)
	case cfg.ItemsPerRotation <= 0:
		return fmt.Errorf("%w: items_per_rotation must be positive", ErrInvalidSettings)
	case cfg.CooldownSeconds < 0:
		return fmt.Errorf("%w: cooldown_seconds must not be negative", ErrInvalidSettings)
	}
	return nil
}
