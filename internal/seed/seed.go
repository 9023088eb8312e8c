// Package seed loads a YAML bootstrap file (settings, catalog, starting
// wallets) and applies it to an empty database. Applying twice is harmless:
// the catalog is only seeded while empty and wallets only when missing.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/tbourn/go-merchant-backend/internal/domain"
	"github.com/tbourn/go-merchant-backend/internal/repo"
	"github.com/tbourn/go-merchant-backend/internal/services"
)

// File is the on-disk seed document.
type File struct {
	Settings *Settings `yaml:"settings"`
	Catalog  []Entry   `yaml:"catalog"`
	Wallets  []Wallet  `yaml:"wallets"`
}

// Settings mirrors the admin-editable merchant settings.
type Settings struct {
	Enabled          *bool `yaml:"enabled"`
	RotationMinutes  *int  `yaml:"rotation_minutes"`
	ItemsPerRotation *int  `yaml:"items_per_rotation"`
	CooldownSeconds  *int  `yaml:"cooldown_seconds"`
}

// Entry is one catalog item.
type Entry struct {
	CollectibleID string   `yaml:"collectible_id"`
	DisplayName   string   `yaml:"display_name"`
	Description   string   `yaml:"description"`
	Price         int64    `yaml:"price"`
	Weight        *float64 `yaml:"weight"`
	SpecialTag    *string  `yaml:"special_tag"`
	Enabled       *bool    `yaml:"enabled"`
}

// Wallet is a starting balance.
type Wallet struct {
	UserID  string `yaml:"user_id"`
	Balance int64  `yaml:"balance"`
}

// Load reads and decodes the seed file at path.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return &f, nil
}

// Apply writes f through the admin services so the same validation applies.
func Apply(ctx context.Context, db *gorm.DB, f *File) error {
	if f == nil {
		return nil
	}
	if f.Settings != nil {
		svc := &services.SettingsService{DB: db}
		if _, err := svc.Update(ctx, services.SettingsPatch{
			Enabled:          f.Settings.Enabled,
			RotationMinutes:  f.Settings.RotationMinutes,
			ItemsPerRotation: f.Settings.ItemsPerRotation,
			CooldownSeconds:  f.Settings.CooldownSeconds,
		}); err != nil {
			return fmt.Errorf("seed settings: %w", err)
		}
	}

	existing, err := repo.ListCatalog(ctx, db, false)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		catalog := services.NewCatalogService(db)
		for i, e := range f.Catalog {
			if _, err := catalog.Create(ctx, services.CatalogInput{
				CollectibleID: e.CollectibleID,
				DisplayName:   e.DisplayName,
				Description:   e.Description,
				Price:         e.Price,
				Weight:        e.Weight,
				SpecialTag:    e.SpecialTag,
				Enabled:       e.Enabled,
			}); err != nil {
				return fmt.Errorf("seed catalog[%d]: %w", i, err)
			}
		}
		log.Info().Int("entries", len(f.Catalog)).Msg("seeded merchant catalog")
	}

	for _, w := range f.Wallets {
		if w.Balance <= 0 {
			continue
		}
		var cnt int64
		if err := db.WithContext(ctx).Model(&domain.Wallet{}).Where("user_id = ?", w.UserID).Count(&cnt).Error; err != nil {
			return err
		}
		if cnt > 0 {
			continue
		}
		if _, err := repo.CreditWallet(ctx, db, w.UserID, w.Balance); err != nil {
			return fmt.Errorf("seed wallet %s: %w", w.UserID, err)
		}
	}
	return nil
}

// LoadAndApply is Load followed by Apply. A missing file is not an error.
func LoadAndApply(ctx context.Context, db *gorm.DB, path string) error {
	if path == "" {
		return nil
	}
	f, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("seed file not found; skipping")
		return nil
	}
	if err != nil {
		return err
	}
	return Apply(ctx, db, f)
}
