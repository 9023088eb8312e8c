// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for catalog
// entries (the admin-curated offer pool).
//
// SnapshotCatalog reads every sampling candidate in a single query, so the
// sampler always works on one consistent view even while admins edit the
// pool concurrently.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-merchant-backend/internal/domain"
)

// CreateCatalogEntry inserts e with a fresh UUID and UTC timestamps.
func CreateCatalogEntry(ctx context.Context, db *gorm.DB, e domain.CatalogEntry) (*domain.CatalogEntry, error) {
	now := time.Now().UTC()
	e.ID = uuid.NewString()
	e.CreatedAt = now
	e.UpdatedAt = now
	// GORM omits zero values of columns that carry a default, so a disabled
	// entry is flipped after the insert.
	enabled := e.Enabled
	if err := db.WithContext(ctx).Create(&e).Error; err != nil {
		return nil, err
	}
	if !enabled {
		if err := db.WithContext(ctx).Model(&e).Update("enabled", false).Error; err != nil {
			return nil, err
		}
		e.Enabled = false
	}
	return &e, nil
}

// GetCatalogEntry fetches an entry by ID, or ErrNotFound.
func GetCatalogEntry(ctx context.Context, db *gorm.DB, id string) (*domain.CatalogEntry, error) {
	var e domain.CatalogEntry
	if err := db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// ListCatalog returns all entries ordered by creation time, optionally
// restricted to enabled ones.
func ListCatalog(ctx context.Context, db *gorm.DB, onlyEnabled bool) ([]domain.CatalogEntry, error) {
	var out []domain.CatalogEntry
	q := db.WithContext(ctx).Order("created_at ASC, id ASC")
	if onlyEnabled {
		q = q.Where("enabled = ?", true)
	}
	err := q.Find(&out).Error
	return out, err
}

// SnapshotCatalog returns the entries eligible for sampling (enabled, weight
// > 0) in a stable order.
func SnapshotCatalog(ctx context.Context, db *gorm.DB) ([]domain.CatalogEntry, error) {
	var out []domain.CatalogEntry
	err := db.WithContext(ctx).
		Where("enabled = ? AND weight > 0", true).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// UpdateCatalogEntry overwrites the editable fields of entry e.ID.
// Returns ErrNotFound when no row matched.
func UpdateCatalogEntry(ctx context.Context, db *gorm.DB, e domain.CatalogEntry) (*domain.CatalogEntry, error) {
	res := db.WithContext(ctx).
		Model(&domain.CatalogEntry{}).
		Where("id = ?", e.ID).
		Updates(map[string]any{
			"collectible_id": e.CollectibleID,
			"display_name":   e.DisplayName,
			"description":    e.Description,
			"price":          e.Price,
			"weight":         e.Weight,
			"special_tag":    e.SpecialTag,
			"enabled":        e.Enabled,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return GetCatalogEntry(ctx, db, e.ID)
}

// DeleteCatalogEntry soft-deletes an entry. Rotations already generated keep
// their offer snapshots.
func DeleteCatalogEntry(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Delete(&domain.CatalogEntry{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
