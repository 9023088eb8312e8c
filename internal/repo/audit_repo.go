// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores the append-only audit trail: one row per
// installed rotation and one per successful purchase. Rows are never updated.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-merchant-backend/internal/domain"
)

// InsertRotationRecord appends a rotation audit row.
func InsertRotationRecord(ctx context.Context, db *gorm.DB, rec *domain.RotationRecord) error {
	return db.WithContext(ctx).Create(rec).Error
}

// InsertPurchaseRecord appends a purchase audit row.
func InsertPurchaseRecord(ctx context.Context, db *gorm.DB, rec *domain.PurchaseRecord) error {
	return db.WithContext(ctx).Create(rec).Error
}

// CountRotationRecords returns the number of rotation audit rows.
func CountRotationRecords(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.RotationRecord{}).Count(&total).Error
	return total, err
}

// ListRotationRecordsPage returns rotation audit rows, newest first.
func ListRotationRecordsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.RotationRecord, error) {
	var out []domain.RotationRecord
	err := db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountPurchaseRecords returns the number of purchase audit rows, optionally
// restricted to one user (empty userID means all).
func CountPurchaseRecords(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.PurchaseRecord{})
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	err := q.Count(&total).Error
	return total, err
}

// ListPurchaseRecordsPage returns purchase audit rows, newest first,
// optionally restricted to one user.
func ListPurchaseRecordsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.PurchaseRecord, error) {
	var out []domain.PurchaseRecord
	q := db.WithContext(ctx).Order("created_at DESC, id DESC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	err := q.Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// GetPurchaseByInstance finds the purchase that granted instanceID.
func GetPurchaseByInstance(ctx context.Context, db *gorm.DB, instanceID string) (*domain.PurchaseRecord, error) {
	var rec domain.PurchaseRecord
	if err := db.WithContext(ctx).First(&rec, "instance_id = ?", instanceID).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}
