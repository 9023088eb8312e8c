// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file holds the economy tables: player wallets and the
// instances granted by purchases.
//
// DebitWallet is a single conditional UPDATE, so a balance can never go
// negative even when two debits for the same player race.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-merchant-backend/internal/domain"
)

// GetBalance returns the wallet balance of userID; a missing wallet is 0.
func GetBalance(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var w domain.Wallet
	err := db.WithContext(ctx).First(&w, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

// CreditWallet adds amount to userID's wallet, creating it when missing, and
// returns the new balance.
func CreditWallet(ctx context.Context, db *gorm.DB, userID string, amount int64) (int64, error) {
	now := time.Now().UTC()
	w := domain.Wallet{UserID: userID, Balance: amount, CreatedAt: now, UpdatedAt: now}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"balance":    gorm.Expr("balance + ?", amount),
				"updated_at": now,
			}),
		}).
		Create(&w).Error
	if err != nil {
		return 0, err
	}
	return GetBalance(ctx, db, userID)
}

// DebitWallet removes amount from userID's wallet if the balance covers it.
// Returns ErrInsufficientBalance otherwise.
func DebitWallet(ctx context.Context, db *gorm.DB, userID string, amount int64) error {
	res := db.WithContext(ctx).
		Model(&domain.Wallet{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// CreateInstance grants userID a new instance of the purchased entry.
func CreateInstance(ctx context.Context, db *gorm.DB, userID, entryID, collectibleID string, specialTag *string) (*domain.OwnedInstance, error) {
	inst := &domain.OwnedInstance{
		ID:            uuid.NewString(),
		UserID:        userID,
		EntryID:       entryID,
		CollectibleID: collectibleID,
		SpecialTag:    specialTag,
		Tradeable:     true,
		CreatedAt:     time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(inst).Error; err != nil {
		return nil, err
	}
	return inst, nil
}

// DeleteInstance removes an instance; used to undo a grant.
func DeleteInstance(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Delete(&domain.OwnedInstance{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetInstance fetches an owned instance by ID.
func GetInstance(ctx context.Context, db *gorm.DB, id string) (*domain.OwnedInstance, error) {
	var inst domain.OwnedInstance
	if err := db.WithContext(ctx).First(&inst, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &inst, nil
}

// CountInstances returns how many instances userID owns.
func CountInstances(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.OwnedInstance{}).Where("user_id = ?", userID).Count(&total).Error
	return total, err
}

// ListInstancesPage returns userID's instances, newest first.
func ListInstancesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.OwnedInstance, error) {
	var out []domain.OwnedInstance
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
