package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-merchant-backend/internal/domain"
	"github.com/tbourn/go-merchant-backend/internal/repo"
	"github.com/tbourn/go-merchant-backend/internal/utils"
)

// HistoryService pages through the audit records.
type HistoryService struct {
	DB *gorm.DB
}

// RotationsPage returns rotation records, newest first.
func (s *HistoryService) RotationsPage(ctx context.Context, page, pageSize int) ([]domain.RotationRecord, int64, error) {
	offset, limit := utils.OffsetLimit(page, pageSize)
	total, err := repo.CountRotationRecords(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.RotationRecord{}, 0, nil
	}
	items, err := repo.ListRotationRecordsPage(ctx, s.DB, offset, limit)
	return items, total, err
}

// PurchasesPage returns purchase records, newest first. An empty userID
// lists every user.
func (s *HistoryService) PurchasesPage(ctx context.Context, userID string, page, pageSize int) ([]domain.PurchaseRecord, int64, error) {
	offset, limit := utils.OffsetLimit(page, pageSize)
	total, err := repo.CountPurchaseRecords(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.PurchaseRecord{}, 0, nil
	}
	items, err := repo.ListPurchaseRecordsPage(ctx, s.DB, userID, offset, limit)
	return items, total, err
}
