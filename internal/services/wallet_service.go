package services

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-merchant-backend/internal/domain"
	"github.com/tbourn/go-merchant-backend/internal/observability"
	"github.com/tbourn/go-merchant-backend/internal/repo"
	"github.com/tbourn/go-merchant-backend/internal/utils"
)

// WalletService exposes balances, owned instances, and admin credits.
type WalletService struct {
	DB *gorm.DB
}

// Balance returns userID's balance; unknown users have 0.
func (s *WalletService) Balance(ctx context.Context, userID string) (int64, error) {
	return repo.GetBalance(ctx, s.DB, userID)
}

// Credit adds amount to userID's wallet and returns the new balance.
func (s *WalletService) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if strings.TrimSpace(userID) == "" || amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return repo.CreditWallet(ctx, s.DB, userID, amount)
}

// InstancesPage returns a page of userID's owned instances, newest first.
func (s *WalletService) InstancesPage(ctx context.Context, userID string, page, pageSize int) ([]domain.OwnedInstance, int64, error) {
	tr := otel.Tracer("services/WalletService")
	ctx, span := tr.Start(ctx, "InstancesPage",
		trace.WithAttributes(
			observability.AttrUserID.String(userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	offset, limit := utils.OffsetLimit(page, pageSize)
	total, err := repo.CountInstances(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.OwnedInstance{}, 0, nil
	}
	items, err := repo.ListInstancesPage(ctx, s.DB, userID, offset, limit)
	return items, total, err
}
