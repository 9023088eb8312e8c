package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-merchant-backend/internal/domain"
	"github.com/tbourn/go-merchant-backend/internal/repo"
)

// SettingsSource yields the current merchant settings.
type SettingsSource interface {
	Settings(ctx context.Context) (domain.MerchantSettings, error)
}

// CatalogSource yields a consistent snapshot of the catalog.
type CatalogSource interface {
	Snapshot(ctx context.Context) ([]domain.CatalogEntry, error)
}

// RotationStore persists rotations so a restart resumes the active one.
type RotationStore interface {
	SaveRotation(ctx context.Context, r *domain.Rotation) error
	// LatestActiveRotation returns repo.ErrNotFound when none is live at now.
	LatestActiveRotation(ctx context.Context, now time.Time) (*domain.Rotation, error)
	TouchLastRotation(ctx context.Context, at time.Time) error
}

// Economy debits and credits balances and grants owned instances.
type Economy interface {
	Balance(ctx context.Context, userID string) (int64, error)
	// Debit returns repo.ErrInsufficientBalance when the balance is too low.
	Debit(ctx context.Context, userID string, amount int64) error
	Refund(ctx context.Context, userID string, amount int64) error
	GrantInstance(ctx context.Context, userID, entryID, collectibleID string, specialTag *string) (string, error)
	RevokeInstance(ctx context.Context, instanceID string) error
}

// CooldownStore keeps the last successful purchase time per user.
type CooldownStore interface {
	// LastPurchase reports ok=false when the user never purchased.
	LastPurchase(ctx context.Context, userID string) (at time.Time, ok bool, err error)
	Touch(ctx context.Context, userID string, at time.Time) error
}

// AuditStore is the durable sink behind the AuditLog.
type AuditStore interface {
	InsertRotationRecord(ctx context.Context, rec *domain.RotationRecord) error
	InsertPurchaseRecord(ctx context.Context, rec *domain.PurchaseRecord) error
}

// GormStore implements every store interface on top of the repo package.
type GormStore struct {
	DB *gorm.DB
}

var (
	_ SettingsSource = (*GormStore)(nil)
	_ CatalogSource  = (*GormStore)(nil)
	_ RotationStore  = (*GormStore)(nil)
	_ Economy        = (*GormStore)(nil)
	_ CooldownStore  = (*GormStore)(nil)
	_ AuditStore     = (*GormStore)(nil)
)

func (g *GormStore) Settings(ctx context.Context) (domain.MerchantSettings, error) {
	return repo.GetSettings(ctx, g.DB)
}

func (g *GormStore) Snapshot(ctx context.Context) ([]domain.CatalogEntry, error) {
	return repo.SnapshotCatalog(ctx, g.DB)
}

func (g *GormStore) SaveRotation(ctx context.Context, r *domain.Rotation) error {
	return repo.SaveRotation(ctx, g.DB, r)
}

func (g *GormStore) LatestActiveRotation(ctx context.Context, now time.Time) (*domain.Rotation, error) {
	return repo.LatestActiveRotation(ctx, g.DB, now)
}

func (g *GormStore) TouchLastRotation(ctx context.Context, at time.Time) error {
	return repo.TouchLastRotation(ctx, g.DB, at)
}

func (g *GormStore) Balance(ctx context.Context, userID string) (int64, error) {
	return repo.GetBalance(ctx, g.DB, userID)
}

func (g *GormStore) Debit(ctx context.Context, userID string, amount int64) error {
	return repo.DebitWallet(ctx, g.DB, userID, amount)
}

func (g *GormStore) Refund(ctx context.Context, userID string, amount int64) error {
	_, err := repo.CreditWallet(ctx, g.DB, userID, amount)
	return err
}

func (g *GormStore) GrantInstance(ctx context.Context, userID, entryID, collectibleID string, specialTag *string) (string, error) {
	inst, err := repo.CreateInstance(ctx, g.DB, userID, entryID, collectibleID, specialTag)
	if err != nil {
		return "", err
	}
	return inst.ID, nil
}

func (g *GormStore) RevokeInstance(ctx context.Context, instanceID string) error {
	return repo.DeleteInstance(ctx, g.DB, instanceID)
}

func (g *GormStore) LastPurchase(ctx context.Context, userID string) (time.Time, bool, error) {
	cd, err := repo.GetCooldown(ctx, g.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return cd.LastPurchaseAt, true, nil
}

func (g *GormStore) Touch(ctx context.Context, userID string, at time.Time) error {
	return repo.UpsertCooldown(ctx, g.DB, userID, at)
}

func (g *GormStore) InsertRotationRecord(ctx context.Context, rec *domain.RotationRecord) error {
	return repo.InsertRotationRecord(ctx, g.DB, rec)
}

func (g *GormStore) InsertPurchaseRecord(ctx context.Context, rec *domain.PurchaseRecord) error {
	return repo.InsertPurchaseRecord(ctx, g.DB, rec)
}
