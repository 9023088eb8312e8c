// Package handlers exposes the merchant over HTTP.
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results (and service errors) into the JSON envelopes defined
// in response.go. Service contracts are declared here so tests can substitute
// fakes without a database.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-merchant-backend/internal/domain"
	"github.com/tbourn/go-merchant-backend/internal/http/middleware"
	"github.com/tbourn/go-merchant-backend/internal/services"
	"github.com/tbourn/go-merchant-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// RotationService serves the live rotation.
type RotationService interface {
	View(ctx context.Context) (services.RotationView, error)
}

// PurchaseService commits purchases and reports the caller's cooldown.
type PurchaseService interface {
	Purchase(ctx context.Context, userID, offerID string) (*services.PurchaseResult, error)
	CooldownRemaining(ctx context.Context, userID string) (time.Duration, error)
}

// WalletService reads and credits player balances.
type WalletService interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Credit(ctx context.Context, userID string, amount int64) (int64, error)
	InstancesPage(ctx context.Context, userID string, page, pageSize int) ([]domain.OwnedInstance, int64, error)
}

// CatalogService manages the offer pool.
type CatalogService interface {
	Create(ctx context.Context, in services.CatalogInput) (*domain.CatalogEntry, error)
	Update(ctx context.Context, id string, in services.CatalogInput) (*domain.CatalogEntry, error)
	Get(ctx context.Context, id string) (*domain.CatalogEntry, error)
	List(ctx context.Context, onlyEnabled bool) ([]domain.CatalogEntry, error)
	Delete(ctx context.Context, id string) error
}

// SettingsService reads and patches the merchant settings.
type SettingsService interface {
	Get(ctx context.Context) (domain.MerchantSettings, error)
	Update(ctx context.Context, p services.SettingsPatch) (domain.MerchantSettings, error)
}

// HistoryService pages through the audit trail.
type HistoryService interface {
	RotationsPage(ctx context.Context, page, pageSize int) ([]domain.RotationRecord, int64, error)
	PurchasesPage(ctx context.Context, userID string, page, pageSize int) ([]domain.PurchaseRecord, int64, error)
}

//
// Handler wiring
//

// Deps bundles what the handlers need. DB is only used for Idempotency-Key
// bookkeeping on purchases; a nil DB disables replay.
type Deps struct {
	Rotations RotationService
	Purchases PurchaseService
	Wallets   WalletService
	Catalog   CatalogService
	Settings  SettingsService
	History   HistoryService

	DB             *gorm.DB
	IdempotencyTTL time.Duration
}

// Handlers groups the player and admin endpoints.
type Handlers struct {
	rotations RotationService
	purchases PurchaseService
	wallets   WalletService
	catalog   CatalogService
	settings  SettingsService
	history   HistoryService

	db      *gorm.DB
	idemTTL time.Duration
	// idemLocks serializes requests sharing (user, scope, key) so a
	// concurrent retry waits for the first purchase and then replays it.
	idemLocks *services.KeyedMutex
}

// New constructs and returns a Handlers instance bound to the given services.
func New(d Deps) *Handlers {
	ttl := d.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handlers{
		rotations: d.Rotations,
		purchases: d.Purchases,
		wallets:   d.Wallets,
		catalog:   d.Catalog,
		settings:  d.Settings,
		history:   d.History,
		db:        d.DB,
		idemTTL:   ttl,
		idemLocks: services.NewKeyedMutex(),
	}
}

// userID returns the caller identity set by middleware.Identity.
func userID(c *gin.Context) string {
	return middleware.UserID(c)
}

//
// Pagination
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// clampPagination reads the page and page_size query params, bounded by the
// shared utils limits.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ParsePage(c.Query("page"), c.Query("page_size"))
}

func paginate(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}
