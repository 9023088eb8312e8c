// Package domain defines the persistence models and value types of the
// merchant: its singleton settings, the admin-curated catalog, rotations and
// the offers they contain, player wallets and owned instances, cooldowns, and
// the append-only audit records. These types are mapped with GORM and shared
// across the repository, service, and HTTP layers.
package domain

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// SettingsSingletonID is the primary key of the only MerchantSettings row.
const SettingsSingletonID uint = 1

// MerchantSettings holds the merchant configuration managed by administrators.
// The core never mutates it, except for LastRotationAt which the scheduler
// stamps after installing a rotation.
//
// Fields:
//   - Enabled: hides the merchant entirely when false.
//   - RotationMinutes: lifetime of a rotation (> 0).
//   - ItemsPerRotation: offers drawn per rotation (> 0).
//   - CooldownSeconds: minimum delay between two purchases of one user (>= 0).
type MerchantSettings struct {
	ID               uint       `json:"-"                  gorm:"primaryKey;autoIncrement:false"`
	Enabled          bool       `json:"enabled"            gorm:"not null;default:true"`
	RotationMinutes  int        `json:"rotation_minutes"   gorm:"not null;default:1440;check:rotation_minutes > 0"`
	ItemsPerRotation int        `json:"items_per_rotation" gorm:"not null;default:3;check:items_per_rotation > 0"`
	CooldownSeconds  int        `json:"cooldown_seconds"   gorm:"not null;default:3600;check:cooldown_seconds >= 0"`
	LastRotationAt   *time.Time `json:"last_rotation_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName returns the database table name for MerchantSettings.
func (MerchantSettings) TableName() string { return "merchant_settings" }

// DefaultSettings mirrors the column defaults: enabled, daily rotations of
// three offers, one hour between purchases.
func DefaultSettings() MerchantSettings {
	return MerchantSettings{
		ID:               SettingsSingletonID,
		Enabled:          true,
		RotationMinutes:  24 * 60,
		ItemsPerRotation: 3,
		CooldownSeconds:  3600,
	}
}

// RotationDelta is the lifetime of a rotation.
func (s MerchantSettings) RotationDelta() time.Duration {
	return time.Duration(s.RotationMinutes) * time.Minute
}

// Cooldown is the minimum delay between two purchases of the same user.
func (s MerchantSettings) Cooldown() time.Duration {
	return time.Duration(s.CooldownSeconds) * time.Second
}

// CatalogEntry is an admin-configured purchasable item definition. Only
// enabled entries with a positive weight take part in rotations.
type CatalogEntry struct {
	ID            string         `json:"id"                    gorm:"type:char(36);primaryKey"`
	CollectibleID string         `json:"collectible_id"        gorm:"type:varchar(64);not null;index"`
	DisplayName   string         `json:"display_name"          gorm:"type:varchar(64);not null;default:''"`
	Description   string         `json:"description"           gorm:"type:varchar(200);not null;default:''"`
	Price         int64          `json:"price"                 gorm:"not null;check:price > 0"`
	Weight        float64        `json:"weight"                gorm:"not null"`
	SpecialTag    *string        `json:"special_tag,omitempty" gorm:"type:varchar(64)"`
	Enabled       bool           `json:"enabled"               gorm:"not null;default:true;index"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"                     gorm:"index"`
}

// TableName returns the database table name for CatalogEntry.
func (CatalogEntry) TableName() string { return "catalog_entries" }

// Label is the name shown to players: the display name override when set,
// otherwise the collectible identifier.
func (e CatalogEntry) Label() string {
	if s := strings.TrimSpace(e.DisplayName); s != "" {
		return s
	}
	return e.CollectibleID
}

// Eligible reports whether the entry may be drawn into a rotation.
func (e CatalogEntry) Eligible() bool {
	return e.Enabled && e.Weight > 0
}

// Offer is an immutable snapshot of a catalog entry taken when a rotation is
// generated. Later catalog edits never alter it.
type Offer struct {
	ID            string  `json:"id"`
	EntryID       string  `json:"entry_id"`
	CollectibleID string  `json:"collectible_id"`
	Label         string  `json:"label"`
	Price         int64   `json:"price"`
	SpecialTag    *string `json:"special_tag,omitempty"`
}

// OfferFromEntry snapshots e. The offer ID is assigned by the rotation.
func OfferFromEntry(e CatalogEntry) Offer {
	o := Offer{
		EntryID:       e.ID,
		CollectibleID: e.CollectibleID,
		Label:         e.Label(),
		Price:         e.Price,
	}
	if e.SpecialTag != nil {
		tag := *e.SpecialTag
		o.SpecialTag = &tag
	}
	return o
}

// Rotation is a time-boxed set of purchasable offers.
//
// Invariants: ExpiresAt is after CreatedAt, and offers are distinct by entry.
type Rotation struct {
	ID        string          `json:"id"         gorm:"type:char(36);primaryKey"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null;index"`
	ExpiresAt time.Time       `json:"expires_at" gorm:"not null;index"`
	Offers    []RotationOffer `json:"-"          gorm:"foreignKey:RotationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Rotation.
func (Rotation) TableName() string { return "rotations" }

// Expired reports whether the rotation is no longer purchasable at now.
func (r Rotation) Expired(now time.Time) bool { return !now.Before(r.ExpiresAt) }

// Remaining is the time left before expiry, never negative.
func (r Rotation) Remaining(now time.Time) time.Duration {
	if d := r.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// OfferList returns the rotation offers as value snapshots in draw order.
func (r Rotation) OfferList() []Offer {
	out := make([]Offer, 0, len(r.Offers))
	for _, ro := range r.Offers {
		out = append(out, ro.Offer())
	}
	return out
}

// FindOffer looks up an offer of this rotation by its offer ID.
func (r Rotation) FindOffer(offerID string) (Offer, bool) {
	for _, ro := range r.Offers {
		if ro.ID == offerID {
			return ro.Offer(), true
		}
	}
	return Offer{}, false
}

// RotationOffer persists one Offer of a Rotation (price snapshot included).
type RotationOffer struct {
	ID            string    `gorm:"type:char(36);primaryKey"`
	RotationID    string    `gorm:"type:char(36);not null;index:idx_rotation_offers,priority:1;uniqueIndex:ux_rotation_entry,priority:1"`
	Position      int       `gorm:"not null;index:idx_rotation_offers,priority:2"`
	EntryID       string    `gorm:"type:char(36);not null;uniqueIndex:ux_rotation_entry,priority:2"`
	CollectibleID string    `gorm:"type:varchar(64);not null"`
	Label         string    `gorm:"type:varchar(64);not null"`
	Price         int64     `gorm:"not null"`
	SpecialTag    *string   `gorm:"type:varchar(64)"`
	CreatedAt     time.Time `gorm:"not null"`
}

// TableName returns the database table name for RotationOffer.
func (RotationOffer) TableName() string { return "rotation_offers" }

// Offer converts the row back into its value snapshot.
func (ro RotationOffer) Offer() Offer {
	return Offer{
		ID:            ro.ID,
		EntryID:       ro.EntryID,
		CollectibleID: ro.CollectibleID,
		Label:         ro.Label,
		Price:         ro.Price,
		SpecialTag:    ro.SpecialTag,
	}
}

// Wallet is the economy-side balance of a player.
type Wallet struct {
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);primaryKey"`
	Balance   int64     `json:"balance"    gorm:"not null;default:0;check:balance >= 0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Wallet.
func (Wallet) TableName() string { return "wallets" }

// OwnedInstance is the concrete item granted to a player by a purchase.
type OwnedInstance struct {
	ID            string    `json:"id"                    gorm:"type:char(36);primaryKey"`
	UserID        string    `json:"user_id"               gorm:"type:varchar(64);not null;index:idx_user_instances,priority:1"`
	EntryID       string    `json:"entry_id"              gorm:"type:char(36);not null"`
	CollectibleID string    `json:"collectible_id"        gorm:"type:varchar(64);not null"`
	SpecialTag    *string   `json:"special_tag,omitempty" gorm:"type:varchar(64)"`
	Tradeable     bool      `json:"tradeable"             gorm:"not null;default:true"`
	CreatedAt     time.Time `json:"created_at"            gorm:"index:idx_user_instances,priority:2"`
}

// TableName returns the database table name for OwnedInstance.
func (OwnedInstance) TableName() string { return "owned_instances" }

// CooldownEntry records the last successful purchase of a user.
// Entries are created on first purchase and never deleted.
type CooldownEntry struct {
	UserID         string    `gorm:"type:varchar(64);primaryKey"`
	LastPurchaseAt time.Time `gorm:"not null"`
}

// TableName returns the database table name for CooldownEntry.
func (CooldownEntry) TableName() string { return "cooldowns" }
