package domain

import "time"

// RotationRecord is the audit entry written when a rotation is installed.
// Offers are stored as a JSON snapshot so the record is self-contained.
type RotationRecord struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	RotationID string    `json:"rotation_id" gorm:"type:char(36);not null;uniqueIndex"`
	Offers     []Offer   `json:"offers"      gorm:"serializer:json;type:text;not null"`
	CreatedAt  time.Time `json:"created_at"  gorm:"not null;index"`
	ExpiresAt  time.Time `json:"expires_at"  gorm:"not null"`
}

// TableName returns the database table name for RotationRecord.
func (RotationRecord) TableName() string { return "rotation_records" }

// PurchaseRecord is the audit entry written for each successful purchase.
// The offer snapshot is copied by value so later rotations cannot alter it.
type PurchaseRecord struct {
	ID         string    `json:"id"                    gorm:"type:char(36);primaryKey"`
	UserID     string    `json:"user_id"               gorm:"type:varchar(64);not null;index:idx_user_purchases,priority:1"`
	RotationID string    `json:"rotation_id"           gorm:"type:char(36);not null;index"`
	OfferID    string    `json:"offer_id"              gorm:"type:char(36);not null"`
	EntryID    string    `json:"entry_id"              gorm:"type:char(36);not null"`
	Label      string    `json:"label"                 gorm:"type:varchar(64);not null"`
	Price      int64     `json:"price"                 gorm:"not null"`
	SpecialTag *string   `json:"special_tag,omitempty" gorm:"type:varchar(64)"`
	InstanceID string    `json:"instance_id"           gorm:"type:char(36);not null;uniqueIndex"`
	CreatedAt  time.Time `json:"created_at"            gorm:"not null;index:idx_user_purchases,priority:2"`
}

// TableName returns the database table name for PurchaseRecord.
func (PurchaseRecord) TableName() string { return "purchase_records" }
