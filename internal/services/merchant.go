// Package services – Merchant
//
// Merchant assembles the long-lived parts of the merchant core over one GORM
// store: the settings cache, the audit writer, the event bus, the rotation
// scheduler, and the purchase coordinator. The process owns exactly one
// Merchant; Start launches the rotation ticker and Shutdown drains it.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-merchant-backend/internal/sampler"
)

// MerchantOptions tunes the core. Zero values pick the documented defaults.
type MerchantOptions struct {
	SettingsTTL     time.Duration // default 2s
	PurchaseTimeout time.Duration // default 5s
	AuditBuffer     int           // default 1024
	AuditMaxRetries int           // default 3
	RNG             sampler.RandomSource
}

// Merchant is the composed merchant core.
type Merchant struct {
	Store     *GormStore
	Settings  *SettingsCache
	Audit     *AuditLog
	Events    *Bus
	Rotations *RotationService
	Purchases *PurchaseService
}

// NewMerchant wires the core over db. The audit writer starts immediately;
// the rotation ticker starts with Start.
func NewMerchant(db *gorm.DB, opts MerchantOptions) *Merchant {
	if opts.SettingsTTL <= 0 {
		opts.SettingsTTL = 2 * time.Second
	}
	if opts.AuditBuffer <= 0 {
		opts.AuditBuffer = 1024
	}
	if opts.AuditMaxRetries <= 0 {
		opts.AuditMaxRetries = 3
	}

	store := &GormStore{DB: db}
	cache := NewSettingsCache(store, opts.SettingsTTL)
	audit := NewAuditLog(store, opts.AuditBuffer, opts.AuditMaxRetries)
	bus := NewBus()
	subscribeEventLog(bus)

	rotations := NewRotationService(cache, store, store, audit, bus)
	if opts.RNG != nil {
		rotations.RNG = opts.RNG
	}
	purchases := NewPurchaseService(cache, rotations, store, store, audit, bus, opts.PurchaseTimeout)

	return &Merchant{
		Store:     store,
		Settings:  cache,
		Audit:     audit,
		Events:    bus,
		Rotations: rotations,
		Purchases: purchases,
	}
}

// Start launches the rotation ticker.
func (m *Merchant) Start(ctx context.Context, tick time.Duration) {
	m.Rotations.Start(ctx, tick)
}

// Shutdown stops the ticker, waits for event handlers, and drains the audit
// log. ErrAuditDegraded is included when records were lost during the run.
func (m *Merchant) Shutdown(ctx context.Context) error {
	m.Rotations.Stop()
	m.Events.Wait()
	return errors.Join(m.Audit.Close(ctx), m.Audit.Err())
}

// subscribeEventLog records every merchant event in the structured log.
func subscribeEventLog(bus *Bus) {
	bus.Subscribe(EventRotationChanged, func(_ context.Context, ev Event) {
		if ev.Rotation == nil {
			return
		}
		log.Info().
			Str("rotation_id", ev.Rotation.RotationID).
			Int("offers", len(ev.Rotation.Offers)).
			Time("expires_at", ev.Rotation.ExpiresAt).
			Msg("merchant rotation changed")
	})
	bus.Subscribe(EventPurchaseCompleted, func(_ context.Context, ev Event) {
		if ev.Purchase == nil {
			return
		}
		log.Info().
			Str("user_id", ev.Purchase.UserID).
			Str("rotation_id", ev.Purchase.RotationID).
			Str("instance_id", ev.Purchase.InstanceID).
			Int64("price", ev.Purchase.Price).
			Msg("merchant purchase completed")
	})
}
