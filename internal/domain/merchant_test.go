package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func strptr(s string) *string { return &s }

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(MerchantSettings{}).TableName(): "merchant_settings",
		(CatalogEntry{}).TableName():     "catalog_entries",
		(Rotation{}).TableName():         "rotations",
		(RotationOffer{}).TableName():    "rotation_offers",
		(Wallet{}).TableName():           "wallets",
		(OwnedInstance{}).TableName():    "owned_instances",
		(CooldownEntry{}).TableName():    "cooldowns",
		(RotationRecord{}).TableName():   "rotation_records",
		(PurchaseRecord{}).TableName():   "purchase_records",
		(Idempotency{}).TableName():      "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestSettings_Durations(t *testing.T) {
	s := MerchantSettings{RotationMinutes: 30, CooldownSeconds: 60}
	if s.RotationDelta() != 30*time.Minute {
		t.Fatalf("RotationDelta = %v", s.RotationDelta())
	}
	if s.Cooldown() != time.Minute {
		t.Fatalf("Cooldown = %v", s.Cooldown())
	}
	d := DefaultSettings()
	if d.ID != SettingsSingletonID || !d.Enabled || d.ItemsPerRotation != 3 || d.RotationMinutes != 1440 {
		t.Fatalf("unexpected defaults: %+v", d)
	}
}

func TestCatalogEntry_LabelAndEligibility(t *testing.T) {
	e := CatalogEntry{CollectibleID: "france", Weight: 1, Enabled: true}
	if e.Label() != "france" {
		t.Fatalf("Label fallback = %q", e.Label())
	}
	e.DisplayName = "  Shiny France "
	if e.Label() != "Shiny France" {
		t.Fatalf("Label override = %q", e.Label())
	}
	if !e.Eligible() {
		t.Fatalf("expected eligible")
	}
	e.Weight = 0
	if e.Eligible() {
		t.Fatalf("zero weight must not be eligible")
	}
	e.Weight = 2
	e.Enabled = false
	if e.Eligible() {
		t.Fatalf("disabled entry must not be eligible")
	}
}

func TestOfferFromEntry_CopiesSpecialTag(t *testing.T) {
	tag := "golden"
	e := CatalogEntry{ID: "e1", CollectibleID: "c1", Price: 10, SpecialTag: &tag}
	o := OfferFromEntry(e)
	tag = "mutated"
	if o.SpecialTag == nil || *o.SpecialTag != "golden" {
		t.Fatalf("offer tag must be a copy, got %v", o.SpecialTag)
	}
	if o.EntryID != "e1" || o.Price != 10 || o.Label != "c1" || o.ID != "" {
		t.Fatalf("unexpected offer: %+v", o)
	}
}

func TestRotation_ExpiryAndLookup(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := Rotation{
		ID:        "r1",
		CreatedAt: now,
		ExpiresAt: now.Add(30 * time.Minute),
		Offers: []RotationOffer{
			{ID: "o1", EntryID: "a", Label: "A", Price: 10},
			{ID: "o2", EntryID: "b", Label: "B", Price: 20, SpecialTag: strptr("shiny")},
		},
	}
	if r.Expired(now.Add(29 * time.Minute)) {
		t.Fatalf("rotation should still be active")
	}
	if !r.Expired(now.Add(30 * time.Minute)) {
		t.Fatalf("rotation must be expired exactly at ExpiresAt")
	}
	if r.Remaining(now.Add(time.Hour)) != 0 {
		t.Fatalf("Remaining must clamp at zero")
	}
	o, ok := r.FindOffer("o2")
	if !ok || o.EntryID != "b" || *o.SpecialTag != "shiny" {
		t.Fatalf("FindOffer(o2) = %+v, %v", o, ok)
	}
	if _, ok := r.FindOffer("zzz"); ok {
		t.Fatalf("unknown offer must not be found")
	}
	if got := r.OfferList(); len(got) != 2 || got[0].ID != "o1" {
		t.Fatalf("OfferList order: %+v", got)
	}
}

func TestMigrations_CascadeAndJSONSnapshot(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Rotation{}, &RotationOffer{}, &RotationRecord{}, &PurchaseRecord{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasIndex(&RotationOffer{}, "ux_rotation_entry") {
		t.Fatalf("expected unique index ux_rotation_entry")
	}
	if !m.HasIndex(&PurchaseRecord{}, "idx_user_purchases") {
		t.Fatalf("expected index idx_user_purchases")
	}

	now := time.Now().UTC()
	rot := &Rotation{
		ID: "r1", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		Offers: []RotationOffer{{ID: "o1", EntryID: "a", CollectibleID: "c", Label: "A", Price: 5, CreatedAt: now}},
	}
	if err := db.Create(rot).Error; err != nil {
		t.Fatalf("insert rotation: %v", err)
	}
	dup := &RotationOffer{ID: "o2", RotationID: "r1", EntryID: "a", CollectibleID: "c", Label: "A", Price: 5, CreatedAt: now}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected unique violation for a repeated entry in one rotation")
	}

	rec := &RotationRecord{ID: "rr1", RotationID: "r1", Offers: rot.OfferList(), CreatedAt: now, ExpiresAt: rot.ExpiresAt}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert record: %v", err)
	}
	var got RotationRecord
	if err := db.First(&got, "id = ?", "rr1").Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if len(got.Offers) != 1 || got.Offers[0].ID != "o1" || got.Offers[0].Price != 5 {
		t.Fatalf("json snapshot round-trip: %+v", got.Offers)
	}

	// Removing the rotation cascades to its offers but leaves the audit record.
	if err := db.Delete(&Rotation{}, "id = ?", "r1").Error; err != nil {
		t.Fatalf("delete rotation: %v", err)
	}
	var cnt int64
	db.Model(&RotationOffer{}).Where("rotation_id = ?", "r1").Count(&cnt)
	if cnt != 0 {
		t.Fatalf("expected offers to cascade-delete, got %d", cnt)
	}
	db.Model(&RotationRecord{}).Count(&cnt)
	if cnt != 1 {
		t.Fatalf("audit record must survive, got %d", cnt)
	}
}
