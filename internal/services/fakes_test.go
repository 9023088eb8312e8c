package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-merchant-backend/internal/domain"
	"github.com/tbourn/go-merchant-backend/internal/repo"
)

// ---------- test helpers ----------

var errBoom = errors.New("boom")

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func strptr(s string) *string { return &s }

func entry(id string, price int64, weight float64) domain.CatalogEntry {
	return domain.CatalogEntry{ID: id, CollectibleID: id, Price: price, Weight: weight, Enabled: true}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSettings struct {
	mu  sync.Mutex
	s   domain.MerchantSettings
	err error
}

func newSettings(items, rotationMinutes, cooldownSeconds int) *fakeSettings {
	s := domain.DefaultSettings()
	s.ItemsPerRotation = items
	s.RotationMinutes = rotationMinutes
	s.CooldownSeconds = cooldownSeconds
	return &fakeSettings{s: s}
}

func (f *fakeSettings) Settings(context.Context) (domain.MerchantSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s, f.err
}

func (f *fakeSettings) set(mut func(*domain.MerchantSettings)) {
	f.mu.Lock()
	mut(&f.s)
	f.mu.Unlock()
}

type fakeCatalog struct {
	mu      sync.Mutex
	entries []domain.CatalogEntry
	err     error
}

func (f *fakeCatalog) Snapshot(context.Context) ([]domain.CatalogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CatalogEntry(nil), f.entries...), f.err
}

func (f *fakeCatalog) set(entries ...domain.CatalogEntry) {
	f.mu.Lock()
	f.entries = entries
	f.mu.Unlock()
}

type memRotationStore struct {
	mu      sync.Mutex
	saved   []domain.Rotation
	active  *domain.Rotation
	saveErr error
	touched int
}

func (m *memRotationStore) SaveRotation(_ context.Context, r *domain.Rotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, *r)
	return nil
}

func (m *memRotationStore) LatestActiveRotation(_ context.Context, now time.Time) (*domain.Rotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.Expired(now) {
		return nil, repo.ErrNotFound
	}
	r := *m.active
	return &r, nil
}

func (m *memRotationStore) TouchLastRotation(context.Context, time.Time) error {
	m.mu.Lock()
	m.touched++
	m.mu.Unlock()
	return nil
}

func (m *memRotationStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

type memEconomy struct {
	mu         sync.Mutex
	balances   map[string]int64
	instances  map[string]string // instance -> user
	balanceErr error
	debitErr   error
	grantErr   error
	refunds    int
	revokes    int
}

func newEconomy(balances map[string]int64) *memEconomy {
	return &memEconomy{balances: balances, instances: map[string]string{}}
}

func (m *memEconomy) Balance(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], m.balanceErr
}

func (m *memEconomy) Debit(_ context.Context, userID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.debitErr != nil {
		return m.debitErr
	}
	if m.balances[userID] < amount {
		return repo.ErrInsufficientBalance
	}
	m.balances[userID] -= amount
	return nil
}

func (m *memEconomy) Refund(_ context.Context, userID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds++
	m.balances[userID] += amount
	return nil
}

func (m *memEconomy) GrantInstance(_ context.Context, userID, _, _ string, _ *string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grantErr != nil {
		return "", m.grantErr
	}
	id := uuid.NewString()
	m.instances[id] = userID
	return id, nil
}

func (m *memEconomy) RevokeInstance(_ context.Context, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokes++
	delete(m.instances, instanceID)
	return nil
}

func (m *memEconomy) balance(userID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID]
}

func (m *memEconomy) owned(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.instances {
		if u == userID {
			n++
		}
	}
	return n
}

type memCooldowns struct {
	mu       sync.Mutex
	last     map[string]time.Time
	touchErr error
}

func newCooldowns() *memCooldowns { return &memCooldowns{last: map[string]time.Time{}} }

func (m *memCooldowns) LastPurchase(_ context.Context, userID string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.last[userID]
	return t, ok, nil
}

func (m *memCooldowns) Touch(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.touchErr != nil {
		return m.touchErr
	}
	m.last[userID] = at
	return nil
}

type recordingAudit struct {
	mu        sync.Mutex
	rotations []domain.RotationRecord
	purchases []domain.PurchaseRecord
}

func (r *recordingAudit) AppendRotation(_ context.Context, rec domain.RotationRecord) {
	r.mu.Lock()
	r.rotations = append(r.rotations, rec)
	r.mu.Unlock()
}

func (r *recordingAudit) AppendPurchase(_ context.Context, rec domain.PurchaseRecord) {
	r.mu.Lock()
	r.purchases = append(r.purchases, rec)
	r.mu.Unlock()
}

func (r *recordingAudit) counts() (rotations, purchases int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rotations), len(r.purchases)
}
