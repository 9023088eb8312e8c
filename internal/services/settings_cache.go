package services

import (
	"context"
	"sync"
	"time"

	"github.com/tbourn/go-merchant-backend/internal/domain"
)

// defaultStaleGrace bounds the fallback when caching is disabled.
const defaultStaleGrace = 10 * time.Second

// SettingsCache serves settings from memory for up to TTL. Admin updates
// become visible to the core within one TTL, or immediately after Invalidate.
//
// When the source fails, the last loaded value is served until it is Grace
// old; after that the source error is returned.
type SettingsCache struct {
	Source SettingsSource
	TTL    time.Duration
	Grace  time.Duration
	Now    func() time.Time

	mu       sync.Mutex
	cached   domain.MerchantSettings
	loadedAt time.Time
	valid    bool
}

// NewSettingsCache wraps src with the given TTL. A non-positive TTL disables
// caching. Grace defaults to twice the TTL.
func NewSettingsCache(src SettingsSource, ttl time.Duration) *SettingsCache {
	grace := 2 * ttl
	if grace <= 0 {
		grace = defaultStaleGrace
	}
	return &SettingsCache{Source: src, TTL: ttl, Grace: grace}
}

func (c *SettingsCache) Settings(ctx context.Context) (domain.MerchantSettings, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid && c.TTL > 0 && now.Sub(c.loadedAt) < c.TTL {
		return c.cached, nil
	}
	s, err := c.Source.Settings(ctx)
	if err != nil {
		if c.valid && now.Sub(c.loadedAt) <= c.Grace {
			return c.cached, nil
		}
		return domain.MerchantSettings{}, err
	}
	c.cached, c.loadedAt, c.valid = s, now, true
	return s, nil
}

// Invalidate forces the next read to hit the source.
func (c *SettingsCache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

func (c *SettingsCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
