// Package sampler draws rotation offers from the catalog.
//
// Sample performs a weighted draw without replacement: at every step one
// remaining entry is picked with probability weight/sum(remaining weights)
// and removed from the pool. The cost is O(n·k) for n draws over k entries,
// which is fine for an admin-curated catalog.
//
// Given the same input order and a seeded RandomSource the output is fully
// reproducible.
package sampler

import (
	"errors"
	"math"

	"github.com/tbourn/go-merchant-backend/internal/domain"
)

// MaxWeight is the largest weight the admin API accepts for a catalog entry.
const MaxWeight = 1e9

var (
	// ErrEmptyPool is returned when no entry is eligible for sampling.
	ErrEmptyPool = errors.New("no eligible catalog entries")
	// ErrInvalidCount is returned when fewer than one offer is requested.
	ErrInvalidCount = errors.New("offer count must be positive")
)

// Eligible filters entries down to the ones that may be drawn: enabled, with
// a finite positive weight, and not a repeat of an ID already kept.
func Eligible(entries []domain.CatalogEntry) []domain.CatalogEntry {
	out := make([]domain.CatalogEntry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.Eligible() || math.IsInf(e.Weight, 0) || math.IsNaN(e.Weight) {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Sample returns up to n distinct offers drawn from the eligible entries.
// When n exceeds the eligible count the result is clamped to that count.
// A nil rng uses DefaultRNG.
func Sample(entries []domain.CatalogEntry, n int, rng RandomSource) ([]domain.Offer, error) {
	if n <= 0 {
		return nil, ErrInvalidCount
	}
	pool := Eligible(entries)
	if len(pool) == 0 {
		return nil, ErrEmptyPool
	}
	if n > len(pool) {
		n = len(pool)
	}
	if rng == nil {
		rng = DefaultRNG()
	}

	out := make([]domain.Offer, 0, n)
	for len(out) < n {
		i := pick(pool, rng.Float64())
		out = append(out, domain.OfferFromEntry(pool[i]))
		// Remove while keeping the remaining order stable.
		pool = append(pool[:i], pool[i+1:]...)
	}
	return out, nil
}

// pick maps u in [0,1) onto the cumulative weights of pool. Weights are
// divided by the largest one first so the running sum stays finite for any
// finite input.
func pick(pool []domain.CatalogEntry, u float64) int {
	var top float64
	for _, e := range pool {
		if e.Weight > top {
			top = e.Weight
		}
	}
	var total float64
	for _, e := range pool {
		total += e.Weight / top
	}
	target := u * total
	var acc float64
	for i, e := range pool {
		acc += e.Weight / top
		if target < acc {
			return i
		}
	}
	// Rounding can leave target == total.
	return len(pool) - 1
}
