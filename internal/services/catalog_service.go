// Package services – CatalogService
//
// CatalogService is the admin-facing use-case for the item pool. It validates
// and normalizes entries before they reach the repository; edits never touch
// offers already snapshotted into a rotation.
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-merchant-backend/internal/domain"
	"github.com/tbourn/go-merchant-backend/internal/repo"
	"github.com/tbourn/go-merchant-backend/internal/sampler"
)

// CatalogInput carries the admin-editable fields of a catalog entry.
// A nil Enabled means true on create and "unchanged" on update.
type CatalogInput struct {
	CollectibleID string   `json:"collectible_id"`
	DisplayName   string   `json:"display_name"`
	Description   string   `json:"description"`
	Price         int64    `json:"price"`
	Weight        *float64 `json:"weight"`
	SpecialTag    *string  `json:"special_tag"`
	Enabled       *bool    `json:"enabled"`
}

// CatalogService manages catalog entries.
type CatalogService struct {
	DB *gorm.DB

	// LabelMaxLen caps display names and collectible IDs by rune length.
	LabelMaxLen int
	// DescriptionMaxLen caps descriptions by rune length.
	DescriptionMaxLen int
}

// NewCatalogService constructs a CatalogService with column-sized limits.
func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{DB: db, LabelMaxLen: 64, DescriptionMaxLen: 200}
}

// Create validates in and inserts a new entry. Weight defaults to 1.
func (s *CatalogService) Create(ctx context.Context, in CatalogInput) (*domain.CatalogEntry, error) {
	e := domain.CatalogEntry{Weight: 1, Enabled: true}
	if err := s.apply(&e, in); err != nil {
		return nil, err
	}
	return repo.CreateCatalogEntry(ctx, s.DB, e)
}

// Update replaces the editable fields of entry id.
func (s *CatalogService) Update(ctx context.Context, id string, in CatalogInput) (*domain.CatalogEntry, error) {
	cur, err := repo.GetCatalogEntry(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrCatalogEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.apply(cur, in); err != nil {
		return nil, err
	}
	out, err := repo.UpdateCatalogEntry(ctx, s.DB, *cur)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrCatalogEntryNotFound
	}
	return out, err
}

// Get returns entry id.
func (s *CatalogService) Get(ctx context.Context, id string) (*domain.CatalogEntry, error) {
	e, err := repo.GetCatalogEntry(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrCatalogEntryNotFound
	}
	return e, err
}

// List returns the catalog, optionally only enabled entries.
func (s *CatalogService) List(ctx context.Context, onlyEnabled bool) ([]domain.CatalogEntry, error) {
	items, err := repo.ListCatalog(ctx, s.DB, onlyEnabled)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.CatalogEntry{}
	}
	return items, nil
}

// Delete soft-deletes entry id.
func (s *CatalogService) Delete(ctx context.Context, id string) error {
	err := repo.DeleteCatalogEntry(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrCatalogEntryNotFound
	}
	return err
}

func (s *CatalogService) apply(e *domain.CatalogEntry, in CatalogInput) error {
	collectible := s.clip(normalizeLabel(in.CollectibleID), s.LabelMaxLen)
	if collectible == "" {
		return fmt.Errorf("%w: collectible_id is required", ErrInvalidCatalogEntry)
	}
	if in.Price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidCatalogEntry)
	}
	if in.Weight != nil {
		w := *in.Weight
		if math.IsNaN(w) || w < 0 || w > sampler.MaxWeight {
			return fmt.Errorf("%w: weight must be between 0 and %g", ErrInvalidCatalogEntry, sampler.MaxWeight)
		}
		e.Weight = w
	}
	e.CollectibleID = collectible
	e.DisplayName = s.clip(normalizeLabel(in.DisplayName), s.LabelMaxLen)
	e.Description = s.clip(strings.TrimSpace(norm.NFC.String(in.Description)), s.DescriptionMaxLen)
	e.Price = in.Price
	e.SpecialTag = nil
	if in.SpecialTag != nil {
		if tag := s.clip(normalizeLabel(*in.SpecialTag), s.LabelMaxLen); tag != "" {
			e.SpecialTag = &tag
		}
	}
	if in.Enabled != nil {
		e.Enabled = *in.Enabled
	}
	return nil
}

func (s *CatalogService) clip(v string, max int) string {
	if max > 0 && utf8.RuneCountInString(v) > max {
		return string([]rune(v)[:max])
	}
	return v
}

// normalizeLabel applies NFC, trims, and collapses inner whitespace so that
// visually equal labels compare equal in autocomplete.
func normalizeLabel(v string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(norm.NFC.String(v)), " ")
}

var whitespaceRE = regexp.MustCompile(`\s+`)
