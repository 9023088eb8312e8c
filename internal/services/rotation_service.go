// Package services – RotationService
//
// RotationService owns the single active rotation. Rollover is lazy: every
// read checks expiry under one mutex, so concurrent readers at the expiry
// instant observe exactly one new rotation. A background ticker performs the
// same check so that rotations advance and get audited without traffic.

package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-merchant-backend/internal/domain"
	"github.com/tbourn/go-merchant-backend/internal/observability"
	"github.com/tbourn/go-merchant-backend/internal/repo"
	"github.com/tbourn/go-merchant-backend/internal/sampler"
)

// RotationView is what players see: the live rotation and its time left.
type RotationView struct {
	RotationID string         `json:"rotation_id"`
	Offers     []domain.Offer `json:"offers"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	Remaining  time.Duration  `json:"-"`
}

// RotationService generates, persists, and serves merchant rotations.
type RotationService struct {
	Settings SettingsSource
	Catalog  CatalogSource
	Store    RotationStore
	Audit    AuditSink
	Events   *Bus
	RNG      sampler.RandomSource
	Now      func() time.Time

	mu      sync.Mutex
	current *domain.Rotation
	resumed bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRotationService wires a service with the crypto RNG and the wall clock.
func NewRotationService(settings SettingsSource, catalog CatalogSource, store RotationStore, audit AuditSink, events *Bus) *RotationService {
	return &RotationService{
		Settings: settings,
		Catalog:  catalog,
		Store:    store,
		Audit:    audit,
		Events:   events,
		RNG:      sampler.DefaultRNG(),
	}
}

// Current returns the active rotation, rolling over first when it expired.
// It returns ErrMerchantDisabled when the merchant is off and ErrEmptyPool
// when no entry is eligible.
func (s *RotationService) Current(ctx context.Context) (domain.Rotation, error) {
	tr := otel.Tracer("services/RotationService")
	ctx, span := tr.Start(ctx, "Current")
	defer span.End()

	cfg, err := s.Settings.Settings(ctx)
	if err != nil {
		return domain.Rotation{}, txFailed("load settings", err)
	}
	r, err := s.ensure(ctx, cfg)
	if err != nil {
		return domain.Rotation{}, err
	}
	span.SetAttributes(observability.AttrRotationID.String(r.ID))
	return r, nil
}

// View is Current shaped for players.
func (s *RotationService) View(ctx context.Context) (RotationView, error) {
	r, err := s.Current(ctx)
	if err != nil {
		return RotationView{}, err
	}
	return RotationView{
		RotationID: r.ID,
		Offers:     r.OfferList(),
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
		Remaining:  r.Remaining(s.now()),
	}, nil
}

// Refresh runs one scheduler step: it suspends the merchant when disabled or
// when the pool became empty, and otherwise rolls over an expired rotation.
func (s *RotationService) Refresh(ctx context.Context) error {
	tr := otel.Tracer("services/RotationService")
	ctx, span := tr.Start(ctx, "Refresh")
	defer span.End()

	cfg, err := s.Settings.Settings(ctx)
	if err != nil {
		return txFailed("load settings", err)
	}
	_, err = s.ensure(ctx, cfg)
	return err
}

func (s *RotationService) ensure(ctx context.Context, cfg domain.MerchantSettings) (domain.Rotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.dropLocked("merchant disabled")
		return domain.Rotation{}, ErrMerchantDisabled
	}
	if cfg.RotationMinutes <= 0 || cfg.ItemsPerRotation <= 0 {
		s.dropLocked("invalid settings")
		return domain.Rotation{}, ErrInvalidSettings
	}

	now := s.now()
	if s.current == nil && !s.resumed {
		s.resumed = true
		r, err := s.Store.LatestActiveRotation(ctx, now)
		switch {
		case err == nil:
			s.current = r
			log.Info().Str("rotation_id", r.ID).Time("expires_at", r.ExpiresAt).Msg("resumed merchant rotation")
		case !errors.Is(err, repo.ErrNotFound):
			log.Warn().Err(err).Msg("could not load persisted rotation")
		}
	}
	if s.current != nil && !s.current.Expired(now) {
		// A live rotation stays on sale only while its pool has eligible
		// entries; emptying the catalog suspends the merchant immediately.
		entries, err := s.Catalog.Snapshot(ctx)
		if err != nil {
			return domain.Rotation{}, txFailed("snapshot catalog", err)
		}
		if len(sampler.Eligible(entries)) == 0 {
			s.dropLocked("item pool is empty")
			observability.RotationSkipsTotal.Inc()
			return domain.Rotation{}, ErrEmptyPool
		}
		return cloneRotation(s.current), nil
	}

	r, err := s.rollover(ctx, cfg, now)
	if err != nil {
		s.current = nil
		return domain.Rotation{}, err
	}
	s.current = r
	return cloneRotation(r), nil
}

// rollover draws, persists, and announces a new rotation. Callers hold s.mu.
func (s *RotationService) rollover(ctx context.Context, cfg domain.MerchantSettings, now time.Time) (*domain.Rotation, error) {
	tr := otel.Tracer("services/RotationService")
	ctx, span := tr.Start(ctx, "rollover",
		trace.WithAttributes(attribute.Int("items_per_rotation", cfg.ItemsPerRotation)),
	)
	defer span.End()

	entries, err := s.Catalog.Snapshot(ctx)
	if err != nil {
		return nil, txFailed("snapshot catalog", err)
	}
	offers, err := sampler.Sample(entries, cfg.ItemsPerRotation, s.rng())
	if errors.Is(err, sampler.ErrEmptyPool) {
		observability.RotationSkipsTotal.Inc()
		log.Warn().Msg("merchant rotation skipped: item pool is empty")
		return nil, ErrEmptyPool
	}
	if err != nil {
		return nil, err
	}

	r := &domain.Rotation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(cfg.RotationDelta()),
		Offers:    make([]domain.RotationOffer, 0, len(offers)),
	}
	for i, o := range offers {
		r.Offers = append(r.Offers, domain.RotationOffer{
			ID:            uuid.NewString(),
			RotationID:    r.ID,
			Position:      i,
			EntryID:       o.EntryID,
			CollectibleID: o.CollectibleID,
			Label:         o.Label,
			Price:         o.Price,
			SpecialTag:    o.SpecialTag,
			CreatedAt:     now,
		})
	}
	if err := s.Store.SaveRotation(ctx, r); err != nil {
		return nil, txFailed("save rotation", err)
	}
	if err := s.Store.TouchLastRotation(ctx, now); err != nil {
		log.Warn().Err(err).Str("rotation_id", r.ID).Msg("could not stamp last rotation time")
	}

	rec := domain.RotationRecord{
		ID:         uuid.NewString(),
		RotationID: r.ID,
		Offers:     r.OfferList(),
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
	}
	if s.Audit != nil {
		s.Audit.AppendRotation(ctx, rec)
	}
	s.Events.Publish(ctx, Event{Type: EventRotationChanged, Timestamp: now, Rotation: &rec})
	observability.RotationsTotal.Inc()

	span.SetAttributes(observability.AttrRotationID.String(r.ID), attribute.Int("offers", len(r.Offers)))
	log.Info().
		Str("rotation_id", r.ID).
		Int("offers", len(r.Offers)).
		Time("expires_at", r.ExpiresAt).
		Msg("merchant rotation installed")
	return r, nil
}

func (s *RotationService) dropLocked(reason string) {
	if s.current != nil {
		log.Info().Str("rotation_id", s.current.ID).Str("reason", reason).Msg("merchant suspended")
	}
	s.current = nil
	s.resumed = true
}

// Start runs Refresh immediately and then every interval until Stop or ctx ends.
func (s *RotationService) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			s.tick(ctx)
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-t.C:
			}
		}
	}()
}

// Stop halts the ticker started by Start and waits for it to exit.
func (s *RotationService) Stop() {
	if s.stop == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *RotationService) tick(ctx context.Context) {
	err := s.Refresh(ctx)
	switch {
	case err == nil, errors.Is(err, ErrMerchantDisabled), errors.Is(err, ErrEmptyPool):
	default:
		log.Error().Err(err).Msg("merchant rotation refresh failed")
	}
}

func (s *RotationService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *RotationService) rng() sampler.RandomSource {
	if s.RNG == nil {
		return sampler.DefaultRNG()
	}
	return s.RNG
}

func cloneRotation(r *domain.Rotation) domain.Rotation {
	out := *r
	out.Offers = append([]domain.RotationOffer(nil), r.Offers...)
	return out
}
