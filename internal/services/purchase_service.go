// Package services – PurchaseService
//
// PurchaseService validates and commits a purchase against the live rotation.
// Checks run in a fixed order (availability, offer, cooldown, funds) and the
// commit is debit, grant, cooldown stamp. Each later step failing undoes the
// earlier ones, so a player is never charged without receiving the item.
// Purchases of one user are serialized by a KeyedMutex; users proceed in
// parallel.

package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-merchant-backend/internal/domain"
	"github.com/tbourn/go-merchant-backend/internal/observability"
	"github.com/tbourn/go-merchant-backend/internal/repo"
)

// RotationReader exposes the live rotation to the purchase flow.
type RotationReader interface {
	Current(ctx context.Context) (domain.Rotation, error)
}

// PurchaseResult describes a committed purchase.
type PurchaseResult struct {
	InstanceID  string       `json:"instance_id"`
	RotationID  string       `json:"rotation_id"`
	Offer       domain.Offer `json:"offer"`
	Balance     int64        `json:"balance"`
	PurchasedAt time.Time    `json:"purchased_at"`
}

// PurchaseService coordinates the purchase transaction.
type PurchaseService struct {
	Settings  SettingsSource
	Rotations RotationReader
	Economy   Economy
	Cooldowns CooldownStore
	Audit     AuditSink
	Events    *Bus

	// Timeout bounds every backing-store call; zero means 5s.
	Timeout time.Duration
	Now     func() time.Time

	locks KeyedMutex
}

// NewPurchaseService returns a service with its per-user lock table.
func NewPurchaseService(settings SettingsSource, rotations RotationReader, economy Economy, cooldowns CooldownStore, audit AuditSink, events *Bus, timeout time.Duration) *PurchaseService {
	return &PurchaseService{
		Settings:  settings,
		Rotations: rotations,
		Economy:   economy,
		Cooldowns: cooldowns,
		Audit:     audit,
		Events:    events,
		Timeout:   timeout,
	}
}

// Purchase buys offerID for userID.
//
// Errors: ErrMerchantDisabled, ErrOfferNotFound, *CooldownError (matches
// ErrOnCooldown), ErrInsufficientFunds, ErrTransactionFailed.
func (s *PurchaseService) Purchase(ctx context.Context, userID, offerID string) (*PurchaseResult, error) {
	tr := otel.Tracer("services/PurchaseService")
	ctx, span := tr.Start(ctx, "Purchase",
		trace.WithAttributes(
			observability.AttrUserID.String(userID),
			observability.AttrOfferID.String(offerID),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := s.purchase(ctx, userID, offerID)
	observability.PurchaseDuration.Observe(time.Since(start).Seconds())
	observability.PurchasesTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(observability.AttrInstanceID.String(res.InstanceID))
	return res, nil
}

func (s *PurchaseService) purchase(ctx context.Context, userID, offerID string) (*PurchaseResult, error) {
	cfg, err := s.Settings.Settings(ctx)
	if err != nil {
		return nil, txFailed("load settings", err)
	}
	if !cfg.Enabled {
		return nil, ErrMerchantDisabled
	}

	rot, err := s.Rotations.Current(ctx)
	switch {
	case errors.Is(err, ErrMerchantDisabled), errors.Is(err, ErrEmptyPool), errors.Is(err, ErrInvalidSettings):
		return nil, ErrMerchantDisabled
	case err != nil:
		return nil, err
	}
	offer, ok := rot.FindOffer(offerID)
	if !ok {
		return nil, ErrOfferNotFound
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	now := s.now()

	opCtx, cancel := s.op(ctx)
	last, seen, err := s.Cooldowns.LastPurchase(opCtx, userID)
	cancel()
	if err != nil {
		return nil, txFailed("read cooldown", err)
	}
	if seen {
		if elapsed := now.Sub(last); elapsed < cfg.Cooldown() {
			return nil, &CooldownError{Remaining: cfg.Cooldown() - elapsed}
		}
	}

	opCtx, cancel = s.op(ctx)
	balance, err := s.Economy.Balance(opCtx, userID)
	cancel()
	if err != nil {
		return nil, txFailed("read balance", err)
	}
	if balance < offer.Price {
		return nil, ErrInsufficientFunds
	}

	opCtx, cancel = s.op(ctx)
	err = s.Economy.Debit(opCtx, userID, offer.Price)
	cancel()
	if errors.Is(err, repo.ErrInsufficientBalance) {
		return nil, ErrInsufficientFunds
	}
	if err != nil {
		// the debit outcome is unknown; nothing is granted
		return nil, txFailed("debit", err)
	}

	opCtx, cancel = s.op(ctx)
	instanceID, err := s.Economy.GrantInstance(opCtx, userID, offer.EntryID, offer.CollectibleID, offer.SpecialTag)
	cancel()
	if err != nil {
		s.compensate(ctx, userID, offer.Price, "")
		return nil, txFailed("grant instance", err)
	}

	opCtx, cancel = s.op(ctx)
	err = s.Cooldowns.Touch(opCtx, userID, now)
	cancel()
	if err != nil {
		s.compensate(ctx, userID, offer.Price, instanceID)
		return nil, txFailed("record cooldown", err)
	}

	rec := domain.PurchaseRecord{
		ID:         uuid.NewString(),
		UserID:     userID,
		RotationID: rot.ID,
		OfferID:    offer.ID,
		EntryID:    offer.EntryID,
		Label:      offer.Label,
		Price:      offer.Price,
		SpecialTag: offer.SpecialTag,
		InstanceID: instanceID,
		CreatedAt:  now,
	}
	if s.Audit != nil {
		s.Audit.AppendPurchase(ctx, rec)
	}
	s.Events.Publish(ctx, Event{Type: EventPurchaseCompleted, Timestamp: now, Purchase: &rec})

	log.Info().
		Str("user_id", userID).
		Str("offer_id", offer.ID).
		Str("instance_id", instanceID).
		Int64("price", offer.Price).
		Msg("merchant purchase completed")

	return &PurchaseResult{
		InstanceID:  instanceID,
		RotationID:  rot.ID,
		Offer:       offer,
		Balance:     balance - offer.Price,
		PurchasedAt: now,
	}, nil
}

// CooldownRemaining reports how long userID must still wait before buying
// again. Zero means a purchase is allowed now.
func (s *PurchaseService) CooldownRemaining(ctx context.Context, userID string) (time.Duration, error) {
	cfg, err := s.Settings.Settings(ctx)
	if err != nil {
		return 0, err
	}
	opCtx, cancel := s.op(ctx)
	defer cancel()
	last, seen, err := s.Cooldowns.LastPurchase(opCtx, userID)
	if err != nil || !seen {
		return 0, err
	}
	if left := cfg.Cooldown() - s.now().Sub(last); left > 0 {
		return left, nil
	}
	return 0, nil
}

// compensate undoes a debit and, when set, a grant. It runs detached from
// the request so a cancelled caller cannot strand the rollback.
func (s *PurchaseService) compensate(ctx context.Context, userID string, amount int64, instanceID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout())
	defer cancel()

	if instanceID != "" {
		if err := s.Economy.RevokeInstance(ctx, instanceID); err != nil {
			observability.CompensationFailuresTotal.Inc()
			log.Error().Err(err).Str("user_id", userID).Str("instance_id", instanceID).Msg("purchase rollback: revoke failed")
		}
	}
	if err := s.Economy.Refund(ctx, userID, amount); err != nil {
		observability.CompensationFailuresTotal.Inc()
		log.Error().Err(err).Str("user_id", userID).Int64("amount", amount).Msg("purchase rollback: refund failed")
	}
}

func (s *PurchaseService) op(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout())
}

func (s *PurchaseService) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 5 * time.Second
}

func (s *PurchaseService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeOK
	case errors.Is(err, ErrMerchantDisabled):
		return observability.OutcomeUnavailable
	case errors.Is(err, ErrOfferNotFound):
		return observability.OutcomeNotFound
	case errors.Is(err, ErrOnCooldown):
		return observability.OutcomeCooldown
	case errors.Is(err, ErrInsufficientFunds):
		return observability.OutcomeInsufficient
	default:
		return observability.OutcomeFailed
	}
}
