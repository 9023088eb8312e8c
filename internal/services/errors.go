// Package services defines the business logic of the merchant: the rotation
// scheduler, the purchase coordinator, the audit log, and the admin-facing
// catalog, settings, and wallet use-cases. This file centralizes the error
// taxonomy so that callers can branch with errors.Is / errors.As.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tbourn/go-merchant-backend/internal/sampler"
)

// Merchant availability and purchase outcomes.
var (
	// ErrEmptyPool indicates that no catalog entry is eligible for a rotation;
	// the scheduler stays suspended until the pool refills.
	ErrEmptyPool = sampler.ErrEmptyPool

	// ErrMerchantDisabled is returned when there is no active rotation.
	ErrMerchantDisabled = errors.New("merchant is disabled")

	// ErrOfferNotFound is returned when the offer is not part of the current
	// rotation (typo or a stale view).
	ErrOfferNotFound = errors.New("offer not found in current rotation")

	// ErrOnCooldown is matched by *CooldownError.
	ErrOnCooldown = errors.New("purchase on cooldown")

	// ErrInsufficientFunds is returned when the balance does not cover the price.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrTransactionFailed wraps backing-store failures during a purchase or a
	// rollover. Partial work has been rolled back; the caller may retry.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrAuditDegraded reports that audit records were dropped or could not be
	// written. It never fails a purchase or a rotation.
	ErrAuditDegraded = errors.New("audit log degraded")
)

// Admin-side validation errors.
var (
	// ErrInvalidSettings is returned for out-of-range merchant settings.
	ErrInvalidSettings = errors.New("invalid merchant settings")

	// ErrInvalidCatalogEntry is returned for malformed catalog entries.
	ErrInvalidCatalogEntry = errors.New("invalid catalog entry")

	// ErrCatalogEntryNotFound is returned when an admin edits a missing entry.
	ErrCatalogEntryNotFound = errors.New("catalog entry not found")

	// ErrInvalidAmount is returned for non-positive wallet credits.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// CooldownError carries the time a user still has to wait.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: %ds remaining", ErrOnCooldown, e.RemainingSeconds())
}

// Is makes errors.Is(err, ErrOnCooldown) match.
func (e *CooldownError) Is(target error) bool { return target == ErrOnCooldown }

// RemainingSeconds rounds the wait up to whole seconds.
func (e *CooldownError) RemainingSeconds() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}

// txFailed wraps a store error as ErrTransactionFailed.
func txFailed(step string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransactionFailed, step, err)
}
