// Merchant HTTP handlers.
//
// This file exposes the player-facing merchant endpoints:
//   - GET  /merchant          (live rotation and time left)
//   - GET  /merchant/offers   (offer autocomplete)
//   - POST /merchant/buy      (purchase an offer)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// purchase exists for (user, route, key), the handler returns that purchase
// and sets `Idempotency-Replayed: true` instead of charging again.
package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-merchant-backend/internal/domain"
	"github.com/tbourn/go-merchant-backend/internal/http/middleware"
	"github.com/tbourn/go-merchant-backend/internal/repo"
	"github.com/tbourn/go-merchant-backend/internal/services"
)

//
// DTOs
//

// MerchantResponse is the live rotation as shown to players.
type MerchantResponse struct {
	RotationID       string         `json:"rotation_id" example:"5b0f5a3e-1f7e-4c55-9d8e-4a1c8f0e2b11"`
	Offers           []domain.Offer `json:"offers"`
	CreatedAt        time.Time      `json:"created_at"`
	ExpiresAt        time.Time      `json:"expires_at"`
	RemainingSeconds int            `json:"remaining_seconds" example:"1740"`
}

// OffersResponse lists offers matching an autocomplete query.
type OffersResponse struct {
	Offers []domain.Offer `json:"offers"`
}

// BuyRequest is the JSON payload for buying an offer.
type BuyRequest struct {
	// OfferID is the offer identifier from the current rotation.
	OfferID string `json:"offer_id" binding:"required" example:"0c4d6f0e-3b8a-4b0e-9a53-2f1f7d3b9e12"`
}

//
// Helpers
//

// ceilSeconds rounds d up to whole seconds so a client never retries early.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// failPurchase maps a service outcome onto the HTTP error taxonomy.
func failPurchase(c *gin.Context, err error) {
	var cd *services.CooldownError
	switch {
	case errors.As(err, &cd):
		failRetry(c, http.StatusTooManyRequests, ErrCodeOnCooldown, err.Error(), cd.RemainingSeconds())
	case errors.Is(err, services.ErrMerchantDisabled),
		errors.Is(err, services.ErrEmptyPool),
		errors.Is(err, services.ErrInvalidSettings):
		fail(c, http.StatusServiceUnavailable, ErrCodeMerchantUnavailable, "merchant is not available")
	case errors.Is(err, services.ErrOfferNotFound):
		fail(c, http.StatusNotFound, ErrCodeOfferNotFound, "offer not found in the current rotation")
	case errors.Is(err, services.ErrInsufficientFunds):
		fail(c, http.StatusPaymentRequired, ErrCodeInsufficientFunds, "insufficient funds")
	case errors.Is(err, services.ErrTransactionFailed):
		failRetry(c, http.StatusServiceUnavailable, ErrCodeTransactionFailed, "transaction failed, please retry", 1)
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// idempotencyKey prefers the key validated by middleware and falls back to the
// raw header when no validator is mounted.
func idempotencyKey(c *gin.Context) string {
	if k, ok := middleware.GetIdempotencyKey(c); ok {
		return k
	}
	return strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
}

// replayPurchase rebuilds the response of an earlier purchase from the
// granted instance and, when already written, its audit record.
func (h *Handlers) replayPurchase(ctx context.Context, uid, instanceID string) (*services.PurchaseResult, error) {
	inst, err := repo.GetInstance(ctx, h.db, instanceID)
	if err != nil {
		return nil, err
	}
	res := &services.PurchaseResult{
		InstanceID: inst.ID,
		Offer: domain.Offer{
			EntryID:       inst.EntryID,
			CollectibleID: inst.CollectibleID,
			SpecialTag:    inst.SpecialTag,
		},
		PurchasedAt: inst.CreatedAt,
	}
	if rec, err := repo.GetPurchaseByInstance(ctx, h.db, instanceID); err == nil {
		res.RotationID = rec.RotationID
		res.Offer.ID = rec.OfferID
		res.Offer.Label = rec.Label
		res.Offer.Price = rec.Price
		res.PurchasedAt = rec.CreatedAt
	}
	if bal, err := h.wallets.Balance(ctx, uid); err == nil {
		res.Balance = bal
	}
	return res, nil
}

//
// Handlers
//

// GetMerchant godoc
// @ID          getMerchant
// @Summary     Current merchant rotation
// @Description Returns the live rotation, generating a new one when the previous rotation expired.
// @Tags        Merchant
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Player ID"  example(user123)
//
// @Success     200  {object}  handlers.MerchantResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     503  {object}  handlers.ErrorResponse  "Merchant unavailable"
// @Router      /merchant [get]
func (h *Handlers) GetMerchant(c *gin.Context) {
	view, err := h.rotations.View(c.Request.Context())
	if err != nil {
		failPurchase(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, MerchantResponse{
		RotationID:       view.RotationID,
		Offers:           view.Offers,
		CreatedAt:        view.CreatedAt,
		ExpiresAt:        view.ExpiresAt,
		RemainingSeconds: ceilSeconds(view.Remaining),
	})
}

// SearchOffers godoc
// @ID          searchOffers
// @Summary     Autocomplete offers
// @Description Case-insensitive substring match on the label or collectible ID of the current offers (max 25).
// @Tags        Merchant
// @Produce     json
//
// @Param       X-User-ID  header  string  true   "Player ID"     example(user123)
// @Param       q          query   string  false  "Search text"   example(drag)
//
// @Success     200  {object}  handlers.OffersResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Merchant unavailable"
// @Router      /merchant/offers [get]
func (h *Handlers) SearchOffers(c *gin.Context) {
	view, err := h.rotations.View(c.Request.Context())
	if err != nil {
		failPurchase(c, err)
		return
	}
	ok(c, http.StatusOK, OffersResponse{
		Offers: services.FilterOffers(view.Offers, c.Query("q"), services.MaxSuggestions),
	})
}

// Buy godoc
// @ID          buyOffer
// @Summary     Buy an offer
// @Description Debits the player, grants the item, and starts the purchase cooldown.
// @Description Supports idempotency via the Idempotency-Key header (same key → same purchase).
// @Tags        Merchant
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true   "Player ID"  example(user123)
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.BuyRequest  true  "Offer to buy"
//
// @Success     200  {object}  services.PurchaseResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     402  {object}  handlers.ErrorResponse  "Insufficient funds"
// @Failure     404  {object}  handlers.ErrorResponse  "Offer not found"
// @Failure     429  {object}  handlers.ErrorResponse  "On cooldown"
// @Header      429  {integer} Retry-After "Seconds until the cooldown ends"
// @Failure     503  {object}  handlers.ErrorResponse  "Merchant unavailable or transaction failed"
// @Router      /merchant/buy [post]
func (h *Handlers) Buy(c *gin.Context) {
	ctx := c.Request.Context()

	var req BuyRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.OfferID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "offer_id required")
		return
	}

	uid := userID(c)
	scope := middleware.IdempotencyScope(c)
	key := idempotencyKey(c)

	// Idempotency (replay path). The lock spans lookup, purchase and store.
	if key != "" && h.db != nil {
		unlock := h.idemLocks.Lock(uid + "|" + scope + "|" + key)
		defer unlock()
		if rec, err := repo.GetIdempotency(ctx, h.db, uid, scope, key, time.Now().UTC()); err == nil {
			if prev, err := h.replayPurchase(ctx, uid, rec.ResourceID); err == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, prev)
				return
			}
		}
	}

	res, err := h.purchases.Purchase(ctx, uid, strings.TrimSpace(req.OfferID))
	if err != nil {
		failPurchase(c, err)
		return
	}

	// Idempotency (store path) – best effort.
	if key != "" && h.db != nil {
		if _, err := repo.CreateIdempotency(ctx, h.db, uid, scope, key, res.InstanceID, http.StatusOK, h.idemTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Str("instance_id", res.InstanceID).Msg("idempotency record not stored")
		}
	}

	ok(c, http.StatusOK, res)
}
