// Player account handlers.
//
//   - GET /me            (balance and cooldown)
//   - GET /me/instances  (owned items, paginated)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-merchant-backend/internal/domain"
)

// MeResponse summarises the caller's account.
type MeResponse struct {
	UserID          string `json:"user_id" example:"user123"`
	Balance         int64  `json:"balance" example:"120"`
	CooldownSeconds int    `json:"cooldown_seconds" example:"0"`
	CanPurchase     bool   `json:"can_purchase"`
}

// ListInstancesResponse wraps a page of owned instances.
type ListInstancesResponse struct {
	Instances  []domain.OwnedInstance `json:"instances"`
	Pagination Pagination             `json:"pagination"`
}

// GetMe godoc
// @ID          getMe
// @Summary     Current player
// @Description Returns the caller's balance and the seconds left on the purchase cooldown.
// @Tags        Player
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Player ID"  example(user123)
//
// @Success     200  {object}  handlers.MeResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /me [get]
func (h *Handlers) GetMe(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	bal, err := h.wallets.Balance(ctx, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	left, err := h.purchases.CooldownRemaining(ctx, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, MeResponse{
		UserID:          uid,
		Balance:         bal,
		CooldownSeconds: ceilSeconds(left),
		CanPurchase:     left == 0,
	})
}

// ListInstances godoc
// @ID          listInstances
// @Summary     Owned items
// @Description Returns a page of the items the caller bought, newest first.
// @Tags        Player
// @Produce     json
//
// @Param       X-User-ID  header  string  true   "Player ID"       example(user123)
// @Param       page       query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListInstancesResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /me/instances [get]
func (h *Handlers) ListInstances(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, total, err := h.wallets.InstancesPage(c.Request.Context(), userID(c), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListInstancesResponse{
		Instances:  items,
		Pagination: paginate(page, pageSize, total),
	})
}
