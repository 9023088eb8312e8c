// Admin HTTP handlers.
//
// This file exposes the operator endpoints, mounted under /admin and guarded
// by middleware.AdminAuth:
//   - GET    /admin/settings                  (read settings)
//   - PUT    /admin/settings                  (partial update)
//   - GET    /admin/catalog                   (list entries)
//   - POST   /admin/catalog                   (create entry)
//   - GET    /admin/catalog/{id}              (read entry)
//   - PUT    /admin/catalog/{id}              (replace entry)
//   - DELETE /admin/catalog/{id}              (soft delete)
//   - GET    /admin/rotations                 (rotation history)
//   - GET    /admin/purchases                 (purchase history)
//   - POST   /admin/wallets/{user_id}/credit  (credit a player)
//
// Catalog edits never alter offers already shown in a rotation.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-merchant-backend/internal/domain"
	"github.com/tbourn/go-merchant-backend/internal/services"
)

//
// DTOs
//

// CatalogResponse lists catalog entries.
type CatalogResponse struct {
	Entries []domain.CatalogEntry `json:"entries"`
}

// RotationHistoryResponse wraps a page of rotation records.
type RotationHistoryResponse struct {
	Rotations  []domain.RotationRecord `json:"rotations"`
	Pagination Pagination              `json:"pagination"`
}

// PurchaseHistoryResponse wraps a page of purchase records.
type PurchaseHistoryResponse struct {
	Purchases  []domain.PurchaseRecord `json:"purchases"`
	Pagination Pagination              `json:"pagination"`
}

// CreditRequest is the JSON payload for crediting a wallet.
type CreditRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0" example:"100"`
}

// CreditResponse returns the wallet balance after a credit.
type CreditResponse struct {
	UserID  string `json:"user_id" example:"user123"`
	Balance int64  `json:"balance" example:"130"`
}

//
// Helpers
//

// catalogID validates the :id path parameter.
func catalogID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "catalog id must be a UUID")
		return "", false
	}
	return id, true
}

// failAdmin maps admin service errors onto the HTTP error taxonomy.
func failAdmin(c *gin.Context, code string, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidCatalogEntry),
		errors.Is(err, services.ErrInvalidSettings),
		errors.Is(err, services.ErrInvalidAmount):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrCatalogEntryNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "catalog entry not found")
	default:
		fail(c, http.StatusInternalServerError, code, err.Error())
	}
}

//
// Settings
//

// GetSettings godoc
// @ID          adminGetSettings
// @Summary     Read merchant settings
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Success     200  {object}  domain.MerchantSettings
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/settings [get]
func (h *Handlers) GetSettings(c *gin.Context) {
	cfg, err := h.settings.Get(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, cfg)
}

// UpdateSettings godoc
// @ID          adminUpdateSettings
// @Summary     Update merchant settings
// @Description Applies a partial update. Omitted fields keep their value.
// @Description Disabling the merchant ends the current rotation.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    AdminToken
// @Param       body  body      services.SettingsPatch  true  "Fields to change"
// @Success     200   {object}  domain.MerchantSettings
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid settings"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/settings [put]
func (h *Handlers) UpdateSettings(c *gin.Context) {
	var p services.SettingsPatch
	if err := c.ShouldBindJSON(&p); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	cfg, err := h.settings.Update(c.Request.Context(), p)
	if err != nil {
		failAdmin(c, ErrCodeUpdateFailed, err)
		return
	}
	ok(c, http.StatusOK, cfg)
}

//
// Catalog
//

// ListCatalog godoc
// @ID          adminListCatalog
// @Summary     List catalog entries
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       enabled  query     bool  false  "Only enabled entries"
// @Success     200      {object}  handlers.CatalogResponse
// @Failure     401      {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500      {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/catalog [get]
func (h *Handlers) ListCatalog(c *gin.Context) {
	onlyEnabled, _ := strconv.ParseBool(c.Query("enabled"))
	items, err := h.catalog.List(c.Request.Context(), onlyEnabled)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, CatalogResponse{Entries: items})
}

// CreateCatalogEntry godoc
// @ID          adminCreateCatalogEntry
// @Summary     Create a catalog entry
// @Description Weight defaults to 1 and enabled to true when omitted.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    AdminToken
// @Param       body  body      services.CatalogInput  true  "Entry"
// @Success     201   {object}  domain.CatalogEntry
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid entry"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/catalog [post]
func (h *Handlers) CreateCatalogEntry(c *gin.Context) {
	var in services.CatalogInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	e, err := h.catalog.Create(c.Request.Context(), in)
	if err != nil {
		failAdmin(c, ErrCodeCreateFailed, err)
		return
	}
	ok(c, http.StatusCreated, e)
}

// GetCatalogEntry godoc
// @ID          adminGetCatalogEntry
// @Summary     Read a catalog entry
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       id   path      string  true  "Entry ID (UUID)"  format(uuid)
// @Success     200  {object}  domain.CatalogEntry
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /admin/catalog/{id} [get]
func (h *Handlers) GetCatalogEntry(c *gin.Context) {
	id, valid := catalogID(c)
	if !valid {
		return
	}
	e, err := h.catalog.Get(c.Request.Context(), id)
	if err != nil {
		failAdmin(c, ErrCodeInternal, err)
		return
	}
	ok(c, http.StatusOK, e)
}

// UpdateCatalogEntry godoc
// @ID          adminUpdateCatalogEntry
// @Summary     Replace a catalog entry
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    AdminToken
// @Param       id    path      string                 true  "Entry ID (UUID)"  format(uuid)
// @Param       body  body      services.CatalogInput  true  "Entry"
// @Success     200   {object}  domain.CatalogEntry
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid entry"
// @Failure     404   {object}  handlers.ErrorResponse  "Not found"
// @Router      /admin/catalog/{id} [put]
func (h *Handlers) UpdateCatalogEntry(c *gin.Context) {
	id, valid := catalogID(c)
	if !valid {
		return
	}
	var in services.CatalogInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	e, err := h.catalog.Update(c.Request.Context(), id, in)
	if err != nil {
		failAdmin(c, ErrCodeUpdateFailed, err)
		return
	}
	ok(c, http.StatusOK, e)
}

// DeleteCatalogEntry godoc
// @ID          adminDeleteCatalogEntry
// @Summary     Delete a catalog entry
// @Tags        Admin
// @Security    AdminToken
// @Param       id   path    string  true  "Entry ID (UUID)"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /admin/catalog/{id} [delete]
func (h *Handlers) DeleteCatalogEntry(c *gin.Context) {
	id, valid := catalogID(c)
	if !valid {
		return
	}
	if err := h.catalog.Delete(c.Request.Context(), id); err != nil {
		failAdmin(c, ErrCodeInternal, err)
		return
	}
	noContent(c)
}

//
// History
//

// ListRotationHistory godoc
// @ID          adminListRotations
// @Summary     Rotation history
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       page       query     int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query     int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200        {object}  handlers.RotationHistoryResponse
// @Failure     500        {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/rotations [get]
func (h *Handlers) ListRotationHistory(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.history.RotationsPage(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, RotationHistoryResponse{Rotations: items, Pagination: paginate(page, pageSize, total)})
}

// ListPurchaseHistory godoc
// @ID          adminListPurchases
// @Summary     Purchase history
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       user_id    query     string  false  "Only purchases of this player"
// @Param       page       query     int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query     int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200        {object}  handlers.PurchaseHistoryResponse
// @Failure     500        {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/purchases [get]
func (h *Handlers) ListPurchaseHistory(c *gin.Context) {
	page, pageSize := clampPagination(c)
	uid := strings.TrimSpace(c.Query("user_id"))
	items, total, err := h.history.PurchasesPage(c.Request.Context(), uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, PurchaseHistoryResponse{Purchases: items, Pagination: paginate(page, pageSize, total)})
}

//
// Wallets
//

// CreditWallet godoc
// @ID          adminCreditWallet
// @Summary     Credit a player
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    AdminToken
// @Param       user_id  path      string                  true  "Player ID"
// @Param       body     body      handlers.CreditRequest  true  "Amount to add"
// @Success     200      {object}  handlers.CreditResponse
// @Failure     400      {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500      {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/wallets/{user_id}/credit [post]
func (h *Handlers) CreditWallet(c *gin.Context) {
	uid := strings.TrimSpace(c.Param("user_id"))
	var req CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "amount must be a positive integer")
		return
	}
	bal, err := h.wallets.Credit(c.Request.Context(), uid, req.Amount)
	if err != nil {
		failAdmin(c, ErrCodeUpdateFailed, err)
		return
	}
	ok(c, http.StatusOK, CreditResponse{UserID: uid, Balance: bal})
}
