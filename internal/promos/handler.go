package promos

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/middleware"
	"github.com/richxcame/escrow-settlement/pkg/pagination"
)

// Handler serves the promo endpoints
type Handler struct {
	service *Service
}

// NewHandler creates a promo handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts validation for customers on protected and code management on admin
func (h *Handler) RegisterRoutes(protected, admin *gin.RouterGroup) {
	protected.GET("/promos/validate", h.Validate)

	promos := admin.Group("/promos")
	promos.POST("", h.Create)
	promos.GET("", h.List)
	promos.GET("/:id", h.Get)
	promos.PUT("/:id", h.Update)
	promos.DELETE("/:id", h.Deactivate)
	promos.GET("/:id/stats", h.Stats)
}

// ValidateQuery is the query string of GET /promos/validate
type ValidateQuery struct {
	Code   string `form:"code" binding:"required"`
	Amount int64  `form:"amount" binding:"required,gt=0"`
}

// Validate prices a code against a booking amount for the caller
func (h *Handler) Validate(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	var q ValidateQuery
	if !common.BindQuery(c, &q) {
		return
	}

	result, err := h.service.Validate(c.Request.Context(), q.Code, userID, q.Amount)
	if common.HandleServiceError(c, err, "failed to validate promo code") {
		return
	}
	common.SuccessResponse(c, result)
}

// Create adds a code on behalf of the calling admin
func (h *Handler) Create(c *gin.Context) {
	var promo PromoCode
	if !common.BindJSON(c, &promo) {
		return
	}
	if adminID, err := middleware.GetUserID(c); err == nil {
		promo.CreatedBy = &adminID
	}

	if common.HandleServiceError(c, h.service.Create(c.Request.Context(), &promo), "failed to create promo code") {
		return
	}
	common.CreatedResponse(c, promo)
}

// List pages through all codes
func (h *Handler) List(c *gin.Context) {
	page := pagination.ParseParams(c)

	codes, total, err := h.service.List(c.Request.Context(), page.Limit, page.Offset)
	if common.HandleServiceError(c, err, "failed to list promo codes") {
		return
	}
	if codes == nil {
		codes = []*PromoCode{}
	}
	common.SuccessResponseWithMeta(c, codes, pagination.BuildMeta(page.Limit, page.Offset, total))
}

// Get returns one code
func (h *Handler) Get(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "promo code ID")
	if !ok {
		return
	}
	promo, err := h.service.Get(c.Request.Context(), id)
	if common.HandleServiceError(c, err, "failed to get promo code") {
		return
	}
	common.SuccessResponse(c, promo)
}

// Update replaces a code's terms
func (h *Handler) Update(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "promo code ID")
	if !ok {
		return
	}
	var promo PromoCode
	if !common.BindJSON(c, &promo) {
		return
	}
	promo.ID = id

	if common.HandleServiceError(c, h.service.Update(c.Request.Context(), &promo), "failed to update promo code") {
		return
	}
	common.SuccessResponse(c, promo)
}

// Deactivate switches a code off; redemptions already made are kept
func (h *Handler) Deactivate(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "promo code ID")
	if !ok {
		return
	}
	if common.HandleServiceError(c, h.service.Deactivate(c.Request.Context(), id), "failed to deactivate promo code") {
		return
	}
	common.SuccessResponse(c, gin.H{"id": id, "is_active": false})
}

// Stats returns redemption totals for a code
func (h *Handler) Stats(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "promo code ID")
	if !ok {
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), id)
	if common.HandleServiceError(c, err, "failed to get promo code stats") {
		return
	}
	common.SuccessResponse(c, stats)
}
