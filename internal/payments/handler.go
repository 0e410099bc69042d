package payments

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richxcame/escrow-settlement/internal/escrow"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/richxcame/escrow-settlement/pkg/middleware"
	"github.com/richxcame/escrow-settlement/pkg/models"
	"github.com/richxcame/escrow-settlement/pkg/pagination"
	"go.uber.org/zap"
)

// Handler serves the payments, escrow and gateway callback routes
type Handler struct {
	service       *Service
	callbackToken string
}

// NewHandler creates a payments handler. callbackToken guards the gateway callback routes.
func NewHandler(service *Service, callbackToken string) *Handler {
	return &Handler{service: service, callbackToken: callbackToken}
}

// RegisterRoutes mounts gateway callbacks on public, user routes on protected and operator
// routes on admin. protected must already authenticate and admin must already require the
// admin role.
func (h *Handler) RegisterRoutes(public, protected, admin *gin.RouterGroup) {
	callbacks := public.Group("/callbacks/mpesa")
	callbacks.Use(middleware.CallbackToken(h.callbackToken))
	{
		callbacks.POST("/stk/:token", h.STKCallback)
		callbacks.POST("/b2c/:token", h.B2CResult)
	}

	protected.POST("/booking-payment", middleware.RequireRole(models.RoleCustomer, models.RoleAdmin), h.CreateBookingPayment)
	protected.GET("/payment-status/:transaction_id", h.GetPaymentStatus)
	protected.POST("/withdraw", middleware.RequireRole(models.RoleDriver, models.RoleAdmin), h.Withdraw)
	protected.POST("/deposit", middleware.RequireRole(models.RoleDriver, models.RoleAdmin), h.Deposit)
	protected.GET("/wallet/:driver_id", h.GetWallet)
	protected.POST("/bookings/:booking_id/complete", h.CompleteBooking)
	protected.POST("/bookings/:booking_id/cancel", h.CancelBooking)
	protected.GET("/escrow", middleware.RequireAdmin(), h.ListEscrows)

	escrowAdmin := admin.Group("/escrow/:booking_id")
	{
		escrowAdmin.GET("", h.GetEscrow)
		escrowAdmin.POST("/release", h.AdminRelease)
		escrowAdmin.POST("/refund", h.AdminRefund)
		escrowAdmin.POST("/dispute", h.AdminDispute)
		escrowAdmin.POST("/resolve", h.AdminResolve)
		escrowAdmin.GET("/audit", h.AuditEscrow)
	}

	transactions := admin.Group("/transactions")
	{
		transactions.GET("", h.ListTransactions)
		transactions.GET("/:transaction_id", h.GetTransaction)
		transactions.POST("/:transaction_id/retry", h.RetryTransaction)
	}
}

// caller returns the authenticated user and role, or sends 401
func caller(c *gin.Context) (uuid.UUID, models.UserRole, bool) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, "", false
	}
	role, err := middleware.GetUserRole(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, "", false
	}
	return userID, role, true
}

// requireSelf allows admins and the user owning id
func requireSelf(c *gin.Context, id uuid.UUID) bool {
	userID, role, ok := caller(c)
	if !ok {
		return false
	}
	if role != models.RoleAdmin && userID != id {
		common.ErrorResponse(c, http.StatusForbidden, "cannot act on behalf of another user")
		return false
	}
	return true
}

// CreateBookingPayment opens a booking and sends the STK prompt
func (h *Handler) CreateBookingPayment(c *gin.Context) {
	var req models.BookingPaymentRequest
	if !common.BindJSON(c, &req) {
		return
	}
	if !requireSelf(c, req.UserID) {
		return
	}

	resp, err := h.service.CreateBookingPayment(c.Request.Context(), &req)
	if common.HandleServiceError(c, err, "failed to create booking payment") {
		return
	}

	status := http.StatusCreated
	if resp.Queued {
		status = http.StatusAccepted
	}
	common.SuccessResponseWithStatus(c, status, resp, resp.Message)
}

// GetPaymentStatus returns a transaction's status and receipt
func (h *Handler) GetPaymentStatus(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "transaction_id", "transaction ID")
	if !ok {
		return
	}

	userID, role, ok := caller(c)
	if !ok {
		return
	}

	status, err := h.service.GetPaymentStatus(c.Request.Context(), id, userID, role)
	if common.HandleServiceError(c, err, "failed to get payment status") {
		return
	}

	common.SuccessResponse(c, status)
}

// Withdraw reserves and pays out part of a driver's available balance
func (h *Handler) Withdraw(c *gin.Context) {
	var req models.WithdrawRequest
	if !common.BindJSON(c, &req) {
		return
	}
	if !requireSelf(c, req.DriverID) {
		return
	}

	resp, err := h.service.Withdraw(c.Request.Context(), &req)
	if common.HandleServiceError(c, err, "failed to process withdrawal") {
		return
	}

	status := http.StatusOK
	if resp.Queued {
		status = http.StatusAccepted
	}
	common.SuccessResponseWithStatus(c, status, resp, resp.Message)
}

// Deposit tops up a driver wallet
func (h *Handler) Deposit(c *gin.Context) {
	var req models.DepositRequest
	if !common.BindJSON(c, &req) {
		return
	}
	if !requireSelf(c, req.DriverID) {
		return
	}

	resp, err := h.service.Deposit(c.Request.Context(), &req)
	if common.HandleServiceError(c, err, "failed to process deposit") {
		return
	}

	status := http.StatusOK
	if resp.Queued {
		status = http.StatusAccepted
	}
	common.SuccessResponseWithStatus(c, status, resp, resp.Message)
}

// GetWallet returns a driver's balances
func (h *Handler) GetWallet(c *gin.Context) {
	driverID, ok := common.ParseUUIDParam(c, "driver_id", "driver ID")
	if !ok {
		return
	}
	if !requireSelf(c, driverID) {
		return
	}

	balance, err := h.service.GetWallet(c.Request.Context(), driverID)
	if common.HandleServiceError(c, err, "failed to get wallet") {
		return
	}

	common.SuccessResponse(c, balance)
}

// CompleteBooking releases the booking's escrow to the driver
func (h *Handler) CompleteBooking(c *gin.Context) {
	bookingID, ok := common.ParseUUIDParam(c, "booking_id", "booking ID")
	if !ok {
		return
	}
	userID, role, ok := caller(c)
	if !ok {
		return
	}

	tr, err := h.service.CompleteBooking(c.Request.Context(), bookingID, userID, role)
	if common.HandleServiceError(c, err, "failed to complete booking") {
		return
	}

	common.SuccessResponseWithStatus(c, http.StatusOK, tr.Account, "Booking completed, fare released to driver")
}

// CancelBooking refunds the booking's escrow to the customer
func (h *Handler) CancelBooking(c *gin.Context) {
	bookingID, ok := common.ParseUUIDParam(c, "booking_id", "booking ID")
	if !ok {
		return
	}
	userID, role, ok := caller(c)
	if !ok {
		return
	}

	var req models.CancelBookingRequest
	if c.Request.ContentLength > 0 && !common.BindJSON(c, &req) {
		return
	}

	tr, err := h.service.CancelBooking(c.Request.Context(), bookingID, userID, role, req.Reason)
	if common.HandleServiceError(c, err, "failed to cancel booking") {
		return
	}

	common.SuccessResponseWithStatus(c, http.StatusOK, tr.Account, "Booking cancelled")
}

// EscrowListQuery filters the admin escrow listing
type EscrowListQuery struct {
	State    string `form:"state" binding:"omitempty,oneof=awaiting_payment held released refunded disputed"`
	DriverID string `form:"driver_id" binding:"omitempty,uuid"`
}

// ListEscrows returns escrow accounts and the held/released summary (admin only)
func (h *Handler) ListEscrows(c *gin.Context) {
	var query EscrowListQuery
	if !common.BindQuery(c, &query) {
		return
	}
	params := pagination.ParseParams(c)

	var filter models.EscrowFilter
	if query.State != "" {
		state := models.EscrowState(query.State)
		filter.State = &state
	}
	if query.DriverID != "" {
		driverID := uuid.MustParse(query.DriverID)
		filter.DriverID = &driverID
	}

	overview, total, err := h.service.EscrowOverview(c.Request.Context(), filter, params.Limit, params.Offset)
	if common.HandleServiceError(c, err, "failed to list escrows") {
		return
	}

	meta := pagination.BuildMeta(params.Limit, params.Offset, total)
	common.SuccessResponseWithMeta(c, overview, meta)
}

// GetEscrow returns a single escrow account (admin only)
func (h *Handler) GetEscrow(c *gin.Context) {
	bookingID, ok := common.ParseUUIDParam(c, "booking_id", "booking ID")
	if !ok {
		return
	}

	account, err := h.service.GetEscrow(c.Request.Context(), bookingID)
	if common.HandleServiceError(c, err, "failed to get escrow") {
		return
	}

	common.SuccessResponse(c, account)
}

// AdminRelease releases a held booking (admin only)
func (h *Handler) AdminRelease(c *gin.Context) {
	bookingID, ok := common.ParseUUIDParam(c, "booking_id", "booking ID")
	if !ok {
		return
	}

	tr, err := h.service.ReleaseBooking(c.Request.Context(), bookingID, escrow.ActorAdmin)
	if common.HandleServiceError(c, err, "failed to release escrow") {
		return
	}

	common.SuccessResponseWithStatus(c, http.StatusOK, tr.Account, "Escrow released")
}

// AdminRefund refunds a booking (admin only)
func (h *Handler) AdminRefund(c *gin.Context) {
	bookingID, ok := common.ParseUUIDParam(c, "booking_id", "booking ID")
	if !ok {
		return
	}

	var req models.CancelBookingRequest
	if c.Request.ContentLength > 0 && !common.BindJSON(c, &req) {
		return
	}

	tr, err := h.service.RefundBooking(c.Request.Context(), bookingID, escrow.ActorAdmin, req.Reason)
	if common.HandleServiceError(c, err, "failed to refund escrow") {
		return
	}

	common.SuccessResponseWithStatus(c, http.StatusOK, tr.Account, "Escrow refunded")
}

// AdminDispute freezes a held booking (admin only)
func (h *Handler) AdminDispute(c *gin.Context) {
	bookingID, ok := common.ParseUUIDParam(c, "booking_id", "booking ID")
	if !ok {
		return
	}

	var req models.DisputeRequest
	if !common.BindJSON(c, &req) {
		return
	}

	tr, err := h.service.DisputeBooking(c.Request.Context(), bookingID, req.Reason)
	if common.HandleServiceError(c, err, "failed to dispute escrow") {
		return
	}

	common.SuccessResponseWithStatus(c, http.StatusOK, tr.Account, "Escrow disputed")
}

// AdminResolve releases or refunds a disputed booking (admin only)
func (h *Handler) AdminResolve(c *gin.Context) {
	bookingID, ok := common.ParseUUIDParam(c, "booking_id", "booking ID")
	if !ok {
		return
	}

	var req models.ResolveDisputeRequest
	if !common.BindJSON(c, &req) {
		return
	}

	tr, err := h.service.ResolveDispute(c.Request.Context(), bookingID, req.Outcome, req.Note)
	if common.HandleServiceError(c, err, "failed to resolve dispute") {
		return
	}

	common.SuccessResponseWithStatus(c, http.StatusOK, tr.Account, "Dispute resolved")
}

// AuditEscrow compares an escrow with its ledger entries (admin only)
func (h *Handler) AuditEscrow(c *gin.Context) {
	bookingID, ok := common.ParseUUIDParam(c, "booking_id", "booking ID")
	if !ok {
		return
	}

	audit, err := h.service.AuditBooking(c.Request.Context(), bookingID)
	if common.HandleServiceError(c, err, "failed to audit escrow") {
		return
	}

	common.SuccessResponse(c, audit)
}

// TransactionListQuery filters the admin transaction listing
type TransactionListQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=pending completed failed timeout"`
	Type   string `form:"type" binding:"omitempty,oneof=booking_payment deposit refund payout"`
}

// ListTransactions returns gateway transactions, e.g. ?status=timeout (admin only)
func (h *Handler) ListTransactions(c *gin.Context) {
	var query TransactionListQuery
	if !common.BindQuery(c, &query) {
		return
	}
	params := pagination.ParseParams(c)

	var filter models.TransactionFilter
	if query.Status != "" {
		status := models.TransactionStatus(query.Status)
		filter.Status = &status
	}
	if query.Type != "" {
		txType := models.TransactionType(query.Type)
		filter.Type = &txType
	}

	txns, total, err := h.service.ListTransactions(c.Request.Context(), filter, params.Limit, params.Offset)
	if common.HandleServiceError(c, err, "failed to list transactions") {
		return
	}

	meta := pagination.BuildMeta(params.Limit, params.Offset, total)
	common.SuccessResponseWithMeta(c, txns, meta)
}

// GetTransaction returns a single gateway transaction (admin only)
func (h *Handler) GetTransaction(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "transaction_id", "transaction ID")
	if !ok {
		return
	}

	txn, err := h.service.GetTransaction(c.Request.Context(), id)
	if common.HandleServiceError(c, err, "failed to get transaction") {
		return
	}

	common.SuccessResponse(c, txn)
}

// RetryTransaction requeues a timed-out transaction for the reconciler (admin only)
func (h *Handler) RetryTransaction(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "transaction_id", "transaction ID")
	if !ok {
		return
	}

	txn, err := h.service.RetryTransaction(c.Request.Context(), id)
	if common.HandleServiceError(c, err, "failed to retry transaction") {
		return
	}

	common.SuccessResponseWithStatus(c, http.StatusAccepted, txn, "Transaction requeued")
}

// darajaAck is the body Daraja expects from a callback receiver
type darajaAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// STKCallback receives the STK push result
func (h *Handler) STKCallback(c *gin.Context) {
	h.handleCallback(c, "stk", h.service.HandleSTKCallback)
}

// B2CResult receives B2C and transaction status results
func (h *Handler) B2CResult(c *gin.Context) {
	h.handleCallback(c, "b2c", h.service.HandleB2CResult)
}

func (h *Handler) handleCallback(c *gin.Context, kind string, apply func(ctx context.Context, body []byte) error) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, darajaAck{ResultCode: 1, ResultDesc: "unreadable body"})
		return
	}

	err = apply(c.Request.Context(), body)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, darajaAck{ResultCode: 0, ResultDesc: "Accepted"})
	case errors.Is(err, common.ErrValidation):
		logger.WarnContext(c.Request.Context(), "malformed gateway callback",
			zap.String("kind", kind),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, darajaAck{ResultCode: 1, ResultDesc: "Rejected"})
	default:
		logger.ErrorContext(c.Request.Context(), "failed to apply gateway callback",
			zap.String("kind", kind),
			zap.Error(err),
		)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, darajaAck{ResultCode: 1, ResultDesc: "Retry later"})
	}
}
