package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	headerWebhookSignature = "x-webhook-signature"
	headerWebhookTimestamp = "x-webhook-timestamp"
	headerRemainingMinutes = "X-Remaining-Minutes"
	maxWebhookBytes        = 1 << 20
)

func (handler *Handler) handleListPackages(ctx *gin.Context) {
	packages, err := handler.catalog.ListPackages(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]packagePayload, 0, len(packages))
	for _, item := range packages {
		payload = append(payload, newPackagePayload(item))
	}
	ctx.JSON(http.StatusOK, payload)
}

func (handler *Handler) handleUserMinutes(ctx *gin.Context) {
	user, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"minutes": user.RemainingMinutes.Float64()})
}

func (handler *Handler) handleInitiatePayment(ctx *gin.Context) {
	user, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	var request initiateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	packageID, err := parsePackageID(request.PackageID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	descriptor, err := handler.settlement.Initiate(ctx.Request.Context(), user.UserID, packageID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, orderPayload{
		OrderID:          descriptor.OrderID.String(),
		OrderAmount:      decimalNumber(descriptor.Amount),
		OrderCurrency:    descriptor.Currency,
		GatewayOrderID:   descriptor.GatewayOrderID,
		PaymentSessionID: descriptor.PaymentSessionID,
		PaymentLink:      descriptor.PaymentLink,
		ReturnURL:        descriptor.ReturnURL,
		Simulated:        descriptor.Simulated,
		PackageDetails:   newPackagePayload(descriptor.Package),
	})
}

func (handler *Handler) handleConfirmPayment(ctx *gin.Context) {
	var request confirmRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := minutes.NewUserID(request.UserID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	packageID, err := parsePackageID(request.PackageID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	orderID, err := minutes.NewOrderID(request.OrderID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payment, err := handler.settlement.ConfirmCallback(ctx.Request.Context(), minutes.ConfirmRequest{
		UserID:            userID,
		PackageID:         packageID,
		OrderID:           orderID,
		ReportedPaymentID: request.PaymentID,
		ReportedStatus:    request.Status,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message": "Payment processed successfully",
		"payment": newPaymentPayload(payment),
	})
}

func (handler *Handler) handleWebhook(ctx *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxWebhookBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "unreadable body"))
		return
	}
	outcome, err := handler.settlement.HandleWebhook(ctx.Request.Context(), payload, minutes.WebhookHeaders{
		Signature: ctx.GetHeader(headerWebhookSignature),
		Timestamp: ctx.GetHeader(headerWebhookTimestamp),
	})
	if err != nil {
		handler.logger.Warn("webhook rejected", zap.String("order_id", outcome.OrderID.String()), zap.Error(err))
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"orderId":   outcome.OrderID.String(),
		"kind":      string(outcome.Kind),
		"credited":  outcome.Credited,
		"duplicate": outcome.Duplicate,
	})
}

func (handler *Handler) handleListPayments(ctx *gin.Context) {
	user, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	payments, err := handler.settlement.ListPayments(ctx.Request.Context(), user.UserID, historyLimit(ctx))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]paymentPayload, 0, len(payments))
	for _, payment := range payments {
		payload = append(payload, newPaymentPayload(payment))
	}
	ctx.JSON(http.StatusOK, payload)
}

func (handler *Handler) handleStartConversation(ctx *gin.Context) {
	user, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	conversation, err := handler.sessions.Start(ctx.Request.Context(), user.UserID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, newConversationPayload(conversation))
}

func (handler *Handler) handleListConversations(ctx *gin.Context) {
	user, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	conversations, err := handler.sessions.ListConversations(ctx.Request.Context(), user.UserID, historyLimit(ctx))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]conversationPayload, 0, len(conversations))
	for _, conversation := range conversations {
		payload = append(payload, newConversationPayload(conversation))
	}
	ctx.JSON(http.StatusOK, payload)
}

func (handler *Handler) handleListMessages(ctx *gin.Context) {
	user, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	conversationID, err := minutes.NewConversationID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	messages, err := handler.sessions.ListMessages(ctx.Request.Context(), conversationID, user.UserID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]messagePayload, 0, len(messages))
	for _, message := range messages {
		payload = append(payload, newMessagePayload(message))
	}
	ctx.JSON(http.StatusOK, payload)
}

func (handler *Handler) handleSendMessage(ctx *gin.Context) {
	user, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	conversationID, err := minutes.NewConversationID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request messageRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	result, err := handler.sessions.Exchange(ctx.Request.Context(), conversationID, user.UserID, request.Content)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.Header(headerRemainingMinutes, strconv.FormatFloat(result.Balance.Float64(), 'f', -1, 64))
	ctx.JSON(http.StatusCreated, []messagePayload{
		newMessagePayload(result.UserMessage),
		newMessagePayload(result.ReplyMessage),
	})
}

func (handler *Handler) handleEndConversation(ctx *gin.Context) {
	user, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	conversationID, err := minutes.NewConversationID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request endRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	var duration *minutes.Minutes
	if request.Duration != nil {
		value := minutes.Minutes(*request.Duration)
		duration = &value
	}
	conversation, err := handler.sessions.End(ctx.Request.Context(), conversationID, user.UserID, duration)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newConversationPayload(conversation))
}

// sessionUser resolves the verified caller, creating the user on first sight.
func (handler *Handler) sessionUser(ctx *gin.Context) (minutes.User, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return minutes.User{}, false
	}
	userID, err := minutes.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "session has no user"))
		return minutes.User{}, false
	}
	user, err := handler.meter.EnsureUser(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondError(ctx, err)
		return minutes.User{}, false
	}
	return user, true
}

func (handler *Handler) respondError(ctx *gin.Context, err error) {
	status, code, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, message))
}

func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, minutes.ErrInsufficientMinutes):
		return http.StatusPaymentRequired, "insufficient_minutes", "no minutes remaining, purchase a package to continue"
	case errors.Is(err, minutes.ErrPaymentNotCompleted):
		return http.StatusConflict, "payment_not_completed", "payment was not completed"
	case errors.Is(err, minutes.ErrGateway):
		return http.StatusBadGateway, "payment_unverified", "we could not verify the payment, contact support"
	case errors.Is(err, minutes.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature", "webhook signature rejected"
	case errors.Is(err, minutes.ErrConversationClosed):
		return http.StatusConflict, "conversation_closed", "conversation has ended"
	case errors.Is(err, minutes.ErrConflict):
		return http.StatusConflict, "conflict", err.Error()
	case errors.Is(err, minutes.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, minutes.ErrValidation):
		return http.StatusBadRequest, "invalid_request", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "internal error"
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func historyLimit(ctx *gin.Context) int {
	limit, err := strconv.Atoi(ctx.Query("limit"))
	if err != nil || limit <= 0 {
		return defaultHistoryLimit
	}
	return min(limit, maxHistoryLimit)
}

// parsePackageID accepts the id as a JSON number or a numeric string.
func parsePackageID(raw json.Number) (minutes.PackageID, error) {
	value, err := raw.Int64()
	if err != nil {
		return 0, minutes.ErrInvalidPackageID
	}
	return minutes.NewPackageID(value)
}

func decimalNumber(value decimal.Decimal) json.Number {
	return json.Number(value.String())
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type initiateRequest struct {
	PackageID json.Number `json:"packageId"`
}

type confirmRequest struct {
	UserID    string      `json:"userId"`
	PackageID json.Number `json:"packageId"`
	OrderID   string      `json:"orderId"`
	PaymentID string      `json:"paymentId"`
	Status    string      `json:"status"`
}

type messageRequest struct {
	Content string `json:"content"`
}

type endRequest struct {
	Duration *float64 `json:"duration"`
}

type packagePayload struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Price       json.Number `json:"price"`
	Currency    string      `json:"currency"`
	Minutes     float64     `json:"minutes"`
	Popular     bool        `json:"popular"`
}

func newPackagePayload(item minutes.Package) packagePayload {
	return packagePayload{
		ID:          item.ID.Int64(),
		Name:        item.Name,
		Description: item.Description,
		Price:       decimalNumber(item.Price),
		Currency:    item.Currency,
		Minutes:     item.Minutes.Float64(),
		Popular:     item.Popular,
	}
}

type orderPayload struct {
	OrderID          string         `json:"orderId"`
	OrderAmount      json.Number    `json:"orderAmount"`
	OrderCurrency    string         `json:"orderCurrency"`
	GatewayOrderID   string         `json:"gatewayOrderId"`
	PaymentSessionID string         `json:"paymentSessionId"`
	PaymentLink      string         `json:"paymentLink,omitempty"`
	ReturnURL        string         `json:"returnUrl"`
	Simulated        bool           `json:"simulated"`
	PackageDetails   packagePayload `json:"packageDetails"`
}

type paymentPayload struct {
	ID                string      `json:"id"`
	OrderID           string      `json:"orderId"`
	UserID            string      `json:"userId"`
	PackageID         int64       `json:"packageId"`
	Amount            json.Number `json:"amount"`
	Currency          string      `json:"currency"`
	Minutes           float64     `json:"minutes"`
	ExternalPaymentID string      `json:"paymentId,omitempty"`
	Status            string      `json:"status"`
	Simulated         bool        `json:"simulated"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

func newPaymentPayload(payment minutes.Payment) paymentPayload {
	return paymentPayload{
		ID:                payment.PaymentID,
		OrderID:           payment.OrderID.String(),
		UserID:            payment.UserID.String(),
		PackageID:         payment.PackageID.Int64(),
		Amount:            decimalNumber(payment.Amount),
		Currency:          payment.Currency,
		Minutes:           payment.Minutes.Float64(),
		ExternalPaymentID: payment.ExternalPaymentID,
		Status:            payment.Status.String(),
		Simulated:         payment.Simulated,
		CreatedAt:         payment.CreatedAt,
		UpdatedAt:         payment.UpdatedAt,
	}
}

type conversationPayload struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
	Duration  *float64   `json:"duration"`
	Status    string     `json:"status"`
}

func newConversationPayload(conversation minutes.Conversation) conversationPayload {
	payload := conversationPayload{
		ID:        conversation.ConversationID.String(),
		UserID:    conversation.UserID.String(),
		StartTime: conversation.StartedAt,
		EndTime:   conversation.EndedAt,
		Status:    conversation.Status.String(),
	}
	if conversation.DurationMinutes != nil {
		value := conversation.DurationMinutes.Float64()
		payload.Duration = &value
	}
	return payload
}

type messagePayload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	IsUserMessage  bool      `json:"isUserMessage"`
	Timestamp      time.Time `json:"timestamp"`
}

func newMessagePayload(message minutes.Message) messagePayload {
	return messagePayload{
		ID:             message.MessageID,
		ConversationID: message.ConversationID.String(),
		Content:        message.Content,
		IsUserMessage:  message.FromUser,
		Timestamp:      message.CreatedAt,
	}
}
