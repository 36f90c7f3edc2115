package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintPaymentOrderID   = "payments_order_id_key"
	constraintWebhookEventPK   = "webhook_events_pkey"
	constraintPackagePK        = "packages_pkey"
	constraintConversationPK   = "conversations_pkey"
	defaultPayloadJSON         = "{}"
	pgUniqueViolationCode      = "23505"
	sqliteConstraintCode       = 19
	errorOperationStore        = "store"
	errorSubjectUser           = "user"
	errorSubjectPackage        = "package"
	errorSubjectPayment        = "payment"
	errorSubjectConversation   = "conversation"
	errorSubjectMessage        = "message"
	errorSubjectWebhookEvent   = "webhook_event"
	errorCodeAdjust            = "adjust"
	errorCodeCount             = "count"
	errorCodeCreate            = "create"
	errorCodeDuplicate         = "duplicate"
	errorCodeFinalize          = "finalize"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLookup            = "lookup"
	errorCodeUpdateStatus      = "update_status"
	remainingMinutesExpression = "CASE WHEN remaining_minutes + ? < 0 THEN 0 ELSE remaining_minutes + ? END"
)

// Store implements minutes.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates every table the store uses.
func (store *Store) AutoMigrate(ctx context.Context) error {
	return store.db.WithContext(ctx).AutoMigrate(Models()...)
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore minutes.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetOrCreateUser(ctx context.Context, userID minutes.UserID, createdAt time.Time) (minutes.User, error) {
	model := User{UserID: userID.String(), CreatedAt: createdAt.UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return minutes.User{}, wrapStoreError(errorSubjectUser, errorCodeLookup, err)
	}
	return store.GetUser(ctx, userID)
}

func (store *Store) GetUser(ctx context.Context, userID minutes.UserID) (minutes.User, error) {
	var model User
	err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return minutes.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, minutes.ErrUnknownUser)
		}
		return minutes.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	return mapUser(model)
}

// AdjustMinutes applies the delta in one UPDATE so concurrent adjustments
// cannot lose writes or drive the balance below zero.
func (store *Store) AdjustMinutes(ctx context.Context, userID minutes.UserID, delta minutes.Minutes) (minutes.Minutes, error) {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("user_id = ?", userID.String()).
		Update("remaining_minutes", gorm.Expr(remainingMinutesExpression, delta.Float64(), delta.Float64()))
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectUser, errorCodeAdjust, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, wrapStoreError(errorSubjectUser, errorCodeAdjust, minutes.ErrUnknownUser)
	}
	user, err := store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.RemainingMinutes, nil
}

func (store *Store) CountPackages(ctx context.Context) (int64, error) {
	var count int64
	if err := store.db.WithContext(ctx).Model(&Package{}).Count(&count).Error; err != nil {
		return 0, wrapStoreError(errorSubjectPackage, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) InsertPackage(ctx context.Context, item minutes.Package) error {
	model := Package{
		PackageID:   item.ID.Int64(),
		Name:        item.Name,
		Description: item.Description,
		Price:       item.Price,
		Currency:    item.Currency,
		Minutes:     item.Minutes.Float64(),
		Popular:     item.Popular,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueConflict(err, constraintPackagePK) {
		return wrapStoreError(errorSubjectPackage, errorCodeDuplicate, minutes.ErrConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPackage, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListPackages(ctx context.Context) ([]minutes.Package, error) {
	var rows []Package
	if err := store.db.WithContext(ctx).Order("package_id ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectPackage, errorCodeList, err)
	}
	packages := make([]minutes.Package, 0, len(rows))
	for _, row := range rows {
		item, err := mapPackage(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPackage, errorCodeInvalid, err)
		}
		packages = append(packages, item)
	}
	return packages, nil
}

func (store *Store) GetPackage(ctx context.Context, packageID minutes.PackageID) (minutes.Package, error) {
	var model Package
	err := store.db.WithContext(ctx).Where("package_id = ?", packageID.Int64()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return minutes.Package{}, wrapStoreError(errorSubjectPackage, errorCodeGet, minutes.ErrUnknownPackage)
		}
		return minutes.Package{}, wrapStoreError(errorSubjectPackage, errorCodeGet, err)
	}
	item, err := mapPackage(model)
	if err != nil {
		return minutes.Package{}, wrapStoreError(errorSubjectPackage, errorCodeInvalid, err)
	}
	return item, nil
}

func (store *Store) CreatePayment(ctx context.Context, payment minutes.Payment) error {
	model := Payment{
		PaymentID:         payment.PaymentID,
		OrderID:           payment.OrderID.String(),
		UserID:            payment.UserID.String(),
		PackageID:         payment.PackageID.Int64(),
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		Minutes:           payment.Minutes.Float64(),
		ExternalPaymentID: optionalString(payment.ExternalPaymentID),
		Status:            payment.Status.String(),
		Simulated:         payment.Simulated,
		CreatedAt:         payment.CreatedAt.UTC(),
		UpdatedAt:         payment.UpdatedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueConflict(err, constraintPaymentOrderID) {
		return wrapStoreError(errorSubjectPayment, errorCodeDuplicate, minutes.ErrDuplicateOrder)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPaymentByOrderID(ctx context.Context, orderID minutes.OrderID) (minutes.Payment, error) {
	var model Payment
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return minutes.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, minutes.ErrUnknownOrder)
		}
		return minutes.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, err)
	}
	payment, err := mapPayment(model)
	if err != nil {
		return minutes.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	return payment, nil
}

// TransitionPayment is a conditional UPDATE on the current status; zero
// affected rows means another writer already moved the order.
func (store *Store) TransitionPayment(ctx context.Context, transition minutes.PaymentTransition) error {
	fromStatuses := make([]string, 0, len(transition.From))
	for _, status := range transition.From {
		fromStatuses = append(fromStatuses, status.String())
	}
	updates := map[string]any{
		"status":     transition.To.String(),
		"updated_at": transition.UpdatedAt.UTC(),
	}
	if transition.ExternalPaymentID != "" {
		updates["external_payment_id"] = transition.ExternalPaymentID
	}
	result := store.db.WithContext(ctx).
		Model(&Payment{}).
		Where("order_id = ? AND status IN ?", transition.OrderID.String(), fromStatuses).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := store.db.WithContext(ctx).Model(&Payment{}).Where("order_id = ?", transition.OrderID.String()).Count(&count).Error; err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdateStatus, err)
	}
	if count == 0 {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdateStatus, minutes.ErrUnknownOrder)
	}
	return wrapStoreError(errorSubjectPayment, errorCodeUpdateStatus, minutes.ErrPaymentSettled)
}

func (store *Store) ListPayments(ctx context.Context, userID minutes.UserID, limit int) ([]minutes.Payment, error) {
	var rows []Payment
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Limit(limitOrAll(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	return mapPayments(rows)
}

func (store *Store) ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]minutes.Payment, error) {
	var rows []Payment
	err := store.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", minutes.PaymentStatusPending.String(), createdBefore.UTC()).
		Order("created_at ASC").
		Limit(limitOrAll(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	return mapPayments(rows)
}

func (store *Store) CreateConversation(ctx context.Context, conversation minutes.Conversation) error {
	model := Conversation{
		ConversationID: conversation.ConversationID.String(),
		UserID:         conversation.UserID.String(),
		StartedAt:      conversation.StartedAt.UTC(),
		Status:         conversation.Status.String(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueConflict(err, constraintConversationPK) {
		return wrapStoreError(errorSubjectConversation, errorCodeDuplicate, minutes.ErrConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectConversation, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetConversation(ctx context.Context, conversationID minutes.ConversationID) (minutes.Conversation, error) {
	var model Conversation
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("conversation_id = ?", conversationID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return minutes.Conversation{}, wrapStoreError(errorSubjectConversation, errorCodeGet, minutes.ErrUnknownConversation)
		}
		return minutes.Conversation{}, wrapStoreError(errorSubjectConversation, errorCodeGet, err)
	}
	conversation, err := mapConversation(model)
	if err != nil {
		return minutes.Conversation{}, wrapStoreError(errorSubjectConversation, errorCodeInvalid, err)
	}
	return conversation, nil
}

func (store *Store) FinalizeConversation(ctx context.Context, conversationID minutes.ConversationID, endedAt time.Time, duration minutes.Minutes) error {
	result := store.db.WithContext(ctx).
		Model(&Conversation{}).
		Where("conversation_id = ? AND status = ?", conversationID.String(), minutes.ConversationStatusActive.String()).
		Updates(map[string]any{
			"ended_at":         endedAt.UTC(),
			"duration_minutes": duration.Float64(),
			"status":           minutes.ConversationStatusCompleted.String(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectConversation, errorCodeFinalize, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	if _, err := store.GetConversation(ctx, conversationID); err != nil {
		return err
	}
	return wrapStoreError(errorSubjectConversation, errorCodeFinalize, minutes.ErrConversationClosed)
}

func (store *Store) ListConversations(ctx context.Context, userID minutes.UserID, limit int) ([]minutes.Conversation, error) {
	var rows []Conversation
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("started_at DESC").
		Limit(limitOrAll(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectConversation, errorCodeList, err)
	}
	conversations := make([]minutes.Conversation, 0, len(rows))
	for _, row := range rows {
		conversation, err := mapConversation(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectConversation, errorCodeInvalid, err)
		}
		conversations = append(conversations, conversation)
	}
	return conversations, nil
}

func (store *Store) InsertMessage(ctx context.Context, message minutes.Message) error {
	var sequence int64
	err := store.db.WithContext(ctx).
		Model(&Message{}).
		Where("conversation_id = ?", message.ConversationID.String()).
		Count(&sequence).Error
	if err != nil {
		return wrapStoreError(errorSubjectMessage, errorCodeInsert, err)
	}
	model := Message{
		MessageID:      message.MessageID,
		ConversationID: message.ConversationID.String(),
		Content:        message.Content,
		FromUser:       message.FromUser,
		CreatedAt:      message.CreatedAt.UTC(),
		Sequence:       sequence + 1,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectMessage, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListMessages(ctx context.Context, conversationID minutes.ConversationID) ([]minutes.Message, error) {
	var rows []Message
	err := store.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID.String()).
		Order("created_at ASC").
		Order("sequence ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectMessage, errorCodeList, err)
	}
	messages := make([]minutes.Message, 0, len(rows))
	for _, row := range rows {
		parsedConversationID, err := minutes.NewConversationID(row.ConversationID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectMessage, errorCodeInvalid, err)
		}
		messages = append(messages, minutes.Message{
			MessageID:      row.MessageID,
			ConversationID: parsedConversationID,
			Content:        row.Content,
			FromUser:       row.FromUser,
			CreatedAt:      row.CreatedAt.UTC(),
		})
	}
	return messages, nil
}

func (store *Store) RecordWebhookEvent(ctx context.Context, event minutes.WebhookEvent) error {
	model := WebhookEvent{
		EventID:    event.EventID,
		OrderID:    event.OrderID.String(),
		Type:       event.Type,
		Payload:    datatypesJSON(event.Payload),
		ReceivedAt: event.ReceivedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueConflict(err, constraintWebhookEventPK) {
		return wrapStoreError(errorSubjectWebhookEvent, errorCodeDuplicate, minutes.ErrDuplicateWebhookEvent)
	}
	if err != nil {
		return wrapStoreError(errorSubjectWebhookEvent, errorCodeInsert, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return minutes.WrapError(errorOperationStore, subject, code, err)
}

func mapUser(model User) (minutes.User, error) {
	userID, err := minutes.NewUserID(model.UserID)
	if err != nil {
		return minutes.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	return minutes.User{
		UserID:           userID,
		RemainingMinutes: minutes.Minutes(model.RemainingMinutes),
		CreatedAt:        model.CreatedAt.UTC(),
	}, nil
}

func mapPackage(model Package) (minutes.Package, error) {
	packageID, err := minutes.NewPackageID(model.PackageID)
	if err != nil {
		return minutes.Package{}, err
	}
	return minutes.Package{
		ID:          packageID,
		Name:        model.Name,
		Description: model.Description,
		Price:       model.Price,
		Currency:    model.Currency,
		Minutes:     minutes.Minutes(model.Minutes),
		Popular:     model.Popular,
	}, nil
}

func mapPayments(rows []Payment) ([]minutes.Payment, error) {
	payments := make([]minutes.Payment, 0, len(rows))
	for _, row := range rows {
		payment, err := mapPayment(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
		}
		payments = append(payments, payment)
	}
	return payments, nil
}

func mapPayment(model Payment) (minutes.Payment, error) {
	orderID, err := minutes.NewOrderID(model.OrderID)
	if err != nil {
		return minutes.Payment{}, err
	}
	userID, err := minutes.NewUserID(model.UserID)
	if err != nil {
		return minutes.Payment{}, err
	}
	packageID, err := minutes.NewPackageID(model.PackageID)
	if err != nil {
		return minutes.Payment{}, err
	}
	status, err := minutes.ParsePaymentStatus(model.Status)
	if err != nil {
		return minutes.Payment{}, err
	}
	externalPaymentID := ""
	if model.ExternalPaymentID != nil {
		externalPaymentID = *model.ExternalPaymentID
	}
	return minutes.Payment{
		PaymentID:         model.PaymentID,
		OrderID:           orderID,
		UserID:            userID,
		PackageID:         packageID,
		Amount:            model.Amount,
		Currency:          model.Currency,
		Minutes:           minutes.Minutes(model.Minutes),
		ExternalPaymentID: externalPaymentID,
		Status:            status,
		Simulated:         model.Simulated,
		CreatedAt:         model.CreatedAt.UTC(),
		UpdatedAt:         model.UpdatedAt.UTC(),
	}, nil
}

func mapConversation(model Conversation) (minutes.Conversation, error) {
	conversationID, err := minutes.NewConversationID(model.ConversationID)
	if err != nil {
		return minutes.Conversation{}, err
	}
	userID, err := minutes.NewUserID(model.UserID)
	if err != nil {
		return minutes.Conversation{}, err
	}
	status, err := minutes.ParseConversationStatus(model.Status)
	if err != nil {
		return minutes.Conversation{}, err
	}
	conversation := minutes.Conversation{
		ConversationID: conversationID,
		UserID:         userID,
		StartedAt:      model.StartedAt.UTC(),
		Status:         status,
	}
	if model.EndedAt != nil {
		endedAt := model.EndedAt.UTC()
		conversation.EndedAt = &endedAt
	}
	if model.DurationMinutes != nil {
		duration := minutes.Minutes(*model.DurationMinutes)
		conversation.DurationMinutes = &duration
	}
	return conversation, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func datatypesJSON(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON([]byte(defaultPayloadJSON))
	}
	return datatypes.JSON(raw)
}

func isUniqueConflict(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
