// Package memstore is an in-process minutes.Store used by tests and local runs.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
)

const (
	errorOperationStore      = "store"
	errorSubjectUser         = "user"
	errorSubjectPackage      = "package"
	errorSubjectPayment      = "payment"
	errorSubjectConversation = "conversation"
	errorSubjectWebhook      = "webhook_event"
	errorCodeGet             = "get"
	errorCodeAdjust          = "adjust"
	errorCodeDuplicate       = "duplicate"
	errorCodeUpdateStatus    = "update_status"
	errorCodeFinalize        = "finalize"
	errorCodeInsertMessage   = "insert_message"
	errorCodeInvalid         = "invalid"
)

// Store keeps every record in maps guarded by one mutex. Transactions run
// against a copy of the data and replace it on success.
type Store struct {
	mu   sync.Mutex
	data *dataset
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: newDataset()}
}

// WithTx serializes fn with every other operation and commits its writes only
// when fn returns nil.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore minutes.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	working := store.data.clone()
	if err := fn(ctx, &txStore{data: working}); err != nil {
		return err
	}
	store.data = working
	return nil
}

func (store *Store) direct() *txStore {
	return &txStore{data: store.data}
}

func (store *Store) GetOrCreateUser(ctx context.Context, userID minutes.UserID, createdAt time.Time) (minutes.User, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().GetOrCreateUser(ctx, userID, createdAt)
}

func (store *Store) GetUser(ctx context.Context, userID minutes.UserID) (minutes.User, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().GetUser(ctx, userID)
}

func (store *Store) AdjustMinutes(ctx context.Context, userID minutes.UserID, delta minutes.Minutes) (minutes.Minutes, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().AdjustMinutes(ctx, userID, delta)
}

func (store *Store) CountPackages(ctx context.Context) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().CountPackages(ctx)
}

func (store *Store) InsertPackage(ctx context.Context, item minutes.Package) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().InsertPackage(ctx, item)
}

func (store *Store) ListPackages(ctx context.Context) ([]minutes.Package, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().ListPackages(ctx)
}

func (store *Store) GetPackage(ctx context.Context, packageID minutes.PackageID) (minutes.Package, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().GetPackage(ctx, packageID)
}

func (store *Store) CreatePayment(ctx context.Context, payment minutes.Payment) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().CreatePayment(ctx, payment)
}

func (store *Store) GetPaymentByOrderID(ctx context.Context, orderID minutes.OrderID) (minutes.Payment, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().GetPaymentByOrderID(ctx, orderID)
}

func (store *Store) TransitionPayment(ctx context.Context, transition minutes.PaymentTransition) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().TransitionPayment(ctx, transition)
}

func (store *Store) ListPayments(ctx context.Context, userID minutes.UserID, limit int) ([]minutes.Payment, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().ListPayments(ctx, userID, limit)
}

func (store *Store) ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]minutes.Payment, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().ListPendingPayments(ctx, createdBefore, limit)
}

func (store *Store) CreateConversation(ctx context.Context, conversation minutes.Conversation) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().CreateConversation(ctx, conversation)
}

func (store *Store) GetConversation(ctx context.Context, conversationID minutes.ConversationID) (minutes.Conversation, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().GetConversation(ctx, conversationID)
}

func (store *Store) FinalizeConversation(ctx context.Context, conversationID minutes.ConversationID, endedAt time.Time, duration minutes.Minutes) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().FinalizeConversation(ctx, conversationID, endedAt, duration)
}

func (store *Store) ListConversations(ctx context.Context, userID minutes.UserID, limit int) ([]minutes.Conversation, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().ListConversations(ctx, userID, limit)
}

func (store *Store) InsertMessage(ctx context.Context, message minutes.Message) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().InsertMessage(ctx, message)
}

func (store *Store) ListMessages(ctx context.Context, conversationID minutes.ConversationID) ([]minutes.Message, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().ListMessages(ctx, conversationID)
}

func (store *Store) RecordWebhookEvent(ctx context.Context, event minutes.WebhookEvent) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.direct().RecordWebhookEvent(ctx, event)
}

type dataset struct {
	users         map[string]minutes.User
	packages      map[minutes.PackageID]minutes.Package
	payments      map[string]minutes.Payment
	conversations map[string]minutes.Conversation
	messages      map[string][]minutes.Message
	webhookEvents map[string]minutes.WebhookEvent
}

func newDataset() *dataset {
	return &dataset{
		users:         map[string]minutes.User{},
		packages:      map[minutes.PackageID]minutes.Package{},
		payments:      map[string]minutes.Payment{},
		conversations: map[string]minutes.Conversation{},
		messages:      map[string][]minutes.Message{},
		webhookEvents: map[string]minutes.WebhookEvent{},
	}
}

// clone copies the maps. Records are values and are replaced, never mutated
// in place, so sharing their pointer fields is safe.
func (data *dataset) clone() *dataset {
	copied := newDataset()
	for key, value := range data.users {
		copied.users[key] = value
	}
	for key, value := range data.packages {
		copied.packages[key] = value
	}
	for key, value := range data.payments {
		copied.payments[key] = value
	}
	for key, value := range data.conversations {
		copied.conversations[key] = value
	}
	for key, value := range data.messages {
		copied.messages[key] = slices.Clone(value)
	}
	for key, value := range data.webhookEvents {
		copied.webhookEvents[key] = value
	}
	return copied
}

// txStore operates on a dataset without locking; the owner holds the lock.
type txStore struct {
	data *dataset
}

func (store *txStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore minutes.Store) error) error {
	return fn(ctx, store)
}

func (store *txStore) GetOrCreateUser(_ context.Context, userID minutes.UserID, createdAt time.Time) (minutes.User, error) {
	if user, ok := store.data.users[userID.String()]; ok {
		return user, nil
	}
	user := minutes.User{UserID: userID, CreatedAt: createdAt}
	store.data.users[userID.String()] = user
	return user, nil
}

func (store *txStore) GetUser(_ context.Context, userID minutes.UserID) (minutes.User, error) {
	user, ok := store.data.users[userID.String()]
	if !ok {
		return minutes.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, minutes.ErrUnknownUser)
	}
	return user, nil
}

func (store *txStore) AdjustMinutes(_ context.Context, userID minutes.UserID, delta minutes.Minutes) (minutes.Minutes, error) {
	user, ok := store.data.users[userID.String()]
	if !ok {
		return 0, wrapStoreError(errorSubjectUser, errorCodeAdjust, minutes.ErrUnknownUser)
	}
	user.RemainingMinutes = minutes.ClampBalance(user.RemainingMinutes, delta)
	store.data.users[userID.String()] = user
	return user.RemainingMinutes, nil
}

func (store *txStore) CountPackages(_ context.Context) (int64, error) {
	return int64(len(store.data.packages)), nil
}

func (store *txStore) InsertPackage(_ context.Context, item minutes.Package) error {
	if item.ID <= 0 {
		return wrapStoreError(errorSubjectPackage, errorCodeInvalid, minutes.ErrInvalidPackageID)
	}
	if _, exists := store.data.packages[item.ID]; exists {
		return wrapStoreError(errorSubjectPackage, errorCodeDuplicate, minutes.ErrConflict)
	}
	store.data.packages[item.ID] = item
	return nil
}

func (store *txStore) ListPackages(_ context.Context) ([]minutes.Package, error) {
	packages := make([]minutes.Package, 0, len(store.data.packages))
	for _, item := range store.data.packages {
		packages = append(packages, item)
	}
	sort.Slice(packages, func(left, right int) bool {
		return packages[left].ID < packages[right].ID
	})
	return packages, nil
}

func (store *txStore) GetPackage(_ context.Context, packageID minutes.PackageID) (minutes.Package, error) {
	item, ok := store.data.packages[packageID]
	if !ok {
		return minutes.Package{}, wrapStoreError(errorSubjectPackage, errorCodeGet, minutes.ErrUnknownPackage)
	}
	return item, nil
}

func (store *txStore) CreatePayment(_ context.Context, payment minutes.Payment) error {
	if _, exists := store.data.payments[payment.OrderID.String()]; exists {
		return wrapStoreError(errorSubjectPayment, errorCodeDuplicate, minutes.ErrDuplicateOrder)
	}
	store.data.payments[payment.OrderID.String()] = payment
	return nil
}

func (store *txStore) GetPaymentByOrderID(_ context.Context, orderID minutes.OrderID) (minutes.Payment, error) {
	payment, ok := store.data.payments[orderID.String()]
	if !ok {
		return minutes.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, minutes.ErrUnknownOrder)
	}
	return payment, nil
}

func (store *txStore) TransitionPayment(_ context.Context, transition minutes.PaymentTransition) error {
	payment, ok := store.data.payments[transition.OrderID.String()]
	if !ok {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdateStatus, minutes.ErrUnknownOrder)
	}
	if !slices.Contains(transition.From, payment.Status) {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdateStatus, minutes.ErrPaymentSettled)
	}
	payment.Status = transition.To
	if transition.ExternalPaymentID != "" {
		payment.ExternalPaymentID = transition.ExternalPaymentID
	}
	payment.UpdatedAt = transition.UpdatedAt
	store.data.payments[transition.OrderID.String()] = payment
	return nil
}

func (store *txStore) ListPayments(_ context.Context, userID minutes.UserID, limit int) ([]minutes.Payment, error) {
	payments := make([]minutes.Payment, 0)
	for _, payment := range store.data.payments {
		if payment.UserID == userID {
			payments = append(payments, payment)
		}
	}
	sort.Slice(payments, func(left, right int) bool {
		return payments[left].CreatedAt.After(payments[right].CreatedAt)
	})
	return truncate(payments, limit), nil
}

func (store *txStore) ListPendingPayments(_ context.Context, createdBefore time.Time, limit int) ([]minutes.Payment, error) {
	payments := make([]minutes.Payment, 0)
	for _, payment := range store.data.payments {
		if payment.Status == minutes.PaymentStatusPending && payment.CreatedAt.Before(createdBefore) {
			payments = append(payments, payment)
		}
	}
	sort.Slice(payments, func(left, right int) bool {
		return payments[left].CreatedAt.Before(payments[right].CreatedAt)
	})
	return truncate(payments, limit), nil
}

func (store *txStore) CreateConversation(_ context.Context, conversation minutes.Conversation) error {
	if _, exists := store.data.conversations[conversation.ConversationID.String()]; exists {
		return wrapStoreError(errorSubjectConversation, errorCodeDuplicate, minutes.ErrConflict)
	}
	store.data.conversations[conversation.ConversationID.String()] = conversation
	return nil
}

func (store *txStore) GetConversation(_ context.Context, conversationID minutes.ConversationID) (minutes.Conversation, error) {
	conversation, ok := store.data.conversations[conversationID.String()]
	if !ok {
		return minutes.Conversation{}, wrapStoreError(errorSubjectConversation, errorCodeGet, minutes.ErrUnknownConversation)
	}
	return conversation, nil
}

func (store *txStore) FinalizeConversation(_ context.Context, conversationID minutes.ConversationID, endedAt time.Time, duration minutes.Minutes) error {
	conversation, ok := store.data.conversations[conversationID.String()]
	if !ok {
		return wrapStoreError(errorSubjectConversation, errorCodeFinalize, minutes.ErrUnknownConversation)
	}
	if conversation.Status != minutes.ConversationStatusActive {
		return wrapStoreError(errorSubjectConversation, errorCodeFinalize, minutes.ErrConversationClosed)
	}
	conversation.EndedAt = &endedAt
	conversation.DurationMinutes = &duration
	conversation.Status = minutes.ConversationStatusCompleted
	store.data.conversations[conversationID.String()] = conversation
	return nil
}

func (store *txStore) ListConversations(_ context.Context, userID minutes.UserID, limit int) ([]minutes.Conversation, error) {
	conversations := make([]minutes.Conversation, 0)
	for _, conversation := range store.data.conversations {
		if conversation.UserID == userID {
			conversations = append(conversations, conversation)
		}
	}
	sort.Slice(conversations, func(left, right int) bool {
		return conversations[left].StartedAt.After(conversations[right].StartedAt)
	})
	return truncate(conversations, limit), nil
}

func (store *txStore) InsertMessage(_ context.Context, message minutes.Message) error {
	if _, ok := store.data.conversations[message.ConversationID.String()]; !ok {
		return wrapStoreError(errorSubjectConversation, errorCodeInsertMessage, minutes.ErrUnknownConversation)
	}
	key := message.ConversationID.String()
	store.data.messages[key] = append(store.data.messages[key], message)
	return nil
}

func (store *txStore) ListMessages(_ context.Context, conversationID minutes.ConversationID) ([]minutes.Message, error) {
	return slices.Clone(store.data.messages[conversationID.String()]), nil
}

func (store *txStore) RecordWebhookEvent(_ context.Context, event minutes.WebhookEvent) error {
	if _, exists := store.data.webhookEvents[event.EventID]; exists {
		return wrapStoreError(errorSubjectWebhook, errorCodeDuplicate, minutes.ErrDuplicateWebhookEvent)
	}
	store.data.webhookEvents[event.EventID] = event
	return nil
}

// WebhookEventCount reports how many distinct deliveries were recorded.
func (store *Store) WebhookEventCount() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.data.webhookEvents)
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func wrapStoreError(subject string, code string, err error) error {
	return minutes.WrapError(errorOperationStore, subject, code, err)
}
