package minutes

import (
	"context"
	"time"
)

// PaymentTransition describes a conditional status change on one order.
// The store applies it only when the current status is one of From.
type PaymentTransition struct {
	OrderID           OrderID
	From              []PaymentStatus
	To                PaymentStatus
	ExternalPaymentID string
	UpdatedAt         time.Time
}

// Store is the persistence contract used by the services.
// Implementations must make WithTx atomic and AdjustMinutes a single
// read-modify-write that clamps the balance at zero.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetOrCreateUser(ctx context.Context, userID UserID, createdAt time.Time) (User, error)
	GetUser(ctx context.Context, userID UserID) (User, error)
	AdjustMinutes(ctx context.Context, userID UserID, delta Minutes) (Minutes, error)

	CountPackages(ctx context.Context) (int64, error)
	InsertPackage(ctx context.Context, item Package) error
	ListPackages(ctx context.Context) ([]Package, error)
	GetPackage(ctx context.Context, packageID PackageID) (Package, error)

	CreatePayment(ctx context.Context, payment Payment) error
	GetPaymentByOrderID(ctx context.Context, orderID OrderID) (Payment, error)
	TransitionPayment(ctx context.Context, transition PaymentTransition) error
	ListPayments(ctx context.Context, userID UserID, limit int) ([]Payment, error)
	ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]Payment, error)

	CreateConversation(ctx context.Context, conversation Conversation) error
	GetConversation(ctx context.Context, conversationID ConversationID) (Conversation, error)
	FinalizeConversation(ctx context.Context, conversationID ConversationID, endedAt time.Time, duration Minutes) error
	ListConversations(ctx context.Context, userID UserID, limit int) ([]Conversation, error)

	InsertMessage(ctx context.Context, message Message) error
	ListMessages(ctx context.Context, conversationID ConversationID) ([]Message, error)

	RecordWebhookEvent(ctx context.Context, event WebhookEvent) error
}
