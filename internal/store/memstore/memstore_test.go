package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
	"github.com/shopspring/decimal"
)

func TestWithTxRollsBackOnError(test *testing.T) {
	test.Parallel()
	store := New()
	ctx := context.Background()
	userID := mustUserID(test, "rollback-user")
	if _, err := store.GetOrCreateUser(ctx, userID, time.Unix(0, 0)); err != nil {
		test.Fatalf("create user: %v", err)
	}

	failure := errors.New("abort")
	err := store.WithTx(ctx, func(ctx context.Context, txStore minutes.Store) error {
		if _, err := txStore.AdjustMinutes(ctx, userID, 30); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		test.Fatalf("expected abort error, got %v", err)
	}
	user, err := store.GetUser(ctx, userID)
	if err != nil {
		test.Fatalf("get user: %v", err)
	}
	if user.RemainingMinutes != 0 {
		test.Fatalf("expected rolled back balance 0, got %v", user.RemainingMinutes)
	}
}

func TestAdjustMinutesClampsAtZero(test *testing.T) {
	test.Parallel()
	store := New()
	ctx := context.Background()
	userID := mustUserID(test, "clamp-user")
	if _, err := store.GetOrCreateUser(ctx, userID, time.Unix(0, 0)); err != nil {
		test.Fatalf("create user: %v", err)
	}
	if _, err := store.AdjustMinutes(ctx, userID, 0.5); err != nil {
		test.Fatalf("credit: %v", err)
	}
	balance, err := store.AdjustMinutes(ctx, userID, -2)
	if err != nil {
		test.Fatalf("debit: %v", err)
	}
	if balance != 0 {
		test.Fatalf("expected clamped balance 0, got %v", balance)
	}
}

func TestTransitionPaymentRequiresFromStatus(test *testing.T) {
	test.Parallel()
	store := New()
	ctx := context.Background()
	orderID := mustOrderID(test, "order-1")
	payment := minutes.Payment{
		PaymentID: "payment-1",
		OrderID:   orderID,
		UserID:    mustUserID(test, "payer"),
		PackageID: 1,
		Amount:    decimal.NewFromInt(199),
		Currency:  minutes.DefaultCurrency,
		Minutes:   20,
		Status:    minutes.PaymentStatusSuccess,
	}
	if err := store.CreatePayment(ctx, payment); err != nil {
		test.Fatalf("create payment: %v", err)
	}
	if err := store.CreatePayment(ctx, payment); !errors.Is(err, minutes.ErrDuplicateOrder) {
		test.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}

	err := store.TransitionPayment(ctx, minutes.PaymentTransition{
		OrderID: orderID,
		From:    []minutes.PaymentStatus{minutes.PaymentStatusPending},
		To:      minutes.PaymentStatusFailed,
	})
	if !errors.Is(err, minutes.ErrPaymentSettled) {
		test.Fatalf("expected ErrPaymentSettled, got %v", err)
	}
	stored, err := store.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		test.Fatalf("get payment: %v", err)
	}
	if stored.Status != minutes.PaymentStatusSuccess {
		test.Fatalf("expected SUCCESS to be terminal, got %s", stored.Status)
	}
}

func TestFinalizeConversationOnlyOnce(test *testing.T) {
	test.Parallel()
	store := New()
	ctx := context.Background()
	conversationID := mustConversationID(test, "conv-1")
	startedAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if err := store.CreateConversation(ctx, minutes.Conversation{
		ConversationID: conversationID,
		UserID:         mustUserID(test, "talker"),
		StartedAt:      startedAt,
		Status:         minutes.ConversationStatusActive,
	}); err != nil {
		test.Fatalf("create conversation: %v", err)
	}
	if err := store.FinalizeConversation(ctx, conversationID, startedAt.Add(5*time.Minute), 5); err != nil {
		test.Fatalf("finalize: %v", err)
	}
	err := store.FinalizeConversation(ctx, conversationID, startedAt.Add(9*time.Minute), 9)
	if !errors.Is(err, minutes.ErrConversationClosed) {
		test.Fatalf("expected ErrConversationClosed, got %v", err)
	}
	conversation, err := store.GetConversation(ctx, conversationID)
	if err != nil {
		test.Fatalf("get conversation: %v", err)
	}
	if conversation.DurationMinutes == nil || *conversation.DurationMinutes != 5 {
		test.Fatalf("expected duration 5, got %v", conversation.DurationMinutes)
	}
}

func TestListPendingPaymentsFiltersByAgeAndStatus(test *testing.T) {
	test.Parallel()
	store := New()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	userID := mustUserID(test, "pending-user")
	seed := []struct {
		orderID   string
		status    minutes.PaymentStatus
		createdAt time.Time
	}{
		{orderID: "old-pending", status: minutes.PaymentStatusPending, createdAt: base},
		{orderID: "old-success", status: minutes.PaymentStatusSuccess, createdAt: base},
		{orderID: "new-pending", status: minutes.PaymentStatusPending, createdAt: base.Add(time.Hour)},
	}
	for _, item := range seed {
		if err := store.CreatePayment(ctx, minutes.Payment{
			OrderID:   mustOrderID(test, item.orderID),
			UserID:    userID,
			Status:    item.status,
			CreatedAt: item.createdAt,
		}); err != nil {
			test.Fatalf("create payment %s: %v", item.orderID, err)
		}
	}
	pending, err := store.ListPendingPayments(ctx, base.Add(30*time.Minute), 10)
	if err != nil {
		test.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].OrderID.String() != "old-pending" {
		test.Fatalf("unexpected pending payments: %+v", pending)
	}
}

func mustUserID(test *testing.T, raw string) minutes.UserID {
	test.Helper()
	userID, err := minutes.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustOrderID(test *testing.T, raw string) minutes.OrderID {
	test.Helper()
	orderID, err := minutes.NewOrderID(raw)
	if err != nil {
		test.Fatalf("order id: %v", err)
	}
	return orderID
}

func mustConversationID(test *testing.T, raw string) minutes.ConversationID {
	test.Helper()
	conversationID, err := minutes.NewConversationID(raw)
	if err != nil {
		test.Fatalf("conversation id: %v", err)
	}
	return conversationID
}
