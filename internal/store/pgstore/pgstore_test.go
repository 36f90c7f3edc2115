package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const postgresURLEnv = "MINUTES_TEST_POSTGRES_URL"

func TestIsUniqueConflictMatchesConstraint(test *testing.T) {
	test.Parallel()
	conflict := &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintPaymentOrderID}
	testCases := []struct {
		name       string
		err        error
		constraint string
		expected   bool
	}{
		{name: "matching", err: conflict, constraint: constraintPaymentOrderID, expected: true},
		{name: "wrapped", err: fmt.Errorf("insert: %w", conflict), constraint: constraintPaymentOrderID, expected: true},
		{name: "other constraint", err: conflict, constraint: constraintWebhookEventPK, expected: false},
		{name: "other code", err: &pgconn.PgError{Code: "23503", ConstraintName: constraintPaymentOrderID}, constraint: constraintPaymentOrderID, expected: false},
		{name: "plain error", err: errors.New("boom"), constraint: constraintPaymentOrderID, expected: false},
	}
	for _, testCase := range testCases {
		if actual := isUniqueConflict(testCase.err, testCase.constraint); actual != testCase.expected {
			test.Fatalf("%s: expected %t, got %t", testCase.name, testCase.expected, actual)
		}
	}
}

func TestLimitOrNull(test *testing.T) {
	test.Parallel()
	if limitOrNull(0) != nil || limitOrNull(-3) != nil {
		test.Fatalf("expected non-positive limits to be unbounded")
	}
	if limit := limitOrNull(25); limit == nil || *limit != 25 {
		test.Fatalf("expected limit 25, got %v", limit)
	}
}

func TestSchemaDeclaresConstraintsUsedForConflicts(test *testing.T) {
	test.Parallel()
	for _, fragment := range []string{constraintPaymentOrderID, "create table if not exists webhook_events", "create table if not exists messages"} {
		if !strings.Contains(Schema, fragment) {
			test.Fatalf("schema is missing %q", fragment)
		}
	}
}

func TestStoreAgainstPostgres(test *testing.T) {
	databaseURL := os.Getenv(postgresURLEnv)
	if databaseURL == "" {
		test.Skipf("%s not set", postgresURLEnv)
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		test.Fatalf("connect: %v", err)
	}
	test.Cleanup(pool.Close)
	store := New(pool)
	if err := store.Migrate(ctx); err != nil {
		test.Fatalf("migrate: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	userID := mustUserID(test, "pg-user-"+uuid.NewString())
	if _, err := store.GetOrCreateUser(ctx, userID, now); err != nil {
		test.Fatalf("create user: %v", err)
	}
	if _, err := store.GetOrCreateUser(ctx, userID, now.Add(time.Hour)); err != nil {
		test.Fatalf("repeat create user: %v", err)
	}
	balance, err := store.AdjustMinutes(ctx, userID, 5)
	if err != nil || balance != 5 {
		test.Fatalf("credit: balance=%v err=%v", balance, err)
	}
	balance, err = store.AdjustMinutes(ctx, userID, -9)
	if err != nil || balance != 0 {
		test.Fatalf("expected clamp to 0, got %v err=%v", balance, err)
	}

	rollbackErr := errors.New("rollback")
	err = store.WithTx(ctx, func(ctx context.Context, txStore minutes.Store) error {
		if _, adjustErr := txStore.AdjustMinutes(ctx, userID, 60); adjustErr != nil {
			return adjustErr
		}
		return rollbackErr
	})
	if !errors.Is(err, rollbackErr) {
		test.Fatalf("expected rollback error, got %v", err)
	}
	if user, err := store.GetUser(ctx, userID); err != nil || user.RemainingMinutes != 0 {
		test.Fatalf("expected rolled back balance, got %+v err=%v", user, err)
	}

	packageID := minutes.PackageID(time.Now().UnixNano()%1_000_000_000 + 1000)
	item := minutes.Package{ID: packageID, Name: "Integration", Description: "integration", Price: decimal.RequireFromString("12.50"), Currency: minutes.DefaultCurrency, Minutes: 5}
	if err := store.InsertPackage(ctx, item); err != nil {
		test.Fatalf("insert package: %v", err)
	}
	stored, err := store.GetPackage(ctx, packageID)
	if err != nil || !stored.Price.Equal(item.Price) {
		test.Fatalf("expected decimal price to round trip, got %+v err=%v", stored, err)
	}

	orderID := mustOrderID(test, "order_pg_"+strings.ReplaceAll(uuid.NewString(), "-", ""))
	payment := minutes.Payment{OrderID: orderID, UserID: userID, PackageID: packageID, Amount: item.Price, Currency: item.Currency, Minutes: item.Minutes, Status: minutes.PaymentStatusPending, CreatedAt: now, UpdatedAt: now}
	if err := store.CreatePayment(ctx, payment); err != nil {
		test.Fatalf("create payment: %v", err)
	}
	if err := store.CreatePayment(ctx, payment); !errors.Is(err, minutes.ErrDuplicateOrder) {
		test.Fatalf("expected duplicate order, got %v", err)
	}
	transition := minutes.PaymentTransition{OrderID: orderID, From: []minutes.PaymentStatus{minutes.PaymentStatusPending}, To: minutes.PaymentStatusSuccess, ExternalPaymentID: "pay-1", UpdatedAt: now}
	if err := store.TransitionPayment(ctx, transition); err != nil {
		test.Fatalf("transition: %v", err)
	}
	if err := store.TransitionPayment(ctx, transition); !errors.Is(err, minutes.ErrPaymentSettled) {
		test.Fatalf("expected settled payment, got %v", err)
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
