package minutes

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestClampBalanceNeverNegative(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		balance  Minutes
		delta    Minutes
		expected Minutes
	}{
		{name: "credit", balance: 10, delta: 5, expected: 15},
		{name: "partial debit", balance: 10, delta: -4, expected: 6},
		{name: "exact debit", balance: 10, delta: -10, expected: 0},
		{name: "overdraw", balance: 0.1, delta: -0.2, expected: 0},
		{name: "zero balance debit", balance: 0, delta: -1, expected: 0},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			got := ClampBalance(testCase.balance, testCase.delta)
			if got != testCase.expected {
				test.Fatalf("expected %v, got %v", testCase.expected, got)
			}
		})
	}
}

func TestNewPositiveMinutesRejectsNonPositive(test *testing.T) {
	test.Parallel()
	for _, raw := range []float64{0, -0.2, math.NaN(), math.Inf(1)} {
		if _, err := NewPositiveMinutes(raw); !errors.Is(err, ErrInvalidMinutes) {
			test.Fatalf("expected ErrInvalidMinutes for %v, got %v", raw, err)
		}
	}
	value, err := NewPositiveMinutes(0.2)
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if value != 0.2 {
		test.Fatalf("expected 0.2, got %v", value)
	}
}

func TestIdentifierValidation(test *testing.T) {
	test.Parallel()
	if _, err := NewUserID("   "); !errors.Is(err, ErrInvalidUserID) {
		test.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
	userID, err := NewUserID("  user-1 ")
	if err != nil || userID.String() != "user-1" {
		test.Fatalf("expected trimmed user id, got %q (%v)", userID.String(), err)
	}
	if _, err := NewPackageID(0); !errors.Is(err, ErrInvalidPackageID) {
		test.Fatalf("expected ErrInvalidPackageID, got %v", err)
	}
	if _, err := NewOrderID(strings.Repeat("x", maxOrderIDLength+1)); !errors.Is(err, ErrInvalidOrderID) {
		test.Fatalf("expected ErrInvalidOrderID for long id, got %v", err)
	}
	if _, err := NewConversationID(""); !errors.Is(err, ErrInvalidConversationID) {
		test.Fatalf("expected ErrInvalidConversationID, got %v", err)
	}
	if !errors.Is(ErrInvalidOrderID, ErrValidation) {
		test.Fatalf("expected order id errors to classify as validation")
	}
}

func TestParseStatuses(test *testing.T) {
	test.Parallel()
	status, err := ParsePaymentStatus(" success ")
	if err != nil || status != PaymentStatusSuccess {
		test.Fatalf("expected SUCCESS, got %q (%v)", status, err)
	}
	if _, err := ParsePaymentStatus("REFUNDED"); !errors.Is(err, ErrInvalidPaymentStatus) {
		test.Fatalf("expected ErrInvalidPaymentStatus, got %v", err)
	}
	conversationStatus, err := ParseConversationStatus("completed")
	if err != nil || conversationStatus != ConversationStatusCompleted {
		test.Fatalf("expected completed, got %q (%v)", conversationStatus, err)
	}
	if _, err := ParseConversationStatus("paused"); !errors.Is(err, ErrInvalidConversationStatus) {
		test.Fatalf("expected ErrInvalidConversationStatus, got %v", err)
	}
}

func TestOrderStatusFailed(test *testing.T) {
	test.Parallel()
	if !OrderStatusExpired.Failed() || !OrderStatusTerminated.Failed() {
		test.Fatalf("expected expired and terminated orders to be failed")
	}
	if OrderStatusActive.Failed() || OrderStatusPaid.Failed() {
		test.Fatalf("expected active and paid orders not to be failed")
	}
}

func TestDefaultPackagesAreValid(test *testing.T) {
	test.Parallel()
	packages := DefaultPackages()
	if len(packages) != 3 {
		test.Fatalf("expected 3 default packages, got %d", len(packages))
	}
	for _, item := range packages {
		if err := validatePackage(item); err != nil {
			test.Fatalf("package %d invalid: %v", item.ID, err)
		}
	}
	if !packages[1].Popular || packages[1].Minutes != 60 {
		test.Fatalf("expected standard package to be popular with 60 minutes, got %+v", packages[1])
	}
}

func TestElapsedMinutes(test *testing.T) {
	test.Parallel()
	start := mustTime(test, "2024-01-01T10:00:00Z")
	if got := elapsedMinutes(start, mustTime(test, "2024-01-01T10:01:30Z")); got != 1.5 {
		test.Fatalf("expected 1.5 minutes, got %v", got)
	}
	if got := elapsedMinutes(start, mustTime(test, "2024-01-01T09:59:00Z")); got != 0 {
		test.Fatalf("expected clock skew to clamp at 0, got %v", got)
	}
}
