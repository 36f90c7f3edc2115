package minutes_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
)

func TestMeterLogsCreditWithBalance(test *testing.T) {
	test.Parallel()
	harness := newHarness(test)
	userID := harness.mustUser(test, "user-log")
	if _, err := harness.meter.Credit(context.Background(), userID, 20); err != nil {
		test.Fatalf("credit: %v", err)
	}
	entry := harness.logger.last()
	if entry.Operation != "credit" || entry.UserID != userID || entry.Minutes != 20 || entry.Balance != 20 {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Error != nil || entry.Status != "ok" {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestFailedOperationsLogErrorStatus(test *testing.T) {
	test.Parallel()
	harness := newHarness(test)
	userID := harness.mustUser(test, "user-log")
	harness.gateway.createErr = errors.New("connection refused")

	if _, err := harness.settlement.Initiate(context.Background(), userID, 2); !errors.Is(err, minutes.ErrGateway) {
		test.Fatalf("expected gateway error, got %v", err)
	}
	entry := harness.logger.last()
	if entry.Operation != "initiate" || entry.Status != "error" || entry.Error == nil {
		test.Fatalf("expected error log for initiate, got %+v", entry)
	}
	if entry.OrderID.String() == "" || entry.PackageID != 2 {
		test.Fatalf("expected order and package on the entry, got %+v", entry)
	}

	if _, err := harness.settlement.HandleWebhook(context.Background(), []byte(`{}`), minutes.WebhookHeaders{}); !errors.Is(err, minutes.ErrInvalidSignature) {
		test.Fatalf("expected invalid signature, got %v", err)
	}
	if entry := harness.logger.last(); entry.Operation != "webhook" || entry.Status != "error" {
		test.Fatalf("expected error log for webhook, got %+v", entry)
	}
}

func TestServicesWithoutLoggerStillOperate(test *testing.T) {
	test.Parallel()
	harness := newHarness(test)
	meter, err := minutes.NewMeter(harness.store, harness.clock.Now)
	if err != nil {
		test.Fatalf("meter: %v", err)
	}
	userID := mustUserID(test, "user-quiet")
	if _, err := meter.EnsureUser(context.Background(), userID); err != nil {
		test.Fatalf("ensure user: %v", err)
	}
	if balance, err := meter.Credit(context.Background(), userID, 5); err != nil || balance != 5 {
		test.Fatalf("credit: balance=%v err=%v", balance, err)
	}
}
