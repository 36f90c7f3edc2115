package minutes_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/minutes/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
	"github.com/shopspring/decimal"
)

const (
	testReturnURL      = "https://app.example.com/payment/callback"
	testNotifyURL      = "https://api.example.com/api/payments/webhook"
	testValidSignature = "signed"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (clock *testClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *testClock) Advance(duration time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(duration)
}

// stubGateway answers from an in-memory order table. Webhooks are JSON
// documents accepted only with the testValidSignature header.
type stubGateway struct {
	mu           sync.Mutex
	createResult minutes.OrderResult
	createErr    error
	fetchErr     error
	orders       map[string]minutes.OrderState
	created      []minutes.OrderRequest
	fetchCalls   int
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		createResult: minutes.OrderCreated{GatewayOrderID: "cf-1", PaymentSessionID: "session-1"},
		orders:       map[string]minutes.OrderState{},
	}
}

func (gateway *stubGateway) CreateOrder(_ context.Context, request minutes.OrderRequest) (minutes.OrderResult, error) {
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	gateway.created = append(gateway.created, request)
	if gateway.createErr != nil {
		return nil, gateway.createErr
	}
	return gateway.createResult, nil
}

func (gateway *stubGateway) FetchOrder(_ context.Context, orderID minutes.OrderID) (minutes.OrderState, error) {
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	gateway.fetchCalls++
	if gateway.fetchErr != nil {
		return minutes.OrderState{}, gateway.fetchErr
	}
	state, ok := gateway.orders[orderID.String()]
	if !ok {
		return minutes.OrderState{}, fmt.Errorf("%w: order not found", minutes.ErrGateway)
	}
	return state, nil
}

type stubWebhook struct {
	EventID   string `json:"event_id"`
	Kind      string `json:"kind"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Amount    string `json:"amount"`
}

func (gateway *stubGateway) VerifyWebhook(payload []byte, headers minutes.WebhookHeaders) (minutes.VerifiedWebhook, error) {
	if headers.Signature != testValidSignature {
		return minutes.VerifiedWebhook{}, minutes.ErrInvalidSignature
	}
	var event stubWebhook
	if err := json.Unmarshal(payload, &event); err != nil {
		return minutes.VerifiedWebhook{}, fmt.Errorf("%w: decode webhook: %v", minutes.ErrValidation, err)
	}
	if event.OrderID == "" {
		return minutes.VerifiedWebhook{EventID: event.EventID, Type: event.Kind, Kind: minutes.WebhookKindIgnored}, nil
	}
	orderID, err := minutes.NewOrderID(event.OrderID)
	if err != nil {
		return minutes.VerifiedWebhook{}, err
	}
	amount, err := decimal.NewFromString(event.Amount)
	if err != nil {
		return minutes.VerifiedWebhook{}, fmt.Errorf("%w: amount: %v", minutes.ErrValidation, err)
	}
	return minutes.VerifiedWebhook{
		EventID:           event.EventID,
		Type:              event.Kind,
		Kind:              minutes.WebhookKind(event.Kind),
		OrderID:           orderID,
		ExternalPaymentID: event.PaymentID,
		Amount:            amount,
	}, nil
}

func (gateway *stubGateway) setOrder(orderID minutes.OrderID, status minutes.OrderStatus, amount int64) {
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	gateway.orders[orderID.String()] = minutes.OrderState{
		OrderID:  orderID,
		Status:   status,
		Amount:   decimal.NewFromInt(amount),
		Currency: minutes.DefaultCurrency,
	}
}

func (gateway *stubGateway) fetchCount() int {
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	return gateway.fetchCalls
}

// stubResponder runs beforeReply, if set, while the exchange is waiting on it.
type stubResponder struct {
	mu          sync.Mutex
	reply       string
	err         error
	calls       int
	beforeReply func()
}

func (responder *stubResponder) Reply(_ context.Context, history []minutes.Message) (string, error) {
	responder.mu.Lock()
	responder.calls++
	hook := responder.beforeReply
	responder.mu.Unlock()
	if hook != nil {
		hook()
	}
	responder.mu.Lock()
	defer responder.mu.Unlock()
	if responder.err != nil {
		return "", responder.err
	}
	if len(history) == 0 || !history[len(history)-1].FromUser {
		return "", errors.New("history must end with the user message")
	}
	return responder.reply, nil
}

func (responder *stubResponder) callCount() int {
	responder.mu.Lock()
	defer responder.mu.Unlock()
	return responder.calls
}

type recorderLogger struct {
	mu      sync.Mutex
	entries []minutes.OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry minutes.OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) last() minutes.OperationLog {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	return logger.entries[len(logger.entries)-1]
}

type testHarness struct {
	store      *memstore.Store
	clock      *testClock
	gateway    *stubGateway
	responder  *stubResponder
	logger     *recorderLogger
	catalog    *minutes.Catalog
	meter      *minutes.Meter
	settlement *minutes.Settlement
	sessions   *minutes.Sessions
}

func newHarness(test *testing.T) *testHarness {
	test.Helper()
	store := memstore.New()
	clock := newTestClock()
	gateway := newStubGateway()
	responder := &stubResponder{reply: "Tell me more."}
	logger := &recorderLogger{}
	option := minutes.WithOperationLogger(logger)

	catalog, err := minutes.NewCatalog(store, option)
	if err != nil {
		test.Fatalf("catalog: %v", err)
	}
	if err := catalog.Seed(context.Background(), minutes.DefaultPackages()); err != nil {
		test.Fatalf("seed catalog: %v", err)
	}
	meter, err := minutes.NewMeter(store, clock.Now, option)
	if err != nil {
		test.Fatalf("meter: %v", err)
	}
	settlement, err := minutes.NewSettlement(store, gateway, clock.Now, minutes.SettlementConfig{
		ReturnURL:      testReturnURL,
		NotifyURL:      testNotifyURL,
		GatewayTimeout: time.Second,
	}, option)
	if err != nil {
		test.Fatalf("settlement: %v", err)
	}
	sessions, err := minutes.NewSessions(store, responder, clock.Now, minutes.SessionsConfig{
		MinutesPerExchange: minutes.DefaultMinutesPerExchange,
	}, option)
	if err != nil {
		test.Fatalf("sessions: %v", err)
	}
	return &testHarness{
		store:      store,
		clock:      clock,
		gateway:    gateway,
		responder:  responder,
		logger:     logger,
		catalog:    catalog,
		meter:      meter,
		settlement: settlement,
		sessions:   sessions,
	}
}

func (harness *testHarness) mustUser(test *testing.T, raw string) minutes.UserID {
	test.Helper()
	userID := mustUserID(test, raw)
	if _, err := harness.meter.EnsureUser(context.Background(), userID); err != nil {
		test.Fatalf("ensure user: %v", err)
	}
	return userID
}

func (harness *testHarness) mustBalance(test *testing.T, userID minutes.UserID) minutes.Minutes {
	test.Helper()
	balance, err := harness.meter.Balance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	return balance
}

func (harness *testHarness) mustInitiate(test *testing.T, userID minutes.UserID, packageID minutes.PackageID) minutes.OrderDescriptor {
	test.Helper()
	descriptor, err := harness.settlement.Initiate(context.Background(), userID, packageID)
	if err != nil {
		test.Fatalf("initiate: %v", err)
	}
	return descriptor
}

func webhookPayload(test *testing.T, eventID string, kind minutes.WebhookKind, orderID minutes.OrderID, amount string) []byte {
	test.Helper()
	payload, err := json.Marshal(stubWebhook{
		EventID:   eventID,
		Kind:      string(kind),
		OrderID:   orderID.String(),
		PaymentID: "pay-" + eventID,
		Amount:    amount,
	})
	if err != nil {
		test.Fatalf("marshal webhook: %v", err)
	}
	return payload
}

func signedHeaders() minutes.WebhookHeaders {
	return minutes.WebhookHeaders{Signature: testValidSignature, Timestamp: "1714564800"}
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

func assertMinutes(test *testing.T, label string, expected minutes.Minutes, got minutes.Minutes) {
	test.Helper()
	if math.Abs(expected.Float64()-got.Float64()) > 1e-9 {
		test.Fatalf("%s: expected %v, got %v", label, expected, got)
	}
}
