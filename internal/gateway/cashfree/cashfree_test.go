package cashfree

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/minutes/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
	"github.com/shopspring/decimal"
)

const testWebhookSecret = "whsec-test"

func newTestClient(test *testing.T, handler http.HandlerFunc) *Client {
	test.Helper()
	server := httptest.NewServer(handler)
	test.Cleanup(server.Close)
	client, err := New(Config{
		BaseURL:       server.URL,
		ClientID:      "app-id",
		ClientSecret:  "app-secret",
		WebhookSecret: testWebhookSecret,
	})
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	return client
}

func TestCreateOrderSendsCredentialsAndDecodesSession(test *testing.T) {
	test.Parallel()
	var captured map[string]any
	client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost || request.URL.Path != "/pg/orders" {
			test.Errorf("unexpected %s %s", request.Method, request.URL.Path)
		}
		if request.Header.Get(headerClientID) != "app-id" || request.Header.Get(headerSecret) != "app-secret" {
			test.Errorf("missing credentials")
		}
		if request.Header.Get(headerAPIVersion) != defaultAPIVersion {
			test.Errorf("unexpected api version %q", request.Header.Get(headerAPIVersion))
		}
		if err := json.NewDecoder(request.Body).Decode(&captured); err != nil {
			test.Errorf("decode: %v", err)
		}
		_, _ = writer.Write([]byte(`{"cf_order_id":2149460581,"order_id":"order_1_abc","order_status":"ACTIVE","payment_session_id":"session_xyz"}`))
	})
	result, err := client.CreateOrder(context.Background(), minutes.OrderRequest{
		OrderID:     mustOrderID(test, "order_1_abc"),
		Amount:      decimal.NewFromInt(499),
		Currency:    "INR",
		CustomerID:  "user@example.com",
		PackageName: "Standard Package",
		ReturnURL:   "https://app.example.com/payment/callback?order_id=order_1_abc",
		NotifyURL:   "https://api.example.com/api/payments/webhook",
	})
	if err != nil {
		test.Fatalf("create order: %v", err)
	}
	created, ok := result.(minutes.OrderCreated)
	if !ok {
		test.Fatalf("expected OrderCreated, got %T", result)
	}
	if created.PaymentSessionID != "session_xyz" || created.GatewayOrderID != "2149460581" {
		test.Fatalf("unexpected result %+v", created)
	}
	if captured["order_amount"] != 499.0 || captured["order_currency"] != "INR" {
		test.Fatalf("unexpected request body %v", captured)
	}
	customer, _ := captured["customer_details"].(map[string]any)
	if customer["customer_id"] != "user_example_com" {
		test.Fatalf("expected sanitized customer id, got %v", customer["customer_id"])
	}
}

func TestCreateOrderClassifiesFailures(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name          string
		status        int
		payload       string
		expectFailed  bool
		expectGateway bool
	}{
		{name: "rejected", status: http.StatusBadRequest, payload: `{"message":"order_amount invalid","code":"order_amount_invalid"}`, expectFailed: true},
		{name: "unavailable", status: http.StatusBadGateway, payload: `{}`, expectGateway: true},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
				writer.WriteHeader(testCase.status)
				_, _ = writer.Write([]byte(testCase.payload))
			})
			result, err := client.CreateOrder(context.Background(), minutes.OrderRequest{
				OrderID:  mustOrderID(test, "order_2"),
				Amount:   decimal.NewFromInt(199),
				Currency: "INR",
			})
			if testCase.expectGateway {
				if !errors.Is(err, minutes.ErrGateway) {
					test.Fatalf("expected ErrGateway, got %v", err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error %v", err)
			}
			failed, ok := result.(minutes.OrderFailed)
			if !ok || failed.Reason == "" {
				test.Fatalf("expected OrderFailed with reason, got %#v", result)
			}
		})
	}
}

func TestCreateOrderTransportFailureIsGatewayError(test *testing.T) {
	test.Parallel()
	client, err := New(Config{BaseURL: "http://127.0.0.1:1", ClientID: "id", ClientSecret: "secret", WebhookSecret: "wh"})
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	if _, err := client.CreateOrder(context.Background(), minutes.OrderRequest{OrderID: mustOrderID(test, "order_3"), Amount: decimal.NewFromInt(1)}); !errors.Is(err, minutes.ErrGateway) {
		test.Fatalf("expected ErrGateway, got %v", err)
	}
}

func TestFetchOrderMapsStatuses(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		remote   string
		expected minutes.OrderStatus
	}{
		{remote: "PAID", expected: minutes.OrderStatusPaid},
		{remote: "ACTIVE", expected: minutes.OrderStatusActive},
		{remote: "EXPIRED", expected: minutes.OrderStatusExpired},
		{remote: "TERMINATION_REQUESTED", expected: minutes.OrderStatusTerminated},
		{remote: "SOMETHING_NEW", expected: minutes.OrderStatusUnknown},
	}
	for _, testCase := range testCases {
		client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/pg/orders/order_4" {
				test.Errorf("unexpected path %s", request.URL.Path)
			}
			_, _ = writer.Write([]byte(`{"order_id":"order_4","order_amount":499.00,"order_currency":"INR","order_status":"` + testCase.remote + `"}`))
		})
		state, err := client.FetchOrder(context.Background(), mustOrderID(test, "order_4"))
		if err != nil {
			test.Fatalf("%s: fetch: %v", testCase.remote, err)
		}
		if state.Status != testCase.expected || !state.Amount.Equal(decimal.NewFromInt(499)) {
			test.Fatalf("%s: unexpected state %+v", testCase.remote, state)
		}
	}
}

func TestFetchOrderNotFoundIsUnknown(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusNotFound)
		_, _ = writer.Write([]byte(`{"message":"order not found"}`))
	})
	state, err := client.FetchOrder(context.Background(), mustOrderID(test, "order_5"))
	if err != nil {
		test.Fatalf("fetch: %v", err)
	}
	if state.Status != minutes.OrderStatusUnknown || state.OrderID.String() != "order_5" {
		test.Fatalf("unexpected state %+v", state)
	}
}

func TestVerifyWebhook(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, func(http.ResponseWriter, *http.Request) {})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	client.nowFn = func() time.Time { return now }
	payload := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order":{"order_id":"order_6","order_amount":199},"payment":{"cf_payment_id":5114910000001,"payment_status":"SUCCESS","payment_amount":199}}}`)
	timestamp := strconv.FormatInt(now.UnixMilli(), 10)
	signature := Sign([]byte(testWebhookSecret), timestamp, payload)

	event, err := client.VerifyWebhook(payload, minutes.WebhookHeaders{Signature: signature, Timestamp: timestamp})
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	if event.Kind != minutes.WebhookKindPaid || event.OrderID.String() != "order_6" || event.ExternalPaymentID != "5114910000001" {
		test.Fatalf("unexpected event %+v", event)
	}
	if !event.Amount.Equal(decimal.NewFromInt(199)) || event.EventID == "" {
		test.Fatalf("unexpected amount or event id %+v", event)
	}
	again, err := client.VerifyWebhook(payload, minutes.WebhookHeaders{Signature: signature, Timestamp: timestamp})
	if err != nil || again.EventID != event.EventID {
		test.Fatalf("expected redelivery to share event id, got %q (%v)", again.EventID, err)
	}

	staleTimestamp := strconv.FormatInt(now.Add(-time.Hour).Unix(), 10)
	rejections := []struct {
		name    string
		payload []byte
		headers minutes.WebhookHeaders
	}{
		{name: "missing", payload: payload, headers: minutes.WebhookHeaders{}},
		{name: "tampered", payload: []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK"}`), headers: minutes.WebhookHeaders{Signature: signature, Timestamp: timestamp}},
		{name: "wrong secret", payload: payload, headers: minutes.WebhookHeaders{Signature: Sign([]byte("other"), timestamp, payload), Timestamp: timestamp}},
		{name: "stale", payload: payload, headers: minutes.WebhookHeaders{Signature: Sign([]byte(testWebhookSecret), staleTimestamp, payload), Timestamp: staleTimestamp}},
	}
	for _, rejection := range rejections {
		if _, err := client.VerifyWebhook(rejection.payload, rejection.headers); !errors.Is(err, minutes.ErrInvalidSignature) {
			test.Fatalf("%s: expected ErrInvalidSignature, got %v", rejection.name, err)
		}
	}
}

func TestVerifyWebhookClassifiesPaymentStatus(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, func(http.ResponseWriter, *http.Request) {})
	now := time.Now()
	client.nowFn = func() time.Time { return now }
	testCases := []struct {
		status   string
		expected minutes.WebhookKind
	}{
		{status: "SUCCESS", expected: minutes.WebhookKindPaid},
		{status: "FAILED", expected: minutes.WebhookKindFailed},
		{status: "USER_DROPPED", expected: minutes.WebhookKindIgnored},
	}
	for _, testCase := range testCases {
		payload := []byte(`{"type":"PAYMENT_WEBHOOK","data":{"order":{"order_id":"order_7"},"payment":{"payment_status":"` + testCase.status + `"}}}`)
		timestamp := strconv.FormatInt(now.Unix(), 10)
		event, err := client.VerifyWebhook(payload, minutes.WebhookHeaders{Signature: Sign([]byte(testWebhookSecret), timestamp, payload), Timestamp: timestamp})
		if err != nil {
			test.Fatalf("%s: verify: %v", testCase.status, err)
		}
		if event.Kind != testCase.expected {
			test.Fatalf("%s: expected %s, got %s", testCase.status, testCase.expected, event.Kind)
		}
	}
}

func TestVerifyWebhookWithoutOrderIsIgnored(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, func(http.ResponseWriter, *http.Request) {})
	now := time.Now()
	client.nowFn = func() time.Time { return now }
	timestamp := strconv.FormatInt(now.Unix(), 10)
	payload := []byte(`{"type":"WEBHOOK","data":{"test_object":{}}}`)

	event, err := client.VerifyWebhook(payload, minutes.WebhookHeaders{Signature: Sign([]byte(testWebhookSecret), timestamp, payload), Timestamp: timestamp})
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	if event.Kind != minutes.WebhookKindIgnored || event.OrderID.String() != "" || event.EventID == "" || event.Type != "WEBHOOK" {
		test.Fatalf("unexpected event %+v", event)
	}

	malformed := []byte(`{"type":"WEBHOOK","data":`)
	_, err = client.VerifyWebhook(malformed, minutes.WebhookHeaders{Signature: Sign([]byte(testWebhookSecret), timestamp, malformed), Timestamp: timestamp})
	if !errors.Is(err, minutes.ErrValidation) || errors.Is(err, minutes.ErrInvalidSignature) {
		test.Fatalf("expected validation error for a signed malformed payload, got %v", err)
	}
}

func TestSettlementAcknowledgesSignedTestWebhook(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, func(http.ResponseWriter, *http.Request) {})
	now := time.Now()
	client.nowFn = func() time.Time { return now }
	store := memstore.New()
	settlement, err := minutes.NewSettlement(store, client, func() time.Time { return now }, minutes.SettlementConfig{ReturnURL: "https://app.example.com/payment/callback"})
	if err != nil {
		test.Fatalf("settlement: %v", err)
	}
	timestamp := strconv.FormatInt(now.Unix(), 10)
	payload := []byte(`{"type":"WEBHOOK","data":{"test_object":{}}}`)

	outcome, err := settlement.HandleWebhook(context.Background(), payload, minutes.WebhookHeaders{Signature: Sign([]byte(testWebhookSecret), timestamp, payload), Timestamp: timestamp})
	if err != nil {
		test.Fatalf("expected signed test webhook to be acknowledged, got %v", err)
	}
	if outcome.Kind != minutes.WebhookKindIgnored || outcome.Credited {
		test.Fatalf("unexpected outcome %+v", outcome)
	}

	invalidOrder := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order":{"order_id":"` + strings.Repeat("x", 80) + `"},"payment":{"payment_status":"SUCCESS"}}}`)
	_, err = settlement.HandleWebhook(context.Background(), invalidOrder, minutes.WebhookHeaders{Signature: Sign([]byte(testWebhookSecret), timestamp, invalidOrder), Timestamp: timestamp})
	if !errors.Is(err, minutes.ErrInvalidOrderID) || errors.Is(err, minutes.ErrInvalidSignature) {
		test.Fatalf("expected invalid order id without a signature failure, got %v", err)
	}

	_, err = settlement.HandleWebhook(context.Background(), payload, minutes.WebhookHeaders{Signature: Sign([]byte("other"), timestamp, payload), Timestamp: timestamp})
	if !errors.Is(err, minutes.ErrInvalidSignature) {
		test.Fatalf("expected forged test webhook to fail the signature check, got %v", err)
	}
}

func TestNewRequiresCredentials(test *testing.T) {
	test.Parallel()
	if _, err := New(Config{ClientID: "id", WebhookSecret: "wh"}); err == nil {
		test.Fatalf("expected missing secret to fail")
	}
	if _, err := New(Config{ClientID: "id", ClientSecret: "secret"}); err == nil {
		test.Fatalf("expected missing webhook secret to fail")
	}
}

func mustOrderID(test *testing.T, raw string) minutes.OrderID {
	test.Helper()
	orderID, err := minutes.NewOrderID(raw)
	if err != nil {
		test.Fatalf("order id: %v", err)
	}
	return orderID
}
