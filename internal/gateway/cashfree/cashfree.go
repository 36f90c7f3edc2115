// Package cashfree implements the payment gateway port against Cashfree PG.
package cashfree

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
	"github.com/shopspring/decimal"
)

const (
	// SandboxBaseURL and ProductionBaseURL are the Cashfree PG API roots.
	SandboxBaseURL    = "https://sandbox.cashfree.com"
	ProductionBaseURL = "https://api.cashfree.com"

	defaultAPIVersion       = "2023-08-01"
	defaultRequestTimeout   = 10 * time.Second
	defaultTimestampMaxSkew = 5 * time.Minute
	maxResponseBytes        = 1 << 20
	millisecondThreshold    = 1_000_000_000_000

	headerClientID   = "x-client-id"
	headerSecret     = "x-client-secret"
	headerAPIVersion = "x-api-version"

	orderStatusPaid                 = "PAID"
	orderStatusActive               = "ACTIVE"
	orderStatusExpired              = "EXPIRED"
	orderStatusTerminated           = "TERMINATED"
	orderStatusTerminationRequested = "TERMINATION_REQUESTED"

	paymentStatusSuccess = "SUCCESS"
	paymentStatusFailed  = "FAILED"

	eventIDPrefix = "cf_"
)

var (
	errMissingCredentials = errors.New("cashfree: client id and secret are required")
	errMissingWebhookKey  = errors.New("cashfree: webhook secret is required")
)

// Config carries the merchant credentials and endpoint.
type Config struct {
	BaseURL          string
	ClientID         string
	ClientSecret     string
	WebhookSecret    string
	APIVersion       string
	RequestTimeout   time.Duration
	TimestampMaxSkew time.Duration
}

// Client talks to the Cashfree PG REST API.
type Client struct {
	baseURL          string
	clientID         string
	clientSecret     string
	webhookSecret    []byte
	apiVersion       string
	timestampMaxSkew time.Duration
	httpClient       *http.Client
	nowFn            func() time.Time
}

var _ minutes.Gateway = (*Client)(nil)

// New validates the configuration and builds a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errMissingCredentials
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errMissingWebhookKey
	}
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = SandboxBaseURL
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	skew := cfg.TimestampMaxSkew
	if skew <= 0 {
		skew = defaultTimestampMaxSkew
	}
	return &Client{
		baseURL:          baseURL,
		clientID:         cfg.ClientID,
		clientSecret:     cfg.ClientSecret,
		webhookSecret:    []byte(cfg.WebhookSecret),
		apiVersion:       apiVersion,
		timestampMaxSkew: skew,
		httpClient:       &http.Client{Timeout: timeout},
		nowFn:            time.Now,
	}, nil
}

type customerDetails struct {
	CustomerID    string `json:"customer_id"`
	CustomerPhone string `json:"customer_phone"`
}

type orderMeta struct {
	ReturnURL string `json:"return_url,omitempty"`
	NotifyURL string `json:"notify_url,omitempty"`
}

type createOrderRequest struct {
	OrderID         string          `json:"order_id"`
	OrderAmount     json.Number     `json:"order_amount"`
	OrderCurrency   string          `json:"order_currency"`
	CustomerDetails customerDetails `json:"customer_details"`
	OrderMeta       orderMeta       `json:"order_meta"`
	OrderNote       string          `json:"order_note,omitempty"`
}

type orderResponse struct {
	CFOrderID        json.Number     `json:"cf_order_id"`
	OrderID          string          `json:"order_id"`
	OrderAmount      decimal.Decimal `json:"order_amount"`
	OrderCurrency    string          `json:"order_currency"`
	OrderStatus      string          `json:"order_status"`
	PaymentSessionID string          `json:"payment_session_id"`
	PaymentLink      string          `json:"payment_link"`
}

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}

// CreateOrder registers an order. 4xx answers become OrderFailed; transport
// failures and 5xx answers are errors wrapping minutes.ErrGateway.
func (client *Client) CreateOrder(ctx context.Context, request minutes.OrderRequest) (minutes.OrderResult, error) {
	body := createOrderRequest{
		OrderID:       request.OrderID.String(),
		OrderAmount:   json.Number(request.Amount.StringFixed(2)),
		OrderCurrency: request.Currency,
		CustomerDetails: customerDetails{
			CustomerID:    sanitizeCustomerID(request.CustomerID),
			CustomerPhone: "9999999999",
		},
		OrderMeta: orderMeta{ReturnURL: request.ReturnURL, NotifyURL: request.NotifyURL},
		OrderNote: request.PackageName,
	}
	status, raw, err := client.do(ctx, http.MethodPost, "/pg/orders", body)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: cashfree create order: http %d", minutes.ErrGateway, status)
	}
	if status >= http.StatusBadRequest {
		return minutes.OrderFailed{Reason: describeFailure(status, raw)}, nil
	}
	var decoded orderResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: cashfree create order: decode: %v", minutes.ErrGateway, err)
	}
	if decoded.PaymentSessionID == "" {
		return minutes.OrderFailed{Reason: "cashfree returned no payment session"}, nil
	}
	return minutes.OrderCreated{
		GatewayOrderID:   decoded.CFOrderID.String(),
		PaymentSessionID: decoded.PaymentSessionID,
		PaymentLink:      decoded.PaymentLink,
	}, nil
}

// FetchOrder returns Cashfree's authoritative view of an order.
func (client *Client) FetchOrder(ctx context.Context, orderID minutes.OrderID) (minutes.OrderState, error) {
	status, raw, err := client.do(ctx, http.MethodGet, "/pg/orders/"+url.PathEscape(orderID.String()), nil)
	if err != nil {
		return minutes.OrderState{}, err
	}
	if status == http.StatusNotFound {
		return minutes.OrderState{OrderID: orderID, Status: minutes.OrderStatusUnknown}, nil
	}
	if status != http.StatusOK {
		return minutes.OrderState{}, fmt.Errorf("%w: cashfree fetch order: %s", minutes.ErrGateway, describeFailure(status, raw))
	}
	var decoded orderResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return minutes.OrderState{}, fmt.Errorf("%w: cashfree fetch order: decode: %v", minutes.ErrGateway, err)
	}
	answeredID, err := minutes.NewOrderID(decoded.OrderID)
	if err != nil {
		return minutes.OrderState{}, fmt.Errorf("%w: cashfree fetch order: %v", minutes.ErrGateway, err)
	}
	return minutes.OrderState{
		OrderID:  answeredID,
		Status:   mapOrderStatus(decoded.OrderStatus),
		Amount:   decoded.OrderAmount,
		Currency: decoded.OrderCurrency,
	}, nil
}

type webhookPayload struct {
	Type      string `json:"type"`
	EventTime string `json:"event_time"`
	Data      struct {
		Order struct {
			OrderID       string          `json:"order_id"`
			OrderAmount   decimal.Decimal `json:"order_amount"`
			OrderCurrency string          `json:"order_currency"`
		} `json:"order"`
		Payment struct {
			CFPaymentID   json.Number     `json:"cf_payment_id"`
			PaymentStatus string          `json:"payment_status"`
			PaymentAmount decimal.Decimal `json:"payment_amount"`
		} `json:"payment"`
	} `json:"data"`
}

// VerifyWebhook checks the HMAC-SHA256 signature over timestamp+payload and
// the timestamp freshness before decoding the event.
func (client *Client) VerifyWebhook(payload []byte, headers minutes.WebhookHeaders) (minutes.VerifiedWebhook, error) {
	if headers.Signature == "" || headers.Timestamp == "" {
		return minutes.VerifiedWebhook{}, fmt.Errorf("%w: missing signature headers", minutes.ErrInvalidSignature)
	}
	if !hmac.Equal([]byte(Sign(client.webhookSecret, headers.Timestamp, payload)), []byte(headers.Signature)) {
		return minutes.VerifiedWebhook{}, fmt.Errorf("%w: signature mismatch", minutes.ErrInvalidSignature)
	}
	signedAt, err := parseTimestamp(headers.Timestamp)
	if err != nil {
		return minutes.VerifiedWebhook{}, fmt.Errorf("%w: %v", minutes.ErrInvalidSignature, err)
	}
	if skew := client.nowFn().Sub(signedAt); skew > client.timestampMaxSkew || skew < -client.timestampMaxSkew {
		return minutes.VerifiedWebhook{}, fmt.Errorf("%w: stale timestamp", minutes.ErrInvalidSignature)
	}

	var decoded webhookPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return minutes.VerifiedWebhook{}, fmt.Errorf("%w: decode webhook: %v", minutes.ErrValidation, err)
	}
	digest := sha256.Sum256(append([]byte(headers.Timestamp), payload...))
	eventID := eventIDPrefix + hex.EncodeToString(digest[:16])
	// Dashboard test deliveries and non-payment events carry no order.
	if strings.TrimSpace(decoded.Data.Order.OrderID) == "" {
		return minutes.VerifiedWebhook{EventID: eventID, Type: decoded.Type, Kind: minutes.WebhookKindIgnored}, nil
	}
	orderID, err := minutes.NewOrderID(decoded.Data.Order.OrderID)
	if err != nil {
		return minutes.VerifiedWebhook{}, err
	}
	amount := decoded.Data.Payment.PaymentAmount
	if amount.IsZero() {
		amount = decoded.Data.Order.OrderAmount
	}
	return minutes.VerifiedWebhook{
		EventID:           eventID,
		Type:              decoded.Type,
		Kind:              mapPaymentStatus(decoded.Data.Payment.PaymentStatus),
		OrderID:           orderID,
		ExternalPaymentID: decoded.Data.Payment.CFPaymentID.String(),
		Amount:            amount,
	}, nil
}

// Sign computes the Cashfree webhook signature.
func Sign(secret []byte, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (client *Client) do(ctx context.Context, method string, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("cashfree: marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("cashfree: create request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set(headerClientID, client.clientID)
	request.Header.Set(headerSecret, client.clientSecret)
	request.Header.Set(headerAPIVersion, client.apiVersion)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: cashfree %s %s: %w", minutes.ErrGateway, method, path, err)
	}
	defer response.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: cashfree read response: %w", minutes.ErrGateway, err)
	}
	return response.StatusCode, raw, nil
}

func mapOrderStatus(raw string) minutes.OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case orderStatusPaid:
		return minutes.OrderStatusPaid
	case orderStatusActive:
		return minutes.OrderStatusActive
	case orderStatusExpired:
		return minutes.OrderStatusExpired
	case orderStatusTerminated, orderStatusTerminationRequested:
		return minutes.OrderStatusTerminated
	default:
		return minutes.OrderStatusUnknown
	}
}

func mapPaymentStatus(raw string) minutes.WebhookKind {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case paymentStatusSuccess:
		return minutes.WebhookKindPaid
	case paymentStatusFailed:
		return minutes.WebhookKindFailed
	default:
		return minutes.WebhookKindIgnored
	}
}

func parseTimestamp(raw string) (time.Time, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
	}
	if value >= millisecondThreshold {
		return time.UnixMilli(value), nil
	}
	return time.Unix(value, 0), nil
}

func describeFailure(status int, raw []byte) string {
	var decoded errorResponse
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Message != "" {
		return fmt.Sprintf("http %d: %s", status, decoded.Message)
	}
	return fmt.Sprintf("http %d", status)
}

// Cashfree accepts alphanumerics, underscores and hyphens in customer ids.
func sanitizeCustomerID(raw string) string {
	var builder strings.Builder
	for _, character := range raw {
		switch {
		case character >= 'a' && character <= 'z', character >= 'A' && character <= 'Z', character >= '0' && character <= '9', character == '_', character == '-':
			builder.WriteRune(character)
		default:
			builder.WriteRune('_')
		}
	}
	return builder.String()
}
