package minutes

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderRequest is what settlement asks the gateway to create.
type OrderRequest struct {
	OrderID     OrderID
	Amount      decimal.Decimal
	Currency    string
	CustomerID  string
	PackageName string
	ReturnURL   string
	NotifyURL   string
}

// OrderResult is the decoded answer to an order creation. It is either
// OrderCreated or OrderFailed.
type OrderResult interface {
	isOrderResult()
}

// OrderCreated carries the payable handle of an accepted order.
type OrderCreated struct {
	GatewayOrderID   string
	PaymentSessionID string
	PaymentLink      string
	Simulated        bool
}

// OrderFailed carries the gateway's reason for refusing an order.
type OrderFailed struct {
	Reason string
}

func (OrderCreated) isOrderResult() {}
func (OrderFailed) isOrderResult()  {}

// OrderStatus is the gateway's authoritative view of an order.
type OrderStatus string

const (
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusActive     OrderStatus = "ACTIVE"
	OrderStatusExpired    OrderStatus = "EXPIRED"
	OrderStatusTerminated OrderStatus = "TERMINATED"
	OrderStatusUnknown    OrderStatus = "UNKNOWN"
)

// Failed reports whether the order can no longer be paid.
func (status OrderStatus) Failed() bool {
	return status == OrderStatusExpired || status == OrderStatusTerminated
}

// OrderState is the result of an order status query.
type OrderState struct {
	OrderID  OrderID
	Status   OrderStatus
	Amount   decimal.Decimal
	Currency string
}

// WebhookHeaders carries the authenticity headers of a webhook delivery.
type WebhookHeaders struct {
	Signature string
	Timestamp string
}

// WebhookKind classifies a verified webhook.
type WebhookKind string

const (
	WebhookKindPaid    WebhookKind = "paid"
	WebhookKindFailed  WebhookKind = "failed"
	WebhookKindIgnored WebhookKind = "ignored"
)

// VerifiedWebhook is a webhook whose signature has been checked.
type VerifiedWebhook struct {
	EventID           string
	Type              string
	Kind              WebhookKind
	OrderID           OrderID
	ExternalPaymentID string
	Amount            decimal.Decimal
}

// Gateway is the payment processor port.
// CreateOrder and FetchOrder return errors wrapping ErrGateway on transport
// failures; VerifyWebhook returns errors wrapping ErrInvalidSignature.
type Gateway interface {
	CreateOrder(ctx context.Context, request OrderRequest) (OrderResult, error)
	FetchOrder(ctx context.Context, orderID OrderID) (OrderState, error)
	VerifyWebhook(payload []byte, headers WebhookHeaders) (VerifiedWebhook, error)
}
