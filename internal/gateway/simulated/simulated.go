// Package simulated is a development gateway that accepts every order and
// reports it paid. Configuration refuses it in production.
package simulated

import (
	"context"
	"fmt"
	"sync"

	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
	"github.com/shopspring/decimal"
)

const (
	gatewayOrderPrefix = "sim_"
	sessionPrefix      = "sim_session_"
)

type order struct {
	amount   decimal.Decimal
	currency string
}

// Gateway records created orders in memory.
type Gateway struct {
	mu     sync.Mutex
	orders map[string]order
}

var _ minutes.Gateway = (*Gateway)(nil)

// New returns an empty simulated gateway.
func New() *Gateway {
	return &Gateway{orders: make(map[string]order)}
}

func (gateway *Gateway) CreateOrder(ctx context.Context, request minutes.OrderRequest) (minutes.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", minutes.ErrGateway, err)
	}
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	gateway.orders[request.OrderID.String()] = order{amount: request.Amount, currency: request.Currency}
	return minutes.OrderCreated{
		GatewayOrderID:   gatewayOrderPrefix + request.OrderID.String(),
		PaymentSessionID: sessionPrefix + request.OrderID.String(),
		PaymentLink:      request.ReturnURL,
		Simulated:        true,
	}, nil
}

// FetchOrder reports every order it created as paid.
func (gateway *Gateway) FetchOrder(ctx context.Context, orderID minutes.OrderID) (minutes.OrderState, error) {
	if err := ctx.Err(); err != nil {
		return minutes.OrderState{}, fmt.Errorf("%w: %v", minutes.ErrGateway, err)
	}
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	created, ok := gateway.orders[orderID.String()]
	if !ok {
		return minutes.OrderState{OrderID: orderID, Status: minutes.OrderStatusUnknown}, nil
	}
	return minutes.OrderState{
		OrderID:  orderID,
		Status:   minutes.OrderStatusPaid,
		Amount:   created.amount,
		Currency: created.currency,
	}, nil
}

// VerifyWebhook rejects every delivery; nothing signs for this gateway.
func (gateway *Gateway) VerifyWebhook(payload []byte, headers minutes.WebhookHeaders) (minutes.VerifiedWebhook, error) {
	return minutes.VerifiedWebhook{}, fmt.Errorf("%w: simulated gateway does not accept webhooks", minutes.ErrInvalidSignature)
}
