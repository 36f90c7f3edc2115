package minutes

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxSettleAttempts     = 2
	defaultGatewayTimeout = 10 * time.Second

	returnQueryUserID    = "user_id"
	returnQueryPackageID = "package_id"
	returnQueryOrderID   = "order_id"
)

// SettlementConfig holds the URLs handed to the gateway and the verification budget.
type SettlementConfig struct {
	ReturnURL      string
	NotifyURL      string
	GatewayTimeout time.Duration
}

// OrderDescriptor is returned to the client after initiation.
type OrderDescriptor struct {
	OrderID          OrderID
	Amount           decimal.Decimal
	Currency         string
	Package          Package
	GatewayOrderID   string
	PaymentSessionID string
	PaymentLink      string
	ReturnURL        string
	Simulated        bool
}

// ConfirmRequest is the client-supplied redirect payload. ReportedPaymentID
// and ReportedStatus are untrusted and only logged.
type ConfirmRequest struct {
	UserID            UserID
	PackageID         PackageID
	OrderID           OrderID
	ReportedPaymentID string
	ReportedStatus    string
}

// WebhookOutcome summarizes what a webhook delivery changed.
type WebhookOutcome struct {
	OrderID   OrderID
	Kind      WebhookKind
	Status    PaymentStatus
	Credited  bool
	Duplicate bool
}

// Settlement bridges internal payment intents and the external gateway.
type Settlement struct {
	store     Store
	gateway   Gateway
	nowFn     func() time.Time
	newSuffix func() string
	config    SettlementConfig
	options   serviceOptions
}

// NewSettlement wires a Settlement.
func NewSettlement(store Store, gateway Gateway, now func() time.Time, config SettlementConfig, options ...ServiceOption) (*Settlement, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if gateway == nil {
		return nil, fmt.Errorf("%w: gateway dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if _, err := url.Parse(config.ReturnURL); err != nil || strings.TrimSpace(config.ReturnURL) == "" {
		return nil, fmt.Errorf("%w: return url is required", ErrInvalidServiceConfig)
	}
	if config.GatewayTimeout <= 0 {
		config.GatewayTimeout = defaultGatewayTimeout
	}
	return &Settlement{
		store:     store,
		gateway:   gateway,
		nowFn:     now,
		newSuffix: randomOrderSuffix,
		config:    config,
		options:   collectOptions(options),
	}, nil
}

// Initiate creates a gateway order for a package and records it as pending.
// Gateway failures are returned as ErrGateway; no order is simulated here.
func (settlement *Settlement) Initiate(ctx context.Context, userID UserID, packageID PackageID) (OrderDescriptor, error) {
	descriptor, operationError := settlement.initiate(ctx, userID, packageID)
	settlement.options.logOperation(ctx, OperationLog{
		Operation: operationInitiate,
		UserID:    userID,
		PackageID: packageID,
		OrderID:   descriptor.OrderID,
		Error:     operationError,
	})
	return descriptor, operationError
}

func (settlement *Settlement) initiate(ctx context.Context, userID UserID, packageID PackageID) (OrderDescriptor, error) {
	if _, err := settlement.store.GetUser(ctx, userID); err != nil {
		return OrderDescriptor{}, err
	}
	packageItem, err := settlement.store.GetPackage(ctx, packageID)
	if err != nil {
		return OrderDescriptor{}, err
	}
	now := settlement.nowFn().UTC()
	orderID, err := NewOrderID(fmt.Sprintf("%s_%d_%s", orderIDPrefix, now.UnixMilli(), settlement.newSuffix()))
	if err != nil {
		return OrderDescriptor{}, err
	}
	returnURL, err := buildReturnURL(settlement.config.ReturnURL, userID, packageID, orderID)
	if err != nil {
		return OrderDescriptor{}, fmt.Errorf("%w: %v", ErrInvalidServiceConfig, err)
	}

	gatewayCtx, cancel := context.WithTimeout(ctx, settlement.config.GatewayTimeout)
	defer cancel()
	result, err := settlement.gateway.CreateOrder(gatewayCtx, OrderRequest{
		OrderID:     orderID,
		Amount:      packageItem.Price,
		Currency:    packageItem.Currency,
		CustomerID:  userID.String(),
		PackageName: packageItem.Name,
		ReturnURL:   returnURL,
		NotifyURL:   settlement.config.NotifyURL,
	})
	if err != nil {
		return OrderDescriptor{OrderID: orderID}, gatewayFailure(errorCodeCreate, err)
	}

	var created OrderCreated
	switch typed := result.(type) {
	case OrderCreated:
		created = typed
	case OrderFailed:
		return OrderDescriptor{OrderID: orderID}, WrapError(errorOperationSettlement, errorSubjectGateway, errorCodeRejected, fmt.Errorf("%w: %s", ErrGateway, typed.Reason))
	default:
		return OrderDescriptor{OrderID: orderID}, WrapError(errorOperationSettlement, errorSubjectGateway, errorCodeRejected, fmt.Errorf("%w: unexpected order result %T", ErrGateway, result))
	}

	payment := Payment{
		PaymentID: uuid.NewString(),
		OrderID:   orderID,
		UserID:    userID,
		PackageID: packageItem.ID,
		Amount:    packageItem.Price,
		Currency:  packageItem.Currency,
		Minutes:   packageItem.Minutes,
		Status:    PaymentStatusPending,
		Simulated: created.Simulated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := settlement.store.CreatePayment(ctx, payment); err != nil {
		return OrderDescriptor{OrderID: orderID}, err
	}
	return OrderDescriptor{
		OrderID:          orderID,
		Amount:           packageItem.Price,
		Currency:         packageItem.Currency,
		Package:          packageItem,
		GatewayOrderID:   created.GatewayOrderID,
		PaymentSessionID: created.PaymentSessionID,
		PaymentLink:      created.PaymentLink,
		ReturnURL:        returnURL,
		Simulated:        created.Simulated,
	}, nil
}

// ConfirmCallback settles an order after re-querying the gateway. The
// client-reported status never decides the outcome.
func (settlement *Settlement) ConfirmCallback(ctx context.Context, request ConfirmRequest) (Payment, error) {
	payment, credited, operationError := settlement.confirm(ctx, request)
	entry := OperationLog{
		Operation: operationConfirm,
		UserID:    request.UserID,
		PackageID: request.PackageID,
		OrderID:   request.OrderID,
		Minutes:   payment.Minutes,
		Detail:    fmt.Sprintf("reported_status=%s reported_payment_id=%s", request.ReportedStatus, request.ReportedPaymentID),
		Error:     operationError,
	}
	if operationError == nil && !credited {
		entry.Status = operationStatusNoop
	}
	settlement.options.logOperation(ctx, entry)
	return payment, operationError
}

func (settlement *Settlement) confirm(ctx context.Context, request ConfirmRequest) (Payment, bool, error) {
	if _, err := settlement.store.GetUser(ctx, request.UserID); err != nil {
		return Payment{}, false, err
	}
	packageItem, err := settlement.store.GetPackage(ctx, request.PackageID)
	if err != nil {
		return Payment{}, false, err
	}
	expectedAmount := packageItem.Price
	existing, err := settlement.store.GetPaymentByOrderID(ctx, request.OrderID)
	switch {
	case err == nil:
		if existing.UserID != request.UserID || existing.PackageID != request.PackageID {
			return Payment{}, false, ErrOrderOwnerMismatch
		}
		if existing.Status == PaymentStatusSuccess {
			return existing, false, nil
		}
		expectedAmount = existing.Amount
	case errors.Is(err, ErrUnknownOrder):
	default:
		return Payment{}, false, err
	}

	state, err := settlement.fetchOrder(ctx, request.OrderID)
	if err != nil {
		return Payment{}, false, err
	}
	if state.Status != OrderStatusPaid {
		if state.Status.Failed() {
			if failErr := settlement.markFailed(ctx, request.OrderID, ""); failErr != nil && !errors.Is(failErr, ErrUnknownOrder) {
				return Payment{}, false, failErr
			}
		}
		return Payment{}, false, fmt.Errorf("%w: gateway status %s", ErrPaymentNotCompleted, state.Status)
	}
	if !state.Amount.Equal(expectedAmount) {
		return Payment{}, false, fmt.Errorf("%w: gateway reported %s, expected %s", ErrAmountMismatch, state.Amount.String(), expectedAmount.String())
	}
	return settlement.settle(ctx, settleIntent{
		orderID:     request.OrderID,
		userID:      request.UserID,
		packageItem: &packageItem,
	})
}

// HandleWebhook applies a signed gateway notification. Unsigned or tampered
// deliveries are rejected before any state is read.
func (settlement *Settlement) HandleWebhook(ctx context.Context, payload []byte, headers WebhookHeaders) (WebhookOutcome, error) {
	outcome, operationError := settlement.handleWebhook(ctx, payload, headers)
	entry := OperationLog{
		Operation: operationWebhook,
		OrderID:   outcome.OrderID,
		Detail:    fmt.Sprintf("kind=%s duplicate=%t", outcome.Kind, outcome.Duplicate),
		Error:     operationError,
	}
	if operationError == nil && !outcome.Credited && outcome.Kind != WebhookKindFailed {
		entry.Status = operationStatusNoop
	}
	settlement.options.logOperation(ctx, entry)
	return outcome, operationError
}

func (settlement *Settlement) handleWebhook(ctx context.Context, payload []byte, headers WebhookHeaders) (WebhookOutcome, error) {
	event, err := settlement.gateway.VerifyWebhook(payload, headers)
	if err != nil {
		if !errors.Is(err, ErrInvalidSignature) && !errors.Is(err, ErrValidation) {
			err = fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return WebhookOutcome{}, err
	}
	outcome := WebhookOutcome{OrderID: event.OrderID, Kind: event.Kind}
	if event.Kind == WebhookKindIgnored && event.OrderID.String() == "" {
		return outcome, nil
	}

	recordErr := settlement.store.RecordWebhookEvent(ctx, WebhookEvent{
		EventID:    event.EventID,
		OrderID:    event.OrderID,
		Type:       event.Type,
		Payload:    payload,
		ReceivedAt: settlement.nowFn().UTC(),
	})
	switch {
	case recordErr == nil:
	case errors.Is(recordErr, ErrDuplicateWebhookEvent):
		outcome.Duplicate = true
	default:
		return outcome, recordErr
	}

	switch event.Kind {
	case WebhookKindPaid:
		amount := event.Amount
		payment, credited, err := settlement.settle(ctx, settleIntent{
			orderID:           event.OrderID,
			externalPaymentID: event.ExternalPaymentID,
			gatewayAmount:     &amount,
		})
		if err != nil {
			return outcome, err
		}
		outcome.Status = payment.Status
		outcome.Credited = credited
		return outcome, nil
	case WebhookKindFailed:
		err := settlement.markFailed(ctx, event.OrderID, event.ExternalPaymentID)
		if err != nil {
			return outcome, err
		}
		payment, err := settlement.store.GetPaymentByOrderID(ctx, event.OrderID)
		if err != nil {
			return outcome, err
		}
		outcome.Status = payment.Status
		return outcome, nil
	default:
		return outcome, nil
	}
}

// Reconcile re-verifies a pending order with the gateway and settles or fails it.
func (settlement *Settlement) Reconcile(ctx context.Context, orderID OrderID) (Payment, error) {
	payment, credited, operationError := settlement.reconcile(ctx, orderID)
	entry := OperationLog{
		Operation: operationReconcile,
		OrderID:   orderID,
		UserID:    payment.UserID,
		Minutes:   payment.Minutes,
		Detail:    "status=" + payment.Status.String(),
		Error:     operationError,
	}
	if operationError == nil && !credited {
		entry.Status = operationStatusNoop
	}
	settlement.options.logOperation(ctx, entry)
	return payment, operationError
}

func (settlement *Settlement) reconcile(ctx context.Context, orderID OrderID) (Payment, bool, error) {
	payment, err := settlement.store.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return Payment{}, false, err
	}
	if payment.Status != PaymentStatusPending {
		return payment, false, nil
	}
	state, err := settlement.fetchOrder(ctx, orderID)
	if err != nil {
		return payment, false, err
	}
	switch {
	case state.Status == OrderStatusPaid:
		amount := state.Amount
		return settlement.settle(ctx, settleIntent{orderID: orderID, gatewayAmount: &amount})
	case state.Status.Failed():
		if err := settlement.markFailed(ctx, orderID, ""); err != nil {
			return payment, false, err
		}
		failed, err := settlement.store.GetPaymentByOrderID(ctx, orderID)
		return failed, false, err
	default:
		return payment, false, nil
	}
}

// PendingOrders lists orders still pending after the given age.
func (settlement *Settlement) PendingOrders(ctx context.Context, olderThan time.Duration, limit int) ([]OrderID, error) {
	cutoff := settlement.nowFn().UTC().Add(-olderThan)
	payments, err := settlement.store.ListPendingPayments(ctx, cutoff, limit)
	if err != nil {
		return nil, err
	}
	orderIDs := make([]OrderID, 0, len(payments))
	for _, payment := range payments {
		orderIDs = append(orderIDs, payment.OrderID)
	}
	return orderIDs, nil
}

// ListPayments returns the user's most recent payments.
func (settlement *Settlement) ListPayments(ctx context.Context, userID UserID, limit int) ([]Payment, error) {
	return settlement.store.ListPayments(ctx, userID, limit)
}

type settleIntent struct {
	orderID           OrderID
	externalPaymentID string
	gatewayAmount     *decimal.Decimal
	// userID and packageItem allow inserting a settled row when no pending
	// intent was recorded; the webhook path never creates rows.
	userID      UserID
	packageItem *Package
}

func (settlement *Settlement) settle(ctx context.Context, intent settleIntent) (Payment, bool, error) {
	var lastErr error
	for attempt := 0; attempt < maxSettleAttempts; attempt++ {
		payment, credited, err := settlement.settleOnce(ctx, intent)
		if errors.Is(err, ErrDuplicateOrder) {
			lastErr = err
			continue
		}
		return payment, credited, err
	}
	return Payment{}, false, lastErr
}

func (settlement *Settlement) settleOnce(ctx context.Context, intent settleIntent) (Payment, bool, error) {
	var (
		settled  Payment
		credited bool
	)
	err := settlement.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		now := settlement.nowFn().UTC()
		existing, err := transactionStore.GetPaymentByOrderID(ctx, intent.orderID)
		switch {
		case err == nil:
			if existing.Status == PaymentStatusSuccess {
				settled = existing
				return nil
			}
			if intent.gatewayAmount != nil && !intent.gatewayAmount.Equal(existing.Amount) {
				return fmt.Errorf("%w: gateway reported %s, expected %s", ErrAmountMismatch, intent.gatewayAmount.String(), existing.Amount.String())
			}
			transitionErr := transactionStore.TransitionPayment(ctx, PaymentTransition{
				OrderID:           intent.orderID,
				From:              []PaymentStatus{PaymentStatusPending, PaymentStatusFailed},
				To:                PaymentStatusSuccess,
				ExternalPaymentID: intent.externalPaymentID,
				UpdatedAt:         now,
			})
			if errors.Is(transitionErr, ErrPaymentSettled) {
				current, readErr := transactionStore.GetPaymentByOrderID(ctx, intent.orderID)
				settled = current
				return readErr
			}
			if transitionErr != nil {
				return transitionErr
			}
			if _, err := creditMinutes(ctx, transactionStore, existing.UserID, existing.Minutes); err != nil {
				return err
			}
			settled = existing
			settled.Status = PaymentStatusSuccess
			if intent.externalPaymentID != "" {
				settled.ExternalPaymentID = intent.externalPaymentID
			}
			settled.UpdatedAt = now
			credited = true
			return nil
		case errors.Is(err, ErrUnknownOrder):
			if intent.packageItem == nil {
				return err
			}
			payment := Payment{
				PaymentID:         uuid.NewString(),
				OrderID:           intent.orderID,
				UserID:            intent.userID,
				PackageID:         intent.packageItem.ID,
				Amount:            intent.packageItem.Price,
				Currency:          intent.packageItem.Currency,
				Minutes:           intent.packageItem.Minutes,
				ExternalPaymentID: intent.externalPaymentID,
				Status:            PaymentStatusSuccess,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if err := transactionStore.CreatePayment(ctx, payment); err != nil {
				return err
			}
			if _, err := creditMinutes(ctx, transactionStore, payment.UserID, payment.Minutes); err != nil {
				return err
			}
			settled = payment
			credited = true
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return Payment{}, false, err
	}
	return settled, credited, nil
}

func (settlement *Settlement) markFailed(ctx context.Context, orderID OrderID, externalPaymentID string) error {
	err := settlement.store.TransitionPayment(ctx, PaymentTransition{
		OrderID:           orderID,
		From:              []PaymentStatus{PaymentStatusPending},
		To:                PaymentStatusFailed,
		ExternalPaymentID: externalPaymentID,
		UpdatedAt:         settlement.nowFn().UTC(),
	})
	if errors.Is(err, ErrPaymentSettled) {
		return nil
	}
	return err
}

func (settlement *Settlement) fetchOrder(ctx context.Context, orderID OrderID) (OrderState, error) {
	gatewayCtx, cancel := context.WithTimeout(ctx, settlement.config.GatewayTimeout)
	defer cancel()
	state, err := settlement.gateway.FetchOrder(gatewayCtx, orderID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(gatewayCtx.Err(), context.DeadlineExceeded) {
			return OrderState{}, gatewayFailure(errorCodeTimeout, err)
		}
		return OrderState{}, gatewayFailure(errorCodeFetch, err)
	}
	if state.OrderID != orderID {
		return OrderState{}, WrapError(errorOperationSettlement, errorSubjectOrder, errorCodeFetch, fmt.Errorf("%w: gateway answered for order %q", ErrGateway, state.OrderID.String()))
	}
	return state, nil
}

func gatewayFailure(code string, err error) error {
	if !errors.Is(err, ErrGateway) {
		err = fmt.Errorf("%w: %v", ErrGateway, err)
	}
	return WrapError(errorOperationSettlement, errorSubjectGateway, code, err)
}

func buildReturnURL(base string, userID UserID, packageID PackageID, orderID OrderID) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set(returnQueryUserID, userID.String())
	query.Set(returnQueryPackageID, strconv.FormatInt(packageID.Int64(), 10))
	query.Set(returnQueryOrderID, orderID.String())
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func randomOrderSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:orderIDSuffixLength]
}
