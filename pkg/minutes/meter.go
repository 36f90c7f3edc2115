package minutes

import (
	"context"
	"fmt"
	"time"
)

// Meter gates conversational activity by remaining balance and owns every
// balance mutation.
type Meter struct {
	store   Store
	nowFn   func() time.Time
	options serviceOptions
}

// NewMeter wires a Meter.
func NewMeter(store Store, now func() time.Time, options ...ServiceOption) (*Meter, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Meter{store: store, nowFn: now, options: collectOptions(options)}, nil
}

// EnsureUser returns the user, creating a zero-balance record on first sight.
func (meter *Meter) EnsureUser(ctx context.Context, userID UserID) (User, error) {
	return meter.store.GetOrCreateUser(ctx, userID, meter.nowFn().UTC())
}

// Balance returns the remaining minutes of an existing user.
func (meter *Meter) Balance(ctx context.Context, userID UserID) (Minutes, error) {
	user, err := meter.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.RemainingMinutes, nil
}

// CanStart reports whether the user has a strictly positive balance.
func (meter *Meter) CanStart(ctx context.Context, userID UserID) (bool, error) {
	balance, err := meter.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance > 0, nil
}

// Debit subtracts amount from the balance, clamping at zero.
func (meter *Meter) Debit(ctx context.Context, userID UserID, amount Minutes) (Minutes, error) {
	var balance Minutes
	operationError := meter.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		updated, err := debitMinutes(ctx, transactionStore, userID, amount)
		balance = updated
		return err
	})
	meter.options.logOperation(ctx, OperationLog{
		Operation: operationDebit,
		UserID:    userID,
		Minutes:   amount,
		Balance:   balance,
		Error:     operationError,
	})
	return balance, operationError
}

// Credit adds amount to the balance outside any payment. It is reserved for
// operator adjustments and test setup; purchases are credited only by
// Settlement, inside the transaction that marks the payment SUCCESS.
func (meter *Meter) Credit(ctx context.Context, userID UserID, amount Minutes) (Minutes, error) {
	var balance Minutes
	operationError := meter.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		updated, err := creditMinutes(ctx, transactionStore, userID, amount)
		balance = updated
		return err
	})
	meter.options.logOperation(ctx, OperationLog{
		Operation: operationCredit,
		UserID:    userID,
		Minutes:   amount,
		Balance:   balance,
		Error:     operationError,
	})
	return balance, operationError
}

// requireBalance fails with ErrInsufficientMinutes unless the balance is positive.
func requireBalance(ctx context.Context, store Store, userID UserID) (Minutes, error) {
	user, err := store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if user.RemainingMinutes <= 0 {
		return user.RemainingMinutes, ErrInsufficientMinutes
	}
	return user.RemainingMinutes, nil
}

// creditMinutes and debitMinutes are the only callers of Store.AdjustMinutes.
func creditMinutes(ctx context.Context, store Store, userID UserID, amount Minutes) (Minutes, error) {
	positive, err := NewPositiveMinutes(amount.Float64())
	if err != nil {
		return 0, err
	}
	return store.AdjustMinutes(ctx, userID, positive)
}

func debitMinutes(ctx context.Context, store Store, userID UserID, amount Minutes) (Minutes, error) {
	positive, err := NewPositiveMinutes(amount.Float64())
	if err != nil {
		return 0, err
	}
	return store.AdjustMinutes(ctx, userID, -positive)
}
