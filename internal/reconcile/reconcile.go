// Package reconcile periodically re-verifies stale pending payments.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultInterval  = time.Minute
	defaultOlderThan = 15 * time.Minute
	defaultBatchSize = 50
)

// Settler is the part of minutes.Settlement the reconciler drives.
type Settler interface {
	PendingOrders(ctx context.Context, olderThan time.Duration, limit int) ([]minutes.OrderID, error)
	Reconcile(ctx context.Context, orderID minutes.OrderID) (minutes.Payment, error)
}

// Config tunes the sweep.
type Config struct {
	Interval  time.Duration
	OlderThan time.Duration
	BatchSize int
}

// Summary counts the outcome of one sweep.
type Summary struct {
	Checked int
	Settled int
	Failed  int
	Pending int
	Errors  int
}

// Reconciler runs sweeps on a cron schedule.
type Reconciler struct {
	settler Settler
	logger  *zap.Logger
	config  Config
	cron    *cron.Cron
}

// New builds a Reconciler.
func New(settler Settler, logger *zap.Logger, config Config) (*Reconciler, error) {
	if settler == nil {
		return nil, fmt.Errorf("%w: settler dependency is nil", minutes.ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Interval <= 0 {
		config.Interval = defaultInterval
	}
	if config.OlderThan <= 0 {
		config.OlderThan = defaultOlderThan
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}
	return &Reconciler{
		settler: settler,
		logger:  logger,
		config:  config,
		cron:    cron.New(cron.WithSeconds()),
	}, nil
}

// Start schedules the sweep; jobs stop when ctx is done or Stop is called.
func (reconciler *Reconciler) Start(ctx context.Context) error {
	schedule := fmt.Sprintf("@every %ds", max(1, int(reconciler.config.Interval.Seconds())))
	_, err := reconciler.cron.AddFunc(schedule, func() {
		if ctx.Err() != nil {
			return
		}
		summary, err := reconciler.RunOnce(ctx)
		if err != nil {
			reconciler.logger.Error("reconcile sweep failed", zap.Error(err))
			return
		}
		if summary.Checked > 0 {
			reconciler.logger.Info("reconcile sweep",
				zap.Int("checked", summary.Checked),
				zap.Int("settled", summary.Settled),
				zap.Int("failed", summary.Failed),
				zap.Int("pending", summary.Pending),
				zap.Int("errors", summary.Errors),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reconcile: %w", err)
	}
	reconciler.cron.Start()
	return nil
}

// Stop waits for a running sweep to finish.
func (reconciler *Reconciler) Stop() {
	<-reconciler.cron.Stop().Done()
}

// RunOnce reconciles one batch of stale pending orders. Per-order gateway
// failures are counted and do not abort the batch.
func (reconciler *Reconciler) RunOnce(ctx context.Context) (Summary, error) {
	orderIDs, err := reconciler.settler.PendingOrders(ctx, reconciler.config.OlderThan, reconciler.config.BatchSize)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{}
	for _, orderID := range orderIDs {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++
		payment, err := reconciler.settler.Reconcile(ctx, orderID)
		if err != nil {
			summary.Errors++
			if !errors.Is(err, minutes.ErrGateway) {
				reconciler.logger.Warn("reconcile order failed", zap.String("order_id", orderID.String()), zap.Error(err))
			}
			continue
		}
		switch payment.Status {
		case minutes.PaymentStatusSuccess:
			summary.Settled++
		case minutes.PaymentStatusFailed:
			summary.Failed++
		default:
			summary.Pending++
		}
	}
	return summary, nil
}
