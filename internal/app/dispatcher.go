package app

import (
	"context"
	"sync"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/sirupsen/logrus"
)

const defaultDispatchTimeout = 10 * time.Second

// Notifier delivers a notification to the admin channel.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// Dispatcher runs notifications as post-commit hooks. Each dispatch has its own
// goroutine and timeout; a failure is logged and counted, never returned to the
// operation that triggered it, and never retried.
type Dispatcher struct {
	notifier Notifier
	logger   logrus.FieldLogger
	metrics  *Metrics
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A nil notifier turns every dispatch into a no-op.
func NewDispatcher(notifier Notifier, logger logrus.FieldLogger, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		logger:   logger.WithField("component", "dispatcher"),
		metrics:  metrics,
		timeout:  defaultDispatchTimeout,
	}
}

// Dispatch sends n in the background. It must only be called after the write that
// produced n has been durably committed.
func (d *Dispatcher) Dispatch(n domain.Notification) {
	if d == nil || d.notifier == nil {
		return
	}
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now().UTC()
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.send(n); err != nil {
			dispatchErr := &domain.DispatchError{Kind: n.Kind, Err: err}
			d.logger.WithFields(logrus.Fields{
				"kind":           n.Kind,
				"transaction_id": n.TransactionID,
			}).WithError(dispatchErr).Warn("notification dropped")
		}
	}()
}

func (d *Dispatcher) send(n domain.Notification) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.metrics.dispatch(string(n.Kind), "panic")
			d.logger.WithField("panic", r).Error("notifier panicked")
			err = nil
		}
	}()

	if err = d.notifier.Notify(ctx, n); err != nil {
		d.metrics.dispatch(string(n.Kind), "failed")
		return err
	}
	d.metrics.dispatch(string(n.Kind), "sent")
	return nil
}

// Wait blocks until in-flight dispatches finish. Used on shutdown and in tests.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
