// Package notify runs the notification dispatcher: a polling loop that
// claims due notifications, emits their events on the bus, and records the
// outcome with exponential backoff on failure.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/rdfkit/rdf/pkg/bus"
	"github.com/rdfkit/rdf/pkg/store"
)

// backoffBase is the unit of the exponential backoff schedule.
const backoffBase = time.Second

// Dispatcher drains the notification queue. Claiming and handler
// invocation share one transaction, so on postgres the claimed row stays
// locked for the duration of the handler and concurrent dispatchers never
// double-deliver.
type Dispatcher struct {
	store  *store.Store
	bus    *bus.Bus
	config Config
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(s *store.Store, b *bus.Bus, config Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: s, bus: b, config: config, logger: logger}
}

// Start launches the poll loop and, when retention is configured, the
// sweep loop. It returns immediately; Stop drains both.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go d.pollLoop(ctx)

	if d.config.RetentionMaxAge > 0 {
		d.wg.Add(1)
		go d.sweepLoop(ctx)
	}
	d.logger.Info("notification dispatcher started",
		"interval", d.config.Interval,
		"maxAttempts", d.config.MaxAttempts)
}

// Stop cancels the loops and waits for in-flight deliveries to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
	d.logger.Info("notification dispatcher stopped")
}

func (d *Dispatcher) pollLoop(ctx context.Context) {
	defer d.wg.Done()

	if d.config.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.config.InitialDelay):
		}
	}

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()
	d.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain dispatches due notifications one at a time until the queue is
// empty or the context is cancelled. Errors are logged, never fatal; the
// next tick retries.
func (d *Dispatcher) Drain(ctx context.Context) {
	for ctx.Err() == nil {
		dispatched, err := d.DispatchOne(ctx)
		if err != nil {
			d.logger.Error("dispatch notification", "error", err)
			return
		}
		if !dispatched {
			return
		}
	}
}

// DispatchOne claims and delivers a single due notification. It reports
// whether one was claimed; a failed delivery still counts as dispatched
// because the row was consumed and rescheduled.
func (d *Dispatcher) DispatchOne(ctx context.Context) (bool, error) {
	dispatched := false
	err := d.store.WithTransaction(ctx, func(tx *gorm.DB) error {
		notification, err := d.store.ClaimNext(tx, d.config.MaxAttempts)
		if err != nil {
			return err
		}
		if notification == nil {
			return nil
		}
		dispatched = true

		hook, projection, err := d.store.ResolveNotification(tx, notification)
		if err != nil {
			return err
		}
		event := bus.Event{
			Name:              hook.Event,
			Hook:              hook.Name,
			Projection:        projection.Name,
			ProjectionVersion: projection.Version,
			NotificationID:    notification.ID,
			Attempts:          notification.Attempts,
		}
		if deliverErr := d.emit(ctx, event); deliverErr != nil {
			next := time.Now().Add(d.backoff(notification.Attempts + 1))
			d.logger.Warn("notification delivery failed",
				"notification", notification.ID,
				"event", hook.Event,
				"attempts", notification.Attempts+1,
				"error", deliverErr)
			return d.store.FailNotification(tx, notification.ID, next, deliverErr.Error())
		}
		d.logger.Info("notification delivered",
			"notification", notification.ID,
			"event", hook.Event,
			"projection", projection.Name)
		return d.store.PassNotification(tx, notification.ID)
	})
	return dispatched, err
}

// emit shields the loop from handler panics so one broken subscriber
// cannot take the dispatcher down.
func (d *Dispatcher) emit(ctx context.Context, event bus.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.bus.Emit(ctx, event)
}

// backoff returns a full-jitter delay for the given attempt count:
// uniform over [0, 2^attempts x 1s), capped at MaxRescheduleDelay.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	ceiling := d.config.MaxRescheduleDelay
	if attempts < 63 {
		if exp := backoffBase << uint(attempts); exp < ceiling {
			ceiling = exp
		}
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceiling)))
}

func (d *Dispatcher) sweepLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.config.RetentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *Dispatcher) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-d.config.RetentionMaxAge)
	var removed int64
	err := d.store.WithTransaction(ctx, func(tx *gorm.DB) error {
		var err error
		removed, err = d.store.DeleteOKOlderThan(tx, cutoff)
		return err
	})
	if err != nil {
		d.logger.Error("notification retention sweep", "error", err)
		return
	}
	if removed > 0 {
		d.logger.Info("notification retention sweep", "removed", removed, "cutoff", cutoff)
	}
}
