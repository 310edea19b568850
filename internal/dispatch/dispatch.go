// Package dispatch delivers ride events to the outside world. Notify never
// blocks the caller: events go onto a bounded queue and a single worker
// fans them out to every transport. A full queue drops the event.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
)

const (
	DefaultBuffer  = 256
	publishTimeout = 3 * time.Second
)

// Transport is one delivery channel for ride events.
type Transport interface {
	Name() string
	Publish(ctx context.Context, ev models.Event) error
}

type Dispatcher struct {
	logger     *slog.Logger
	transports []Transport

	mu     sync.RWMutex
	closed bool
	queue  chan models.Event
	wg     sync.WaitGroup
}

// New starts the delivery worker. buffer <= 0 uses DefaultBuffer.
func New(logger *slog.Logger, buffer int, transports ...Transport) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger:     logger,
		transports: transports,
		queue:      make(chan models.Event, buffer),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Notify enqueues ev for delivery and returns immediately.
func (d *Dispatcher) Notify(ev models.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		observability.EventsDropped.Inc()
		return
	}
	select {
	case d.queue <- ev:
		observability.EventsEmitted.WithLabelValues(string(ev.Type)).Inc()
	default:
		observability.EventsDropped.Inc()
		d.logger.Warn("event queue full, dropping event", "event_type", ev.Type, "ride_id", ev.RideID)
	}
}

// Close stops accepting events and waits until queued ones are delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		for _, t := range d.transports {
			d.deliver(t, ev)
		}
	}
}

func (d *Dispatcher) deliver(t Transport, ev models.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.EventDeliveryFailures.WithLabelValues(t.Name()).Inc()
			d.logger.Error("transport panicked", "transport", t.Name(), "ride_id", ev.RideID, "panic", rec)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := t.Publish(ctx, ev); err != nil {
		observability.EventDeliveryFailures.WithLabelValues(t.Name()).Inc()
		d.logger.Warn("event delivery failed", "transport", t.Name(), "event_type", ev.Type, "ride_id", ev.RideID, "error", err)
	}
}

// LogTransport writes every event to the structured log.
type LogTransport struct {
	Logger *slog.Logger
}

func (LogTransport) Name() string { return "log" }

func (l LogTransport) Publish(_ context.Context, ev models.Event) error {
	l.Logger.Info("ride event",
		"event_type", ev.Type,
		"ride_id", ev.RideID,
		"passenger_id", ev.PassengerID,
		"driver_id", ev.DriverID,
		"status", ev.Status,
		"message", ev.Message,
	)
	return nil
}
