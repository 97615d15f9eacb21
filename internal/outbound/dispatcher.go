package outbound

import (
	"context"
	"time"

	"FundLedger/internal/event"
	"FundLedger/internal/observability"

	"github.com/rs/zerolog"
)

const channelName = "outbound_events"

// Dispatcher decouples ledger writes from event delivery. Publish never
// blocks: when the queue is full the event is dropped and counted, so a slow
// or unavailable broker can never stall or fail a ledger transition.
type Dispatcher struct {
	sink    Sink
	queue   chan event.BatchEvent
	metrics *observability.Metrics
	log     zerolog.Logger
	timeout time.Duration
}

func NewDispatcher(sink Sink, queueSize int, metrics *observability.Metrics, log zerolog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan event.BatchEvent, queueSize),
		metrics: metrics,
		log:     log,
		timeout: 5 * time.Second,
	}
}

// Publish enqueues evt. It reports false when the event was dropped.
func (d *Dispatcher) Publish(evt event.BatchEvent) bool {
	select {
	case d.queue <- evt:
		if d.metrics != nil {
			d.metrics.SetChannelMetrics(channelName, len(d.queue), cap(d.queue))
		}
		return true
	default:
		if d.metrics != nil {
			d.metrics.PublishDrops.Inc()
		}
		d.log.Warn().
			Str("event_type", evt.Type.String()).
			Str("batch_id", evt.BatchID.String()).
			Msg("outbound queue full, event dropped")
		return false
	}
}

// Run delivers queued events until ctx is cancelled. On cancellation it
// drains whatever is already queued before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info().Str("sink", d.sink.Name()).Int("queue_size", cap(d.queue)).Msg("outbound dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()

		case evt := <-d.queue:
			d.deliver(context.Background(), evt)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case evt := <-d.queue:
			d.deliver(context.Background(), evt)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(parent context.Context, evt event.BatchEvent) {
	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	if err := d.sink.Publish(ctx, evt); err != nil {
		// Non-fatal: the ledger tables remain the source of truth.
		if d.metrics != nil {
			d.metrics.PublishErrors.WithLabelValues(d.sink.Name()).Inc()
		}
		d.log.Warn().Err(err).
			Str("event_type", evt.Type.String()).
			Str("batch_id", evt.BatchID.String()).
			Msg("outbound publish failed")
		return
	}

	if d.metrics != nil {
		d.metrics.PublishedEvents.WithLabelValues(evt.Type.String()).Inc()
		d.metrics.SetChannelMetrics(channelName, len(d.queue), cap(d.queue))
	}
}

// Pending returns the number of queued, undelivered events.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}
