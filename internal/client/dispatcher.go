package client

import (
	"context"
	"sync"
	"time"

	"github.com/pesio-ai/be-wf-approvals/internal/domain"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/metrics"
)

const publishTimeout = 5 * time.Second

type job struct {
	recipients []string
	event      domain.Event
}

// Dispatcher hands events to a NotificationPublisher from a bounded queue
// drained by worker goroutines. Notify never blocks the caller: when the
// queue is full the event is dropped and counted.
type Dispatcher struct {
	publisher *NotificationPublisher
	metrics   *metrics.Metrics
	log       *logger.Logger

	queue     chan job
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewDispatcher starts workers goroutines reading a queue of queueSize.
func NewDispatcher(publisher *NotificationPublisher, queueSize, workers int, m *metrics.Metrics, log *logger.Logger) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		publisher: publisher,
		metrics:   m,
		log:       log,
		queue:     make(chan job, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Notify enqueues the event. It implements domain.Notifier.
func (d *Dispatcher) Notify(_ context.Context, recipients []string, event domain.Event) {
	if len(recipients) == 0 {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(event, "dispatcher closed")
		return
	}

	select {
	case d.queue <- job{recipients: append([]string(nil), recipients...), event: event}:
	default:
		d.drop(event, "queue full")
	}
}

func (d *Dispatcher) drop(event domain.Event, why string) {
	if d.metrics != nil {
		d.metrics.NotifyDropped.Inc()
	}
	d.log.Warn().
		Str("kind", string(event.Kind)).
		Str("document_id", event.DocumentID).
		Str("why", why).
		Msg("notification: dropped")
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for j := range d.queue {
		d.publish(j)
	}
}

func (d *Dispatcher) publish(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	result := "ok"
	if err := d.publisher.Publish(ctx, j.recipients, j.event); err != nil {
		result = "error"
		d.log.Warn().Err(err).
			Str("kind", string(j.event.Kind)).
			Str("document_id", j.event.DocumentID).
			Msg("notification: failed to publish (non-fatal)")
	}
	if d.metrics != nil {
		d.metrics.NotifyPublished.WithLabelValues(string(j.event.Kind), result).Inc()
	}
}

// Close stops accepting events and waits for queued ones to be published
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
