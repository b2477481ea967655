// Package notify dispatches escalation and resolution notices to
// out-of-band channels. Dispatch is fire-and-forget: sink failures are
// logged and never block an engine state transition.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/concord-io/concord/pkg/observability"
)

// Notification is one out-of-band notice to stakeholders
type Notification struct {
	ID        uuid.UUID `json:"id"`
	Kind      string    `json:"kind"`
	Audience  []string  `json:"audience,omitempty"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification kinds
const (
	KindEscalation      = "escalation"
	KindResolution      = "resolution"
	KindPendingApproval = "pending_approval"
	KindBookingDenied   = "booking_denied"
)

// Sink delivers a notification to one channel (log line, queue, email relay).
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// Notifier accepts notifications for asynchronous dispatch
type Notifier interface {
	Dispatch(n Notification)
	Close()
}

// AsyncNotifier fans notifications out to its sinks from a single worker
// goroutine.
type AsyncNotifier struct {
	queue   chan Notification
	sinks   []Sink
	logger  observability.Logger
	metrics observability.MetricsClient
	done    chan struct{}
	once    sync.Once
}

// NewAsyncNotifier creates a notifier over the given sinks.
func NewAsyncNotifier(sinks []Sink, logger observability.Logger, metrics observability.MetricsClient) *AsyncNotifier {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	n := &AsyncNotifier{
		queue:   make(chan Notification, 256),
		sinks:   sinks,
		logger:  logger.WithPrefix("notify"),
		metrics: metrics,
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

// Dispatch enqueues a notification. A full queue drops the notification
// with a log line rather than blocking the caller.
func (n *AsyncNotifier) Dispatch(notification Notification) {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now().UTC()
	}
	select {
	case n.queue <- notification:
	default:
		n.logger.Warn("notification queue full, dropping", map[string]interface{}{
			"kind":    notification.Kind,
			"subject": notification.Subject,
		})
		n.metrics.IncrementCounter("notify.dropped", 1)
	}
}

// Close drains the queue and stops the worker.
func (n *AsyncNotifier) Close() {
	n.once.Do(func() {
		close(n.queue)
		<-n.done
	})
}

func (n *AsyncNotifier) run() {
	defer close(n.done)
	for notification := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		for _, sink := range n.sinks {
			if err := sink.Send(ctx, notification); err != nil {
				n.logger.Error("notification sink failed", map[string]interface{}{
					"kind":  notification.Kind,
					"id":    notification.ID,
					"error": err.Error(),
				})
				n.metrics.IncrementCounter("notify.sink_failures", 1)
			}
		}
		cancel()
		n.metrics.IncrementCounter("notify.dispatched", 1)
	}
}

// LogSink writes notifications to the log; the default sink in dev mode.
type LogSink struct {
	logger observability.Logger
}

// NewLogSink creates a sink that logs each notification.
func NewLogSink(logger observability.Logger) *LogSink {
	return &LogSink{logger: logger.WithPrefix("notify.log")}
}

// Send implements Sink.
func (s *LogSink) Send(ctx context.Context, n Notification) error {
	s.logger.Info(n.Subject, map[string]interface{}{
		"kind":     n.Kind,
		"audience": n.Audience,
		"body":     n.Body,
	})
	return nil
}
