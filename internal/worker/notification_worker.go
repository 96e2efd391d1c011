package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/helpline-labs/support-desk/internal/events"
	"github.com/helpline-labs/support-desk/internal/service"
)

const defaultQueueSize = 256

// NotificationWorker delivers notifications off the request path.
type NotificationWorker struct {
	notifier *service.NotificationService
	logger   *zap.Logger
	queue    chan events.Event
	workers  int
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewNotificationWorker builds a worker with a bounded queue.
func NewNotificationWorker(logger *zap.Logger, workers, queueSize int) *NotificationWorker {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{logger: logger, queue: make(chan events.Event, queueSize), workers: workers}
}

// Enqueue hands event to the worker without blocking. It reports false when the queue is full.
func (w *NotificationWorker) Enqueue(event events.Event) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.queue <- event:
		return true
	default:
		return false
	}
}

// Start registers the notification handlers and launches the delivery goroutines. They exit
// once ctx is done or Stop drains the queue.
func (w *NotificationWorker) Start(ctx context.Context, notifier *service.NotificationService) {
	if notifier == nil {
		return
	}
	w.notifier = notifier
	notifier.RegisterHandlers()
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
}

func (w *NotificationWorker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.queue:
			if !ok {
				return
			}
			w.deliver(ctx, event)
		}
	}
}

func (w *NotificationWorker) deliver(ctx context.Context, event events.Event) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("notification delivery panicked", zap.String("event_type", string(event.Type)), zap.Any("panic", r))
		}
	}()
	w.notifier.Deliver(ctx, event)
}

// Stop closes the queue and waits for in-flight deliveries.
func (w *NotificationWorker) Stop() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
