package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Router fans a delivered event out to the handlers subscribed to its source.
// Transports that receive events from outside the process embed a Router.
type Router struct {
	mu        sync.RWMutex
	listeners map[Source][]Handler
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{listeners: make(map[Source][]Handler)}
}

// Subscribe registers a handler for events from the given source.
func (r *Router) Subscribe(source Source, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[source] = append(r.listeners[source], handler)
}

// HasSubscribers reports whether any handler listens to source.
func (r *Router) HasSubscribers(source Source) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[source]) > 0
}

// Dispatch runs every handler for the event's source concurrently and
// returns their joined errors. The result is permanent only when every
// failure was permanent.
func (r *Router) Dispatch(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return Permanent(err)
	}

	r.mu.RLock()
	handlers := append([]Handler{}, r.listeners[event.Source]...)
	r.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}
	if len(handlers) == 1 {
		return handlers[0](ctx, event)
	}

	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, handler := range handlers {
		wg.Add(1)
		go func(i int, handler Handler) {
			defer wg.Done()
			errs[i] = handler(ctx, event)
		}(i, handler)
	}
	wg.Wait()

	permanent := true
	var failed []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		failed = append(failed, err)
		if !IsPermanent(err) {
			permanent = false
		}
	}
	if len(failed) == 0 {
		return nil
	}
	joined := errors.Join(failed...)
	if permanent {
		return Permanent(joined)
	}
	return joined
}

// RetryPolicy bounds redelivery of failed events.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Delay returns the wait before the given attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.Backoff <= 0 {
		return 0
	}
	return p.Backoff * time.Duration(1<<(attempt-2))
}

// DeliverWithRetry dispatches the event until it succeeds, fails
// permanently, or the policy is exhausted.
func DeliverWithRetry(ctx context.Context, router *Router, policy RetryPolicy, event Event) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if delay := policy.Delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		err = router.Dispatch(ctx, event)
		if err == nil || IsPermanent(err) {
			return err
		}
	}
	return fmt.Errorf("event %s failed after %d attempts: %w", event.ID, attempts, err)
}

// inMemoryDispatcher delivers events within the process. Each published
// event is handled on its own goroutine, so publishers never wait on
// subscribers and deliveries are unordered.
type inMemoryDispatcher struct {
	router *Router
	policy RetryPolicy
	logger *zap.Logger
	wg     sync.WaitGroup
}

// InMemoryBus is a Bus that can be drained before shutdown.
type InMemoryBus interface {
	Bus
	Wait()
}

// NewInMemoryDispatcher creates a dispatcher instance.
func NewInMemoryDispatcher(logger *zap.Logger, policy RetryPolicy) InMemoryBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &inMemoryDispatcher{
		router: NewRouter(),
		policy: policy,
		logger: logger,
	}
}

// Publish validates the event and schedules its delivery.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	deliveryCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := DeliverWithRetry(deliveryCtx, d.router, d.policy, event); err != nil {
			d.logger.Error("event delivery failed",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.String("source", string(event.Source)),
				zap.Bool("permanent", IsPermanent(err)),
				zap.Error(err))
		}
	}()
	return nil
}

// Subscribe registers a handler for the given source.
func (d *inMemoryDispatcher) Subscribe(source Source, handler Handler) {
	d.router.Subscribe(source, handler)
}

// Wait blocks until every scheduled delivery has finished.
func (d *inMemoryDispatcher) Wait() {
	d.wg.Wait()
}
