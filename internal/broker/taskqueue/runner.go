package taskqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/FulfillBox/internal/broker/messages"
)

type Handler func(ctx context.Context, t messages.Task) error

// Requeuer puts a task back on the topic unchanged.
type Requeuer interface {
	Defer(ctx context.Context, t messages.Task) error
}

// Runner dispatches consumed tasks to handlers by kind. Its Dispatch method is
// the consumer callback.
type Runner struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	now      func() time.Time
	requeue  Requeuer
	// MaxWait caps how long a single task is held waiting for its not-before
	// time. A task still not due after that is deferred through the Requeuer.
	MaxWait time.Duration
}

func NewRunner() *Runner {
	return &Runner{handlers: map[string]Handler{}, now: time.Now, MaxWait: time.Minute}
}

// WithRequeue enables deferring tasks due later than MaxWait. Without it the
// runner holds every task until it is due.
func (r *Runner) WithRequeue(q Requeuer) *Runner {
	r.requeue = q
	return r
}

func (r *Runner) Handle(kind string, h Handler) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
	return r
}

// Dispatch decodes one message, waits until the task is due and runs its
// handler. A task due later than MaxWait is held for MaxWait and then put
// back on the topic, never run early. Undecodable messages and unknown kinds
// are logged and dropped. Handler and requeue errors are returned so the
// message is not committed.
func (r *Runner) Dispatch(ctx context.Context, key, value []byte) error {
	var t messages.Task
	if err := json.Unmarshal(value, &t); err != nil {
		slog.Error("drop undecodable task", "key", string(key), "err", err)
		return nil
	}

	r.mu.RLock()
	h, ok := r.handlers[t.Kind]
	r.mu.RUnlock()
	if !ok {
		slog.Error("drop task of unknown kind", "id", t.ID, "kind", t.Kind)
		return nil
	}

	if wait := t.NotBefore.Sub(r.now()); wait > 0 {
		deferred := r.requeue != nil && r.MaxWait > 0 && wait > r.MaxWait
		if deferred {
			wait = r.MaxWait
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if deferred {
			if err := r.requeue.Defer(ctx, t); err != nil {
				return err
			}
			slog.Debug("task deferred", "id", t.ID, "kind", t.Kind, "not_before", t.NotBefore)
			return nil
		}
	}

	start := time.Now()
	err := h(ctx, t)
	slog.Info("task done", "id", t.ID, "kind", t.Kind, "attempt", t.Attempt, "store_id", t.StoreID, "order_id", t.OrderID, "dur", time.Since(start), "err", err)
	return err
}
