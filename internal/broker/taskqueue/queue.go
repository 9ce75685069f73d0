// Package taskqueue runs delayed jobs over a Kafka topic. Kafka has no native
// delay, so every task carries a not-before time. The consumer holds a task
// until then, or cycles it back onto the topic when it is far off.
package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/FulfillBox/internal/broker/messages"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Queue struct {
	pub   Publisher
	topic string
	now   func() time.Time
}

func New(pub Publisher, topic string) *Queue {
	return &Queue{pub: pub, topic: topic, now: time.Now}
}

// Enqueue schedules a task to run as soon as a worker picks it up.
func (q *Queue) Enqueue(ctx context.Context, kind string, storeID uint64, orderID string, payload any) (string, error) {
	return q.EnqueueIn(ctx, kind, storeID, orderID, payload, 0)
}

// EnqueueIn schedules a task to run no earlier than countdown from now.
func (q *Queue) EnqueueIn(ctx context.Context, kind string, storeID uint64, orderID string, payload any, countdown time.Duration) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "marshal task payload")
	}
	t := messages.Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Attempt:   1,
		NotBefore: q.now().UTC().Add(countdown),
		StoreID:   storeID,
		OrderID:   orderID,
		Payload:   raw,
	}
	if err := q.publish(ctx, t); err != nil {
		return "", err
	}
	return t.ID, nil
}

// Retry re-publishes t as its next attempt after countdown.
func (q *Queue) Retry(ctx context.Context, t messages.Task, countdown time.Duration, lastErr error) error {
	t.Attempt++
	t.NotBefore = q.now().UTC().Add(countdown)
	if lastErr != nil {
		t.LastError = lastErr.Error()
	}
	return q.publish(ctx, t)
}

// Defer re-publishes t unchanged so it is consumed again later.
func (q *Queue) Defer(ctx context.Context, t messages.Task) error {
	return q.publish(ctx, t)
}

func (q *Queue) publish(ctx context.Context, t messages.Task) error {
	b, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "marshal task")
	}
	if err := q.pub.Publish(ctx, q.topic, []byte(taskKey(t)), b); err != nil {
		return err
	}
	slog.Debug("task enqueued", "id", t.ID, "kind", t.Kind, "attempt", t.Attempt, "not_before", t.NotBefore)
	return nil
}

func taskKey(t messages.Task) string {
	return fmt.Sprintf("%d:%s", t.StoreID, t.OrderID)
}
