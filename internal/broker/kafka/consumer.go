package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const (
	commitAttempts = 3
	commitWait     = 200 * time.Millisecond
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads the task topic one message at a time. Offsets are committed
// explicitly, so a message is redelivered unless its handler succeeded.
type Consumer struct {
	r          messageReader
	commitWait time.Duration
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
		// tasks are small; don't sit on a partial batch
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newConsumerWithReader(kafka.NewReader(cfg))
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r, commitWait: commitWait}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume hands every message to handler and commits it only after handler
// succeeds. A handler error stops consumption so the message is redelivered.
// Cancelling ctx returns ctx.Err().
func (c *Consumer) Consume(ctx context.Context, handler func(ctx context.Context, key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(ctx, msg.Key, msg.Value); err != nil {
			slog.Error("task message not handled", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
			return err
		}
		if err := c.commit(ctx, msg); err != nil {
			return errors.Wrapf(err, "commit %s/%d@%d", msg.Topic, msg.Partition, msg.Offset)
		}
	}
}

// commit retries briefly: the handler already ran, so giving up here means the
// task runs again after a rebalance.
func (c *Consumer) commit(ctx context.Context, msg kafka.Message) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.commitWait
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, commitAttempts-1), ctx)
	return backoff.Retry(func() error {
		return c.r.CommitMessages(ctx, msg)
	}, policy)
}
