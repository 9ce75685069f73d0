// Package statusupdater writes notes, tags and shipments back to storefront
// orders. Note writes for one order are serialized by a distributed lock so
// concurrent writers never lose each other's text.
package statusupdater

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BearBump/FulfillBox/internal/broker/messages"
	"github.com/BearBump/FulfillBox/internal/cache"
	"github.com/BearBump/FulfillBox/internal/integrations/storefront"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/pkg/errors"
)

type Storefronts interface {
	ForStore(ctx context.Context, storeID uint64) (storefront.Client, error)
}

type TrackWriter interface {
	SetOrderStatus(ctx context.Context, storeID uint64, orderID string, status models.TrackStatus) error
	FlagOrderTracks(ctx context.Context, storeID uint64, orderID, reason string) error
	RecordFailedTask(ctx context.Context, ft models.FailedTask) error
}

type Enqueuer interface {
	EnqueueIn(ctx context.Context, kind string, storeID uint64, orderID string, payload any, countdown time.Duration) (string, error)
	Retry(ctx context.Context, t messages.Task, countdown time.Duration, lastErr error) error
}

// Invalidator drops derived data made stale by a write. Optional.
type Invalidator interface {
	Invalidate(ctx context.Context, storeID uint64, orderID string, lineIDs ...string) error
}

type Config struct {
	LockTTL     time.Duration
	LockWait    time.Duration
	NoteLimit   int
	MaxAttempts int
	RetryStep   time.Duration
}

func (c Config) withDefaults() Config {
	if c.LockTTL <= 0 {
		c.LockTTL = 15 * time.Second
	}
	if c.LockWait <= 0 || c.LockWait > c.LockTTL {
		c.LockWait = c.LockTTL
	}
	if c.NoteLimit <= 0 {
		c.NoteLimit = 5000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryStep <= 0 {
		c.RetryStep = 30 * time.Second
	}
	return c
}

type Updater struct {
	fronts  Storefronts
	locker  cache.Locker
	tracks  TrackWriter
	queue   Enqueuer
	invalid []Invalidator
	cfg     Config
}

func New(fronts Storefronts, locker cache.Locker, tracks TrackWriter, queue Enqueuer, cfg Config, invalidators ...Invalidator) *Updater {
	return &Updater{
		fronts:  fronts,
		locker:  locker,
		tracks:  tracks,
		queue:   queue,
		invalid: invalidators,
		cfg:     cfg.withDefaults(),
	}
}

func lockName(storeID uint64, orderID string) string {
	return fmt.Sprintf("order-note:%d:%s", storeID, orderID)
}

// Save applies ch synchronously. The order's note lock is held for the whole
// read-append-write; a lock that cannot be taken within the wait bound yields
// LockTimeoutError.
func (u *Updater) Save(ctx context.Context, ch *Changes) error {
	if err := ch.validate(); err != nil {
		return err
	}
	if ch.Empty() {
		return nil
	}

	release, err := u.locker.Acquire(ctx, lockName(ch.StoreID, ch.OrderID), u.cfg.LockTTL, u.cfg.LockWait)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			slog.Warn("note lock release failed", "store_id", ch.StoreID, "order_id", ch.OrderID, "err", err)
		}
	}()

	client, err := u.fronts.ForStore(ctx, ch.StoreID)
	if err != nil {
		return err
	}

	if len(ch.Notes) > 0 {
		cur, err := client.GetNote(ctx, ch.StoreID, ch.OrderID)
		if err != nil {
			return err
		}
		next := AppendNotes(cur, ch.Notes, u.cfg.NoteLimit)
		if next != cur {
			if err := client.WriteNote(ctx, ch.StoreID, ch.OrderID, next); err != nil {
				return err
			}
		}
	}
	if len(ch.Tags) > 0 {
		if err := client.AddTags(ctx, ch.StoreID, ch.OrderID, ch.Tags); err != nil {
			return err
		}
	}
	if ch.Status != "" {
		if err := u.tracks.SetOrderStatus(ctx, ch.StoreID, ch.OrderID, ch.Status); err != nil {
			return err
		}
		u.invalidate(ctx, ch.StoreID, ch.OrderID)
	}

	slog.Info("order changes saved", "store_id", ch.StoreID, "order_id", ch.OrderID, "notes", len(ch.Notes), "tags", len(ch.Tags), "status", ch.Status)
	return nil
}

// AppendNotes appends each note on its own line, skipping notes whose lines
// are all already lines of the text, and caps the result at limit characters
// keeping the beginning.
func AppendNotes(cur string, notes []string, limit int) string {
	out := cur
	lines := map[string]struct{}{}
	addLines := func(s string) {
		for _, l := range strings.Split(s, "\n") {
			lines[strings.TrimSpace(l)] = struct{}{}
		}
	}
	addLines(cur)
	for _, n := range notes {
		n = strings.TrimSpace(n)
		if n == "" || hasLines(lines, n) {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += n
		addLines(n)
	}
	if limit > 0 && utf8.RuneCountInString(out) > limit {
		out = string([]rune(out)[:limit])
	}
	return out
}

func hasLines(lines map[string]struct{}, note string) bool {
	for _, l := range strings.Split(note, "\n") {
		if _, ok := lines[strings.TrimSpace(l)]; !ok {
			return false
		}
	}
	return true
}

// SaveDelayed enqueues ch for a worker and returns the task id immediately.
func (u *Updater) SaveDelayed(ctx context.Context, ch *Changes, countdown time.Duration) (string, error) {
	if err := ch.validate(); err != nil {
		return "", err
	}
	if ch.Empty() {
		return "", nil
	}
	return u.queue.EnqueueIn(ctx, messages.KindSaveChanges, ch.StoreID, ch.OrderID, ch.Message(), countdown)
}

// ScheduleShipment enqueues a storefront fulfillment write.
func (u *Updater) ScheduleShipment(ctx context.Context, s messages.Shipment, countdown time.Duration) (string, error) {
	if s.StoreID == 0 || s.OrderID == "" || len(s.LineIDs) == 0 {
		return "", models.NewValidationError("shipment", "store, order and lines are required")
	}
	return u.queue.EnqueueIn(ctx, messages.KindShipment, s.StoreID, s.OrderID, s, countdown)
}

// HandleShipment creates the storefront fulfillment. Lines that already carry
// a fulfillment with the same tracking number are skipped so a re-run is a
// no-op.
func (u *Updater) HandleShipment(ctx context.Context, s messages.Shipment) error {
	client, err := u.fronts.ForStore(ctx, s.StoreID)
	if err != nil {
		return err
	}
	o, err := client.FetchOrder(ctx, s.StoreID, s.OrderID)
	if err != nil {
		return err
	}

	var pending []string
	for _, id := range s.LineIDs {
		if f, ok := o.FulfillmentFor(id); ok && f.TrackingNumber == s.TrackingNumber {
			continue
		}
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return nil
	}

	fid, err := client.CreateFulfillment(ctx, s.StoreID, s.OrderID, storefront.FulfillmentInput{
		LineIDs:        pending,
		TrackingNumber: s.TrackingNumber,
		Carrier:        s.Carrier,
		NotifyCustomer: s.Notify,
	})
	if err != nil {
		return err
	}
	u.invalidate(ctx, s.StoreID, s.OrderID, pending...)
	slog.Info("fulfillment created", "store_id", s.StoreID, "order_id", s.OrderID, "fulfillment_id", fid, "lines", len(pending), "notify", s.Notify)
	return nil
}

func (u *Updater) invalidate(ctx context.Context, storeID uint64, orderID string, lineIDs ...string) {
	for _, inv := range u.invalid {
		if err := inv.Invalidate(ctx, storeID, orderID, lineIDs...); err != nil {
			slog.Warn("invalidate failed", "store_id", storeID, "order_id", orderID, "err", err)
		}
	}
}

// HandleTask runs one delayed task. Transient failures are re-enqueued with a
// countdown growing by RetryStep per attempt until MaxAttempts; after that,
// and for any other failure, the task is recorded for manual review and the
// order's tracks are flagged. The returned error is non-nil only when neither
// could be persisted.
func (u *Updater) HandleTask(ctx context.Context, t messages.Task) error {
	err := u.run(ctx, t)
	if err == nil {
		return nil
	}

	if models.IsTransient(err) && t.Attempt < u.cfg.MaxAttempts {
		countdown := u.cfg.RetryStep * time.Duration(t.Attempt)
		slog.Warn("task failed, retrying", "id", t.ID, "kind", t.Kind, "attempt", t.Attempt, "countdown", countdown, "err", err)
		return u.queue.Retry(ctx, t, countdown, err)
	}
	return u.fail(ctx, t, err)
}

func (u *Updater) run(ctx context.Context, t messages.Task) error {
	switch t.Kind {
	case messages.KindSaveChanges:
		var m messages.SaveChanges
		if err := json.Unmarshal(t.Payload, &m); err != nil {
			return models.NewValidationError("payload", err.Error())
		}
		return u.Save(ctx, ChangesFromMessage(m))
	case messages.KindShipment:
		var m messages.Shipment
		if err := json.Unmarshal(t.Payload, &m); err != nil {
			return models.NewValidationError("payload", err.Error())
		}
		return u.HandleShipment(ctx, m)
	}
	return models.NewValidationError("kind", "unknown task kind "+t.Kind)
}

func (u *Updater) fail(ctx context.Context, t messages.Task, cause error) error {
	var fatal *models.RemoteFatalError
	if errors.As(cause, &fatal) && fatal.Benign() {
		slog.Info("task dropped", "id", t.ID, "kind", t.Kind, "store_id", t.StoreID, "order_id", t.OrderID, "err", cause)
	} else {
		slog.Error("task failed permanently", "id", t.ID, "kind", t.Kind, "attempt", t.Attempt, "store_id", t.StoreID, "order_id", t.OrderID, "err", cause)
	}

	if err := u.tracks.RecordFailedTask(ctx, models.FailedTask{
		TaskID:    t.ID,
		Kind:      t.Kind,
		StoreID:   t.StoreID,
		OrderID:   t.OrderID,
		Payload:   t.Payload,
		LastError: cause.Error(),
		Attempts:  t.Attempt,
	}); err != nil {
		return errors.Wrap(err, "record failed task")
	}
	if t.StoreID != 0 && t.OrderID != "" {
		if err := u.tracks.FlagOrderTracks(ctx, t.StoreID, t.OrderID, cause.Error()); err != nil {
			return errors.Wrap(err, "flag tracks")
		}
	}
	return nil
}
