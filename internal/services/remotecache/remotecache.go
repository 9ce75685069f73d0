// Package remotecache keeps short-lived per-line facts fetched from storefront
// APIs. Entries are derived data: a miss is never an error, it just triggers a
// fetch.
package remotecache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/FulfillBox/internal/cache"
	"github.com/BearBump/FulfillBox/internal/integrations/storefront"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	// ImportTTL is used by bulk and queued flows.
	ImportTTL = 24 * time.Hour
	// ListingTTL is used by interactive listings.
	ListingTTL = 6 * time.Hour

	MaxBatch = 200
)

// Entry is what the cache knows about one order line.
type Entry struct {
	Quantity      int    `json:"quantity"`
	Shipped       int    `json:"shipped"`
	FulfillmentID string `json:"fulfillment_id,omitempty"`
	Country       string `json:"country,omitempty"`
}

type Storefronts interface {
	ForStore(ctx context.Context, storeID uint64) (storefront.Client, error)
}

type Cache struct {
	cache       cache.BytesCache
	fronts      Storefronts
	batch       int
	concurrency int
}

func New(c cache.BytesCache, fronts Storefronts, batch, concurrency int) *Cache {
	if batch <= 0 || batch > MaxBatch {
		batch = MaxBatch
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Cache{cache: c, fronts: fronts, batch: batch, concurrency: concurrency}
}

func Key(storeID uint64, orderID, lineID string) string {
	return fmt.Sprintf("remote:%d:%s:%s", storeID, orderID, lineID)
}

// entriesFor fans an order out into per-line entries.
func entriesFor(o *models.Order) map[string]Entry {
	out := make(map[string]Entry, len(o.Lines))
	for _, l := range o.Lines {
		e := Entry{Quantity: l.Quantity, Shipped: l.Shipped, Country: o.Address.CountryCode}
		if f, ok := o.FulfillmentFor(l.ID); ok {
			e.FulfillmentID = f.ID
		}
		out[Key(o.StoreID, o.ID, l.ID)] = e
	}
	return out
}

func encode(entries map[string]Entry) (map[string][]byte, error) {
	out := make(map[string][]byte, len(entries))
	for k, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return nil, errors.Wrap(err, "marshal entry")
		}
		out[k] = b
	}
	return out, nil
}

// Prefetch loads the orders of the given tracks with one batched search per
// store and up to MaxBatch ids per call, then writes all line entries in one
// pipelined round trip. A store that fails to load is logged and skipped.
func (c *Cache) Prefetch(ctx context.Context, tracks []*models.OrderTrack, ttl time.Duration) (int, error) {
	byStore := map[uint64][]string{}
	seen := map[string]struct{}{}
	for _, t := range tracks {
		k := fmt.Sprintf("%d/%s", t.StoreID, t.OrderID)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		byStore[t.StoreID] = append(byStore[t.StoreID], t.OrderID)
	}

	var (
		mu      sync.Mutex
		entries = map[string]Entry{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for storeID, orderIDs := range byStore {
		g.Go(func() error {
			client, err := c.fronts.ForStore(gctx, storeID)
			if err != nil {
				slog.Warn("prefetch: no storefront", "store_id", storeID, "err", err)
				return nil
			}
			for start := 0; start < len(orderIDs); start += c.batch {
				end := min(start+c.batch, len(orderIDs))
				orders, err := client.SearchOrders(gctx, storeID, orderIDs[start:end])
				if err != nil {
					slog.Warn("prefetch: search failed", "store_id", storeID, "batch", end-start, "err", err)
					return nil
				}
				mu.Lock()
				for _, o := range orders {
					if o.StoreID == 0 {
						o.StoreID = storeID
					}
					for k, e := range entriesFor(o) {
						entries[k] = e
					}
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	raw, err := encode(entries)
	if err != nil {
		return 0, err
	}
	if err := c.cache.SetMany(ctx, raw, ttl); err != nil {
		return 0, err
	}
	slog.Debug("prefetch done", "stores", len(byStore), "entries", len(entries))
	return len(entries), nil
}

// Get returns the entry for the line. A miss fetches the order synchronously
// and repopulates every line of it. found is false when the order has no such
// line.
func (c *Cache) Get(ctx context.Context, storeID uint64, orderID, lineID string, ttl time.Duration) (Entry, bool, error) {
	key := Key(storeID, orderID, lineID)
	b, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("remote cache get failed", "key", key, "err", err)
	}
	if err == nil && ok {
		var e Entry
		if json.Unmarshal(b, &e) == nil {
			return e, true, nil
		}
	}

	o, err := c.refresh(ctx, storeID, orderID, ttl)
	if err != nil {
		return Entry{}, false, err
	}
	e, found := entriesFor(o)[key]
	return e, found, nil
}

func (c *Cache) refresh(ctx context.Context, storeID uint64, orderID string, ttl time.Duration) (*models.Order, error) {
	client, err := c.fronts.ForStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	o, err := client.FetchOrder(ctx, storeID, orderID)
	if err != nil {
		return nil, err
	}
	if o.StoreID == 0 {
		o.StoreID = storeID
	}
	raw, err := encode(entriesFor(o))
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetMany(ctx, raw, ttl); err != nil {
		slog.Warn("remote cache populate failed", "store_id", storeID, "order_id", orderID, "err", err)
	}
	return o, nil
}

func (c *Cache) Invalidate(ctx context.Context, storeID uint64, orderID string, lineIDs ...string) error {
	if len(lineIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(lineIDs))
	for _, l := range lineIDs {
		keys = append(keys, Key(storeID, orderID, l))
	}
	return c.cache.Delete(ctx, keys...)
}

// DeleteEmptyFulfillment removes the line's remote fulfillment when it covers
// zero items and drops the cached entries it made stale. It reports whether a
// fulfillment was deleted.
func (c *Cache) DeleteEmptyFulfillment(ctx context.Context, storeID uint64, orderID, lineID string) (bool, error) {
	client, err := c.fronts.ForStore(ctx, storeID)
	if err != nil {
		return false, err
	}
	o, err := client.FetchOrder(ctx, storeID, orderID)
	if err != nil {
		return false, err
	}
	f, ok := o.FulfillmentFor(lineID)
	if !ok || f.Quantity != 0 {
		return false, nil
	}
	if err := client.DeleteFulfillment(ctx, storeID, orderID, f.ID); err != nil {
		return false, err
	}
	if err := c.Invalidate(ctx, storeID, orderID, f.LineIDs...); err != nil {
		return true, err
	}
	slog.Info("deleted empty fulfillment", "store_id", storeID, "order_id", orderID, "fulfillment_id", f.ID)
	return true, nil
}
