// Package storefront is the capability interface every storefront platform
// adapter implements. Reconciliation code only talks to Client.
package storefront

import (
	"context"
	"sort"
	"sync"

	"github.com/BearBump/FulfillBox/internal/models"
)

type FulfillmentInput struct {
	LineIDs        []string `json:"line_ids"`
	TrackingNumber string   `json:"tracking_number"`
	Carrier        string   `json:"carrier,omitempty"`
	NotifyCustomer bool     `json:"notify_customer"`
}

type Client interface {
	FetchOrder(ctx context.Context, storeID uint64, orderID string) (*models.Order, error)
	SearchOrders(ctx context.Context, storeID uint64, orderIDs []string) ([]*models.Order, error)
	GetNote(ctx context.Context, storeID uint64, orderID string) (string, error)
	WriteNote(ctx context.Context, storeID uint64, orderID, note string) error
	AddTags(ctx context.Context, storeID uint64, orderID string, tags []string) error
	CreateFulfillment(ctx context.Context, storeID uint64, orderID string, in FulfillmentInput) (string, error)
	DeleteFulfillment(ctx context.Context, storeID uint64, orderID, fulfillmentID string) error
}

// Registry maps a store platform name to its adapter.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]Client{}}
}

func (r *Registry) Register(platform string, c Client) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[platform] = c
	return r
}

func (r *Registry) Get(platform string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.m[platform]
	if !ok {
		return nil, models.NewNotFoundError("storefront adapter", platform)
	}
	return c, nil
}

func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type StoreGetter interface {
	GetStore(ctx context.Context, id uint64) (*models.Store, error)
}

// Directory picks the adapter for a store by the store's platform.
type Directory struct {
	stores StoreGetter
	reg    *Registry
}

func NewDirectory(stores StoreGetter, reg *Registry) *Directory {
	return &Directory{stores: stores, reg: reg}
}

func (d *Directory) ForStore(ctx context.Context, storeID uint64) (Client, error) {
	st, err := d.stores.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return d.reg.Get(st.Platform)
}
