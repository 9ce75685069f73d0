package supplier

import (
	"context"
	"sort"
	"sync"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/shopspring/decimal"
)

type PurchaseItem struct {
	LineID            string          `json:"line_id"`
	SupplierProductID string          `json:"supplier_product_id"`
	VariantID         string          `json:"variant_id"`
	Quantity          int             `json:"quantity"`
	SKU               string          `json:"sku"`
	Attributes        string          `json:"attributes,omitempty"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
}

// PurchaseRequest is one supplier purchase covering every line of an order
// that the same supplier fulfills.
type PurchaseRequest struct {
	StoreID        uint64         `json:"store_id"`
	OrderID        string         `json:"order_id"`
	SupplierID     uint64         `json:"supplier_id"`
	SupplierType   string         `json:"supplier_type"`
	Items          []PurchaseItem `json:"items"`
	Address        models.Address `json:"shipping_address"`
	ShippingMethod string         `json:"shipping_method,omitempty"`
	Memo           string         `json:"memo,omitempty"`
}

// DeclaredValue is the sum of quantity * unit price over all items.
func (r PurchaseRequest) DeclaredValue() decimal.Decimal {
	total := decimal.Zero
	for _, it := range r.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

type PlaceResult struct {
	OrderIDs []string
}

// OrderStatus is the supplier's view of one placed order, in its own vocabulary.
type OrderStatus struct {
	StatusCode     string
	TrackingNumber string
	Carrier        string
	Detail         string
}

type Client interface {
	PlaceOrder(ctx context.Context, req PurchaseRequest) (PlaceResult, error)
	GetOrderStatus(ctx context.Context, supplierOrderID string) (OrderStatus, error)
}

// Registry maps a supplier type to its adapter.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]Client{}}
}

func (r *Registry) Register(supplierType string, c Client) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[supplierType] = c
	return r
}

func (r *Registry) Get(supplierType string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.m[supplierType]
	if !ok {
		return nil, models.NewNotFoundError("supplier adapter", supplierType)
	}
	return c, nil
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
