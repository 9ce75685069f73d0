package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/BearBump/FulfillBox/internal/integrations/supplier"
	"github.com/BearBump/FulfillBox/internal/models"
)

// Status codes in the fake supplier's vocabulary.
const (
	CodePlaced    = "placed"
	CodeShipped   = "shipped"
	CodeCancelled = "cancelled"
)

// FakeClient is an in-memory supplier. Placed order ids are derived from the
// order id and supplier so repeated placements are stable; statuses default to
// a deterministic hash-based value until overridden with SetStatus.
type FakeClient struct {
	mu       sync.Mutex
	statuses map[string]supplier.OrderStatus
	placed   []supplier.PurchaseRequest
	placeErr error
}

func New() *FakeClient {
	return &FakeClient{statuses: map[string]supplier.OrderStatus{}}
}

func (f *FakeClient) PlaceOrder(ctx context.Context, req supplier.PurchaseRequest) (supplier.PlaceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return supplier.PlaceResult{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	id := fmt.Sprintf("F%d", hash(fmt.Sprintf("%d|%s|%d", req.StoreID, req.OrderID, req.SupplierID))%1_000_000_000)
	return supplier.PlaceResult{OrderIDs: []string{id}}, nil
}

func (f *FakeClient) GetOrderStatus(ctx context.Context, supplierOrderID string) (supplier.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.statuses[supplierOrderID]; ok {
		return st, nil
	}
	if _, ok := f.statuses[supplierOrderID+"!missing"]; ok {
		return supplier.OrderStatus{}, &models.RemoteFatalError{Service: "supplier fake", StatusCode: 404}
	}

	// 20% of orders report as shipped
	v := hash(supplierOrderID)
	if v%5 == 0 {
		return supplier.OrderStatus{
			StatusCode:     CodeShipped,
			TrackingNumber: fmt.Sprintf("LX%09dCN", v%1_000_000_000),
			Carrier:        "China Post",
		}, nil
	}
	return supplier.OrderStatus{StatusCode: CodePlaced}, nil
}

func (f *FakeClient) SetStatus(supplierOrderID string, st supplier.OrderStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[supplierOrderID] = st
}

// SetMissing makes GetOrderStatus answer 404 for the id.
func (f *FakeClient) SetMissing(supplierOrderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[supplierOrderID+"!missing"] = supplier.OrderStatus{}
}

func (f *FakeClient) FailPlacement(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeErr = err
}

func (f *FakeClient) Placed() []supplier.PurchaseRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]supplier.PurchaseRequest(nil), f.placed...)
}

func hash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
