package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BearBump/FulfillBox/internal/integrations/storefront"
	"github.com/BearBump/FulfillBox/internal/models"
)

type key struct {
	store uint64
	order string
}

// FakeClient is an in-memory storefront used by tests and the local demo.
type FakeClient struct {
	mu        sync.Mutex
	orders    map[key]*models.Order
	nextFulID int

	// WriteDelay widens the read-modify-write window of a note update.
	WriteDelay time.Duration
	// next failWrites note writes fail with failErr
	failWrites int
	failErr    error

	searchCalls int
	fetchCalls  int
	created     []storefront.FulfillmentInput
}

func New() *FakeClient {
	return &FakeClient{orders: map[key]*models.Order{}}
}

func (f *FakeClient) PutOrder(o *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[key{o.StoreID, o.ID}] = clone(o)
}

func clone(o *models.Order) *models.Order {
	cp := *o
	cp.Tags = append([]string(nil), o.Tags...)
	cp.Lines = append([]models.LineItem(nil), o.Lines...)
	cp.Shipping = append([]models.Fulfillment(nil), o.Shipping...)
	return &cp
}

func (f *FakeClient) FailNextWrites(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites = n
	f.failErr = err
}

func (f *FakeClient) Note(storeID uint64, orderID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[key{storeID, orderID}]; ok {
		return o.Note
	}
	return ""
}

func (f *FakeClient) Tags(storeID uint64, orderID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[key{storeID, orderID}]; ok {
		return append([]string(nil), o.Tags...)
	}
	return nil
}

func (f *FakeClient) Created() []storefront.FulfillmentInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storefront.FulfillmentInput(nil), f.created...)
}

func (f *FakeClient) Calls() (fetch, search int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls, f.searchCalls
}

func (f *FakeClient) FetchOrder(ctx context.Context, storeID uint64, orderID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	o, ok := f.orders[key{storeID, orderID}]
	if !ok {
		return nil, &models.RemoteFatalError{Service: "storefront fake", StatusCode: 404}
	}
	return clone(o), nil
}

func (f *FakeClient) SearchOrders(ctx context.Context, storeID uint64, orderIDs []string) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	var out []*models.Order
	for _, id := range orderIDs {
		if o, ok := f.orders[key{storeID, id}]; ok {
			out = append(out, clone(o))
		}
	}
	return out, nil
}

func (f *FakeClient) GetNote(ctx context.Context, storeID uint64, orderID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[key{storeID, orderID}]
	if !ok {
		return "", &models.RemoteFatalError{Service: "storefront fake", StatusCode: 404}
	}
	return o.Note, nil
}

func (f *FakeClient) WriteNote(ctx context.Context, storeID uint64, orderID, note string) error {
	if f.WriteDelay > 0 {
		time.Sleep(f.WriteDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites > 0 {
		f.failWrites--
		return f.failErr
	}
	o, ok := f.orders[key{storeID, orderID}]
	if !ok {
		return &models.RemoteFatalError{Service: "storefront fake", StatusCode: 404}
	}
	o.Note = note
	return nil
}

func (f *FakeClient) AddTags(ctx context.Context, storeID uint64, orderID string, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[key{storeID, orderID}]
	if !ok {
		return &models.RemoteFatalError{Service: "storefront fake", StatusCode: 404}
	}
	have := map[string]struct{}{}
	for _, t := range o.Tags {
		have[t] = struct{}{}
	}
	for _, t := range tags {
		if _, ok := have[t]; !ok {
			o.Tags = append(o.Tags, t)
			have[t] = struct{}{}
		}
	}
	return nil
}

func (f *FakeClient) CreateFulfillment(ctx context.Context, storeID uint64, orderID string, in storefront.FulfillmentInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[key{storeID, orderID}]
	if !ok {
		return "", &models.RemoteFatalError{Service: "storefront fake", StatusCode: 404}
	}
	f.nextFulID++
	id := fmt.Sprintf("F%d", f.nextFulID)
	qty := 0
	for i, l := range o.Lines {
		for _, lid := range in.LineIDs {
			if l.ID == lid {
				qty += l.Quantity - l.Shipped
				o.Lines[i].Shipped = l.Quantity
			}
		}
	}
	o.Shipping = append(o.Shipping, models.Fulfillment{
		ID:             id,
		LineIDs:        in.LineIDs,
		Quantity:       qty,
		TrackingNumber: in.TrackingNumber,
		Carrier:        in.Carrier,
	})
	f.created = append(f.created, in)
	return id, nil
}

func (f *FakeClient) DeleteFulfillment(ctx context.Context, storeID uint64, orderID, fulfillmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[key{storeID, orderID}]
	if !ok {
		return &models.RemoteFatalError{Service: "storefront fake", StatusCode: 404}
	}
	for i, s := range o.Shipping {
		if s.ID == fulfillmentID {
			o.Shipping = append(o.Shipping[:i], o.Shipping[i+1:]...)
			return nil
		}
	}
	return &models.RemoteFatalError{Service: "storefront fake", StatusCode: 404}
}
