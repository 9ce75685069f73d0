package remotecache

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/FulfillBox/internal/cache/rediscache"
	"github.com/BearBump/FulfillBox/internal/integrations/storefront"
	sffake "github.com/BearBump/FulfillBox/internal/integrations/storefront/fake"
	"github.com/BearBump/FulfillBox/internal/models"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

type oneFront struct {
	c storefront.Client
}

func (o oneFront) ForStore(ctx context.Context, storeID uint64) (storefront.Client, error) {
	return o.c, nil
}

func setup(t *testing.T) (*Cache, *sffake.FakeClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	front := sffake.New()
	c := New(rediscache.New(mr.Addr()), oneFront{front}, 2, 2)
	return c, front, mr
}

func order(store uint64, id string, lines ...string) *models.Order {
	o := &models.Order{ID: id, StoreID: store, Address: models.Address{CountryCode: "US"}}
	for _, l := range lines {
		o.Lines = append(o.Lines, models.LineItem{ID: l, Quantity: 2})
	}
	return o
}

func TestPrefetch_BatchesPerStore(t *testing.T) {
	c, front, mr := setup(t)
	ctx := context.Background()

	var tracks []*models.OrderTrack
	for _, id := range []string{"A", "B", "C"} {
		front.PutOrder(order(1, id, "L1", "L2"))
		tracks = append(tracks, &models.OrderTrack{StoreID: 1, OrderID: id, LineID: "L1"})
		tracks = append(tracks, &models.OrderTrack{StoreID: 1, OrderID: id, LineID: "L2"})
	}
	front.PutOrder(order(2, "Z", "L1"))
	tracks = append(tracks, &models.OrderTrack{StoreID: 2, OrderID: "Z", LineID: "L1"})

	n, err := c.Prefetch(ctx, tracks, ImportTTL)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	// 3 orders in batches of 2 for store 1, one batch for store 2
	fetch, search := front.Calls()
	require.Equal(t, 0, fetch)
	require.Equal(t, 3, search)

	require.True(t, mr.Exists(Key(1, "A", "L2")))
	require.Equal(t, ImportTTL, mr.TTL(Key(2, "Z", "L1")))

	e, found, err := c.Get(ctx, 1, "B", "L1", ListingTTL)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, Entry{Quantity: 2, Country: "US"}, e)

	fetch, _ = front.Calls()
	require.Equal(t, 0, fetch)
}

func TestGet_MissFetchesAndExpires(t *testing.T) {
	c, front, mr := setup(t)
	ctx := context.Background()
	o := order(1, "A", "L1")
	o.Shipping = []models.Fulfillment{{ID: "F1", LineIDs: []string{"L1"}, Quantity: 2}}
	front.PutOrder(o)

	e, found, err := c.Get(ctx, 1, "A", "L1", time.Second)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "F1", e.FulfillmentID)

	_, _, err = c.Get(ctx, 1, "A", "L1", time.Second)
	require.NoError(t, err)
	fetch, _ := front.Calls()
	require.Equal(t, 1, fetch)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists(Key(1, "A", "L1")))

	_, found, err = c.Get(ctx, 1, "A", "L1", time.Second)
	require.NoError(t, err)
	require.True(t, found)
	fetch, _ = front.Calls()
	require.Equal(t, 2, fetch)

	_, found, err = c.Get(ctx, 1, "A", "nope", time.Second)
	require.NoError(t, err)
	require.False(t, found)
}

func TestGet_RemoteErrorSurfaces(t *testing.T) {
	c, _, _ := setup(t)
	_, _, err := c.Get(context.Background(), 1, "missing", "L1", time.Minute)
	require.ErrorIs(t, err, models.ErrRemoteFatal)
}

func TestDeleteEmptyFulfillment(t *testing.T) {
	c, front, mr := setup(t)
	ctx := context.Background()
	o := order(1, "A", "L1", "L2")
	o.Shipping = []models.Fulfillment{
		{ID: "F0", LineIDs: []string{"L1"}, Quantity: 0},
		{ID: "F1", LineIDs: []string{"L2"}, Quantity: 2},
	}
	front.PutOrder(o)

	_, _, err := c.Get(ctx, 1, "A", "L1", ListingTTL)
	require.NoError(t, err)
	require.True(t, mr.Exists(Key(1, "A", "L1")))

	deleted, err := c.DeleteEmptyFulfillment(ctx, 1, "A", "L2")
	require.NoError(t, err)
	require.False(t, deleted)

	deleted, err = c.DeleteEmptyFulfillment(ctx, 1, "A", "L1")
	require.NoError(t, err)
	require.True(t, deleted)
	require.False(t, mr.Exists(Key(1, "A", "L1")))
	require.True(t, mr.Exists(Key(1, "A", "L2")))

	e, _, err := c.Get(ctx, 1, "A", "L1", ListingTTL)
	require.NoError(t, err)
	require.Empty(t, e.FulfillmentID)
}
