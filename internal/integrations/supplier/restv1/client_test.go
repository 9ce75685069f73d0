package restv1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/FulfillBox/internal/integrations/supplier"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestClient_PlaceOrder_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/orders", r.URL.Path)
		require.Equal(t, "k", r.Header.Get("X-Api-Key"))

		var req supplier.PurchaseRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Items, 1)
		require.Equal(t, "SP-1", req.Items[0].SupplierProductID)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order_ids":["111","222"]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	res, err := c.PlaceOrder(context.Background(), supplier.PurchaseRequest{
		OrderID: "A",
		Items:   []supplier.PurchaseItem{{SupplierProductID: "SP-1", Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"111", "222"}, res.OrderIDs)
}

func TestClient_GetOrderStatus_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/orders/111", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order_id":"111","status":"WAIT_BUYER_ACCEPT_GOODS","tracking_number":"LX123456789CN","carrier":"China Post"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	st, err := c.GetOrderStatus(context.Background(), "111")
	require.NoError(t, err)
	require.Equal(t, "WAIT_BUYER_ACCEPT_GOODS", st.StatusCode)
	require.Equal(t, "LX123456789CN", st.TrackingNumber)
	require.Equal(t, "China Post", st.Carrier)
}

func TestClient_GetOrderStatus_429(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(429)
	}))
	defer srv.Close()

	c := New(srv.URL, "k").WithRetry(1, time.Millisecond)
	_, err := c.GetOrderStatus(context.Background(), "111")
	require.Error(t, err)
	require.True(t, errors.Is(err, models.ErrRemoteTransient))
	require.Equal(t, 2, calls)
}

func TestClient_GetOrderStatus_404IsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "k").GetOrderStatus(context.Background(), "111")
	require.True(t, errors.Is(err, models.ErrRemoteFatal))
}
