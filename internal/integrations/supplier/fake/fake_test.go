package fake

import (
	"context"
	"testing"

	"github.com/BearBump/FulfillBox/internal/integrations/supplier"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestFakeClient_PlaceOrder_Stable(t *testing.T) {
	c := New()
	req := supplier.PurchaseRequest{StoreID: 1, OrderID: "A", SupplierID: 3}
	r1, err := c.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	r2, err := c.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, r1, r2)
	require.Len(t, c.Placed(), 2)
}

func TestFakeClient_GetOrderStatus(t *testing.T) {
	c := New()
	st, err := c.GetOrderStatus(context.Background(), "X1")
	require.NoError(t, err)
	require.NotEmpty(t, st.StatusCode)

	c.SetStatus("X1", supplier.OrderStatus{StatusCode: CodeCancelled})
	st, err = c.GetOrderStatus(context.Background(), "X1")
	require.NoError(t, err)
	require.Equal(t, CodeCancelled, st.StatusCode)

	c.SetMissing("X2")
	_, err = c.GetOrderStatus(context.Background(), "X2")
	require.True(t, errors.Is(err, models.ErrRemoteFatal))
}
