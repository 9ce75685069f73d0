package pgtrack

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "fulfillbox_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/fulfillbox_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestPGTrack_RepoFlow(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	store, err := st.CreateStore(ctx, models.Store{Platform: "restv1", Active: true, AutoFulfill: true})
	require.NoError(t, err)
	require.Equal(t, models.NotifyDefault, store.Notification.SendShippingConfirmation)

	// create is idempotent on (store, order, line)
	in := models.LinkInput{StoreID: store.ID, OrderID: "1001", LineID: "L1", SupplierOrderID: "S-1", SupplierType: "fake"}
	first, err := st.CreateTrack(ctx, in)
	require.NoError(t, err)
	require.Equal(t, models.TrackStatusOrdered, first.Status)

	in.SupplierOrderID = "S-other"
	again, err := st.CreateTrack(ctx, in)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, "S-1", again.SupplierOrderID)

	// guarded set only applies when the current value matches
	empty := ""
	_, updated, err := st.SetSupplierOrderID(ctx, first.ID, "S-2", "", &empty)
	require.NoError(t, err)
	require.False(t, updated)

	cur := "S-1"
	got, updated, err := st.SetSupplierOrderID(ctx, first.ID, "S-2", "", &cur)
	require.NoError(t, err)
	require.True(t, updated)
	require.Equal(t, "S-2", got.SupplierOrderID)
	require.Equal(t, "fake", got.SupplierType)

	bySupplier, err := st.FindTracksBySupplierOrderID(ctx, store.ID, "S-2")
	require.NoError(t, err)
	require.Len(t, bySupplier, 1)

	// second track is not due yet
	other, err := st.CreateTrack(ctx, models.LinkInput{StoreID: store.ID, OrderID: "1002", LineID: "L1", SupplierOrderID: "S-3"})
	require.NoError(t, err)
	_, err = st.db.Exec(ctx, `UPDATE order_tracks SET next_check_at = now() - interval '1 minute' WHERE id = $1`, first.ID)
	require.NoError(t, err)
	_, err = st.db.Exec(ctx, `UPDATE order_tracks SET next_check_at = now() + interval '1 hour' WHERE id = $1`, other.ID)
	require.NoError(t, err)

	now := time.Now().UTC()
	lease := 10 * time.Second
	due, err := st.ClaimUnresolvedTracks(ctx, now, 10, lease)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, first.ID, due[0].ID)
	require.WithinDuration(t, now.Add(lease), due[0].NextCheckAt, 2*time.Second)

	// leased: a second claim sees nothing
	due, err = st.ClaimUnresolvedTracks(ctx, now, 10, lease)
	require.NoError(t, err)
	require.Empty(t, due)

	require.NoError(t, st.ApplyStatusUpdate(ctx, models.TrackStatusUpdate{
		TrackID:        first.ID,
		CheckedAt:      now,
		Status:         models.TrackStatusShipped,
		StatusDetail:   "SHIPPED",
		TrackingNumber: "LX123456789CN",
		StatusChanged:  true,
		NextCheckAt:    now.Add(time.Hour),
	}))
	got, err = st.GetTrack(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, models.TrackStatusShipped, got.Status)
	require.Equal(t, "LX123456789CN", got.TrackingNumber)
	require.EqualValues(t, 1, got.CheckCount)
	require.NotNil(t, got.StatusUpdatedAt)

	msg := "supplier: transient http 502"
	require.NoError(t, st.ApplyStatusUpdate(ctx, models.TrackStatusUpdate{TrackID: other.ID, Error: &msg, NextCheckAt: now}))
	got, err = st.GetTrack(ctx, other.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, got.CheckFailCount)
	require.Equal(t, msg, *got.LastError)
	require.False(t, got.Flagged)

	require.NoError(t, st.ApplyStatusUpdate(ctx, models.TrackStatusUpdate{TrackID: other.ID, Error: &msg, NextCheckAt: now, Flag: true}))
	got, err = st.GetTrack(ctx, other.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, got.CheckFailCount)
	require.True(t, got.Flagged)

	// flagged tracks leave the sweep
	require.NoError(t, st.FlagOrderTracks(ctx, store.ID, "1002", "retries exhausted"))
	due, err = st.ClaimUnresolvedTracks(ctx, now.Add(2*time.Hour), 10, lease)
	require.NoError(t, err)
	require.Empty(t, due)

	require.NoError(t, st.RecordFailedTask(ctx, models.FailedTask{
		TaskID: "t-1", Kind: "save_changes", StoreID: store.ID, OrderID: "1002",
		Payload: []byte(`{"notes":["x"]}`), LastError: "boom", Attempts: 3,
	}))
	failed, err := st.ListFailedTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.JSONEq(t, `{"notes":["x"]}`, string(failed[0].Payload))

	require.NoError(t, st.DeleteTracks(ctx, []uint64{first.ID, other.ID}))
	list, err := st.ListTracks(ctx, store.ID, "")
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = st.GetTrack(ctx, first.ID)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestPGTrack_Catalog(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	store, err := st.CreateStore(ctx, models.Store{Platform: "restv1", Active: true})
	require.NoError(t, err)
	product, err := st.CreateProduct(ctx, models.Product{StoreID: store.ID, Title: "Mug"})
	require.NoError(t, err)

	a, err := st.CreateSupplier(ctx, models.Supplier{ProductID: product.ID, StoreID: store.ID, Type: "fake", IsDefault: true})
	require.NoError(t, err)
	b, err := st.CreateSupplier(ctx, models.Supplier{ProductID: product.ID, StoreID: store.ID, Type: "fake"})
	require.NoError(t, err)

	def, err := st.GetDefaultSupplier(ctx, product.ID)
	require.NoError(t, err)
	require.Equal(t, a.ID, def.ID)

	require.NoError(t, st.SetDefaultSupplier(ctx, product.ID, b.ID))
	suppliers, err := st.ListProductSuppliers(ctx, product.ID)
	require.NoError(t, err)
	defaults := 0
	for _, sp := range suppliers {
		if sp.IsDefault {
			defaults++
			require.Equal(t, b.ID, sp.ID)
		}
	}
	require.Equal(t, 1, defaults)

	require.ErrorIs(t, st.SetDefaultSupplier(ctx, product.ID, 999999), models.ErrNotFound)

	require.NoError(t, st.PutVariantRemap(ctx, store.ID, product.ID, "10", "11"))
	realID, err := st.GetVariantRemap(ctx, store.ID, product.ID, "10")
	require.NoError(t, err)
	require.Equal(t, "11", realID)
	realID, err = st.GetVariantRemap(ctx, store.ID, product.ID, "12")
	require.NoError(t, err)
	require.Empty(t, realID)

	require.NoError(t, st.PutSupplierAssignment(ctx, product.ID, "11", a.ID))
	assigned, err := st.GetSupplierAssignment(ctx, product.ID, "11")
	require.NoError(t, err)
	require.Equal(t, a.ID, assigned)

	require.NoError(t, st.PutVariantMapping(ctx, models.VariantMapping{
		SupplierID: a.ID, VariantID: "11",
		Options: []models.VariantOption{{Title: "Red", SKU: "R"}, {Title: "XL", SKU: "XL"}},
	}))
	vm, err := st.GetVariantMapping(ctx, a.ID, "11")
	require.NoError(t, err)
	require.Len(t, vm.Options, 2)
	require.Equal(t, models.MappingSchemaVersion, vm.SchemaVersion)

	require.NoError(t, st.PutShippingMapping(ctx, models.ShippingMapping{
		SupplierID: a.ID, VariantID: "11",
		Methods: []models.ShippingMethod{{CountryCode: "GB", MethodName: "Royal Mail"}},
	}))
	sm, err := st.GetShippingMapping(ctx, a.ID, "11")
	require.NoError(t, err)
	require.Equal(t, "Royal Mail", sm.Methods[0].MethodName)

	missing, err := st.GetShippingMapping(ctx, b.ID, "11")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, st.PutBundleComponents(ctx, product.ID, "20", []models.BundleComponent{
		{ProductID: product.ID, VariantID: "11", Quantity: 2},
		{ProductID: product.ID, VariantID: "12", Quantity: 1},
	}))
	comps, err := st.GetBundleComponents(ctx, product.ID, "20")
	require.NoError(t, err)
	require.Len(t, comps, 2)
	require.Equal(t, "11", comps[0].VariantID)
	require.Equal(t, 2, comps[0].Quantity)
}
