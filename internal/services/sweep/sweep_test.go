package sweep

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/FulfillBox/internal/broker/messages"
	"github.com/BearBump/FulfillBox/internal/integrations/supplier"
	spfake "github.com/BearBump/FulfillBox/internal/integrations/supplier/fake"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/services/statusupdater"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu      sync.Mutex
	claims  int
	due     []*models.OrderTrack
	all     []*models.OrderTrack
	updates []models.TrackStatusUpdate
}

func (r *fakeRepo) ClaimUnresolvedTracks(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OrderTrack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims++
	out := r.due
	r.due = nil
	return out, nil
}

func (r *fakeRepo) ApplyStatusUpdate(ctx context.Context, upd models.TrackStatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, upd)
	return nil
}

func (r *fakeRepo) ListTracks(ctx context.Context, storeID uint64, orderID string) ([]*models.OrderTrack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.OrderTrack
	for _, t := range r.all {
		if t.StoreID == storeID && t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeRepo) update(id uint64) (models.TrackStatusUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.updates {
		if u.TrackID == id {
			return u, true
		}
	}
	return models.TrackStatusUpdate{}, false
}

type stores map[uint64]*models.Store

func (s stores) GetStore(ctx context.Context, id uint64) (*models.Store, error) {
	st, ok := s[id]
	if !ok {
		return nil, models.NewNotFoundError("store", id)
	}
	return st, nil
}

type fakeWriteBack struct {
	mu        sync.Mutex
	shipments []messages.Shipment
	changes   []*statusupdater.Changes
}

func (w *fakeWriteBack) ScheduleShipment(ctx context.Context, s messages.Shipment, countdown time.Duration) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.shipments = append(w.shipments, s)
	return "s", nil
}

func (w *fakeWriteBack) SaveDelayed(ctx context.Context, ch *statusupdater.Changes, countdown time.Duration) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !ch.Empty() {
		w.changes = append(w.changes, ch)
	}
	return "n", nil
}

type failingSupplier struct {
	err error
}

func (f failingSupplier) PlaceOrder(ctx context.Context, req supplier.PurchaseRequest) (supplier.PlaceResult, error) {
	return supplier.PlaceResult{}, f.err
}

func (f failingSupplier) GetOrderStatus(ctx context.Context, id string) (supplier.OrderStatus, error) {
	return supplier.OrderStatus{}, f.err
}

type fakeRL struct {
	calls atomic.Int64
	keys  sync.Map
}

func (r *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	n := r.calls.Add(1)
	r.keys.Store(key, limit)
	return true, n, nil
}

type env struct {
	repo *fakeRepo
	sp   *spfake.FakeClient
	wb   *fakeWriteBack
	rl   *fakeRL
	st   stores
	s    *Sweeper
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		repo: &fakeRepo{},
		sp:   spfake.New(),
		wb:   &fakeWriteBack{},
		rl:   &fakeRL{},
		st: stores{1: {ID: 1, Active: true, AutoFulfill: true, Notification: models.NotificationConfig{
			SendShippingConfirmation: models.NotifyDefault,
		}}},
	}
	reg := supplier.NewRegistry().
		Register("fake", e.sp).
		Register("down", failingSupplier{&models.RemoteTransientError{Service: "supplier down", StatusCode: 503}})
	e.s = New(e.repo, e.st, reg, e.rl, e.wb).WithSettings(Settings{Concurrency: 2, MaxFailures: 3})
	return e
}

func track(id uint64, line, soid string) *models.OrderTrack {
	return &models.OrderTrack{ID: id, StoreID: 1, OrderID: "A", LineID: line, SupplierOrderID: soid, SupplierType: "fake", Status: models.TrackStatusOrdered}
}

func (e *env) run(tracks ...*models.OrderTrack) {
	e.repo.due = tracks
	e.repo.all = append(e.repo.all, tracks...)
	e.s.RunOnce(context.Background())
}

func TestSweep_ShippedSchedulesShipmentAndNote(t *testing.T) {
	e := newEnv(t)
	e.sp.SetStatus("S1", supplier.OrderStatus{StatusCode: spfake.CodeShipped, TrackingNumber: "LX123456789CN", Carrier: "China Post"})

	e.run(track(1, "L1", "S1"))

	upd, ok := e.repo.update(1)
	require.True(t, ok)
	require.Equal(t, models.TrackStatusShipped, upd.Status)
	require.Equal(t, "LX123456789CN", upd.TrackingNumber)
	require.True(t, upd.StatusChanged)
	require.Nil(t, upd.Error)

	require.Len(t, e.wb.shipments, 1)
	sh := e.wb.shipments[0]
	require.Equal(t, []string{"L1"}, sh.LineIDs)
	require.Equal(t, "China Post", sh.Carrier)
	require.True(t, sh.Notify)

	require.Len(t, e.wb.changes, 1)
	require.Equal(t, []string{"Tracking Number: LX123456789CN (China Post)"}, e.wb.changes[0].Notes)

	st := e.s.Stats()
	require.EqualValues(t, 1, st.TotalClaimed)
	require.EqualValues(t, 1, st.TotalProcessed)
	require.EqualValues(t, 1, st.TotalChanged)
	require.NotNil(t, st.LastCycleAt)

	var limit any
	e.rl.keys.Range(func(k, v any) bool { limit = v; return false })
	require.EqualValues(t, 120, limit)
}

func TestSweep_NotLastShipmentDoesNotNotify(t *testing.T) {
	e := newEnv(t)
	e.sp.SetStatus("S1", supplier.OrderStatus{StatusCode: spfake.CodeShipped, TrackingNumber: "LX123456789CN"})
	e.repo.all = []*models.OrderTrack{track(2, "L2", "S2")}

	e.run(track(1, "L1", "S1"))

	require.Len(t, e.wb.shipments, 1)
	require.False(t, e.wb.shipments[0].Notify)
}

func TestSweep_JoinedTokenMerges(t *testing.T) {
	e := newEnv(t)
	e.sp.SetStatus("S1", supplier.OrderStatus{StatusCode: spfake.CodeShipped, TrackingNumber: "LX123456789CN"})
	e.sp.SetStatus("S2", supplier.OrderStatus{StatusCode: spfake.CodePlaced})

	e.run(track(1, "L1", "S1,S2"))

	upd, _ := e.repo.update(1)
	require.Equal(t, models.TrackStatusPartiallyShipped, upd.Status)
	require.Equal(t, "LX123456789CN", upd.TrackingNumber)
	require.Equal(t, "shipped,placed", upd.StatusDetail)
}

func TestSweep_MixedSupplierToken(t *testing.T) {
	e := newEnv(t)
	other := spfake.New()
	e.s.suppliers = supplier.NewRegistry().Register("fake", e.sp).Register("fake2", other)
	e.s.WithSupplierKinds(map[string]string{"fake2": "fake"})
	e.sp.SetStatus("S1", supplier.OrderStatus{StatusCode: spfake.CodeShipped, TrackingNumber: "LX123456789CN"})
	other.SetStatus("S1", supplier.OrderStatus{StatusCode: spfake.CodeShipped, TrackingNumber: "LX987654321CN"})

	e.run(track(1, "L1", "S1,"+models.QualifySupplierOrderID("fake2", "S1")))

	upd, _ := e.repo.update(1)
	require.Equal(t, models.TrackStatusShipped, upd.Status)
	require.Equal(t, "LX123456789CN,LX987654321CN", upd.TrackingNumber)
}

func TestSweep_NoRegressionAndNoWriteBack(t *testing.T) {
	e := newEnv(t)
	e.sp.SetStatus("S1", supplier.OrderStatus{StatusCode: spfake.CodePlaced})
	e.sp.SetStatus("S2", supplier.OrderStatus{StatusCode: "teleported"})

	tr := track(1, "L1", "S1")
	tr.Status = models.TrackStatusPartiallyShipped
	e.run(tr, track(2, "L2", "S2"))

	upd, _ := e.repo.update(1)
	require.Equal(t, models.TrackStatusPartiallyShipped, upd.Status)
	require.False(t, upd.StatusChanged)

	upd, _ = e.repo.update(2)
	require.Equal(t, models.TrackStatusOrdered, upd.Status)
	require.Empty(t, e.wb.shipments)
	require.Empty(t, e.wb.changes)
	require.EqualValues(t, 0, e.s.Stats().TotalChanged)
}

func TestSweep_CancelledWritesNote(t *testing.T) {
	e := newEnv(t)
	e.sp.SetStatus("S1", supplier.OrderStatus{StatusCode: spfake.CodeCancelled})

	e.run(track(1, "L1", "S1"))

	upd, _ := e.repo.update(1)
	require.Equal(t, models.TrackStatusCancelled, upd.Status)
	require.Empty(t, e.wb.shipments)
	require.Len(t, e.wb.changes, 1)
	require.Equal(t, []string{"Supplier order S1 is cancelled"}, e.wb.changes[0].Notes)
}

func TestSweep_FailuresBackOffThenFlag(t *testing.T) {
	e := newEnv(t)

	tr := track(1, "L1", "S1")
	tr.SupplierType = "down"
	e.run(tr)

	upd, _ := e.repo.update(1)
	require.NotNil(t, upd.Error)
	require.Contains(t, *upd.Error, "503")
	require.False(t, upd.Flag)
	require.Equal(t, upd.CheckedAt.Add(5*time.Minute), upd.NextCheckAt)
	require.EqualValues(t, 1, e.s.Stats().TotalErrors)

	e.repo.updates = nil
	tr.CheckFailCount = 2
	e.run(tr)
	upd, _ = e.repo.update(1)
	require.True(t, upd.Flag)
}

func TestSweep_FatalFlagsImmediately(t *testing.T) {
	e := newEnv(t)
	e.sp.SetMissing("S1")

	e.run(track(1, "L1", "S1"))

	upd, _ := e.repo.update(1)
	require.NotNil(t, upd.Error)
	require.True(t, upd.Flag)
	require.Empty(t, e.wb.changes)
}

func TestSweep_BudgetStopsNewWork(t *testing.T) {
	e := newEnv(t)
	e.s.WithSettings(Settings{Budget: time.Minute})
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var calls atomic.Int64
	e.s.now = func() time.Time {
		if calls.Add(1) == 1 {
			return t0
		}
		return t0.Add(2 * time.Minute)
	}

	e.run(track(1, "L1", "S1"), track(2, "L2", "S2"))

	require.Empty(t, e.repo.updates)
	st := e.s.Stats()
	require.EqualValues(t, 2, st.TotalClaimed)
	require.EqualValues(t, 0, st.TotalProcessed)
	require.EqualValues(t, 2, st.TotalDeferred)
}

func TestSweep_SupplierRateLimitOverride(t *testing.T) {
	e := newEnv(t)
	e.s.WithSettings(Settings{SupplierRateLimits: map[string]int64{"fake": 7}})
	e.sp.SetStatus("S1", supplier.OrderStatus{StatusCode: spfake.CodePlaced})

	e.run(track(1, "L1", "S1"))

	require.EqualValues(t, 1, e.rl.calls.Load())
	e.rl.keys.Range(func(k, v any) bool {
		require.Contains(t, k, "rl:supplier:fake:")
		require.EqualValues(t, 7, v)
		return true
	})
}

func TestSweep_WithTranslations(t *testing.T) {
	e := newEnv(t)
	_, err := e.s.WithTranslations(map[string]map[string]string{"fake": {"teleported": "SHIPPED"}})
	require.NoError(t, err)
	e.sp.SetStatus("S1", supplier.OrderStatus{StatusCode: "teleported"})

	e.run(track(1, "L1", "S1"))

	upd, _ := e.repo.update(1)
	require.Equal(t, models.TrackStatusShipped, upd.Status)

	_, err = e.s.WithTranslations(map[string]map[string]string{"fake": {"x": "nowhere"}})
	require.Error(t, err)
}

func TestSweep_Run_StopsOnContextCancel(t *testing.T) {
	e := newEnv(t)
	e.s.WithSettings(Settings{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := e.s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	e.repo.mu.Lock()
	defer e.repo.mu.Unlock()
	require.GreaterOrEqual(t, e.repo.claims, 1)
}

func TestSweep_TriggerRunsCycle(t *testing.T) {
	e := newEnv(t)
	e.s.WithSettings(Settings{PollInterval: time.Hour})
	e.s.Trigger()
	e.s.Trigger()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = e.s.Run(ctx)

	e.repo.mu.Lock()
	defer e.repo.mu.Unlock()
	require.Equal(t, 1, e.repo.claims)
	require.NotNil(t, e.s.Stats().LastTriggerAt)
}
