// Package sweep periodically polls suppliers for tracks that have no
// tracking number yet and moves them forward through the track state machine.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/FulfillBox/internal/broker/messages"
	"github.com/BearBump/FulfillBox/internal/integrations/supplier"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/services/notify"
	"github.com/BearBump/FulfillBox/internal/services/statusupdater"
	"github.com/pkg/errors"
)

type Repository interface {
	ClaimUnresolvedTracks(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OrderTrack, error)
	ApplyStatusUpdate(ctx context.Context, upd models.TrackStatusUpdate) error
	ListTracks(ctx context.Context, storeID uint64, orderID string) ([]*models.OrderTrack, error)
}

type StoreGetter interface {
	GetStore(ctx context.Context, id uint64) (*models.Store, error)
}

type Suppliers interface {
	Get(supplierType string) (supplier.Client, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// WriteBack schedules storefront updates for a changed track.
type WriteBack interface {
	ScheduleShipment(ctx context.Context, s messages.Shipment, countdown time.Duration) (string, error)
	SaveDelayed(ctx context.Context, ch *statusupdater.Changes, countdown time.Duration) (string, error)
}

type Settings struct {
	PollInterval       time.Duration
	BatchSize          int
	Concurrency        int
	Lease              time.Duration
	Budget             time.Duration
	RateLimitPerMinute int64
	// SupplierRateLimits overrides RateLimitPerMinute per supplier type.
	SupplierRateLimits map[string]int64
	MaxFailures        int32
	WriteBackDelay     time.Duration
}

type Sweeper struct {
	repo      Repository
	stores    StoreGetter
	suppliers Suppliers
	rl        RateLimiter
	writeBack WriteBack

	planner      *Planner
	translations Translations

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	budget             time.Duration
	rateLimitPerMinute int64
	supplierRateLimits map[string]int64
	maxFailures        int32
	writeBackDelay     time.Duration

	now       func() time.Time
	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalChanged        atomic.Int64
	totalErrors         atomic.Int64
	totalDeferred       atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, stores StoreGetter, suppliers Suppliers, rl RateLimiter, wb WriteBack) *Sweeper {
	return &Sweeper{
		repo:               repo,
		stores:             stores,
		suppliers:          suppliers,
		rl:                 rl,
		writeBack:          wb,
		planner:            NewPlanner(DefaultPlannerConfig(), nil),
		translations:       DefaultTranslations(),
		pollInterval:       time.Minute,
		batchSize:          100,
		concurrency:        8,
		lease:              5 * time.Minute,
		budget:             4 * time.Minute,
		rateLimitPerMinute: 120,
		supplierRateLimits: map[string]int64{},
		maxFailures:        5,
		writeBackDelay:     5 * time.Second,
		now:                func() time.Time { return time.Now().UTC() },
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (s *Sweeper) WithSettings(st Settings) *Sweeper {
	if st.PollInterval > 0 {
		s.pollInterval = st.PollInterval
	}
	if st.BatchSize > 0 {
		s.batchSize = st.BatchSize
	}
	if st.Concurrency > 0 {
		s.concurrency = st.Concurrency
	}
	if st.Lease > 0 {
		s.lease = st.Lease
	}
	if st.Budget > 0 {
		s.budget = st.Budget
	}
	if st.RateLimitPerMinute > 0 {
		s.rateLimitPerMinute = st.RateLimitPerMinute
	}
	for k, v := range st.SupplierRateLimits {
		if v > 0 {
			s.supplierRateLimits[k] = v
		}
	}
	if st.MaxFailures > 0 {
		s.maxFailures = st.MaxFailures
	}
	if st.WriteBackDelay > 0 {
		s.writeBackDelay = st.WriteBackDelay
	}
	return s
}

func (s *Sweeper) WithPlanner(cfg PlannerConfig) *Sweeper {
	s.planner = NewPlanner(cfg, nil)
	return s
}

// WithSupplierKinds lets configured supplier types inherit the status table
// of the adapter kind they run on.
func (s *Sweeper) WithSupplierKinds(kinds map[string]string) *Sweeper {
	for supplierType, kind := range kinds {
		s.translations.Alias(supplierType, kind)
	}
	return s
}

// WithTranslations overlays config-provided status tables on the defaults.
func (s *Sweeper) WithTranslations(raw map[string]map[string]string) (*Sweeper, error) {
	if err := s.translations.Merge(raw); err != nil {
		return nil, err
	}
	return s, nil
}

// Trigger forces an immediate sweep cycle (best-effort, non-blocking).
func (s *Sweeper) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalChanged   int64      `json:"totalChanged"`
	TotalErrors    int64      `json:"totalErrors"`
	TotalDeferred  int64      `json:"totalDeferred"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalClaimed:   s.totalClaimed.Load(),
		TotalProcessed: s.totalProcessed.Load(),
		TotalChanged:   s.totalChanged.Load(),
		TotalErrors:    s.totalErrors.Load(),
		TotalDeferred:  s.totalDeferred.Load(),
		InFlight:       s.inFlight.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Sweeper) setLastError(err error) {
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.RunOnce(ctx)
		case <-s.triggerCh:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce claims one batch and processes it. Once the budget is spent no new
// track is started; in-flight ones finish and the rest wait for their lease
// to expire.
func (s *Sweeper) RunOnce(ctx context.Context) {
	start := s.now()
	s.lastCycleUnixNano.Store(start.UnixNano())

	items, err := s.repo.ClaimUnresolvedTracks(ctx, start, s.batchSize, s.lease)
	if err != nil {
		slog.Error("claim unresolved tracks", "error", err.Error())
		s.setLastError(err)
		return
	}
	if len(items) == 0 {
		return
	}
	s.totalClaimed.Add(int64(len(items)))

	var processed atomic.Int64
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	started := 0
	for _, tr := range items {
		sem <- struct{}{}
		if (s.budget > 0 && s.now().Sub(start) > s.budget) || ctx.Err() != nil {
			<-sem
			break
		}
		wg.Add(1)
		started++
		s.inFlight.Add(1)
		go func(tr *models.OrderTrack) {
			defer func() {
				s.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := s.processOne(ctx, tr); err != nil {
				s.totalErrors.Add(1)
				s.setLastError(err)
				slog.Error("process track", "track_id", tr.ID, "store_id", tr.StoreID, "order_id", tr.OrderID, "error", err.Error())
			}
			processed.Add(1)
			s.totalProcessed.Add(1)
		}(tr)
	}
	wg.Wait()

	if deferred := len(items) - started; deferred > 0 {
		s.totalDeferred.Add(int64(deferred))
		slog.Warn("sweep budget exhausted", "processed", processed.Load(), "needed", len(items), "budget", s.budget)
		return
	}
	slog.Info("sweep cycle done", "processed", processed.Load(), "needed", len(items), "took", s.now().Sub(start))
}

func (s *Sweeper) limitFor(supplierType string) int64 {
	if v, ok := s.supplierRateLimits[supplierType]; ok {
		return v
	}
	return s.rateLimitPerMinute
}

func (s *Sweeper) throttle(ctx context.Context, supplierType string, now time.Time) error {
	if s.rl == nil {
		return nil
	}
	limit := s.limitFor(supplierType)
	if limit <= 0 {
		return nil
	}
	minuteKey := fmt.Sprintf("rl:supplier:%s:%s", supplierType, now.Format("200601021504"))
	allowed, n, err := s.rl.Allow(ctx, minuteKey, limit, 70*time.Second)
	if err != nil {
		return err
	}
	if !allowed {
		slog.Warn("rate limit exceeded", "supplier_type", supplierType, "count", n)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil
}

type polled struct {
	status   models.TrackStatus
	detail   string
	tracking []string
	carrier  string
}

// poll asks the supplier about every id in the track's token and merges the
// answers. Parts qualified with another supplier type go to that supplier.
func (s *Sweeper) poll(ctx context.Context, tr *models.OrderTrack) (polled, error) {
	client, err := s.suppliers.Get(tr.SupplierType)
	if err != nil {
		return polled{}, err
	}
	ids := models.SplitSupplierOrderIDs(tr.SupplierOrderID)
	if len(ids) == 0 {
		return polled{}, models.NewValidationError("supplier_order_id", "is empty")
	}

	var (
		out    polled
		states []models.TrackStatus
		codes  []string
		seen   = map[string]struct{}{}
	)
	for _, part := range ids {
		typ, id := models.ParseSupplierOrderID(part, tr.SupplierType, s.knownSupplier)
		c := client
		if typ != tr.SupplierType {
			if c, err = s.suppliers.Get(typ); err != nil {
				return polled{}, err
			}
		}
		st, err := c.GetOrderStatus(ctx, id)
		if err != nil {
			return polled{}, errors.Wrapf(err, "supplier order %s", id)
		}
		states = append(states, s.translations.Translate(typ, st.StatusCode, tr.Status))
		codes = append(codes, st.StatusCode)
		if n := strings.TrimSpace(st.TrackingNumber); n != "" {
			if _, ok := seen[n]; !ok {
				seen[n] = struct{}{}
				out.tracking = append(out.tracking, n)
			}
		}
		if out.carrier == "" {
			out.carrier = st.Carrier
		}
	}
	out.status = mergeStatuses(tr.Status, states)
	out.detail = strings.Join(codes, ",")
	return out, nil
}

func (s *Sweeper) knownSupplier(typ string) bool {
	_, err := s.suppliers.Get(typ)
	return err == nil
}

func (s *Sweeper) processOne(ctx context.Context, tr *models.OrderTrack) error {
	now := s.now()
	if err := s.throttle(ctx, tr.SupplierType, now); err != nil {
		return err
	}

	res, err := s.poll(ctx, tr)
	if err != nil {
		return s.recordFailure(ctx, tr, now, err)
	}

	next := tr.Status
	if tr.Status.CanTransition(res.status) {
		next = res.status
	}
	tracking := strings.Join(res.tracking, ",")
	if tracking == "" {
		tracking = tr.TrackingNumber
	}
	statusChanged := next != tr.Status
	trackingChanged := tracking != tr.TrackingNumber

	upd := models.TrackStatusUpdate{
		TrackID:        tr.ID,
		CheckedAt:      now,
		Status:         next,
		StatusDetail:   res.detail,
		TrackingNumber: tracking,
		StatusChanged:  statusChanged,
		NextCheckAt:    now.Add(s.planner.NextCheckDelay(next)),
	}
	if err := s.repo.ApplyStatusUpdate(ctx, upd); err != nil {
		return err
	}
	if !statusChanged && !trackingChanged {
		return nil
	}

	s.totalChanged.Add(1)
	slog.Info("track changed", "track_id", tr.ID, "store_id", tr.StoreID, "order_id", tr.OrderID,
		"from", tr.Status, "to", next, "tracking_number", tracking)

	var newNumbers []string
	if trackingChanged {
		known := map[string]struct{}{}
		for _, n := range strings.Split(tr.TrackingNumber, ",") {
			known[n] = struct{}{}
		}
		for _, n := range res.tracking {
			if _, ok := known[n]; !ok {
				newNumbers = append(newNumbers, n)
			}
		}
	}
	return s.scheduleWriteBack(ctx, tr, next, statusChanged, newNumbers, res.carrier)
}

func (s *Sweeper) recordFailure(ctx context.Context, tr *models.OrderTrack, now time.Time, cause error) error {
	nextFail := tr.CheckFailCount + 1
	flag := errors.Is(cause, models.ErrRemoteFatal) || nextFail >= s.maxFailures
	msg := cause.Error()
	if err := s.repo.ApplyStatusUpdate(ctx, models.TrackStatusUpdate{
		TrackID:     tr.ID,
		CheckedAt:   now,
		NextCheckAt: now.Add(s.planner.BackoffDelay(nextFail)),
		Error:       &msg,
		Flag:        flag,
	}); err != nil {
		return errors.Wrap(err, "record poll failure")
	}
	if flag {
		slog.Warn("track flagged", "track_id", tr.ID, "store_id", tr.StoreID, "order_id", tr.OrderID, "fail_count", nextFail, "error", msg)
	}
	return cause
}

// TrackingNote is the order note written when a line gets a tracking number.
func TrackingNote(trackingNumber, carrier string) string {
	if carrier == "" {
		return "Tracking Number: " + trackingNumber
	}
	return fmt.Sprintf("Tracking Number: %s (%s)", trackingNumber, carrier)
}

func (s *Sweeper) scheduleWriteBack(ctx context.Context, tr *models.OrderTrack, next models.TrackStatus, statusChanged bool, numbers []string, carrier string) error {
	ch := statusupdater.NewChanges(tr.StoreID, tr.OrderID)

	if len(numbers) > 0 {
		store, err := s.stores.GetStore(ctx, tr.StoreID)
		if err != nil {
			return err
		}
		last, err := s.lastShipment(ctx, tr)
		if err != nil {
			return err
		}
		for i, n := range numbers {
			notifyCustomer := notify.ShouldNotify(n, store.Notification, carrier, last && i == len(numbers)-1)
			if _, err := s.writeBack.ScheduleShipment(ctx, messages.Shipment{
				StoreID:        tr.StoreID,
				OrderID:        tr.OrderID,
				LineIDs:        []string{tr.LineID},
				TrackingNumber: n,
				Carrier:        carrier,
				Notify:         notifyCustomer,
			}, s.writeBackDelay); err != nil {
				return errors.Wrap(err, "schedule shipment")
			}
			ch.AddNote(TrackingNote(n, carrier))
		}
	}
	if statusChanged && (next == models.TrackStatusCancelled || next == models.TrackStatusDisputed) {
		ch.AddNote(fmt.Sprintf("Supplier order %s is %s", tr.SupplierOrderID, strings.ToLower(string(next))))
	}
	if _, err := s.writeBack.SaveDelayed(ctx, ch, s.writeBackDelay); err != nil {
		return errors.Wrap(err, "schedule note")
	}
	return nil
}

// lastShipment reports whether every other linked line of the order already
// has a tracking number (or will never ship).
func (s *Sweeper) lastShipment(ctx context.Context, tr *models.OrderTrack) (bool, error) {
	all, err := s.repo.ListTracks(ctx, tr.StoreID, tr.OrderID)
	if err != nil {
		return false, err
	}
	for _, o := range all {
		if o.ID == tr.ID || !o.Linked() || o.Hidden {
			continue
		}
		if o.TrackingNumber == "" && o.Status != models.TrackStatusCancelled {
			return false, nil
		}
	}
	return true, nil
}
