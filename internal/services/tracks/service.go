package tracks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/BearBump/FulfillBox/internal/cache"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	FindTracks(ctx context.Context, key models.TrackKey) ([]*models.OrderTrack, error)
	FindTracksBySupplierOrderID(ctx context.Context, storeID uint64, supplierOrderID string) ([]*models.OrderTrack, error)
	CreateTrack(ctx context.Context, in models.LinkInput) (*models.OrderTrack, error)
	SetSupplierOrderID(ctx context.Context, id uint64, supplierOrderID, supplierType string, expectCurrent *string) (*models.OrderTrack, bool, error)
	DeleteTracks(ctx context.Context, ids []uint64) error
	ListTracks(ctx context.Context, storeID uint64, orderID string) ([]*models.OrderTrack, error)
	GetTrack(ctx context.Context, id uint64) (*models.OrderTrack, error)
	SetTrackVisibility(ctx context.Context, id uint64, hidden, seen bool) error
}

var urlLike = regexp.MustCompile(`(?i)^https?://`)

// maxLinkRounds bounds re-evaluation when a concurrent writer changes the row
// between our read and our write.
const maxLinkRounds = 3

type Service struct {
	repo    Repository
	cache   cache.BytesCache
	listTTL time.Duration
}

// New builds the Track Store service. A nil cache or zero listTTL disables
// caching of per-order listings.
func New(repo Repository, c cache.BytesCache, listTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, listTTL: listTTL}
}

// ValidateSupplierOrderID rejects ids that are empty, non-ASCII or look like a
// pasted URL.
func ValidateSupplierOrderID(id string) error {
	if strings.TrimSpace(id) == "" {
		return models.NewValidationError("supplier_order_id", "is required")
	}
	for _, r := range id {
		if r > unicode.MaxASCII {
			return models.NewValidationError("supplier_order_id", "must be ASCII")
		}
	}
	if urlLike.MatchString(id) {
		return models.NewValidationError("supplier_order_id", "looks like a URL, expected an order id")
	}
	return nil
}

func validateLink(in models.LinkInput) error {
	if in.StoreID == 0 {
		return models.NewValidationError("store_id", "is required")
	}
	if in.OrderID == "" {
		return models.NewValidationError("order_id", "is required")
	}
	if in.LineID == "" {
		return models.NewValidationError("line_id", "is required")
	}
	return ValidateSupplierOrderID(in.SupplierOrderID)
}

// Link records that the order line is fulfilled by the supplier order. It is
// safe to repeat and safe under concurrent calls for the same line:
//   - no track: create one
//   - one track with empty id: set it
//   - one track with the same id: no-op
//   - one track with another id: ConflictError unless forced
//   - several tracks: delete all and recreate
//
// Assigning an id that is already attached to another order of the same store
// fails with ConflictError unless forced.
func (s *Service) Link(ctx context.Context, in models.LinkInput) (*models.OrderTrack, error) {
	in.SupplierOrderID = strings.TrimSpace(in.SupplierOrderID)
	if err := validateLink(in); err != nil {
		return nil, err
	}
	key := models.TrackKey{StoreID: in.StoreID, OrderID: in.OrderID, LineID: in.LineID}

	for round := 0; round < maxLinkRounds; round++ {
		rows, err := s.repo.FindTracks(ctx, key)
		if err != nil {
			return nil, err
		}

		var (
			t    *models.OrderTrack
			done bool
		)
		switch len(rows) {
		case 0:
			t, done, err = s.create(ctx, in)
		case 1:
			t, done, err = s.update(ctx, rows[0], in)
		default:
			slog.Warn("healing duplicate tracks", "store_id", in.StoreID, "order_id", in.OrderID, "line_id", in.LineID, "count", len(rows))
			ids := make([]uint64, 0, len(rows))
			for _, r := range rows {
				ids = append(ids, r.ID)
			}
			if err := s.repo.DeleteTracks(ctx, ids); err != nil {
				return nil, err
			}
			t, done, err = s.create(ctx, in)
		}
		if err != nil {
			return nil, err
		}
		if done {
			s.invalidate(ctx, in.StoreID, in.OrderID)
			return t, nil
		}
	}
	return nil, errors.Errorf("link %d/%s/%s: concurrent writers did not settle", in.StoreID, in.OrderID, in.LineID)
}

func (s *Service) create(ctx context.Context, in models.LinkInput) (*models.OrderTrack, bool, error) {
	if err := s.checkOtherOrders(ctx, in); err != nil {
		return nil, false, err
	}
	t, err := s.repo.CreateTrack(ctx, in)
	if err != nil {
		return nil, false, err
	}
	// lost an insert race: re-evaluate against the row that won
	if t.SupplierOrderID != in.SupplierOrderID {
		return nil, false, nil
	}
	return t, true, nil
}

func (s *Service) update(ctx context.Context, cur *models.OrderTrack, in models.LinkInput) (*models.OrderTrack, bool, error) {
	if cur.SupplierOrderID == in.SupplierOrderID {
		return cur, true, nil
	}

	var expect *string
	if cur.SupplierOrderID != "" {
		if !in.Forced {
			return nil, false, &models.ConflictError{
				Message:         models.MsgAlreadyLinked,
				SupplierOrderID: cur.SupplierOrderID,
				ExistingOrderID: cur.OrderID,
			}
		}
		slog.Info("forced relink", "track_id", cur.ID, "from", cur.SupplierOrderID, "to", in.SupplierOrderID)
	} else {
		empty := ""
		expect = &empty
	}

	if err := s.checkOtherOrders(ctx, in); err != nil {
		return nil, false, err
	}
	t, updated, err := s.repo.SetSupplierOrderID(ctx, cur.ID, in.SupplierOrderID, in.SupplierType, expect)
	if err != nil {
		return nil, false, err
	}
	return t, updated, nil
}

func (s *Service) checkOtherOrders(ctx context.Context, in models.LinkInput) error {
	if in.Forced {
		return nil
	}
	linked, err := s.repo.FindTracksBySupplierOrderID(ctx, in.StoreID, in.SupplierOrderID)
	if err != nil {
		return err
	}
	for _, t := range linked {
		if t.OrderID != in.OrderID {
			return &models.ConflictError{
				Message:         models.MsgLinkedToOtherOrder,
				SupplierOrderID: in.SupplierOrderID,
				ExistingOrderID: t.OrderID,
			}
		}
	}
	return nil
}

// List returns the order's tracks, or the store's latest tracks when orderID
// is empty. Per-order listings are served from cache when enabled.
func (s *Service) List(ctx context.Context, storeID uint64, orderID string) ([]*models.OrderTrack, error) {
	if storeID == 0 {
		return nil, models.NewValidationError("store_id", "is required")
	}
	useCache := s.cache != nil && s.listTTL > 0 && orderID != ""
	if useCache {
		if b, ok, err := s.cache.Get(ctx, listKey(storeID, orderID)); err == nil && ok {
			var out []*models.OrderTrack
			if json.Unmarshal(b, &out) == nil {
				return out, nil
			}
		}
	}

	out, err := s.repo.ListTracks(ctx, storeID, orderID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*models.OrderTrack{}
	}
	if useCache {
		b, _ := json.Marshal(out)
		_ = s.cache.Set(ctx, listKey(storeID, orderID), b, s.listTTL)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uint64) (*models.OrderTrack, error) {
	if id == 0 {
		return nil, models.NewValidationError("id", "is required")
	}
	return s.repo.GetTrack(ctx, id)
}

// Delete removes a track on operator action.
func (s *Service) Delete(ctx context.Context, id uint64) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteTracks(ctx, []uint64{id}); err != nil {
		return err
	}
	s.invalidate(ctx, t.StoreID, t.OrderID)
	return nil
}

func (s *Service) SetVisibility(ctx context.Context, id uint64, hidden, seen bool) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.SetTrackVisibility(ctx, id, hidden, seen); err != nil {
		return err
	}
	s.invalidate(ctx, t.StoreID, t.OrderID)
	return nil
}

// Invalidate drops the cached listing of the order. Writers outside this
// service (status updater) call it after changing tracks; the listing is per
// order so line ids are ignored.
func (s *Service) Invalidate(ctx context.Context, storeID uint64, orderID string, _ ...string) error {
	s.invalidate(ctx, storeID, orderID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, storeID uint64, orderID string) {
	if s.cache == nil || s.listTTL <= 0 {
		return
	}
	if err := s.cache.Delete(ctx, listKey(storeID, orderID)); err != nil {
		slog.Warn("track listing invalidate failed", "store_id", storeID, "order_id", orderID, "err", err)
	}
}

func listKey(storeID uint64, orderID string) string {
	return fmt.Sprintf("tracks:%d:%s", storeID, orderID)
}
