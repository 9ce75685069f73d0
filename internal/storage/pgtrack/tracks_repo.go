package pgtrack

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const trackColumns = `
  id, store_id, order_id, line_id,
  supplier_order_id, supplier_type, status,
  tracking_number, status_detail,
  hidden, seen, flagged,
  check_count, check_fail_count, last_error,
  next_check_at, created_at, updated_at, status_updated_at`

// prefixed qualifies a column list with a table alias.
func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrack(row scanner) (*models.OrderTrack, error) {
	var t models.OrderTrack
	var status string
	if err := row.Scan(
		&t.ID, &t.StoreID, &t.OrderID, &t.LineID,
		&t.SupplierOrderID, &t.SupplierType, &status,
		&t.TrackingNumber, &t.StatusDetail,
		&t.Hidden, &t.Seen, &t.Flagged,
		&t.CheckCount, &t.CheckFailCount, &t.LastError,
		&t.NextCheckAt, &t.CreatedAt, &t.UpdatedAt, &t.StatusUpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Status = models.TrackStatus(status)
	return &t, nil
}

func collectTracks(rows pgx.Rows) ([]*models.OrderTrack, error) {
	defer rows.Close()
	var out []*models.OrderTrack
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan track")
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) FindTracks(ctx context.Context, key models.TrackKey) ([]*models.OrderTrack, error) {
	rows, err := s.db.Query(ctx, `SELECT `+trackColumns+`
FROM order_tracks
WHERE store_id = $1 AND order_id = $2 AND line_id = $3
ORDER BY id`, key.StoreID, key.OrderID, key.LineID)
	if err != nil {
		return nil, errors.Wrap(err, "select tracks by key")
	}
	return collectTracks(rows)
}

func (s *Storage) FindTracksBySupplierOrderID(ctx context.Context, storeID uint64, supplierOrderID string) ([]*models.OrderTrack, error) {
	rows, err := s.db.Query(ctx, `SELECT `+trackColumns+`
FROM order_tracks
WHERE store_id = $1 AND supplier_order_id = $2
ORDER BY id`, storeID, supplierOrderID)
	if err != nil {
		return nil, errors.Wrap(err, "select tracks by supplier order")
	}
	return collectTracks(rows)
}

func (s *Storage) ListTracks(ctx context.Context, storeID uint64, orderID string) ([]*models.OrderTrack, error) {
	q := `SELECT ` + trackColumns + ` FROM order_tracks WHERE store_id = $1`
	args := []any{storeID}
	if orderID != "" {
		q += ` AND order_id = $2`
		args = append(args, orderID)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT 500`

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list tracks")
	}
	return collectTracks(rows)
}

func (s *Storage) GetTrack(ctx context.Context, id uint64) (*models.OrderTrack, error) {
	t, err := scanTrack(s.db.QueryRow(ctx, `SELECT `+trackColumns+` FROM order_tracks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewNotFoundError("order track", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get track")
	}
	return t, nil
}

// CreateTrack inserts a track for the key. If another writer created the row
// first, the existing row is returned unchanged; callers compare
// SupplierOrderID to detect the lost race.
func (s *Storage) CreateTrack(ctx context.Context, in models.LinkInput) (*models.OrderTrack, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `
INSERT INTO order_tracks (
  store_id, order_id, line_id, supplier_order_id, supplier_type,
  status, next_check_at, created_at, updated_at, status_updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7,$7,$7)
ON CONFLICT (store_id, order_id, line_id) DO NOTHING
`, in.StoreID, in.OrderID, in.LineID, in.SupplierOrderID, in.SupplierType,
		string(models.TrackStatusOrdered), now)
	if err != nil {
		return nil, errors.Wrap(err, "insert track")
	}

	t, err := scanTrack(s.db.QueryRow(ctx, `SELECT `+trackColumns+`
FROM order_tracks
WHERE store_id = $1 AND order_id = $2 AND line_id = $3`, in.StoreID, in.OrderID, in.LineID))
	if err != nil {
		return nil, errors.Wrap(err, "select created track")
	}
	return t, nil
}

// SetSupplierOrderID assigns the supplier order id. When expectCurrent is
// non-nil the update only applies if the stored id still equals it, which makes
// "set if empty" safe against concurrent writers. The second return value
// reports whether a row was updated.
func (s *Storage) SetSupplierOrderID(ctx context.Context, id uint64, supplierOrderID, supplierType string, expectCurrent *string) (*models.OrderTrack, bool, error) {
	q := `
UPDATE order_tracks
SET
  supplier_order_id = $2,
  supplier_type = CASE WHEN $3 = '' THEN supplier_type ELSE $3 END,
  status = CASE WHEN status IN ('NEW', 'PENDING') THEN 'ORDERED' ELSE status END,
  tracking_number = CASE WHEN supplier_order_id = $2 THEN tracking_number ELSE '' END,
  flagged = FALSE,
  check_fail_count = 0,
  last_error = NULL,
  next_check_at = now(),
  updated_at = now()
WHERE id = $1`
	args := []any{id, supplierOrderID, supplierType}
	if expectCurrent != nil {
		q += ` AND supplier_order_id = $4`
		args = append(args, *expectCurrent)
	}
	q += ` RETURNING ` + trackColumns

	t, err := scanTrack(s.db.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		cur, gerr := s.GetTrack(ctx, id)
		if gerr != nil {
			return nil, false, gerr
		}
		return cur, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "set supplier order id")
	}
	return t, true, nil
}

func (s *Storage) DeleteTracks(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `DELETE FROM order_tracks WHERE id = ANY($1)`, ids)
	return errors.Wrap(err, "delete tracks")
}

func (s *Storage) DeleteOrderLineTracks(ctx context.Context, key models.TrackKey) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM order_tracks WHERE store_id = $1 AND order_id = $2 AND line_id = $3`,
		key.StoreID, key.OrderID, key.LineID)
	if err != nil {
		return 0, errors.Wrap(err, "delete order line tracks")
	}
	return tag.RowsAffected(), nil
}

func (s *Storage) SetTrackVisibility(ctx context.Context, id uint64, hidden, seen bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE order_tracks SET hidden = $2, seen = $3, updated_at = now() WHERE id = $1`, id, hidden, seen)
	if err != nil {
		return errors.Wrap(err, "set track visibility")
	}
	if tag.RowsAffected() == 0 {
		return models.NewNotFoundError("order track", id)
	}
	return nil
}

// SetOrderStatus moves every track of the order forward to status. Tracks
// already at or beyond it are left alone.
func (s *Storage) SetOrderStatus(ctx context.Context, storeID uint64, orderID string, status models.TrackStatus) error {
	rows, err := s.db.Query(ctx, `SELECT id, status FROM order_tracks WHERE store_id = $1 AND order_id = $2`, storeID, orderID)
	if err != nil {
		return errors.Wrap(err, "select order statuses")
	}
	var ids []uint64
	for rows.Next() {
		var id uint64
		var cur string
		if err := rows.Scan(&id, &cur); err != nil {
			rows.Close()
			return errors.Wrap(err, "scan order status")
		}
		if models.TrackStatus(cur).CanTransition(status) {
			ids = append(ids, id)
		}
	}
	rows.Close()
	if rows.Err() != nil {
		return errors.Wrap(rows.Err(), "rows")
	}
	if len(ids) == 0 {
		return nil
	}
	_, err = s.db.Exec(ctx, `
UPDATE order_tracks
SET status = $2, status_updated_at = now(), updated_at = now()
WHERE id = ANY($1)`, ids, string(status))
	return errors.Wrap(err, "update order status")
}

// FlagOrderTracks marks every track of the order for manual review.
func (s *Storage) FlagOrderTracks(ctx context.Context, storeID uint64, orderID, reason string) error {
	_, err := s.db.Exec(ctx, `
UPDATE order_tracks
SET flagged = TRUE, last_error = $3, updated_at = now()
WHERE store_id = $1 AND order_id = $2`, storeID, orderID, reason)
	return errors.Wrap(err, "flag order tracks")
}

// ClaimUnresolvedTracks selects tracks the sweep should poll and leases them so
// a concurrent sweep does not pick them up while they are being processed.
// Uses SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimUnresolvedTracks(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OrderTrack, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT `+prefixed("t", trackColumns)+`
FROM order_tracks t
JOIN stores s ON s.id = t.store_id
WHERE t.next_check_at <= $1
  AND t.tracking_number = ''
  AND t.supplier_order_id <> ''
  AND t.status NOT IN ('SHIPPED', 'CANCELLED', 'DISPUTED')
  AND NOT t.hidden
  AND NOT t.flagged
  AND s.active
  AND s.auto_fulfill
ORDER BY t.next_check_at ASC
LIMIT $2
FOR UPDATE OF t SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select unresolved tracks")
	}
	picked, err := collectTracks(rows)
	if err != nil {
		return nil, err
	}

	leaseUntil := now.UTC().Add(lease)
	for _, t := range picked {
		if _, err := tx.Exec(ctx, `UPDATE order_tracks SET next_check_at = $2, updated_at = now() WHERE id = $1`, t.ID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease track")
		}
		t.NextCheckAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func (s *Storage) ApplyStatusUpdate(ctx context.Context, upd models.TrackStatusUpdate) error {
	if upd.Error != nil && *upd.Error != "" {
		_, err := s.db.Exec(ctx, `
UPDATE order_tracks
SET
  check_count = check_count + 1,
  check_fail_count = check_fail_count + 1,
  last_error = $2,
  next_check_at = $3,
  flagged = flagged OR $4,
  updated_at = now()
WHERE id = $1
`, upd.TrackID, *upd.Error, upd.NextCheckAt.UTC(), upd.Flag)
		return errors.Wrap(err, "update track (error)")
	}

	_, err := s.db.Exec(ctx, `
UPDATE order_tracks
SET
  status = $2,
  status_detail = $3,
  tracking_number = $4,
  check_count = check_count + 1,
  check_fail_count = 0,
  last_error = NULL,
  next_check_at = $5,
  status_updated_at = CASE WHEN $6 THEN $7 ELSE status_updated_at END,
  seen = CASE WHEN $6 THEN FALSE ELSE seen END,
  updated_at = now()
WHERE id = $1
`, upd.TrackID, string(upd.Status), upd.StatusDetail, upd.TrackingNumber, upd.NextCheckAt.UTC(), upd.StatusChanged, upd.CheckedAt.UTC())
	return errors.Wrap(err, "update track (ok)")
}

func (s *Storage) RecordFailedTask(ctx context.Context, ft models.FailedTask) error {
	var payload any
	if len(ft.Payload) > 0 {
		raw := ft.Payload
		if !json.Valid(raw) {
			raw, _ = json.Marshal(string(raw))
		}
		payload = string(raw)
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO failed_tasks (task_id, kind, store_id, order_id, payload, last_error, attempts, created_at)
VALUES ($1,$2,$3,$4,$5::jsonb,$6,$7, now())
ON CONFLICT (task_id) DO UPDATE SET last_error = EXCLUDED.last_error, attempts = EXCLUDED.attempts
`, ft.TaskID, ft.Kind, ft.StoreID, ft.OrderID, payload, ft.LastError, ft.Attempts)
	return errors.Wrap(err, "insert failed task")
}

func (s *Storage) ListFailedTasks(ctx context.Context, limit int) ([]*models.FailedTask, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
SELECT id, task_id, kind, store_id, order_id, COALESCE(payload::text, ''), last_error, attempts, created_at
FROM failed_tasks
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select failed tasks")
	}
	defer rows.Close()

	var out []*models.FailedTask
	for rows.Next() {
		var ft models.FailedTask
		var payload string
		if err := rows.Scan(&ft.ID, &ft.TaskID, &ft.Kind, &ft.StoreID, &ft.OrderID, &payload, &ft.LastError, &ft.Attempts, &ft.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan failed task")
		}
		ft.Payload = []byte(payload)
		out = append(out, &ft)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
