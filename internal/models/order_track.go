package models

import (
	"strings"
	"time"
)

// TrackStatus is the normalized fulfillment state of an order line.
type TrackStatus string

const (
	TrackStatusNew              TrackStatus = "NEW"
	TrackStatusPending          TrackStatus = "PENDING"
	TrackStatusOrdered          TrackStatus = "ORDERED"
	TrackStatusPartiallyShipped TrackStatus = "PARTIALLY_SHIPPED"
	TrackStatusShipped          TrackStatus = "SHIPPED"
	TrackStatusCancelled        TrackStatus = "CANCELLED"
	TrackStatusDisputed         TrackStatus = "DISPUTED"
)

// rank orders the forward chain. Cancelled/disputed sit outside the chain.
var trackStatusRank = map[TrackStatus]int{
	TrackStatusNew:              0,
	TrackStatusPending:          1,
	TrackStatusOrdered:          2,
	TrackStatusPartiallyShipped: 3,
	TrackStatusShipped:          4,
}

func (s TrackStatus) Valid() bool {
	if _, ok := trackStatusRank[s]; ok {
		return true
	}
	return s == TrackStatusCancelled || s == TrackStatusDisputed
}

// Terminal reports whether the sweep should stop polling a track in this state.
func (s TrackStatus) Terminal() bool {
	return s == TrackStatusShipped || s == TrackStatusCancelled || s == TrackStatusDisputed
}

// CanTransition reports whether moving from s to next keeps the state machine
// monotonic: forward along the chain, or into cancelled/disputed from any
// non-terminal state.
func (s TrackStatus) CanTransition(next TrackStatus) bool {
	if !next.Valid() || s == next {
		return false
	}
	if s.Terminal() {
		return false
	}
	if next == TrackStatusCancelled || next == TrackStatusDisputed {
		return true
	}
	cur, ok := trackStatusRank[s]
	if !ok {
		cur = -1
	}
	return trackStatusRank[next] > cur
}

// OrderTrack links one storefront order line to a supplier fulfillment.
type OrderTrack struct {
	ID              uint64
	StoreID         uint64
	OrderID         string
	LineID          string
	SupplierOrderID string
	SupplierType    string
	Status          TrackStatus
	TrackingNumber  string
	StatusDetail    string
	Hidden          bool
	Seen            bool
	Flagged         bool
	CheckCount      int32
	CheckFailCount  int32
	LastError       *string
	NextCheckAt     time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StatusUpdatedAt *time.Time
}

// Linked reports whether a supplier order has been placed for the line.
func (t *OrderTrack) Linked() bool {
	return t.SupplierOrderID != ""
}

// JoinSupplierOrderIDs de-duplicates supplier order ids, keeping first-seen
// order, and joins them into the token stored on a track.
func JoinSupplierOrderIDs(ids []string) string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return strings.Join(out, ",")
}

const supplierTypeSep = ":"

// QualifySupplierOrderID marks id as belonging to supplierType, for tokens
// whose ids come from more than one supplier.
func QualifySupplierOrderID(supplierType, id string) string {
	return supplierType + supplierTypeSep + id
}

// ParseSupplierOrderID returns the supplier type and id of one token part.
// A prefix counts as a type only when known accepts it; otherwise the whole
// part is an id of def.
func ParseSupplierOrderID(part, def string, known func(string) bool) (string, string) {
	typ, id, ok := strings.Cut(part, supplierTypeSep)
	if !ok || typ == def || id == "" || known == nil || !known(typ) {
		return def, part
	}
	return typ, id
}

func SplitSupplierOrderIDs(token string) []string {
	var out []string
	for _, p := range strings.Split(token, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type TrackKey struct {
	StoreID uint64
	OrderID string
	LineID  string
}

func (t *OrderTrack) Key() TrackKey {
	return TrackKey{StoreID: t.StoreID, OrderID: t.OrderID, LineID: t.LineID}
}

// LinkInput is the idempotent-link request for the Track Store.
type LinkInput struct {
	StoreID         uint64 `json:"store_id" validate:"required"`
	OrderID         string `json:"order_id" validate:"required"`
	LineID          string `json:"line_id" validate:"required"`
	SupplierOrderID string `json:"supplier_order_id" validate:"required"`
	SupplierType    string `json:"supplier_type"`
	Forced          bool   `json:"forced"`
}

// TrackStatusUpdate is what the sweep writes back after polling a supplier.
type TrackStatusUpdate struct {
	TrackID        uint64
	CheckedAt      time.Time
	Status         TrackStatus
	StatusDetail   string
	TrackingNumber string
	StatusChanged  bool
	NextCheckAt    time.Time
	Error          *string
	// Flag parks the track for manual review.
	Flag bool
}

// FailedTask is a delayed task that ran out of retries.
type FailedTask struct {
	ID        uint64
	TaskID    string
	Kind      string
	StoreID   uint64
	OrderID   string
	Payload   []byte
	LastError string
	Attempts  int
	CreatedAt time.Time
}
