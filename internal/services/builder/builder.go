// Package builder turns a storefront order into supplier purchase requests,
// one per supplier, and links every covered line to the placed order.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BearBump/FulfillBox/internal/integrations/storefront"
	"github.com/BearBump/FulfillBox/internal/integrations/supplier"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/services/resolver"
	"github.com/BearBump/FulfillBox/internal/services/statusupdater"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type StoreGetter interface {
	GetStore(ctx context.Context, id uint64) (*models.Store, error)
}

type Storefronts interface {
	ForStore(ctx context.Context, storeID uint64) (storefront.Client, error)
}

type LineResolver interface {
	ResolveLine(ctx context.Context, store *models.Store, line models.LineItem, country string) ([]resolver.Resolution, error)
}

type Suppliers interface {
	Get(supplierType string) (supplier.Client, error)
}

type Tracks interface {
	Link(ctx context.Context, in models.LinkInput) (*models.OrderTrack, error)
	List(ctx context.Context, storeID uint64, orderID string) ([]*models.OrderTrack, error)
}

type NoteScheduler interface {
	SaveDelayed(ctx context.Context, ch *statusupdater.Changes, countdown time.Duration) (string, error)
}

// SkippedLine is a selected line that was not submitted.
type SkippedLine struct {
	LineID string `json:"line_id"`
	Reason string `json:"reason"`
}

// Placement is the outcome for one supplier group.
type Placement struct {
	SupplierID      uint64   `json:"supplier_id"`
	SupplierType    string   `json:"supplier_type"`
	SupplierOrderID string   `json:"supplier_order_id,omitempty"`
	LineIDs         []string `json:"line_ids"`
	Error           string   `json:"error,omitempty"`
}

type Result struct {
	StoreID    uint64        `json:"store_id"`
	OrderID    string        `json:"order_id"`
	Placements []Placement   `json:"placements"`
	Skipped    []SkippedLine `json:"skipped,omitempty"`
}

const (
	reasonLinked        = "already linked"
	reasonNoSupplier    = "no supplier"
	reasonFullyShipped  = "already shipped"
	defaultNoteDelay    = 5 * time.Second
	skuSeparator        = ";"
	attributesSeparator = " / "
)

type Builder struct {
	stores    StoreGetter
	fronts    Storefronts
	resolver  LineResolver
	suppliers Suppliers
	tracks    Tracks
	notes     NoteScheduler
	noteDelay time.Duration
}

func New(stores StoreGetter, fronts Storefronts, r LineResolver, suppliers Suppliers, tracks Tracks, notes NoteScheduler, noteDelay time.Duration) *Builder {
	if noteDelay <= 0 {
		noteDelay = defaultNoteDelay
	}
	return &Builder{
		stores:    stores,
		fronts:    fronts,
		resolver:  r,
		suppliers: suppliers,
		tracks:    tracks,
		notes:     notes,
		noteDelay: noteDelay,
	}
}

type group struct {
	supplier *models.Supplier
	items    []supplier.PurchaseItem
	lineIDs  []string
	method   string
	token    string
}

func (g *group) addLine(id string) {
	for _, l := range g.lineIDs {
		if l == id {
			return
		}
	}
	g.lineIDs = append(g.lineIDs, id)
}

// PlaceOrder submits purchase requests for the selected lines of the order (all
// lines when lineIDs is empty). Groups are placed independently and lines are
// linked once every group has been tried: the result lists every group and the
// returned error is the first failure.
func (b *Builder) PlaceOrder(ctx context.Context, storeID uint64, orderID string, lineIDs []string) (*Result, error) {
	if storeID == 0 {
		return nil, models.NewValidationError("store_id", "is required")
	}
	if orderID == "" {
		return nil, models.NewValidationError("order_id", "is required")
	}

	store, err := b.stores.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if !store.Active {
		return nil, models.NewValidationError("store", "store is not active")
	}
	client, err := b.fronts.ForStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	order, err := client.FetchOrder(ctx, storeID, orderID)
	if err != nil {
		return nil, err
	}

	lines, err := selectLines(order, lineIDs)
	if err != nil {
		return nil, err
	}

	existing, err := b.tracks.List(ctx, storeID, orderID)
	if err != nil {
		return nil, err
	}
	linked := map[string]bool{}
	for _, t := range existing {
		if t.Linked() {
			linked[t.LineID] = true
		}
	}

	res := &Result{StoreID: storeID, OrderID: orderID, Placements: []Placement{}}
	groups := map[uint64]*group{}
	for _, l := range lines {
		if linked[l.ID] {
			res.Skipped = append(res.Skipped, SkippedLine{LineID: l.ID, Reason: reasonLinked})
			continue
		}
		if l.Quantity > 0 && l.Shipped >= l.Quantity {
			res.Skipped = append(res.Skipped, SkippedLine{LineID: l.ID, Reason: reasonFullyShipped})
			continue
		}
		resolved, err := b.resolver.ResolveLine(ctx, store, l, order.Address.CountryCode)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve line %s", l.ID)
		}
		if !allFulfillable(resolved) {
			res.Skipped = append(res.Skipped, SkippedLine{LineID: l.ID, Reason: reasonNoSupplier})
			continue
		}
		unit := unitPrice(l.Price, len(resolved))
		for _, r := range resolved {
			g, ok := groups[r.Supplier.ID]
			if !ok {
				g = &group{supplier: r.Supplier}
				groups[r.Supplier.ID] = g
			}
			g.items = append(g.items, purchaseItem(r, unit))
			g.addLine(l.ID)
			if g.method == "" && r.ShippingMethod != nil {
				g.method = r.ShippingMethod.MethodName
			}
		}
	}

	ids := make([]uint64, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var firstErr error
	placed := make([]*group, 0, len(ids))
	for _, id := range ids {
		g := groups[id]
		p, err := b.place(ctx, order, g)
		if err != nil {
			p.Error = err.Error()
			if firstErr == nil {
				firstErr = err
			}
			slog.Error("supplier placement failed", "store_id", storeID, "order_id", orderID, "supplier_id", id, "err", err)
		} else {
			g.token = p.SupplierOrderID
			placed = append(placed, g)
		}
		res.Placements = append(res.Placements, p)
	}

	linkErrs := b.linkLines(ctx, order, lines, placed)
	for i := range res.Placements {
		p := &res.Placements[i]
		if p.Error != "" {
			continue
		}
		var linkErr error
		for _, l := range p.LineIDs {
			if err, ok := linkErrs[l]; ok {
				linkErr = err
				break
			}
		}
		if linkErr != nil {
			p.Error = linkErr.Error()
			if firstErr == nil {
				firstErr = linkErr
			}
			continue
		}
		ch := statusupdater.NewChanges(order.StoreID, order.ID).AddNote(statusupdater.SupplierOrderNote(p.SupplierOrderID))
		if _, err := b.notes.SaveDelayed(ctx, ch, b.noteDelay); err != nil {
			slog.Warn("schedule supplier note failed", "store_id", order.StoreID, "order_id", order.ID, "err", err)
		}
	}
	return res, firstErr
}

// linkLines links every line covered by a placed group exactly once. A line
// split across suppliers gets one token holding all of its supplier order
// ids; ids of suppliers other than the line's first are qualified with their
// type.
func (b *Builder) linkLines(ctx context.Context, order *models.Order, lines []models.LineItem, placed []*group) map[string]error {
	parts := map[string][]string{}
	lineType := map[string]string{}
	for _, g := range placed {
		for _, l := range g.lineIDs {
			if _, ok := lineType[l]; !ok {
				lineType[l] = g.supplier.Type
			}
			for _, id := range models.SplitSupplierOrderIDs(g.token) {
				if g.supplier.Type != lineType[l] {
					id = models.QualifySupplierOrderID(g.supplier.Type, id)
				}
				parts[l] = append(parts[l], id)
			}
		}
	}

	errs := map[string]error{}
	for _, l := range lines {
		ids, ok := parts[l.ID]
		if !ok {
			continue
		}
		if _, err := b.tracks.Link(ctx, models.LinkInput{
			StoreID:         order.StoreID,
			OrderID:         order.ID,
			LineID:          l.ID,
			SupplierOrderID: models.JoinSupplierOrderIDs(ids),
			SupplierType:    lineType[l.ID],
		}); err != nil {
			errs[l.ID] = errors.Wrapf(err, "link line %s", l.ID)
			slog.Error("link line failed", "store_id", order.StoreID, "order_id", order.ID, "line_id", l.ID, "err", err)
		}
	}
	return errs
}

func (b *Builder) place(ctx context.Context, order *models.Order, g *group) (Placement, error) {
	p := Placement{SupplierID: g.supplier.ID, SupplierType: g.supplier.Type, LineIDs: g.lineIDs}

	client, err := b.suppliers.Get(g.supplier.Type)
	if err != nil {
		return p, err
	}
	req := supplier.PurchaseRequest{
		StoreID:        order.StoreID,
		OrderID:        order.ID,
		SupplierID:     g.supplier.ID,
		SupplierType:   g.supplier.Type,
		Items:          g.items,
		Address:        order.Address,
		ShippingMethod: g.method,
		Memo:           memo(order),
	}
	placed, err := client.PlaceOrder(ctx, req)
	if err != nil {
		return p, err
	}
	token := models.JoinSupplierOrderIDs(placed.OrderIDs)
	if token == "" {
		return p, errors.Errorf("supplier %s returned no order id", g.supplier.Type)
	}
	p.SupplierOrderID = token
	slog.Info("supplier order placed", "store_id", order.StoreID, "order_id", order.ID, "supplier_id", g.supplier.ID,
		"supplier_order_id", token, "items", len(req.Items), "declared_value", req.DeclaredValue().StringFixed(2))
	return p, nil
}

func selectLines(o *models.Order, ids []string) ([]models.LineItem, error) {
	if len(ids) == 0 {
		return o.Lines, nil
	}
	out := make([]models.LineItem, 0, len(ids))
	seen := map[string]struct{}{}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		l, ok := o.Line(id)
		if !ok {
			return nil, models.NewNotFoundError("order line", id)
		}
		out = append(out, l)
	}
	return out, nil
}

func allFulfillable(rs []resolver.Resolution) bool {
	if len(rs) == 0 {
		return false
	}
	for _, r := range rs {
		if !r.Fulfillable {
			return false
		}
	}
	return true
}

// unitPrice spreads a line's price over the purchases it expands into.
func unitPrice(price decimal.Decimal, parts int) decimal.Decimal {
	if parts <= 1 {
		return price
	}
	return price.DivRound(decimal.NewFromInt(int64(parts)), 2)
}

func purchaseItem(r resolver.Resolution, unit decimal.Decimal) supplier.PurchaseItem {
	skus := make([]string, 0, len(r.Options))
	titles := make([]string, 0, len(r.Options))
	for _, o := range r.Options {
		if o.SKU != "" {
			skus = append(skus, o.SKU)
		}
		if o.Title != "" {
			titles = append(titles, o.Title)
		}
	}
	return supplier.PurchaseItem{
		LineID:            r.LineID,
		SupplierProductID: r.Supplier.SupplierProductID,
		VariantID:         r.VariantID,
		Quantity:          r.Quantity,
		SKU:               strings.Join(skus, skuSeparator),
		Attributes:        strings.Join(titles, attributesSeparator),
		UnitPrice:         unit,
	}
}

func memo(o *models.Order) string {
	name := o.Name
	if name == "" {
		name = o.ID
	}
	return fmt.Sprintf("Order %s", name)
}
