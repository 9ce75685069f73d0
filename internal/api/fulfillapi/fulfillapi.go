// Package fulfillapi exposes order placement, track management and order
// write-back over JSON/HTTP.
package fulfillapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/services/builder"
	"github.com/BearBump/FulfillBox/internal/services/remotecache"
	"github.com/BearBump/FulfillBox/internal/services/statusupdater"
	"github.com/go-chi/chi/v5"
)

type Placer interface {
	PlaceOrder(ctx context.Context, storeID uint64, orderID string, lineIDs []string) (*builder.Result, error)
}

type Tracks interface {
	Link(ctx context.Context, in models.LinkInput) (*models.OrderTrack, error)
	List(ctx context.Context, storeID uint64, orderID string) ([]*models.OrderTrack, error)
	Get(ctx context.Context, id uint64) (*models.OrderTrack, error)
	Delete(ctx context.Context, id uint64) error
	SetVisibility(ctx context.Context, id uint64, hidden, seen bool) error
}

type Notes interface {
	Save(ctx context.Context, ch *statusupdater.Changes) error
	SaveDelayed(ctx context.Context, ch *statusupdater.Changes, countdown time.Duration) (string, error)
}

type Catalog interface {
	SetDefaultSupplier(ctx context.Context, productID, supplierID uint64) error
	ListFailedTasks(ctx context.Context, limit int) ([]*models.FailedTask, error)
}

type Shipping interface {
	GetShippingForVariant(ctx context.Context, supplierID uint64, variantID, country string) (*models.ShippingMethod, error)
}

type RemoteCache interface {
	Prefetch(ctx context.Context, tracks []*models.OrderTrack, ttl time.Duration) (int, error)
	DeleteEmptyFulfillment(ctx context.Context, storeID uint64, orderID, lineID string) (bool, error)
}

type API struct {
	placer   Placer
	tracks   Tracks
	notes    Notes
	catalog  Catalog
	shipping Shipping
	remote   RemoteCache
}

func New(placer Placer, tracks Tracks, notes Notes, catalog Catalog, shipping Shipping, remote RemoteCache) *API {
	return &API{
		placer:   placer,
		tracks:   tracks,
		notes:    notes,
		catalog:  catalog,
		shipping: shipping,
		remote:   remote,
	}
}

func (a *API) Routes(r chi.Router) {
	r.Route("/stores/{storeID}", func(r chi.Router) {
		r.Post("/prefetch", a.prefetch)
		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Post("/place", a.placeOrder)
			r.Get("/tracks", a.listTracks)
			r.Post("/changes", a.saveChanges)
			r.Delete("/lines/{lineID}/fulfillment", a.deleteEmptyFulfillment)
		})
	})
	r.Route("/tracks", func(r chi.Router) {
		r.Post("/", a.linkTrack)
		r.Get("/{trackID}", a.getTrack)
		r.Delete("/{trackID}", a.deleteTrack)
		r.Patch("/{trackID}/visibility", a.setVisibility)
	})
	r.Put("/products/{productID}/default-supplier", a.setDefaultSupplier)
	r.Get("/suppliers/{supplierID}/shipping", a.getShipping)
	r.Get("/failed-tasks", a.listFailedTasks)
}

// placeOrder godoc
// POST /stores/{storeID}/orders/{orderID}/place
func (a *API) placeOrder(w http.ResponseWriter, r *http.Request) {
	storeID, orderID, ok := orderParams(w, r)
	if !ok {
		return
	}
	var req placeOrderRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}
	res, err := a.placer.PlaceOrder(r.Context(), storeID, orderID, req.LineIDs)
	if err != nil && res == nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		// some supplier groups failed; the rest were placed and linked
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, res)
}

func (a *API) listTracks(w http.ResponseWriter, r *http.Request) {
	storeID, orderID, ok := orderParams(w, r)
	if !ok {
		return
	}
	ts, err := a.tracks.List(r.Context(), storeID, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listTracksResponse{Tracks: toTrackDTOs(ts)})
}

// saveChanges writes notes, tags and status to the storefront order, either
// now or after delay_seconds through the task queue.
func (a *API) saveChanges(w http.ResponseWriter, r *http.Request) {
	storeID, orderID, ok := orderParams(w, r)
	if !ok {
		return
	}
	var req saveChangesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ch := statusupdater.NewChanges(storeID, orderID).AddTags(req.Tags...)
	for _, n := range req.Notes {
		ch.AddNote(n)
	}
	if req.Status != "" {
		ch.SetStatus(models.TrackStatus(strings.ToUpper(req.Status)))
	}
	if req.UserID != nil {
		ch.ActingUser(*req.UserID)
	}

	if req.DelaySeconds > 0 {
		taskID, err := a.notes.SaveDelayed(r.Context(), ch, time.Duration(req.DelaySeconds)*time.Second)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, saveChangesResponse{TaskID: taskID})
		return
	}
	if err := a.notes.Save(r.Context(), ch); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteEmptyFulfillment(w http.ResponseWriter, r *http.Request) {
	storeID, orderID, ok := orderParams(w, r)
	if !ok {
		return
	}
	deleted, err := a.remote.DeleteEmptyFulfillment(r.Context(), storeID, orderID, chi.URLParam(r, "lineID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteFulfillmentResponse{Deleted: deleted})
}

// prefetch warms the remote cache for the given orders, or for the store's
// latest tracks when none are named.
func (a *API) prefetch(w http.ResponseWriter, r *http.Request) {
	storeID, ok := uintParam(w, r, "storeID")
	if !ok {
		return
	}
	var req prefetchRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}
	orderIDs := req.OrderIDs
	if len(orderIDs) == 0 {
		orderIDs = []string{""}
	}
	var all []*models.OrderTrack
	for _, oid := range orderIDs {
		ts, err := a.tracks.List(r.Context(), storeID, oid)
		if err != nil {
			writeError(w, err)
			return
		}
		all = append(all, ts...)
	}
	n, err := a.remote.Prefetch(r.Context(), all, remotecache.ImportTTL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefetchResponse{Orders: n})
}

func (a *API) linkTrack(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := a.tracks.Link(r.Context(), models.LinkInput{
		StoreID:         req.StoreID,
		OrderID:         req.OrderID,
		LineID:          req.LineID,
		SupplierOrderID: req.SupplierOrderID,
		SupplierType:    req.SupplierType,
		Forced:          req.Forced,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTrackDTO(t))
}

func (a *API) getTrack(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "trackID")
	if !ok {
		return
	}
	t, err := a.tracks.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTrackDTO(t))
}

func (a *API) deleteTrack(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "trackID")
	if !ok {
		return
	}
	if err := a.tracks.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setVisibility(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "trackID")
	if !ok {
		return
	}
	var req visibilityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.tracks.SetVisibility(r.Context(), id, req.Hidden, req.Seen); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setDefaultSupplier(w http.ResponseWriter, r *http.Request) {
	productID, ok := uintParam(w, r, "productID")
	if !ok {
		return
	}
	var req defaultSupplierRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.catalog.SetDefaultSupplier(r.Context(), productID, req.SupplierID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getShipping(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := uintParam(w, r, "supplierID")
	if !ok {
		return
	}
	q := shippingQuery{VariantID: r.URL.Query().Get("variant_id"), Country: r.URL.Query().Get("country")}
	if err := validate.Struct(q); err != nil {
		writeError(w, validationError(err))
		return
	}
	m, err := a.shipping.GetShippingForVariant(r.Context(), supplierID, q.VariantID, q.Country)
	if err != nil {
		writeError(w, err)
		return
	}
	if m == nil {
		writeError(w, models.NewNotFoundError("shipping method", q.Country))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) listFailedTasks(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, models.NewValidationError("limit", "must be between 1 and 500"))
			return
		}
		limit = n
	}
	fts, err := a.catalog.ListFailedTasks(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]failedTaskDTO, 0, len(fts))
	for _, ft := range fts {
		out = append(out, failedTaskDTO{
			TaskID:    ft.TaskID,
			Kind:      ft.Kind,
			StoreID:   ft.StoreID,
			OrderID:   ft.OrderID,
			LastError: ft.LastError,
			Attempts:  ft.Attempts,
			CreatedAt: ft.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, listFailedTasksResponse{Tasks: out})
}

func orderParams(w http.ResponseWriter, r *http.Request) (uint64, string, bool) {
	storeID, ok := uintParam(w, r, "storeID")
	if !ok {
		return 0, "", false
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeError(w, models.NewValidationError("order_id", "is required"))
		return 0, "", false
	}
	return storeID, orderID, true
}

func uintParam(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || v == 0 {
		writeError(w, models.NewValidationError(name, "must be a positive integer"))
		return 0, false
	}
	return v, true
}
