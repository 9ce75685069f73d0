package fulfillapi

import (
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
)

type placeOrderRequest struct {
	LineIDs []string `json:"line_ids" validate:"omitempty,dive,required"`
}

type linkRequest struct {
	StoreID         uint64 `json:"store_id" validate:"required"`
	OrderID         string `json:"order_id" validate:"required"`
	LineID          string `json:"line_id" validate:"required"`
	SupplierOrderID string `json:"supplier_order_id" validate:"required"`
	SupplierType    string `json:"supplier_type"`
	Forced          bool   `json:"forced"`
}

type visibilityRequest struct {
	Hidden bool `json:"hidden"`
	Seen   bool `json:"seen"`
}

type saveChangesRequest struct {
	Notes        []string `json:"notes" validate:"omitempty,dive,max=5000"`
	Tags         []string `json:"tags" validate:"omitempty,dive,max=255"`
	Status       string   `json:"status" validate:"omitempty,oneof=NEW PENDING ORDERED PARTIALLY_SHIPPED SHIPPED CANCELLED DISPUTED new pending ordered partially_shipped shipped cancelled disputed"`
	UserID       *uint64  `json:"user_id"`
	DelaySeconds int      `json:"delay_seconds" validate:"min=0,max=86400"`
}

type saveChangesResponse struct {
	TaskID string `json:"task_id"`
}

type defaultSupplierRequest struct {
	SupplierID uint64 `json:"supplier_id" validate:"required"`
}

type prefetchRequest struct {
	OrderIDs []string `json:"order_ids" validate:"omitempty,max=200,dive,required"`
}

type prefetchResponse struct {
	Orders int `json:"orders"`
}

type deleteFulfillmentResponse struct {
	Deleted bool `json:"deleted"`
}

type shippingQuery struct {
	VariantID string `json:"variant_id" validate:"required"`
	Country   string `json:"country" validate:"required,min=2,max=3"`
}

type trackDTO struct {
	ID              uint64     `json:"id"`
	StoreID         uint64     `json:"store_id"`
	OrderID         string     `json:"order_id"`
	LineID          string     `json:"line_id"`
	SupplierOrderID string     `json:"supplier_order_id,omitempty"`
	SupplierType    string     `json:"supplier_type,omitempty"`
	Status          string     `json:"status"`
	TrackingNumber  string     `json:"tracking_number,omitempty"`
	StatusDetail    string     `json:"status_detail,omitempty"`
	Hidden          bool       `json:"hidden"`
	Seen            bool       `json:"seen"`
	Flagged         bool       `json:"flagged"`
	LastError       string     `json:"last_error,omitempty"`
	NextCheckAt     time.Time  `json:"next_check_at"`
	StatusUpdatedAt *time.Time `json:"status_updated_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type listTracksResponse struct {
	Tracks []trackDTO `json:"tracks"`
}

type failedTaskDTO struct {
	TaskID    string    `json:"task_id"`
	Kind      string    `json:"kind"`
	StoreID   uint64    `json:"store_id"`
	OrderID   string    `json:"order_id"`
	LastError string    `json:"last_error"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

type listFailedTasksResponse struct {
	Tasks []failedTaskDTO `json:"tasks"`
}

func toTrackDTO(t *models.OrderTrack) trackDTO {
	out := trackDTO{
		ID:              t.ID,
		StoreID:         t.StoreID,
		OrderID:         t.OrderID,
		LineID:          t.LineID,
		SupplierOrderID: t.SupplierOrderID,
		SupplierType:    t.SupplierType,
		Status:          string(t.Status),
		TrackingNumber:  t.TrackingNumber,
		StatusDetail:    t.StatusDetail,
		Hidden:          t.Hidden,
		Seen:            t.Seen,
		Flagged:         t.Flagged,
		NextCheckAt:     t.NextCheckAt,
		StatusUpdatedAt: t.StatusUpdatedAt,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
	if t.LastError != nil {
		out.LastError = *t.LastError
	}
	return out
}

func toTrackDTOs(ts []*models.OrderTrack) []trackDTO {
	out := make([]trackDTO, 0, len(ts))
	for _, t := range ts {
		out = append(out, toTrackDTO(t))
	}
	return out
}
