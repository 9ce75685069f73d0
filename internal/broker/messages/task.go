package messages

import (
	"encoding/json"
	"time"
)

const (
	KindSaveChanges = "save_changes"
	KindShipment    = "shipment"
)

// Task is the envelope every delayed job travels in. The consumer does not run
// a task before NotBefore.
type Task struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Attempt   int             `json:"attempt"`
	NotBefore time.Time       `json:"not_before"`
	StoreID   uint64          `json:"store_id"`
	OrderID   string          `json:"order_id"`
	Payload   json.RawMessage `json:"payload"`
	LastError string          `json:"last_error,omitempty"`
}

// SaveChanges is the delayed note/tag write for one storefront order.
type SaveChanges struct {
	Notes   []string `json:"notes"`
	OrderID string   `json:"order_id"`
	StoreID uint64   `json:"store_id"`
	UserID  *uint64  `json:"user_id,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Status  string   `json:"status,omitempty"`
}

// Shipment asks the worker to create the storefront fulfillment for lines the
// supplier has shipped.
type Shipment struct {
	StoreID        uint64   `json:"store_id"`
	OrderID        string   `json:"order_id"`
	LineIDs        []string `json:"line_ids"`
	TrackingNumber string   `json:"tracking_number"`
	Carrier        string   `json:"carrier,omitempty"`
	Notify         bool     `json:"notify"`
}
