package models

import "time"

// NoVariant is the sentinel variant id for products sold without variants.
const NoVariant = "-1"

// MappingSchemaVersion is the current version of the typed mapping tables.
const MappingSchemaVersion = 1

// NotifyMode is the store's send_shipping_confirmation setting.
type NotifyMode string

const (
	NotifyYes     NotifyMode = "yes"
	NotifyNo      NotifyMode = "no"
	NotifyDefault NotifyMode = "default"
)

// NotificationConfig is the subset of store settings the notification
// decision depends on.
type NotificationConfig struct {
	SendShippingConfirmation NotifyMode `json:"send_shipping_confirmation"`
	ValidateTrackingNumber   bool       `json:"validate_tracking_number"`
}

type Store struct {
	ID                 uint64
	Platform           string
	Title              string
	Active             bool
	AutoFulfill        bool
	UseDefaultSupplier bool
	Notification       NotificationConfig
	CreatedAt          time.Time
}

type Product struct {
	ID      uint64
	StoreID uint64
	Title   string
}

type Supplier struct {
	ID                uint64
	ProductID         uint64
	StoreID           uint64
	Name              string
	URL               string
	Type              string
	SupplierProductID string
	IsDefault         bool
	CreatedAt         time.Time
}

// VariantOption is one selected supplier option (color, size...) for a variant.
type VariantOption struct {
	Title string `json:"title"`
	SKU   string `json:"sku"`
	Image string `json:"image,omitempty"`
}

type VariantMapping struct {
	SupplierID    uint64
	VariantID     string
	Options       []VariantOption
	SchemaVersion int
}

type ShippingMethod struct {
	CountryCode string `json:"country_code"`
	MethodName  string `json:"method_name"`
}

type ShippingMapping struct {
	SupplierID    uint64
	VariantID     string
	Methods       []ShippingMethod
	SchemaVersion int
}

// BundleComponent is one sub-purchase a bundled variant expands into.
type BundleComponent struct {
	ProductID uint64 `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}
