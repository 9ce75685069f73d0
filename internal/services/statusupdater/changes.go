package statusupdater

import (
	"github.com/BearBump/FulfillBox/internal/broker/messages"
	"github.com/BearBump/FulfillBox/internal/models"
)

// SupplierOrderNote is the note written after a purchase is placed.
func SupplierOrderNote(supplierOrderID string) string {
	return "Supplier Order ID: " + supplierOrderID
}

// Changes accumulates what should be written back to one storefront order.
type Changes struct {
	StoreID uint64
	OrderID string
	Notes   []string
	Tags    []string
	Status  models.TrackStatus
	UserID  *uint64
}

func NewChanges(storeID uint64, orderID string) *Changes {
	return &Changes{StoreID: storeID, OrderID: orderID}
}

func (c *Changes) AddNote(note string) *Changes {
	if note != "" {
		c.Notes = append(c.Notes, note)
	}
	return c
}

func (c *Changes) AddTags(tags ...string) *Changes {
	for _, t := range tags {
		if t != "" {
			c.Tags = append(c.Tags, t)
		}
	}
	return c
}

func (c *Changes) SetStatus(s models.TrackStatus) *Changes {
	c.Status = s
	return c
}

func (c *Changes) ActingUser(id uint64) *Changes {
	c.UserID = &id
	return c
}

func (c *Changes) Empty() bool {
	return len(c.Notes) == 0 && len(c.Tags) == 0 && c.Status == ""
}

func (c *Changes) validate() error {
	if c.StoreID == 0 {
		return models.NewValidationError("store_id", "is required")
	}
	if c.OrderID == "" {
		return models.NewValidationError("order_id", "is required")
	}
	if c.Status != "" && !c.Status.Valid() {
		return models.NewValidationError("status", "unknown status "+string(c.Status))
	}
	return nil
}

// Message is the delayed-task payload for c.
func (c *Changes) Message() messages.SaveChanges {
	return messages.SaveChanges{
		Notes:   append([]string(nil), c.Notes...),
		OrderID: c.OrderID,
		StoreID: c.StoreID,
		UserID:  c.UserID,
		Tags:    append([]string(nil), c.Tags...),
		Status:  string(c.Status),
	}
}

func ChangesFromMessage(m messages.SaveChanges) *Changes {
	return &Changes{
		StoreID: m.StoreID,
		OrderID: m.OrderID,
		Notes:   m.Notes,
		Tags:    m.Tags,
		Status:  models.TrackStatus(m.Status),
		UserID:  m.UserID,
	}
}
