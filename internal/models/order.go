package models

import "github.com/shopspring/decimal"

// Order is a storefront order as returned by a platform adapter.
type Order struct {
	ID       string
	StoreID  uint64
	Name     string
	Note     string
	Tags     []string
	Address  Address
	Lines    []LineItem
	Shipping []Fulfillment
}

type Address struct {
	Name        string `json:"name"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city"`
	Province    string `json:"province,omitempty"`
	Zip         string `json:"zip"`
	CountryCode string `json:"country_code"`
	Phone       string `json:"phone,omitempty"`
}

type LineItem struct {
	ID        string
	ProductID uint64
	VariantID string
	Title     string
	Quantity  int
	Shipped   int
	Price     decimal.Decimal
}

// Fulfillment is a storefront-side shipment record.
type Fulfillment struct {
	ID             string
	LineIDs        []string
	Quantity       int
	TrackingNumber string
	Carrier        string
}

// Line returns the line with the given id.
func (o *Order) Line(id string) (LineItem, bool) {
	for _, l := range o.Lines {
		if l.ID == id {
			return l, true
		}
	}
	return LineItem{}, false
}

// FulfillmentFor returns the first fulfillment covering the line.
func (o *Order) FulfillmentFor(lineID string) (Fulfillment, bool) {
	for _, f := range o.Shipping {
		for _, id := range f.LineIDs {
			if id == lineID {
				return f, true
			}
		}
	}
	return Fulfillment{}, false
}
