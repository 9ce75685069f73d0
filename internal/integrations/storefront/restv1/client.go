package restv1

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/FulfillBox/internal/integrations/httpx"
	"github.com/BearBump/FulfillBox/internal/integrations/storefront"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Client is a storefront adapter for platforms exposing the generic v1 JSON
// order API.
type Client struct {
	baseURL string
	token   string
	httpc   *httpx.Client
}

func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   httpx.New("storefront restv1", 15*time.Second),
	}
}

func (c *Client) WithRetry(attempts uint64, wait time.Duration) *Client {
	c.httpc.WithRetry(attempts, wait)
	return c
}

type orderDTO struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Note    string         `json:"note"`
	Tags    string         `json:"tags"`
	Address models.Address `json:"shipping_address"`
	Lines   []struct {
		ID        string          `json:"id"`
		ProductID uint64          `json:"product_id"`
		VariantID string          `json:"variant_id"`
		Title     string          `json:"title"`
		Quantity  int             `json:"quantity"`
		Shipped   int             `json:"fulfilled_quantity"`
		Price     decimal.Decimal `json:"price"`
	} `json:"line_items"`
	Fulfillments []struct {
		ID             string   `json:"id"`
		LineIDs        []string `json:"line_ids"`
		Quantity       int      `json:"quantity"`
		TrackingNumber string   `json:"tracking_number"`
		Carrier        string   `json:"carrier"`
	} `json:"fulfillments"`
}

func (d orderDTO) toModel(storeID uint64) *models.Order {
	o := &models.Order{
		ID:      d.ID,
		StoreID: storeID,
		Name:    d.Name,
		Note:    d.Note,
		Address: d.Address,
	}
	for _, t := range strings.Split(d.Tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			o.Tags = append(o.Tags, t)
		}
	}
	for _, l := range d.Lines {
		o.Lines = append(o.Lines, models.LineItem{
			ID:        l.ID,
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Title:     l.Title,
			Quantity:  l.Quantity,
			Shipped:   l.Shipped,
			Price:     l.Price,
		})
	}
	for _, f := range d.Fulfillments {
		o.Shipping = append(o.Shipping, models.Fulfillment{
			ID:             f.ID,
			LineIDs:        f.LineIDs,
			Quantity:       f.Quantity,
			TrackingNumber: f.TrackingNumber,
			Carrier:        f.Carrier,
		})
	}
	return o
}

func (c *Client) FetchOrder(ctx context.Context, storeID uint64, orderID string) (*models.Order, error) {
	var rb struct {
		Order orderDTO `json:"order"`
	}
	if err := c.call(ctx, http.MethodGet, c.orderPath(storeID, orderID), nil, nil, &rb); err != nil {
		return nil, err
	}
	return rb.Order.toModel(storeID), nil
}

func (c *Client) SearchOrders(ctx context.Context, storeID uint64, orderIDs []string) ([]*models.Order, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	var rb struct {
		Orders []orderDTO `json:"orders"`
	}
	q := url.Values{"ids": {strings.Join(orderIDs, ",")}, "limit": {fmt.Sprint(len(orderIDs))}}
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/v1/stores/%d/orders", storeID), q, nil, &rb); err != nil {
		return nil, err
	}
	out := make([]*models.Order, 0, len(rb.Orders))
	for _, d := range rb.Orders {
		out = append(out, d.toModel(storeID))
	}
	return out, nil
}

func (c *Client) GetNote(ctx context.Context, storeID uint64, orderID string) (string, error) {
	var rb struct {
		Note string `json:"note"`
	}
	if err := c.call(ctx, http.MethodGet, c.orderPath(storeID, orderID)+"/note", nil, nil, &rb); err != nil {
		return "", err
	}
	return rb.Note, nil
}

func (c *Client) WriteNote(ctx context.Context, storeID uint64, orderID, note string) error {
	return c.call(ctx, http.MethodPut, c.orderPath(storeID, orderID)+"/note", nil, map[string]string{"note": note}, nil)
}

func (c *Client) AddTags(ctx context.Context, storeID uint64, orderID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	return c.call(ctx, http.MethodPost, c.orderPath(storeID, orderID)+"/tags", nil, map[string][]string{"tags": tags}, nil)
}

func (c *Client) CreateFulfillment(ctx context.Context, storeID uint64, orderID string, in storefront.FulfillmentInput) (string, error) {
	var rb struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, c.orderPath(storeID, orderID)+"/fulfillments", nil, in, &rb); err != nil {
		return "", err
	}
	return rb.ID, nil
}

func (c *Client) DeleteFulfillment(ctx context.Context, storeID uint64, orderID, fulfillmentID string) error {
	p := c.orderPath(storeID, orderID) + "/fulfillments/" + url.PathEscape(fulfillmentID)
	return c.call(ctx, http.MethodDelete, p, nil, nil, nil)
}

func (c *Client) orderPath(storeID uint64, orderID string) string {
	return fmt.Sprintf("/v1/stores/%d/orders/%s", storeID, url.PathEscape(orderID))
}

func (c *Client) call(ctx context.Context, method, path string, q url.Values, in, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u.Path = path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return c.httpc.DoJSON(ctx, method, u.String(), h, in, out)
}
