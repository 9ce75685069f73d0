package restv1

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/FulfillBox/internal/integrations/httpx"
	"github.com/BearBump/FulfillBox/internal/integrations/supplier"
	"github.com/pkg/errors"
)

// Client talks to a supplier exposing the generic v1 JSON placement API.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *httpx.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   httpx.New("supplier restv1", 10*time.Second),
	}
}

func (c *Client) WithRetry(attempts uint64, wait time.Duration) *Client {
	c.httpc.WithRetry(attempts, wait)
	return c
}

type placeResp struct {
	OrderID  string   `json:"order_id,omitempty"`
	OrderIDs []string `json:"order_ids,omitempty"`
}

type statusResp struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
	Detail         string `json:"detail"`
}

func (c *Client) PlaceOrder(ctx context.Context, req supplier.PurchaseRequest) (supplier.PlaceResult, error) {
	u, err := c.url("/v1/orders")
	if err != nil {
		return supplier.PlaceResult{}, err
	}
	var rb placeResp
	if err := c.httpc.DoJSON(ctx, http.MethodPost, u, c.header(), req, &rb); err != nil {
		return supplier.PlaceResult{}, err
	}
	ids := rb.OrderIDs
	if rb.OrderID != "" {
		ids = append([]string{rb.OrderID}, ids...)
	}
	return supplier.PlaceResult{OrderIDs: ids}, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, supplierOrderID string) (supplier.OrderStatus, error) {
	u, err := c.url(fmt.Sprintf("/v1/orders/%s", url.PathEscape(supplierOrderID)))
	if err != nil {
		return supplier.OrderStatus{}, err
	}
	var rb statusResp
	if err := c.httpc.DoJSON(ctx, http.MethodGet, u, c.header(), nil, &rb); err != nil {
		return supplier.OrderStatus{}, err
	}
	return supplier.OrderStatus{
		StatusCode:     rb.Status,
		TrackingNumber: rb.TrackingNumber,
		Carrier:        rb.Carrier,
		Detail:         rb.Detail,
	}, nil
}

func (c *Client) url(path string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	u.Path = path
	return u.String(), nil
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.apiKey != "" {
		h.Set("X-Api-Key", c.apiKey)
	}
	return h
}
