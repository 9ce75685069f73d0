// Package eventfeed adapts suppliers that report order progress as a feed of
// operation events rather than a single status field.
package eventfeed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/FulfillBox/internal/integrations/httpx"
	"github.com/BearBump/FulfillBox/internal/integrations/supplier"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	apiKey  string
	domain  string
	httpc   *httpx.Client
}

func New(baseURL, apiKey, domain string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		domain:  domain,
		httpc:   httpx.New("supplier eventfeed", 10*time.Second),
	}
}

type feedEvent struct {
	OperationDateTime  string `json:"operationDateTime"`
	OperationAttribute string `json:"operationAttribute"`
	OperationType      string `json:"operationType"`
	OperationPlaceName string `json:"operationPlaceName"`
	Carrier            string `json:"carrier"`
}

type feedResp struct {
	Status string `json:"status"`
	Data   struct {
		OrderID   string      `json:"orderId"`
		OrderIDs  []string    `json:"orderIds"`
		TrackCode string      `json:"trackCode"`
		Events    []feedEvent `json:"events"`
	} `json:"data"`
	Message string `json:"message"`
}

func (c *Client) PlaceOrder(ctx context.Context, req supplier.PurchaseRequest) (supplier.PlaceResult, error) {
	u, err := c.url("/order.json.php", nil)
	if err != nil {
		return supplier.PlaceResult{}, err
	}
	var r feedResp
	if err := c.httpc.DoJSON(ctx, http.MethodPost, u, nil, req, &r); err != nil {
		return supplier.PlaceResult{}, err
	}
	if r.Status != "ok" {
		return supplier.PlaceResult{}, fmt.Errorf("eventfeed place order status=%s: %s", r.Status, r.Message)
	}
	ids := r.Data.OrderIDs
	if r.Data.OrderID != "" {
		ids = append([]string{r.Data.OrderID}, ids...)
	}
	return supplier.PlaceResult{OrderIDs: ids}, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, supplierOrderID string) (supplier.OrderStatus, error) {
	u, err := c.url("/tracking.json.php", url.Values{"code": {supplierOrderID}, "pretty": {"true"}})
	if err != nil {
		return supplier.OrderStatus{}, err
	}
	var r feedResp
	if err := c.httpc.DoJSON(ctx, http.MethodGet, u, nil, nil, &r); err != nil {
		return supplier.OrderStatus{}, err
	}
	if r.Status != "ok" {
		return supplier.OrderStatus{}, fmt.Errorf("eventfeed status=%s", r.Status)
	}

	out := supplier.OrderStatus{TrackingNumber: r.Data.TrackCode}
	last, ok := latestEvent(r.Data.Events)
	if ok {
		out.StatusCode = strings.ToUpper(strings.TrimSpace(last.OperationType))
		out.Detail = last.OperationAttribute
		out.Carrier = last.Carrier
	}
	return out, nil
}

// latestEvent picks the newest event by operationDateTime ("02.01.2006 15:04:05").
// Events with unparsable times keep feed order.
func latestEvent(evs []feedEvent) (feedEvent, bool) {
	if len(evs) == 0 {
		return feedEvent{}, false
	}
	best := evs[len(evs)-1]
	var bestAt time.Time
	for _, e := range evs {
		t, err := time.ParseInLocation("02.01.2006 15:04:05", e.OperationDateTime, time.UTC)
		if err != nil {
			continue
		}
		if t.After(bestAt) || t.Equal(bestAt) {
			bestAt = t
			best = e
		}
	}
	return best, true
}

func (c *Client) url(path string, q url.Values) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	u.Path = path
	if q == nil {
		q = url.Values{}
	}
	q.Set("apiKey", c.apiKey)
	q.Set("domain", c.domain)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
