// Package httpx holds the request/retry plumbing shared by the storefront and
// supplier REST adapters.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

type Client struct {
	service  string
	httpc    *http.Client
	attempts uint64
	wait     time.Duration
}

func New(service string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		service:  service,
		httpc:    &http.Client{Timeout: timeout},
		attempts: 3,
		wait:     500 * time.Millisecond,
	}
}

// WithRetry overrides how many times a 429 is retried and the initial sleep.
func (c *Client) WithRetry(attempts uint64, wait time.Duration) *Client {
	c.attempts = attempts
	c.wait = wait
	return c
}

// DoJSON sends in (when non-nil) as a JSON body and decodes the response into
// out (when non-nil). 429 is retried with a short growing sleep; other failures
// are classified into RemoteTransientError / RemoteFatalError.
func (c *Client) DoJSON(ctx context.Context, method, url string, header http.Header, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = b
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.wait
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.attempts), ctx)

	return backoff.Retry(func() error {
		err := c.do(ctx, method, url, header, body, out)
		var tr *models.RemoteTransientError
		if errors.As(err, &tr) && tr.StatusCode == http.StatusTooManyRequests {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, policy)
}

func (c *Client) do(ctx context.Context, method, url string, header http.Header, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &models.RemoteTransientError{Service: c.service, Err: err}
	}
	defer resp.Body.Close()

	if rerr := models.RemoteErrorForStatus(c.service, resp.StatusCode); rerr != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return rerr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode")
	}
	return nil
}
