package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/BearBump/FulfillBox/internal/api/fulfillapi"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeDB struct{ err error }

func (f fakeDB) Ping(ctx context.Context) error { return f.err }

type emptyTracks struct {
	fulfillapi.Tracks
}

func (emptyTracks) List(ctx context.Context, storeID uint64, orderID string) ([]*models.OrderTrack, error) {
	return []*models.OrderTrack{}, nil
}

func writeSwagger(t *testing.T) string {
	t.Helper()
	sw := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))
	return sw
}

func TestRouter(t *testing.T) {
	api := fulfillapi.New(nil, emptyTracks{}, nil, nil, nil, nil)
	srv := httptest.NewServer(newRouter(api, writeSwagger(t), fakeDB{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/swagger.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	require.Contains(t, string(body), `"swagger"`)

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/stores/7/orders/1001/tracks")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"tracks":[]}`, string(body))
}

func TestRouter_NotReady(t *testing.T) {
	api := fulfillapi.New(nil, emptyTracks{}, nil, nil, nil, nil)
	srv := httptest.NewServer(newRouter(api, writeSwagger(t), fakeDB{err: errors.New("down")}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRunFulfillAPI_SwaggerServed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := fulfillAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: writeSwagger(t),
		onListen:    func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runFulfillAPI(ctx, opts, fulfillapi.New(nil, emptyTracks{}, nil, nil, nil, nil), fakeDB{})
	}()
	httpAddr := <-addrCh

	resp, err := http.Get("http://" + httpAddr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestRunFulfillAPI_MissingSwagger(t *testing.T) {
	err := runFulfillAPI(context.Background(), fulfillAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "nope.json"),
	}, nil, nil)
	require.Error(t, err)
}
