// Package integration wires the gateway's components together directly
// (router, capture pipeline, storage, health monitor) the same way
// gateway.Gateway does, exercising full request/response paths across real
// net/http and subprocess boundaries rather than mocking any one layer.
// Grounded on the teacher's internal/integration black-box style
// (mcp_fullpath_test.go, multi_upstream_test.go).
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-gateway/gateway/internal/adapter/inbound/httprouter"
	"github.com/mcp-gateway/gateway/internal/adapter/outbound/httpupstream"
	"github.com/mcp-gateway/gateway/internal/adapter/outbound/memstore"
	"github.com/mcp-gateway/gateway/internal/adapter/outbound/stdioproc"
	"github.com/mcp-gateway/gateway/internal/domain/capture"
	"github.com/mcp-gateway/gateway/internal/domain/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture bundles the components a gateway wires together, minus the
// composition root itself, so tests can inspect the capture store directly.
type fixture struct {
	store    *memstore.UpstreamStore
	backend  *memstore.CaptureStore
	registry *upstream.Registry
	router   *httprouter.Router
}

func newFixture() *fixture {
	store := memstore.NewUpstreamStore()
	backend := memstore.NewCaptureStore()
	registry := upstream.NewRegistry(nil)
	tracker := capture.NewRequestTracker(testLogger())
	sessionInfo := capture.NewSessionInfoCache()
	pipeline := capture.NewPipeline(backend, tracker, sessionInfo, testLogger())
	router := httprouter.NewRouter(store, registry, pipeline, nil, testLogger())
	return &fixture{store: store, backend: backend, registry: registry, router: router}
}

// echoScript is a tiny stdio MCP fixture: for every JSON-RPC line it reads,
// it replies with a response carrying the same id and an empty result.
const echoScript = `while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\s*\("\{0,1\}[^",}]*"\{0,1\}\).*/\1/p')
  printf '{"jsonrpc":"2.0","id":%s,"result":{}}\n' "$id"
done`

// TestHTTPRoundTrip covers spec scenario 1: register an HTTP server, proxy
// one initialize call through it, and confirm the upstream saw the request,
// the client got the upstream's response, and two records (request,
// response) were persisted.
func TestHTTPRoundTrip(t *testing.T) {
	var gotBody []byte
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"serverInfo":{"name":"demo","version":"1"}}}`))
	}))
	defer upstreamSrv.Close()

	f := newFixture()
	cfg := upstream.Config{Name: "demo", Type: upstream.TypeHTTP, URL: upstreamSrv.URL}
	cfg.Normalize()
	require.NoError(t, f.store.Add(context.Background(), &cfg))
	f.registry.AddServer(cfg)
	f.router.RegisterHTTP(cfg.Name, httpupstream.New(cfg))

	gatewaySrv := httptest.NewServer(f.router.Mux(nil))
	defer gatewaySrv.Close()

	reqBody := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"t","version":"0"}}}`
	resp, err := http.Post(gatewaySrv.URL+"/servers/demo/mcp", "application/json", bytes.NewReader([]byte(reqBody)))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, reqBody, string(gotBody))

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, float64(1), decoded["id"])

	records, _, err := f.backend.QueryRecords(context.Background(), capture.Filter{ServerName: "demo"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, capture.DirectionRequest, records[0].Direction)
	assert.Equal(t, capture.DirectionResponse, records[1].Direction)
}

// TestHTTPRoundTrip_SessionAdoption covers spec §9: an inbound initialize
// call with no Mcp-Session-Id header, where the upstream mints one in its
// response. Both the request and response records must persist under the
// minted id, not the "stateless" sentinel the request started with.
func TestHTTPRoundTrip_SessionAdoption(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Mcp-Session-Id", "upstream-minted")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"serverInfo":{"name":"demo","version":"1"}}}`))
	}))
	defer upstreamSrv.Close()

	f := newFixture()
	cfg := upstream.Config{Name: "demo", Type: upstream.TypeHTTP, URL: upstreamSrv.URL}
	cfg.Normalize()
	require.NoError(t, f.store.Add(context.Background(), &cfg))
	f.registry.AddServer(cfg)
	f.router.RegisterHTTP(cfg.Name, httpupstream.New(cfg))

	gatewaySrv := httptest.NewServer(f.router.Mux(nil))
	defer gatewaySrv.Close()

	reqBody := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"t","version":"0"}}}`
	resp, err := http.Post(gatewaySrv.URL+"/servers/demo/mcp", "application/json", bytes.NewReader([]byte(reqBody)))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "upstream-minted", resp.Header.Get("Mcp-Session-Id"))

	records, _, err := f.backend.QueryRecords(context.Background(), capture.Filter{ServerName: "demo"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, capture.DirectionRequest, records[0].Direction)
	assert.Equal(t, "upstream-minted", records[0].SessionID)
	assert.Equal(t, capture.DirectionResponse, records[1].Direction)
	assert.Equal(t, "upstream-minted", records[1].SessionID)
}

// TestUnknownServer_NoRecordPersisted covers spec scenario 6: a proxy
// request against an unregistered server name returns 404 and never
// reaches the capture pipeline.
func TestUnknownServer_NoRecordPersisted(t *testing.T) {
	f := newFixture()
	gatewaySrv := httptest.NewServer(f.router.Mux(nil))
	defer gatewaySrv.Close()

	resp, err := http.Post(gatewaySrv.URL+"/servers/missing/mcp", "application/json", bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	records, _, err := f.backend.QueryRecords(context.Background(), capture.Filter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

// TestStdioRoundTrip covers the stdio half of scenario 1: a shared-mode
// subprocess receives the namespaced request and its response is restored
// to the client's original id.
func TestStdioRoundTrip(t *testing.T) {
	f := newFixture()
	cfg := upstream.Config{
		Name:        "echo",
		Type:        upstream.TypeStdio,
		Command:     "/bin/sh",
		Args:        []string{"-c", echoScript},
		SessionMode: upstream.SessionShared,
	}
	cfg.Normalize()
	require.NoError(t, f.store.Add(context.Background(), &cfg))
	f.registry.AddServer(cfg)

	sm := stdioproc.NewSessionManager(cfg, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sm.Initialize(ctx))
	defer sm.Shutdown(context.Background())

	f.router.RegisterStdio(cfg.Name, sm)

	gatewaySrv := httptest.NewServer(f.router.Mux(nil))
	defer gatewaySrv.Close()

	resp, err := http.Post(gatewaySrv.URL+"/servers/echo/mcp", "application/json", bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":7,"method":"ping"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, float64(7), decoded["id"])

	records, _, err := f.backend.QueryRecords(context.Background(), capture.Filter{ServerName: "echo"})
	require.NoError(t, err)
	require.Len(t, records, 2)
}
