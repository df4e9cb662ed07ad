package httprouter

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-gateway/gateway/internal/adapter/outbound/httpupstream"
	"github.com/mcp-gateway/gateway/internal/adapter/outbound/memstore"
	"github.com/mcp-gateway/gateway/internal/domain/capture"
	"github.com/mcp-gateway/gateway/internal/domain/upstream"
	pkgmcp "github.com/mcp-gateway/gateway/pkg/mcp"
)

type fakeCaptureStorage struct {
	records []capture.Record
}

func (f *fakeCaptureStorage) WriteRecord(ctx context.Context, rec capture.Record) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeCaptureStorage) BackfillServerInfo(ctx context.Context, serverName, sessionID, requestID string, info capture.ServerInfo) error {
	return nil
}

type fakeHTTPSender struct {
	result *httpupstream.Result
	err    error
}

func (f *fakeHTTPSender) Forward(ctx context.Context, sessionID string, req *pkgmcp.Message) (*httpupstream.Result, error) {
	return f.result, f.err
}

type fakeStdioSender struct {
	resp *pkgmcp.Message
	err  error
}

func (f *fakeStdioSender) Send(ctx context.Context, sessionID string, req *pkgmcp.Message) (*pkgmcp.Message, error) {
	return f.resp, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, cfgs ...upstream.Config) (*Router, *memstore.UpstreamStore, *fakeCaptureStorage) {
	t.Helper()
	store := memstore.NewUpstreamStore()
	for _, cfg := range cfgs {
		require.NoError(t, store.Add(context.Background(), &cfg))
	}
	registry := upstream.NewRegistry(cfgs)
	storage := &fakeCaptureStorage{}
	pipeline := capture.NewPipeline(storage, capture.NewRequestTracker(testLogger()), capture.NewSessionInfoCache(), testLogger())
	return NewRouter(store, registry, pipeline, nil, testLogger()), store, storage
}

func jsonRPCRequest(method string, id string) string {
	return `{"jsonrpc":"2.0","id":` + id + `,"method":"` + method + `"}`
}

func TestRouter_UnknownServer_Returns404(t *testing.T) {
	rt, _, _ := newTestRouter(t)
	srv := httptest.NewServer(rt.Mux(nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/servers/missing/mcp", "application/json", strings.NewReader(jsonRPCRequest("tools/list", "1")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_MalformedJSON_Returns400(t *testing.T) {
	rt, _, _ := newTestRouter(t, upstream.Config{Name: "fs", Type: upstream.TypeHTTP, URL: "http://example.invalid"})
	rt.RegisterHTTP("fs", &fakeHTTPSender{})
	srv := httptest.NewServer(rt.Mux(nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/servers/fs/mcp", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "-32700")
}

func TestRouter_HTTPUpstream_JSONRoundTrip(t *testing.T) {
	rt, _, storage := newTestRouter(t, upstream.Config{Name: "fs", Type: upstream.TypeHTTP, URL: "http://example.invalid"})
	respBody := []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)
	rt.RegisterHTTP("fs", &fakeHTTPSender{result: &httpupstream.Result{
		Kind:        httpupstream.JSONResultKind,
		StatusCode:  http.StatusOK,
		ContentType: "application/json",
		Message:     &pkgmcp.Message{Raw: respBody, Direction: pkgmcp.ServerToClient},
	}})
	srv := httptest.NewServer(rt.Mux(nil))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/servers/fs/mcp", strings.NewReader(jsonRPCRequest("tools/list", "1")))
	req.Header.Set("Mcp-Session-Id", "s1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, string(respBody), string(body))
	assert.Equal(t, "s1", resp.Header.Get("Mcp-Session-Id"))

	require.Len(t, storage.records, 2)
	assert.Equal(t, capture.DirectionRequest, storage.records[0].Direction)
	assert.Equal(t, capture.DirectionResponse, storage.records[1].Direction)
}

func TestRouter_StdioUpstream_JSONRoundTrip(t *testing.T) {
	rt, _, storage := newTestRouter(t, upstream.Config{Name: "fs", Type: upstream.TypeStdio, Command: "mcp-server-fs"})
	respBody := []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)
	rt.RegisterStdio("fs", &fakeStdioSender{resp: &pkgmcp.Message{Raw: respBody, Direction: pkgmcp.ServerToClient}})
	srv := httptest.NewServer(rt.Mux(nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/s/fs/mcp", "application/json", strings.NewReader(jsonRPCRequest("tools/list", "1")))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, string(respBody), string(body))
	require.Len(t, storage.records, 2)
}

func TestRouter_HTTPUpstream_SessionAdoption_PairsRequestAndResponse(t *testing.T) {
	rt, _, storage := newTestRouter(t, upstream.Config{Name: "fs", Type: upstream.TypeHTTP, URL: "http://example.invalid"})
	respBody := []byte(`{"jsonrpc":"2.0","id":1,"result":{"serverInfo":{"name":"fs","version":"1.0"}}}`)
	rt.RegisterHTTP("fs", &fakeHTTPSender{result: &httpupstream.Result{
		Kind:        httpupstream.JSONResultKind,
		StatusCode:  http.StatusOK,
		ContentType: "application/json",
		SessionID:   "minted-by-upstream",
		Message:     &pkgmcp.Message{Raw: respBody, Direction: pkgmcp.ServerToClient},
	}})
	srv := httptest.NewServer(rt.Mux(nil))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/servers/fs/mcp", strings.NewReader(jsonRPCRequest("initialize", "1")))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "minted-by-upstream", resp.Header.Get("Mcp-Session-Id"))

	require.Len(t, storage.records, 2)
	assert.Equal(t, capture.DirectionRequest, storage.records[0].Direction)
	assert.Equal(t, "minted-by-upstream", storage.records[0].SessionID)
	assert.Equal(t, capture.DirectionResponse, storage.records[1].Direction)
	assert.Equal(t, "minted-by-upstream", storage.records[1].SessionID)
}

func TestRouter_HTTPUpstream_SessionAdoption_UpstreamFailureStillPersistsRequest(t *testing.T) {
	rt, _, storage := newTestRouter(t, upstream.Config{Name: "fs", Type: upstream.TypeHTTP, URL: "http://example.invalid"})
	rt.RegisterHTTP("fs", &fakeHTTPSender{err: assertErr{}})
	srv := httptest.NewServer(rt.Mux(nil))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/servers/fs/mcp", strings.NewReader(jsonRPCRequest("initialize", "1")))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	require.Len(t, storage.records, 2)
	assert.Equal(t, capture.DirectionRequest, storage.records[0].Direction)
	assert.Equal(t, capture.StatelessSessionID, storage.records[0].SessionID)
	assert.Equal(t, capture.DirectionError, storage.records[1].Direction)
}

func TestRouter_UpstreamTransportFailure_Returns502(t *testing.T) {
	rt, _, storage := newTestRouter(t, upstream.Config{Name: "fs", Type: upstream.TypeHTTP, URL: "http://example.invalid"})
	rt.RegisterHTTP("fs", &fakeHTTPSender{err: assertErr{}})
	srv := httptest.NewServer(rt.Mux(nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/servers/fs/mcp", "application/json", strings.NewReader(jsonRPCRequest("tools/list", "1")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	require.Len(t, storage.records, 2)
	assert.Equal(t, capture.DirectionError, storage.records[1].Direction)
}

func TestRouter_NoSenderRegistered_Returns502(t *testing.T) {
	rt, _, _ := newTestRouter(t, upstream.Config{Name: "fs", Type: upstream.TypeHTTP, URL: "http://example.invalid"})
	srv := httptest.NewServer(rt.Mux(nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/servers/fs/mcp", "application/json", strings.NewReader(jsonRPCRequest("tools/list", "1")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestRouter_BearerAuth_RejectsMissingToken(t *testing.T) {
	rt, _, _ := newTestRouter(t, upstream.Config{Name: "fs", Type: upstream.TypeHTTP, URL: "http://example.invalid"})
	rt.RegisterHTTP("fs", &fakeHTTPSender{})
	srv := httptest.NewServer(rt.Mux(rejectAllVerifier{}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/servers/fs/mcp", "application/json", strings.NewReader(jsonRPCRequest("tools/list", "1")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
}

type rejectAllVerifier struct{}

func (rejectAllVerifier) Verify(token string) bool { return false }

type assertErr struct{}

func (assertErr) Error() string { return "connection refused" }
