// Package httpupstream forwards prepared JSON-RPC requests to HTTP
// Streamable MCP upstreams and classifies the response as either a single
// JSON message or an SSE stream the caller must frame itself.
package httpupstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mcp-gateway/gateway/internal/domain/upstream"
	pkgmcp "github.com/mcp-gateway/gateway/pkg/mcp"
)

// maxResponseBodySize bounds a buffered JSON response read from an upstream,
// preventing an unbounded or malicious response from exhausting memory.
const maxResponseBodySize = 10 * 1024 * 1024 // 10MB

// sessionHeader is the MCP-defined header carrying the session identifier
// in both directions of the Streamable HTTP transport.
const sessionHeader = "Mcp-Session-Id"

// ResultKind distinguishes the two ways an upstream may answer a request.
type ResultKind int

const (
	// JSONResultKind is a single buffered JSON-RPC message.
	JSONResultKind ResultKind = iota
	// SSEResultKind is a text/event-stream body the caller must frame via
	// sse.Framer and stream through to the client as it arrives.
	SSEResultKind
)

// Result is what Forward returns: either a decoded JSON message or an open
// SSE body, plus the status code and session id the upstream answered with.
type Result struct {
	Kind ResultKind

	// StatusCode is the upstream's HTTP response status.
	StatusCode int

	// SessionID is the value of the upstream's Mcp-Session-Id response
	// header, or "" if it sent none (the common case once a session is
	// already established).
	SessionID string

	// Message is populated for JSONResultKind.
	Message *pkgmcp.Message

	// Body is populated for SSEResultKind. The caller owns it and must
	// Close it once done reading (or on early abort).
	Body io.ReadCloser

	ContentType string
}

// Client forwards single JSON-RPC requests to one configured HTTP upstream.
// Grounded on the teacher's HTTPClient (same TLS floor, same response-size
// cap) but reshaped from "own a persistent pipe pair" into "forward one
// request, return a tagged result", since this gateway proxies many
// concurrent client sessions rather than owning a single long-lived stream.
type Client struct {
	cfg        upstream.Config
	httpClient *http.Client
}

// New creates a client for cfg, which must have Type == upstream.TypeHTTP.
func New(cfg upstream.Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.EffectiveRequestTimeout(),
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Forward sends req to the upstream as an HTTP POST, attaching sessionID as
// the Mcp-Session-Id request header when non-empty. The returned Result's
// Kind tells the caller whether to read Message or stream Body.
func (c *Client) Forward(ctx context.Context, sessionID string, req *pkgmcp.Message) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(req.Raw))
	if err != nil {
		return nil, fmt.Errorf("httpupstream: build request: %w", err)
	}
	httpReq.ContentLength = int64(len(req.Raw))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	if sessionID != "" {
		httpReq.Header.Set(sessionHeader, sessionID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("httpupstream: request failed: %w", err)
	}

	adoptedSessionID := resp.Header.Get(sessionHeader)
	contentType := resp.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "text/event-stream") {
		return &Result{
			Kind:        SSEResultKind,
			StatusCode:  resp.StatusCode,
			SessionID:   adoptedSessionID,
			Body:        resp.Body,
			ContentType: contentType,
		}, nil
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("httpupstream: read response: %w", err)
	}

	msg := &pkgmcp.Message{Raw: body, Direction: pkgmcp.ServerToClient, Timestamp: time.Now()}
	if decoded, err := pkgmcp.DecodeMessage(body); err == nil {
		msg.Decoded = decoded
	}

	return &Result{
		Kind:        JSONResultKind,
		StatusCode:  resp.StatusCode,
		SessionID:   adoptedSessionID,
		Message:     msg,
		ContentType: contentType,
	}, nil
}

// Probe issues an HTTP OPTIONS request against the upstream for
// HealthMonitor, returning nil if the upstream answered within timeout.
func (c *Client) Probe(ctx context.Context, timeout time.Duration) error {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodOptions, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("httpupstream: build probe request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpupstream: probe failed: %w", err)
	}
	defer resp.Body.Close()
	return nil
}
