package httprouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mcp-gateway/gateway/internal/domain/upstream"
)

// discoveryFetchTimeout bounds the round trip to the upstream's own
// discovery document.
const discoveryFetchTimeout = 5 * time.Second

// DiscoveryProxy rewrites an upstream's OAuth/OpenID discovery document so
// clients authenticate against the gateway's public URL rather than the
// upstream directly (spec §6: "replaces only the resource field"). Every
// other field is carried over through a generic JSON decode and re-encode,
// so key order, whitespace and number formatting are not preserved.
type DiscoveryProxy struct {
	store     upstream.Store
	publicURL string
	client    *http.Client
}

// NewDiscoveryProxy constructs a proxy that rewrites the "resource" field
// to "<publicURL>/servers/<name>/mcp".
func NewDiscoveryProxy(store upstream.Store, publicURL string) *DiscoveryProxy {
	return &DiscoveryProxy{
		store:     store,
		publicURL: publicURL,
		client:    &http.Client{Timeout: discoveryFetchTimeout},
	}
}

// Handler serves rewritten discovery documents for a fixed upstream
// discovery path suffix (e.g. "/.well-known/oauth-protected-resource"),
// fetching "<upstream url>/<suffix>" and substituting "resource".
func (p *DiscoveryProxy) Handler(suffix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := normalizeName(r.PathValue("name"))
		cfg, err := p.store.Get(r.Context(), name)
		if err != nil {
			if errors.Is(err, upstream.ErrNotFound) {
				http.Error(w, "server not registered", http.StatusNotFound)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if cfg.Type != upstream.TypeHTTP {
			http.Error(w, "discovery not applicable to this server", http.StatusNotFound)
			return
		}

		doc, err := p.fetchAndRewrite(r.Context(), cfg.URL+suffix, name)
		if err != nil {
			http.Error(w, "failed to fetch upstream discovery document", http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	})
}

func (p *DiscoveryProxy) fetchAndRewrite(ctx context.Context, upstreamURL, serverName string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstreamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("httprouter: build discovery request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httprouter: fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("httprouter: read discovery document: %w", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("httprouter: parse discovery document: %w", err)
	}

	if _, ok := doc["resource"]; ok {
		doc["resource"] = fmt.Sprintf("%s/servers/%s/mcp", p.publicURL, serverName)
	}

	return json.Marshal(doc)
}
