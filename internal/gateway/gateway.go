// Package gateway is the composition root: it constructs every adapter and
// domain service in dependency order and exposes the single http.Handler
// the CLI's run command listens with. No other package is allowed to wire
// more than one of C1-C11 together, keeping this the one place that can
// introduce a dependency cycle.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/mcp-gateway/gateway/internal/adapter/inbound/httprouter"
	"github.com/mcp-gateway/gateway/internal/adapter/inbound/management"
	"github.com/mcp-gateway/gateway/internal/adapter/outbound/httpupstream"
	"github.com/mcp-gateway/gateway/internal/adapter/outbound/memstore"
	"github.com/mcp-gateway/gateway/internal/adapter/outbound/redisstore"
	"github.com/mcp-gateway/gateway/internal/adapter/outbound/sqlitestore"
	"github.com/mcp-gateway/gateway/internal/adapter/outbound/stdioproc"
	"github.com/mcp-gateway/gateway/internal/config"
	"github.com/mcp-gateway/gateway/internal/domain/auth"
	"github.com/mcp-gateway/gateway/internal/domain/capture"
	"github.com/mcp-gateway/gateway/internal/domain/storage"
	"github.com/mcp-gateway/gateway/internal/domain/upstream"
	"github.com/mcp-gateway/gateway/internal/service"
	"github.com/mcp-gateway/gateway/internal/telemetry"
)

// Gateway owns every long-lived component's lifecycle. Construct with New,
// call Init once, serve Handler(), then Close on shutdown.
type Gateway struct {
	cfg *config.GatewayConfig
	log *slog.Logger

	store     upstream.Store
	registry  *upstream.Registry
	backend   *storage.Manager
	pipeline  *capture.Pipeline
	health    *service.HealthMonitor
	router    *httprouter.Router
	mgmt      *management.Server
	wellKnown *httprouter.DiscoveryProxy
	telemetry *telemetry.Provider

	mu sync.Mutex
	// sessionManagers holds the stdio supervisors this gateway started, so
	// Deactivate/Close can shut each down in turn.
	sessionManagers map[string]*stdioproc.SessionManager

	// runCtx is the long-lived context health watches and future activations
	// run under; it is cancelled by Close, independent of any one request's
	// context.
	runCtx context.Context
	cancel context.CancelFunc
}

// New wires every component against cfg but starts nothing; call Init to
// bring upstreams online.
func New(cfg *config.GatewayConfig, log *slog.Logger) (*Gateway, error) {
	if log == nil {
		log = slog.Default()
	}

	g := &Gateway{cfg: cfg, log: log, sessionManagers: make(map[string]*stdioproc.SessionManager)}

	tp, err := telemetry.Setup(cfg.DevMode, "mcp-gateway")
	if err != nil {
		return nil, fmt.Errorf("gateway: telemetry init: %w", err)
	}
	g.telemetry = tp

	g.store = memstore.NewUpstreamStore()
	g.registry = upstream.NewRegistry(nil)

	backend, err := g.buildStorageManager()
	if err != nil {
		return nil, fmt.Errorf("gateway: storage init: %w", err)
	}
	g.backend = backend

	tracker := capture.NewRequestTracker(log)
	sessionInfo := capture.NewSessionInfoCache()
	g.pipeline = capture.NewPipeline(g.backend, tracker, sessionInfo, log)

	g.health = service.NewHealthMonitor(g.registry, log)

	reg := prometheus.NewRegistry()
	metrics := httprouter.NewMetrics(reg)
	g.router = httprouter.NewRouter(g.store, g.registry, g.pipeline, metrics, log)
	g.wellKnown = httprouter.NewDiscoveryProxy(g.store, cfg.Server.PublicURL)
	g.mgmt = management.New(g.store, g.backend, g.registry, g, log)

	return g, nil
}

func (g *Gateway) buildStorageManager() (*storage.Manager, error) {
	mgr := storage.NewManager(g.log)

	switch g.cfg.Storage.Backend {
	case "memory":
		mgr.Register(memstore.NewCaptureStore())
	default:
		path := g.cfg.Storage.Dir + "/gateway.db"
		sqlite, err := sqlitestore.Open(path)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		mgr.Register(sqlite)
	}

	if g.cfg.Storage.SecondaryRedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: g.cfg.Storage.SecondaryRedisAddr})
		mgr.Register(redisstore.New(client))
	}

	return mgr, nil
}

// Init restores persisted servers, registers the configured ones, starts
// every stdio supervisor, and begins health probing. ctx governs the
// gateway's whole running lifetime; Close cancels it.
func (g *Gateway) Init(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	g.runCtx = runCtx
	g.cancel = cancel

	persisted, err := g.backend.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("gateway: loading persisted servers: %w", err)
	}

	supplementPath := g.serverListPath()
	supplement, err := config.LoadServerList(supplementPath)
	if err != nil {
		return fmt.Errorf("gateway: loading server list supplement: %w", err)
	}

	all := append(append(persisted, g.cfg.Servers...), supplement...)
	for _, cfg := range all {
		cfg.Normalize()
		if err := g.addAndActivate(ctx, cfg); err != nil {
			return fmt.Errorf("gateway: registering server %q: %w", cfg.Name, err)
		}
	}

	registered, err := g.store.List(ctx)
	if err != nil {
		return fmt.Errorf("gateway: listing registered servers: %w", err)
	}
	if err := config.SaveServerList(supplementPath, registered); err != nil {
		g.log.Warn("failed to write server list supplement", "error", err, "path", supplementPath)
	}

	return nil
}

// serverListPath is the standalone, hand-editable server-list supplement
// file alongside the storage directory (spec §3's config-variant note).
// Disabled for the in-memory storage backend (ephemeral by definition, so
// nothing should land on disk) or an unset storage dir.
func (g *Gateway) serverListPath() string {
	if g.cfg.Storage.Backend == "memory" || g.cfg.Storage.Dir == "" {
		return ""
	}
	return filepath.Join(g.cfg.Storage.Dir, "servers.yaml")
}

func (g *Gateway) addAndActivate(ctx context.Context, cfg upstream.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := g.store.Get(ctx, cfg.Name); err != nil {
		if err := g.store.Add(ctx, &cfg); err != nil {
			return err
		}
	}
	g.registry.AddServer(cfg)
	return g.Activate(ctx, cfg)
}

// Activate makes cfg routable: for HTTP servers it registers an
// httpupstream.Client with the proxy router and starts HTTP health
// probing; for stdio servers it spawns the supervised subprocess first,
// then registers it and starts stdio health watching. Implements
// management.Activator so the add_server tool can bring a server online
// the same way Init does at startup.
func (g *Gateway) Activate(ctx context.Context, cfg upstream.Config) error {
	switch cfg.Type {
	case upstream.TypeHTTP:
		client := httpupstream.New(cfg)
		g.router.RegisterHTTP(cfg.Name, client)
		g.health.WatchHTTP(g.runCtx, cfg, client)
	case upstream.TypeStdio:
		sm := stdioproc.NewSessionManager(cfg, g.log)
		sm.SetSessionEvictedHook(g.pipeline.EvictSession)
		if err := sm.Initialize(ctx); err != nil {
			return fmt.Errorf("starting stdio process: %w", err)
		}
		g.mu.Lock()
		g.sessionManagers[cfg.Name] = sm
		g.mu.Unlock()
		g.router.RegisterStdio(cfg.Name, sm)
		g.health.WatchStdio(g.runCtx, cfg, sm)
	default:
		return fmt.Errorf("unknown server type %q", cfg.Type)
	}
	return nil
}

// Deactivate takes a server back offline: stops health probing, removes it
// from the proxy router, and shuts down its stdio supervisor if it has one -
// which, for isolated mode, also evicts every one of its sessions from the
// capture pipeline's in-memory correlation state via the hook set in
// Activate. Implements management.Activator for the remove_server tool.
func (g *Gateway) Deactivate(name string) {
	g.router.Unregister(name)
	g.health.Unwatch(name)

	g.mu.Lock()
	sm, ok := g.sessionManagers[name]
	if ok {
		delete(g.sessionManagers, name)
	}
	g.mu.Unlock()

	if ok {
		sm.Shutdown(context.Background())
	}
}

// Handler returns the composed http.Handler: proxy routes, well-known OAuth
// discovery passthrough, the management MCP endpoint, and /health. The proxy
// and management routes are behind bearer auth when cfg.Auth.TokenHash is
// set; the well-known discovery routes and /health are not.
func (g *Gateway) Handler() http.Handler {
	var verifier httprouter.BearerVerifier
	if g.cfg.Auth.TokenHash != "" {
		verifier = auth.NewVerifier(g.cfg.Auth.TokenHash)
	}

	mux := http.NewServeMux()
	mux.Handle("/", g.router.Mux(verifier))
	// Well-known OAuth/OpenID discovery passthrough (spec §6): the resource
	// path is "/servers/{name}/mcp", so RFC 9728-style discovery inserts that
	// path after the well-known segment. openid-configuration is additionally
	// served at the resource-relative shape some clients probe instead.
	mux.Handle("/.well-known/oauth-protected-resource/servers/{name}/mcp", g.wellKnown.Handler("/.well-known/oauth-protected-resource"))
	mux.Handle("/.well-known/oauth-authorization-server/servers/{name}/mcp", g.wellKnown.Handler("/.well-known/oauth-authorization-server"))
	mux.Handle("/.well-known/openid-configuration/servers/{name}/mcp", g.wellKnown.Handler("/.well-known/openid-configuration"))
	mux.Handle("/servers/{name}/mcp/.well-known/openid-configuration", g.wellKnown.Handler("/.well-known/openid-configuration"))

	mgmtHandler := g.mgmt.Handler()
	mux.Handle("/gateway/mcp", httprouter.BearerAuthMiddleware(verifier)(mgmtHandler))
	mux.Handle("/g/mcp", httprouter.BearerAuthMiddleware(verifier)(mgmtHandler))

	mux.HandleFunc("GET /health", g.handleHealth)

	return mux
}

// healthBody is /health's response shape: overall status plus every
// server's runtime view, per spec §6.
type healthBody struct {
	Status  string                 `json:"status"`
	Servers []upstream.RuntimeView `json:"servers"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	views := g.registry.Snapshot()
	status := "up"
	for _, v := range views {
		if v.Health != upstream.HealthUp {
			status = "down"
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(healthBody{Status: status, Servers: views})
}

// Close performs the ordered shutdown spec §4.11 describes: stop accepting
// new health probes, stop every stdio supervisor, close storage.
func (g *Gateway) Close(ctx context.Context) error {
	if g.cancel != nil {
		g.cancel()
	}
	g.health.Stop()

	g.mu.Lock()
	managers := make([]*stdioproc.SessionManager, 0, len(g.sessionManagers))
	for _, sm := range g.sessionManagers {
		managers = append(managers, sm)
	}
	g.mu.Unlock()

	for _, sm := range managers {
		sm.Shutdown(ctx)
	}
	g.pipeline.Clear()

	if err := g.telemetry.Shutdown(ctx); err != nil {
		g.log.Warn("telemetry shutdown failed", "error", err)
	}

	return g.backend.Close()
}

var _ management.Activator = (*Gateway)(nil)
