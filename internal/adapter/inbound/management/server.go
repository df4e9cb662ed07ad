// Package management exposes the gateway's own control surface as an MCP
// server: add/remove/list upstream servers and search captured records,
// each a tool a client calls the same way it would call any other MCP
// tool. Grounded on the teacher's own management concerns (server add/
// remove/list) re-expressed as MCP tools instead of a bespoke REST API,
// per spec §4.11.
package management

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcp-gateway/gateway/internal/domain/capture"
	"github.com/mcp-gateway/gateway/internal/domain/storage"
	"github.com/mcp-gateway/gateway/internal/domain/upstream"
)

// Activator brings a newly persisted server's transport online - registers
// it with the proxy router and starts health probing (or, for stdio
// servers, spawns the supervised process first) - or takes it back offline.
// The gateway facade implements this; management only owns persistence
// (upstream.Store, the storage backend, the runtime registry), never the
// router or health monitor directly.
type Activator interface {
	Activate(ctx context.Context, cfg upstream.Config) error
	Deactivate(name string)
}

// Server wraps an mcp.Server exposing the gateway's management tools.
type Server struct {
	store     upstream.Store
	backend   storage.Backend
	registry  *upstream.Registry
	activator Activator
	log       *slog.Logger

	mcpServer *mcp.Server
}

// New builds the management MCP server and registers its tools. backend is
// typically the storage.Manager (queried for search_records); registry
// supplies list_servers' live health/activity view.
func New(store upstream.Store, backend storage.Backend, registry *upstream.Registry, activator Activator, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{store: store, backend: backend, registry: registry, activator: activator, log: log}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "mcp-gateway",
		Version: "0.1.0",
	}, nil)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_server",
		Description: "Register a new upstream MCP server with the gateway.",
	}, s.addServer)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "remove_server",
		Description: "Unregister an upstream MCP server from the gateway.",
	}, s.removeServer)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_servers",
		Description: "List every registered upstream server and its current runtime state.",
	}, s.listServers)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "search_records",
		Description: "Search captured request/response/SSE-event records.",
	}, s.searchRecords)

	return s
}

// Handler serves the management MCP over HTTP Streamable transport, mounted
// at /gateway/mcp and /g/mcp per spec §6.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
}

// AddServerArgs is add_server's input.
type AddServerArgs struct {
	Name                string            `json:"name"`
	Type                string            `json:"type"`
	URL                 string            `json:"url,omitempty"`
	Headers             map[string]string `json:"headers,omitempty"`
	Command             string            `json:"command,omitempty"`
	Args                []string          `json:"args,omitempty"`
	Cwd                 string            `json:"cwd,omitempty"`
	Env                 map[string]string `json:"env,omitempty"`
	SessionMode         string            `json:"session_mode,omitempty"`
	RequestTimeoutSec   int               `json:"request_timeout_seconds,omitempty"`
	HealthCheckInterval int               `json:"health_check_interval_seconds,omitempty"`
}

// AddServerResult is add_server's output.
type AddServerResult struct {
	Name string `json:"name"`
}

func (s *Server) addServer(ctx context.Context, _ *mcp.CallToolRequest, in AddServerArgs) (*mcp.CallToolResult, AddServerResult, error) {
	cfg := &upstream.Config{
		Name:                in.Name,
		Type:                upstream.Type(in.Type),
		URL:                 in.URL,
		Headers:             in.Headers,
		Command:             in.Command,
		Args:                in.Args,
		Cwd:                 in.Cwd,
		Env:                 in.Env,
		SessionMode:         upstream.SessionMode(in.SessionMode),
		RequestTimeout:      time.Duration(in.RequestTimeoutSec) * time.Second,
		HealthCheckInterval: time.Duration(in.HealthCheckInterval) * time.Second,
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, AddServerResult{}, fmt.Errorf("invalid server configuration: %w", err)
	}

	if err := s.store.Add(ctx, cfg); err != nil {
		return nil, AddServerResult{}, err
	}
	if err := s.backend.SaveServer(ctx, *cfg); err != nil {
		s.log.Warn("failed to persist new server, rolling back in-memory registration", "server_name", cfg.Name, "error", err)
		_ = s.store.Remove(ctx, cfg.Name)
		return nil, AddServerResult{}, fmt.Errorf("failed to persist server: %w", err)
	}
	s.registry.AddServer(*cfg)

	if err := s.activator.Activate(ctx, *cfg); err != nil {
		s.log.Warn("server persisted but failed to come online, rolling back", "server_name", cfg.Name, "error", err)
		_ = s.store.Remove(ctx, cfg.Name)
		_ = s.backend.DeleteServer(ctx, cfg.Name)
		s.registry.RemoveServer(cfg.Name)
		return nil, AddServerResult{}, fmt.Errorf("failed to activate server: %w", err)
	}

	s.log.Info("server added", "server_name", cfg.Name, "type", cfg.Type)
	return nil, AddServerResult{Name: cfg.Name}, nil
}

// RemoveServerArgs is remove_server's input.
type RemoveServerArgs struct {
	Name string `json:"name"`
}

// RemoveServerResult is remove_server's output.
type RemoveServerResult struct {
	Removed bool `json:"removed"`
}

func (s *Server) removeServer(ctx context.Context, _ *mcp.CallToolRequest, in RemoveServerArgs) (*mcp.CallToolResult, RemoveServerResult, error) {
	name := upstream.Config{Name: in.Name}
	name.Normalize()

	if err := s.store.Remove(ctx, name.Name); err != nil {
		return nil, RemoveServerResult{}, err
	}
	if err := s.backend.DeleteServer(ctx, name.Name); err != nil {
		s.log.Warn("server removed from memory but persistence delete failed", "server_name", name.Name, "error", err)
	}
	s.registry.RemoveServer(name.Name)
	s.activator.Deactivate(name.Name)

	s.log.Info("server removed", "server_name", name.Name)
	return nil, RemoveServerResult{Removed: true}, nil
}

// ListServersArgs is list_servers' input: presently empty, kept as a named
// type so the tool's schema is explicit rather than inferred from `any`.
type ListServersArgs struct{}

// ListServersResult is list_servers' output.
type ListServersResult struct {
	Servers []upstream.RuntimeView `json:"servers"`
}

func (s *Server) listServers(_ context.Context, _ *mcp.CallToolRequest, _ ListServersArgs) (*mcp.CallToolResult, ListServersResult, error) {
	return nil, ListServersResult{Servers: s.registry.Snapshot()}, nil
}

// SearchRecordsArgs is search_records' input, mirroring capture.Filter.
type SearchRecordsArgs struct {
	ServerName string `json:"server_name,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Method     string `json:"method,omitempty"`
	Direction  string `json:"direction,omitempty"`
	StartTime  string `json:"start_time,omitempty"`
	EndTime    string `json:"end_time,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
}

// SearchRecordsResult is search_records' output.
type SearchRecordsResult struct {
	Records    []capture.Record `json:"records"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

func (s *Server) searchRecords(ctx context.Context, _ *mcp.CallToolRequest, in SearchRecordsArgs) (*mcp.CallToolResult, SearchRecordsResult, error) {
	filter := capture.Filter{
		ServerName: in.ServerName,
		SessionID:  in.SessionID,
		Method:     in.Method,
		Direction:  capture.Direction(in.Direction),
		Limit:      in.Limit,
		Cursor:     in.Cursor,
	}
	if in.StartTime != "" {
		t, err := time.Parse(time.RFC3339, in.StartTime)
		if err != nil {
			return nil, SearchRecordsResult{}, fmt.Errorf("start_time must be RFC3339: %w", err)
		}
		filter.StartTime = t
	}
	if in.EndTime != "" {
		t, err := time.Parse(time.RFC3339, in.EndTime)
		if err != nil {
			return nil, SearchRecordsResult{}, fmt.Errorf("end_time must be RFC3339: %w", err)
		}
		filter.EndTime = t
	}

	records, cursor, err := s.backend.QueryRecords(ctx, filter)
	if err != nil {
		return nil, SearchRecordsResult{}, err
	}
	return nil, SearchRecordsResult{Records: records, NextCursor: cursor}, nil
}
