// Package sqlitestore is the primary storage.Backend: a pure-Go, cgo-free
// SQLite database (modernc.org/sqlite) holding capture records and server
// configuration under the gateway's configured storage directory.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mcp-gateway/gateway/internal/domain/capture"
	"github.com/mcp-gateway/gateway/internal/domain/storage"
	"github.com/mcp-gateway/gateway/internal/domain/upstream"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp     INTEGER NOT NULL,
	server_name   TEXT NOT NULL,
	session_id    TEXT NOT NULL,
	direction     TEXT NOT NULL,
	method        TEXT,
	request_id    TEXT,
	client_info   TEXT,
	server_info   TEXT,
	request_json  TEXT,
	response_json TEXT,
	http_status   INTEGER,
	duration_ms   INTEGER,
	sse_event_id  TEXT
);
CREATE INDEX IF NOT EXISTS idx_records_server_session ON records(server_name, session_id);
CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(timestamp);

CREATE TABLE IF NOT EXISTS servers (
	name                    TEXT PRIMARY KEY,
	type                    TEXT NOT NULL,
	url                     TEXT,
	headers_json            TEXT,
	command                 TEXT,
	args_json               TEXT,
	cwd                     TEXT,
	env_json                TEXT,
	session_mode            TEXT,
	request_timeout_ns      INTEGER,
	health_check_interval_ns INTEGER
);
`

// Store is a storage.Backend backed by a single SQLite database file.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path (typically
// "<storageDir>/gateway.db") and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway; avoids SQLITE_BUSY churn

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) WriteRecord(ctx context.Context, rec capture.Record) error {
	clientInfo, err := json.Marshal(rec.ClientInfo)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal client info: %w", err)
	}
	serverInfo, err := json.Marshal(rec.ServerInfo)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal server info: %w", err)
	}
	reqJSON, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal request: %w", err)
	}
	respJSON, err := json.Marshal(rec.Response)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal response: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (
			timestamp, server_name, session_id, direction, method, request_id,
			client_info, server_info, request_json, response_json, http_status,
			duration_ms, sse_event_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UnixNano(), rec.ServerName, rec.SessionID, string(rec.Direction),
		rec.Method, rec.ID, string(clientInfo), string(serverInfo), string(reqJSON),
		string(respJSON), rec.HTTPStatus, rec.DurationMs, rec.SSEEventID,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert record: %w", err)
	}
	return nil
}

func (s *Store) BackfillServerInfo(ctx context.Context, serverName, sessionID, requestID string, info capture.ServerInfo) error {
	serverInfo, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal server info: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE records SET server_info = ?
		WHERE direction = ? AND server_name = ? AND session_id = ? AND request_id = ?`,
		string(serverInfo), string(capture.DirectionRequest), serverName, sessionID, requestID,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: backfill server info: %w", err)
	}
	return nil
}

// QueryRecords returns records matching filter ordered by id ascending.
// The cursor is the last-seen row id; pass it back to resume after it.
func (s *Store) QueryRecords(ctx context.Context, filter capture.Filter) ([]capture.Record, string, error) {
	query := `SELECT id, timestamp, server_name, session_id, direction, method, request_id,
		client_info, server_info, request_json, response_json, http_status, duration_ms, sse_event_id
		FROM records WHERE 1=1`
	var args []interface{}

	if filter.ServerName != "" {
		query += " AND server_name = ?"
		args = append(args, filter.ServerName)
	}
	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Method != "" {
		query += " AND method = ?"
		args = append(args, filter.Method)
	}
	if filter.Direction != "" {
		query += " AND direction = ?"
		args = append(args, string(filter.Direction))
	}
	if !filter.StartTime.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartTime.UnixNano())
	}
	if !filter.EndTime.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndTime.UnixNano())
	}
	if filter.Cursor != "" {
		if cursorID, err := strconv.ParseInt(filter.Cursor, 10, 64); err == nil {
			query += " AND id > ?"
			args = append(args, cursorID)
		}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY id ASC LIMIT ?"
	args = append(args, limit+1) // fetch one extra to know whether there's a next page

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("sqlitestore: query: %w", err)
	}
	defer rows.Close()

	var records []capture.Record
	var ids []int64
	for rows.Next() {
		var id int64
		var tsNano int64
		var direction, clientInfoJSON, serverInfoJSON, reqJSON, respJSON string
		var rec capture.Record
		if err := rows.Scan(&id, &tsNano, &rec.ServerName, &rec.SessionID, &direction, &rec.Method,
			&rec.ID, &clientInfoJSON, &serverInfoJSON, &reqJSON, &respJSON, &rec.HTTPStatus,
			&rec.DurationMs, &rec.SSEEventID); err != nil {
			return nil, "", fmt.Errorf("sqlitestore: scan: %w", err)
		}
		rec.Timestamp = time.Unix(0, tsNano)
		rec.Direction = capture.Direction(direction)
		_ = json.Unmarshal([]byte(clientInfoJSON), &rec.ClientInfo)
		_ = json.Unmarshal([]byte(serverInfoJSON), &rec.ServerInfo)
		_ = json.Unmarshal([]byte(reqJSON), &rec.Request)
		_ = json.Unmarshal([]byte(respJSON), &rec.Response)
		records = append(records, rec)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("sqlitestore: rows: %w", err)
	}

	nextCursor := ""
	if len(records) > limit {
		records = records[:limit]
		ids = ids[:limit]
		nextCursor = strconv.FormatInt(ids[len(ids)-1], 10)
	}
	return records, nextCursor, nil
}

func (s *Store) SaveServer(ctx context.Context, cfg upstream.Config) error {
	headers, err := json.Marshal(cfg.Headers)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal headers: %w", err)
	}
	args, err := json.Marshal(cfg.Args)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal args: %w", err)
	}
	env, err := json.Marshal(cfg.Env)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal env: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO servers (
			name, type, url, headers_json, command, args_json, cwd, env_json,
			session_mode, request_timeout_ns, health_check_interval_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			type = excluded.type, url = excluded.url, headers_json = excluded.headers_json,
			command = excluded.command, args_json = excluded.args_json, cwd = excluded.cwd,
			env_json = excluded.env_json, session_mode = excluded.session_mode,
			request_timeout_ns = excluded.request_timeout_ns,
			health_check_interval_ns = excluded.health_check_interval_ns`,
		cfg.Name, string(cfg.Type), cfg.URL, string(headers), cfg.Command, string(args),
		cfg.Cwd, string(env), string(cfg.SessionMode), cfg.RequestTimeout.Nanoseconds(),
		cfg.HealthCheckInterval.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: save server: %w", err)
	}
	return nil
}

func (s *Store) DeleteServer(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE name = ?`, name); err != nil {
		return fmt.Errorf("sqlitestore: delete server: %w", err)
	}
	return nil
}

func (s *Store) ListServers(ctx context.Context) ([]upstream.Config, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, type, url, headers_json, command, args_json, cwd, env_json,
			session_mode, request_timeout_ns, health_check_interval_ns
		FROM servers ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list servers: %w", err)
	}
	defer rows.Close()

	var out []upstream.Config
	for rows.Next() {
		var cfg upstream.Config
		var typ, sessionMode, headersJSON, argsJSON, envJSON string
		var requestTimeoutNs, healthCheckIntervalNs int64
		if err := rows.Scan(&cfg.Name, &typ, &cfg.URL, &headersJSON, &cfg.Command, &argsJSON,
			&cfg.Cwd, &envJSON, &sessionMode, &requestTimeoutNs, &healthCheckIntervalNs); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan server: %w", err)
		}
		cfg.Type = upstream.Type(typ)
		cfg.SessionMode = upstream.SessionMode(sessionMode)
		cfg.RequestTimeout = time.Duration(requestTimeoutNs)
		cfg.HealthCheckInterval = time.Duration(healthCheckIntervalNs)
		_ = json.Unmarshal([]byte(headersJSON), &cfg.Headers)
		_ = json.Unmarshal([]byte(argsJSON), &cfg.Args)
		_ = json.Unmarshal([]byte(envJSON), &cfg.Env)
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: rows: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ storage.Backend = (*Store)(nil)
