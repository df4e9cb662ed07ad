package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-gateway/gateway/internal/domain/capture"
	"github.com/mcp-gateway/gateway/internal/domain/upstream"
)

func TestCaptureStore_WriteAndQuery(t *testing.T) {
	s := NewCaptureStore()
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, s.WriteRecord(ctx, capture.Record{
		Timestamp: base, ServerName: "fs", SessionID: "s1", Direction: capture.DirectionRequest, Method: "tools/list", ID: "1",
	}))
	require.NoError(t, s.WriteRecord(ctx, capture.Record{
		Timestamp: base.Add(time.Millisecond), ServerName: "fs", SessionID: "s1", Direction: capture.DirectionResponse, Method: "tools/list", ID: "1",
	}))
	require.NoError(t, s.WriteRecord(ctx, capture.Record{
		Timestamp: base.Add(2 * time.Millisecond), ServerName: "other", SessionID: "s2", Direction: capture.DirectionRequest, Method: "ping", ID: "2",
	}))

	records, cursor, err := s.QueryRecords(ctx, capture.Filter{ServerName: "fs"})
	require.NoError(t, err)
	assert.Empty(t, cursor)
	assert.Len(t, records, 2)
}

func TestCaptureStore_QueryPagination(t *testing.T) {
	s := NewCaptureStore()
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.WriteRecord(ctx, capture.Record{
			Timestamp: base.Add(time.Duration(i) * time.Millisecond), ServerName: "fs", Direction: capture.DirectionRequest, ID: string(rune('a' + i)),
		}))
	}

	page1, cursor1, err := s.QueryRecords(ctx, capture.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page1, 2)
	assert.NotEmpty(t, cursor1)

	page2, cursor2, err := s.QueryRecords(ctx, capture.Filter{Limit: 2, Cursor: cursor1})
	require.NoError(t, err)
	assert.Len(t, page2, 2)
	assert.NotEmpty(t, cursor2)

	page3, cursor3, err := s.QueryRecords(ctx, capture.Filter{Limit: 2, Cursor: cursor2})
	require.NoError(t, err)
	assert.Len(t, page3, 1)
	assert.Empty(t, cursor3)
}

func TestCaptureStore_BackfillServerInfo(t *testing.T) {
	s := NewCaptureStore()
	ctx := context.Background()
	require.NoError(t, s.WriteRecord(ctx, capture.Record{
		ServerName: "fs", SessionID: "s1", Direction: capture.DirectionRequest, Method: "initialize", ID: "1",
	}))

	require.NoError(t, s.BackfillServerInfo(ctx, "fs", "s1", "1", capture.ServerInfo{Name: "fs-server", Version: "2.0"}))

	records, _, err := s.QueryRecords(ctx, capture.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].ServerInfo)
	assert.Equal(t, "fs-server", records[0].ServerInfo.Name)
}

func TestCaptureStore_ServerCRUD(t *testing.T) {
	s := NewCaptureStore()
	ctx := context.Background()

	require.NoError(t, s.SaveServer(ctx, upstream.Config{Name: "alpha", Type: upstream.TypeHTTP, URL: "http://a"}))
	require.NoError(t, s.SaveServer(ctx, upstream.Config{Name: "beta", Type: upstream.TypeHTTP, URL: "http://b"}))

	servers, err := s.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "alpha", servers[0].Name)

	require.NoError(t, s.DeleteServer(ctx, "alpha"))
	servers, err = s.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "beta", servers[0].Name)
}
