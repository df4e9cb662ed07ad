package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-gateway/gateway/internal/domain/upstream"
)

func TestLoadServerList_MissingFileReturnsNilNoError(t *testing.T) {
	servers, err := LoadServerList(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Nil(t, servers)
}

func TestLoadServerList_EmptyPathIsDisabled(t *testing.T) {
	servers, err := LoadServerList("")
	require.NoError(t, err)
	assert.Nil(t, servers)
}

func TestServerList_SaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	want := []upstream.Config{
		{Name: "fs", Type: upstream.TypeHTTP, URL: "https://fs.example.com"},
		{Name: "shell", Type: upstream.TypeStdio, Command: "/bin/sh", Args: []string{"-c", "echo hi"}},
	}

	require.NoError(t, SaveServerList(path, want))

	got, err := LoadServerList(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, want[0].Name, got[0].Name)
	assert.Equal(t, want[0].URL, got[0].URL)
	assert.Equal(t, want[1].Command, got[1].Command)
	assert.Equal(t, want[1].Args, got[1].Args)
}

func TestSaveServerList_EmptyPathIsNoop(t *testing.T) {
	assert.NoError(t, SaveServerList("", []upstream.Config{{Name: "fs"}}))
}
