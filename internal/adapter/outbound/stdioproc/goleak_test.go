package stdioproc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestSessionManager_SharedMode_ShutdownLeavesNoGoroutines and its isolated
// counterpart guard against the one failure mode unit assertions on
// responses can't see: a supervisor whose reader/watchdog goroutines
// outlive Shutdown. Grounded on the teacher's
// internal/integration/multi_upstream_test.go, which checks the same thing
// around its own upstream manager's Close.
func TestSessionManager_SharedMode_ShutdownLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mgr := NewSessionManager(sharedConfig(), nil)
	require.NoError(t, mgr.Initialize(ctx))

	req := mustRequest(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	_, err := mgr.Send(ctx, "session-a", req)
	require.NoError(t, err)

	mgr.Shutdown(context.Background())
}

func TestSessionManager_IsolatedMode_ShutdownLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mgr := NewSessionManager(isolatedConfig(), nil)

	req := mustRequest(t, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	_, err := mgr.Send(ctx, "session-a", req)
	require.NoError(t, err)
	_, err = mgr.Send(ctx, "session-b", mustRequest(t, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	require.NoError(t, err)

	mgr.Shutdown(context.Background())
}
