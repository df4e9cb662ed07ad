package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-gateway/gateway/internal/domain/upstream"
)

type fakeProber struct {
	calls int32
	err   error
}

func (f *fakeProber) Probe(ctx context.Context, timeout time.Duration) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

type fakeReporter struct {
	snapshot upstream.StdioRuntime
}

func (f *fakeReporter) RuntimeSnapshot() upstream.StdioRuntime {
	return f.snapshot
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventuallyTrue(t *testing.T, timeout time.Duration, f func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, f(), "condition not met within %s", timeout)
}

func TestHealthMonitor_WatchHTTP_MarksUpOnSuccess(t *testing.T) {
	registry := upstream.NewRegistry([]upstream.Config{{Name: "remote", Type: upstream.TypeHTTP, HealthCheckInterval: 10 * time.Millisecond}})
	mon := NewHealthMonitor(registry, testLogger())
	prober := &fakeProber{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon.WatchHTTP(ctx, upstream.Config{Name: "remote", HealthCheckInterval: 10 * time.Millisecond}, prober)

	eventuallyTrue(t, time.Second, func() bool {
		view, ok := registry.Get("remote")
		return ok && view.Health == upstream.HealthUp
	})
	mon.Stop()
}

func TestHealthMonitor_WatchHTTP_MarksDownOnFailure(t *testing.T) {
	registry := upstream.NewRegistry([]upstream.Config{{Name: "remote", Type: upstream.TypeHTTP}})
	mon := NewHealthMonitor(registry, testLogger())
	prober := &fakeProber{err: errors.New("connection refused")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon.WatchHTTP(ctx, upstream.Config{Name: "remote", HealthCheckInterval: 10 * time.Millisecond}, prober)

	eventuallyTrue(t, time.Second, func() bool {
		view, ok := registry.Get("remote")
		return ok && view.Health == upstream.HealthDown
	})
	mon.Stop()
}

func TestHealthMonitor_WatchStdio_ReflectsProcessStatus(t *testing.T) {
	registry := upstream.NewRegistry([]upstream.Config{{Name: "fs", Type: upstream.TypeStdio}})
	mon := NewHealthMonitor(registry, testLogger())
	reporter := &fakeReporter{snapshot: upstream.StdioRuntime{Status: upstream.ProcessCrashed, LastError: "exit 1"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon.WatchStdio(ctx, upstream.Config{Name: "fs", HealthCheckInterval: 10 * time.Millisecond}, reporter)

	eventuallyTrue(t, time.Second, func() bool {
		view, ok := registry.Get("fs")
		return ok && view.Health == upstream.HealthDown && view.Stdio != nil && view.Stdio.LastError == "exit 1"
	})
	mon.Stop()
}

func TestHealthMonitor_Unwatch_StopsFurtherProbes(t *testing.T) {
	registry := upstream.NewRegistry([]upstream.Config{{Name: "remote", Type: upstream.TypeHTTP}})
	mon := NewHealthMonitor(registry, testLogger())
	prober := &fakeProber{}

	ctx := context.Background()
	mon.WatchHTTP(ctx, upstream.Config{Name: "remote", HealthCheckInterval: 10 * time.Millisecond}, prober)

	eventuallyTrue(t, time.Second, func() bool { return atomic.LoadInt32(&prober.calls) > 0 })
	mon.Unwatch("remote")

	countAfterUnwatch := atomic.LoadInt32(&prober.calls)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, countAfterUnwatch, atomic.LoadInt32(&prober.calls))
}

func TestHealthMonitor_WatchHTTP_ReplacesExistingWatch(t *testing.T) {
	registry := upstream.NewRegistry([]upstream.Config{{Name: "remote", Type: upstream.TypeHTTP}})
	mon := NewHealthMonitor(registry, testLogger())
	first := &fakeProber{}
	second := &fakeProber{}

	ctx := context.Background()
	mon.WatchHTTP(ctx, upstream.Config{Name: "remote", HealthCheckInterval: 200 * time.Millisecond}, first)
	mon.WatchHTTP(ctx, upstream.Config{Name: "remote", HealthCheckInterval: 10 * time.Millisecond}, second)

	eventuallyTrue(t, time.Second, func() bool { return atomic.LoadInt32(&second.calls) > 1 })
	mon.Stop()
}
