// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mcpmcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/virtualmcp/vmcpd/pkg/storage/mocks"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

func TestNewMonitorDefaults(t *testing.T) {
	t.Parallel()

	m := NewMonitor(nil, MonitorConfig{})
	assert.Equal(t, defaultMonitorInterval, m.interval)
	assert.Equal(t, defaultPingTimeout, m.timeout)

	m = NewMonitor(nil, MonitorConfig{Interval: time.Second, PingTimeout: time.Second})
	assert.Equal(t, time.Second, m.interval)
	assert.Equal(t, time.Second, m.timeout)
}

func TestMonitorLifecycle(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := mocks.NewMockServerStore(ctrl)
	reg := newTestRegistry(t, store)
	m := NewMonitor(reg, MonitorConfig{Interval: 10 * time.Millisecond})

	// Waiting before Start returns immediately.
	m.WaitForInitialSweep()

	require.NoError(t, m.Start(context.Background()))
	m.WaitForInitialSweep()

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	require.NoError(t, m.Stop())

	err = m.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")

	err = m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be restarted")
}

func TestMonitorPingsConnectedSessions(t *testing.T) {
	t.Parallel()

	url, counter := startUpstream(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockServerStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "up-1").Return(serverRecord("up-1", "fixture", url), nil)
	store.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	reg := newTestRegistry(t, store)

	sess, err := reg.GetOrOpen(context.Background(), "up-1")
	require.NoError(t, err)
	baseline := counter.count()

	m := NewMonitor(reg, MonitorConfig{Interval: 10 * time.Millisecond, PingTimeout: time.Second})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop() })

	require.Eventually(t, func() bool {
		return counter.count() > baseline
	}, 2*time.Second, 5*time.Millisecond, "pings should reach the upstream")
	assert.Equal(t, vmcp.StateConnected, sess.State())
}

func TestMonitorMarksDeadUpstream(t *testing.T) {
	t.Parallel()

	mcpSrv := mcpserver.NewMCPServer("mortal-fixture", "1.0.0")
	mcpSrv.AddTool(
		mcpmcp.NewTool("echo", mcpmcp.WithDescription("Echoes input.")),
		func(_ context.Context, _ mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
			return mcpmcp.NewToolResultText("ok"), nil
		},
	)
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(mcpSrv))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	ctrl := gomock.NewController(t)
	store := mocks.NewMockServerStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "up-1").
		Return(serverRecord("up-1", "mortal", srv.URL+"/mcp"), nil)
	store.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	reg := newTestRegistry(t, store)

	sess, err := reg.GetOrOpen(context.Background(), "up-1")
	require.NoError(t, err)
	require.Equal(t, vmcp.StateConnected, sess.State())

	m := NewMonitor(reg, MonitorConfig{Interval: 20 * time.Millisecond, PingTimeout: time.Second})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop() })
	m.WaitForInitialSweep()

	srv.Close()

	require.Eventually(t, func() bool {
		return sess.State() == vmcp.StateError
	}, 3*time.Second, 10*time.Millisecond, "a failed ping should mark the session")
	assert.NotEmpty(t, sess.LastError())
}

func TestMonitorSkipsDisconnectedSessions(t *testing.T) {
	t.Parallel()

	url, counter := startUpstream(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockServerStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "up-1").Return(serverRecord("up-1", "fixture", url), nil)
	store.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	reg := newTestRegistry(t, store)

	sess, err := reg.GetOrOpen(context.Background(), "up-1")
	require.NoError(t, err)
	require.NoError(t, sess.Disconnect())
	baseline := counter.count()

	m := NewMonitor(reg, MonitorConfig{Interval: 10 * time.Millisecond, PingTimeout: time.Second})
	require.NoError(t, m.Start(context.Background()))
	m.WaitForInitialSweep()
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, m.Stop())

	assert.Equal(t, baseline, counter.count(), "disconnected sessions must not be pinged")
	assert.Equal(t, vmcp.StateDisconnected, sess.State())
}
