// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/virtualmcp/vmcpd/pkg/logger"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/upstream"
)

const (
	// defaultMonitorInterval is the pause between ping sweeps.
	defaultMonitorInterval = 30 * time.Second

	// defaultPingTimeout bounds each individual ping.
	defaultPingTimeout = 10 * time.Second
)

// MonitorConfig configures the background ping monitor.
type MonitorConfig struct {
	// Interval between ping sweeps. Defaults to 30s.
	Interval time.Duration

	// PingTimeout bounds each individual ping. Defaults to 10s.
	PingTimeout time.Duration
}

// Monitor periodically pings live sessions so dead upstreams are marked
// before a request trips over them. A failed ping moves the session to the
// error state through the session's own machinery, which also persists the
// transition; an errored session's ping doubles as a paced reconnect probe.
//
// Sessions in deliberate terminal states (idle, disconnected, auth_required)
// are left alone: pinging them would dial upstreams the operator shut down
// or re-trigger an authorization round.
type Monitor struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration

	// mu guards the lifecycle flags.
	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc

	wg             sync.WaitGroup
	initialSweepWg sync.WaitGroup
}

// NewMonitor creates a monitor over the registry's sessions. Zero config
// fields select defaults.
func NewMonitor(reg *Registry, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultMonitorInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaultPingTimeout
	}
	return &Monitor{
		registry: reg,
		interval: cfg.Interval,
		timeout:  cfg.PingTimeout,
	}
}

// Start begins the sweep loop. The first sweep runs immediately;
// WaitForInitialSweep blocks until it completes.
//
// A monitor cannot be restarted after Stop. Create a new monitor instead.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return fmt.Errorf("monitor has been stopped and cannot be restarted")
	}
	if m.started {
		return fmt.Errorf("monitor already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.started = true

	logger.Infof("Starting upstream ping monitor (interval %s)", m.interval)

	m.wg.Add(1)
	m.initialSweepWg.Add(1)
	go m.run(runCtx)
	return nil
}

// WaitForInitialSweep blocks until the first sweep after Start completes.
// It returns immediately when the monitor was never started.
func (m *Monitor) WaitForInitialSweep() {
	m.initialSweepWg.Wait()
}

// Stop cancels the sweep loop and waits for in-flight pings to finish.
// Returns an error if the monitor was not started.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return fmt.Errorf("monitor not started")
	}
	m.started = false
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	logger.Info("Upstream ping monitor stopped")
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sweep(ctx)
	m.initialSweepWg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep pings every connected or errored session concurrently and waits for
// the round to finish. Ping outcomes land in the sessions themselves.
func (m *Monitor) sweep(ctx context.Context) {
	var wg sync.WaitGroup
	m.registry.ForEach(func(sess *upstream.Session) {
		switch sess.State() {
		case vmcp.StateConnected, vmcp.StateError:
		default:
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			if err := sess.Ping(pingCtx); err != nil {
				logger.Debugf("Ping failed for upstream %s: %v", sess.ServerName(), err)
			}
		}()
	})
	wg.Wait()
}
