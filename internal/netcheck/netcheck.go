// Package netcheck tracks whether the device can reach the internet.
package netcheck

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/e7canasta/coop-sensor/internal/coord"
)

// Config for the connectivity probe
type Config struct {
	Address  string        // host:port dialed over TCP
	Interval time.Duration
	Timeout  time.Duration
}

// Monitor periodically dials Address and keeps Online in sync.
type Monitor struct {
	cfg    Config
	online *coord.Flag
	health *coord.Health
	log    *slog.Logger
	dialer net.Dialer

	checks   atomic.Uint64
	failures atomic.Uint64
	changes  atomic.Uint64
}

// New creates a monitor writing to online. online should start set so that
// nothing is dropped before the first probe completes.
func New(cfg Config, online *coord.Flag, health *coord.Health, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Monitor{
		cfg:    cfg,
		online: online,
		health: health,
		log:    logger.With("component", "netcheck"),
	}
}

// ID returns the worker name
func (m *Monitor) ID() string { return "netcheck" }

// Run probes until the health signal is cleared or ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("connectivity monitor started", "address", m.cfg.Address, "interval", m.cfg.Interval)
	for m.health.Healthy() {
		m.Check(ctx)
		if ctx.Err() != nil || !m.health.Sleep(m.cfg.Interval) {
			break
		}
	}
	m.log.Info("connectivity monitor stopped")
	return nil
}

// Check performs one probe and updates the flag. Returns the new state.
func (m *Monitor) Check(ctx context.Context) bool {
	m.checks.Add(1)

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	conn, err := m.dialer.DialContext(ctx, "tcp", m.cfg.Address)
	up := err == nil
	if up {
		conn.Close()
	} else {
		m.failures.Add(1)
	}

	was := m.online.IsSet()
	m.online.Store(up)

	switch {
	case up && !was:
		m.changes.Add(1)
		m.log.Info("internet connection RESTORED", "address", m.cfg.Address)
	case !up && was:
		m.changes.Add(1)
		m.log.Warn("internet connection LOST", "address", m.cfg.Address, "error", err)
	}
	return up
}

// Stats returns probe counters
func (m *Monitor) Stats() map[string]interface{} {
	return map[string]interface{}{
		"online":      m.online.IsSet(),
		"checks":      m.checks.Load(),
		"failures":    m.failures.Load(),
		"transitions": m.changes.Load(),
	}
}
