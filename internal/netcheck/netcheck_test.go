package netcheck

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/e7canasta/coop-sensor/internal/coord"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckTransitions(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	online := coord.NewFlag(false)
	m := New(Config{Address: addr, Timeout: time.Second}, online, coord.NewHealth(), quietLogger())

	require.True(t, m.Check(context.Background()))
	require.True(t, online.IsSet())

	require.NoError(t, ln.Close())
	require.False(t, m.Check(context.Background()))
	require.False(t, online.IsSet())

	stats := m.Stats()
	require.Equal(t, uint64(2), stats["checks"])
	require.Equal(t, uint64(1), stats["failures"])
	require.Equal(t, uint64(2), stats["transitions"])
}

func TestRunExitsOnHealthFail(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	health := coord.NewHealth()
	online := coord.NewFlag(false)
	m := New(Config{Address: ln.Addr().String(), Interval: time.Hour, Timeout: time.Second}, online, health, quietLogger())

	done := make(chan struct{})
	go func() {
		_ = m.Run(context.Background())
		close(done)
	}()

	require.Eventually(t, online.IsSet, time.Second, 5*time.Millisecond)
	health.Fail("test")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
