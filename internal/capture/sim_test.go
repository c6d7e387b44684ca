package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSimFrames(t *testing.T) {
	s := NewSim(SimConfig{Width: 8, Height: 4, FPS: 1000})
	defer s.Release()

	f1, err := s.Read(context.Background())
	require.NoError(t, err)
	require.NoError(t, f1.Validate())
	require.NotEmpty(t, f1.TraceID)

	f2, err := s.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, f1.Seq+1, f2.Seq)
	require.NotEqual(t, f1.TraceID, f2.TraceID)
}

func TestSimFailAfterIsFatal(t *testing.T) {
	s := NewSim(SimConfig{Width: 2, Height: 2, FPS: 1000, FailAfter: 2})

	for i := 0; i < 2; i++ {
		_, err := s.Read(context.Background())
		require.NoError(t, err)
	}
	_, err := s.Read(context.Background())
	require.True(t, IsFatal(err))

	stats := s.Stats()
	require.Equal(t, uint64(2), stats.FramesRead)
	require.Equal(t, uint64(1), stats.Errors)
	require.Equal(t, "2x2", stats.Resolution)
	require.False(t, stats.IsConnected)
}

func TestSimReleasedIsFatal(t *testing.T) {
	s := NewSim(SimConfig{Width: 2, Height: 2})
	require.NoError(t, s.Release())
	require.NoError(t, s.Release())

	_, err := s.Read(context.Background())
	require.True(t, IsFatal(err))
}

func TestSimReadHonorsContext(t *testing.T) {
	s := NewSim(SimConfig{Width: 2, Height: 2, FPS: 1})
	_, err := s.Read(context.Background()) // first frame is immediate
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Read(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, IsFatal(err))
}
