package detector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/e7canasta/coop-sensor/internal/types"
)

var coopClasses = []string{"cat", "chicken", "dog", "rat", "snake"}

func frameWithSeq(seq uint64) types.Frame {
	return types.Frame{Seq: seq, Width: 640, Height: 480, Data: make([]byte, 640*480*3)}
}

func TestSimDeterministicCounts(t *testing.T) {
	d := NewSim(SimConfig{MaxObjects: 3, IntruderEvery: 4})

	dets, err := d.Detect(context.Background(), frameWithSeq(2), 0.5, coopClasses)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	for _, det := range dets {
		require.Equal(t, "chicken", det.Class)
	}

	dets, err = d.Detect(context.Background(), frameWithSeq(4), 0.5, coopClasses)
	require.NoError(t, err)
	// 4 % 4 = 0 chickens, plus the intruder
	require.Len(t, dets, 1)
	require.Equal(t, "cat", dets[0].Class)
}

func TestSimConfidenceFilter(t *testing.T) {
	d := NewSim(SimConfig{MaxObjects: 3, IntruderEvery: 1})
	dets, err := d.Detect(context.Background(), frameWithSeq(1), 0.85, coopClasses)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.Equal(t, "chicken", dets[0].Class)
}

func TestSimInjectedFailure(t *testing.T) {
	d := NewSim(SimConfig{FailEvery: 2})
	_, err := d.Detect(context.Background(), frameWithSeq(1), 0.5, coopClasses)
	require.NoError(t, err)
	_, err = d.Detect(context.Background(), frameWithSeq(2), 0.5, coopClasses)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrGone)
}

func TestSimBoxesInsideFrame(t *testing.T) {
	d := NewSim(SimConfig{MaxObjects: 8, IntruderEvery: 1})
	f := frameWithSeq(8)
	dets, err := d.Detect(context.Background(), f, 0.1, coopClasses)
	require.NoError(t, err)
	for _, det := range dets {
		require.GreaterOrEqual(t, det.BBox.X1, 0)
		require.LessOrEqual(t, det.BBox.X2, f.Width)
		require.LessOrEqual(t, det.BBox.Y2, f.Height)
	}
}
