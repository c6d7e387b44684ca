package hardware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimBoardPumpFillsWater(t *testing.T) {
	b := NewSimBoard(SimConfig{FeedDistanceCM: 50, WaterDistanceCM: 100, FillRateCM: 10, DrainRateCM: 1})
	require.NoError(t, b.Validate())

	d, _ := b.WaterLevel.DistanceCM()
	require.Equal(t, 100.0, d)

	require.NoError(t, b.WaterPump.On())
	d, _ = b.WaterLevel.DistanceCM()
	require.Equal(t, 90.0, d)

	require.NoError(t, b.WaterPump.Off())
	d, _ = b.WaterLevel.DistanceCM()
	require.Equal(t, 90.0, d)
	require.Equal(t, uint64(2), b.Pump.Switches())
}

func TestSimButtonSingleRead(t *testing.T) {
	b := NewSimBoard(SimConfig{})
	b.FeedBtn.Press()

	p, _ := b.FeedButton.Pressed()
	require.True(t, p)
	p, _ = b.FeedButton.Pressed()
	require.False(t, p)
}

func TestSimSensorFailure(t *testing.T) {
	b := NewSimBoard(SimConfig{})
	b.Feed.FailWith(ErrGone)
	_, err := b.FeedLevel.DistanceCM()
	require.True(t, errors.Is(err, ErrGone))
}
