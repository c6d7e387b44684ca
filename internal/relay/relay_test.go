package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/e7canasta/coop-sensor/internal/coord"
	"github.com/e7canasta/coop-sensor/internal/types"
)

type fakePublisher struct {
	mu       sync.Mutex
	frames   []string
	counts   []types.DetectionCounts
	frameErr error
}

func (p *fakePublisher) PublishFrame(_ context.Context, b64 string, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frameErr != nil {
		return p.frameErr
	}
	p.frames = append(p.frames, b64)
	return nil
}

func (p *fakePublisher) PublishCounts(_ context.Context, c types.DetectionCounts, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts = append(p.counts, c)
	return nil
}

func (p *fakePublisher) writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames) + len(p.counts)
}

func testSnapshot(seq uint64) types.Snapshot {
	return types.Snapshot{
		Frame:  types.Frame{Seq: seq, Width: 8, Height: 8, Data: make([]byte, 8*8*3), Timestamp: time.Now()},
		Counts: types.DetectionCounts{Chickens: 2, Intruders: 1},
	}
}

type relayHarness struct {
	w      *Worker
	in     *coord.Mailbox[types.Snapshot]
	live   *coord.Flag
	online *coord.Flag
	health *coord.Health
	pub    *fakePublisher
}

func newRelayHarness() *relayHarness {
	h := &relayHarness{
		in:     coord.NewMailbox[types.Snapshot](),
		live:   coord.NewFlag(false),
		online: coord.NewFlag(true),
		health: coord.NewHealth(),
		pub:    &fakePublisher{},
	}
	h.w = New(Config{IdleInterval: 5 * time.Millisecond, PollInterval: time.Millisecond}, Deps{
		In:     h.in,
		Live:   h.live,
		Online: h.online,
		Health: h.health,
		Sink:   h.pub,
	})
	return h
}

func TestStepLiveOffDoesNotTouchSink(t *testing.T) {
	h := newRelayHarness()
	h.in.Offer(testSnapshot(1))

	h.w.Step(context.Background())

	require.Zero(t, h.pub.writes())
	require.Zero(t, h.in.Len(), "snapshot is discarded while live is off")
	require.Equal(t, uint64(1), h.w.Metrics().Dropped)
}

func TestStepLiveOnAfterOffUploadsOnlyFreshSnapshot(t *testing.T) {
	h := newRelayHarness()
	h.in.Offer(testSnapshot(1))
	h.w.Step(context.Background())

	h.live.Set()
	h.w.Step(context.Background())
	require.Zero(t, h.pub.writes(), "nothing left from before live was turned on")

	h.in.Offer(testSnapshot(2))
	h.w.Step(context.Background())
	require.Len(t, h.pub.frames, 1)
}

func TestStepUploadsFrameAndCounts(t *testing.T) {
	h := newRelayHarness()
	h.live.Set()
	h.in.Offer(testSnapshot(1))

	h.w.Step(context.Background())

	require.Len(t, h.pub.frames, 1)
	require.Equal(t, []types.DetectionCounts{{Chickens: 2, Intruders: 1}}, h.pub.counts)

	raw, err := base64.StdEncoding.DecodeString(h.pub.frames[0])
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, 8, img.Bounds().Dx())

	require.Equal(t, uint64(1), h.w.Metrics().Published)
}

func TestStepEmptyMailbox(t *testing.T) {
	h := newRelayHarness()
	h.live.Set()

	h.w.Step(context.Background())
	require.Zero(t, h.pub.writes())
}

func TestStepFailedUploadIsDroppedNotRetried(t *testing.T) {
	h := newRelayHarness()
	h.live.Set()
	h.pub.frameErr = errors.New("503 service unavailable")

	h.in.Offer(testSnapshot(1))
	h.w.Step(context.Background())
	require.Equal(t, uint64(1), h.w.Metrics().Errors)
	require.Equal(t, 0, h.in.Len())

	h.pub.frameErr = nil
	h.w.Step(context.Background())
	require.Zero(t, h.pub.writes(), "failed snapshot must not be re-sent")
	require.True(t, h.health.Healthy())
}

func TestStepOfflineSkipsUpload(t *testing.T) {
	h := newRelayHarness()
	h.live.Set()
	h.online.Clear()

	h.in.Offer(testSnapshot(1))
	h.w.Step(context.Background())
	require.Zero(t, h.pub.writes())
	require.Equal(t, uint64(1), h.w.Metrics().Dropped)

	h.online.Set()
	h.in.Offer(testSnapshot(2))
	h.w.Step(context.Background())
	require.Len(t, h.pub.frames, 1)
}

func TestRunStopsWhenHealthCleared(t *testing.T) {
	h := newRelayHarness()

	done := make(chan struct{})
	go func() {
		h.w.Run(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	h.health.Fail("vision: camera gone")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not observe cleared health")
	}
}
