package detector

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// TestHelperDetectorProcess is not a real test. It is re-executed by the
// tests below as the detector process and speaks the length-prefixed
// msgpack protocol on stdin/stdout.
func TestHelperDetectorProcess(t *testing.T) {
	mode := os.Getenv("COOP_HELPER_DETECTOR")
	if mode == "" {
		return
	}
	defer os.Exit(0)

	prefix := make([]byte, 4)
	for {
		if _, err := io.ReadFull(os.Stdin, prefix); err != nil {
			return
		}
		data := make([]byte, binary.BigEndian.Uint32(prefix))
		if _, err := io.ReadFull(os.Stdin, data); err != nil {
			return
		}
		var req request
		if err := msgpack.Unmarshal(data, &req); err != nil {
			os.Exit(2)
		}

		switch mode {
		case "hang":
			time.Sleep(time.Minute)
		case "exit":
			os.Exit(3)
		case "oversized":
			binary.BigEndian.PutUint32(prefix, 0xFFFFFFFF)
			os.Stdout.Write(prefix)
			time.Sleep(time.Minute)
		}

		resp := response{Seq: req.Seq}
		if req.Seq == 13 {
			resp.Error = "bad frame"
		} else {
			resp.Detections = []wireDetection{
				{X1: 1, Y1: 2, X2: 30, Y2: 40, Score: 0.9, ClassIndex: 1},
				{X1: 5, Y1: 5, X2: 9, Y2: 9, Score: 0.7, ClassIndex: 3},
				{X1: 0, Y1: 0, X2: 1, Y2: 1, Score: 0.6, ClassIndex: 99},
			}
		}
		out, _ := msgpack.Marshal(&resp)
		binary.BigEndian.PutUint32(prefix, uint32(len(out)))
		os.Stdout.Write(prefix)
		os.Stdout.Write(out)
	}
}

func newHelperDetector(t *testing.T, mode string, timeout time.Duration) *Subprocess {
	t.Helper()
	t.Setenv("COOP_HELPER_DETECTOR", mode)
	d, err := NewSubprocess(SubprocessConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperDetectorProcess"},
		Timeout: timeout,
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestSubprocessRoundTrip(t *testing.T) {
	d := newHelperDetector(t, "echo", 5*time.Second)

	dets, err := d.Detect(context.Background(), frameWithSeq(1), 0.5, coopClasses)
	require.NoError(t, err)
	require.Len(t, dets, 3)
	require.Equal(t, "chicken", dets[0].Class)
	require.Equal(t, 30, dets[0].BBox.X2)
	require.Equal(t, "rat", dets[1].Class)
	require.Equal(t, "unknown", dets[2].Class)

	// Second request on the same stream stays in sync
	dets, err = d.Detect(context.Background(), frameWithSeq(2), 0.5, coopClasses)
	require.NoError(t, err)
	require.Len(t, dets, 3)

	requests, failures := d.Stats()
	require.Equal(t, uint64(2), requests)
	require.Zero(t, failures)
}

func TestSubprocessRemoteErrorIsTransient(t *testing.T) {
	d := newHelperDetector(t, "echo", 5*time.Second)

	_, err := d.Detect(context.Background(), frameWithSeq(13), 0.5, coopClasses)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrGone))

	_, err = d.Detect(context.Background(), frameWithSeq(14), 0.5, coopClasses)
	require.NoError(t, err)
}

func TestSubprocessTimeoutIsFatal(t *testing.T) {
	d := newHelperDetector(t, "hang", 200*time.Millisecond)

	_, err := d.Detect(context.Background(), frameWithSeq(1), 0.5, coopClasses)
	require.ErrorIs(t, err, ErrGone)

	_, err = d.Detect(context.Background(), frameWithSeq(2), 0.5, coopClasses)
	require.ErrorIs(t, err, ErrGone)
}

func TestSubprocessExitIsFatal(t *testing.T) {
	d := newHelperDetector(t, "exit", 5*time.Second)

	_, err := d.Detect(context.Background(), frameWithSeq(1), 0.5, coopClasses)
	require.ErrorIs(t, err, ErrGone)
}

func TestSubprocessOversizedResponseIsFatal(t *testing.T) {
	d := newHelperDetector(t, "oversized", 5*time.Second)

	start := time.Now()
	_, err := d.Detect(context.Background(), frameWithSeq(1), 0.5, coopClasses)
	require.ErrorIs(t, err, ErrGone)
	require.Contains(t, err.Error(), "exceeds limit")
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestResponseLimit(t *testing.T) {
	require.Equal(t, uint64(1<<20), responseLimit(0))
	require.Equal(t, uint64(2*921600+1<<20), responseLimit(921600))
}

func TestNewSubprocessRequiresCommand(t *testing.T) {
	_, err := NewSubprocess(SubprocessConfig{})
	require.Error(t, err)
}
