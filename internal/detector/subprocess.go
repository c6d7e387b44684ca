package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/coop-sensor/internal/types"
)

// SubprocessConfig describes the external inference process
type SubprocessConfig struct {
	Command   string
	Args      []string
	ModelPath string        // passed as --model when set
	Timeout   time.Duration // per-frame round trip
}

// request is the msgpack message written to the process stdin
type request struct {
	Seq        uint64   `msgpack:"seq"`
	FrameData  []byte   `msgpack:"frame_data"`
	Width      int      `msgpack:"width"`
	Height     int      `msgpack:"height"`
	Confidence float64  `msgpack:"confidence"`
	Classes    []string `msgpack:"classes"`
}

type wireDetection struct {
	X1         int     `msgpack:"x1"`
	Y1         int     `msgpack:"y1"`
	X2         int     `msgpack:"x2"`
	Y2         int     `msgpack:"y2"`
	Score      float64 `msgpack:"score"`
	ClassIndex int     `msgpack:"class_index"`
}

// response is the msgpack message read from the process stdout
type response struct {
	Seq        uint64          `msgpack:"seq"`
	Detections []wireDetection `msgpack:"detections"`
	Error      string          `msgpack:"error"`
}

// Subprocess is a Detector backed by an inference process.
//
// Protocol: each message is a 4-byte big-endian length followed by a msgpack
// map. One request yields exactly one response, in order.
type Subprocess struct {
	cfg SubprocessConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	cancel context.CancelFunc

	mu     sync.Mutex // one request in flight
	broken atomic.Bool
	exited chan struct{}
	wg     sync.WaitGroup

	requests uint64
	failures uint64
}

// NewSubprocess spawns the inference process. The process lives until Close.
func NewSubprocess(cfg SubprocessConfig) (*Subprocess, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("detector command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	args := append([]string(nil), cfg.Args...)
	if cfg.ModelPath != "" {
		args = append(args, "--model", cfg.ModelPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Subprocess{
		cfg:    cfg,
		cmd:    exec.CommandContext(ctx, cfg.Command, args...),
		cancel: cancel,
		exited: make(chan struct{}),
	}

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	d.stdin = stdin

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	d.stdout = stdout

	stderr, err := d.cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := d.cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start detector process: %w", err)
	}

	slog.Info("detector process spawned",
		"command", cfg.Command,
		"pid", d.cmd.Process.Pid,
		"timeout", cfg.Timeout,
	)

	d.wg.Add(2)
	go d.logStderr(stderr)
	go d.waitProcess()

	return d, nil
}

// Detect sends one frame and waits for its detections.
func (d *Subprocess) Detect(ctx context.Context, frame types.Frame, confidence float64, classes []string) ([]types.Detection, error) {
	if d.broken.Load() {
		return nil, ErrGone
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	atomic.AddUint64(&d.requests, 1)

	payload, err := msgpack.Marshal(&request{
		Seq:        frame.Seq,
		FrameData:  frame.Data,
		Width:      frame.Width,
		Height:     frame.Height,
		Confidence: confidence,
		Classes:    classes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal msgpack request: %w", err)
	}

	done := make(chan roundTrip, 1)
	go func() {
		resp, err := d.roundTrip(payload)
		done <- roundTrip{resp: resp, err: err}
	}()

	timer := time.NewTimer(d.cfg.Timeout)
	defer timer.Stop()

	var rt roundTrip
	select {
	case rt = <-done:
	case <-timer.C:
		// A late response would answer the next request: the stream is unusable
		d.markBroken("round trip timeout")
		return nil, fmt.Errorf("%w: no response within %v (frame %d)", ErrGone, d.cfg.Timeout, frame.Seq)
	case <-ctx.Done():
		d.markBroken("cancelled mid-request")
		return nil, ctx.Err()
	case <-d.exited:
		d.markBroken("process exited")
		return nil, fmt.Errorf("%w: process exited", ErrGone)
	}

	if rt.err != nil {
		atomic.AddUint64(&d.failures, 1)
		d.markBroken(rt.err.Error())
		return nil, fmt.Errorf("%w: %v", ErrGone, rt.err)
	}
	if rt.resp.Error != "" {
		atomic.AddUint64(&d.failures, 1)
		return nil, fmt.Errorf("detector error on frame %d: %s", frame.Seq, rt.resp.Error)
	}

	return toDetections(rt.resp.Detections, classes), nil
}

type roundTrip struct {
	resp response
	err  error
}

func (d *Subprocess) roundTrip(payload []byte) (response, error) {
	var resp response

	lengthPrefix := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthPrefix, uint32(len(payload)))
	if _, err := d.stdin.Write(lengthPrefix); err != nil {
		return resp, fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := d.stdin.Write(payload); err != nil {
		return resp, fmt.Errorf("failed to write msgpack data: %w", err)
	}

	if _, err := io.ReadFull(d.stdout, lengthPrefix); err != nil {
		return resp, fmt.Errorf("failed to read length prefix: %w", err)
	}
	size := binary.BigEndian.Uint32(lengthPrefix)
	if limit := responseLimit(len(payload)); uint64(size) > limit {
		return resp, fmt.Errorf("response length %d exceeds limit %d", size, limit)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(d.stdout, data); err != nil {
		return resp, fmt.Errorf("failed to read msgpack data: %w", err)
	}
	if err := msgpack.Unmarshal(data, &resp); err != nil {
		return resp, fmt.Errorf("failed to unmarshal msgpack response: %w", err)
	}
	return resp, nil
}

// responseLimit bounds a response by the request that caused it. Detections
// are far smaller than the frame they describe.
func responseLimit(requestSize int) uint64 {
	return 2*uint64(requestSize) + 1<<20
}

func toDetections(wire []wireDetection, classes []string) []types.Detection {
	out := make([]types.Detection, 0, len(wire))
	for _, w := range wire {
		class := "unknown"
		if w.ClassIndex >= 0 && w.ClassIndex < len(classes) {
			class = classes[w.ClassIndex]
		}
		out = append(out, types.Detection{
			BBox:       types.BBox{X1: w.X1, Y1: w.Y1, X2: w.X2, Y2: w.Y2},
			Confidence: w.Score,
			Class:      class,
		})
	}
	return out
}

func (d *Subprocess) markBroken(reason string) {
	if !d.broken.Swap(true) {
		slog.Error("detector unusable",
			"reason", reason,
			"requests", atomic.LoadUint64(&d.requests),
		)
	}
}

// logStderr forwards process stderr, mapping python log levels to slog
func (d *Subprocess) logStderr(stderr io.Reader) {
	defer d.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			slog.Error("detector process error", "log", line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			slog.Warn("detector process warning", "log", line)
		default:
			slog.Debug("detector process log", "log", line)
		}
	}
}

// waitProcess reaps the process so it never lingers as a zombie
func (d *Subprocess) waitProcess() {
	defer d.wg.Done()
	err := d.cmd.Wait()
	close(d.exited)

	if d.broken.Load() {
		slog.Debug("detector process exited", "pid", d.cmd.Process.Pid)
		return
	}
	if err != nil {
		slog.Error("detector process exited unexpectedly", "pid", d.cmd.Process.Pid, "error", err)
	} else {
		slog.Info("detector process exited cleanly", "pid", d.cmd.Process.Pid)
	}
}

// Close stops the process and waits for its goroutines.
func (d *Subprocess) Close() error {
	d.broken.Store(true)
	_ = d.stdin.Close()
	d.cancel()
	d.wg.Wait()
	return nil
}

// Stats returns request and failure counters.
func (d *Subprocess) Stats() (requests, failures uint64) {
	return atomic.LoadUint64(&d.requests), atomic.LoadUint64(&d.failures)
}
