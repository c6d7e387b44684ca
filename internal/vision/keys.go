package vision

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/e7canasta/coop-sensor/internal/coord"
)

// ApplyKey maps preview keys onto the visibility flag: 'w' shows, 'c' hides.
func ApplyKey(k byte, visible *coord.Flag) {
	switch k {
	case 'w', 'W':
		visible.Set()
		slog.Info("preview shown")
	case 'c', 'C':
		visible.Clear()
		slog.Info("preview hidden")
	}
}

// ctrlC arrives as a byte once the terminal is in raw mode
const ctrlC = 0x03

// WatchKeys puts stdin in raw mode and reads single keystrokes in the
// background until ctx is done. Raw mode swallows SIGINT, so Ctrl-C calls
// interrupt instead.
//
// The returned restore puts the terminal back and must be called before the
// process exits. It is safe to call more than once. Without a terminal on
// stdin nothing is started and restore is a no-op.
func WatchKeys(ctx context.Context, visible *coord.Flag, interrupt func()) (restore func()) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		slog.Debug("stdin is not a terminal, preview keys disabled")
		return func() {}
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		slog.Warn("failed to put terminal in raw mode, preview keys disabled", "error", err)
		return func() {}
	}

	return startKeys(ctx, os.Stdin, visible, interrupt, func() error {
		return term.Restore(fd, state)
	})
}

// startKeys runs readKeys on r and wraps undo so it runs once, on the
// caller's goroutine.
func startKeys(ctx context.Context, r io.Reader, visible *coord.Flag, interrupt func(), undo func() error) func() {
	go readKeys(ctx, r, visible, interrupt)

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := undo(); err != nil {
				slog.Warn("failed to restore terminal", "error", err)
			}
		})
	}
}

func readKeys(ctx context.Context, r io.Reader, visible *coord.Flag, interrupt func()) {
	br := bufio.NewReader(r)
	for ctx.Err() == nil {
		b, err := br.ReadByte()
		if err != nil {
			return
		}
		if b == ctrlC {
			if interrupt != nil {
				interrupt()
			}
			return
		}
		ApplyKey(b, visible)
	}
}
