// Package sink is the device's view of the remote data store shared with the
// companion app.
//
// Store is a path-addressed JSON tree (the shape of a Firebase Realtime
// Database). Device wraps a Store with the document layout the app expects.
package sink

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by Get when nothing is stored at the path
	ErrNotFound = errors.New("sink: path not found")
	// ErrNotConnected is returned by network backends while the link is down
	ErrNotConnected = errors.New("sink: not connected")
)

// Store is a path-addressed JSON document store.
//
// Paths use "/" separators ("sensors/uid-1/feedLevel"). Values are anything
// encoding/json can marshal. Writing nil deletes the path.
type Store interface {
	// Get decodes the value at path into v. Returns ErrNotFound if absent.
	Get(ctx context.Context, path string, v any) error
	// Set replaces the value at path.
	Set(ctx context.Context, path string, v any) error
	// Update writes each field as a child of path, leaving siblings untouched.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Push appends v under a new unique child of path and returns the child key.
	Push(ctx context.Context, path string, v any) (string, error)
	// Close releases network resources.
	Close() error
}

func splitPath(p string) []string {
	raw := strings.Split(strings.Trim(p, "/"), "/")
	parts := raw[:0]
	for _, s := range raw {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

func joinPath(parts ...string) string {
	return strings.Join(parts, "/")
}
