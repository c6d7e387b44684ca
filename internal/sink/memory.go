package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store. It backs the simulated device, mirrors
// retained topics for the MQTT store, and serves as a fake in tests.
type Memory struct {
	mu   sync.RWMutex
	root map[string]any
}

// NewMemory returns an empty tree.
func NewMemory() *Memory {
	return &Memory{root: make(map[string]any)}
}

func (m *Memory) Get(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	node, ok := lookup(m.root, splitPath(path))
	var data []byte
	var err error
	if ok {
		data, err = json.Marshal(node)
	}
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return json.Unmarshal(data, v)
}

func (m *Memory) Set(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := normalize(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(splitPath(path), val)
}

func (m *Memory) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	base := splitPath(path)

	vals := make(map[string]any, len(fields))
	for k, v := range fields {
		val, err := normalize(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s/%s: %w", path, k, err)
		}
		vals[k] = val
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, val := range vals {
		parts := append(append([]string(nil), base...), splitPath(k)...)
		if err := m.setLocked(parts, val); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Push(ctx context.Context, path string, v any) (string, error) {
	key := uuid.NewString()
	if err := m.Set(ctx, joinPath(path, key), v); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) Close() error { return nil }

// setRaw stores an already-encoded JSON payload. Empty payload deletes.
func (m *Memory) setRaw(path string, payload []byte) error {
	var val any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &val); err != nil {
			return fmt.Errorf("invalid JSON at %s: %w", path, err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(splitPath(path), val)
}

func (m *Memory) setLocked(parts []string, val any) error {
	if len(parts) == 0 {
		obj, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("root must be an object")
		}
		m.root = obj
		return nil
	}

	cur := m.root
	for _, p := range parts[:len(parts)-1] {
		child, ok := cur[p].(map[string]any)
		if !ok {
			if val == nil {
				return nil
			}
			child = make(map[string]any)
			cur[p] = child
		}
		cur = child
	}

	last := parts[len(parts)-1]
	if val == nil {
		delete(cur, last)
		return nil
	}
	cur[last] = val
	return nil
}

func lookup(node map[string]any, parts []string) (any, bool) {
	var cur any = node
	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// normalize round-trips v through JSON so stored values never alias caller memory.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
