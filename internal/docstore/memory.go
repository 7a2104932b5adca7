package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory keeps documents in process. Updates are serialised by a single
// mutex, so they never conflict.
type Memory struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	raw, ok := m.docs[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, decode(key, raw, dst)
}

func (m *Memory) Set(_ context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	m.docs[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Update(ctx context.Context, keys []string, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := newBuffer(keys)
	for _, k := range keys {
		if raw, ok := m.docs[k]; ok {
			buf.reads[k] = raw
		}
	}
	if err := fn(buf); err != nil {
		return err
	}
	for _, w := range buf.staged() {
		m.docs[w.key] = w.body
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
