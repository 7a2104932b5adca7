// Package docstore is a small JSON document store with an atomic
// multi-key update primitive. Products, the employee roster and bills are
// all documents addressed by string keys.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrConflict reports that a concurrent writer changed a document read by Update.
	// Nothing was applied and the whole update may be retried.
	ErrConflict = errors.New("docstore: write conflict")
	// ErrUnavailable wraps transport and driver failures.
	ErrUnavailable = errors.New("docstore: store unavailable")
	// ErrUndeclaredKey is returned when a transaction touches a key it did not declare.
	ErrUndeclaredKey = errors.New("docstore: key not declared for update")
)

// Tx is the view of the declared documents inside Update.
type Tx interface {
	// Get decodes the document into dst and reports whether it exists.
	Get(key string, dst any) (bool, error)
	// Set stages v as the new document value.
	Set(key string, v any) error
}

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any) error
	// Update runs fn against a consistent snapshot of keys and applies the staged
	// writes all-or-nothing. An error from fn aborts without writing and is
	// returned unchanged.
	Update(ctx context.Context, keys []string, fn func(Tx) error) error
	Ping(ctx context.Context) error
}

// buffer is the Tx handed to callers by every backend: reads come from the
// snapshot loaded by the backend, writes are staged until commit.
type buffer struct {
	declared map[string]struct{}
	reads    map[string][]byte
	writes   map[string][]byte
	order    []string
}

func newBuffer(keys []string) *buffer {
	b := &buffer{
		declared: make(map[string]struct{}, len(keys)),
		reads:    make(map[string][]byte, len(keys)),
		writes:   make(map[string][]byte, len(keys)),
	}
	for _, k := range keys {
		b.declared[k] = struct{}{}
	}
	return b
}

func (b *buffer) Get(key string, dst any) (bool, error) {
	if _, ok := b.declared[key]; !ok {
		return false, fmt.Errorf("%w: %s", ErrUndeclaredKey, key)
	}
	raw, ok := b.writes[key]
	if !ok {
		raw, ok = b.reads[key]
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (b *buffer) Set(key string, v any) error {
	if _, ok := b.declared[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUndeclaredKey, key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, staged := b.writes[key]; !staged {
		b.order = append(b.order, key)
	}
	b.writes[key] = raw
	return nil
}

// staged returns the writes in the order they were first made.
func (b *buffer) staged() []stagedWrite {
	out := make([]stagedWrite, 0, len(b.order))
	for _, k := range b.order {
		out = append(out, stagedWrite{key: k, body: b.writes[k]})
	}
	return out
}

type stagedWrite struct {
	key  string
	body []byte
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func decode(key string, raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
