// Package store defines the key-value persistence boundary for runtime
// counters and widget-scoped state.
//
// Rate-limit windows, daily usage counters, and per-session widget state
// are small JSON records keyed by well-known key shapes (see the limiter
// and protocol packages). Backends: in-memory (this package), sqlite, and
// redis, selected through store/factory.
package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("store: not found")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
