package coordinator

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

// Coordinator is a key-value store shared between the producing task and its consumers.
// Values are stored in JSON.
type Coordinator interface {
	Get(ctx context.Context, key string, valuePtr interface{}) error
	Scan(ctx context.Context, prefix string) (results []RawItem, err error)
	Put(ctx context.Context, key string, value interface{}) error

	// Watch subscribes modification events of the keys starting with given prefix.
	// The channel is closed when ctx is done or the coordinator is closed.
	Watch(ctx context.Context, prefix string) <-chan WatchEvent

	// Delete removes all keys starting with given prefix.
	Delete(ctx context.Context, prefix string) (deleted int64, err error)

	Close() error
}
