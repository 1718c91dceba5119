package buffers

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/segmentio/fasthash/fnv1a"
	"go.uber.org/atomic"
)

// ErrNoDestination is returned by Selector.Select when there's no buffer to send to.
var ErrNoDestination = errors.New("no destination")

// Selector chooses destination buffers of a page by the policy of its DestinationSet type.
// It is safe for concurrent use.
type Selector struct {
	mu     sync.RWMutex
	typ    Type
	ids    []ID
	sealed bool

	sentPages atomic.Uint64
}

func NewSelector(set DestinationSet) *Selector {
	s := &Selector{}
	s.Reset(set)
	return s
}

// Reset replaces the destinations with a newer snapshot. The round-robin position is kept.
func (s *Selector) Reset(set DestinationSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typ = set.Type()
	s.ids = set.IDs()
	s.sealed = set.IsSealed()
}

// Select returns the buffers which a page with given partition key should be written to.
// The key is only used by Partitioned sets, which select nothing until they're sealed
// since the owner of a key depends on the number of buffers.
func (s *Selector) Select(key string) ([]ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.ids) == 0 {
		return nil, ErrNoDestination
	}
	switch s.typ {
	case Broadcast:
		return s.ids, nil

	case Arbitrary:
		slot := (s.sentPages.Inc() - 1) % uint64(len(s.ids))
		return []ID{s.ids[slot]}, nil

	case Partitioned:
		if !s.sealed {
			return nil, errors.Wrap(ErrNoDestination, "partitioned destinations are not sealed yet")
		}
		// uses Fowler–Noll–Vo hash to determine output buffer
		slot := fnv1a.HashString64(key) % uint64(len(s.ids))
		return []ID{s.ids[slot]}, nil
	}
	return nil, errors.Errorf("unsupported buffer type: %v", s.typ)
}
