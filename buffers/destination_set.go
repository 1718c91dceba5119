package buffers

import (
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// DestinationSet is an immutable snapshot of the consumer buffers known to a producing task.
// Every modification returns a new snapshot and leaves the receiver untouched.
//
// A sealed DestinationSet never accepts new buffers. Consumers receiving a sealed snapshot
// can stop waiting for more destinations.
type DestinationSet struct {
	typ     Type
	buffers map[ID]struct{}
	sealed  bool
	version uint64
}

// NewDestinationSet returns an empty, unsealed DestinationSet.
func NewDestinationSet(typ Type) DestinationSet {
	return DestinationSet{
		typ:     typ,
		buffers: map[ID]struct{}{},
	}
}

// WithBuffers returns a snapshot containing both existing and given buffers.
// Buffers added to a sealed set are silently dropped, because a producer can reach
// a final state while the scheduler is still discovering consumers.
func (d DestinationSet) WithBuffers(ids ...ID) DestinationSet {
	if d.sealed {
		return d
	}
	added := lo.Filter(lo.Uniq(ids), func(id ID, _ int) bool {
		return !d.Has(id)
	})
	if len(added) == 0 {
		return d
	}
	next := d
	next.buffers = make(map[ID]struct{}, len(d.buffers)+len(added))
	for id := range d.buffers {
		next.buffers[id] = struct{}{}
	}
	for _, id := range added {
		next.buffers[id] = struct{}{}
	}
	return next
}

// WithSealed returns a sealed snapshot with the same buffers.
func (d DestinationSet) WithSealed() DestinationSet {
	if d.sealed {
		return d
	}
	next := d
	next.sealed = true
	return next
}

// Equal reports whether two snapshots have the same buffers and seal state.
// Type and version are not compared.
func (d DestinationSet) Equal(o DestinationSet) bool {
	if d.sealed != o.sealed || len(d.buffers) != len(o.buffers) {
		return false
	}
	for id := range d.buffers {
		if _, ok := o.buffers[id]; !ok {
			return false
		}
	}
	return true
}

func (d DestinationSet) Has(id ID) bool {
	_, ok := d.buffers[id]
	return ok
}

func (d DestinationSet) Len() int {
	return len(d.buffers)
}

func (d DestinationSet) IsSealed() bool {
	return d.sealed
}

func (d DestinationSet) Type() Type {
	return d.typ
}

// Version is the number of changes committed before this snapshot.
func (d DestinationSet) Version() uint64 {
	return d.version
}

// IDs returns buffer IDs in ascending order.
func (d DestinationSet) IDs() []ID {
	ids := lo.Keys(d.buffers)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NewIDs returns buffers of this snapshot which prev doesn't have, in ascending order.
func (d DestinationSet) NewIDs(prev DestinationSet) []ID {
	return lo.Filter(d.IDs(), func(id ID, _ int) bool {
		return !prev.Has(id)
	})
}

type destinationSetJSON struct {
	Type    string `json:"type"`
	Buffers []ID   `json:"buffers"`
	Sealed  bool   `json:"sealed"`
	Version uint64 `json:"version"`
}

func (d DestinationSet) MarshalJSON() ([]byte, error) {
	return jsoniter.Marshal(destinationSetJSON{
		Type:    d.typ.String(),
		Buffers: d.IDs(),
		Sealed:  d.sealed,
		Version: d.version,
	})
}

func (d *DestinationSet) UnmarshalJSON(data []byte) error {
	var raw destinationSetJSON
	if err := jsoniter.Unmarshal(data, &raw); err != nil {
		return err
	}
	typ, err := ParseType(raw.Type)
	if err != nil {
		return errors.Wrap(err, "parse destination set")
	}
	*d = NewDestinationSet(typ).WithBuffers(raw.Buffers...)
	d.sealed = raw.Sealed
	d.version = raw.Version
	return nil
}

func (d DestinationSet) String() string {
	s := d.typ.String() + lo.Ternary(d.sealed, " (sealed)", "") + " ["
	for i, id := range d.IDs() {
		if i > 0 {
			s += ", "
		}
		s += id.String()
	}
	return s + "]"
}
