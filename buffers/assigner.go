package buffers

import (
	"sync"

	"github.com/ab180/exchange/metric"
	"github.com/airbloc/logger"
	"github.com/therne/errorist"
	"go.uber.org/atomic"
)

// Observer receives every committed DestinationSet of an Assigner.
type Observer func(DestinationSet)

// Assigner holds the DestinationSet of a producing task and evolves it as the scheduler
// discovers consumers. The observer is notified only when the set actually changes.
//
// Mutations are serialized. Notifications are delivered outside of the state lock, but
// one at a time and in the same order as the changes were committed.
type Assigner struct {
	mu       sync.Mutex
	delivery sync.Mutex
	current  *atomic.Pointer[DestinationSet]

	onChange Observer
	opt      assignerOptions
	log      logger.Logger
}

type assignerOptions struct {
	name string
}

// AssignerOption configures an Assigner.
type AssignerOption func(*assignerOptions)

// WithName sets a name of the assigner used in logs, typically the producing task ID.
func WithName(name string) AssignerOption {
	return func(o *assignerOptions) {
		o.name = name
	}
}

// NewAssigner creates an Assigner with an empty, unsealed DestinationSet of given type.
// onChange is called with the initial set before NewAssigner returns, so that consumers
// learn that there are no destinations yet.
func NewAssigner(typ Type, onChange Observer, opts ...AssignerOption) *Assigner {
	opt := assignerOptions{name: "unnamed"}
	for _, o := range opts {
		o(&opt)
	}
	initial := NewDestinationSet(typ)
	a := &Assigner{
		current:  atomic.NewPointer(&initial),
		onChange: onChange,
		opt:      opt,
		log:      logger.New("buffer-assigner"),
	}
	a.delivery.Lock()
	defer a.delivery.Unlock()
	a.notify(initial)
	return a
}

// AddConsumers adds buffers to the set, and seals the set if seal is true.
// Nothing happens when the set is already sealed or the result is the same as the current set.
func (a *Assigner) AddConsumers(ids []ID, seal bool) {
	a.update(ids, seal)
}

// AddConsumer adds a single buffer to the set.
func (a *Assigner) AddConsumer(id ID) {
	a.update([]ID{id}, false)
}

// Seal marks that no more buffers will be added.
func (a *Assigner) Seal() {
	a.update(nil, true)
}

// Current returns the latest committed DestinationSet.
func (a *Assigner) Current() DestinationSet {
	return *a.current.Load()
}

func (a *Assigner) update(ids []ID, seal bool) {
	a.mu.Lock()
	prev := a.current.Load()
	if prev.IsSealed() {
		a.mu.Unlock()
		return
	}
	next := prev.WithBuffers(ids...)
	if seal {
		next = next.WithSealed()
	}
	if next.Equal(*prev) {
		a.mu.Unlock()
		return
	}
	next.version = prev.version + 1
	a.current.Store(&next)

	// take the delivery lock before releasing the state lock,
	// so that observers see changes in the order they were committed
	a.delivery.Lock()
	a.mu.Unlock()
	defer a.delivery.Unlock()

	metric.DestinationUpdatesCounter.WithLabelValues(next.Type().String()).Inc()
	if next.IsSealed() {
		metric.SealedDestinationSetsCounter.WithLabelValues(next.Type().String()).Inc()
	}
	a.log.Verbose("Destinations of {} changed to {} (v{})", a.opt.name, next, next.version)
	a.notify(next)
}

func (a *Assigner) notify(set DestinationSet) {
	if a.onChange == nil {
		return
	}
	defer func() {
		if err := errorist.WrapPanic(recover()); err != nil {
			a.log.Error("Panic occurred while notifying destinations of {}", err, a.opt.name)
		}
	}()
	a.onChange(set)
}
