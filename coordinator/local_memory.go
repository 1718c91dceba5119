package coordinator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

type localMemoryCoordinator struct {
	opt  localMemoryOptions
	data sync.Map

	subscriptions []*subscription
	subsLock      sync.RWMutex
}

type subscription struct {
	ctx    context.Context
	prefix string
	events chan WatchEvent
	once   sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.events) })
}

// NewLocalMemory creates local variable based coordinator.
// Only used for test purpose.
func NewLocalMemory(opts ...LocalMemoryOption) Coordinator {
	lmc := &localMemoryCoordinator{}
	for _, o := range opts {
		o(&lmc.opt)
	}
	return lmc
}

func (lmc *localMemoryCoordinator) simulate(ctx context.Context) error {
	time.Sleep(lmc.opt.simulatedDelay)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return lmc.opt.simulatedError
}

func (lmc *localMemoryCoordinator) Get(ctx context.Context, key string, valuePtr interface{}) error {
	if err := lmc.simulate(ctx); err != nil {
		return err
	}
	v, ok := lmc.data.Load(key)
	if !ok {
		return ErrNotFound
	}
	return v.(RawItem).Unmarshal(valuePtr)
}

func (lmc *localMemoryCoordinator) Scan(ctx context.Context, prefix string) (results []RawItem, err error) {
	if err := lmc.simulate(ctx); err != nil {
		return nil, err
	}
	lmc.data.Range(func(key, value interface{}) bool {
		if strings.HasPrefix(key.(string), prefix) {
			results = append(results, value.(RawItem))
		}
		return true
	})
	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return
}

func (lmc *localMemoryCoordinator) Put(ctx context.Context, key string, value interface{}) error {
	if err := lmc.simulate(ctx); err != nil {
		return err
	}
	raw, err := jsoniter.Marshal(value)
	if err != nil {
		return err
	}
	item := RawItem{Key: key, Value: raw}
	lmc.data.Store(key, item)
	go lmc.notifySubscribers(WatchEvent{Type: PutEvent, Item: item})
	return nil
}

func (lmc *localMemoryCoordinator) Delete(ctx context.Context, prefix string) (deleted int64, err error) {
	if err = lmc.simulate(ctx); err != nil {
		return
	}
	lmc.data.Range(func(key, value interface{}) bool {
		k := key.(string)
		if strings.HasPrefix(k, prefix) {
			lmc.data.Delete(k)
			go lmc.notifySubscribers(WatchEvent{
				Type: DeleteEvent,
				Item: RawItem{Key: k},
			})
			deleted += 1
		}
		return true
	})
	return
}

func (lmc *localMemoryCoordinator) Watch(ctx context.Context, prefix string) <-chan WatchEvent {
	lmc.subsLock.Lock()
	defer lmc.subsLock.Unlock()

	sub := &subscription{
		ctx:    ctx,
		prefix: prefix,
		events: make(chan WatchEvent),
	}
	lmc.subscriptions = append(lmc.subscriptions, sub)
	go func() {
		<-ctx.Done()
		lmc.unsubscribe(sub)
	}()
	return sub.events
}

func (lmc *localMemoryCoordinator) unsubscribe(sub *subscription) {
	lmc.subsLock.Lock()
	defer lmc.subsLock.Unlock()

	for i, s := range lmc.subscriptions {
		if s == sub {
			lmc.subscriptions = append(lmc.subscriptions[:i], lmc.subscriptions[i+1:]...)
			sub.close()
			return
		}
	}
}

func (lmc *localMemoryCoordinator) notifySubscribers(ev WatchEvent) {
	lmc.subsLock.RLock()
	defer lmc.subsLock.RUnlock()

	for _, sub := range lmc.subscriptions {
		if !strings.HasPrefix(ev.Item.Key, sub.prefix) {
			continue
		}
		select {
		case sub.events <- ev:
		case <-sub.ctx.Done():
		}
	}
}

func (lmc *localMemoryCoordinator) Close() error {
	lmc.subsLock.Lock()
	defer lmc.subsLock.Unlock()

	for _, sub := range lmc.subscriptions {
		sub.close()
	}
	lmc.subscriptions = nil
	return nil
}

type localMemoryOptions struct {
	simulatedDelay time.Duration
	simulatedError error
}

type LocalMemoryOption func(*localMemoryOptions)

func WithSimulatedDelay(delay time.Duration) LocalMemoryOption {
	return func(opt *localMemoryOptions) {
		opt.simulatedDelay = delay
	}
}

func WithSimulatedError(err error) LocalMemoryOption {
	return func(opt *localMemoryOptions) {
		opt.simulatedError = err
	}
}
