package events

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	ferrors "git.home.luguber.info/inful/prefsd/internal/foundation/errors"
)

// Event is implemented by everything carried on the Bus.
type Event interface {
	EventName() string
}

// Bus is a typed in-process fan-out for preference and storage-mode notifications.
//
// Subscriptions are typed via generics. Subscribing to an interface type (such as Event)
// receives every published event implementing it. Publish applies backpressure; TryPublish
// drops the event for subscribers whose buffer is full.
type Bus struct {
	mu        sync.RWMutex
	subs      map[reflect.Type]map[uint64]*subscriber
	nextID    atomic.Uint64
	dropped   atomic.Uint64
	isClosed  atomic.Bool
	closeOnce sync.Once
}

type subscriber struct {
	send    func(ctx context.Context, evt Event) error
	trySend func(evt Event) bool
	close   func()
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[reflect.Type]map[uint64]*subscriber),
	}
}

// Subscribe registers a buffered subscription for events of type T and returns the
// channel together with an unsubscribe function that closes it.
func Subscribe[T any](b *Bus, buffer int) (<-chan T, func()) {
	eventType := reflect.TypeFor[T]()
	ch := make(chan T, buffer)

	if b.isClosed.Load() {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID.Add(1)

	// chMu guards sends against a concurrent close; done unblocks a pending send.
	var (
		chMu      sync.Mutex
		closed    bool
		done      = make(chan struct{})
		closeOnce sync.Once
	)
	closeChannel := func() {
		closeOnce.Do(func() {
			close(done)
			chMu.Lock()
			closed = true
			close(ch)
			chMu.Unlock()
		})
	}

	var unsubOnce sync.Once
	unsubscribe := func() {
		unsubOnce.Do(func() {
			b.mu.Lock()
			if typeSubs, ok := b.subs[eventType]; ok {
				delete(typeSubs, id)
				if len(typeSubs) == 0 {
					delete(b.subs, eventType)
				}
			}
			b.mu.Unlock()
			closeChannel()
		})
	}

	sub := &subscriber{
		send: func(ctx context.Context, evt Event) error {
			v, ok := any(evt).(T)
			if !ok {
				return ferrors.InternalError("event type mismatch").
					WithContext("expected", eventType.String()).
					WithContext("actual", evt.EventName()).
					Build()
			}
			chMu.Lock()
			defer chMu.Unlock()
			if closed {
				return nil
			}
			select {
			case ch <- v:
				return nil
			case <-done:
				return nil
			case <-ctx.Done():
				return ferrors.WrapError(ctx.Err(), ferrors.CategoryRuntime, "event publish canceled").
					WithContext("event", evt.EventName()).
					Build()
			}
		},
		trySend: func(evt Event) bool {
			v, ok := any(evt).(T)
			if !ok {
				return false
			}
			chMu.Lock()
			defer chMu.Unlock()
			if closed {
				return false
			}
			select {
			case ch <- v:
				return true
			default:
				return false
			}
		},
		close: closeChannel,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isClosed.Load() {
		closeChannel()
		return ch, func() {}
	}
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[uint64]*subscriber)
	}
	b.subs[eventType][id] = sub

	return ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers for events of type T.
func SubscriberCount[T any](b *Bus) int {
	if b == nil {
		return 0
	}
	eventType := reflect.TypeFor[T]()

	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

func (b *Bus) targets(evt Event) []*subscriber {
	evtType := reflect.TypeOf(evt)

	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*subscriber
	for subType, typeSubs := range b.subs {
		match := subType == evtType
		if !match && subType.Kind() == reflect.Interface {
			match = evtType.Implements(subType)
		}
		if !match {
			continue
		}
		for _, s := range typeSubs {
			out = append(out, s)
		}
	}
	return out
}

// Publish delivers evt to all matching subscribers, blocking until each accepted it or
// ctx is canceled.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt == nil {
		return ferrors.ValidationError("event cannot be nil").Build()
	}
	if b.isClosed.Load() {
		return ferrors.RuntimeError("event bus is closed").Build()
	}
	for _, s := range b.targets(evt) {
		if err := s.send(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// TryPublish delivers evt without blocking and returns how many subscribers missed it.
// A nil or closed bus drops silently.
func (b *Bus) TryPublish(evt Event) int {
	if b == nil || evt == nil || b.isClosed.Load() {
		return 0
	}
	missed := 0
	for _, s := range b.targets(evt) {
		if !s.trySend(evt) {
			missed++
		}
	}
	if missed > 0 {
		b.dropped.Add(uint64(missed))
	}
	return missed
}

// Dropped returns the total number of deliveries skipped by TryPublish.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes the bus and all subscription channels.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.isClosed.Store(true)

		b.mu.Lock()
		var toClose []*subscriber
		for _, typeSubs := range b.subs {
			for _, s := range typeSubs {
				toClose = append(toClose, s)
			}
		}
		b.subs = make(map[reflect.Type]map[uint64]*subscriber)
		b.mu.Unlock()

		for _, s := range toClose {
			s.close()
		}
	})
}
