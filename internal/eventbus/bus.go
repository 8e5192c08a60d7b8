// Package eventbus is the in-process publish/subscribe channel between the
// realtime connection and whatever presents chat activity.
//
// Each topic retains only its most recent emission. Subscribers registered at
// the time of an Emit are called synchronously with that emission; later
// subscribers can read the retained value with Latest but never see older
// ones. There is no queue and no replay.
package eventbus

import (
	"sort"
	"sync"
)

type Handler func(args []any)

type Bus struct {
	mu     sync.RWMutex
	latest map[string][]any
	subs   map[string]map[int]Handler
	nextID int
}

func New() *Bus {
	return &Bus{
		latest: map[string][]any{},
		subs:   map[string]map[int]Handler{},
	}
}

// Emit overwrites the retained value for topic and notifies current
// subscribers in subscription order.
func (b *Bus) Emit(topic string, args ...any) {
	stored := append([]any{}, args...)

	b.mu.Lock()
	b.latest[topic] = stored
	handlers := b.handlersLocked(topic)
	b.mu.Unlock()

	for _, handler := range handlers {
		handler(append([]any{}, stored...))
	}
}

// Subscribe registers handler for topic and returns its unsubscribe func.
// Calling the returned func more than once is safe.
func (b *Bus) Subscribe(topic string, handler Handler) func() {
	if handler == nil {
		panic("eventbus.Bus.Subscribe: handler must not be nil")
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = map[int]Handler{}
	}
	b.subs[topic][id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			b.mu.Unlock()
		})
	}
}

// Latest returns a copy of the last arguments emitted on topic.
func (b *Bus) Latest(topic string) ([]any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	args, ok := b.latest[topic]
	if !ok {
		return nil, false
	}
	return append([]any{}, args...), true
}

func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	topics := make([]string, 0, len(b.latest))
	for topic := range b.latest {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

func (b *Bus) handlersLocked(topic string) []Handler {
	byID := b.subs[topic]
	if len(byID) == 0 {
		return nil
	}
	ids := make([]int, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, byID[id])
	}
	return handlers
}

// On subscribes fn to topic, passing the first emitted argument when it has
// type T. Emissions whose first argument is missing or of another type are
// skipped.
func On[T any](b *Bus, topic string, fn func(T)) func() {
	if fn == nil {
		panic("eventbus.On: callback must not be nil")
	}
	return b.Subscribe(topic, func(args []any) {
		if len(args) == 0 {
			return
		}
		if value, ok := args[0].(T); ok {
			fn(value)
		}
	})
}
