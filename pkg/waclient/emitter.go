package waclient

import (
	"sort"
	"sync"

	"warelay/pkg/waclient/types"
)

type subscription struct {
	id      int
	handler types.EventHandler
	once    bool
}

// emitter is a small event dispatcher shared by both adapters. Dispatch is
// synchronous in registration order so provider event order is preserved
// within a single adapter.
type emitter struct {
	mu        sync.Mutex
	seq       int
	listeners map[types.EventType][]*subscription
}

func newEmitter() *emitter {
	return &emitter{
		listeners: make(map[types.EventType][]*subscription),
	}
}

func (e *emitter) on(event types.EventType, handler types.EventHandler, once bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	e.listeners[event] = append(e.listeners[event], &subscription{
		id:      e.seq,
		handler: handler,
		once:    once,
	})
	return e.seq
}

func (e *emitter) off(event types.EventType, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.listeners[event]
	for i, sub := range subs {
		if sub.id == id {
			e.listeners[event] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (e *emitter) listenerCount(event types.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.listeners[event])
}

// emit invokes all handlers for the event synchronously. Once-handlers are
// removed before invocation so a handler re-registering itself is safe.
func (e *emitter) emit(ev types.Event) {
	e.mu.Lock()
	subs := e.listeners[ev.Type]
	snapshot := make([]*subscription, len(subs))
	copy(snapshot, subs)

	remaining := subs[:0]
	for _, sub := range subs {
		if !sub.once {
			remaining = append(remaining, sub)
		}
	}
	e.listeners[ev.Type] = remaining
	e.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].id < snapshot[j].id })
	for _, sub := range snapshot {
		sub.handler(ev)
	}
}

// reset drops all listeners. Used by Destroy.
func (e *emitter) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners = make(map[types.EventType][]*subscription)
}
