package waclient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"warelay/pkg/waclient/types"
)

func TestEmitter_DispatchesInRegistrationOrder(t *testing.T) {
	e := newEmitter()
	var order []string

	e.on(types.EventReady, func(types.Event) { order = append(order, "first") }, false)
	e.on(types.EventReady, func(types.Event) { order = append(order, "second") }, false)

	e.emit(types.Event{Type: types.EventReady})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEmitter_OnceHandlerFiresOnce(t *testing.T) {
	e := newEmitter()
	calls := 0

	e.on(types.EventReady, func(types.Event) { calls++ }, true)

	e.emit(types.Event{Type: types.EventReady})
	e.emit(types.Event{Type: types.EventReady})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, e.listenerCount(types.EventReady))
}

func TestEmitter_OffRemovesOnlyThatSubscription(t *testing.T) {
	e := newEmitter()
	var fired []int

	id1 := e.on(types.EventMessage, func(types.Event) { fired = append(fired, 1) }, false)
	e.on(types.EventMessage, func(types.Event) { fired = append(fired, 2) }, false)

	e.off(types.EventMessage, id1)
	e.emit(types.Event{Type: types.EventMessage})

	assert.Equal(t, []int{2}, fired)
	assert.Equal(t, 1, e.listenerCount(types.EventMessage))
}

func TestEmitter_EventsAreIsolatedByType(t *testing.T) {
	e := newEmitter()
	readyCalls := 0

	e.on(types.EventReady, func(types.Event) { readyCalls++ }, false)
	e.emit(types.Event{Type: types.EventDisconnected})

	assert.Equal(t, 0, readyCalls)
}

func TestEmitter_ResetDropsAllListeners(t *testing.T) {
	e := newEmitter()
	calls := 0

	e.on(types.EventReady, func(types.Event) { calls++ }, false)
	e.on(types.EventMessage, func(types.Event) { calls++ }, false)
	e.reset()

	e.emit(types.Event{Type: types.EventReady})
	e.emit(types.Event{Type: types.EventMessage})

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, e.listenerCount(types.EventReady))
}

func TestEmitter_OnceHandlerMayReRegister(t *testing.T) {
	e := newEmitter()
	calls := 0

	var register func()
	register = func() {
		e.on(types.EventQR, func(types.Event) {
			calls++
			if calls < 3 {
				register()
			}
		}, true)
	}
	register()

	e.emit(types.Event{Type: types.EventQR})
	e.emit(types.Event{Type: types.EventQR})
	e.emit(types.Event{Type: types.EventQR})

	assert.Equal(t, 3, calls)
}
