package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"warelay/pkg/waclient/types"
)

func TestEventAggregator_ForwardsMessagesFromAttachedClients(t *testing.T) {
	cache := NewDedupCache(0, newTestLogger(), nil)
	handler, calls := countingHandler()
	agg := NewEventAggregator(cache, handler, newTestLogger())

	socket := newMockClient("socket")
	agg.Attach(socket)
	assert.Equal(t, 1, socket.ListenerCount(types.EventMessage))

	socket.emit(types.Event{Type: types.EventMessage, Message: testMessage("1234567890@c.us", "3EB0538D")})
	waitForCalls(t, calls, 1)
}

func TestEventAggregator_SameMessageFromTwoAdaptersDispatchesOnce(t *testing.T) {
	cache := NewDedupCache(0, newTestLogger(), nil)
	handler, calls := countingHandler()
	agg := NewEventAggregator(cache, handler, newTestLogger())

	socket := newMockClient("socket")
	rest := newMockClient("rest")
	agg.Attach(socket)
	agg.Attach(rest)

	msg := testMessage("1234567890@c.us", "3EB0538D")
	socket.emit(types.Event{Type: types.EventMessage, Message: msg})
	rest.emit(types.Event{Type: types.EventMessage, Message: msg})

	waitForCalls(t, calls, 1)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(calls))
}

func TestEventAggregator_NilMessageEventIsIgnored(t *testing.T) {
	cache := NewDedupCache(0, newTestLogger(), nil)
	handler, calls := countingHandler()
	agg := NewEventAggregator(cache, handler, newTestLogger())

	socket := newMockClient("socket")
	agg.Attach(socket)
	socket.emit(types.Event{Type: types.EventMessage})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), atomic.LoadInt64(calls))
}

func TestEventAggregator_AttachNilClientIsNoop(t *testing.T) {
	agg := NewEventAggregator(NewDedupCache(0, newTestLogger(), nil), nil, newTestLogger())
	agg.Attach(nil)
	agg.Detach()
}
