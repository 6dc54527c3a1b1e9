package service

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warelay/internal/constants"
	"warelay/internal/metrics"
	"warelay/pkg/waclient/types"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testMessage(chatID, msgID string) *types.NormalizedMessage {
	return &types.NormalizedMessage{
		ID:   types.MessageID{ID: msgID, Serialized: msgID},
		From: chatID,
		Body: "hi",
		Type: types.MessageTypeChat,
	}
}

// countingHandler returns a handler and an atomic counter of invocations
func countingHandler() (MessageHandler, *int64) {
	var calls int64
	handler := func(ctx context.Context, msg *types.NormalizedMessage) error {
		atomic.AddInt64(&calls, 1)
		return nil
	}
	return handler, &calls
}

func waitForCalls(t *testing.T, calls *int64, want int64) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(calls) == want
	}, time.Second, 5*time.Millisecond)
}

func TestDedupCache_DuplicateDeliveryIsDropped(t *testing.T) {
	cache := NewDedupCache(0, newTestLogger(), nil)
	handler, calls := countingHandler()

	msg := testMessage("1234567890@c.us", "3EB0538D")
	cache.HandleIncoming("socket", msg, handler, DedupOptions{})
	cache.HandleIncoming("socket", msg, handler, DedupOptions{})

	waitForCalls(t, calls, 1)
	// Give a potential second dispatch time to surface
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(calls))
	assert.Equal(t, 1, cache.Stats().Size)
}

func TestDedupCache_CrossAdapterDuplicateCollapses(t *testing.T) {
	cache := NewDedupCache(0, newTestLogger(), nil)
	handler, calls := countingHandler()

	msg := testMessage("1234567890@c.us", "3EB0538D")
	cache.HandleIncoming("socket", msg, handler, DedupOptions{})
	cache.HandleIncoming("rest", msg, handler, DedupOptions{})

	waitForCalls(t, calls, 1)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(calls))
}

func TestDedupCache_DistinctKeysBothForward(t *testing.T) {
	cache := NewDedupCache(0, newTestLogger(), nil)
	handler, calls := countingHandler()

	cache.HandleIncoming("socket", testMessage("a@c.us", "id-1"), handler, DedupOptions{})
	cache.HandleIncoming("socket", testMessage("a@c.us", "id-2"), handler, DedupOptions{})
	cache.HandleIncoming("socket", testMessage("b@c.us", "id-1"), handler, DedupOptions{})

	waitForCalls(t, calls, 3)
	assert.Equal(t, 3, cache.Stats().Size)
}

func TestDedupCache_UnkeyableMessageAlwaysForwards(t *testing.T) {
	cache := NewDedupCache(0, newTestLogger(), nil)
	handler, calls := countingHandler()

	msg := &types.NormalizedMessage{From: "1234567890@c.us", Body: "no id"}
	cache.HandleIncoming("socket", msg, handler, DedupOptions{})
	cache.HandleIncoming("socket", msg, handler, DedupOptions{})

	waitForCalls(t, calls, 2)
	assert.Equal(t, 0, cache.Stats().Size)
}

func TestDedupCache_AllowReplayForwardsAndRefreshes(t *testing.T) {
	cache := NewDedupCache(0, newTestLogger(), nil)
	handler, calls := countingHandler()

	msg := testMessage("1234567890@c.us", "3EB0538D")
	cache.HandleIncoming("socket", msg, handler, DedupOptions{})
	cache.HandleIncoming("socket", msg, handler, DedupOptions{AllowReplay: true})

	waitForCalls(t, calls, 2)
	assert.Equal(t, 1, cache.Stats().Size)
}

func TestDedupCache_TTLBelowFloorFallsBackToDefault(t *testing.T) {
	cache := NewDedupCache(5000, newTestLogger(), nil)

	assert.Equal(t, int64(constants.DefaultDedupTTLMs), cache.Stats().TTLMs)
}

func TestDedupCache_ExpiredEntryForwardsAgain(t *testing.T) {
	cache := NewDedupCache(0, newTestLogger(), nil)
	handler, calls := countingHandler()

	msg := testMessage("1234567890@c.us", "3EB0538D")
	cache.HandleIncoming("socket", msg, handler, DedupOptions{})
	waitForCalls(t, calls, 1)

	// Age the entry past the TTL window
	key, keyable := dedupKey(msg)
	require.True(t, keyable)
	cache.mu.Lock()
	cache.entries[key] = time.Now().Add(-cache.ttl - time.Minute)
	cache.mu.Unlock()

	cache.HandleIncoming("socket", msg, handler, DedupOptions{})
	waitForCalls(t, calls, 2)
}

func TestDedupCache_SweepRemovesOnlyExpiredEntries(t *testing.T) {
	registry := metrics.NewRegistry()
	cache := NewDedupCache(0, newTestLogger(), registry)

	now := time.Now()
	cache.mu.Lock()
	cache.entries["stale@c.us:old"] = now.Add(-cache.ttl - time.Hour)
	cache.entries["fresh@c.us:new"] = now
	cache.mu.Unlock()

	cache.sweep()

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Size)
	cache.mu.Lock()
	_, ok := cache.entries["fresh@c.us:new"]
	cache.mu.Unlock()
	assert.True(t, ok)
}

func TestDedupCache_HandlerPanicIsContained(t *testing.T) {
	cache := NewDedupCache(0, newTestLogger(), nil)

	done := make(chan struct{})
	handler := func(ctx context.Context, msg *types.NormalizedMessage) error {
		defer close(done)
		panic("boom")
	}

	cache.HandleIncoming("socket", testMessage("1234567890@c.us", "3EB0538D"), handler, DedupOptions{})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
	// A second, distinct message still flows after the panic
	next, calls := countingHandler()
	cache.HandleIncoming("socket", testMessage("1234567890@c.us", "other"), next, DedupOptions{})
	waitForCalls(t, calls, 1)
}

func TestDedupCache_StartStopLifecycle(t *testing.T) {
	cache := NewDedupCache(0, newTestLogger(), nil)

	cache.Start(context.Background())
	cache.Start(context.Background()) // second start is a no-op
	cache.Stop()
	cache.Stop() // second stop is a no-op
}

func TestDedupCache_MetricsTrackOutcomes(t *testing.T) {
	registry := metrics.NewRegistry()
	cache := NewDedupCache(0, newTestLogger(), registry)
	handler, calls := countingHandler()

	msg := testMessage("1234567890@c.us", "3EB0538D")
	cache.HandleIncoming("socket", msg, handler, DedupOptions{})
	cache.HandleIncoming("socket", msg, handler, DedupOptions{})
	waitForCalls(t, calls, 1)

	labels := map[string]string{"adapter": "socket"}
	assert.Equal(t, float64(2), registry.CounterValue("messages_received", labels))
	assert.Equal(t, float64(1), registry.CounterValue("messages_deduplicated", labels))
	assert.Equal(t, float64(1), registry.CounterValue("messages_forwarded", labels))
}
