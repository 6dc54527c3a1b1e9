package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"warelay/pkg/waclient/types"
)

func TestHealthService_AllClientsReady(t *testing.T) {
	socket := newMockClient("socket")
	socket.readiness = types.ClientReadinessState{Name: "socket", Ready: true, State: types.ConnectionConnected}
	rest := newMockClient("rest")
	rest.readiness = types.ClientReadinessState{Name: "rest", Ready: true, State: types.ConnectionConnected}

	health := NewHealthService([]types.WAClient{socket, rest}, NewDedupCache(0, newTestLogger(), nil))
	report := health.Snapshot()

	assert.Equal(t, HealthStatusOK, report.Status)
	assert.True(t, report.ShouldInitWhatsAppClients)
	assert.Len(t, report.Clients, 2)
}

func TestHealthService_UnreadyClientDegrades(t *testing.T) {
	socket := newMockClient("socket")
	socket.readiness = types.ClientReadinessState{
		Name:                 "socket",
		Ready:                false,
		State:                types.ConnectionDisconnected,
		LastDisconnectReason: "timed-out",
	}

	health := NewHealthService([]types.WAClient{socket}, NewDedupCache(0, newTestLogger(), nil))
	report := health.Snapshot()

	assert.Equal(t, HealthStatusDegraded, report.Status)
	assert.Equal(t, "timed-out", report.Clients[0].LastDisconnectReason)
}

func TestHealthService_NilClientsAreSkipped(t *testing.T) {
	socket := newMockClient("socket")
	socket.readiness = types.ClientReadinessState{Name: "socket", Ready: true}

	health := NewHealthService([]types.WAClient{nil, socket, nil}, NewDedupCache(0, newTestLogger(), nil))
	report := health.Snapshot()

	assert.Equal(t, HealthStatusOK, report.Status)
	assert.Len(t, report.Clients, 1)
}

func TestHealthService_NoClientsRegistered(t *testing.T) {
	health := NewHealthService(nil, NewDedupCache(0, newTestLogger(), nil))
	report := health.Snapshot()

	assert.Equal(t, HealthStatusOK, report.Status)
	assert.False(t, report.ShouldInitWhatsAppClients)
	assert.Empty(t, report.Clients)
}

func TestHealthService_DedupSectionReflectsCache(t *testing.T) {
	cache := NewDedupCache(0, newTestLogger(), nil)
	handler, calls := countingHandler()
	cache.HandleIncoming("socket", testMessage("1234567890@c.us", "3EB0538D"), handler, DedupOptions{})
	waitForCalls(t, calls, 1)

	health := NewHealthService(nil, cache)
	report := health.Snapshot()

	assert.Equal(t, 1, report.MessageDeduplication.CacheSize)
	assert.Equal(t, float64(24), report.MessageDeduplication.TTLHours)
	assert.GreaterOrEqual(t, report.MessageDeduplication.OldestEntryAgeMs, int64(0))
}
