package service

import (
	"warelay/pkg/waclient/types"
)

// HealthStatus is the top-level readiness verdict
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
)

// DedupHealth is the dedup section of the health report
type DedupHealth struct {
	CacheSize        int     `json:"cacheSize"`
	TTLMs            int64   `json:"ttlMs"`
	TTLHours         float64 `json:"ttlHours"`
	OldestEntryAgeMs int64   `json:"oldestEntryAgeMs"`
}

// HealthReport is the full diagnostics snapshot served on /health
type HealthReport struct {
	Status                    HealthStatus                 `json:"status"`
	ShouldInitWhatsAppClients bool                         `json:"shouldInitWhatsAppClients"`
	Clients                   []types.ClientReadinessState `json:"clients"`
	MessageDeduplication      DedupHealth                  `json:"messageDeduplication"`
}

// HealthService aggregates adapter readiness and dedup cache state into one
// report. Unregistered (nil) clients are skipped rather than reported, so a
// single-adapter deployment does not look degraded.
type HealthService struct {
	clients []types.WAClient
	cache   *DedupCache
}

// NewHealthService builds the health surface over the given adapters. Nil
// entries in clients are tolerated.
func NewHealthService(clients []types.WAClient, cache *DedupCache) *HealthService {
	return &HealthService{
		clients: clients,
		cache:   cache,
	}
}

// Snapshot assembles the current health report. Status is ok only when every
// registered adapter reports ready; a deployment with no adapters registered
// reports ok with shouldInitWhatsAppClients=false.
func (h *HealthService) Snapshot() HealthReport {
	report := HealthReport{
		Status:  HealthStatusOK,
		Clients: make([]types.ClientReadinessState, 0, len(h.clients)),
	}

	for _, client := range h.clients {
		if client == nil {
			continue
		}
		state := client.Readiness()
		report.Clients = append(report.Clients, state)
		if !state.Ready {
			report.Status = HealthStatusDegraded
		}
	}
	report.ShouldInitWhatsAppClients = len(report.Clients) > 0

	if h.cache != nil {
		stats := h.cache.Stats()
		report.MessageDeduplication = DedupHealth{
			CacheSize:        stats.Size,
			TTLMs:            stats.TTLMs,
			TTLHours:         float64(stats.TTLMs) / (60 * 60 * 1000),
			OldestEntryAgeMs: stats.OldestEntryAgeMs,
		}
	}
	return report
}
