package service

import (
	"context"
	"sync"
	"time"

	"warelay/internal/constants"
	"warelay/internal/metrics"
	"warelay/pkg/waclient/types"

	"github.com/sirupsen/logrus"
)

// MessageHandler is the business handler a deduplicated message is forwarded
// to. It is an external collaborator; failures are contained here.
type MessageHandler func(ctx context.Context, msg *types.NormalizedMessage) error

// DedupOptions tunes one HandleIncoming call
type DedupOptions struct {
	// AllowReplay refreshes the cache entry and forwards the message even if
	// it was already seen. Used for intentional redelivery.
	AllowReplay bool
}

// DedupStats is the cache snapshot exposed on the health endpoint
type DedupStats struct {
	Size             int   `json:"cacheSize"`
	TTLMs            int64 `json:"ttlMs"`
	OldestEntryAgeMs int64 `json:"oldestEntryAgeMs"`
}

// DedupCache collapses duplicate inbound events: the same logical message can
// arrive more than once (provider redelivery, multiple adapters observing the
// same group). Entries are held for a TTL window and swept periodically; the
// cache is in-memory only, so at-least-once redelivery across restarts is
// accepted.
type DedupCache struct {
	mu      sync.Mutex
	entries map[string]time.Time

	ttl           time.Duration
	sweepInterval time.Duration
	logger        *logrus.Logger
	registry      *metrics.Registry

	lifecycleMu sync.Mutex
	running     bool
	stopCh      chan struct{}
}

// NewDedupCache creates a cache with the given TTL in milliseconds. Values
// below the enforced floor fall back to the default with a warning so a
// misconfigured override cannot disable deduplication outright.
func NewDedupCache(ttlMs int64, logger *logrus.Logger, registry *metrics.Registry) *DedupCache {
	if ttlMs <= 0 {
		ttlMs = constants.DefaultDedupTTLMs
	} else if ttlMs < constants.MinDedupTTLMs {
		logger.WithFields(logrus.Fields{
			"configured": ttlMs,
			"minimum":    constants.MinDedupTTLMs,
			"fallback":   constants.DefaultDedupTTLMs,
		}).Warn("Configured dedup TTL below enforced floor, using default")
		ttlMs = constants.DefaultDedupTTLMs
	}

	return &DedupCache{
		entries:       make(map[string]time.Time),
		ttl:           time.Duration(ttlMs) * time.Millisecond,
		sweepInterval: time.Duration(constants.DefaultDedupSweepHours) * time.Hour,
		logger:        logger,
		registry:      registry,
	}
}

// Start begins the periodic TTL sweep
func (c *DedupCache) Start(ctx context.Context) {
	c.lifecycleMu.Lock()
	if c.running {
		c.lifecycleMu.Unlock()
		c.logger.Warn("Dedup sweep is already running")
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.lifecycleMu.Unlock()

	go c.sweepLoop(ctx, stopCh)
	c.logger.WithField("ttl", c.ttl.String()).Info("Dedup cache started")
}

// Stop cancels the sweep. Safe to call when not running; never blocks
// process shutdown.
func (c *DedupCache) Stop() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if !c.running {
		return
	}
	close(c.stopCh)
	c.stopCh = nil
	c.running = false
	c.logger.Info("Dedup cache stopped")
}

func (c *DedupCache) sweepLoop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *DedupCache) sweep() {
	cutoff := time.Now().Add(-c.ttl)

	c.mu.Lock()
	removed := 0
	for key, seenAt := range c.entries {
		if seenAt.Before(cutoff) {
			delete(c.entries, key)
			removed++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		c.logger.WithFields(logrus.Fields{
			"removed":   removed,
			"remaining": size,
		}).Debug("Swept expired dedup entries")
	}
	if c.registry != nil {
		c.registry.SetGauge("dedup_cache_size", float64(size), nil, "entries currently tracked")
	}
}

// HandleIncoming dispatches one inbound message through the dedup check. The
// check-then-record bookkeeping is done synchronously before the handler is
// kicked off, so two deliveries of the same key cannot interleave into two
// dispatches. Handler failures are contained: logged with context, never
// propagated.
func (c *DedupCache) HandleIncoming(source string, msg *types.NormalizedMessage, handler MessageHandler, opts DedupOptions) {
	if c.registry != nil {
		c.registry.IncrementCounter("messages_received", map[string]string{"adapter": source}, "inbound provider events")
	}

	key, keyable := dedupKey(msg)
	if !keyable {
		// Refusing to deliver an unkeyable message would be worse than a
		// potential duplicate.
		c.logger.WithFields(logrus.Fields{
			"fromAdapter": source,
			"jid":         msg.From,
			"id":          msg.ID.Preferred(),
		}).Warn("Message is missing dedup key components, forwarding unconditionally")
		if c.registry != nil {
			c.registry.IncrementCounter("messages_unkeyable", map[string]string{"adapter": source}, "messages forwarded without dedup")
		}
		c.dispatch(source, msg, handler)
		return
	}

	now := time.Now()
	c.mu.Lock()
	seenAt, seen := c.entries[key]
	duplicate := seen && now.Sub(seenAt) < c.ttl
	if opts.AllowReplay || !duplicate {
		c.entries[key] = now
	}
	c.mu.Unlock()

	if duplicate && !opts.AllowReplay {
		if c.registry != nil {
			c.registry.IncrementCounter("messages_deduplicated", map[string]string{"adapter": source}, "duplicate deliveries dropped")
		}
		return
	}

	if c.registry != nil {
		c.registry.IncrementCounter("messages_forwarded", map[string]string{"adapter": source}, "messages dispatched to the handler")
	}
	c.dispatch(source, msg, handler)
}

// dispatch invokes the handler asynchronously so a slow handler does not
// block the dedup check for the next event.
func (c *DedupCache) dispatch(source string, msg *types.NormalizedMessage, handler MessageHandler) {
	if handler == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.WithFields(logrus.Fields{
					"fromAdapter": source,
					"jid":         msg.From,
					"id":          msg.ID.Preferred(),
					"panic":       r,
				}).Error("Message handler panicked")
			}
		}()

		if err := handler(context.Background(), msg); err != nil {
			c.logger.WithFields(logrus.Fields{
				"fromAdapter": source,
				"jid":         msg.From,
				"id":          msg.ID.Preferred(),
			}).WithError(err).Error("Message handler failed")
		}
	}()
}

// Stats returns a read-only snapshot for the health endpoint
func (c *DedupCache) Stats() DedupStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := DedupStats{
		Size:  len(c.entries),
		TTLMs: c.ttl.Milliseconds(),
	}
	var oldest time.Time
	for _, seenAt := range c.entries {
		if oldest.IsZero() || seenAt.Before(oldest) {
			oldest = seenAt
		}
	}
	if !oldest.IsZero() {
		stats.OldestEntryAgeMs = time.Since(oldest).Milliseconds()
	}
	return stats
}

// dedupKey builds the "{chatId}:{messageId}" key. A message missing either
// component cannot be deduplicated.
func dedupKey(msg *types.NormalizedMessage) (string, bool) {
	chatID := msg.From
	msgID := msg.ID.Preferred()
	if chatID == "" || msgID == "" {
		return "", false
	}
	return chatID + ":" + msgID, true
}
