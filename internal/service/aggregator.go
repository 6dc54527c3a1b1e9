package service

import (
	"github.com/sirupsen/logrus"

	"warelay/pkg/waclient/types"
)

// EventAggregator funnels inbound message events from every registered
// adapter into a single deduplicated handler. Adapters stay unaware of each
// other; the aggregator is the only place that knows more than one exists.
type EventAggregator struct {
	cache   *DedupCache
	handler MessageHandler
	logger  *logrus.Logger

	subscriptions []subscriptionRef
}

type subscriptionRef struct {
	client types.WAClient
	id     int
}

// NewEventAggregator wires the dedup cache to the downstream handler
func NewEventAggregator(cache *DedupCache, handler MessageHandler, logger *logrus.Logger) *EventAggregator {
	return &EventAggregator{
		cache:   cache,
		handler: handler,
		logger:  logger,
	}
}

// Attach subscribes to a client's message events. The client's name labels
// every message it contributes, so duplicates across adapters still collapse
// on the chat/message key alone.
func (a *EventAggregator) Attach(client types.WAClient) {
	if client == nil {
		return
	}
	source := client.Name()
	id := client.On(types.EventMessage, func(ev types.Event) {
		if ev.Message == nil {
			a.logger.WithField("fromAdapter", source).Warn("Message event carried no message")
			return
		}
		a.cache.HandleIncoming(source, ev.Message, a.handler, DedupOptions{})
	})
	a.subscriptions = append(a.subscriptions, subscriptionRef{client: client, id: id})
	a.logger.WithField("client", source).Info("Adapter attached to message pipeline")
}

// Detach removes every subscription made through Attach
func (a *EventAggregator) Detach() {
	for _, sub := range a.subscriptions {
		sub.client.Off(types.EventMessage, sub.id)
	}
	a.subscriptions = nil
}
