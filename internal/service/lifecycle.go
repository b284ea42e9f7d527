package service

import (
	"context"
	"log/slog"

	"github.com/wampline/relay-service/internal/domain/model"
	"github.com/wampline/relay-service/internal/domain/registry"
	"github.com/wampline/relay-service/internal/store"
)

// Orchestrator rebuilds the registry from the persistent store at startup
// and tears every connection down at shutdown.
type Orchestrator struct {
	store    store.Storer
	registry *registry.TenantRegistry
	resolver registry.SinkResolver
	logger   *slog.Logger
}

func NewOrchestrator(st store.Storer, reg *registry.TenantRegistry, resolver registry.SinkResolver, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    st,
		registry: reg,
		resolver: resolver,
		logger:   logger,
	}
}

// Load walks all persisted records and installs a connection for every
// configured tenant. Connections stay unconnected until first use; only the
// desired topic set is seeded. Persisted sink ids are resolved against the
// presentation layer: an unresolvable sink is logged and left out of the
// sink map, so its topic is undeliverable until re-subscribed.
func (o *Orchestrator) Load(_ context.Context) error {
	return o.store.Iterate(func(id model.TenantID, rec model.Record) error {
		if rec.Config == nil {
			return nil
		}
		conn := o.registry.NewConn(id, *rec.Config)

		topics := make([]string, 0, len(rec.Subscriptions))
		sinks := make(map[string]registry.Sink, len(rec.Subscriptions))
		for topic, sinkID := range rec.Subscriptions {
			topics = append(topics, topic)
			sink, ok := o.resolver.Resolve(sinkID)
			if !ok {
				o.logger.Warn("sink did not resolve", "tenant", id, "topic", topic, "sink", sinkID)
				continue
			}
			sinks[topic] = sink
		}
		conn.SeedTopics(topics)

		o.registry.Install(id, conn, sinks)
		o.logger.Debug("restored tenant from store",
			"tenant", id,
			"endpoint", rec.Config.Endpoint,
			"realm", rec.Config.Realm,
			"topics", len(topics),
		)
		return nil
	})
}

// Shutdown closes every active connection concurrently, best effort.
func (o *Orchestrator) Shutdown(_ context.Context) {
	o.registry.CloseAll()
}
