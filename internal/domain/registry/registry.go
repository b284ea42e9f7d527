package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wampline/relay-service/internal/adapter/router"
	"github.com/wampline/relay-service/internal/domain/model"
	"github.com/wampline/relay-service/internal/store"
)

// TenantRegistry is the single authority mapping a tenant to its current
// connection and sink map, and the only component that mutates the persisted
// config and subscriptions fields.
type TenantRegistry struct {
	store  store.Storer
	dialer router.Dialer
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[model.TenantID]*LazyConn
	sinks map[model.TenantID]map[string]Sink
}

func NewTenantRegistry(st store.Storer, dialer router.Dialer, logger *slog.Logger) *TenantRegistry {
	return &TenantRegistry{
		store:  st,
		dialer: dialer,
		logger: logger,
		conns:  make(map[model.TenantID]*LazyConn),
		sinks:  make(map[model.TenantID]map[string]Sink),
	}
}

// NewConn builds a LazyConn whose event path is bound to the tenant id at
// construction time: every inbound publication is dispatched through the
// registry's sink lookup for that tenant.
func (r *TenantRegistry) NewConn(id model.TenantID, cfg model.ConnectionConfig) *LazyConn {
	onEvent := func(ctx context.Context, ev model.Event) {
		r.Dispatch(ctx, id, ev.Topic, ev)
	}
	return NewLazyConn(cfg, r.dialer, onEvent, r.logger.With("tenant", id))
}

// Get returns the tenant's current connection.
func (r *TenantRegistry) Get(id model.TenantID) (*LazyConn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, model.ErrNotConfigured
	}
	return conn, nil
}

// Status reports the tenant's lifecycle state.
func (r *TenantRegistry) Status(id model.TenantID) model.Status {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	switch {
	case !ok:
		return model.StatusUnconfigured
	case conn.IsConnected():
		return model.StatusConnected
	default:
		return model.StatusConfigured
	}
}

// Tenants lists all tenants with an installed connection.
func (r *TenantRegistry) Tenants() []model.TenantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]model.TenantID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// SwitchConn installs next as the tenant's current connection. Topics
// desired by the previous connection are transferred onto next (union) before
// the previous one is closed in the background, so no subscription is
// silently dropped across the hand-off. The new config is persisted.
func (r *TenantRegistry) SwitchConn(ctx context.Context, id model.TenantID, next *LazyConn) error {
	r.mu.RLock()
	prev := r.conns[id]
	r.mu.RUnlock()
	if prev == next {
		return nil
	}

	if prev != nil {
		for _, topic := range prev.Topics() {
			if err := next.Subscribe(ctx, topic); err != nil {
				// Topic stays desired on next; it will be retried on the
				// next connect.
				r.logger.Warn("topic transfer incomplete", "tenant", id, "topic", topic, "error", err)
			}
		}
	}

	r.mu.Lock()
	r.conns[id] = next
	r.mu.Unlock()

	if prev != nil {
		go func() {
			if err := prev.Close(); err != nil {
				r.logger.Warn("superseded connection close failed", "tenant", id, "error", err)
			}
		}()
	}

	cfg := next.Config()
	if err := r.store.WithWriteback(id, func(rec *model.Record) error {
		rec.Config = &cfg
		return nil
	}); err != nil {
		return fmt.Errorf("persist config: %w", err)
	}
	r.logger.Debug("switched connection", "tenant", id, "endpoint", cfg.Endpoint, "realm", cfg.Realm)
	return nil
}

// AddSubscription subscribes the tenant's connection to the topic, routes the
// topic's events to sink, and persists the updated subscription set. There is
// no rollback of a partially applied subscribe: on error the caller retries.
// The benign-duplicate outcome requires the topic to be desired and persisted
// both, so a retry after a persistence failure completes the persist instead
// of short-circuiting.
func (r *TenantRegistry) AddSubscription(ctx context.Context, id model.TenantID, topic string, sink Sink) error {
	conn, err := r.Get(id)
	if err != nil {
		return err
	}
	if conn.Desires(topic) && r.persisted(id, topic) {
		return model.ErrAlreadySubscribed
	}
	if err := conn.Subscribe(ctx, topic); err != nil {
		return err
	}

	r.mu.Lock()
	if r.sinks[id] == nil {
		r.sinks[id] = make(map[string]Sink)
	}
	r.sinks[id][topic] = sink
	r.mu.Unlock()

	if err := r.store.WithWriteback(id, func(rec *model.Record) error {
		rec.Subscriptions[topic] = sink.ID()
		return nil
	}); err != nil {
		return fmt.Errorf("persist subscription: %w", err)
	}
	return nil
}

// RemoveSubscription unsubscribes the topic and persists the shrunken set.
// Removing a topic that was never subscribed reports removed=false with a
// nil error, so the caller can present "already unsubscribed" instead of a
// failure. A topic gone from the desired set but still persisted (an earlier
// removal whose persist failed) is treated as present, so the retry deletes
// it from the store.
func (r *TenantRegistry) RemoveSubscription(ctx context.Context, id model.TenantID, topic string) (bool, error) {
	conn, err := r.Get(id)
	if err != nil {
		return false, err
	}
	if !conn.Desires(topic) && !r.persisted(id, topic) {
		return false, nil
	}
	if err := conn.Unsubscribe(ctx, topic); err != nil && !errors.Is(err, model.ErrNotSubscribed) {
		return false, err
	}

	r.mu.Lock()
	delete(r.sinks[id], topic)
	r.mu.Unlock()

	if err := r.store.WithWriteback(id, func(rec *model.Record) error {
		delete(rec.Subscriptions, topic)
		return nil
	}); err != nil {
		return true, fmt.Errorf("persist subscription removal: %w", err)
	}
	return true, nil
}

// persisted reports whether the topic is in the tenant's stored subscription
// set. An unreadable record counts as not persisted; the following writeback
// surfaces the store failure.
func (r *TenantRegistry) persisted(id model.TenantID, topic string) bool {
	rec, err := r.store.Get(id)
	if err != nil {
		return false
	}
	_, ok := rec.Subscriptions[topic]
	return ok
}

// Remove deletes the tenant's record, evicts its sink map, and schedules the
// connection's close. The returned channel yields the close outcome; the
// caller may wait on it or drop it.
func (r *TenantRegistry) Remove(id model.TenantID) (<-chan error, error) {
	r.mu.Lock()
	conn := r.conns[id]
	delete(r.conns, id)
	delete(r.sinks, id)
	r.mu.Unlock()

	if err := r.store.Delete(id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	done := make(chan error, 1)
	if conn == nil {
		done <- nil
		return done, nil
	}
	go func() { done <- conn.Close() }()
	return done, nil
}

// Install places a rebuilt connection and its resolved sinks into the
// registry. Used by the lifecycle orchestrator at startup.
func (r *TenantRegistry) Install(id model.TenantID, conn *LazyConn, sinks map[string]Sink) {
	r.mu.Lock()
	r.conns[id] = conn
	r.sinks[id] = sinks
	r.mu.Unlock()
}

// Dispatch routes one inbound event to the sink registered for the tenant
// and topic. A missing sink or a failing delivery is logged and dropped;
// delivery for other topics and tenants is never affected.
func (r *TenantRegistry) Dispatch(ctx context.Context, id model.TenantID, topic string, ev model.Event) {
	r.mu.RLock()
	sink := r.sinks[id][topic]
	r.mu.RUnlock()

	if sink == nil {
		r.logger.Warn("undeliverable event: no sink for topic", "tenant", id, "topic", topic, "event", ev.ID)
		return
	}
	if err := sink.Deliver(ctx, ev); err != nil {
		r.logger.Error("sink delivery failed", "tenant", id, "topic", topic, "sink", sink.ID(), "error", err)
	}
}

// CloseAll closes every active connection concurrently and waits for all of
// them. Close errors are logged, not escalated.
func (r *TenantRegistry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[model.TenantID]*LazyConn)
	r.sinks = make(map[model.TenantID]map[string]Sink)
	r.mu.Unlock()

	g := new(errgroup.Group)
	for id, conn := range conns {
		id, conn := id, conn
		g.Go(func() error {
			if err := conn.Close(); err != nil {
				r.logger.Warn("connection close failed", "tenant", id, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}
