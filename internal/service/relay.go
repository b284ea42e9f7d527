// Package service exposes the caller-facing operations of the lifecycle
// manager. Outer surfaces (HTTP, chat commands, CLIs) are thin adapters over
// the Relayer interface and render its results; no lifecycle invariants
// live outside this boundary.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wampline/relay-service/internal/domain/model"
	"github.com/wampline/relay-service/internal/domain/registry"
	"github.com/wampline/relay-service/internal/store"
)

// Relayer is the primary interface for transport handlers.
type Relayer interface {
	// Configure installs a connection target for the tenant without forcing
	// a network round trip.
	Configure(ctx context.Context, id model.TenantID, endpoint, realm string) error

	// Connect establishes the tenant's session. With a non-empty endpoint a
	// new connection replaces the current one; with an empty endpoint the
	// existing connection is used. The report summarizes re-subscriptions.
	Connect(ctx context.Context, id model.TenantID, endpoint, realm string) (*model.SubscribeReport, error)

	// Disconnect closes the live session. The tenant stays configured and
	// can connect again.
	Disconnect(ctx context.Context, id model.TenantID) error

	// Remove drops the tenant entirely: record, sinks, connection. The
	// returned channel yields the connection close outcome.
	Remove(ctx context.Context, id model.TenantID) (<-chan error, error)

	Status(id model.TenantID) (model.Status, *model.ConnectionConfig)

	Subscribe(ctx context.Context, id model.TenantID, topic string, sink registry.Sink) error
	Unsubscribe(ctx context.Context, id model.TenantID, topic string) (bool, error)
	Subscriptions(id model.TenantID) (map[string]model.SinkID, error)

	Call(ctx context.Context, id model.TenantID, procedure string, args []any, kwargs map[string]any) (*model.Event, error)
	Publish(ctx context.Context, id model.TenantID, topic string, args []any, kwargs map[string]any) error

	SetAlias(ctx context.Context, id model.TenantID, alias, uri string) (string, error)
	RemoveAlias(ctx context.Context, id model.TenantID, alias string) (string, error)
	Aliases(id model.TenantID) (map[string]string, error)

	SetMacro(ctx context.Context, id model.TenantID, name string, macro model.Macro) error
	RemoveMacro(ctx context.Context, id model.TenantID, name string) error
	Macros(id model.TenantID) (map[string]model.Macro, error)
	RunMacro(ctx context.Context, id model.TenantID, name string) (*model.Event, error)
}

type RelayService struct {
	store    store.Storer
	registry *registry.TenantRegistry
	logger   *slog.Logger
}

var _ Relayer = (*RelayService)(nil)

func NewRelayService(st store.Storer, reg *registry.TenantRegistry, logger *slog.Logger) *RelayService {
	return &RelayService{
		store:    st,
		registry: reg,
		logger:   logger,
	}
}

func (s *RelayService) Configure(ctx context.Context, id model.TenantID, endpoint, realm string) error {
	cfg := model.ConnectionConfig{Endpoint: endpoint, Realm: realm}
	return s.registry.SwitchConn(ctx, id, s.registry.NewConn(id, cfg))
}

func (s *RelayService) Connect(ctx context.Context, id model.TenantID, endpoint, realm string) (*model.SubscribeReport, error) {
	if endpoint != "" {
		cfg := model.ConnectionConfig{Endpoint: endpoint, Realm: realm}
		next := s.registry.NewConn(id, cfg)
		// Carry the current topics before dialing so the report covers
		// their re-subscription; the switch still unions as the authority.
		if current, err := s.registry.Get(id); err == nil {
			next.SeedTopics(current.Topics())
		}
		report, err := next.Connect(ctx)
		if err != nil {
			// The replacement never gets installed; the previous
			// connection, if any, stays current.
			return nil, err
		}
		if err := s.registry.SwitchConn(ctx, id, next); err != nil {
			return report, err
		}
		return report, nil
	}

	conn, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return conn.Connect(ctx)
}

func (s *RelayService) Disconnect(ctx context.Context, id model.TenantID) error {
	conn, err := s.registry.Get(id)
	if err != nil {
		return err
	}
	if !conn.IsConnected() {
		return model.ErrNotConnected
	}
	// Closed connections are terminal, so the live one is swapped for a
	// fresh unconnected conn with the same config; the desired topic set
	// carries over through the switch.
	return s.registry.SwitchConn(ctx, id, s.registry.NewConn(id, conn.Config()))
}

func (s *RelayService) Remove(_ context.Context, id model.TenantID) (<-chan error, error) {
	return s.registry.Remove(id)
}

func (s *RelayService) Status(id model.TenantID) (model.Status, *model.ConnectionConfig) {
	status := s.registry.Status(id)
	if status == model.StatusUnconfigured {
		return status, nil
	}
	conn, err := s.registry.Get(id)
	if err != nil {
		return model.StatusUnconfigured, nil
	}
	cfg := conn.Config()
	return status, &cfg
}

func (s *RelayService) Subscribe(ctx context.Context, id model.TenantID, topic string, sink registry.Sink) error {
	return s.registry.AddSubscription(ctx, id, topic, sink)
}

func (s *RelayService) Unsubscribe(ctx context.Context, id model.TenantID, topic string) (bool, error) {
	return s.registry.RemoveSubscription(ctx, id, topic)
}

func (s *RelayService) Subscriptions(id model.TenantID) (map[string]model.SinkID, error) {
	rec, err := s.store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]model.SinkID{}, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Subscriptions == nil {
		return map[string]model.SinkID{}, nil
	}
	return rec.Subscriptions, nil
}

func (s *RelayService) Call(ctx context.Context, id model.TenantID, procedure string, args []any, kwargs map[string]any) (*model.Event, error) {
	conn, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	session, err := conn.Session(ctx)
	if err != nil {
		return nil, err
	}
	return session.Call(ctx, s.expandAlias(id, procedure), args, kwargs)
}

func (s *RelayService) Publish(ctx context.Context, id model.TenantID, topic string, args []any, kwargs map[string]any) error {
	conn, err := s.registry.Get(id)
	if err != nil {
		return err
	}
	session, err := conn.Session(ctx)
	if err != nil {
		return err
	}
	return session.Publish(ctx, s.expandAlias(id, topic), args, kwargs)
}

// expandAlias replaces a registered alias with its URI; unknown names pass
// through unchanged.
func (s *RelayService) expandAlias(id model.TenantID, uri string) string {
	rec, err := s.store.Get(id)
	if err != nil {
		return uri
	}
	if full, ok := rec.Aliases[uri]; ok {
		return full
	}
	return uri
}

func (s *RelayService) RunMacro(ctx context.Context, id model.TenantID, name string) (*model.Event, error) {
	rec, err := s.store.Get(id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	macro, ok := rec.Macros[name]
	if !ok {
		return nil, fmt.Errorf("macro %q not found", name)
	}

	args := make([]any, 0, len(macro.Args))
	for _, arg := range macro.Args {
		args = append(args, arg)
	}
	switch macro.Op {
	case model.MacroCall:
		return s.Call(ctx, id, macro.URI, args, nil)
	case model.MacroPublish:
		return nil, s.Publish(ctx, id, macro.URI, args, nil)
	default:
		return nil, fmt.Errorf("macro %q has unknown operation %q", name, macro.Op)
	}
}
