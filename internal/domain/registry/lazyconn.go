// Package registry owns the per-tenant connection lifecycle: lazily
// established router sessions, the desired subscription set each session
// converges to, and the routing of inbound events to per-topic sinks.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wampline/relay-service/internal/adapter/router"
	"github.com/wampline/relay-service/internal/domain/model"
)

type connState int16

const (
	stateUnconnected connState = iota + 1
	stateConnecting
	stateConnected
	stateFailed
	stateClosed
)

// LazyConn represents one tenant's router connection without forcing a
// network round trip until a consumer actually needs the session. Topics can
// be registered before the connection exists; they are subscribed in bulk
// once the first connect runs.
//
// Connect is memoized per attempt: concurrent callers share a single dial
// and observe the same outcome, success or failure. After a failed attempt
// the next explicit Connect starts a fresh dial. A closed conn stays closed;
// reusing the tenant means constructing a new instance.
type LazyConn struct {
	cfg     model.ConnectionConfig
	dialer  router.Dialer
	onEvent router.EventHandler
	logger  *slog.Logger

	mu         sync.Mutex
	topics     map[string]struct{}
	state      connState
	session    router.Session
	report     *model.SubscribeReport
	attempt    *connAttempt
	dialCancel context.CancelFunc
}

// connAttempt is one dial's shared outcome; done is closed once report and
// err are final.
type connAttempt struct {
	done   chan struct{}
	report *model.SubscribeReport
	err    error
}

func NewLazyConn(cfg model.ConnectionConfig, dialer router.Dialer, onEvent router.EventHandler, logger *slog.Logger) *LazyConn {
	return &LazyConn{
		cfg:     cfg,
		dialer:  dialer,
		onEvent: onEvent,
		logger:  logger,
		topics:  make(map[string]struct{}),
		state:   stateUnconnected,
	}
}

func (c *LazyConn) Config() model.ConnectionConfig { return c.cfg }

func (c *LazyConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected
}

// Desires reports whether the topic is in the desired subscription set.
func (c *LazyConn) Desires(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[topic]
	return ok
}

// Topics returns the desired subscription set, sorted.
func (c *LazyConn) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// SeedTopics adds topics to the desired set without touching the session.
// Used when rebuilding a conn from the persistent store before any connect.
func (c *LazyConn) SeedTopics(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		c.topics[topic] = struct{}{}
	}
}

// Connect establishes the session if none exists yet. The dial is detached
// from the caller's context because its outcome is shared by every waiter;
// Close cancels an in-flight attempt. The report lists which desired topics
// were re-subscribed and which failed.
func (c *LazyConn) Connect(ctx context.Context) (*model.SubscribeReport, error) {
	c.mu.Lock()
	switch c.state {
	case stateClosed:
		c.mu.Unlock()
		return nil, model.ErrClosed

	case stateConnected:
		report := c.report
		c.mu.Unlock()
		return report, nil

	case stateConnecting:
		attempt := c.attempt
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-attempt.done:
			return attempt.report, attempt.err
		}

	default: // unconnected, or failed and being retried
		c.state = stateConnecting
		c.attempt = &connAttempt{done: make(chan struct{})}
		dialCtx, cancel := context.WithCancel(context.Background())
		c.dialCancel = cancel
		topics := make([]string, 0, len(c.topics))
		for topic := range c.topics {
			topics = append(topics, topic)
		}
		cfg := c.cfg
		c.mu.Unlock()

		session, err := c.dialer.Dial(dialCtx, cfg.Endpoint, cfg.Realm)
		if err != nil {
			return c.settle(session, nil, err)
		}
		return c.connectSubscribe(dialCtx, session, topics)
	}
}

// connectSubscribe issues the desired subscriptions and settles the attempt.
// Topics added while the dial was in flight are diffed in and subscribed
// before the session is published; the last diff runs under the lock that
// Subscribe takes, so no topic can land between it and the settle.
func (c *LazyConn) connectSubscribe(ctx context.Context, session router.Session, topics []string) (*model.SubscribeReport, error) {
	report := &model.SubscribeReport{Failed: make(map[string]error)}
	seen := make(map[string]struct{}, len(topics))
	for {
		for _, topic := range topics {
			seen[topic] = struct{}{}
		}
		if len(topics) > 0 {
			part := c.bulkSubscribe(ctx, session, topics)
			report.Subscribed = append(report.Subscribed, part.Subscribed...)
			for topic, err := range part.Failed {
				report.Failed[topic] = err
			}
		}

		c.mu.Lock()
		topics = topics[:0]
		for topic := range c.topics {
			if _, ok := seen[topic]; !ok {
				topics = append(topics, topic)
			}
		}
		if len(topics) == 0 {
			sort.Strings(report.Subscribed)
			return c.settleLocked(session, report, nil)
		}
		c.mu.Unlock()
	}
}

// settle records the attempt outcome and wakes all waiters.
func (c *LazyConn) settle(session router.Session, report *model.SubscribeReport, err error) (*model.SubscribeReport, error) {
	c.mu.Lock()
	return c.settleLocked(session, report, err)
}

// settleLocked is settle with c.mu already held; it releases the lock.
func (c *LazyConn) settleLocked(session router.Session, report *model.SubscribeReport, err error) (*model.SubscribeReport, error) {
	attempt := c.attempt
	c.attempt = nil
	c.dialCancel = nil

	switch {
	case c.state == stateClosed:
		// Close won the race; a session that completed anyway is a zombie.
		if session != nil {
			defer session.Close()
		}
		attempt.err = model.ErrClosed
	case err != nil:
		c.state = stateFailed
		attempt.err = err
	default:
		c.state = stateConnected
		c.session = session
		c.report = report
		attempt.report = report
	}
	close(attempt.done)
	c.mu.Unlock()
	return attempt.report, attempt.err
}

// bulkSubscribe issues all desired subscriptions concurrently. A failed
// topic is recorded and logged but never fails the connect.
func (c *LazyConn) bulkSubscribe(ctx context.Context, session router.Session, topics []string) *model.SubscribeReport {
	report := &model.SubscribeReport{Failed: make(map[string]error)}
	var mu sync.Mutex

	g := new(errgroup.Group)
	for _, topic := range topics {
		topic := topic
		g.Go(func() error {
			err := session.Subscribe(ctx, topic, c.onEvent)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Warn("topic re-subscription failed", "topic", topic, "error", err)
				report.Failed[topic] = err
			} else {
				report.Subscribed = append(report.Subscribed, topic)
			}
			return nil
		})
	}
	g.Wait()
	sort.Strings(report.Subscribed)
	return report
}

// Session returns the live session, connecting first when necessary.
func (c *LazyConn) Session(ctx context.Context) (router.Session, error) {
	if _, err := c.Connect(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateConnected {
		return nil, model.ErrClosed
	}
	return c.session, nil
}

// Subscribe adds the topic to the desired set and, when connected, issues
// the subscribe immediately. Adding an already desired topic is a no-op.
// The desired set keeps the topic even when the live subscribe fails; the
// caller decides whether to retry or drop it.
func (c *LazyConn) Subscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return model.ErrClosed
	}
	if _, ok := c.topics[topic]; ok {
		c.mu.Unlock()
		return nil
	}
	c.topics[topic] = struct{}{}
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Subscribe(ctx, topic, c.onEvent)
}

// Unsubscribe removes the topic from the desired set and, when connected,
// issues the unsubscribe. A topic that was never desired reports
// model.ErrNotSubscribed; the router's own "not subscribed" is success.
func (c *LazyConn) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return model.ErrClosed
	}
	_, desired := c.topics[topic]
	delete(c.topics, topic)
	session := c.session
	c.mu.Unlock()

	if !desired {
		return model.ErrNotSubscribed
	}
	if session == nil {
		return nil
	}
	if err := session.Unsubscribe(ctx, topic); err != nil && !errors.Is(err, router.ErrNotSubscribed) {
		return err
	}
	return nil
}

// Close tears the connection down. A connecting conn has its dial cancelled
// instead of completing into a zombie session; any operation after Close has
// started fails with model.ErrClosed. Closed conns are never reused.
func (c *LazyConn) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	session := c.session
	c.session = nil
	cancel := c.dialCancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if session != nil {
		return session.Close()
	}
	return nil
}
