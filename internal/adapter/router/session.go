package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/wampline/relay-service/internal/domain/model"
)

const (
	replyToHeader     = "reply_to"
	correlationHeader = "correlation_id"
)

// wirePayload is the self-describing JSON body carried by every publication.
type wirePayload struct {
	Args       []any          `json:"args,omitempty"`
	Kwargs     map[string]any `json:"kwargs,omitempty"`
	OccurredAt int64          `json:"occurred_at,omitempty"`
}

// pubsubSession speaks the router protocol over a watermill publisher and
// subscriber pair. Topics are namespaced with the session's realm, so
// sessions on different realms never observe each other's publications.
type pubsubSession struct {
	realm string
	pub   message.Publisher
	sub   message.Subscriber

	// closers are transport resources owned by this session; a shared bus
	// (the in-process transport) passes none.
	closers []io.Closer

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	consumers map[string]context.CancelFunc
	closed    bool
}

func newPubSubSession(realm string, pub message.Publisher, sub message.Subscriber, closers ...io.Closer) *pubsubSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &pubsubSession{
		realm:     realm,
		pub:       pub,
		sub:       sub,
		closers:   closers,
		ctx:       ctx,
		cancel:    cancel,
		consumers: make(map[string]context.CancelFunc),
	}
}

func (s *pubsubSession) scoped(topic string) string {
	if s.realm == "" {
		return topic
	}
	return s.realm + "." + topic
}

func (s *pubsubSession) Subscribe(ctx context.Context, topic string, h EventHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if _, ok := s.consumers[topic]; ok {
		return nil
	}

	consumeCtx, cancel := context.WithCancel(s.ctx)
	ch, err := s.sub.Subscribe(consumeCtx, s.scoped(topic))
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	s.consumers[topic] = cancel
	go s.consume(topic, ch, h)
	return nil
}

func (s *pubsubSession) consume(topic string, ch <-chan *message.Message, h EventHandler) {
	for msg := range ch {
		h(msg.Context(), decodeEvent(topic, msg))
		msg.Ack()
	}
}

func (s *pubsubSession) Unsubscribe(_ context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	cancel, ok := s.consumers[topic]
	if !ok {
		return ErrNotSubscribed
	}
	delete(s.consumers, topic)
	cancel()
	return nil
}

func (s *pubsubSession) Publish(_ context.Context, topic string, args []any, kwargs map[string]any) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	msg, err := encodeEvent(args, kwargs)
	if err != nil {
		return err
	}
	if err := s.pub.Publish(s.scoped(topic), msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Call publishes a request on the procedure topic and waits for the first
// publication on a per-call reply topic. The responder is expected to echo
// the correlation id; the reply subscription lives only for this call.
func (s *pubsubSession) Call(ctx context.Context, procedure string, args []any, kwargs map[string]any) (*model.Event, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}

	correlation := watermill.NewUUID()
	replyTopic := procedure + ".reply." + correlation

	replyCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	replies, err := s.sub.Subscribe(replyCtx, s.scoped(replyTopic))
	if err != nil {
		return nil, fmt.Errorf("call %s: open reply: %w", procedure, err)
	}

	msg, err := encodeEvent(args, kwargs)
	if err != nil {
		return nil, err
	}
	msg.Metadata.Set(replyToHeader, replyTopic)
	msg.Metadata.Set(correlationHeader, correlation)
	if err := s.pub.Publish(s.scoped(procedure), msg); err != nil {
		return nil, fmt.Errorf("call %s: %w", procedure, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case reply, ok := <-replies:
		if !ok {
			return nil, ErrSessionClosed
		}
		reply.Ack()
		ev := decodeEvent(procedure, reply)
		return &ev, nil
	}
}

func (s *pubsubSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for topic, cancel := range s.consumers {
		delete(s.consumers, topic)
		cancel()
	}
	s.mu.Unlock()

	s.cancel()
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close session: %v", errs)
	}
	return nil
}

func encodeEvent(args []any, kwargs map[string]any) (*message.Message, error) {
	payload, err := json.Marshal(wirePayload{
		Args:       args,
		Kwargs:     kwargs,
		OccurredAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return message.NewMessage(watermill.NewUUID(), payload), nil
}

func decodeEvent(topic string, msg *message.Message) model.Event {
	ev := model.Event{
		ID:    msg.UUID,
		Topic: topic,
	}
	var body wirePayload
	if err := json.Unmarshal(msg.Payload, &body); err != nil {
		// Not every producer speaks our envelope; keep the raw body.
		ev.Args = []any{string(msg.Payload)}
		return ev
	}
	ev.Args = body.Args
	ev.Kwargs = body.Kwargs
	ev.OccurredAt = body.OccurredAt
	return ev
}
