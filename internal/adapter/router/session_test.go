package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/wampline/relay-service/internal/domain/model"
)

func newTestBus() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
}

type eventCollector struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *eventCollector) handle(_ context.Context, ev model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) wait(t *testing.T, n int) []model.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.events) >= n {
			out := append([]model.Event(nil), c.events...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-deadline:
			t.Fatalf("collector has %d events, want %d", len(c.events), n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSubscribePublishRoundTrip(t *testing.T) {
	bus := newTestBus()
	session := newPubSubSession("realm1", bus, bus)
	defer session.Close()

	var got eventCollector
	if err := session.Subscribe(context.Background(), "greet", got.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	err := session.Publish(context.Background(), "greet", []any{"hello"}, map[string]any{"lang": "en"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	events := got.wait(t, 1)
	ev := events[0]
	if ev.Topic != "greet" {
		t.Errorf("topic = %q, want greet", ev.Topic)
	}
	if len(ev.Args) != 1 || ev.Args[0] != "hello" {
		t.Errorf("args = %v, want [hello]", ev.Args)
	}
	if ev.Kwargs["lang"] != "en" {
		t.Errorf("kwargs = %v, want lang=en", ev.Kwargs)
	}
	if ev.OccurredAt == 0 {
		t.Error("occurred_at missing from decoded event")
	}
}

func TestRealmScoping(t *testing.T) {
	bus := newTestBus()
	one := newPubSubSession("realm1", bus, bus)
	defer one.Close()
	two := newPubSubSession("realm2", bus, bus)
	defer two.Close()

	var got eventCollector
	if err := one.Subscribe(context.Background(), "greet", got.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := two.Publish(context.Background(), "greet", []any{"wrong realm"}, nil); err != nil {
		t.Fatalf("Publish realm2: %v", err)
	}
	if err := one.Publish(context.Background(), "greet", []any{"right realm"}, nil); err != nil {
		t.Fatalf("Publish realm1: %v", err)
	}

	events := got.wait(t, 1)
	time.Sleep(50 * time.Millisecond)
	if final := got.wait(t, 1); len(final) != 1 {
		t.Fatalf("collector has %d events, want exactly 1", len(final))
	}
	if events[0].Args[0] != "right realm" {
		t.Errorf("args = %v, want the same-realm publication", events[0].Args)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()
	session := newPubSubSession("realm1", bus, bus)
	defer session.Close()

	if err := session.Unsubscribe(context.Background(), "greet"); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("Unsubscribe unknown = %v, want ErrNotSubscribed", err)
	}

	var got eventCollector
	if err := session.Subscribe(context.Background(), "greet", got.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := session.Unsubscribe(context.Background(), "greet"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
}

func TestCallRoundTrip(t *testing.T) {
	bus := newTestBus()
	session := newPubSubSession("realm1", bus, bus)
	defer session.Close()

	// Responder: consume the procedure topic directly off the bus and echo
	// the args back on the advertised reply topic.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	requests, err := bus.Subscribe(ctx, "realm1.math.add")
	if err != nil {
		t.Fatalf("responder subscribe: %v", err)
	}
	go func() {
		for msg := range requests {
			var body wirePayload
			if err := json.Unmarshal(msg.Payload, &body); err != nil {
				msg.Ack()
				continue
			}
			sum := 0.0
			for _, arg := range body.Args {
				if n, ok := arg.(float64); ok {
					sum += n
				}
			}
			payload, _ := json.Marshal(wirePayload{Args: []any{sum}})
			reply := message.NewMessage(watermill.NewUUID(), payload)
			reply.Metadata.Set(correlationHeader, msg.Metadata.Get(correlationHeader))
			_ = bus.Publish("realm1."+msg.Metadata.Get(replyToHeader), reply)
			msg.Ack()
		}
	}()

	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()
	result, err := session.Call(callCtx, "math.add", []any{2, 3}, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(result.Args) != 1 || result.Args[0] != 5.0 {
		t.Errorf("result = %v, want [5]", result.Args)
	}
}

func TestCallTimesOutWithoutResponder(t *testing.T) {
	bus := newTestBus()
	session := newPubSubSession("realm1", bus, bus)
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := session.Call(ctx, "math.add", []any{1}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Call = %v, want deadline exceeded", err)
	}
}

func TestDecodeForeignPayload(t *testing.T) {
	msg := message.NewMessage("m1", []byte("plain text, not our envelope"))

	ev := decodeEvent("greet", msg)
	if ev.ID != "m1" || ev.Topic != "greet" {
		t.Errorf("event = %+v, want id m1 topic greet", ev)
	}
	if len(ev.Args) != 1 || ev.Args[0] != "plain text, not our envelope" {
		t.Errorf("args = %v, want the raw payload", ev.Args)
	}
}

func TestClosedSessionRejectsOperations(t *testing.T) {
	bus := newTestBus()
	session := newPubSubSession("realm1", bus, bus)
	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := session.Subscribe(context.Background(), "greet", func(context.Context, model.Event) {}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Subscribe = %v, want ErrSessionClosed", err)
	}
	if err := session.Publish(context.Background(), "greet", nil, nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Publish = %v, want ErrSessionClosed", err)
	}
	if _, err := session.Call(context.Background(), "proc", nil, nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Call = %v, want ErrSessionClosed", err)
	}
}
