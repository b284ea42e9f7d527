package router

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/wampline/relay-service/internal/domain/model"
)

type countingDialer struct {
	err   error
	dials atomic.Int32
}

func (d *countingDialer) Dial(_ context.Context, endpoint, realm string) (Session, error) {
	d.dials.Add(1)
	if d.err != nil {
		return nil, &model.ConnectError{Endpoint: endpoint, Realm: realm, Err: d.err}
	}
	return newPubSubSession(realm, nil, nil), nil
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &countingDialer{err: errors.New("broker down")}
	dialer := NewBreakerDialer(inner, 2, time.Hour)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := dialer.Dial(ctx, "amqp://dead", "r"); err == nil {
			t.Fatalf("Dial %d succeeded against a dead broker", i)
		}
	}
	if got := inner.dials.Load(); got != 2 {
		t.Fatalf("inner dials = %d, want 2", got)
	}

	// Open breaker: the attempt is shed before reaching the transport.
	_, err := dialer.Dial(ctx, "amqp://dead", "r")
	var connErr *model.ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("Dial with open breaker = %v, want ConnectError", err)
	}
	if got := inner.dials.Load(); got != 2 {
		t.Errorf("inner dials = %d, want attempt shed at 2", got)
	}
}

func TestBreakerIsPerEndpoint(t *testing.T) {
	inner := &countingDialer{err: errors.New("broker down")}
	dialer := NewBreakerDialer(inner, 1, time.Hour)
	ctx := context.Background()

	if _, err := dialer.Dial(ctx, "amqp://dead", "r"); err == nil {
		t.Fatal("Dial succeeded against a dead broker")
	}
	if _, err := dialer.Dial(ctx, "amqp://dead", "r"); err == nil {
		t.Fatal("Dial with open breaker succeeded")
	}

	inner.err = nil
	if _, err := dialer.Dial(ctx, "amqp://alive", "r"); err != nil {
		t.Fatalf("Dial against a healthy endpoint = %v, want shared nothing with the dead one", err)
	}
}

func TestDialerRejectsUnknownScheme(t *testing.T) {
	dialer := NewDialer(watermill.NopLogger{})

	_, err := dialer.Dial(context.Background(), "tcp://router", "r")
	var connErr *model.ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("Dial = %v, want ConnectError", err)
	}
	if connErr.Endpoint != "tcp://router" || connErr.Realm != "r" {
		t.Errorf("ConnectError = %+v, want endpoint and realm recorded", connErr)
	}
}

func TestChannelDialerSharesBusPerEndpoint(t *testing.T) {
	dialer := NewDialer(watermill.NopLogger{})
	ctx := context.Background()

	producer, err := dialer.Dial(ctx, "mem://bus", "realm1")
	if err != nil {
		t.Fatalf("Dial producer: %v", err)
	}
	defer producer.Close()
	consumer, err := dialer.Dial(ctx, "mem://bus", "realm1")
	if err != nil {
		t.Fatalf("Dial consumer: %v", err)
	}
	defer consumer.Close()

	var got eventCollector
	if err := consumer.Subscribe(ctx, "greet", got.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := producer.Publish(ctx, "greet", []any{"cross session"}, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got.wait(t, 1)
}
