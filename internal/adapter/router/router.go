// Package router adapts the external message router's client library behind
// a narrow session contract. The lifecycle core consumes only this contract;
// the wire protocol itself lives in the transport implementations.
package router

import (
	"context"
	"errors"

	"github.com/wampline/relay-service/internal/domain/model"
)

// ErrNotSubscribed is returned by Unsubscribe for a topic the session does
// not currently consume. Callers treat it as a benign outcome.
var ErrNotSubscribed = errors.New("router: not subscribed")

// ErrSessionClosed rejects use of a session after Close.
var ErrSessionClosed = errors.New("router: session closed")

// EventHandler receives one inbound publication for a subscribed topic.
type EventHandler func(ctx context.Context, ev model.Event)

// Session is one live connection to the router under a fixed realm.
type Session interface {
	// Subscribe starts consuming a topic and forwards every publication to
	// the handler. Subscribing to an already consumed topic is a no-op.
	Subscribe(ctx context.Context, topic string, h EventHandler) error

	// Unsubscribe stops consuming a topic, or returns ErrNotSubscribed.
	Unsubscribe(ctx context.Context, topic string) error

	// Call performs a request/reply round trip against a procedure URI.
	Call(ctx context.Context, procedure string, args []any, kwargs map[string]any) (*model.Event, error)

	// Publish emits a publication on a topic.
	Publish(ctx context.Context, topic string, args []any, kwargs map[string]any) error

	// Close tears the session down and stops all consumers.
	Close() error
}

// Dialer establishes router sessions. A dial failure is reported as a
// *model.ConnectError.
type Dialer interface {
	Dial(ctx context.Context, endpoint, realm string) (Session, error)
}
