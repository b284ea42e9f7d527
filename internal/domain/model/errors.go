package model

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNotConfigured reports that no connection exists for the tenant.
	// Surfaced verbatim to the caller, it is a user error not a fault.
	ErrNotConfigured = errors.New("not configured to a router")

	// ErrNotSubscribed and ErrAlreadySubscribed are informational outcomes,
	// reported as status rather than failure.
	ErrNotSubscribed     = errors.New("not subscribed")
	ErrAlreadySubscribed = errors.New("already subscribed")

	// ErrNotConnected reports a disconnect on a tenant that has no live
	// session.
	ErrNotConnected = errors.New("not connected")

	// ErrClosed rejects operations on a connection whose close has started.
	// A closed connection is never reused; callers construct a new one.
	ErrClosed = errors.New("connection closed")
)

// ConnectError wraps a transport or auth failure during session
// establishment. The connection is left failed; retry is a new explicit
// connect.
type ConnectError struct {
	Endpoint string
	Realm    string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s realm %q: %v", e.Endpoint, e.Realm, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SubscribeReport summarizes a bulk re-subscription performed during
// connect. Individual per-topic failures are collected here instead of
// aborting the whole connect.
type SubscribeReport struct {
	Subscribed []string
	Failed     map[string]error
}

func (r *SubscribeReport) Partial() bool {
	return len(r.Failed) > 0
}

func (r *SubscribeReport) FailedTopics() []string {
	topics := make([]string, 0, len(r.Failed))
	for topic := range r.Failed {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
