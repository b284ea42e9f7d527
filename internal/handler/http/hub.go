// Package http is a thin adapter over the Relayer operations: a chi REST
// surface for commands and a websocket transport that lets consumers attach
// to named sinks. It renders results and holds no lifecycle logic of its own.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wampline/relay-service/internal/domain/model"
	"github.com/wampline/relay-service/internal/domain/registry"
)

const sinkWriteWindow = 5 * time.Second

// SinkHub is the presentation layer the registry resolves sink ids against.
// A sink comes into existence when it is first named and keeps its identity
// while the process lives; websocket consumers attach to and detach from it
// freely. Sinks do not survive a restart, so persisted sink ids resolve only
// after a consumer has re-declared them.
type SinkHub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	sinks map[model.SinkID]*wsSink
}

var _ registry.SinkResolver = (*SinkHub)(nil)

func NewSinkHub(logger *slog.Logger) *SinkHub {
	return &SinkHub{
		logger: logger,
		sinks:  make(map[model.SinkID]*wsSink),
	}
}

// Sink returns the named sink, declaring it when absent.
func (h *SinkHub) Sink(id model.SinkID) registry.Sink {
	h.mu.Lock()
	defer h.mu.Unlock()
	sink, ok := h.sinks[id]
	if !ok {
		sink = newWSSink(id, h.logger)
		h.sinks[id] = sink
	}
	return sink
}

// Resolve reports only sinks that have been declared in this process.
func (h *SinkHub) Resolve(id model.SinkID) (registry.Sink, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sink, ok := h.sinks[id]
	return sink, ok
}

// Attach connects a websocket consumer to the named sink and returns the
// matching detach.
func (h *SinkHub) Attach(id model.SinkID, conn *websocket.Conn) func() {
	sink := h.Sink(id).(*wsSink)
	sink.attach(conn)
	return func() { sink.detach(conn) }
}

// wsSink fans one event out to every websocket consumer attached to it.
// Consumers carry a generated id so log lines can tell them apart.
type wsSink struct {
	id     model.SinkID
	logger *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]string
}

func newWSSink(id model.SinkID, logger *slog.Logger) *wsSink {
	return &wsSink{
		id:     id,
		logger: logger,
		conns:  make(map[*websocket.Conn]string),
	}
}

func (s *wsSink) ID() model.SinkID { return s.id }

// Deliver writes the event to all attached consumers. A consumer that fails
// the write is dropped; having no consumers at all is a delivery failure the
// dispatcher logs.
func (s *wsSink) Deliver(_ context.Context, ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.conns) == 0 {
		return fmt.Errorf("sink %s has no attached consumers", s.id)
	}
	for conn, consumer := range s.conns {
		conn.SetWriteDeadline(time.Now().Add(sinkWriteWindow))
		if err := conn.WriteJSON(ev); err != nil {
			s.logger.Warn("dropping broken sink consumer", "sink", s.id, "consumer", consumer, "error", err)
			delete(s.conns, conn)
			conn.Close()
		}
	}
	return nil
}

func (s *wsSink) attach(conn *websocket.Conn) {
	s.mu.Lock()
	s.conns[conn] = uuid.NewString()
	s.mu.Unlock()
}

func (s *wsSink) detach(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}
