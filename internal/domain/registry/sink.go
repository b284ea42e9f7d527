package registry

import (
	"context"

	"github.com/wampline/relay-service/internal/domain/model"
)

// Sink is the external destination an inbound event is forwarded to, already
// resolved against the presentation layer.
type Sink interface {
	ID() model.SinkID
	Deliver(ctx context.Context, ev model.Event) error
}

// SinkResolver resolves persisted sink ids when the registry is rebuilt at
// startup. A sink that no longer exists fails to resolve; its topics become
// undeliverable until re-subscribed.
type SinkResolver interface {
	Resolve(id model.SinkID) (Sink, bool)
}
