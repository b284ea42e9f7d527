package router

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// channelDialer serves mem:// endpoints with an in-process bus. Sessions
// dialed against the same endpoint share one bus, so publications from one
// session reach subscribers on another; the bus outlives individual sessions.
type channelDialer struct {
	logger watermill.LoggerAdapter

	mu    sync.Mutex
	buses map[string]*gochannel.GoChannel
}

func newChannelDialer(logger watermill.LoggerAdapter) *channelDialer {
	return &channelDialer{
		logger: logger,
		buses:  make(map[string]*gochannel.GoChannel),
	}
}

func (d *channelDialer) Dial(_ context.Context, endpoint, realm string) (Session, error) {
	d.mu.Lock()
	bus, ok := d.buses[endpoint]
	if !ok {
		bus = gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, d.logger)
		d.buses[endpoint] = bus
	}
	d.mu.Unlock()

	// The bus is shared; the session must not close it.
	return newPubSubSession(realm, bus, bus), nil
}
