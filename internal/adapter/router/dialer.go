package router

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/wampline/relay-service/internal/domain/model"
)

// transportDialer routes dial requests by endpoint scheme and normalizes
// every failure into a *model.ConnectError.
type transportDialer struct {
	amqp     *amqpDialer
	channels *channelDialer
}

func NewDialer(logger watermill.LoggerAdapter) Dialer {
	return &transportDialer{
		amqp:     &amqpDialer{logger: logger},
		channels: newChannelDialer(logger),
	}
}

func (d *transportDialer) Dial(ctx context.Context, endpoint, realm string) (Session, error) {
	session, err := d.dial(ctx, endpoint, realm)
	if err != nil {
		return nil, &model.ConnectError{Endpoint: endpoint, Realm: realm, Err: err}
	}
	return session, nil
}

func (d *transportDialer) dial(ctx context.Context, endpoint, realm string) (Session, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "amqp", "amqps":
		return d.amqp.Dial(ctx, endpoint, realm)
	case "mem":
		return d.channels.Dial(ctx, endpoint, realm)
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
}
