package router

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wamqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
)

// amqpDialer establishes sessions over an AMQP broker. Each session owns its
// publisher and subscriber pair; both connect during dial so failures surface
// immediately instead of on first use.
type amqpDialer struct {
	logger watermill.LoggerAdapter
}

func (d *amqpDialer) Dial(_ context.Context, endpoint, realm string) (Session, error) {
	cfg := wamqp.NewDurablePubSubConfig(endpoint, wamqp.GenerateQueueNameTopicNameWithSuffix("relay"))

	pub, err := wamqp.NewPublisher(cfg, d.logger)
	if err != nil {
		return nil, fmt.Errorf("amqp publisher: %w", err)
	}
	sub, err := wamqp.NewSubscriber(cfg, d.logger)
	if err != nil {
		pub.Close()
		return nil, fmt.Errorf("amqp subscriber: %w", err)
	}
	return newPubSubSession(realm, pub, sub, pub, sub), nil
}
