package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/wampline/relay-service/internal/domain/model"
)

// BreakerDialer sheds dial attempts against an endpoint that keeps failing,
// so repeated explicit reconnects don't hammer a dead broker. Each endpoint
// gets its own breaker; an open breaker fails the dial immediately.
type BreakerDialer struct {
	next        Dialer
	maxFailures uint32
	cooldown    time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewBreakerDialer(next Dialer, maxFailures uint32, cooldown time.Duration) *BreakerDialer {
	return &BreakerDialer{
		next:        next,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *BreakerDialer) breakerFor(endpoint string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[endpoint]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "router-dial:" + endpoint,
			Timeout: b.cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= b.maxFailures
			},
		})
		b.breakers[endpoint] = cb
	}
	return cb
}

func (b *BreakerDialer) Dial(ctx context.Context, endpoint, realm string) (Session, error) {
	session, err := b.breakerFor(endpoint).Execute(func() (any, error) {
		return b.next.Dial(ctx, endpoint, realm)
	})
	if err != nil {
		var connErr *model.ConnectError
		if errors.As(err, &connErr) {
			return nil, err
		}
		// Open or half-open rejections come from the breaker itself.
		return nil, &model.ConnectError{Endpoint: endpoint, Realm: realm, Err: err}
	}
	return session.(Session), nil
}
