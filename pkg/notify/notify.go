// Package notify delivers encoded enrollment events to a message bus.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/class-scheduler-api/pkg/config"
)

// Publisher sends a payload to every subscriber of subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Close() error
}

// New returns the publisher selected by cfg.Driver. redisClient is required
// for the redis driver and is not closed by the returned publisher.
func New(cfg config.NotifyConfig, redisClient *redis.Client) (Publisher, error) {
	switch cfg.Driver {
	case "", config.NotifyDriverNone:
		return Nop{}, nil
	case config.NotifyDriverRedis:
		if redisClient == nil {
			return nil, errors.New("notify: redis driver selected without a redis client")
		}
		return NewRedisPublisher(redisClient), nil
	case config.NotifyDriverNATS:
		return ConnectNATS(cfg.NATSURL, "class-scheduler", 5*time.Second)
	default:
		return nil, fmt.Errorf("notify: unknown driver %q", cfg.Driver)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }

func (Nop) Close() error { return nil }
