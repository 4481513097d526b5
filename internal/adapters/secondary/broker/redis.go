package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
	"github.com/lorrc/notify-gateway/internal/core/ports"
)

// Redis fans envelopes out over a Redis Pub/Sub channel. The client
// re-subscribes on its own after a dropped connection.
type Redis struct {
	client  *redis.Client
	channel string
	status  *statusTracker
	logger  *slog.Logger

	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ ports.Broker = (*Redis)(nil)

func NewRedis(ctx context.Context, url, channel string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis broker: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis broker ping: %w", err)
	}

	return &Redis{
		client:  client,
		channel: channel,
		status:  newStatusTracker(BackendRedis),
		logger:  logger.With("component", "broker", "backend", BackendRedis),
	}, nil
}

func (r *Redis) Name() string { return BackendRedis }

func (r *Redis) Publish(ctx context.Context, env domain.Envelope) error {
	payload, err := encodeEnvelope(env)
	if err != nil {
		r.status.recordPublish(err)
		return err
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		err = fmt.Errorf("%w: %v", apperrors.ErrBrokerUnavailable, err)
		r.status.recordPublish(err)
		return err
	}
	r.status.recordPublish(nil)
	return nil
}

// Start subscribes and returns once the server confirmed the subscription.
func (r *Redis) Start(ctx context.Context, handler ports.EnvelopeHandler) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		r.status.recordError(err)
		return fmt.Errorf("redis broker subscribe: %w", err)
	}
	r.pubsub = pubsub
	r.status.setConnected(true)

	ctx, r.cancel = context.WithCancel(ctx)
	messages := pubsub.Channel()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.status.setConnected(false)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				receive([]byte(msg.Payload), handler, r.status, r.logger)
			}
		}
	}()
	return nil
}

func (r *Redis) Health(ctx context.Context) error {
	if r.cancel != nil && !r.status.isConnected() {
		return fmt.Errorf("%w: subscription closed", apperrors.ErrBrokerUnavailable)
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrBrokerUnavailable, err)
	}
	return nil
}

func (r *Redis) Status() domain.BrokerStatus { return r.status.snapshot() }

func (r *Redis) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.pubsub != nil {
		_ = r.pubsub.Close()
	}
	r.wg.Wait()
	return r.client.Close()
}
