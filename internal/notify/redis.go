package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/reservd/reservd/internal/log"
	"github.com/reservd/reservd/internal/metrics"
	"github.com/reservd/reservd/internal/model"
)

// RedisConfig holds connection settings for the notification bus.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisNotifier publishes lease notifications over redis pub/sub. The
// channel name equals the notification name, e.g. "lease.create".
type RedisNotifier struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisNotifier connects to redis and verifies the connection.
func NewRedisNotifier(cfg RedisConfig) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("notify: redis connection failed: %w", err)
	}

	logger := log.WithComponent("notify")
	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to notification bus")

	return &RedisNotifier{client: client, logger: logger}, nil
}

func (n *RedisNotifier) Send(ctx context.Context, lease *model.Lease, events ...string) {
	payload, err := json.Marshal(FormatLeasePayload(lease))
	if err != nil {
		n.logger.Error().Err(err).Str("lease_id", lease.ID).Msg("failed to marshal notification payload")
		return
	}

	for _, event := range events {
		channel := "lease." + event
		if err := n.client.Publish(ctx, channel, payload).Err(); err != nil {
			metrics.NotificationFailuresTotal.WithLabelValues(channel).Inc()
			n.logger.Warn().Err(err).
				Str("channel", channel).
				Str("lease_id", lease.ID).
				Msg("failed to publish notification")
		}
	}
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

var _ Notifier = (*RedisNotifier)(nil)
