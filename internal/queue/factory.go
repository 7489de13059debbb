package queue

import (
	"context"
	"fmt"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/config"
	"github.com/redis/go-redis/v9"
)

// New creates the queue backend selected by cfg.Queue.Backend. consumer
// names this process within the consumer group.
func New(ctx context.Context, cfg *config.Config, rdb *redis.Client, consumer string) (Queue, error) {
	switch cfg.Queue.Backend {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis queue backend requires a redis client")
		}
		return NewRedisStreamQueue(ctx, rdb, cfg.Queue.Name, consumer, cfg.Worker.VisibilityTimeout)
	case "kafka":
		return NewKafkaQueue(cfg.Queue.Kafka.Brokers, cfg.Queue.Name, cfg.Queue.Kafka.GroupID), nil
	case "rabbitmq":
		return NewRabbitQueue(cfg.Queue.RabbitMQ.URL, cfg.Queue.Name, cfg.Worker.Concurrency)
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", cfg.Queue.Backend)
	}
}
