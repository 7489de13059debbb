// Package main is agroctl, the operator CLI for the acquisition pipeline:
// migrations, backfills, job inspection and retry, breaker state and
// operator keys.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/breaker"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/cache"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/config"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/queue"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// backends opens the infrastructure a command needs. Each opener returns a
// release func the command defers.
type backends struct {
	openStore     func(ctx context.Context, v *viper.Viper) (store.Store, func(), error)
	openPublisher func(ctx context.Context, v *viper.Viper) (jobs.Publisher, func(), error)
	openBreakers  func(ctx context.Context, v *viper.Viper) (breaker.Store, func(), error)
	migrate       func(databaseURL, dir string) error
	version       func(databaseURL, dir string) (uint, bool, error)
}

func main() {
	root := newRootCmd(os.Stdout, liveBackends())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type cli struct {
	out io.Writer
	v   *viper.Viper
	b   backends
}

func newRootCmd(out io.Writer, b backends) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("VIVACAMPO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "agroctl",
		Short:         "VivaCampo acquisition pipeline operator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.String("database-url", os.Getenv("DATABASE_URL"), "Postgres connection URL")
	flags.String("redis-url", os.Getenv("REDIS_URL"), "Redis connection URL")
	flags.String("migrations-dir", "migrations", "directory holding the SQL migrations")
	flags.String("queue-backend", "redis", "queue backend: redis, kafka or rabbitmq")
	flags.String("queue-name", "vivacampo-jobs", "queue, stream or topic name")
	flags.StringSlice("kafka-brokers", nil, "Kafka broker addresses")
	flags.String("rabbitmq-url", "", "RabbitMQ connection URL")
	flags.Bool("json", false, "output JSON")
	for _, name := range []string{"database-url", "redis-url", "migrations-dir", "queue-backend", "queue-name", "kafka-brokers", "rabbitmq-url", "json"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	c := &cli{out: out, v: v, b: b}
	root.AddCommand(
		c.migrateCmd(),
		c.backfillCmd(),
		c.jobsCmd(),
		c.aoisCmd(),
		c.breakersCmd(),
		c.keysCmd(),
	)
	return root
}

func liveBackends() backends {
	return backends{
		openStore:     connectStore,
		openPublisher: connectQueue,
		openBreakers:  connectBreakers,
		migrate:       store.RunMigrations,
		version:       store.MigrationVersion,
	}
}

func databaseURL(v *viper.Viper) (string, error) {
	u := v.GetString("database-url")
	if u == "" {
		return "", fmt.Errorf("database URL is required (--database-url or VIVACAMPO_DATABASE_URL)")
	}
	return u, nil
}

func connectStore(ctx context.Context, v *viper.Viper) (store.Store, func(), error) {
	u, err := databaseURL(v)
	if err != nil {
		return nil, nil, err
	}
	pool, err := store.Connect(ctx, config.DatabaseConfig{
		URL:             u,
		MaxOpenConns:    4,
		MaxIdleConns:    1,
		ApplicationName: "agroctl",
		ConnectAttempts: 1,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}

func connectRedis(ctx context.Context, v *viper.Viper) (*cache.RedisCache, error) {
	u := v.GetString("redis-url")
	if u == "" {
		return nil, fmt.Errorf("redis URL is required (--redis-url or VIVACAMPO_REDIS_URL)")
	}
	rc, err := cache.NewRedisCache(u)
	if err != nil {
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := rc.Ping(ctx); err != nil {
		rc.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rc, nil
}

// queueConfig is the slice of the service config the queue factory reads.
func queueConfig(v *viper.Viper) *config.Config {
	return &config.Config{
		Queue: config.QueueConfig{
			Backend:  v.GetString("queue-backend"),
			Name:     v.GetString("queue-name"),
			Kafka:    config.KafkaConfig{Brokers: v.GetStringSlice("kafka-brokers"), GroupID: "agroctl"},
			RabbitMQ: config.RabbitMQConfig{URL: v.GetString("rabbitmq-url")},
		},
		Worker: config.WorkerConfig{Concurrency: 1},
	}
}

func connectQueue(ctx context.Context, v *viper.Viper) (jobs.Publisher, func(), error) {
	cfg := queueConfig(v)
	var rc *cache.RedisCache
	var rdb *redis.Client
	if cfg.Queue.Backend == "redis" {
		var err error
		if rc, err = connectRedis(ctx, v); err != nil {
			return nil, nil, err
		}
		rdb = rc.Client()
	}
	q, err := queue.New(ctx, cfg, rdb, fmt.Sprintf("agroctl-%d", os.Getpid()))
	if err != nil {
		if rc != nil {
			rc.Close()
		}
		return nil, nil, fmt.Errorf("create queue: %w", err)
	}
	return q, func() {
		q.Close()
		if rc != nil {
			rc.Close()
		}
	}, nil
}

func connectBreakers(ctx context.Context, v *viper.Viper) (breaker.Store, func(), error) {
	rc, err := connectRedis(ctx, v)
	if err != nil {
		return nil, nil, err
	}
	return breaker.NewRedisStore(rc.Client()), func() { rc.Close() }, nil
}
