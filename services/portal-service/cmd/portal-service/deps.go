package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/smartcondo/condo-portal/libs/config"
	"github.com/smartcondo/condo-portal/libs/db"
	"github.com/smartcondo/condo-portal/libs/kafkax"
	"github.com/smartcondo/condo-portal/libs/runtime"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/cache"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/outbox"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/portal"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/storage"
)

// deps holds the optional infrastructure. Each piece is enabled by its env var and
// the portal runs without any of them.
type deps struct {
	redis       *redis.Client
	pool        *db.Pool
	writer      *kafka.Writer
	cache       portal.Cache
	auditor     portal.Auditor
	readyChecks []runtime.ReadyCheck
}

func openDeps(ctx context.Context, logger *slog.Logger) (*deps, error) {
	d := &deps{}

	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		d.redis = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0, 0),
		})
		c := cache.NewRedis(d.redis, cache.Options{
			Prefix:          config.String("CACHE_PREFIX", "portal"),
			AvailabilityTTL: config.Duration("CACHE_AVAILABILITY_TTL", 30*time.Second),
			ViewerTTL:       config.Duration("CACHE_VIEWER_TTL", time.Minute),
		})
		d.cache = c
		d.readyChecks = append(d.readyChecks, runtime.ReadyCheck{Name: "redis", Check: c.ReadyCheck})
		logger.Info("redis cache enabled", "addr", addr)
	}

	if url := config.String("DATABASE_URL", ""); url != "" {
		pool, err := db.Open(ctx, url, db.Options{
			MaxConns: int32(config.Int("DB_MAX_CONNS", 10, 1)),
			MinConns: int32(config.Int("DB_MIN_CONNS", 1, 0)),
		})
		if err != nil {
			d.close()
			return nil, fmt.Errorf("database: %w", err)
		}
		d.pool = pool
		audit := storage.NewAuditRepository(pool, outbox.NewRepository())
		if err := audit.EnsureSchema(ctx); err != nil {
			d.close()
			return nil, fmt.Errorf("schema: %w", err)
		}
		d.auditor = audit
		d.readyChecks = append(d.readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
		logger.Info("audit log enabled")
	}

	if brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", "")); len(brokers) > 0 {
		if d.pool == nil {
			logger.Warn("KAFKA_BROKERS ignored without DATABASE_URL; events are written through the outbox")
		} else {
			d.writer = kafkax.NewWriter(brokers)
			d.readyChecks = append(d.readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
			logger.Info("event publishing enabled", "brokers", brokers)
		}
	}

	return d, nil
}

func (d *deps) startPublisher(ctx context.Context, logger *slog.Logger) {
	if d.pool == nil || d.writer == nil {
		return
	}
	pub := outbox.NewPublisher(d.pool, outbox.NewRepository(), d.writer, logger, outbox.PublisherConfig{
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50, 1),
	})
	go pub.Run(ctx)
}

func (d *deps) close() {
	if d.writer != nil {
		_ = d.writer.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
}
