package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"github.com/smartcondo/condo-portal/libs/db"
	"github.com/smartcondo/condo-portal/libs/kafkax"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Publisher struct {
	pool      *db.Pool
	repo      *Repository
	writer    MessageWriter
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
}

func NewPublisher(pool *db.Pool, repo *Repository, writer MessageWriter, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		pool:      pool,
		repo:      repo,
		writer:    writer,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

// Run polls until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.publishBatch(ctx)
			if err != nil {
				p.logger.Error("outbox publish failed", "err", err)
				continue
			}
			if n > 0 {
				p.logger.Debug("outbox batch published", "count", n)
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context) (int, error) {
	published := 0
	err := p.pool.InTx(ctx, func(tx pgx.Tx) error {
		records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
		if err != nil || len(records) == 0 {
			return err
		}

		ids := make([]int64, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.ID)
		}
		if err := p.writer.WriteMessages(ctx, Messages(ctx, records)...); err != nil {
			// Keep the rows unpublished but count the attempt; the batch retries next tick.
			if markErr := p.repo.MarkFailed(ctx, tx, ids, err.Error()); markErr != nil {
				return markErr
			}
			p.logger.Warn("kafka write failed", "err", err, "count", len(ids))
			return nil
		}
		published = len(ids)
		return p.repo.MarkPublished(ctx, tx, ids)
	})
	return published, err
}

// Messages converts outbox rows into Kafka messages carrying the trace context that
// was active when each row was written.
func Messages(ctx context.Context, records []Record) []kafka.Message {
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, kafka.Message{
			Topic:   r.EventType,
			Key:     []byte(r.AggregateID),
			Value:   r.Payload,
			Headers: kafkax.Headers(r.Trace.Restore(ctx), "event_id", r.EventID, "event_type", r.EventType),
		})
	}
	return msgs
}
