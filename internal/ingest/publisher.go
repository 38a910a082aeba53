// Package ingest's Publisher hands a validated batch off to Kafka for
// asynchronous application by internal/indexconsumer.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/acoustid-go/fpindex/pkg/kafka"
)

// Publisher publishes validated operation batches to Kafka.
type Publisher struct {
	producer *kafka.Producer
	logger   *slog.Logger
}

// New creates a Publisher backed by producer.
func New(producer *kafka.Producer) *Publisher {
	return &Publisher{
		producer: producer,
		logger:   slog.Default().With("component", "ingest-publisher"),
	}
}

// Publish serializes req as a BatchEvent and publishes it to Kafka, keyed
// by the first operation's document id so that operations touching the
// same document land on the same partition and are applied in order.
func (p *Publisher) Publish(ctx context.Context, req *BatchRequest) error {
	key := "0"
	if len(req.Ops) > 0 {
		key = strconv.FormatUint(uint64(req.Ops[0].DocID), 10)
	}
	event := kafka.Event{
		Key:   key,
		Value: BatchEvent{Ops: req.Ops},
	}
	if err := p.producer.Publish(ctx, event); err != nil {
		return fmt.Errorf("ingest: publishing batch: %w", err)
	}
	p.logger.Debug("batch published", "ops", len(req.Ops), "key", key)
	return nil
}
