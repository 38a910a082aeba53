// Package indexconsumer reads op-batch events from Kafka and applies them
// to the index façade's op-log, driving the asynchronous half of the
// ingestion pipeline.
package indexconsumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/acoustid-go/fpindex/internal/ingest"
	"github.com/acoustid-go/fpindex/internal/oplog"
	"github.com/acoustid-go/fpindex/pkg/kafka"
)

// Applier is the subset of *index.Index the consumer needs. Defined as an
// interface so tests can substitute a fake without opening a real index.
type Applier interface {
	ApplyUpdates(batch oplog.Batch) error
}

// IndexConsumer wraps a Kafka consumer to drive the op-log apply pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that decodes each BatchEvent
// and applies it to idx.
func HandleMessage(idx Applier) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingest.BatchEvent](value)
		if err != nil {
			logger.Error("failed to decode batch event", "error", err, "key", string(key))
			return nil
		}

		batch, err := toOplogBatch(event)
		if err != nil {
			logger.Error("failed to translate batch event", "error", err, "key", string(key))
			return nil
		}

		if err := idx.ApplyUpdates(batch); err != nil {
			return fmt.Errorf("applying batch (%d ops): %w", len(batch.Ops), err)
		}
		logger.Debug("batch applied", "ops", len(batch.Ops))
		return nil
	}
}

func toOplogBatch(event ingest.BatchEvent) (oplog.Batch, error) {
	batch := oplog.Batch{Ops: make([]oplog.Operation, 0, len(event.Ops))}
	for _, op := range event.Ops {
		switch op.Kind {
		case "insert":
			batch.Ops = append(batch.Ops, oplog.Operation{
				Kind:  oplog.OpInsertOrUpdateDocument,
				DocID: op.DocID,
				Terms: op.Terms,
			})
		case "delete":
			batch.Ops = append(batch.Ops, oplog.Operation{
				Kind:  oplog.OpDeleteDocument,
				DocID: op.DocID,
			})
		case "set_attribute":
			batch.Ops = append(batch.Ops, oplog.Operation{
				Kind:      oplog.OpSetAttribute,
				AttrName:  op.AttrName,
				AttrValue: op.AttrValue,
			})
		default:
			return oplog.Batch{}, fmt.Errorf("unknown operation kind %q", op.Kind)
		}
	}
	return batch, nil
}
