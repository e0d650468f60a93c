// Package relay mirrors committed audit entries to a Kafka topic. The relay
// is strictly best-effort: the store commits first, and a failed publish is
// logged and dropped, never surfaced to the caller.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/taskledger/taskledger/internal/store"
)

// AuditRelay publishes audit entries to a Kafka topic.
type AuditRelay struct {
	writer  *kafka.Writer
	timeout time.Duration
}

// NewAuditRelay creates a relay writing to topic on the given brokers
// (comma-separated).
func NewAuditRelay(brokers, topic string, timeout time.Duration) *AuditRelay {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &AuditRelay{writer: w, timeout: timeout}
}

// Publish sends one audit entry. The message key groups a partition's
// entries onto one Kafka partition so per-project ordering holds.
func (r *AuditRelay) Publish(ctx context.Context, entry store.AuditEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(entry.ProjectID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "entity_type", Value: []byte(entry.EntityType)},
			{Key: "operation", Value: []byte(entry.Operation)},
		},
		Time: entry.CreatedAt,
	}
	writeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.writer.WriteMessages(writeCtx, msg); err != nil {
		return fmt.Errorf("publish audit entry: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (r *AuditRelay) Close() error {
	return r.writer.Close()
}
