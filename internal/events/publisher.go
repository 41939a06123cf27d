// Package events publishes committed trades to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/atmx/clob-engine/internal/model"
)

// Publisher emits trades after their matching pass has committed.
type Publisher interface {
	PublishTrades(ctx context.Context, trades []model.Trade) error
	Close() error
}

// TradeEvent is the JSON payload of one trade message.
type TradeEvent struct {
	Type  string      `json:"type"`
	Trade model.Trade `json:"trade"`
	Sent  time.Time   `json:"sent_at"`
}

// NopPublisher drops everything. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishTrades(context.Context, []model.Trade) error { return nil }
func (NopPublisher) Close() error                                      { return nil }

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per trade, keyed by outcome id so each
// outcome's trades stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
	now    func() time.Time
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
	return newKafkaPublisher(w, logger)
}

func newKafkaPublisher(w messageWriter, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{
		writer: w,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (p *KafkaPublisher) PublishTrades(ctx context.Context, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(trades))
	sent := p.now()
	for _, t := range trades {
		payload, err := json.Marshal(TradeEvent{Type: "trade", Trade: t, Sent: sent})
		if err != nil {
			return fmt.Errorf("encode trade %s: %w", t.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(t.OutcomeID),
			Value: payload,
			Time:  t.CreatedAt,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d trades: %w", len(msgs), err)
	}
	p.logger.Debug("trades published", "count", len(msgs))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
