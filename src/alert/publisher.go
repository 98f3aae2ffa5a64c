package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tick-relay/src/interfaces"
	"tick-relay/src/logger"
	"tick-relay/src/models"

	"github.com/segmentio/kafka-go"
)

// -----------------------------------------------------------------------------
// Publishers hand trigger events to the outbound delivery mechanism.
// Messages are keyed "<userID>:<instrumentCode>" so events for the same
// (user, instrument) land on one partition and keep their order.
// -----------------------------------------------------------------------------

const publishTimeout = 5 * time.Second

// NewPublisher builds the configured publisher implementation.
func NewPublisher(cfg models.MPublisherConfig, log *logger.Logger) (interfaces.IAlertPublisher, error) {
	switch cfg.Type {
	case "kafka":
		return NewKafkaPublisher(cfg, log), nil
	case "log":
		return &LogPublisher{Logger: log}, nil
	default:
		return nil, fmt.Errorf("unknown publisher type: %s", cfg.Type)
	}
}

// -----------------------------------------------------------------------------
// Kafka
// -----------------------------------------------------------------------------

type KafkaPublisher struct {
	Writer *kafka.Writer
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewKafkaPublisher(cfg models.MPublisherConfig, log *logger.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           publishTimeout,
	}
	return &KafkaPublisher{Writer: writer, Logger: log}
}

// -----------------------------------------------------------------------------

func (p *KafkaPublisher) Publish(event models.MAlertEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode alert event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.UserID + ":" + event.InstrumentCode),
		Value: value,
		Time:  event.TriggeredAt,
	}

	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish alert for %s/%s: %w", event.UserID, event.InstrumentCode, err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (p *KafkaPublisher) Close() error {
	return p.Writer.Close()
}

// -----------------------------------------------------------------------------
// Log-only (development / single-process deployments)
// -----------------------------------------------------------------------------

type LogPublisher struct {
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func (p *LogPublisher) Publish(event models.MAlertEvent) error {
	p.Logger.Info("ALERT %s %s (%s) target=%s price=%s user=%s",
		event.Direction, event.InstrumentCode, event.InstrumentName,
		event.TargetPrice, event.TriggerPrice, event.UserID)
	return nil
}

// -----------------------------------------------------------------------------

func (p *LogPublisher) Close() error { return nil }
