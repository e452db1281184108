package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	// EventOTPDelivery is the event_type of every message the Kafka notifier publishes.
	EventOTPDelivery = "otp.delivery.requested"

	defaultKafkaTopic = "acctguard.otp"
)

// DeliveryEvent is the message consumed by the SMS and email gateways.
type DeliveryEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// MessageWriter is the part of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig holds Kafka notifier configuration.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	Source       string
	BatchTimeout time.Duration
}

// KafkaNotifier hands codes to a downstream delivery service through Kafka.
// A send succeeds once the brokers acknowledge the message.
type KafkaNotifier struct {
	writer MessageWriter
	topic  string
	source string
	logger *slog.Logger
	now    func() time.Time
}

// NewKafkaNotifier creates a notifier with a synchronous kafka.Writer that
// waits for all in-sync replicas.
func NewKafkaNotifier(cfg KafkaConfig, logger *slog.Logger) *KafkaNotifier {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	return NewKafkaNotifierWithWriter(w, cfg.Topic, cfg.Source, logger)
}

// NewKafkaNotifierWithWriter wraps an existing writer.
func NewKafkaNotifierWithWriter(w MessageWriter, topic, source string, logger *slog.Logger) *KafkaNotifier {
	if topic == "" {
		topic = defaultKafkaTopic
	}
	if source == "" {
		source = "acctguard"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaNotifier{
		writer: w,
		topic:  topic,
		source: source,
		logger: logger,
		now:    time.Now,
	}
}

func (n *KafkaNotifier) SendSMS(ctx context.Context, phone, code string) error {
	return n.publish(ctx, "phone", phone, code)
}

func (n *KafkaNotifier) SendEmail(ctx context.Context, address, code string) error {
	return n.publish(ctx, "email", address, code)
}

func (n *KafkaNotifier) publish(ctx context.Context, channel, recipient, code string) error {
	event := DeliveryEvent{
		EventID:   uuid.NewString(),
		EventType: EventOTPDelivery,
		Channel:   channel,
		Recipient: recipient,
		Code:      code,
		Timestamp: n.now().UTC(),
		Source:    n.source,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal delivery event: %w", err)
	}

	msg := kafka.Message{
		Topic: n.topic,
		Key:   []byte(recipient),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "source", Value: []byte(event.Source)},
		},
	}

	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		n.logger.ErrorContext(ctx, "failed to publish otp delivery",
			slog.String("topic", n.topic),
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("publish otp delivery to %s: %w", n.topic, err)
	}

	n.logger.DebugContext(ctx, "otp delivery published",
		slog.String("topic", n.topic),
		slog.String("channel", channel),
		slog.String("event_id", event.EventID),
	)
	return nil
}

// Close flushes pending messages and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
