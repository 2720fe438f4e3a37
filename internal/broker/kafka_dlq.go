package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/IliaW/aeo-crawler/config"
	"github.com/segmentio/kafka-go"
)

// KafkaDLQClient sends tasks that could not be processed to the dead
// letter topic together with the failure reason.
type KafkaDLQClient struct {
	serviceName string
	kafkaWriter *kafka.Writer
}

type dlqMessage struct {
	Service   string    `json:"service"`
	Payload   string    `json:"payload"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func NewKafkaDLQ(serviceName string, cfg *config.ProducerConfig) *KafkaDLQClient {
	return &KafkaDLQClient{
		serviceName: serviceName,
		kafkaWriter: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Addr...),
			Topic:        cfg.DeadLetterTopicName,
			Balancer:     &kafka.Hash{},
			MaxAttempts:  cfg.MaxAttempts,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (d *KafkaDLQClient) SendToDLQ(payload string, reason error) {
	body, err := json.Marshal(dlqMessage{
		Service:   d.serviceName,
		Payload:   payload,
		Error:     reason.Error(),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		slog.Error("failed to marshal dlq message.", slog.String("err", err.Error()))
		return
	}
	err = d.kafkaWriter.WriteMessages(context.Background(), kafka.Message{Value: body})
	if err != nil {
		slog.Error("failed to send message to dlq.", slog.String("err", err.Error()))
		return
	}
	slog.Debug("message sent to dlq.", slog.String("payload", payload))
}

func (d *KafkaDLQClient) Close() {
	err := d.kafkaWriter.Close()
	if err != nil {
		slog.Error("failed to close dlq writer.", slog.String("err", err.Error()))
	}
}
