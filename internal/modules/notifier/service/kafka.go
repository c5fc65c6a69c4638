package service

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka публикует события в топик, ключом служит пользователь, чтобы сохранить порядок на пользователя.
type Kafka struct {
	w writer
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Dialer:       dialer,
		BatchTimeout: 200 * time.Millisecond,
		RequiredAcks: int(kafka.RequireOne),
		Async:        true,
	})
}

func NewKafka(w writer) *Kafka {
	return &Kafka{w: w}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Send(ctx context.Context, e Event) error {
	payload, err := e.Encode()
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	return k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(e.UserID, 10)),
		Value: payload,
		Time:  e.CreatedAt,
	})
}

func (k *Kafka) Close() error {
	return k.w.Close()
}
