package broker

import (
	"context"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type KafkaDriver struct {
	brokers []string
	topic   string
}

func NewKafkaDriver(brokers []string, topic string) *KafkaDriver {
	return &KafkaDriver{brokers: brokers, topic: topic}
}

func (d *KafkaDriver) NewProducer(_ context.Context) (Producer, error) {
	return &kafkaProducer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(d.brokers...),
		Topic:                  d.topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}, nil
}

func (d *KafkaDriver) NewConsumer(_ context.Context) (Consumer, error) {
	return &kafkaConsumer{reader: kafka.NewReader(kafka.ReaderConfig{
		Brokers:     d.brokers,
		Topic:       d.topic,
		GroupID:     "maestro-receivers",
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})}, nil
}

func (d *KafkaDriver) Close() error {
	return nil
}

type kafkaProducer struct {
	writer *kafka.Writer
}

func (p *kafkaProducer) Send(ctx context.Context, payload []byte) error {
	return errors.WithStack(p.writer.WriteMessages(ctx, kafka.Message{Value: payload}))
}

func (p *kafkaProducer) Close() error {
	return errors.WithStack(p.writer.Close())
}

type kafkaConsumer struct {
	reader *kafka.Reader
}

func (c *kafkaConsumer) Receive(ctx context.Context) ([]byte, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return msg.Value, nil
}

func (c *kafkaConsumer) Close() error {
	return errors.WithStack(c.reader.Close())
}
