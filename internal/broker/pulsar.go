package broker

import (
	"context"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/pkg/errors"
)

type PulsarDriver struct {
	client pulsar.Client
	topic  string
}

func NewPulsarDriver(url string, topic string) (*PulsarDriver, error) {
	client, err := pulsar.NewClient(pulsar.ClientOptions{URL: url})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &PulsarDriver{client: client, topic: topic}, nil
}

func (d *PulsarDriver) NewProducer(_ context.Context) (Producer, error) {
	producer, err := d.client.CreateProducer(pulsar.ProducerOptions{
		Topic:           d.topic,
		DisableBatching: true,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &pulsarProducer{producer: producer}, nil
}

func (d *PulsarDriver) NewConsumer(_ context.Context) (Consumer, error) {
	consumer, err := d.client.Subscribe(pulsar.ConsumerOptions{
		Topic:            d.topic,
		SubscriptionName: "maestro-receivers",
		Type:             pulsar.Shared,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &pulsarConsumer{consumer: consumer}, nil
}

func (d *PulsarDriver) Close() error {
	d.client.Close()
	return nil
}

type pulsarProducer struct {
	producer pulsar.Producer
}

func (p *pulsarProducer) Send(ctx context.Context, payload []byte) error {
	_, err := p.producer.Send(ctx, &pulsar.ProducerMessage{Payload: payload})
	return errors.WithStack(err)
}

func (p *pulsarProducer) Close() error {
	p.producer.Close()
	return nil
}

type pulsarConsumer struct {
	consumer pulsar.Consumer
}

func (c *pulsarConsumer) Receive(ctx context.Context) ([]byte, error) {
	msg, err := c.consumer.Receive(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	c.consumer.Ack(msg)
	return msg.Payload(), nil
}

func (c *pulsarConsumer) Close() error {
	c.consumer.Close()
	return nil
}
