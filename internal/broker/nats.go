package broker

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

type NatsDriver struct {
	url     string
	subject string
}

func NewNatsDriver(url string, subject string) *NatsDriver {
	return &NatsDriver{url: url, subject: subject}
}

func (d *NatsDriver) NewProducer(_ context.Context) (Producer, error) {
	conn, err := nats.Connect(d.url, nats.Name("maestro-sender"))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &natsProducer{conn: conn, subject: d.subject}, nil
}

func (d *NatsDriver) NewConsumer(_ context.Context) (Consumer, error) {
	conn, err := nats.Connect(d.url, nats.Name("maestro-receiver"))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	// Receivers share the load like the consumers of a queue.
	sub, err := conn.QueueSubscribeSync(d.subject, "maestro-receivers")
	if err != nil {
		conn.Close()
		return nil, errors.WithStack(err)
	}
	return &natsConsumer{conn: conn, sub: sub}, nil
}

func (d *NatsDriver) Close() error {
	return nil
}

type natsProducer struct {
	conn    *nats.Conn
	subject string
}

func (p *natsProducer) Send(_ context.Context, payload []byte) error {
	return errors.WithStack(p.conn.Publish(p.subject, payload))
}

func (p *natsProducer) Close() error {
	err := p.conn.Flush()
	p.conn.Close()
	return errors.WithStack(err)
}

type natsConsumer struct {
	conn *nats.Conn
	sub  *nats.Subscription
}

func (c *natsConsumer) Receive(ctx context.Context) ([]byte, error) {
	msg, err := c.sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return msg.Data, nil
}

func (c *natsConsumer) Close() error {
	err := c.sub.Unsubscribe()
	c.conn.Close()
	return errors.WithStack(err)
}
