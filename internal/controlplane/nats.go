package controlplane

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const natsConnectTimeout = 2 * time.Second

// NatsTransport does not reconnect on its own: a lost connection fails the peer, and
// reconnecting is left to the operator.
type NatsTransport struct {
	url  string
	name string

	mu            sync.Mutex
	conn          *nats.Conn
	subscriptions []*nats.Subscription
}

func NewNatsTransport(url string, name string) *NatsTransport {
	return &NatsTransport{url: url, name: name}
}

func (t *NatsTransport) Url() string {
	return t.url
}

func (t *NatsTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	conn, err := nats.Connect(
		t.url,
		nats.Name(t.name),
		nats.NoReconnect(),
		nats.Timeout(natsConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Errorf("disconnected from %s", t.url)
			}
		}),
	)
	if err != nil {
		return errors.WithStack(err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn = conn
	return nil
}

func (t *NatsTransport) Subscribe(topic string, handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return errors.New("not connected")
	}
	sub, err := t.conn.Subscribe(topic, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return errors.WithStack(err)
	}
	t.subscriptions = append(t.subscriptions, sub)
	// Round trip to the server so the subscription is active once Subscribe returns.
	return errors.WithStack(t.conn.Flush())
}

func (t *NatsTransport) Publish(topic string, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	return errors.WithStack(conn.Publish(topic, data))
}

func (t *NatsTransport) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || !t.conn.IsConnected() {
		return errors.Errorf("not connected to %s", t.url)
	}
	return nil
}

func (t *NatsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	for _, sub := range t.subscriptions {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			log.WithError(err).Warnf("failed to unsubscribe from %s", sub.Subject)
		}
	}
	t.subscriptions = nil
	err := t.conn.Flush()
	t.conn.Close()
	t.conn = nil
	if errors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	return errors.WithStack(err)
}
