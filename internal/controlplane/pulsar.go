package controlplane

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const pulsarOperationTimeout = 10 * time.Second

// PulsarTransport maps every topic to a non-partitioned persistent topic of the default namespace.
// Each transport subscribes exclusively under its own subscription name, so every peer receives
// every message of the topics it subscribed to.
type PulsarTransport struct {
	url  string
	name string

	mu        sync.Mutex
	client    pulsar.Client
	producers map[string]pulsar.Producer
	consumers []pulsar.Consumer
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewPulsarTransport(url string, name string) *PulsarTransport {
	return &PulsarTransport{url: url, name: name, producers: make(map[string]pulsar.Producer)}
}

func pulsarTopic(topic string) string {
	return "persistent://public/default/" + strings.ReplaceAll(topic, ".", "-")
}

func (t *PulsarTransport) Url() string {
	return t.url
}

func (t *PulsarTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL:               t.url,
		ConnectionTimeout: pulsarOperationTimeout,
		OperationTimeout:  pulsarOperationTimeout,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	// The client connects lazily; creating the reply producer proves the broker is reachable.
	producer, err := client.CreateProducer(pulsar.ProducerOptions{Topic: pulsarTopic(TopicOrchestrator)})
	if err != nil {
		client.Close()
		return errors.WithStack(err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.client = client
	t.producers[TopicOrchestrator] = producer
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return nil
}

func (t *PulsarTransport) Subscribe(topic string, handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return errors.New("not connected")
	}
	consumer, err := t.client.Subscribe(pulsar.ConsumerOptions{
		Topic:                       pulsarTopic(topic),
		SubscriptionName:            t.name + "-" + uuid.New().String(),
		Type:                        pulsar.Exclusive,
		SubscriptionInitialPosition: pulsar.SubscriptionPositionLatest,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	t.consumers = append(t.consumers, consumer)
	ctx := t.ctx
	go func() {
		for {
			msg, err := consumer.Receive(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Errorf("failed to receive from %s", topic)
				}
				return
			}
			handler(msg.Payload())
			consumer.Ack(msg)
		}
	}()
	return nil
}

func (t *PulsarTransport) producer(topic string) (pulsar.Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil, errors.New("not connected")
	}
	if producer, ok := t.producers[topic]; ok {
		return producer, nil
	}
	producer, err := t.client.CreateProducer(pulsar.ProducerOptions{Topic: pulsarTopic(topic)})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	t.producers[topic] = producer
	return producer, nil
}

func (t *PulsarTransport) Publish(topic string, data []byte) error {
	producer, err := t.producer(topic)
	if err != nil {
		return err
	}
	producer.SendAsync(t.ctx, &pulsar.ProducerMessage{Payload: data}, func(_ pulsar.MessageID, _ *pulsar.ProducerMessage, err error) {
		if err != nil {
			log.WithError(err).Errorf("failed to publish to %s", topic)
		}
	})
	return nil
}

func (t *PulsarTransport) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return errors.Errorf("not connected to %s", t.url)
	}
	return nil
}

func (t *PulsarTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	t.cancel()
	for _, producer := range t.producers {
		if err := producer.Flush(); err != nil {
			log.WithError(err).Warnf("failed to flush producer of %s", producer.Topic())
		}
		producer.Close()
	}
	for _, consumer := range t.consumers {
		consumer.Close()
	}
	t.client.Close()
	t.client = nil
	t.producers = make(map[string]pulsar.Producer)
	t.consumers = nil
	return nil
}
