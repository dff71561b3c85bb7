package controlplane

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/G-Research/maestro/internal/common/maestroerrors"
	"github.com/G-Research/maestro/pkg/note"
)

const inboundCapacity = 4096

// Client owns the transport of one process. Transports push payloads onto a bounded inbound
// queue; Run decodes them on a single goroutine and hands them to the Bus, so notes are
// dispatched one at a time in arrival order.
type Client struct {
	transport Transport
	bus       *Bus
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	malformed atomic.Int64
}

func NewClient(transport Transport, bus *Bus) *Client {
	return &Client{
		transport: transport,
		bus:       bus,
		inbound:   make(chan []byte, inboundCapacity),
		closed:    make(chan struct{}),
	}
}

func (c *Client) Bus() *Bus {
	return c.bus
}

// Connect tries once and then up to retries more times, delay apart.
func (c *Client) Connect(ctx context.Context, retries uint, delay time.Duration) error {
	attempts := 0
	err := retry.Do(
		func() error {
			attempts++
			return c.transport.Connect(ctx)
		},
		retry.Attempts(retries+1),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("connection attempt %d to %s failed", n+1, c.transport.Url())
		}),
	)
	if err != nil {
		return errors.WithStack(&maestroerrors.ErrConnection{
			Url:      c.transport.Url(),
			Attempts: attempts,
			Err:      err,
		})
	}
	log.Infof("connected to %s", c.transport.Url())
	return nil
}

func (c *Client) Subscribe(topics ...string) error {
	for _, topic := range topics {
		if err := c.transport.Subscribe(topic, c.enqueue); err != nil {
			return errors.WithStack(&maestroerrors.ErrConnection{
				Url:     c.transport.Url(),
				Message: "failed to subscribe to " + topic,
				Err:     err,
			})
		}
	}
	return nil
}

func (c *Client) Publish(topic string, n note.Note) error {
	data, err := note.Encode(n)
	if err != nil {
		return err
	}
	if err := c.transport.Publish(topic, data); err != nil {
		return errors.WithMessagef(err, "failed to publish %s to %s", n.Command(), topic)
	}
	return nil
}

// Reply publishes n to the orchestrator.
func (c *Client) Reply(n note.Reply) error {
	return c.Publish(TopicOrchestrator, n)
}

func (c *Client) enqueue(data []byte) {
	select {
	case c.inbound <- data:
	case <-c.closed:
	}
}

// Run dispatches inbound notes until ctx is done or the client is closed.
func (c *Client) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case data := <-c.inbound:
			n, err := note.Decode(data)
			if err != nil {
				c.malformed.Inc()
				log.WithError(err).Warn("dropping malformed note")
				continue
			}
			c.bus.Dispatch(n)
		}
	}
}

// Malformed is the number of payloads dropped because they could not be decoded.
func (c *Client) Malformed() int64 {
	return c.malformed.Load()
}

func (c *Client) Check() error {
	return c.transport.Check()
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return c.transport.Close()
}
