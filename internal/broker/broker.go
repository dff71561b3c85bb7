// Package broker drives the messaging system under test. Drivers are selected by URL scheme.
package broker

import (
	"context"
	"encoding/binary"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/maestro/internal/common/maestroerrors"
)

// Producer publishes test messages to the destination of its driver.
type Producer interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Consumer receives test messages from the destination of its driver.
// Receive blocks until a message arrives or ctx is done.
type Consumer interface {
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

type Driver interface {
	NewProducer(ctx context.Context) (Producer, error)
	NewConsumer(ctx context.Context) (Consumer, error)
	Close() error
}

// Factory creates the driver for a broker URL.
type Factory func(brokerUrl string) (Driver, error)

// NewDriver supports nats://host:port/subject, pulsar://host:port/topic,
// mqtt://host:port/topic and kafka://host:port/topic.
func NewDriver(brokerUrl string) (Driver, error) {
	u, err := url.Parse(brokerUrl)
	if err != nil {
		return nil, errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "brokerUrl",
			Value:   brokerUrl,
			Message: err.Error(),
		})
	}
	destination := strings.TrimPrefix(u.Path, "/")
	if destination == "" {
		return nil, errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "brokerUrl",
			Value:   brokerUrl,
			Message: "the URL path must name the destination, e.g. nats://localhost:4222/maestro.test",
		})
	}
	switch u.Scheme {
	case "nats":
		return NewNatsDriver(u.Scheme+"://"+u.Host, destination), nil
	case "pulsar", "pulsar+ssl":
		return NewPulsarDriver(u.Scheme+"://"+u.Host, destination)
	case "mqtt", "tcp", "ssl":
		return NewMqttDriver(u, destination), nil
	case "kafka":
		return NewKafkaDriver(strings.Split(u.Host, ","), destination), nil
	default:
		return nil, errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "brokerUrl",
			Value:   brokerUrl,
			Message: "unsupported scheme " + u.Scheme,
		})
	}
}

// TimestampLen is the size of the send timestamp at the head of every payload.
const TimestampLen = 8

// PutTimestamp writes the send time into the head of a payload.
func PutTimestamp(payload []byte, t time.Time) {
	binary.BigEndian.PutUint64(payload[:TimestampLen], uint64(t.UnixNano()))
}

// Timestamp reads the send time from the head of a payload.
func Timestamp(payload []byte) (time.Time, error) {
	if len(payload) < TimestampLen {
		return time.Time{}, errors.Errorf("payload of %d bytes carries no timestamp", len(payload))
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(payload[:TimestampLen]))), nil
}
