package controlplane

import (
	"context"
	"net/url"

	"github.com/pkg/errors"

	"github.com/G-Research/maestro/internal/common/maestroerrors"
)

// Handler receives the raw payload of a message. Handlers may be called from several goroutines.
type Handler func(data []byte)

// Transport is a publish/subscribe connection. Delivery is at most once: Publish returns once
// the transport has accepted the message, without waiting for any subscriber.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(topic string, handler Handler) error
	Publish(topic string, data []byte) error
	// Check reports whether the connection is usable.
	Check() error
	Close() error
	Url() string
}

// NewTransport selects the transport for a control-plane URL: nats:// or pulsar://.
func NewTransport(controlUrl string, name string) (Transport, error) {
	u, err := url.Parse(controlUrl)
	if err != nil {
		return nil, errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "controlPlaneUrl",
			Value:   controlUrl,
			Message: err.Error(),
		})
	}
	switch u.Scheme {
	case "nats", "tls":
		return NewNatsTransport(controlUrl, name), nil
	case "pulsar", "pulsar+ssl":
		return NewPulsarTransport(controlUrl, name), nil
	default:
		return nil, errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "controlPlaneUrl",
			Value:   controlUrl,
			Message: "expected a nats:// or pulsar:// URL",
		})
	}
}
