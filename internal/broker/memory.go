package broker

import (
	"context"

	"github.com/pkg/errors"
)

// MemoryDriver is an in-process queue. Every consumer competes for the same messages.
type MemoryDriver struct {
	queue chan []byte
}

func NewMemoryDriver(capacity int) *MemoryDriver {
	return &MemoryDriver{queue: make(chan []byte, capacity)}
}

func (d *MemoryDriver) NewProducer(_ context.Context) (Producer, error) {
	return &memoryEndpoint{queue: d.queue}, nil
}

func (d *MemoryDriver) NewConsumer(_ context.Context) (Consumer, error) {
	return &memoryEndpoint{queue: d.queue}, nil
}

func (d *MemoryDriver) Close() error {
	return nil
}

type memoryEndpoint struct {
	queue chan []byte
}

func (e *memoryEndpoint) Send(ctx context.Context, payload []byte) error {
	select {
	case e.queue <- payload:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

func (e *memoryEndpoint) Receive(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-e.queue:
		return payload, nil
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

func (e *memoryEndpoint) Close() error {
	return nil
}
