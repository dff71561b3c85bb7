package worker

import (
	"context"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/G-Research/maestro/internal/broker"
)

// Receiver consumes messages, measuring their latency, until its duration policy is met.
// With a fail condition on latency it fails on the first message slower than the limit.
type Receiver struct {
	consumer broker.Consumer
	opts     Options
	channel  *Channel
	clock    clock.Clock
	meter    meter
}

func NewReceiver(consumer broker.Consumer, opts Options, channel *Channel, clk clock.Clock) *Receiver {
	return &Receiver{
		consumer: consumer,
		opts:     opts,
		channel:  channel,
		clock:    clk,
	}
}

func (r *Receiver) Run(ctx context.Context) error {
	start := r.clock.Now()
	var count int64
	for !r.opts.Duration.Reached(count, r.clock.Since(start)) {
		receiveCtx := ctx
		var cancel context.CancelFunc = func() {}
		if r.opts.Duration.IsTime() {
			receiveCtx, cancel = context.WithTimeout(ctx, r.opts.Duration.Time()-r.clock.Since(start))
		}
		payload, err := r.consumer.Receive(receiveCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && receiveCtx.Err() != nil {
				// The time policy expired while waiting for a message.
				return nil
			}
			return stopped(ctx, errors.WithMessage(err, "failed to receive message"))
		}
		sent, err := broker.Timestamp(payload)
		if err != nil {
			return err
		}
		now := r.clock.Now()
		latency := now.Sub(sent)
		if latency < 0 {
			latency = 0
		}
		r.channel.EmitRate(sent, now)
		r.channel.EmitLatency(latency.Microseconds())
		r.meter.message()
		r.meter.latency(latency)
		messagesTotal.WithLabelValues("receiver").Inc()
		count++
		if r.opts.FCL > 0 && latency > r.opts.FCL {
			return errors.Errorf("latency %s exceeded the fail condition of %s", latency, r.opts.FCL)
		}
	}
	return nil
}

func (r *Receiver) stats() *meter {
	return &r.meter
}
