package worker

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/G-Research/maestro/internal/broker"
)

// Sender publishes messages at the configured rate until its duration policy is met.
type Sender struct {
	producer broker.Producer
	opts     Options
	channel  *Channel
	clock    clock.Clock
	meter    meter
	random   *rand.Rand
}

func NewSender(producer broker.Producer, opts Options, channel *Channel, clk clock.Clock, seed int64) *Sender {
	return &Sender{
		producer: producer,
		opts:     opts,
		channel:  channel,
		clock:    clk,
		random:   rand.New(rand.NewSource(seed)),
	}
}

func (s *Sender) Run(ctx context.Context) error {
	limiter := newLimiter(s.opts.Rate)
	start := s.clock.Now()
	var count int64
	for !s.opts.Duration.Reached(count, s.clock.Since(start)) {
		if err := limiter.Wait(ctx); err != nil {
			return stopped(ctx, err)
		}
		payload := make([]byte, s.opts.MessageSize.Next(s.random))
		now := s.clock.Now()
		broker.PutTimestamp(payload, now)
		if err := s.producer.Send(ctx, payload); err != nil {
			return stopped(ctx, errors.WithMessage(err, "failed to send message"))
		}
		s.channel.EmitRate(now, now)
		s.meter.message()
		messagesTotal.WithLabelValues("sender").Inc()
		count++
	}
	return nil
}

func (s *Sender) stats() *meter {
	return &s.meter
}

func newLimiter(perSecond int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// stopped hides errors caused by the worker being told to stop.
func stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
