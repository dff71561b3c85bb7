package worker

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/G-Research/maestro/internal/broker"
	"github.com/G-Research/maestro/internal/common/maestroerrors"
	"github.com/G-Research/maestro/internal/telemetry"
	"github.com/G-Research/maestro/pkg/note"
	"github.com/G-Research/maestro/pkg/peer"
)

type loadWorker interface {
	Run(ctx context.Context) error
	stats() *meter
}

// Pool runs the workers of one peer for one test. Every worker owns a Channel and a Writer,
// logging to <dir>/<role>-<n>.rate and <dir>/<role>-<n>.hdr.
type Pool struct {
	role   peer.Role
	opts   Options
	driver broker.Driver
	dir    string
	clock  clock.WithTicker
	log    *log.Entry

	workers   []loadWorker
	channels  []*Channel
	writers   []*Writer
	endpoints []io.Closer
	cancel    context.CancelFunc
	started   time.Time
	stopped   atomic.Bool
	done      chan struct{}

	mu         sync.Mutex
	lastCount  int64
	lastSample time.Time
}

func NewPool(role peer.Role, opts Options, driver broker.Driver, dir string, clk clock.WithTicker) (*Pool, error) {
	if !role.IsWorker() {
		return nil, errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "role",
			Value:   role.String(),
			Message: "only senders and receivers run load workers",
		})
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.ChannelCapacity <= 0 {
		opts.ChannelCapacity = DefaultChannelCapacity
	}
	return &Pool{
		role:   role,
		opts:   opts,
		driver: driver,
		dir:    dir,
		clock:  clk,
		log:    log.WithField("role", role.String()),
		done:   make(chan struct{}),
	}, nil
}

// Start runs the workers. Unless the pool is stopped first, onComplete is called exactly once
// with nil when every worker met its duration policy, or with the first worker error.
func (p *Pool) Start(ctx context.Context, onComplete func(err error)) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.opts.ParallelCount; i++ {
		if err := p.addWorker(ctx, i); err != nil {
			cancel()
			p.closeEndpoints()
			for _, w := range p.writers {
				w.Start()
				w.Close()
			}
			return err
		}
	}

	p.started = p.clock.Now()
	p.lastSample = p.started
	for _, w := range p.writers {
		w.Start()
	}
	activeWorkers.WithLabelValues(p.role.Topic()).Add(float64(len(p.workers)))
	p.log.WithFields(log.Fields{
		"parallelCount": p.opts.ParallelCount,
		"rate":          p.opts.Rate,
		"duration":      p.opts.Duration.String(),
		"messageSize":   p.opts.MessageSize.String(),
	}).Info("starting workers")

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}
	go func() {
		err := g.Wait()
		cancel()
		p.closeEndpoints()
		for _, w := range p.writers {
			w.Close()
		}
		activeWorkers.WithLabelValues(p.role.Topic()).Sub(float64(len(p.workers)))
		close(p.done)
		if p.stopped.Load() {
			p.log.Info("workers stopped")
			return
		}
		if err != nil {
			p.log.WithError(err).Warn("workers failed")
		} else {
			p.log.Info("workers completed")
		}
		onComplete(err)
	}()
	return nil
}

func (p *Pool) addWorker(ctx context.Context, i int) error {
	name := fmt.Sprintf("%s-%d", p.role.Topic(), i)
	rate, err := telemetry.CreateRateFile(filepath.Join(p.dir, name+telemetry.RateFileExt), p.role)
	if err != nil {
		return err
	}
	latency, err := telemetry.CreateLatencyFile(filepath.Join(p.dir, name+telemetry.LatencyFileExt), p.role)
	if err != nil {
		_ = rate.Close()
		return err
	}
	channel := NewChannel(p.opts.ChannelCapacity)
	p.channels = append(p.channels, channel)
	p.writers = append(p.writers, NewWriter(channel, rate, latency, p.clock, p.log.WithField("worker", name)))

	switch p.role {
	case peer.Sender:
		producer, err := p.driver.NewProducer(ctx)
		if err != nil {
			return errors.WithMessagef(err, "failed to create producer for %s", p.opts.BrokerUrl)
		}
		p.endpoints = append(p.endpoints, producer)
		p.workers = append(p.workers, NewSender(producer, p.opts, channel, p.clock, time.Now().UnixNano()+int64(i)))
	case peer.Receiver:
		consumer, err := p.driver.NewConsumer(ctx)
		if err != nil {
			return errors.WithMessagef(err, "failed to create consumer for %s", p.opts.BrokerUrl)
		}
		p.endpoints = append(p.endpoints, consumer)
		p.workers = append(p.workers, NewReceiver(consumer, p.opts, channel, p.clock))
	}
	return nil
}

func (p *Pool) closeEndpoints() {
	for _, endpoint := range p.endpoints {
		if err := endpoint.Close(); err != nil {
			p.log.WithError(err).Warn("failed to close broker endpoint")
		}
	}
	p.endpoints = nil
}

// Stop tells the workers to finish and waits for their logs to be closed. No completion is reported.
func (p *Pool) Stop() {
	p.stopped.Store(true)
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

// Done is closed once every worker has exited and the logs are closed.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

func (p *Pool) Role() peer.Role {
	return p.role
}

func (p *Pool) Dir() string {
	return p.dir
}

// Snapshot summarises the progress of the pool. Rate covers the time since the previous snapshot.
func (p *Pool) Snapshot() note.WorkerSnapshot {
	now := p.clock.Now()
	var count, latencySum, latencyCount, latencyMax, missed int64
	for i, w := range p.workers {
		m := w.stats()
		count += m.count.Load()
		latencySum += m.latencySum.Load()
		latencyCount += m.latencyCount.Load()
		if v := m.latencyMax.Load(); v > latencyMax {
			latencyMax = v
		}
		missed += p.channels[i].MissedSamples()
	}

	p.mu.Lock()
	var rate float64
	if elapsed := now.Sub(p.lastSample).Seconds(); elapsed > 0 {
		rate = float64(count-p.lastCount) / elapsed
	}
	p.lastCount = count
	p.lastSample = now
	p.mu.Unlock()

	var mean time.Duration
	if latencyCount > 0 {
		mean = time.Duration(latencySum/latencyCount) * time.Microsecond
	}
	workers := int64(len(p.workers))
	if workers == 0 {
		workers = 1
	}
	return note.WorkerSnapshot{
		Role:      p.role,
		Count:     count,
		StartTime: p.started.UnixMilli(),
		Now:       now.UnixMilli(),
		Eta:       p.opts.Duration.Eta(count/workers, now.Sub(p.started), rate/float64(workers)),
		Stats: note.PerfStats{
			Rate:          rate,
			MeanLatency:   mean,
			MaxLatency:    time.Duration(latencyMax) * time.Microsecond,
			MissedSamples: missed,
		},
	}
}
