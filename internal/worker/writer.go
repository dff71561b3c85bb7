package worker

import (
	"time"

	"github.com/codahale/hdrhistogram"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"k8s.io/utils/clock"

	"github.com/G-Research/maestro/internal/telemetry"
)

const rateInterval = time.Second

// Writer persists the samples of one Channel from its own goroutine. Rate samples become
// cumulative per-second entries and latency samples go into per-interval histogram snapshots.
// Write errors are logged and counted; they never reach the measuring goroutine.
type Writer struct {
	channel *Channel
	rate    *telemetry.RateWriter
	latency *telemetry.LatencyWriter
	clock   clock.WithTicker
	log     *log.Entry

	count        int64
	bucket       int64
	lastMissed   int64
	histogram    *hdrhistogram.Histogram
	snapshotFrom time.Time

	errors atomic.Int64
	stop   chan struct{}
	done   chan struct{}
}

func NewWriter(
	channel *Channel,
	rate *telemetry.RateWriter,
	latency *telemetry.LatencyWriter,
	clk clock.WithTicker,
	logger *log.Entry,
) *Writer {
	return &Writer{
		channel:   channel,
		rate:      rate,
		latency:   latency,
		clock:     clk,
		log:       logger,
		bucket:    -1,
		histogram: telemetry.NewHistogram(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (w *Writer) Start() {
	w.snapshotFrom = w.clock.Now()
	go w.run()
}

// Close drains the samples still buffered, writes the last entries and closes both logs.
func (w *Writer) Close() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
}

// Errors is the number of failed writes.
func (w *Writer) Errors() int64 {
	return w.errors.Load()
}

func (w *Writer) run() {
	defer close(w.done)
	ticker := w.clock.NewTicker(rateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.channel.notify:
			w.drain()
		case now := <-ticker.C():
			w.drain()
			w.rollover(now)
		case <-w.stop:
			w.drain()
			w.finish()
			return
		}
	}
}

func (w *Writer) drain() {
	for {
		s, ok := w.channel.poll()
		if !ok {
			return
		}
		switch s.kind {
		case rateSample:
			w.recordRate(s.received)
		case latencySample:
			if err := w.histogram.RecordValue(clampLatency(s.latency)); err != nil {
				w.failed(err, "failed to record latency")
			}
		}
	}
}

func (w *Writer) recordRate(received int64) {
	bucket := time.Unix(0, received).Truncate(rateInterval).UnixMicro()
	if w.bucket < 0 {
		w.bucket = bucket
	}
	if bucket > w.bucket {
		w.writeEntry()
		w.bucket = bucket
	}
	w.count++
}

// rollover closes the current interval once the clock has moved past it, even when idle.
func (w *Writer) rollover(now time.Time) {
	bucket := now.Truncate(rateInterval).UnixMicro()
	if w.bucket >= 0 && bucket > w.bucket {
		w.writeEntry()
		w.bucket = bucket
	}
	w.writeSnapshot(now)
	w.flush()
}

func (w *Writer) finish() {
	if w.bucket >= 0 {
		w.writeEntry()
	}
	w.writeSnapshot(w.clock.Now())
	if err := w.rate.Close(); err != nil {
		w.failed(err, "failed to close rate log")
	}
	if err := w.latency.Close(); err != nil {
		w.failed(err, "failed to close latency log")
	}
}

func (w *Writer) writeEntry() {
	metadata := telemetry.MetadataNone
	if missed := w.channel.MissedSamples(); missed != w.lastMissed {
		metadata |= telemetry.MetadataMissed
		w.lastMissed = missed
	}
	entry := telemetry.RateEntry{Metadata: metadata, Count: w.count, Timestamp: w.bucket}
	if err := w.rate.Write(entry); err != nil {
		w.failed(err, "failed to write rate entry")
	}
}

func (w *Writer) writeSnapshot(now time.Time) {
	if w.histogram.TotalCount() == 0 {
		w.snapshotFrom = now
		return
	}
	snapshot := telemetry.LatencySnapshot{Start: w.snapshotFrom, End: now, Histogram: w.histogram}
	if err := w.latency.Write(snapshot); err != nil {
		w.failed(err, "failed to write latency snapshot")
	}
	w.histogram.Reset()
	w.snapshotFrom = now
}

func (w *Writer) flush() {
	if err := w.rate.Flush(); err != nil {
		w.failed(err, "failed to flush rate log")
	}
	if err := w.latency.Flush(); err != nil {
		w.failed(err, "failed to flush latency log")
	}
}

func (w *Writer) failed(err error, msg string) {
	w.errors.Inc()
	telemetryWriteErrors.Inc()
	w.log.WithError(err).Warn(msg)
}

func clampLatency(v int64) int64 {
	if v < telemetry.LowestLatency {
		return telemetry.LowestLatency
	}
	if v > telemetry.HighestLatency {
		return telemetry.HighestLatency
	}
	return v
}
