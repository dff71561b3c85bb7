package task

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

var taskDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "maestro_background_task_duration_seconds",
		Help:    "Duration of one run of a periodic background task in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	},
	[]string{"task"},
)

type task struct {
	function func(ctx context.Context)
	interval time.Duration
	name     string
}

// BackgroundTaskManager runs functions periodically until StopAll is called. Register and
// StopAll must be called from a single goroutine.
type BackgroundTaskManager struct {
	clock  clock.WithTicker
	ctx    context.Context
	cancel context.CancelFunc
	tasks  []*task
	wg     sync.WaitGroup
}

func NewBackgroundTaskManager(clk clock.WithTicker) *BackgroundTaskManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &BackgroundTaskManager{
		clock:  clk,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register runs function immediately and then every interval.
func (m *BackgroundTaskManager) Register(function func(ctx context.Context), interval time.Duration, name string) {
	t := &task{function: function, interval: interval, name: name}
	m.tasks = append(m.tasks, t)
	m.wg.Add(1)
	go m.run(t)
}

func (m *BackgroundTaskManager) run(t *task) {
	defer m.wg.Done()
	observer := taskDuration.WithLabelValues(t.name)
	ticker := m.clock.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		start := m.clock.Now()
		t.function(m.ctx)
		observer.Observe(m.clock.Since(start).Seconds())

		select {
		case <-ticker.C():
		case <-m.ctx.Done():
			return
		}
	}
}

// StopAll cancels every task and waits up to timeout for them to return. It reports whether
// the wait timed out.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.cancel()
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return false
	case <-time.After(timeout):
		log.Warnf("%d background task(s) did not stop within %s", len(m.tasks), timeout)
		return true
	}
}
