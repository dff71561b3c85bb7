package peerexec

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/G-Research/maestro/internal/common/metrics"
	"github.com/G-Research/maestro/internal/common/task"
)

const (
	InspectorFile            = "inspector.csv"
	DefaultInspectorInterval = time.Second
	inspectorStopTimeout     = 5 * time.Second
)

// Inspector samples the management interface of the broker under test into
// <run directory>/inspector.csv, one `timestamp,metric,value` row per metric and sample.
type Inspector struct {
	provider metrics.MetricsProvider
	clock    clock.WithTicker
	interval time.Duration
	log      *log.Entry

	tasks *task.BackgroundTaskManager
	mu    sync.Mutex
	file  *os.File
	csv   *csv.Writer
	rows  int
	fails int
}

func NewInspector(provider metrics.MetricsProvider, clk clock.WithTicker, interval time.Duration) *Inspector {
	return &Inspector{
		provider: provider,
		clock:    clk,
		interval: interval,
		log:      log.WithField("role", "inspector"),
	}
}

func (i *Inspector) Start(dir string) error {
	file, err := os.Create(filepath.Join(dir, InspectorFile))
	if err != nil {
		return errors.WithStack(err)
	}
	i.mu.Lock()
	i.file = file
	i.csv = csv.NewWriter(file)
	i.rows = 0
	i.fails = 0
	err = i.csv.Write([]string{"timestamp", "metric", "value"})
	i.mu.Unlock()
	if err != nil {
		_ = file.Close()
		return errors.WithStack(err)
	}

	i.tasks = task.NewBackgroundTaskManager(i.clock)
	i.tasks.Register(i.sample, i.interval, "inspector")
	return nil
}

func (i *Inspector) sample(ctx context.Context) {
	values, err := i.provider.Collect(ctx, i.log)
	if err != nil {
		if ctx.Err() == nil {
			i.log.WithError(err).Warn("failed to collect broker metrics")
		}
		i.mu.Lock()
		i.fails++
		i.mu.Unlock()
		return
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	timestamp := strconv.FormatInt(i.clock.Now().UnixMilli(), 10)

	i.mu.Lock()
	defer i.mu.Unlock()
	for _, name := range names {
		row := []string{timestamp, name, strconv.FormatFloat(values[name], 'g', -1, 64)}
		if err := i.csv.Write(row); err != nil {
			i.log.WithError(err).Error("failed to write inspector sample")
			return
		}
		i.rows++
	}
	i.csv.Flush()
}

// Stop ends sampling and closes the file.
func (i *Inspector) Stop() error {
	if i.tasks == nil {
		return nil
	}
	i.tasks.StopAll(inspectorStopTimeout)
	i.tasks = nil

	i.mu.Lock()
	defer i.mu.Unlock()
	i.csv.Flush()
	err := i.csv.Error()
	if closeErr := i.file.Close(); err == nil {
		err = closeErr
	}
	i.log.WithFields(log.Fields{"rows": i.rows, "failedScrapes": i.fails}).Info("inspector stopped")
	return errors.WithStack(err)
}
