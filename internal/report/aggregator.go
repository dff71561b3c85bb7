package report

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/maestro/internal/telemetry"
	"github.com/G-Research/maestro/pkg/peer"
)

// AggregatedDir holds the output of an aggregation. It is never read as input.
const AggregatedDir = "aggregated"

// MergedFiles describes the output of Aggregate, per role.
type MergedFiles struct {
	Dir          string
	RateFiles    map[peer.Role]string
	LatencyFiles map[peer.Role]string
	// Messages counted by the rate logs.
	Count map[peer.Role]int64
	// Whole-run latency distribution.
	Latency map[peer.Role]*hdrhistogram.Histogram
}

type roleAggregate struct {
	// per interval, keyed by the interval start in epoch microseconds
	counts    map[int64]int64
	metadata  map[int64]int32
	intervals map[int64]*hdrhistogram.Histogram
	ends      map[int64]int64
	latency   *hdrhistogram.Histogram
	hasRate   bool
}

func newRoleAggregate() *roleAggregate {
	return &roleAggregate{
		counts:    make(map[int64]int64),
		metadata:  make(map[int64]int32),
		intervals: make(map[int64]*hdrhistogram.Histogram),
		ends:      make(map[int64]int64),
		latency:   telemetry.NewHistogram(),
	}
}

// Aggregator merges the logs of every peer of a test into one rate and one latency log per role.
type Aggregator struct {
	root string
}

// NewAggregator writes its output to <root>/aggregated.
func NewAggregator(root string) *Aggregator {
	return &Aggregator{root: root}
}

// Aggregate merges every rate and latency log found below the given locations, or below the
// root when none is given. Rate logs are replayed into per-interval message counts, summed
// across logs and written back as cumulative entries. Latency snapshots are merged per interval
// and for the whole run. Files that cannot be read are skipped and reported together in the
// returned error, alongside the files that could be merged.
func (a *Aggregator) Aggregate(locations ...string) (*MergedFiles, error) {
	if len(locations) == 0 {
		locations = []string{a.root}
	}
	roles := make(map[peer.Role]*roleAggregate)
	get := func(role peer.Role) *roleAggregate {
		if _, ok := roles[role]; !ok {
			roles[role] = newRoleAggregate()
		}
		return roles[role]
	}

	var result *multierror.Error
	for _, location := range locations {
		err := filepath.WalkDir(location, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				if entry.Name() == AggregatedDir {
					return filepath.SkipDir
				}
				return nil
			}
			switch filepath.Ext(path) {
			case telemetry.RateFileExt:
				if err := addRateFile(path, get); err != nil {
					result = multierror.Append(result, err)
				}
			case telemetry.LatencyFileExt:
				if err := addLatencyFile(path, get); err != nil {
					result = multierror.Append(result, err)
				}
			}
			return nil
		})
		if err != nil {
			result = multierror.Append(result, errors.WithStack(err))
		}
	}

	merged, err := a.write(roles)
	if err != nil {
		result = multierror.Append(result, err)
	}
	return merged, result.ErrorOrNil()
}

func addRateFile(path string, get func(peer.Role) *roleAggregate) error {
	header, entries, err := telemetry.ReadRateFile(path)
	if err != nil && len(entries) == 0 {
		return err
	}
	aggregate := get(header.Role)
	aggregate.hasRate = true
	var previous int64
	for _, entry := range entries {
		aggregate.counts[entry.Timestamp] += entry.Count - previous
		aggregate.metadata[entry.Timestamp] |= entry.Metadata
		previous = entry.Count
	}
	log.WithFields(log.Fields{"file": path, "entries": len(entries)}).Debug("aggregated rate log")
	return err
}

func addLatencyFile(path string, get func(peer.Role) *roleAggregate) error {
	header, snapshots, err := telemetry.ReadLatencyFile(path)
	if err != nil && len(snapshots) == 0 {
		return err
	}
	aggregate := get(header.Role)
	for _, snapshot := range snapshots {
		interval := snapshot.Start.Truncate(time.Second).UnixMicro()
		histogram, ok := aggregate.intervals[interval]
		if !ok {
			histogram = telemetry.NewHistogram()
			aggregate.intervals[interval] = histogram
		}
		histogram.Merge(snapshot.Histogram)
		aggregate.latency.Merge(snapshot.Histogram)
		if end := snapshot.End.UnixMicro(); end > aggregate.ends[interval] {
			aggregate.ends[interval] = end
		}
	}
	log.WithFields(log.Fields{"file": path, "snapshots": len(snapshots)}).Debug("aggregated latency log")
	return err
}

func (a *Aggregator) write(roles map[peer.Role]*roleAggregate) (*MergedFiles, error) {
	dir := filepath.Join(a.root, AggregatedDir)
	merged := &MergedFiles{
		Dir:          dir,
		RateFiles:    make(map[peer.Role]string),
		LatencyFiles: make(map[peer.Role]string),
		Count:        make(map[peer.Role]int64),
		Latency:      make(map[peer.Role]*hdrhistogram.Histogram),
	}
	if len(roles) == 0 {
		return merged, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return merged, errors.WithStack(err)
	}
	for role, aggregate := range roles {
		if aggregate.hasRate {
			path := filepath.Join(dir, role.Topic()+telemetry.RateFileExt)
			count, err := writeRate(path, role, aggregate)
			if err != nil {
				return merged, err
			}
			merged.RateFiles[role] = path
			merged.Count[role] = count
		}
		if len(aggregate.intervals) > 0 {
			path := filepath.Join(dir, role.Topic()+telemetry.LatencyFileExt)
			if err := writeLatency(path, role, aggregate); err != nil {
				return merged, err
			}
			merged.LatencyFiles[role] = path
			merged.Latency[role] = aggregate.latency
		}
	}
	return merged, nil
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func writeRate(path string, role peer.Role, aggregate *roleAggregate) (int64, error) {
	w, err := telemetry.CreateRateFile(path, role)
	if err != nil {
		return 0, err
	}
	var cumulative int64
	for _, interval := range sortedKeys(aggregate.counts) {
		cumulative += aggregate.counts[interval]
		entry := telemetry.RateEntry{Metadata: aggregate.metadata[interval], Count: cumulative, Timestamp: interval}
		if err := w.Write(entry); err != nil {
			_ = w.Close()
			return 0, err
		}
	}
	return cumulative, w.Close()
}

func writeLatency(path string, role peer.Role, aggregate *roleAggregate) error {
	w, err := telemetry.CreateLatencyFile(path, role)
	if err != nil {
		return err
	}
	for _, interval := range sortedKeys(aggregate.intervals) {
		snapshot := telemetry.LatencySnapshot{
			Start:     time.UnixMicro(interval),
			End:       time.UnixMicro(aggregate.ends[interval]),
			Histogram: aggregate.intervals[interval],
		}
		if err := w.Write(snapshot); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}
