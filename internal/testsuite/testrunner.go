package testsuite

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/maestro/internal/common/maestroerrors"
	"github.com/G-Research/maestro/internal/controlplane"
	"github.com/G-Research/maestro/internal/report"
	"github.com/G-Research/maestro/internal/telemetry"
	"github.com/G-Research/maestro/pkg/note"
	"github.com/G-Research/maestro/pkg/peer"
)

const (
	DefaultPollInterval = time.Second
	stagingDir          = ".staging"
	statsEveryPolls     = 10
)

// TestRunner drives a test session: it discovers the peers, then runs one iteration per
// profile step, each one parameterizing the peers, optionally warming up, running the load,
// evaluating the outcome and archiving the logs.
type TestRunner struct {
	Orchestrator *controlplane.Orchestrator
	Profile      Profile
	// Raises the load between iterations when set.
	Progression *Progression
	Evaluators  []Evaluator
	IgnoreList  IgnoreList
	Tracker     report.TestTracker
	Organizer   report.Organizer
	// Optional sinks of the iteration records.
	Store *report.ResultStore
	JUnit *report.JUnitReport
	// Test id shared by every iteration of the session.
	TestId          string
	DiscoveryWindow time.Duration
	PollInterval    time.Duration
	// Maximum number of iterations; zero means no limit.
	MaxTests int
	// Out is used to write output.
	Out io.Writer

	state *stateTracker
}

// Iteration is the outcome of one run of a profile.
type Iteration struct {
	Record  report.Record
	Profile Profile
	// Latency recorded by the receivers, in microseconds.
	Latency *hdrhistogram.Histogram
	// Aggregated logs per role.
	Aggregated map[peer.Role]*report.MergedFiles
	Err        error
}

// Result is the outcome of a test session.
type Result struct {
	TestId     string
	Peers      *peer.Set
	Iterations []Iteration
	States     []Transition
	Success    bool
	// Why the session failed.
	Err error
}

// Run executes the session. Failed tests are reported through the Result; an error is only
// returned when the session could not be carried out, e.g. because the control plane failed.
func (r *TestRunner) Run(ctx context.Context) (*Result, error) {
	r.setDefaults()
	logger := log.WithField("testId", r.TestId)
	r.state = newStateTracker(logger)
	result := &Result{TestId: r.TestId}
	defer func() { result.States = r.state.History() }()

	if err := r.state.To(Discovering); err != nil {
		return nil, err
	}
	peers, err := r.Orchestrator.Discover(ctx, r.DiscoveryWindow)
	if err != nil {
		_ = r.state.To(Failed)
		return nil, err
	}
	result.Peers = peers
	fmt.Fprintf(r.Out, "discovered %d peer(s): %d sender(s), %d receiver(s)\n",
		peers.Len(), peers.Count(peer.Sender), peers.Count(peer.Receiver))
	if peers.Workers() == 0 {
		result.Err = errors.WithStack(maestroerrors.ErrNoPeers)
		return result, r.state.To(Failed)
	}

	profile := r.Profile
	if r.Progression != nil {
		profile.Rate = r.Progression.InitialRate
		profile.ParallelCount = r.Progression.InitialParallelCount
	}
	for {
		iteration, err := r.runIteration(ctx, profile, peers)
		if err != nil {
			_ = r.state.To(Failed)
			return nil, err
		}
		result.Iterations = append(result.Iterations, *iteration)
		if iteration.Err != nil {
			result.Err = iteration.Err
			return result, r.state.To(Failed)
		}
		if r.Progression == nil || (r.MaxTests > 0 && len(result.Iterations) >= r.MaxTests) {
			break
		}
		if !r.Progression.Increment(&profile) {
			break
		}
	}
	result.Success = true
	return result, r.state.To(Succeeded)
}

func (r *TestRunner) setDefaults() {
	if r.Out == nil {
		r.Out = io.Discard
	}
	if r.Tracker == nil {
		r.Tracker = report.NewMemoryTestTracker()
	}
	if r.DiscoveryWindow <= 0 {
		r.DiscoveryWindow = controlplane.DefaultDiscoveryWindow
	}
	if r.PollInterval <= 0 {
		r.PollInterval = DefaultPollInterval
	}
}

func (r *TestRunner) runIteration(ctx context.Context, profile Profile, peers *peer.Set) (*Iteration, error) {
	number, err := r.Tracker.Next()
	if err != nil {
		return nil, err
	}
	logger := log.WithFields(log.Fields{
		"testId":        r.TestId,
		"testNumber":    number,
		"rate":          profile.Rate,
		"parallelCount": profile.ParallelCount,
	})
	iteration := &Iteration{
		Profile: profile,
		Record: report.Record{
			TestId:        r.TestId,
			TestNumber:    number,
			BrokerUrl:     profile.BrokerUrl,
			Rate:          profile.Rate,
			ParallelCount: profile.ParallelCount,
			MessageSize:   profile.MessageSize.String(),
			Duration:      profile.Duration.String(),
			Start:         time.Now(),
		},
	}
	fmt.Fprintf(r.Out, "starting test %d: rate %d, parallel count %d, duration %s\n",
		number, profile.Rate, profile.ParallelCount, profile.Duration)
	p := poller{collect: r.Orchestrator.CollectPending, interval: r.PollInterval}
	expected := workers(peers)

	if err := r.state.To(ParameterizingPeers); err != nil {
		return nil, err
	}
	r.Orchestrator.ClearCollected()
	sent, err := profile.Apply(ctx, r.Orchestrator)
	if err != nil {
		return nil, err
	}
	failedPeer, message, err := p.awaitAcknowledgements(ctx, peers.All(), sent)
	if err != nil {
		return nil, err
	}
	if failedPeer != nil {
		iteration.fail(*failedPeer, message, errors.Errorf("%s rejected the test parameters: %s", failedPeer.PrettyName(), message))
		return r.finish(ctx, iteration, peers)
	}

	if profile.WarmUp.Enabled {
		if err := r.state.To(WarmingUp); err != nil {
			return nil, err
		}
		if err := r.warmUp(ctx, profile, expected, p); err != nil {
			return nil, err
		}
	}

	if err := r.state.To(Running); err != nil {
		return nil, err
	}
	logger.Info("starting the measured run")
	if err := r.run(ctx, profile, peers, expected, p, iteration); err != nil {
		return nil, err
	}

	if err := r.state.To(Evaluating); err != nil {
		return nil, err
	}
	return r.finish(ctx, iteration, peers)
}

// run starts the services and polls until every worker reported or the reply budget ran out.
func (r *TestRunner) run(
	ctx context.Context,
	profile Profile,
	peers *peer.Set,
	expected []peer.Info,
	p poller,
	iteration *Iteration,
) error {
	r.Orchestrator.ClearCollected()
	inspect := profile.ManagementInterface != "" && peers.Count(peer.Inspector) > 0
	if inspect {
		if err := r.Orchestrator.StartInspector(); err != nil {
			return err
		}
	}
	if peers.Count(peer.Agent) > 0 {
		if err := r.Orchestrator.StartAgent(); err != nil {
			return err
		}
	}
	if err := r.Orchestrator.StartReceiver(); err != nil {
		return err
	}
	if err := r.Orchestrator.StartSender(); err != nil {
		return err
	}

	processor := NewProcessor(expected, r.IgnoreList)
	budget := replyBudget(profile.Duration, profile.Rate)
	for polls := 1; polls <= budget && !processor.Complete(); polls++ {
		if polls%statsEveryPolls == 0 {
			if err := r.Orchestrator.StatsRequest(); err != nil {
				return err
			}
		}
		replies, err := p.poll(ctx)
		if err != nil {
			return err
		}
		logStats(replies)
		processor.Process(replies)
	}

	if inspect {
		if err := r.Orchestrator.StopInspector(); err != nil {
			return err
		}
	}
	if peers.Count(peer.Agent) > 0 {
		if err := r.Orchestrator.StopAgent(); err != nil {
			return err
		}
	}

	switch {
	case !processor.Complete():
		// Workers still running would spoil the next iteration.
		if err := r.Orchestrator.StopSender(); err != nil {
			return err
		}
		if err := r.Orchestrator.StopReceiver(); err != nil {
			return err
		}
		iteration.Err = errors.WithStack(&maestroerrors.ErrProtocolTimeout{Budget: budget, Pending: processor.Pending()})
		iteration.Record.Message = iteration.Err.Error()
	case processor.Failed():
		failedPeer, message := processor.FirstFailure()
		iteration.fail(failedPeer, message, errors.Errorf("%s failed: %s", failedPeer.PrettyName(), message))
	}
	return nil
}

func logStats(replies []note.Reply) {
	for _, reply := range replies {
		if stats, ok := reply.(*note.StatsResponse); ok {
			log.WithFields(log.Fields{
				"peer":        stats.Peer.PrettyName(),
				"count":       stats.Snapshot.Count,
				"rate":        fmt.Sprintf("%.1f", stats.Snapshot.Stats.Rate),
				"meanLatency": stats.Snapshot.Stats.MeanLatency,
				"eta":         stats.Snapshot.Eta,
			}).Info("progress")
		}
	}
}

func (i *Iteration) fail(failedPeer peer.Info, message string, err error) {
	i.Err = err
	i.Record.FailedPeer = failedPeer.PrettyName()
	i.Record.Message = message
}

// finish downloads the logs of the iteration, evaluates the latency, archives the logs in the
// report layout and records the outcome.
func (r *TestRunner) finish(ctx context.Context, iteration *Iteration, peers *peer.Set) (*Iteration, error) {
	number := iteration.Record.TestNumber
	p := poller{collect: r.Orchestrator.CollectPending, interval: r.PollInterval}
	staging := filepath.Join(r.Organizer.Base, stagingDir, r.TestId, strconv.FormatInt(number, 10))
	defer os.RemoveAll(staging)

	r.Orchestrator.ClearCollected()
	targets := peers.WithRoles(peer.Sender, peer.Receiver, peer.Inspector)
	dirs, err := downloadLogs(ctx, p, func(id string) error {
		return r.Orchestrator.LogRequest(id, note.LocationLast, "")
	}, targets, staging)
	if err != nil {
		return nil, err
	}

	iteration.Latency = telemetry.NewHistogram()
	for _, info := range peers.WithRoles(peer.Receiver) {
		dir, ok := dirs[info.Id]
		if !ok {
			continue
		}
		paths, _ := filepath.Glob(filepath.Join(dir, "*"+telemetry.LatencyFileExt))
		merged, err := telemetry.MergeLatencyFiles(paths...)
		if err != nil {
			log.WithError(err).WithField("peer", info.PrettyName()).Warn("failed to read latency logs")
			continue
		}
		iteration.Latency.Merge(merged)
	}
	if iteration.Latency.TotalCount() > 0 {
		iteration.Record.MaxLatency = time.Duration(iteration.Latency.Max()) * time.Microsecond
		iteration.Record.P99Latency = time.Duration(iteration.Latency.ValueAtQuantile(99)) * time.Microsecond
	}
	if iteration.Err == nil {
		r.evaluate(iteration)
	}
	iteration.Record.Success = iteration.Err == nil
	iteration.Record.End = time.Now()

	resultType := report.ResultOf(iteration.Record.Success)
	for _, info := range targets {
		dir, ok := dirs[info.Id]
		if !ok {
			continue
		}
		dest, err := r.Organizer.Place(info, resultType, r.TestId, number)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, errors.WithStack(err)
		}
		if err := os.Rename(dir, dest); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	iteration.Aggregated = make(map[peer.Role]*report.MergedFiles)
	for _, role := range []peer.Role{peer.Sender, peer.Receiver} {
		root := r.Organizer.TestDir(role, resultType, r.TestId, number)
		if _, err := os.Stat(root); err != nil {
			continue
		}
		merged, err := report.NewAggregator(root).Aggregate()
		if err != nil {
			log.WithError(err).WithField("role", role.String()).Warn("failed to aggregate logs")
		}
		iteration.Aggregated[role] = merged
		if role == peer.Receiver && merged != nil {
			iteration.Record.Messages = merged.Count[peer.Receiver]
		}
	}

	if r.Store != nil {
		if err := r.Store.Record(ctx, iteration.Record); err != nil {
			log.WithError(err).Error("failed to record the test result")
		}
	}
	if r.JUnit != nil {
		r.JUnit.Add(iteration.Record)
	}
	r.printIteration(iteration)
	return iteration, nil
}

// evaluate runs every evaluator on the iteration's latency. Evaluators remember failures of
// earlier iterations.
func (r *TestRunner) evaluate(iteration *Iteration) {
	for _, evaluator := range r.Evaluators {
		evaluator.Record(iteration.Latency)
	}
	for _, evaluator := range r.Evaluators {
		if !evaluator.Eval() {
			iteration.Err = evaluator.Err()
			iteration.Record.Message = iteration.Err.Error()
			return
		}
	}
}

func (r *TestRunner) printIteration(iteration *Iteration) {
	record := iteration.Record
	if record.Success {
		fmt.Fprintf(r.Out, "test %d SUCCEEDED: %d messages, max latency %s, p99 latency %s\n",
			record.TestNumber, record.Messages, record.MaxLatency, record.P99Latency)
		return
	}
	fmt.Fprintf(r.Out, "test %d FAILED: %s\n", record.TestNumber, iteration.Err)
}
