package testsuite

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/G-Research/maestro/internal/broker"
	"github.com/G-Research/maestro/internal/common/build"
	"github.com/G-Research/maestro/internal/common/health"
	"github.com/G-Research/maestro/internal/common/logging"
	"github.com/G-Research/maestro/internal/common/util"
	"github.com/G-Research/maestro/internal/controlplane"
	"github.com/G-Research/maestro/internal/fileserver"
	"github.com/G-Research/maestro/internal/peerexec"
	"github.com/G-Research/maestro/internal/report"
	"github.com/G-Research/maestro/internal/testsuite/configuration"
	"github.com/G-Research/maestro/pkg/peer"
)

type App struct {
	// Parameters passed to the CLI by the user.
	Params *Params
	// Out is used to write the output. Defaults to standard out,
	// but can be overridden in tests to make assertions on the applications's output.
	Out io.Writer
	// Source of randomness for test ids. Tests can use a fixed source in order to provide
	// deterministic test ids.
	Random io.Reader
	// Creates the broker driver of the workers started by Worker.
	DriverFactory broker.Factory
}

// Params struct holds all user-customizable parameters.
// Using a single struct for all CLI commands ensures that all flags are distinct
// and that they can be provided either dynamically on a command line, or
// statically in a config file that's reused between command runs.
type Params struct {
	Test   configuration.TestConfig
	Worker configuration.WorkerConfig
}

// New instantiates an App with default parameters, including standard output
// and cryptographically secure random source.
func New() *App {
	return &App{
		Params: &Params{
			Test:   configuration.DefaultTestConfig(),
			Worker: configuration.DefaultWorkerConfig(),
		},
		Out:           os.Stdout,
		Random:        rand.Reader,
		DriverFactory: broker.NewDriver,
	}
}

// Version prints build information (e.g., current git commit) to the app output.
func (a *App) Version() error {
	w := tabwriter.NewWriter(a.Out, 1, 1, 1, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "Version:\t%s\n", build.ReleaseVersion)
	fmt.Fprintf(w, "Commit:\t%s\n", build.GitCommit)
	fmt.Fprintf(w, "Go version:\t%s\n", build.GoVersion)
	fmt.Fprintf(w, "Built:\t%s\n", build.BuildTime)
	return nil
}

// connect opens a control-plane client and starts dispatching its notes.
func connect(ctx context.Context, config configuration.ControlPlaneConfig, name string) (*controlplane.Client, error) {
	transport, err := controlplane.NewTransport(config.Url, name)
	if err != nil {
		return nil, err
	}
	client := controlplane.NewClient(transport, controlplane.NewBus())
	if err := client.Connect(ctx, config.ConnectRetries, config.RetryDelay); err != nil {
		return nil, err
	}
	return client, nil
}

// Exec runs the test session described by config. Failed tests are reported through the Result;
// the error is only set when the session could not be carried out.
func (a *App) Exec(ctx context.Context, config *configuration.TestConfig) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	runner, cleanup, err := a.newTestRunner(ctx, config)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	client, err := connect(ctx, config.ControlPlane, "maestro-orchestrator")
	if err != nil {
		return nil, err
	}
	defer client.Close()
	orchestrator := controlplane.NewOrchestrator(client)
	if err := orchestrator.Subscribe(); err != nil {
		return nil, err
	}
	go client.Run(ctx)
	runner.Orchestrator = orchestrator

	counter := logging.NewLevelCounter()
	detach := logging.AttachHook(log.StandardLogger(), counter)
	defer detach()
	start := time.Now()
	result, err := runner.Run(ctx)
	if err != nil {
		return nil, err
	}
	if runner.JUnit != nil {
		if err := runner.JUnit.Write(config.Reports.JUnitPath); err != nil {
			log.WithError(err).Error("failed to write the junit report")
		}
	}
	a.printSummary(result, time.Since(start), counter)
	return result, nil
}

// newTestId names a test session. Its random part comes from a.Random.
func (a *App) newTestId() (string, error) {
	if a.Random == nil {
		return util.NewULID(), nil
	}
	return util.NewULIDFrom(a.Random)
}

func (a *App) newTestRunner(ctx context.Context, config *configuration.TestConfig) (*TestRunner, func(), error) {
	testId, err := a.newTestId()
	if err != nil {
		return nil, nil, err
	}
	runner := &TestRunner{
		Profile:         ProfileFromConfig(config),
		Progression:     ProgressionFromConfig(config),
		Evaluators:      EvaluatorsFromConfig(config.Sla),
		Organizer:       report.NewOrganizer(config.Reports.Dir),
		TestId:          testId,
		DiscoveryWindow: config.DiscoveryWindow,
		PollInterval:    config.PollInterval,
		MaxTests:        config.MaxTests,
		Out:             a.Out,
	}
	if err := runner.Profile.Validate(); err != nil {
		return nil, nil, err
	}
	if runner.Progression != nil {
		if err := runner.Progression.Validate(); err != nil {
			return nil, nil, err
		}
	}
	ignore, err := IgnoreListFromConfig(config.Ignore)
	if err != nil {
		return nil, nil, err
	}
	runner.IgnoreList = ignore

	var closers []func() error
	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.WithError(err).Warn("failed to release resource")
			}
		}
	}
	if config.Reports.RedisAddress != "" {
		client := redis.NewClient(&redis.Options{Addr: config.Reports.RedisAddress})
		closers = append(closers, client.Close)
		runner.Tracker = report.NewRedisTestTracker(client, report.DefaultTrackerKey)
	}
	if config.Reports.DatabasePath != "" {
		store, err := report.OpenResultStore(ctx, config.Reports.DatabasePath)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, store.Close)
		runner.Store = store
	}
	if config.Reports.JUnitPath != "" {
		hostname, _ := os.Hostname()
		runner.JUnit = report.NewJUnitReport("maestro "+runner.TestId, hostname, time.Now())
	}
	return runner, cleanup, nil
}

func (a *App) printSummary(result *Result, runtime time.Duration, counter *logging.LevelCounter) {
	successes := 0
	for _, iteration := range result.Iterations {
		if iteration.Err == nil {
			successes++
		}
	}
	fmt.Fprintf(a.Out, "\n======= SUMMARY =======\n")
	fmt.Fprintf(a.Out, "Test id: %s\n", result.TestId)
	fmt.Fprintf(a.Out, "Ran %d test(s) in %s\n", len(result.Iterations), runtime)
	fmt.Fprintf(a.Out, "Successes: %d\n", successes)
	fmt.Fprintf(a.Out, "Failures: %d\n", len(result.Iterations)-successes)
	fmt.Fprintf(a.Out, "Logged %d warning(s) and %d error(s)\n", counter.Count(log.WarnLevel), counter.Count(log.ErrorLevel))
	if result.Err != nil {
		fmt.Fprintf(a.Out, "TEST FAILED: %s\n", result.Err)
	} else {
		fmt.Fprint(a.Out, "TEST SUCCEEDED\n")
	}
}

// Worker runs a peer daemon and, when configured, the log file server until ctx is done or the
// orchestrator halts the peer.
func (a *App) Worker(ctx context.Context, config *configuration.WorkerConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	logs, err := peerexec.NewLogDirectory(config.LogDir)
	if err != nil {
		return err
	}
	info := peer.NewInfo(config.Role, config.Group)
	client, err := connect(ctx, config.ControlPlane, "maestro-"+info.Id)
	if err != nil {
		return err
	}
	defer client.Close()
	executor := peerexec.NewExecutor(info, client, logs, a.DriverFactory)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// A halted executor ends the file server too.
		defer cancel()
		return executor.Run(ctx)
	})
	if config.HttpAddress != "" {
		server := fileserver.NewServer(logs, health.NewMultiChecker(executor))
		g.Go(func() error { return server.ListenAndServe(ctx, config.HttpAddress) })
	}
	return g.Wait()
}

// Aggregate merges the logs found under each directory and prints where the merged files went.
func (a *App) Aggregate(dirs ...string) error {
	for _, dir := range dirs {
		merged, err := report.NewAggregator(dir).Aggregate()
		if merged == nil {
			return err
		}
		if err != nil {
			log.WithError(err).Warnf("some logs under %s could not be aggregated", dir)
		}
		w := tabwriter.NewWriter(a.Out, 1, 1, 1, ' ', 0)
		fmt.Fprintf(w, "%s\n", merged.Dir)
		for _, role := range peer.AllRoles {
			if path, ok := merged.RateFiles[role]; ok {
				fmt.Fprintf(w, "  %s\tmessages: %d\t%s\t%s\n", role, merged.Count[role], filepath.Base(path), filepath.Base(merged.LatencyFiles[role]))
			}
		}
		if err := w.Flush(); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// Download fetches the logs of location from a peer's file server.
func (a *App) Download(ctx context.Context, baseUrl string, location string, dest string) error {
	paths, err := fileserver.Download(ctx, baseUrl, location, dest)
	for _, path := range paths {
		fmt.Fprintln(a.Out, path)
	}
	return err
}

// Results prints the iterations recorded in the result store at path.
func (a *App) Results(ctx context.Context, path string) error {
	store, err := report.OpenResultStore(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()
	records, err := store.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.Out, 1, 1, 2, ' ', 0)
	fmt.Fprintf(w, "TEST ID\tNUMBER\tRATE\tPARALLEL\tRESULT\tMESSAGES\tMAX LATENCY\tP99 LATENCY\tMESSAGE\n")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%d\t%s\t%s\t%s\n",
			r.TestId, r.TestNumber, r.Rate, r.ParallelCount, report.ResultOf(r.Success),
			r.Messages, r.MaxLatency, r.P99Latency, r.Message)
	}
	return errors.WithStack(w.Flush())
}
