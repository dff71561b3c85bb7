package cmd

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/G-Research/maestro/internal/common"
	"github.com/G-Research/maestro/internal/common/app"
	"github.com/G-Research/maestro/internal/common/maestroerrors"
	"github.com/G-Research/maestro/internal/testsuite"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maestro",
		Short: "maestro coordinates distributed performance tests of messaging brokers.",
		Long: `maestro coordinates distributed performance tests of messaging brokers.

Peers are started with "maestro worker" and wait for instructions on the control plane;
"maestro exec" discovers them and drives one or more test iterations.

Persistent config can be saved in a config file so it doesn't have to be specified every command.

Example structure:
controlPlane:
  url: nats://localhost:4222
brokerUrl: nats://localhost:4222/maestro.load
duration: 5m
rate: 1000
sla:
  maxLatency: 500ms

The location of this file can be passed in using the --config argument.
If not provided, $HOME/.maestro.yaml is used. Every key can be overridden by a MAESTRO_ prefixed
environment variable, e.g. MAESTRO_CONTROLPLANE_URL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "", "Config file, defaults to $HOME/.maestro.yaml.")

	cmd.AddCommand(
		versionCmd(testsuite.New()),
		workerCmd(testsuite.New()),
		execCmd(testsuite.New()),
		aggregateCmd(testsuite.New()),
		downloadCmd(testsuite.New()),
		resultsCmd(testsuite.New()),
	)

	return cmd
}

// Print version info and exit.
func versionCmd(a *testsuite.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Version()
		},
	}
	return cmd
}

// Run a peer that executes the instructions of the orchestrator.
func workerCmd(a *testsuite.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a peer that generates or measures load on request of the orchestrator.",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, &a.Params.Worker, controlPlaneFlags, workerFlags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			common.ConfigureLogging()
			return a.Worker(app.CreateContextWithShutdown(), &a.Params.Worker)
		},
	}

	defaults := a.Params.Worker
	addControlPlaneFlags(cmd.Flags(), a)
	cmd.Flags().String("role", defaults.Role.Topic(), "Initial role: sender, receiver, inspector, agent, exporter or other.")
	cmd.Flags().String("group", defaults.Group, "Group the peer belongs to.")
	cmd.Flags().String("logDir", defaults.LogDir, "Directory holding the logs of each test.")
	cmd.Flags().String("httpAddress", defaults.HttpAddress, "Address of the log file server; empty disables it.")

	return cmd
}

// Discover the peers and run a test.
// Prints the outcome of every iteration and a summary on exit.
func execCmd(a *testsuite.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run a performance test with the peers listening on the control plane.",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, &a.Params.Test, controlPlaneFlags, execFlags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Cancelled on SIGINT/SIGTERM so that peers are not left waiting.
			ctx := app.CreateContextWithShutdown()
			result, err := a.Exec(ctx, &a.Params.Test)
			if err != nil {
				return err
			}
			return result.Err
		},
	}

	defaults := a.Params.Test
	addControlPlaneFlags(cmd.Flags(), a)
	cmd.Flags().String("brokerUrl", defaults.BrokerUrl, "Broker under test, e.g. kafka://localhost:9092/maestro.load.")
	cmd.Flags().String("duration", defaults.Duration.String(), "Messages per worker (e.g. 10000) or test duration (e.g. 5m).")
	cmd.Flags().Int("rate", defaults.Rate, "Messages per second and per worker; 0 means unbounded.")
	cmd.Flags().Int("parallelCount", defaults.ParallelCount, "Workers per peer.")
	cmd.Flags().String("messageSize", defaults.MessageSize.String(), "Message size in bytes; prefix with ~ for a variable size.")
	cmd.Flags().Duration("fcl", defaults.FCL, "Receivers fail once a message is slower than this; 0 disables it.")
	cmd.Flags().String("managementInterface", defaults.ManagementInterface, "Prometheus endpoint of the broker scraped by inspectors.")
	cmd.Flags().Duration("discoveryWindow", defaults.DiscoveryWindow, "Time to wait for peers to answer the discovery ping.")
	cmd.Flags().Duration("maxLatency", defaults.Sla.MaxLatency, "Fail the test when any message is slower; 0 disables it.")
	cmd.Flags().Int("maxTests", defaults.MaxTests, "Maximum number of iterations of an incremental test; 0 means no limit.")
	cmd.Flags().String("reportDir", defaults.Reports.Dir, "Directory receiving the logs of every peer.")
	cmd.Flags().String("junit", defaults.Reports.JUnitPath, "Write a JUnit XML report to this path.")
	cmd.Flags().String("db", defaults.Reports.DatabasePath, "Record the results in this sqlite database.")
	cmd.Flags().String("redis", defaults.Reports.RedisAddress, "Keep test numbers in the redis server at this address.")

	return cmd
}

func aggregateCmd(a *testsuite.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate <dir>...",
		Short: "Merge the rate and latency logs found under each directory.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Aggregate(args...)
		},
	}
	return cmd
}

func downloadCmd(a *testsuite.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <url> <location>",
		Short: "Download the logs of a peer, e.g. download http://peer:8090 lastFailed.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := cmd.Flags().GetString("dest")
			if err != nil {
				return err
			}
			timeout, err := cmd.Flags().GetDuration("timeout")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(app.CreateContextWithShutdown(), timeout)
			defer cancel()
			return a.Download(ctx, args[0], args[1], dest)
		},
	}
	cmd.Flags().String("dest", ".", "Destination directory.")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Give up after this long.")
	return cmd
}

func resultsCmd(a *testsuite.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List the test iterations recorded in a result database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := cmd.Flags().GetString("db")
			if err != nil {
				return err
			}
			if db == "" {
				return errors.WithStack(&maestroerrors.ErrInvalidArgument{Name: "db", Value: db, Message: "not provided"})
			}
			return a.Results(app.CreateContextWithShutdown(), db)
		},
	}
	cmd.Flags().String("db", "", "Result database written by exec --db.")
	return cmd
}
