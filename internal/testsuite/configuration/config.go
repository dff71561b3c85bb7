package configuration

import (
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/maestro/internal/common/maestroerrors"
	"github.com/G-Research/maestro/pkg/params"
	"github.com/G-Research/maestro/pkg/peer"
)

type ControlPlaneConfig struct {
	// nats:// or pulsar:// url of the control-plane transport.
	Url string
	// Attempts after the first failed connect.
	ConnectRetries uint
	RetryDelay     time.Duration
}

type TestConfig struct {
	ControlPlane    ControlPlaneConfig
	DiscoveryWindow time.Duration
	PollInterval    time.Duration

	BrokerUrl     string
	Duration      params.DurationPolicy
	MessageSize   params.MessageSize
	Rate          int
	ParallelCount int
	// Fail condition on latency enforced by the receivers.
	FCL                 time.Duration
	ManagementInterface string

	WarmUp      WarmUpConfig
	Incremental *IncrementalConfig
	Sla         SlaConfig
	Ignore      []IgnoreConfig
	Reports     ReportsConfig
	// Maximum number of iterations of an incremental test; zero means no limit.
	MaxTests int
}

type WarmUpConfig struct {
	Enabled     bool
	Threshold   int64
	MaxDuration time.Duration
}

type IncrementalConfig struct {
	InitialRate            int
	CeilingRate            int
	RateIncrement          int
	InitialParallelCount   int
	CeilingParallelCount   int
	ParallelCountIncrement int
}

type SlaConfig struct {
	// Maximum latency of any message; zero disables the check.
	MaxLatency  time.Duration
	Percentiles []PercentileConfig
}

type PercentileConfig struct {
	Percentile float64
	Threshold  time.Duration
}

// IgnoreConfig excludes failures whose peer name and message match the given regular expressions.
type IgnoreConfig struct {
	Peer    string
	Message string
}

type ReportsConfig struct {
	Dir string
	// Optional outputs.
	JUnitPath    string
	DatabasePath string
	// When set, test numbers are kept in redis and survive across sessions.
	RedisAddress string
}

type WorkerConfig struct {
	ControlPlane ControlPlaneConfig
	Role         peer.Role
	Group        string
	LogDir       string
	// Address of the log file server; empty disables it.
	HttpAddress string
}

func DefaultTestConfig() TestConfig {
	return TestConfig{
		ControlPlane:    ControlPlaneConfig{ConnectRetries: 10, RetryDelay: time.Second},
		DiscoveryWindow: 5 * time.Second,
		PollInterval:    time.Second,
		Duration:        params.CountPolicy(10000),
		MessageSize:     params.FixedSize(256),
		ParallelCount:   1,
		Reports:         ReportsConfig{Dir: "reports"},
	}
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		ControlPlane: ControlPlaneConfig{ConnectRetries: 10, RetryDelay: time.Second},
		Role:         peer.Other,
		LogDir:       "maestro-logs",
		HttpAddress:  ":8090",
	}
}

func (c ControlPlaneConfig) Validate() error {
	if c.Url == "" {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "controlPlane.url",
			Value:   c.Url,
			Message: "not provided",
		})
	}
	return nil
}

func (c *TestConfig) Validate() error {
	if err := c.ControlPlane.Validate(); err != nil {
		return err
	}
	if c.BrokerUrl == "" {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "brokerUrl",
			Value:   c.BrokerUrl,
			Message: "not provided",
		})
	}
	if c.Duration.IsZero() {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "duration",
			Value:   c.Duration.String(),
			Message: "not provided",
		})
	}
	if c.Rate < 0 {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "rate",
			Value:   c.Rate,
			Message: "must not be negative",
		})
	}
	if c.ParallelCount <= 0 && c.Incremental == nil {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "parallelCount",
			Value:   c.ParallelCount,
			Message: "must be positive",
		})
	}
	for _, p := range c.Sla.Percentiles {
		if p.Percentile <= 0 || p.Percentile > 100 {
			return errors.WithStack(&maestroerrors.ErrInvalidArgument{
				Name:    "sla.percentiles",
				Value:   p.Percentile,
				Message: "percentile must be in (0, 100]",
			})
		}
	}
	if c.Reports.Dir == "" {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "reports.dir",
			Value:   c.Reports.Dir,
			Message: "not provided",
		})
	}
	if c.MaxTests < 0 {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "maxTests",
			Value:   c.MaxTests,
			Message: "must not be negative",
		})
	}
	return nil
}

func (c *WorkerConfig) Validate() error {
	if err := c.ControlPlane.Validate(); err != nil {
		return err
	}
	if c.LogDir == "" {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "logDir",
			Value:   c.LogDir,
			Message: "not provided",
		})
	}
	return nil
}
