package testsuite

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/maestro/internal/common/maestroerrors"
	"github.com/G-Research/maestro/pkg/params"
)

// WarmUp runs the load before the measured run until enough messages went through, or until
// MaxDuration elapsed.
type WarmUp struct {
	Enabled bool
	// Messages counted by senders and receivers together.
	Threshold   int64
	MaxDuration time.Duration
}

// Profile holds the parameters of one test iteration.
type Profile struct {
	BrokerUrl string
	// Messages per second and per worker; zero means unbounded.
	Rate          int
	ParallelCount int
	MessageSize   params.MessageSize
	Duration      params.DurationPolicy
	// Fail condition on latency enforced by the receivers; zero disables it.
	FCL                 time.Duration
	ManagementInterface string
	WarmUp              WarmUp
}

func (p Profile) Validate() error {
	if p.BrokerUrl == "" {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{Name: "brokerUrl", Value: p.BrokerUrl, Message: "not provided"})
	}
	if p.Duration.IsZero() {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{Name: "duration", Value: p.Duration.String(), Message: "not provided"})
	}
	if p.Rate < 0 {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{Name: "rate", Value: p.Rate, Message: "must not be negative"})
	}
	if p.ParallelCount <= 0 {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{Name: "parallelCount", Value: p.ParallelCount, Message: "must be positive"})
	}
	if p.WarmUp.Enabled && p.WarmUp.Threshold <= 0 && p.WarmUp.MaxDuration <= 0 {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "warmUp",
			Value:   p.WarmUp.Threshold,
			Message: "a threshold or a maximum duration is required",
		})
	}
	return nil
}

// ParameterPublisher sends test parameters to every peer.
type ParameterPublisher interface {
	SetBroker(url string) error
	SetDuration(duration string) error
	SetRate(rate int) error
	SetParallelCount(count int) error
	SetMessageSize(size string) error
	SetFCL(fcl int) error
	SetManagementInterface(url string) error
}

// Apply publishes the profile to every peer and returns the number of parameters sent. The
// duration and rate always precede anything that starts a service.
func (p Profile) Apply(ctx context.Context, publisher ParameterPublisher) (int, error) {
	steps := []func() error{
		func() error { return publisher.SetBroker(p.BrokerUrl) },
		func() error { return publisher.SetDuration(p.Duration.String()) },
		func() error { return publisher.SetRate(p.Rate) },
		func() error { return publisher.SetParallelCount(p.ParallelCount) },
		func() error { return publisher.SetMessageSize(p.MessageSize.String()) },
		func() error { return publisher.SetFCL(int(p.FCL.Milliseconds())) },
	}
	if p.ManagementInterface != "" {
		steps = append(steps, func() error { return publisher.SetManagementInterface(p.ManagementInterface) })
	}
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return i, errors.WithStack(err)
		}
		if err := step(); err != nil {
			return i, err
		}
	}
	return len(steps), nil
}

// Progression raises the load of a profile between iterations: the rate grows by RateIncrement
// up to CeilingRate, after which it restarts at InitialRate with ParallelCountIncrement more
// workers, until CeilingParallelCount is exceeded.
type Progression struct {
	InitialRate            int
	CeilingRate            int
	RateIncrement          int
	InitialParallelCount   int
	CeilingParallelCount   int
	ParallelCountIncrement int
}

func (p Progression) Validate() error {
	if p.RateIncrement <= 0 && p.ParallelCountIncrement <= 0 {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "incremental",
			Value:   p.RateIncrement,
			Message: "a rate or parallel count increment is required",
		})
	}
	if p.CeilingRate < p.InitialRate {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{Name: "ceilingRate", Value: p.CeilingRate, Message: "below the initial rate"})
	}
	if p.CeilingParallelCount < p.InitialParallelCount {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "ceilingParallelCount",
			Value:   p.CeilingParallelCount,
			Message: "below the initial parallel count",
		})
	}
	return nil
}

// Increment moves profile to the next step and reports whether there is one.
func (p Progression) Increment(profile *Profile) bool {
	if p.RateIncrement > 0 && profile.Rate+p.RateIncrement <= p.CeilingRate {
		profile.Rate += p.RateIncrement
		return true
	}
	if p.ParallelCountIncrement <= 0 || profile.ParallelCount+p.ParallelCountIncrement > p.CeilingParallelCount {
		return false
	}
	profile.Rate = p.InitialRate
	profile.ParallelCount += p.ParallelCountIncrement
	return true
}

// replyBudget is the number of polls to wait for every peer to report. Time based tests get
// twice their duration plus 30 polls; count based tests 60 polls plus the expected duration at
// the configured rate, or 600 polls when the rate is unbounded.
func replyBudget(duration params.DurationPolicy, rate int) int {
	switch {
	case duration.IsTime():
		return 2*int(duration.Time().Seconds()) + 30
	case rate > 0:
		return 60 + int(duration.Count()/int64(rate))
	default:
		return 600
	}
}
