package worker

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/maestro/internal/common/maestroerrors"
	"github.com/G-Research/maestro/pkg/note"
	"github.com/G-Research/maestro/pkg/params"
)

const DefaultChannelCapacity = 1 << 16

// Options are the test parameters a peer receives from the orchestrator.
type Options struct {
	BrokerUrl string
	// Messages per second and per worker; zero means unbounded.
	Rate     int
	Duration params.DurationPolicy
	// Number of concurrent workers. With a count duration each worker handles the full count.
	ParallelCount int
	MessageSize   params.MessageSize
	// Fail condition on latency: receivers fail once a message is slower. Zero disables it.
	FCL                 time.Duration
	ManagementInterface string
	ChannelCapacity     int
}

func DefaultOptions() Options {
	return Options{
		Duration:        params.CountPolicy(10000),
		ParallelCount:   1,
		MessageSize:     params.FixedSize(256),
		ChannelCapacity: DefaultChannelCapacity,
	}
}

func (o Options) Validate() error {
	if o.BrokerUrl == "" {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "brokerUrl",
			Value:   o.BrokerUrl,
			Message: "not provided",
		})
	}
	if o.Duration.IsZero() {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "duration",
			Value:   o.Duration.String(),
			Message: "not provided",
		})
	}
	if o.ParallelCount <= 0 {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "parallelCount",
			Value:   o.ParallelCount,
			Message: "parallel count must be positive",
		})
	}
	return nil
}

// setters maps each parameter request to the option it updates.
var setters = map[note.Command]func(o *Options, value string) error{
	note.CmdSetBroker: func(o *Options, value string) error {
		o.BrokerUrl = value
		return nil
	},
	note.CmdSetRate: func(o *Options, value string) error {
		rate, err := parseNonNegative("rate", value)
		o.Rate = rate
		return err
	},
	note.CmdSetDuration: func(o *Options, value string) error {
		duration, err := params.ParseDuration(value)
		if err != nil {
			return err
		}
		o.Duration = duration
		return nil
	},
	note.CmdSetParallelCount: func(o *Options, value string) error {
		count, err := parseNonNegative("parallelCount", value)
		if err == nil && count == 0 {
			err = errors.WithStack(&maestroerrors.ErrInvalidArgument{Name: "parallelCount", Value: value, Message: "must be positive"})
		}
		if err != nil {
			return err
		}
		o.ParallelCount = count
		return nil
	},
	note.CmdSetMessageSize: func(o *Options, value string) error {
		size, err := params.ParseMessageSize(value)
		if err != nil {
			return err
		}
		o.MessageSize = size
		return nil
	},
	note.CmdSetFCL: func(o *Options, value string) error {
		fcl, err := parseNonNegative("fcl", value)
		if err != nil {
			return err
		}
		o.FCL = time.Duration(fcl) * time.Millisecond
		return nil
	},
	note.CmdSetManagementInterface: func(o *Options, value string) error {
		o.ManagementInterface = value
		return nil
	},
	note.CmdSetLogLevel: func(_ *Options, value string) error {
		level, err := log.ParseLevel(value)
		if err != nil {
			return errors.WithStack(&maestroerrors.ErrInvalidArgument{Name: "logLevel", Value: value, Message: err.Error()})
		}
		log.SetLevel(level)
		return nil
	},
}

// Set applies a parameter request. The options are left unchanged when the value is invalid.
func (o *Options) Set(parameter note.Command, value string) error {
	setter, ok := setters[parameter]
	if !ok {
		return errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "parameter",
			Value:   parameter.String(),
			Message: "not a parameter request",
		})
	}
	updated := *o
	if err := setter(&updated, value); err != nil {
		return err
	}
	*o = updated
	return nil
}

func parseNonNegative(name string, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    name,
			Value:   value,
			Message: "expected a non-negative integer",
		})
	}
	return n, nil
}
