package testsuite

import (
	"github.com/G-Research/maestro/internal/testsuite/configuration"
)

func ProfileFromConfig(config *configuration.TestConfig) Profile {
	profile := Profile{
		BrokerUrl:           config.BrokerUrl,
		Rate:                config.Rate,
		ParallelCount:       config.ParallelCount,
		MessageSize:         config.MessageSize,
		Duration:            config.Duration,
		FCL:                 config.FCL,
		ManagementInterface: config.ManagementInterface,
		WarmUp: WarmUp{
			Enabled:     config.WarmUp.Enabled,
			Threshold:   config.WarmUp.Threshold,
			MaxDuration: config.WarmUp.MaxDuration,
		},
	}
	if config.Incremental != nil {
		profile.Rate = config.Incremental.InitialRate
		profile.ParallelCount = config.Incremental.InitialParallelCount
	}
	return profile
}

// ProgressionFromConfig returns nil unless the test is incremental.
func ProgressionFromConfig(config *configuration.TestConfig) *Progression {
	if config.Incremental == nil {
		return nil
	}
	c := config.Incremental
	return &Progression{
		InitialRate:            c.InitialRate,
		CeilingRate:            c.CeilingRate,
		RateIncrement:          c.RateIncrement,
		InitialParallelCount:   c.InitialParallelCount,
		CeilingParallelCount:   c.CeilingParallelCount,
		ParallelCountIncrement: c.ParallelCountIncrement,
	}
}

func EvaluatorsFromConfig(config configuration.SlaConfig) []Evaluator {
	var evaluators []Evaluator
	if config.MaxLatency > 0 {
		evaluators = append(evaluators, NewHardLatencyEvaluator(config.MaxLatency))
	}
	for _, p := range config.Percentiles {
		evaluators = append(evaluators, NewSoftLatencyEvaluator(p.Percentile, p.Threshold))
	}
	return evaluators
}

func IgnoreListFromConfig(configs []configuration.IgnoreConfig) (IgnoreList, error) {
	list := make(IgnoreList, 0, len(configs))
	for _, c := range configs {
		rule, err := NewIgnoreRule(c.Peer, c.Message)
		if err != nil {
			return nil, err
		}
		list = append(list, rule)
	}
	return list, nil
}
