package configuration

import (
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonconfig "github.com/G-Research/maestro/internal/common/config"
	"github.com/G-Research/maestro/internal/common/maestroerrors"
	"github.com/G-Research/maestro/pkg/params"
	"github.com/G-Research/maestro/pkg/peer"
)

func validConfig() TestConfig {
	config := DefaultTestConfig()
	config.ControlPlane.Url = "nats://localhost:4222"
	config.BrokerUrl = "nats://localhost:4222/load"
	return config
}

func TestTestConfig_Validate(t *testing.T) {
	tests := map[string]struct {
		mutate func(*TestConfig)
		field  string
	}{
		"valid":              {mutate: func(*TestConfig) {}},
		"no control plane":   {mutate: func(c *TestConfig) { c.ControlPlane.Url = "" }, field: "controlPlane.url"},
		"no broker":          {mutate: func(c *TestConfig) { c.BrokerUrl = "" }, field: "brokerUrl"},
		"no duration":        {mutate: func(c *TestConfig) { c.Duration = params.DurationPolicy{} }, field: "duration"},
		"negative rate":      {mutate: func(c *TestConfig) { c.Rate = -1 }, field: "rate"},
		"no parallel count":  {mutate: func(c *TestConfig) { c.ParallelCount = 0 }, field: "parallelCount"},
		"bad percentile":     {mutate: func(c *TestConfig) { c.Sla.Percentiles = []PercentileConfig{{Percentile: 101}} }, field: "sla.percentiles"},
		"no report dir":      {mutate: func(c *TestConfig) { c.Reports.Dir = "" }, field: "reports.dir"},
		"negative max tests": {mutate: func(c *TestConfig) { c.MaxTests = -2 }, field: "maxTests"},
		"incremental parallel": {
			mutate: func(c *TestConfig) {
				c.ParallelCount = 0
				c.Incremental = &IncrementalConfig{}
			},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			config := validConfig()
			tc.mutate(&config)
			err := config.Validate()
			if tc.field == "" {
				assert.NoError(t, err)
				return
			}
			var e *maestroerrors.ErrInvalidArgument
			require.True(t, errors.As(err, &e), "unexpected error %v", err)
			assert.Equal(t, tc.field, e.Name)
		})
	}
}

func TestWorkerConfig_Validate(t *testing.T) {
	config := DefaultWorkerConfig()
	assert.Error(t, config.Validate())

	config.ControlPlane.Url = "nats://localhost:4222"
	assert.NoError(t, config.Validate())

	config.LogDir = ""
	assert.Error(t, config.Validate())
}

func TestTestConfig_Unmarshal(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
controlPlane:
  url: nats://localhost:4222
  connectRetries: 3
  retryDelay: 500ms
brokerUrl: kafka://localhost:9092/load
duration: 2m
messageSize: "~1024"
rate: 500
fcl: 2s
warmUp:
  enabled: true
  threshold: 5000
incremental:
  initialRate: 100
  ceilingRate: 200
  rateIncrement: 50
  initialParallelCount: 1
  ceilingParallelCount: 2
  parallelCountIncrement: 1
sla:
  maxLatency: 600ms
  percentiles:
    - percentile: 99
      threshold: 200ms
ignore:
  - peer: "receiver-.*"
    message: "connection reset"
reports:
  dir: /tmp/reports
  junitPath: /tmp/junit.xml
`)))

	config := DefaultTestConfig()
	require.NoError(t, v.Unmarshal(&config, commonconfig.CustomHooks...))
	require.NoError(t, config.Validate())

	assert.Equal(t, uint(3), config.ControlPlane.ConnectRetries)
	assert.Equal(t, 500*time.Millisecond, config.ControlPlane.RetryDelay)
	assert.Equal(t, params.TimePolicy(2*time.Minute), config.Duration)
	assert.Equal(t, params.MessageSize{Base: 1024, Variable: true}, config.MessageSize)
	assert.Equal(t, 2*time.Second, config.FCL)
	assert.Equal(t, int64(5000), config.WarmUp.Threshold)
	require.NotNil(t, config.Incremental)
	assert.Equal(t, 50, config.Incremental.RateIncrement)
	assert.Equal(t, 600*time.Millisecond, config.Sla.MaxLatency)
	assert.Equal(t, []PercentileConfig{{Percentile: 99, Threshold: 200 * time.Millisecond}}, config.Sla.Percentiles)
	assert.Equal(t, []IgnoreConfig{{Peer: "receiver-.*", Message: "connection reset"}}, config.Ignore)
	assert.Equal(t, "/tmp/junit.xml", config.Reports.JUnitPath)
	// defaults survive
	assert.Equal(t, 5*time.Second, config.DiscoveryWindow)
	assert.Equal(t, 1, config.ParallelCount)
}

func TestWorkerConfig_Unmarshal(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
controlPlane:
  url: pulsar://localhost:6650
role: receiver
group: eu-west
`)))

	config := DefaultWorkerConfig()
	require.NoError(t, v.Unmarshal(&config, commonconfig.CustomHooks...))
	assert.Equal(t, peer.Receiver, config.Role)
	assert.Equal(t, "eu-west", config.Group)
	assert.Equal(t, ":8090", config.HttpAddress)
}
