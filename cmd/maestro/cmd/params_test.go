package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/maestro/internal/testsuite"
	"github.com/G-Research/maestro/pkg/params"
	"github.com/G-Research/maestro/pkg/peer"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "maestro.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExecParams(t *testing.T) {
	config := writeConfig(t, `
controlPlane:
  url: nats://control:4222
brokerUrl: kafka://broker:9092/load
duration: 10m
rate: 250
sla:
  maxLatency: 300ms
`)
	a := testsuite.New()
	root := RootCmd()
	cmd := execCmd(a)
	root.AddCommand(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--config", config, "--rate", "500", "--junit", "out.xml"}))
	require.NoError(t, cmd.PreRunE(cmd, nil))

	test := a.Params.Test
	assert.Equal(t, "nats://control:4222", test.ControlPlane.Url)
	assert.Equal(t, "kafka://broker:9092/load", test.BrokerUrl)
	assert.Equal(t, params.TimePolicy(10*time.Minute), test.Duration)
	assert.Equal(t, 500, test.Rate, "flags override the config file")
	assert.Equal(t, 300*time.Millisecond, test.Sla.MaxLatency)
	assert.Equal(t, "out.xml", test.Reports.JUnitPath)
	assert.Equal(t, "reports", test.Reports.Dir)
	assert.Equal(t, 1, test.ParallelCount)
	assert.NoError(t, test.Validate())
}

func TestWorkerParams(t *testing.T) {
	config := writeConfig(t, `
controlPlane:
  url: pulsar://control:6650
  connectRetries: 2
`)
	t.Setenv("MAESTRO_GROUP", "eu-west")
	a := testsuite.New()
	root := RootCmd()
	cmd := workerCmd(a)
	root.AddCommand(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--config", config, "--role", "receiver"}))
	require.NoError(t, cmd.PreRunE(cmd, nil))

	worker := a.Params.Worker
	assert.Equal(t, "pulsar://control:6650", worker.ControlPlane.Url)
	assert.Equal(t, uint(2), worker.ControlPlane.ConnectRetries)
	assert.Equal(t, peer.Receiver, worker.Role)
	assert.Equal(t, "eu-west", worker.Group)
	assert.Equal(t, ":8090", worker.HttpAddress)
}

func TestVersion(t *testing.T) {
	a := testsuite.New()
	out := &bytes.Buffer{}
	a.Out = out
	cmd := versionCmd(a)
	require.NoError(t, cmd.RunE(cmd, nil))
	assert.Contains(t, out.String(), "Go version:")
}
