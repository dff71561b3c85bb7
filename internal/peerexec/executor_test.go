package peerexec

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/maestro/internal/broker"
	"github.com/G-Research/maestro/internal/common/metrics"
	"github.com/G-Research/maestro/internal/controlplane"
	"github.com/G-Research/maestro/internal/report"
	"github.com/G-Research/maestro/internal/telemetry"
	"github.com/G-Research/maestro/pkg/note"
	"github.com/G-Research/maestro/pkg/peer"
)

type testBed struct {
	orchestrator *controlplane.Orchestrator
	executors    map[peer.Role]*Executor
	logs         map[peer.Role]*LogDirectory
	replies      []note.Reply
}

func newTestBed(t *testing.T, ctx context.Context, roles ...peer.Role) *testBed {
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	server := natsserver.RunServer(&opts)
	t.Cleanup(server.Shutdown)

	driver := broker.NewMemoryDriver(10_000)
	factory := func(string) (broker.Driver, error) { return driver, nil }
	provider := (&metrics.ManualMetricsProvider{}).WithMetrics(map[string]float64{"broker_queue_depth": 3})

	bed := &testBed{executors: map[peer.Role]*Executor{}, logs: map[peer.Role]*LogDirectory{}}
	var wg sync.WaitGroup
	for _, role := range roles {
		client := controlplane.NewClient(controlplane.NewNatsTransport(server.ClientURL(), role.String()), controlplane.NewBus())
		require.NoError(t, client.Connect(ctx, 0, 0))
		t.Cleanup(func() { _ = client.Close() })
		logs, err := NewLogDirectory(t.TempDir())
		require.NoError(t, err)
		executor := NewExecutor(peer.NewInfo(role, "test"), client, logs, factory,
			WithMetricsProvider(func(string) metrics.MetricsProvider { return provider }),
			WithInspectorInterval(10*time.Millisecond))
		bed.executors[role] = executor
		bed.logs[role] = logs
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, executor.Run(ctx))
		}()
	}
	t.Cleanup(wg.Wait)

	client := controlplane.NewClient(controlplane.NewNatsTransport(server.ClientURL(), "orchestrator"), controlplane.NewBus())
	require.NoError(t, client.Connect(ctx, 0, 0))
	t.Cleanup(func() { _ = client.Close() })
	go client.Run(ctx)
	bed.orchestrator = controlplane.NewOrchestrator(client)
	require.NoError(t, bed.orchestrator.Subscribe())

	require.Eventually(t, func() bool {
		peers, err := bed.orchestrator.Discover(ctx, 100*time.Millisecond)
		return err == nil && peers.Len() == len(roles)
	}, 5*time.Second, 10*time.Millisecond)
	return bed
}

// await collects replies until at least n of them match.
func (b *testBed) await(t *testing.T, n int, match func(note.Reply) bool) []note.Reply {
	var matched []note.Reply
	require.Eventually(t, func() bool {
		b.replies = append(b.replies, b.orchestrator.CollectPending()...)
		matched = matched[:0]
		for _, reply := range b.replies {
			if match(reply) {
				matched = append(matched, reply)
			}
		}
		return len(matched) >= n
	}, 10*time.Second, 10*time.Millisecond)
	return matched
}

func (b *testBed) reset() {
	b.orchestrator.ClearCollected()
	b.replies = nil
}

func is[T note.Reply](reply note.Reply) bool {
	_, ok := reply.(T)
	return ok
}

func TestExecutor_RunsATest(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	bed := newTestBed(t, ctx, peer.Sender, peer.Receiver)
	o := bed.orchestrator

	require.NoError(t, o.SetBroker("memory://load"))
	require.NoError(t, o.SetDuration("500"))
	require.NoError(t, o.SetRate(0))
	require.NoError(t, o.SetParallelCount(1))
	require.NoError(t, o.SetMessageSize("64"))
	oks := bed.await(t, 10, is[*note.OkResponse])
	assert.Len(t, oks, 10)
	assert.Equal(t, 500, int(bed.executors[peer.Receiver].Options().Duration.Count()))

	bed.reset()
	require.NoError(t, o.StartReceiver())
	require.NoError(t, o.StartSender())
	done := bed.await(t, 2, is[*note.TestSuccessful])
	roles := []peer.Role{done[0].Origin().Role, done[1].Origin().Role}
	assert.ElementsMatch(t, []peer.Role{peer.Sender, peer.Receiver}, roles)

	receiver := bed.executors[peer.Receiver].Info()
	bed.reset()
	require.NoError(t, o.LogRequest(receiver.Id, note.LocationLastSuccessful, "hdr"))
	logs := bed.await(t, 1, is[*note.LogResponse])
	response := logs[0].(*note.LogResponse)
	assert.Equal(t, "receiver-0.hdr", response.FileName)
	assert.Equal(t, int64(1), response.FileCount)
	sum := sha256.Sum256(response.Data)
	assert.Equal(t, hex.EncodeToString(sum[:]), response.FileHash)

	dir := filepath.Join(t.TempDir(), "download")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, response.FileName)
	require.NoError(t, os.WriteFile(path, response.Data, 0o644))
	histogram, err := telemetry.MergeLatencyFiles(path)
	require.NoError(t, err)
	assert.Equal(t, int64(500), histogram.TotalCount())

	runDir, err := bed.logs[peer.Sender].Resolve(note.LocationLastSuccessful)
	require.NoError(t, err)
	properties, err := report.ReadPropertiesFile(filepath.Join(runDir, RunPropertiesFile))
	require.NoError(t, err)
	duration, _ := properties.Get("duration")
	assert.Equal(t, "500", duration)
}

func TestExecutor_ReportsInvalidParameters(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	bed := newTestBed(t, ctx, peer.Sender)

	require.NoError(t, bed.orchestrator.SetDuration("soon"))
	failures := bed.await(t, 1, is[*note.InternalError])
	assert.Equal(t, note.CmdSetDuration, failures[0].(*note.InternalError).Request)

	// Starting without a broker fails the same way.
	bed.reset()
	require.NoError(t, bed.orchestrator.StartSender())
	failures = bed.await(t, 1, is[*note.InternalError])
	assert.Equal(t, note.CmdStartSender, failures[0].(*note.InternalError).Request)
	assert.Contains(t, failures[0].(*note.InternalError).Message, "brokerUrl")
}

func TestExecutor_RoleAssignment(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	bed := newTestBed(t, ctx, peer.Other)
	executor := bed.executors[peer.Other]
	id := executor.Info().Id

	require.NoError(t, bed.orchestrator.RoleAssign(id, peer.Inspector))
	bed.await(t, 1, is[*note.OkResponse])
	assert.Equal(t, peer.Inspector, executor.Info().Role)

	bed.reset()
	require.NoError(t, bed.orchestrator.SetManagementInterface("http://broker:8161/metrics"))
	require.NoError(t, bed.orchestrator.StartInspector())
	bed.await(t, 2, is[*note.OkResponse])

	bed.reset()
	require.NoError(t, bed.orchestrator.RoleUnassign(id))
	rejected := bed.await(t, 1, is[*note.InternalError])
	assert.Contains(t, rejected[0].(*note.InternalError).Message, "cannot change role")
	assert.Equal(t, peer.Inspector, executor.Info().Role)

	require.NoError(t, bed.orchestrator.StopInspector())
	var dir string
	var err error
	require.Eventually(t, func() bool {
		dir, err = bed.logs[peer.Other].Resolve(note.LocationLastSuccessful)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	data, err := os.ReadFile(filepath.Join(dir, InspectorFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, "timestamp,metric,value", lines[0])
	require.Greater(t, len(lines), 1)
	assert.True(t, strings.HasSuffix(lines[1], ",broker_queue_depth,3"))

	bed.reset()
	require.NoError(t, bed.orchestrator.RoleUnassign(id))
	bed.await(t, 1, is[*note.OkResponse])
	assert.Equal(t, peer.Other, executor.Info().Role)
}

func TestExecutor_Halt(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	bed := newTestBed(t, ctx, peer.Agent)

	require.NoError(t, bed.orchestrator.StartAgent())
	bed.await(t, 1, is[*note.OkResponse])
	require.NoError(t, bed.orchestrator.Halt())

	assert.Eventually(t, func() bool {
		select {
		case <-bed.executors[peer.Agent].halted:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}
