package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"

	"github.com/G-Research/maestro/internal/broker"
	"github.com/G-Research/maestro/internal/telemetry"
	"github.com/G-Research/maestro/pkg/note"
	"github.com/G-Research/maestro/pkg/params"
	"github.com/G-Research/maestro/pkg/peer"
)

func testOptions(count int64) Options {
	opts := DefaultOptions()
	opts.BrokerUrl = "memory://test"
	opts.Duration = params.CountPolicy(count)
	opts.ParallelCount = 2
	opts.MessageSize = params.FixedSize(64)
	return opts
}

func startPool(t *testing.T, role peer.Role, opts Options, driver broker.Driver) (*Pool, chan error) {
	pool, err := NewPool(role, opts, driver, t.TempDir(), clock.RealClock{})
	require.NoError(t, err)
	completed := make(chan error, 1)
	require.NoError(t, pool.Start(context.Background(), func(err error) { completed <- err }))
	return pool, completed
}

func awaitCompletion(t *testing.T, completed chan error) error {
	select {
	case err := <-completed:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("pool did not complete")
		return nil
	}
}

func TestPool_SenderAndReceiverComplete(t *testing.T) {
	driver := broker.NewMemoryDriver(10_000)
	receivers, receiversDone := startPool(t, peer.Receiver, testOptions(500), driver)
	senders, sendersDone := startPool(t, peer.Sender, testOptions(500), driver)

	require.NoError(t, awaitCompletion(t, sendersDone))
	require.NoError(t, awaitCompletion(t, receiversDone))
	<-senders.Done()
	<-receivers.Done()

	snapshot := receivers.Snapshot()
	assert.Equal(t, peer.Receiver, snapshot.Role)
	assert.Equal(t, int64(1000), snapshot.Count)
	assert.Equal(t, int64(0), snapshot.Stats.MissedSamples)
	assert.Equal(t, time.Duration(0), snapshot.Eta)

	for i := 0; i < 2; i++ {
		_, entries, err := telemetry.ReadRateFile(filepath.Join(receivers.Dir(), fmt.Sprintf("receiver-%d%s", i, telemetry.RateFileExt)))
		require.NoError(t, err)
		require.NotEmpty(t, entries)
		assert.Equal(t, int64(500), entries[len(entries)-1].Count)
	}
	files, err := os.ReadDir(senders.Dir())
	require.NoError(t, err)
	assert.Len(t, files, 4)
}

func TestPool_StopDoesNotReportCompletion(t *testing.T) {
	driver := broker.NewMemoryDriver(1)
	opts := testOptions(1)
	opts.Duration = params.TimePolicy(time.Hour)
	pool, completed := startPool(t, peer.Receiver, opts, driver)

	pool.Stop()
	select {
	case err := <-completed:
		t.Fatalf("unexpected completion: %v", err)
	default:
	}
}

func TestPool_FailConditionOnLatency(t *testing.T) {
	driver := broker.NewMemoryDriver(10)
	payload := make([]byte, 16)
	broker.PutTimestamp(payload, time.Now().Add(-time.Second))
	producer, err := driver.NewProducer(context.Background())
	require.NoError(t, err)
	require.NoError(t, producer.Send(context.Background(), payload))

	opts := testOptions(10)
	opts.ParallelCount = 1
	opts.FCL = 100 * time.Millisecond
	_, completed := startPool(t, peer.Receiver, opts, driver)

	err = awaitCompletion(t, completed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail condition")
}

func TestNewPool_RejectsNonWorkers(t *testing.T) {
	_, err := NewPool(peer.Inspector, testOptions(1), broker.NewMemoryDriver(1), t.TempDir(), clock.RealClock{})
	assert.Error(t, err)

	opts := testOptions(1)
	opts.BrokerUrl = ""
	_, err = NewPool(peer.Sender, opts, broker.NewMemoryDriver(1), t.TempDir(), clock.RealClock{})
	assert.Error(t, err)
}

func TestOptions_Set(t *testing.T) {
	opts := DefaultOptions()
	require.NoError(t, opts.Set(note.CmdSetBroker, "nats://localhost:4222/test"))
	require.NoError(t, opts.Set(note.CmdSetRate, "1000"))
	require.NoError(t, opts.Set(note.CmdSetDuration, "5m"))
	require.NoError(t, opts.Set(note.CmdSetParallelCount, "4"))
	require.NoError(t, opts.Set(note.CmdSetMessageSize, "~512"))
	require.NoError(t, opts.Set(note.CmdSetFCL, "300"))
	require.NoError(t, opts.Set(note.CmdSetManagementInterface, "http://localhost:8222/metrics"))

	assert.Equal(t, "nats://localhost:4222/test", opts.BrokerUrl)
	assert.Equal(t, 1000, opts.Rate)
	assert.Equal(t, params.TimePolicy(5*time.Minute), opts.Duration)
	assert.Equal(t, 4, opts.ParallelCount)
	assert.Equal(t, params.MessageSize{Base: 512, Variable: true}, opts.MessageSize)
	assert.Equal(t, 300*time.Millisecond, opts.FCL)
	assert.Equal(t, "http://localhost:8222/metrics", opts.ManagementInterface)

	before := opts
	assert.Error(t, opts.Set(note.CmdSetRate, "-1"))
	assert.Error(t, opts.Set(note.CmdSetParallelCount, "0"))
	assert.Error(t, opts.Set(note.CmdSetDuration, "soon"))
	assert.Error(t, opts.Set(note.CmdHalt, "1"))
	assert.Equal(t, before, opts)
}
