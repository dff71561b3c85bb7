package worker

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/G-Research/maestro/internal/common/logging"
	"github.com/G-Research/maestro/internal/telemetry"
	"github.com/G-Research/maestro/pkg/peer"
)

func newTestWriter(t *testing.T, channel *Channel, clk *testingclock.FakeClock) (*Writer, string, string) {
	dir := t.TempDir()
	ratePath := filepath.Join(dir, "receiver-0"+telemetry.RateFileExt)
	latencyPath := filepath.Join(dir, "receiver-0"+telemetry.LatencyFileExt)
	rate, err := telemetry.CreateRateFile(ratePath, peer.Receiver)
	require.NoError(t, err)
	latency, err := telemetry.CreateLatencyFile(latencyPath, peer.Receiver)
	require.NoError(t, err)
	return NewWriter(channel, rate, latency, clk, logging.NullEntry(nil)), ratePath, latencyPath
}

func TestWriter_CumulativeEntriesPerSecond(t *testing.T) {
	start := time.Unix(1_600_000_000, 0)
	clk := testingclock.NewFakeClock(start)
	channel := NewChannel(1024)
	writer, ratePath, latencyPath := newTestWriter(t, channel, clk)
	writer.Start()

	// 3 messages in the first second, 2 in the second, 1 in the fourth.
	for _, offset := range []time.Duration{0, 100 * time.Millisecond, 900 * time.Millisecond, 1100 * time.Millisecond, 1999 * time.Millisecond, 3500 * time.Millisecond} {
		received := start.Add(offset)
		channel.EmitRate(received.Add(-time.Millisecond), received)
		channel.EmitLatency(1000)
	}
	writer.Close()
	assert.Equal(t, int64(0), writer.Errors())

	header, entries, err := telemetry.ReadRateFile(ratePath)
	require.NoError(t, err)
	assert.Equal(t, peer.Receiver, header.Role)
	assert.Equal(t, []telemetry.RateEntry{
		{Count: 3, Timestamp: start.UnixMicro()},
		{Count: 5, Timestamp: start.Add(time.Second).UnixMicro()},
		{Count: 6, Timestamp: start.Add(3 * time.Second).UnixMicro()},
	}, entries)

	merged, err := telemetry.MergeLatencyFiles(latencyPath)
	require.NoError(t, err)
	assert.Equal(t, int64(6), merged.TotalCount())
}

func TestWriter_FlagsMissedSamples(t *testing.T) {
	start := time.Unix(1_600_000_000, 0)
	clk := testingclock.NewFakeClock(start)
	channel := NewChannel(2)
	writer, ratePath, _ := newTestWriter(t, channel, clk)

	// Fill the channel before the writer runs so that the third sample is dropped.
	for i := 0; i < 3; i++ {
		channel.EmitRate(start, start)
	}
	writer.Start()
	writer.Close()

	_, entries, err := telemetry.ReadRateFile(ratePath)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].Count)
	assert.Equal(t, telemetry.MetadataMissed, entries[0].Metadata&telemetry.MetadataMissed)
}

func TestWriter_CloseIsIdempotent(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1_600_000_000, 0))
	writer, _, _ := newTestWriter(t, NewChannel(4), clk)
	writer.Start()
	writer.Close()
	writer.Close()
}
