package telemetry

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/maestro/pkg/peer"
)

func TestHeader_Layout(t *testing.T) {
	assert.Equal(t, 0, HeaderLen%EntryLen)

	buf, err := NewFileHeader(RateFormat, peer.Receiver).MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, HeaderLen)
	assert.Equal(t, "    rate", string(buf[:8]))

	var h FileHeader
	require.NoError(t, h.UnmarshalBinary(buf))
	assert.Equal(t, NewFileHeader(RateFormat, peer.Receiver), h)
}

func TestHeader_FormatNameTooLong(t *testing.T) {
	_, err := NewFileHeader("histogram", peer.Sender).MarshalBinary()
	assert.Error(t, err)
}

func TestRateLog_RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 7, 5000} {
		var buf bytes.Buffer
		w, err := NewRateWriter(&buf, peer.Sender)
		require.NoError(t, err)

		expected := make([]RateEntry, n)
		for i := range expected {
			expected[i] = RateEntry{
				Metadata:  int32(i % 2),
				Count:     int64(i * 1000),
				Timestamp: 1_600_000_000_000_000 + int64(i)*1_000_000,
			}
			require.NoError(t, w.Write(expected[i]))
		}
		require.NoError(t, w.Close())
		assert.Equal(t, HeaderLen+n*EntryLen, buf.Len())

		r, err := NewRateReader(&buf)
		require.NoError(t, err)
		assert.Equal(t, peer.Sender, r.Header().Role)

		var actual []RateEntry
		for {
			e, err := r.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			actual = append(actual, e)
		}
		assert.Len(t, actual, n)
		if n > 0 {
			assert.Equal(t, expected, actual)
		}
	}
}

// The reader must refill its buffer when the underlying stream delivers a byte at a time.
func TestRateReader_ShortReads(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewRateWriter(&buf, peer.Receiver)
	require.NoError(t, err)
	require.NoError(t, w.Write(RateEntry{Count: 1, Timestamp: 2}))
	require.NoError(t, w.Write(RateEntry{Count: 3, Timestamp: 4}))
	require.NoError(t, w.Flush())

	r, err := NewRateReader(&oneByteReader{r: &buf})
	require.NoError(t, err)
	e, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, RateEntry{Count: 1, Timestamp: 2}, e)
	e, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, RateEntry{Count: 3, Timestamp: 4}, e)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestRateReader_TruncatedEntry(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewRateWriter(&buf, peer.Receiver)
	require.NoError(t, err)
	require.NoError(t, w.Write(RateEntry{Count: 1}))
	require.NoError(t, w.Flush())

	r, err := NewRateReader(bytes.NewReader(buf.Bytes()[:buf.Len()-3]))
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRateReader_WrongFormat(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewLatencyWriter(&buf, peer.Receiver)
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	_, err = NewRateReader(&buf)
	assert.Error(t, err)
}

func TestLatencyLog_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receiver-0"+LatencyFileExt)
	w, err := CreateLatencyFile(path, peer.Receiver)
	require.NoError(t, err)

	start := time.UnixMicro(1_600_000_000_000_000)
	first := NewHistogram()
	for v := int64(1); v <= 1000; v++ {
		require.NoError(t, first.RecordValue(v))
	}
	second := NewHistogram()
	require.NoError(t, second.RecordValue(900_000))

	require.NoError(t, w.Write(LatencySnapshot{Start: start, End: start.Add(time.Second), Histogram: first}))
	require.NoError(t, w.Write(LatencySnapshot{Start: start.Add(time.Second), End: start.Add(2 * time.Second), Histogram: second}))
	require.NoError(t, w.Close())

	header, snapshots, err := ReadLatencyFile(path)
	require.NoError(t, err)
	assert.Equal(t, peer.Receiver, header.Role)
	require.Len(t, snapshots, 2)
	assert.True(t, start.Equal(snapshots[0].Start))
	assert.True(t, start.Add(2*time.Second).Equal(snapshots[1].End))
	assert.Equal(t, int64(1000), snapshots[0].Histogram.TotalCount())
	assert.Equal(t, first.ValueAtQuantile(99), snapshots[0].Histogram.ValueAtQuantile(99))
	assert.Equal(t, second.Max(), snapshots[1].Histogram.Max())

	merged, err := MergeLatencyFiles(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), merged.TotalCount())
	assert.Equal(t, second.Max(), merged.Max())
}

func TestLatencyReader_CorruptSnapshot(t *testing.T) {
	valid := NewHistogram()
	require.NoError(t, valid.RecordValue(250))
	start := time.UnixMicro(1_600_000_000_000_000)

	tests := map[string]func(s *hdrhistogram.Snapshot){
		"too many significant figures": func(s *hdrhistogram.Snapshot) { s.SignificantFigures = 9 },
		"no significant figures":       func(s *hdrhistogram.Snapshot) { s.SignificantFigures = 0 },
		"zero lowest value":            func(s *hdrhistogram.Snapshot) { s.LowestTrackableValue = 0 },
		"inverted range":               func(s *hdrhistogram.Snapshot) { s.HighestTrackableValue = s.LowestTrackableValue },
		"more counts than the range":   func(s *hdrhistogram.Snapshot) { s.HighestTrackableValue = 1000 },
	}
	for name, corrupt := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewLatencyWriter(&buf, peer.Receiver)
			require.NoError(t, err)
			snapshot := valid.Export()
			corrupt(snapshot)
			require.NoError(t, w.writeSnapshot(start, start.Add(time.Second), snapshot))
			require.NoError(t, w.Close())

			r, err := NewLatencyReader(&buf)
			require.NoError(t, err)
			assert.NotPanics(t, func() {
				_, err = r.Next()
			})
			assert.Error(t, err)
		})
	}
}

func TestMergeLatencyFiles_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receiver-0"+LatencyFileExt)
	w, err := CreateLatencyFile(path, peer.Receiver)
	require.NoError(t, err)
	snapshot := NewHistogram().Export()
	snapshot.SignificantFigures = 9
	start := time.UnixMicro(1_600_000_000_000_000)
	require.NoError(t, w.writeSnapshot(start, start.Add(time.Second), snapshot))
	require.NoError(t, w.Close())

	assert.NotPanics(t, func() {
		_, err = MergeLatencyFiles(path)
	})
	assert.Error(t, err)
}

type oneByteReader struct {
	r io.Reader
}

func (o *oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}
