package telemetry

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/gogo/protobuf/proto"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/G-Research/maestro/pkg/peer"
)

// Latencies are recorded in microseconds, from 1us up to one hour, with three significant figures.
const (
	LowestLatency  int64 = 1
	HighestLatency int64 = 3_600_000_000
	latencySigFigs       = 3

	snapshotHeaderLen = 8 + 8 + 4
	// Upper bound of a compressed snapshot, to reject corrupt length prefixes.
	maxSnapshotLen = 64 << 20
)

func NewHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(LowestLatency, HighestLatency, latencySigFigs)
}

// LatencySnapshot is the latency distribution recorded during [Start, End).
type LatencySnapshot struct {
	Start     time.Time
	End       time.Time
	Histogram *hdrhistogram.Histogram
}

// LatencyWriter appends independently decodable snapshots:
// start(int64 us) | end(int64 us) | length(int32) | zstd compressed histogram.
type LatencyWriter struct {
	w       *bufio.Writer
	closer  io.Closer
	encoder *zstd.Encoder
}

func NewLatencyWriter(w io.Writer, role peer.Role) (*LatencyWriter, error) {
	bw := bufio.NewWriter(w)
	if err := writeHeader(bw, NewFileHeader(LatencyFormat, role)); err != nil {
		return nil, err
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	lw := &LatencyWriter{w: bw, encoder: encoder}
	if c, ok := w.(io.Closer); ok {
		lw.closer = c
	}
	return lw, nil
}

func CreateLatencyFile(path string, role peer.Role) (*LatencyWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	w, err := NewLatencyWriter(f, role)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func (w *LatencyWriter) Write(s LatencySnapshot) error {
	return w.writeSnapshot(s.Start, s.End, s.Histogram.Export())
}

func (w *LatencyWriter) writeSnapshot(start, end time.Time, snapshot *hdrhistogram.Snapshot) error {
	raw, err := marshalSnapshot(snapshot)
	if err != nil {
		return err
	}
	payload := w.encoder.EncodeAll(raw, nil)
	var header [snapshotHeaderLen]byte
	binary.BigEndian.PutUint64(header[0:8], uint64(start.UnixMicro()))
	binary.BigEndian.PutUint64(header[8:16], uint64(end.UnixMicro()))
	binary.BigEndian.PutUint32(header[16:20], uint32(len(payload)))
	if _, err := w.w.Write(header[:]); err != nil {
		return errors.WithStack(err)
	}
	_, err = w.w.Write(payload)
	return errors.WithStack(err)
}

func (w *LatencyWriter) Flush() error {
	return errors.WithStack(w.w.Flush())
}

func (w *LatencyWriter) Close() error {
	err := w.Flush()
	if cerr := w.encoder.Close(); err == nil {
		err = errors.WithStack(cerr)
	}
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = errors.WithStack(cerr)
		}
	}
	return err
}

type LatencyReader struct {
	r       *bufio.Reader
	header  FileHeader
	decoder *zstd.Decoder
}

func NewLatencyReader(r io.Reader) (*LatencyReader, error) {
	br := bufio.NewReader(r)
	h, err := readHeader(br, LatencyFormat)
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &LatencyReader{r: br, header: h, decoder: decoder}, nil
}

func (r *LatencyReader) Header() FileHeader {
	return r.header
}

// Next returns the next snapshot, or io.EOF once the stream is exhausted.
func (r *LatencyReader) Next() (LatencySnapshot, error) {
	var header [snapshotHeaderLen]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if err == io.EOF {
			return LatencySnapshot{}, io.EOF
		}
		return LatencySnapshot{}, errors.WithStack(err)
	}
	n := binary.BigEndian.Uint32(header[16:20])
	if n > maxSnapshotLen {
		return LatencySnapshot{}, errors.Errorf("snapshot length %d exceeds %d bytes", n, maxSnapshotLen)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return LatencySnapshot{}, errors.WithStack(err)
	}
	raw, err := r.decoder.DecodeAll(payload, nil)
	if err != nil {
		return LatencySnapshot{}, errors.WithStack(err)
	}
	snapshot, err := unmarshalSnapshot(raw)
	if err != nil {
		return LatencySnapshot{}, err
	}
	return LatencySnapshot{
		Start:     time.UnixMicro(int64(binary.BigEndian.Uint64(header[0:8]))),
		End:       time.UnixMicro(int64(binary.BigEndian.Uint64(header[8:16]))),
		Histogram: hdrhistogram.Import(snapshot),
	}, nil
}

func (r *LatencyReader) Close() {
	r.decoder.Close()
}

// ReadLatencyFile reads every snapshot of the latency log at path.
func ReadLatencyFile(path string) (FileHeader, []LatencySnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileHeader{}, nil, errors.WithStack(err)
	}
	defer f.Close()
	r, err := NewLatencyReader(f)
	if err != nil {
		return FileHeader{}, nil, errors.WithMessagef(err, "failed to read %s", path)
	}
	defer r.Close()
	var snapshots []LatencySnapshot
	for {
		s, err := r.Next()
		if err == io.EOF {
			return r.Header(), snapshots, nil
		}
		if err != nil {
			return r.Header(), snapshots, errors.WithMessagef(err, "failed to read %s", path)
		}
		snapshots = append(snapshots, s)
	}
}

// MergeLatencyFiles merges every snapshot of the given latency logs into one histogram.
func MergeLatencyFiles(paths ...string) (*hdrhistogram.Histogram, error) {
	merged := NewHistogram()
	for _, path := range paths {
		_, snapshots, err := ReadLatencyFile(path)
		if err != nil {
			return nil, err
		}
		for _, s := range snapshots {
			merged.Merge(s.Histogram)
		}
	}
	return merged, nil
}

func marshalSnapshot(s *hdrhistogram.Snapshot) ([]byte, error) {
	buf := proto.NewBuffer(make([]byte, 0, 16+len(s.Counts)))
	for _, v := range []int64{s.LowestTrackableValue, s.HighestTrackableValue, s.SignificantFigures, int64(len(s.Counts))} {
		if err := buf.EncodeVarint(uint64(v)); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	for _, c := range s.Counts {
		if err := buf.EncodeVarint(uint64(c)); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return buf.Bytes(), nil
}

func unmarshalSnapshot(raw []byte) (*hdrhistogram.Snapshot, error) {
	buf := proto.NewBuffer(raw)
	var fields [4]uint64
	for i := range fields {
		v, err := buf.DecodeVarint()
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode histogram snapshot")
		}
		fields[i] = v
	}
	if fields[3] > uint64(len(raw)) {
		return nil, errors.Errorf("histogram snapshot claims %d counts in %d bytes", fields[3], len(raw))
	}
	lowest, highest, sigFigs := int64(fields[0]), int64(fields[1]), int64(fields[2])
	if sigFigs < 1 || sigFigs > 5 {
		return nil, errors.Errorf("histogram snapshot has %d significant figures, expected 1 to 5", sigFigs)
	}
	if lowest < 1 || highest <= lowest || highest > 2*HighestLatency {
		return nil, errors.Errorf("histogram snapshot has invalid trackable range [%d, %d]", lowest, highest)
	}
	// hdrhistogram.Import indexes the counts into a histogram of this shape.
	if capacity := len(hdrhistogram.New(lowest, highest, int(sigFigs)).Export().Counts); fields[3] > uint64(capacity) {
		return nil, errors.Errorf("histogram snapshot has %d counts, its range holds %d", fields[3], capacity)
	}
	counts := make([]int64, fields[3])
	for i := range counts {
		v, err := buf.DecodeVarint()
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode histogram snapshot")
		}
		counts[i] = int64(v)
	}
	return &hdrhistogram.Snapshot{
		LowestTrackableValue:  lowest,
		HighestTrackableValue: highest,
		SignificantFigures:    sigFigs,
		Counts:                counts,
	}, nil
}
