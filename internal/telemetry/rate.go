package telemetry

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/G-Research/maestro/pkg/peer"
)

// EntryLen is the size of an encoded RateEntry.
const EntryLen = 4 + 8 + 8

// Metadata flags of a rate entry.
const (
	MetadataNone int32 = 0
	// MetadataMissed marks an entry written after samples were dropped in the interval.
	MetadataMissed int32 = 1 << 0
)

// RateEntry is the cumulative message count of a log at the start of an interval.
type RateEntry struct {
	Metadata int32
	Count    int64
	// Epoch microseconds.
	Timestamp int64
}

func (e RateEntry) put(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(e.Metadata))
	binary.BigEndian.PutUint64(buf[4:12], uint64(e.Count))
	binary.BigEndian.PutUint64(buf[12:20], uint64(e.Timestamp))
}

func entryFrom(buf []byte) RateEntry {
	return RateEntry{
		Metadata:  int32(binary.BigEndian.Uint32(buf[0:4])),
		Count:     int64(binary.BigEndian.Uint64(buf[4:12])),
		Timestamp: int64(binary.BigEndian.Uint64(buf[12:20])),
	}
}

type RateWriter struct {
	w      *bufio.Writer
	closer io.Closer
	buf    [EntryLen]byte
}

// NewRateWriter writes the header of a rate log for the given role.
func NewRateWriter(w io.Writer, role peer.Role) (*RateWriter, error) {
	bw := bufio.NewWriter(w)
	if err := writeHeader(bw, NewFileHeader(RateFormat, role)); err != nil {
		return nil, err
	}
	rw := &RateWriter{w: bw}
	if c, ok := w.(io.Closer); ok {
		rw.closer = c
	}
	return rw, nil
}

func CreateRateFile(path string, role peer.Role) (*RateWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	w, err := NewRateWriter(f, role)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func (w *RateWriter) Write(e RateEntry) error {
	e.put(w.buf[:])
	_, err := w.w.Write(w.buf[:])
	return errors.WithStack(err)
}

func (w *RateWriter) Flush() error {
	return errors.WithStack(w.w.Flush())
}

// Close flushes buffered entries and closes the underlying writer, if it is a Closer.
func (w *RateWriter) Close() error {
	err := w.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = errors.WithStack(cerr)
		}
	}
	return err
}

// RateReader decodes the entries of a rate log in order.
type RateReader struct {
	r      *bufio.Reader
	header FileHeader
	buf    [EntryLen]byte
}

func NewRateReader(r io.Reader) (*RateReader, error) {
	br := bufio.NewReader(r)
	h, err := readHeader(br, RateFormat)
	if err != nil {
		return nil, err
	}
	return &RateReader{r: br, header: h}, nil
}

func (r *RateReader) Header() FileHeader {
	return r.header
}

// Next returns the next entry, or io.EOF once the stream is exhausted.
// A trailing partial entry yields io.ErrUnexpectedEOF.
func (r *RateReader) Next() (RateEntry, error) {
	if _, err := io.ReadFull(r.r, r.buf[:]); err != nil {
		if err == io.EOF {
			return RateEntry{}, io.EOF
		}
		return RateEntry{}, errors.WithStack(err)
	}
	return entryFrom(r.buf[:]), nil
}

// ReadRateFile reads every entry of the rate log at path.
func ReadRateFile(path string) (FileHeader, []RateEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileHeader{}, nil, errors.WithStack(err)
	}
	defer f.Close()
	r, err := NewRateReader(f)
	if err != nil {
		return FileHeader{}, nil, errors.WithMessagef(err, "failed to read %s", path)
	}
	var entries []RateEntry
	for {
		e, err := r.Next()
		if err == io.EOF {
			return r.Header(), entries, nil
		}
		if err != nil {
			return r.Header(), entries, errors.WithMessagef(err, "failed to read %s", path)
		}
		entries = append(entries, e)
	}
}
