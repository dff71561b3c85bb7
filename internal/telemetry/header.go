// Package telemetry implements the binary logs written by workers: a fixed-width rate log holding
// cumulative message counts per second, and a latency log holding interval histogram snapshots.
package telemetry

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/G-Research/maestro/pkg/peer"
)

const (
	formatNameLen = 8
	// HeaderLen is a multiple of EntryLen so that readers can skip ahead in entry strides.
	HeaderLen = formatNameLen + 4 + 4 + 4

	RateFormat    = "rate"
	LatencyFormat = "latency"

	FileVersion int32 = 1
	// ProducerVersion identifies the version of the code writing a file.
	ProducerVersion int32 = 1

	RateFileExt    = ".rate"
	LatencyFileExt = ".hdr"
)

type FileHeader struct {
	FormatName      string
	FileVersion     int32
	ProducerVersion int32
	Role            peer.Role
}

func NewFileHeader(format string, role peer.Role) FileHeader {
	return FileHeader{
		FormatName:      format,
		FileVersion:     FileVersion,
		ProducerVersion: ProducerVersion,
		Role:            role,
	}
}

func (h FileHeader) MarshalBinary() ([]byte, error) {
	if len(h.FormatName) > formatNameLen {
		return nil, errors.Errorf("format name %q is longer than %d bytes", h.FormatName, formatNameLen)
	}
	buf := make([]byte, HeaderLen)
	copy(buf, strings.Repeat(" ", formatNameLen-len(h.FormatName))+h.FormatName)
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.FileVersion))
	binary.BigEndian.PutUint32(buf[12:16], uint32(h.ProducerVersion))
	binary.BigEndian.PutUint32(buf[16:20], uint32(h.Role.Code()))
	return buf, nil
}

func (h *FileHeader) UnmarshalBinary(buf []byte) error {
	if len(buf) < HeaderLen {
		return errors.Errorf("header of %d bytes is shorter than %d bytes", len(buf), HeaderLen)
	}
	role, err := peer.RoleFromCode(int32(binary.BigEndian.Uint32(buf[16:20])))
	if err != nil {
		return err
	}
	h.FormatName = strings.TrimLeft(string(buf[:formatNameLen]), " ")
	h.FileVersion = int32(binary.BigEndian.Uint32(buf[8:12]))
	h.ProducerVersion = int32(binary.BigEndian.Uint32(buf[12:16]))
	h.Role = role
	return nil
}

func writeHeader(w io.Writer, h FileHeader) error {
	buf, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return errors.WithStack(err)
}

// readHeader reads a header and checks that it describes a file of the expected format.
func readHeader(r io.Reader, format string) (FileHeader, error) {
	buf := make([]byte, HeaderLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return FileHeader{}, errors.Wrap(err, "failed to read file header")
	}
	var h FileHeader
	if err := h.UnmarshalBinary(buf); err != nil {
		return FileHeader{}, err
	}
	if h.FormatName != format {
		return FileHeader{}, errors.Errorf("expected a %s file but found format %q", format, h.FormatName)
	}
	if h.FileVersion > FileVersion {
		return FileHeader{}, errors.Errorf("unsupported %s file version %d", format, h.FileVersion)
	}
	return h, nil
}
