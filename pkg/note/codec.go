package note

import (
	"math"

	"github.com/gogo/protobuf/proto"

	"github.com/G-Research/maestro/pkg/peer"
)

// encoder appends fields to a buffer. The first error sticks and later writes are no-ops.
type encoder struct {
	buf *proto.Buffer
	err error
}

func (e *encoder) int64(v int64) {
	if e.err == nil {
		e.err = e.buf.EncodeZigzag64(uint64(v))
	}
}

func (e *encoder) float64(v float64) {
	if e.err == nil {
		e.err = e.buf.EncodeFixed64(math.Float64bits(v))
	}
}

func (e *encoder) string(v string) {
	if e.err == nil {
		e.err = e.buf.EncodeStringBytes(v)
	}
}

func (e *encoder) bytes(v []byte) {
	if e.err == nil {
		e.err = e.buf.EncodeRawBytes(v)
	}
}

func (e *encoder) peer(info peer.Info) {
	e.string(info.Id)
	e.int64(int64(info.Role.Code()))
	e.string(info.Host)
	e.string(info.Group)
}

// decoder reads fields in the order they were encoded. The first error sticks.
type decoder struct {
	buf *proto.Buffer
	err error
}

func (d *decoder) int64() int64 {
	if d.err != nil {
		return 0
	}
	v, err := d.buf.DecodeZigzag64()
	d.err = err
	return int64(v)
}

func (d *decoder) float64() float64 {
	if d.err != nil {
		return 0
	}
	v, err := d.buf.DecodeFixed64()
	d.err = err
	return math.Float64frombits(v)
}

func (d *decoder) string() string {
	if d.err != nil {
		return ""
	}
	v, err := d.buf.DecodeStringBytes()
	d.err = err
	return v
}

func (d *decoder) bytes() []byte {
	if d.err != nil {
		return nil
	}
	v, err := d.buf.DecodeRawBytes(true)
	d.err = err
	if len(v) == 0 {
		return nil
	}
	return v
}

func (d *decoder) peer() peer.Info {
	info := peer.Info{Id: d.string()}
	code := d.int64()
	info.Host = d.string()
	info.Group = d.string()
	if d.err != nil {
		return info
	}
	role, err := peer.RoleFromCode(int32(code))
	if err != nil {
		d.err = err
		return info
	}
	info.Role = role
	return info
}
