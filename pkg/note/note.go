// Package note defines the messages exchanged between the orchestrator and its peers,
// together with their binary envelope: [type:int16][command:int64][fields].
package note

import (
	"encoding/binary"
	"fmt"

	"github.com/gogo/protobuf/proto"
	"github.com/pkg/errors"

	"github.com/G-Research/maestro/internal/common/maestroerrors"
	"github.com/G-Research/maestro/pkg/peer"
)

// Type is the first tag of the envelope.
type Type int16

const (
	Request      Type = 0
	Response     Type = 1
	Notification Type = 2
)

func (t Type) String() string {
	switch t {
	case Request:
		return "request"
	case Response:
		return "response"
	case Notification:
		return "notification"
	default:
		return fmt.Sprintf("type(%d)", int16(t))
	}
}

// Command is the second tag of the envelope.
// Values are part of the wire format: append new commands, never renumber.
type Command int64

const (
	CmdPing Command = iota + 1
	CmdStartSender
	CmdStopSender
	CmdStartReceiver
	CmdStopReceiver
	CmdStartInspector
	CmdStopInspector
	CmdStartAgent
	CmdStopAgent
	CmdSetBroker
	CmdSetRate
	CmdSetDuration
	CmdSetParallelCount
	CmdSetMessageSize
	CmdSetFCL
	CmdSetManagementInterface
	CmdSetLogLevel
	CmdStats
	CmdLog
	CmdRoleAssign
	CmdRoleUnassign
	CmdHalt
	CmdOk
	CmdInternalError
	CmdTestSuccessful
	CmdTestFailed
)

var commandNames = map[Command]string{
	CmdPing:                   "ping",
	CmdStartSender:            "start-sender",
	CmdStopSender:             "stop-sender",
	CmdStartReceiver:          "start-receiver",
	CmdStopReceiver:           "stop-receiver",
	CmdStartInspector:         "start-inspector",
	CmdStopInspector:          "stop-inspector",
	CmdStartAgent:             "start-agent",
	CmdStopAgent:              "stop-agent",
	CmdSetBroker:              "set-broker",
	CmdSetRate:                "set-rate",
	CmdSetDuration:            "set-duration",
	CmdSetParallelCount:       "set-parallel-count",
	CmdSetMessageSize:         "set-message-size",
	CmdSetFCL:                 "set-fcl",
	CmdSetManagementInterface: "set-management-interface",
	CmdSetLogLevel:            "set-log-level",
	CmdStats:                  "stats",
	CmdLog:                    "log",
	CmdRoleAssign:             "role-assign",
	CmdRoleUnassign:           "role-unassign",
	CmdHalt:                   "halt",
	CmdOk:                     "ok",
	CmdInternalError:          "internal-error",
	CmdTestSuccessful:         "test-successful",
	CmdTestFailed:             "test-failed",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", int64(c))
}

// Note is a single protocol message. Notes are immutable once constructed.
type Note interface {
	Type() Type
	Command() Command
	encode(e *encoder)
	decode(d *decoder)
}

// Reply is a note sent by a peer, i.e. a response or a notification.
type Reply interface {
	Note
	Origin() peer.Info
}

const headerLen = 2 + 8

// Encode serializes a note into its binary envelope.
func Encode(n Note) ([]byte, error) {
	header := make([]byte, headerLen, headerLen+64)
	binary.BigEndian.PutUint16(header[0:2], uint16(n.Type()))
	binary.BigEndian.PutUint64(header[2:10], uint64(n.Command()))
	e := &encoder{buf: proto.NewBuffer(header)}
	n.encode(e)
	if e.err != nil {
		return nil, errors.WithMessagef(e.err, "failed to encode %s %s", n.Type(), n.Command())
	}
	return e.buf.Bytes(), nil
}

// Decode constructs the concrete note held by a binary envelope.
func Decode(data []byte) (Note, error) {
	if len(data) < headerLen {
		return nil, errors.WithStack(&maestroerrors.ErrMalformedNote{
			Type:    -1,
			Command: -1,
			Message: fmt.Sprintf("envelope of %d bytes is shorter than the %d byte header", len(data), headerLen),
		})
	}
	t := Type(int16(binary.BigEndian.Uint16(data[0:2])))
	c := Command(int64(binary.BigEndian.Uint64(data[2:10])))
	n := newNote(t, c)
	if n == nil {
		return nil, errors.WithStack(&maestroerrors.ErrMalformedNote{
			Type:    int16(t),
			Command: int64(c),
			Message: "unknown type and command combination",
		})
	}
	d := &decoder{buf: proto.NewBuffer(data[headerLen:])}
	n.decode(d)
	if d.err != nil {
		return nil, errors.WithStack(&maestroerrors.ErrMalformedNote{
			Type:    int16(t),
			Command: int64(c),
			Message: d.err.Error(),
		})
	}
	return n, nil
}

// newNote returns an empty note of the variant identified by the envelope tags, or nil.
func newNote(t Type, c Command) Note {
	switch t {
	case Request:
		switch c {
		case CmdPing:
			return &Ping{}
		case CmdStartSender, CmdStopSender, CmdStartReceiver, CmdStopReceiver,
			CmdStartInspector, CmdStopInspector, CmdStartAgent, CmdStopAgent,
			CmdStats, CmdRoleUnassign, CmdHalt:
			return &Control{Action: c}
		case CmdSetBroker, CmdSetRate, CmdSetDuration, CmdSetParallelCount, CmdSetMessageSize,
			CmdSetFCL, CmdSetManagementInterface, CmdSetLogLevel:
			return &SetParameter{Parameter: c}
		case CmdLog:
			return &LogRequest{}
		case CmdRoleAssign:
			return &RoleAssign{}
		}
	case Response:
		switch c {
		case CmdPing:
			return &PingResponse{}
		case CmdOk:
			return &OkResponse{}
		case CmdStats:
			return &StatsResponse{}
		case CmdLog:
			return &LogResponse{}
		case CmdInternalError:
			return &InternalError{}
		}
	case Notification:
		switch c {
		case CmdTestSuccessful:
			return &TestSuccessful{}
		case CmdTestFailed:
			return &TestFailed{}
		}
	}
	return nil
}
