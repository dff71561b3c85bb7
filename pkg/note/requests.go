package note

import (
	"time"

	"github.com/G-Research/maestro/pkg/peer"
)

// Ping is broadcast during discovery. Peers answer with a PingResponse.
type Ping struct {
	Sec  int64
	Usec int64
}

func NewPing(now time.Time) *Ping {
	return &Ping{Sec: now.Unix(), Usec: int64(now.Nanosecond() / 1000)}
}

func (n *Ping) Type() Type       { return Request }
func (n *Ping) Command() Command { return CmdPing }

// Time is the orchestrator clock reading at which the ping was sent.
func (n *Ping) Time() time.Time {
	return time.Unix(n.Sec, n.Usec*1000)
}

func (n *Ping) encode(e *encoder) {
	e.int64(n.Sec)
	e.int64(n.Usec)
}

func (n *Ping) decode(d *decoder) {
	n.Sec = d.int64()
	n.Usec = d.int64()
}

// Control is a request without payload: service start/stop, stats, role release and halt.
type Control struct {
	Action Command
}

func StartSender() *Control    { return &Control{Action: CmdStartSender} }
func StopSender() *Control     { return &Control{Action: CmdStopSender} }
func StartReceiver() *Control  { return &Control{Action: CmdStartReceiver} }
func StopReceiver() *Control   { return &Control{Action: CmdStopReceiver} }
func StartInspector() *Control { return &Control{Action: CmdStartInspector} }
func StopInspector() *Control  { return &Control{Action: CmdStopInspector} }
func StartAgent() *Control     { return &Control{Action: CmdStartAgent} }
func StopAgent() *Control      { return &Control{Action: CmdStopAgent} }
func StatsRequest() *Control   { return &Control{Action: CmdStats} }
func RoleUnassign() *Control   { return &Control{Action: CmdRoleUnassign} }
func Halt() *Control           { return &Control{Action: CmdHalt} }

func (n *Control) Type() Type        { return Request }
func (n *Control) Command() Command  { return n.Action }
func (n *Control) encode(_ *encoder) {}
func (n *Control) decode(_ *decoder) {}

// StartTarget returns the role a start command is addressed to.
func (n *Control) StartTarget() (peer.Role, bool) {
	switch n.Action {
	case CmdStartSender:
		return peer.Sender, true
	case CmdStartReceiver:
		return peer.Receiver, true
	case CmdStartInspector:
		return peer.Inspector, true
	case CmdStartAgent:
		return peer.Agent, true
	}
	return peer.Other, false
}

// StopTarget returns the role a stop command is addressed to.
func (n *Control) StopTarget() (peer.Role, bool) {
	switch n.Action {
	case CmdStopSender:
		return peer.Sender, true
	case CmdStopReceiver:
		return peer.Receiver, true
	case CmdStopInspector:
		return peer.Inspector, true
	case CmdStopAgent:
		return peer.Agent, true
	}
	return peer.Other, false
}

// SetParameter sets one test parameter on the receiving peers. Values travel as strings
// and are parsed by the peer, which answers InternalError when they don't parse.
type SetParameter struct {
	Parameter Command
	Value     string
}

func SetBroker(url string) *SetParameter {
	return &SetParameter{Parameter: CmdSetBroker, Value: url}
}

func SetRate(rate string) *SetParameter {
	return &SetParameter{Parameter: CmdSetRate, Value: rate}
}

func SetDuration(duration string) *SetParameter {
	return &SetParameter{Parameter: CmdSetDuration, Value: duration}
}

func SetParallelCount(count string) *SetParameter {
	return &SetParameter{Parameter: CmdSetParallelCount, Value: count}
}

func SetMessageSize(size string) *SetParameter {
	return &SetParameter{Parameter: CmdSetMessageSize, Value: size}
}

func SetFCL(fcl string) *SetParameter {
	return &SetParameter{Parameter: CmdSetFCL, Value: fcl}
}

func SetManagementInterface(url string) *SetParameter {
	return &SetParameter{Parameter: CmdSetManagementInterface, Value: url}
}

func SetLogLevel(level string) *SetParameter {
	return &SetParameter{Parameter: CmdSetLogLevel, Value: level}
}

func (n *SetParameter) Type() Type       { return Request }
func (n *SetParameter) Command() Command { return n.Parameter }

func (n *SetParameter) encode(e *encoder) {
	e.string(n.Value)
}

func (n *SetParameter) decode(d *decoder) {
	n.Value = d.string()
}

// LocationType selects which test directory of a peer a LogRequest refers to.
type LocationType int32

const (
	LocationLast LocationType = iota
	LocationLastSuccessful
	LocationLastFailed
	LocationAny
)

func (l LocationType) String() string {
	switch l {
	case LocationLast:
		return "last"
	case LocationLastSuccessful:
		return "lastSuccessful"
	case LocationLastFailed:
		return "lastFailed"
	default:
		return "any"
	}
}

// LogRequest asks peers for the log files of a test directory.
// TypeName optionally restricts the request to files with that extension, e.g. "hdr".
type LogRequest struct {
	Location LocationType
	TypeName string
}

func (n *LogRequest) Type() Type       { return Request }
func (n *LogRequest) Command() Command { return CmdLog }

func (n *LogRequest) encode(e *encoder) {
	e.int64(int64(n.Location))
	e.string(n.TypeName)
}

func (n *LogRequest) decode(d *decoder) {
	n.Location = LocationType(d.int64())
	n.TypeName = d.string()
}

// RoleAssign gives an idle peer a role. It is only honoured between tests.
type RoleAssign struct {
	Role peer.Role
}

func (n *RoleAssign) Type() Type       { return Request }
func (n *RoleAssign) Command() Command { return CmdRoleAssign }

func (n *RoleAssign) encode(e *encoder) {
	e.int64(int64(n.Role.Code()))
}

func (n *RoleAssign) decode(d *decoder) {
	code := d.int64()
	if d.err != nil {
		return
	}
	role, err := peer.RoleFromCode(int32(code))
	if err != nil {
		d.err = err
		return
	}
	n.Role = role
}
