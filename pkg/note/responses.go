package note

import (
	"time"

	"github.com/G-Research/maestro/pkg/peer"
)

// PingResponse answers a Ping. Elapsed is the time between the ping's timestamp and its handling.
type PingResponse struct {
	Peer    peer.Info
	Elapsed time.Duration
}

func (n *PingResponse) Type() Type        { return Response }
func (n *PingResponse) Command() Command  { return CmdPing }
func (n *PingResponse) Origin() peer.Info { return n.Peer }

func (n *PingResponse) encode(e *encoder) {
	e.peer(n.Peer)
	e.int64(int64(n.Elapsed))
}

func (n *PingResponse) decode(d *decoder) {
	n.Peer = d.peer()
	n.Elapsed = time.Duration(d.int64())
}

// OkResponse acknowledges a request.
type OkResponse struct {
	Peer    peer.Info
	Request Command
}

func (n *OkResponse) Type() Type        { return Response }
func (n *OkResponse) Command() Command  { return CmdOk }
func (n *OkResponse) Origin() peer.Info { return n.Peer }

func (n *OkResponse) encode(e *encoder) {
	e.peer(n.Peer)
	e.int64(int64(n.Request))
}

func (n *OkResponse) decode(d *decoder) {
	n.Peer = d.peer()
	n.Request = Command(d.int64())
}

// PerfStats summarises the throughput and latency of a worker pool.
type PerfStats struct {
	// Messages per second since the previous snapshot.
	Rate float64
	// Mean and maximum latency since the pool started.
	MeanLatency time.Duration
	MaxLatency  time.Duration
	// Samples dropped because a worker channel was full.
	MissedSamples int64
}

// WorkerSnapshot is the state of a worker pool at one point in time.
type WorkerSnapshot struct {
	Role peer.Role
	// Messages handled since the pool started.
	Count int64
	// Epoch milliseconds.
	StartTime int64
	Now       int64
	Eta       time.Duration
	Stats     PerfStats
}

// StatsResponse carries a WorkerSnapshot in reply to a stats request.
type StatsResponse struct {
	Peer     peer.Info
	Snapshot WorkerSnapshot
}

func (n *StatsResponse) Type() Type        { return Response }
func (n *StatsResponse) Command() Command  { return CmdStats }
func (n *StatsResponse) Origin() peer.Info { return n.Peer }

func (n *StatsResponse) encode(e *encoder) {
	e.peer(n.Peer)
	s := n.Snapshot
	e.int64(int64(s.Role.Code()))
	e.int64(s.Count)
	e.int64(s.StartTime)
	e.int64(s.Now)
	e.int64(int64(s.Eta))
	e.float64(s.Stats.Rate)
	e.int64(int64(s.Stats.MeanLatency))
	e.int64(int64(s.Stats.MaxLatency))
	e.int64(s.Stats.MissedSamples)
}

func (n *StatsResponse) decode(d *decoder) {
	n.Peer = d.peer()
	role := d.int64()
	n.Snapshot.Count = d.int64()
	n.Snapshot.StartTime = d.int64()
	n.Snapshot.Now = d.int64()
	n.Snapshot.Eta = time.Duration(d.int64())
	n.Snapshot.Stats.Rate = d.float64()
	n.Snapshot.Stats.MeanLatency = time.Duration(d.int64())
	n.Snapshot.Stats.MaxLatency = time.Duration(d.int64())
	n.Snapshot.Stats.MissedSamples = d.int64()
	if d.err != nil {
		return
	}
	r, err := peer.RoleFromCode(int32(role))
	if err != nil {
		d.err = err
		return
	}
	n.Snapshot.Role = r
}

// LogResponse carries one file of a peer's test directory.
// FileHash is the hex encoded SHA-256 of Data.
type LogResponse struct {
	Peer      peer.Info
	Location  LocationType
	FileName  string
	FileIndex int64
	FileCount int64
	FileSize  int64
	FileHash  string
	Data      []byte
}

func (n *LogResponse) Type() Type        { return Response }
func (n *LogResponse) Command() Command  { return CmdLog }
func (n *LogResponse) Origin() peer.Info { return n.Peer }

func (n *LogResponse) encode(e *encoder) {
	e.peer(n.Peer)
	e.int64(int64(n.Location))
	e.string(n.FileName)
	e.int64(n.FileIndex)
	e.int64(n.FileCount)
	e.int64(n.FileSize)
	e.string(n.FileHash)
	e.bytes(n.Data)
}

func (n *LogResponse) decode(d *decoder) {
	n.Peer = d.peer()
	n.Location = LocationType(d.int64())
	n.FileName = d.string()
	n.FileIndex = d.int64()
	n.FileCount = d.int64()
	n.FileSize = d.int64()
	n.FileHash = d.string()
	n.Data = d.bytes()
}

// InternalError reports that a peer could not handle a request.
type InternalError struct {
	Peer    peer.Info
	Request Command
	Message string
}

func (n *InternalError) Type() Type        { return Response }
func (n *InternalError) Command() Command  { return CmdInternalError }
func (n *InternalError) Origin() peer.Info { return n.Peer }

func (n *InternalError) encode(e *encoder) {
	e.peer(n.Peer)
	e.int64(int64(n.Request))
	e.string(n.Message)
}

func (n *InternalError) decode(d *decoder) {
	n.Peer = d.peer()
	n.Request = Command(d.int64())
	n.Message = d.string()
}

// TestSuccessful is sent by a worker once its duration policy is met.
type TestSuccessful struct {
	Peer    peer.Info
	Message string
}

func (n *TestSuccessful) Type() Type        { return Notification }
func (n *TestSuccessful) Command() Command  { return CmdTestSuccessful }
func (n *TestSuccessful) Origin() peer.Info { return n.Peer }

func (n *TestSuccessful) encode(e *encoder) {
	e.peer(n.Peer)
	e.string(n.Message)
}

func (n *TestSuccessful) decode(d *decoder) {
	n.Peer = d.peer()
	n.Message = d.string()
}

// TestFailed is sent by a worker that could not complete the test.
type TestFailed struct {
	Peer    peer.Info
	Message string
}

func (n *TestFailed) Type() Type        { return Notification }
func (n *TestFailed) Command() Command  { return CmdTestFailed }
func (n *TestFailed) Origin() peer.Info { return n.Peer }

func (n *TestFailed) encode(e *encoder) {
	e.peer(n.Peer)
	e.string(n.Message)
}

func (n *TestFailed) decode(d *decoder) {
	n.Peer = d.peer()
	n.Message = d.string()
}
