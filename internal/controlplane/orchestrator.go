package controlplane

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/maestro/pkg/note"
	"github.com/G-Research/maestro/pkg/peer"
)

// DefaultDiscoveryWindow is how long Discover waits for ping responses.
const DefaultDiscoveryWindow = 5 * time.Second

// Orchestrator is the orchestrator's endpoint on the control plane. Every response and
// notification delivered to it is appended to a queue that the test runner drains.
type Orchestrator struct {
	client *Client

	mu        sync.Mutex
	collected []note.Reply
}

func NewOrchestrator(client *Client) *Orchestrator {
	o := &Orchestrator{client: client}
	client.Bus().AddCallback(func(n note.Note) bool {
		if reply, ok := n.(note.Reply); ok {
			o.mu.Lock()
			o.collected = append(o.collected, reply)
			o.mu.Unlock()
		}
		return true
	})
	return o
}

func (o *Orchestrator) Subscribe() error {
	return o.client.Subscribe(TopicOrchestrator)
}

func (o *Orchestrator) Client() *Client {
	return o.client
}

func (o *Orchestrator) ClearCollected() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.collected = nil
}

// CollectPending drains the queue.
func (o *Orchestrator) CollectPending() []note.Reply {
	o.mu.Lock()
	defer o.mu.Unlock()
	collected := o.collected
	o.collected = nil
	return collected
}

// Collect waits for window and then drains the notes accepted by filter. Other notes stay queued.
func (o *Orchestrator) Collect(ctx context.Context, window time.Duration, filter func(note.Reply) bool) ([]note.Reply, error) {
	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	case <-timer.C:
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	var accepted, rest []note.Reply
	for _, reply := range o.collected {
		if filter(reply) {
			accepted = append(accepted, reply)
		} else {
			rest = append(rest, reply)
		}
	}
	o.collected = rest
	return accepted, nil
}

// Discover pings every peer and returns those that answered within window. Discovery is best
// effort: a peer answering late is simply not part of the set.
func (o *Orchestrator) Discover(ctx context.Context, window time.Duration) (*peer.Set, error) {
	o.ClearCollected()
	if err := o.client.Publish(TopicDiscovery, note.NewPing(time.Now())); err != nil {
		return nil, err
	}
	replies, err := o.Collect(ctx, window, func(reply note.Reply) bool {
		_, ok := reply.(*note.PingResponse)
		return ok
	})
	if err != nil {
		return nil, err
	}
	infos := make([]peer.Info, 0, len(replies))
	for _, reply := range replies {
		response := reply.(*note.PingResponse)
		log.WithFields(log.Fields{
			"peer":    response.Peer.PrettyName(),
			"elapsed": response.Elapsed,
		}).Info("discovered peer")
		infos = append(infos, response.Peer)
	}
	return peer.NewSet(infos...), nil
}

// Broadcast publishes n to every peer.
func (o *Orchestrator) Broadcast(n note.Note) error {
	return o.client.Publish(TopicPeers, n)
}

func (o *Orchestrator) SendToRole(role peer.Role, n note.Note) error {
	return o.client.Publish(RoleTopic(role), n)
}

func (o *Orchestrator) SendTo(id string, n note.Note) error {
	return o.client.Publish(PeerTopic(id), n)
}

func (o *Orchestrator) SetBroker(url string) error {
	return o.Broadcast(note.SetBroker(url))
}

func (o *Orchestrator) SetRate(rate int) error {
	return o.Broadcast(note.SetRate(strconv.Itoa(rate)))
}

func (o *Orchestrator) SetDuration(duration string) error {
	return o.Broadcast(note.SetDuration(duration))
}

func (o *Orchestrator) SetParallelCount(count int) error {
	return o.Broadcast(note.SetParallelCount(strconv.Itoa(count)))
}

func (o *Orchestrator) SetMessageSize(size string) error {
	return o.Broadcast(note.SetMessageSize(size))
}

func (o *Orchestrator) SetFCL(fcl int) error {
	return o.Broadcast(note.SetFCL(strconv.Itoa(fcl)))
}

func (o *Orchestrator) SetManagementInterface(url string) error {
	return o.Broadcast(note.SetManagementInterface(url))
}

func (o *Orchestrator) SetLogLevel(level string) error {
	return o.Broadcast(note.SetLogLevel(level))
}

func (o *Orchestrator) StartSender() error    { return o.SendToRole(peer.Sender, note.StartSender()) }
func (o *Orchestrator) StopSender() error     { return o.SendToRole(peer.Sender, note.StopSender()) }
func (o *Orchestrator) StartReceiver() error  { return o.SendToRole(peer.Receiver, note.StartReceiver()) }
func (o *Orchestrator) StopReceiver() error   { return o.SendToRole(peer.Receiver, note.StopReceiver()) }
func (o *Orchestrator) StartInspector() error { return o.SendToRole(peer.Inspector, note.StartInspector()) }
func (o *Orchestrator) StopInspector() error  { return o.SendToRole(peer.Inspector, note.StopInspector()) }
func (o *Orchestrator) StartAgent() error     { return o.SendToRole(peer.Agent, note.StartAgent()) }
func (o *Orchestrator) StopAgent() error      { return o.SendToRole(peer.Agent, note.StopAgent()) }

// StatsRequest asks the load workers for a snapshot.
func (o *Orchestrator) StatsRequest() error {
	if err := o.SendToRole(peer.Sender, note.StatsRequest()); err != nil {
		return err
	}
	return o.SendToRole(peer.Receiver, note.StatsRequest())
}

func (o *Orchestrator) LogRequest(id string, location note.LocationType, typeName string) error {
	return o.SendTo(id, &note.LogRequest{Location: location, TypeName: typeName})
}

func (o *Orchestrator) RoleAssign(id string, role peer.Role) error {
	return o.SendTo(id, &note.RoleAssign{Role: role})
}

func (o *Orchestrator) RoleUnassign(id string) error {
	return o.SendTo(id, note.RoleUnassign())
}

// Halt stops every peer daemon.
func (o *Orchestrator) Halt() error {
	return o.Broadcast(note.Halt())
}
