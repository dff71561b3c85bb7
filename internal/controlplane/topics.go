package controlplane

import (
	"github.com/G-Research/maestro/pkg/peer"
)

const (
	// TopicOrchestrator receives every response and notification.
	TopicOrchestrator = "maestro.orchestrator"
	// TopicPeers is received by every peer.
	TopicPeers = "maestro.peers"
	// TopicDiscovery carries discovery pings.
	TopicDiscovery = "maestro.discovery"

	rolePrefix = "maestro.peers."
	idPrefix   = "maestro.peers.id."
)

// RoleTopic is received by every peer having the role.
func RoleTopic(role peer.Role) string {
	return rolePrefix + role.Topic()
}

// PeerTopic is received by one peer only.
func PeerTopic(id string) string {
	return idPrefix + id
}

// PeerTopics is the fixed set of topics a peer subscribes to. Peers listen on every role topic
// so that a role can be reassigned between tests without resubscribing.
func PeerTopics(info peer.Info) []string {
	topics := []string{TopicPeers, TopicDiscovery, PeerTopic(info.Id)}
	for _, role := range peer.AllRoles {
		topics = append(topics, RoleTopic(role))
	}
	return topics
}
