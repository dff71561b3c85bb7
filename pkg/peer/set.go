package peer

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Set is a snapshot of the peers found by one discovery sweep. It is rebuilt, never mutated.
type Set struct {
	peers map[string]Info
}

func NewSet(infos ...Info) *Set {
	peers := make(map[string]Info, len(infos))
	for _, info := range infos {
		peers[info.Id] = info
	}
	return &Set{peers: peers}
}

func (s *Set) Len() int {
	return len(s.peers)
}

// Count returns the number of peers having any of the given roles.
func (s *Set) Count(roles ...Role) int {
	n := 0
	for _, info := range s.peers {
		if slices.Contains(roles, info.Role) {
			n++
		}
	}
	return n
}

// Workers is the number of peers that produce or consume load.
func (s *Set) Workers() int {
	return s.Count(Sender, Receiver)
}

// Available is the number of peers without an assigned role.
func (s *Set) Available() int {
	return s.Count(Other)
}

func (s *Set) Get(id string) (Info, bool) {
	info, ok := s.peers[id]
	return info, ok
}

// Ids returns the peer ids in sorted order.
func (s *Set) Ids() []string {
	ids := maps.Keys(s.peers)
	slices.Sort(ids)
	return ids
}

// All returns the peers sorted by id.
func (s *Set) All() []Info {
	ids := s.Ids()
	infos := make([]Info, len(ids))
	for i, id := range ids {
		infos[i] = s.peers[id]
	}
	return infos
}

// WithRoles returns the peers having any of the given roles, sorted by id.
func (s *Set) WithRoles(roles ...Role) []Info {
	var infos []Info
	for _, info := range s.All() {
		if slices.Contains(roles, info.Role) {
			infos = append(infos, info)
		}
	}
	return infos
}
