package cluster

import (
	"fmt"
	"sort"
	"strings"
)

// View is the cluster membership substrate this node assumes: a stable set of
// node identifiers with reachable addresses. A gossip-backed implementation
// can be plugged in; the engine only depends on this interface.
type View interface {
	// SelfID returns this node's identifier.
	SelfID() string
	// Nodes returns the member identifiers, sorted.
	Nodes() []string
	// Addr resolves a node identifier to its host:port.
	Addr(nodeID string) (string, bool)
}

// StaticView is a config-driven membership view.
type StaticView struct {
	self   string
	addrs  map[string]string
	sorted []string
}

// NewStaticView builds a view from "id=host:port" entries. The self node is
// always a member, with an empty address if not listed.
func NewStaticView(selfID string, entries []string) (*StaticView, error) {
	addrs := map[string]string{selfID: ""}
	for _, e := range entries {
		id, addr, ok := strings.Cut(e, "=")
		if !ok {
			return nil, fmt.Errorf("malformed cluster node entry %q, want id=host:port", e)
		}
		addrs[id] = addr
	}
	sorted := make([]string, 0, len(addrs))
	for id := range addrs {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	return &StaticView{self: selfID, addrs: addrs, sorted: sorted}, nil
}

func (v *StaticView) SelfID() string { return v.self }

func (v *StaticView) Nodes() []string {
	out := make([]string, len(v.sorted))
	copy(out, v.sorted)
	return out
}

func (v *StaticView) Addr(nodeID string) (string, bool) {
	addr, ok := v.addrs[nodeID]
	return addr, ok
}
