package node

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the in-memory NodeId -> Node map (spec §4.3). Mutation of
// individual nodes is guarded by each Node's own lock; the Registry's lock
// only protects the map structure itself (add/remove).
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*Node)}
}

// Register adds or replaces a node by ID.
func (r *Registry) Register(n *Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[n.ID()] = n
}

// Unregister removes a node permanently (spec §3: "removed when marked
// permanently unreachable").
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, id)
}

// Get returns the live Node for further mutation (Health Monitor only).
func (r *Registry) Get(id string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

// GetOrRegisterByAddress collapses duplicates by (host, port) as required
// by spec §4.2's discovery-merge rule: if a node with the same host:port
// already exists, it is returned instead of creating a duplicate.
func (r *Registry) GetOrRegisterByAddress(host string, port int, kind Kind) *Node {
	id := fmt.Sprintf("%s:%d", host, port)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.nodes[id]; ok {
		return existing
	}
	n := New(id, host, port, kind)
	r.nodes[id] = n
	return n
}

// All returns every registered Node (for the Health Monitor's probe loop).
func (r *Registry) All() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// Snapshot returns a copy-on-read view of every node, sorted by ID for
// deterministic iteration (the Router's tie-break relies on this order).
func (r *Registry) Snapshot() []Snapshot {
	nodes := r.All()
	out := make([]Snapshot, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}
