package fleet

import (
	"fmt"
	"sync"
	"time"
)

// Registry is the authoritative, insertion-ordered set of configured nodes.
// All mutation flows through its methods; callers get copies, never interior
// pointers, so GUI reads can never observe torn updates.
type Registry struct {
	mu    sync.RWMutex
	nodes []Node
	index map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Load replaces the registry contents with persisted nodes, preserving their
// order and cached status.
func (r *Registry) Load(nodes []Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = make([]Node, len(nodes))
	copy(r.nodes, nodes)
	r.index = make(map[string]int, len(nodes))
	for i, n := range nodes {
		r.index[n.Name] = i
	}
}

// Add appends a new node. The name must be unique.
func (r *Registry) Add(name, host string, port int) error {
	if name == "" || host == "" {
		return fmt.Errorf("node name and host are required")
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.index[name]; exists {
		return fmt.Errorf("node %q already exists", name)
	}
	r.nodes = append(r.nodes, Node{
		Name:         name,
		Host:         host,
		Port:         port,
		Reachability: ReachabilityUnknown,
	})
	r.index[name] = len(r.nodes) - 1
	return nil
}

// Update edits a node's identity fields, preserving its status and position.
func (r *Registry) Update(name, host string, port int) error {
	if host == "" {
		return fmt.Errorf("node host is required")
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	i, exists := r.index[name]
	if !exists {
		return fmt.Errorf("node %q not found", name)
	}
	r.nodes[i].Host = host
	r.nodes[i].Port = port
	return nil
}

// Remove deletes a node by name.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, exists := r.index[name]
	if !exists {
		return fmt.Errorf("node %q not found", name)
	}
	r.nodes = append(r.nodes[:i], r.nodes[i+1:]...)
	delete(r.index, name)
	for j := i; j < len(r.nodes); j++ {
		r.index[r.nodes[j].Name] = j
	}
	return nil
}

// Get returns a copy of the named node.
func (r *Registry) Get(name string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, exists := r.index[name]
	if !exists {
		return Node{}, false
	}
	return r.nodes[i], true
}

// List returns a snapshot of all nodes in insertion order.
func (r *Registry) List() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Len returns the number of configured nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// ApplyDispatchResult folds one dispatch result into the named node's status
// fields. Results for nodes removed mid-round are dropped silently.
func (r *Registry) ApplyDispatchResult(command string, result DispatchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, exists := r.index[result.Node]
	if !exists {
		return
	}

	node := &r.nodes[i]
	node.Reachability = reachabilityFor(result.Outcome)
	node.LastRequest = command
	node.LastUpdated = time.Now()

	if result.Outcome == OutcomeResponded && result.Response != nil {
		node.IsPlaying = result.Response.IsPlaying
		node.CurrentFile = result.Response.CurrentFile
	} else {
		node.IsPlaying = false
		node.CurrentFile = ""
	}
}
