// Package subgraph implements the computation fragment that travels through
// the swarm: a small ordered graph of logical nodes, a compatibility strength
// and a symmetric set of links to other fragments.
//
// A Subgraph is not safe for concurrent use. Inside the engine every live
// subgraph has exactly one owner (a tornado or the swarm's loose pool) and is
// only touched under the swarm lock; callers outside the engine receive clones.
package subgraph

import (
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"
	"github.com/sanonone/wingbeat/pkg/core/types"
)

// DefaultCompatibility is the strength delta under which two subgraphs are
// considered compatible.
const DefaultCompatibility = 0.3

// Node is a logical step of the fragment (a layer op, a word of a prompt...).
type Node struct {
	Label string          `json:"label"`
	Kind  types.LayerKind `json:"kind"`
	Ref   types.NodeRef   `json:"ref"`
}

// Edge connects two nodes by index.
type Edge struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Subgraph is a retained computation fragment.
type Subgraph struct {
	ID       string
	Nodes    []Node
	Edges    []Edge
	Strength float64
	// Parents lists the subgraphs this one was produced from (split parent or merge operands).
	Parents []string

	links     map[string]struct{}
	age       int
	retired   bool
	finalized bool
}

// New validates the edge set and returns a fresh subgraph with a new id.
func New(nodes []Node, edges []Edge, strength float64) (*Subgraph, error) {
	for i, e := range edges {
		if e.From < 0 || e.From >= len(nodes) || e.To < 0 || e.To >= len(nodes) {
			return nil, fmt.Errorf("%w: edge %d (%d -> %d) with %d nodes", ErrInvalidGraph, i, e.From, e.To, len(nodes))
		}
	}
	return &Subgraph{
		ID:       uuid.New().String(),
		Nodes:    slices.Clone(nodes),
		Edges:    slices.Clone(edges),
		Strength: strength,
		links:    make(map[string]struct{}),
	}, nil
}

// Chain builds a subgraph whose nodes are linked one after the other.
func Chain(nodes []Node, strength float64) *Subgraph {
	edges := make([]Edge, 0, len(nodes))
	for i := 1; i < len(nodes); i++ {
		edges = append(edges, Edge{From: i - 1, To: i})
	}
	sg, _ := New(nodes, edges, strength) // chain edges are always in range
	return sg
}

// Len returns the number of nodes.
func (s *Subgraph) Len() int { return len(s.Nodes) }

// Age is the number of swarm steps the subgraph spent inside a tornado.
func (s *Subgraph) Age() int { return s.age }

// Tick advances the age by one step.
func (s *Subgraph) Tick() { s.age++ }

// Retired reports whether the subgraph was split or merged away.
func (s *Subgraph) Retired() bool { return s.retired }

// Finalized reports whether the subgraph reached its terminal state.
func (s *Subgraph) Finalized() bool { return s.finalized }

// Finalize marks the subgraph as terminal. It will not interact any more.
func (s *Subgraph) Finalize() { s.finalized = true }

// Connections returns the ids of linked subgraphs, sorted.
func (s *Subgraph) Connections() []string {
	out := make([]string, 0, len(s.links))
	for id := range s.links {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// ConnectedTo reports whether id is in the connection set.
func (s *Subgraph) ConnectedTo(id string) bool {
	_, ok := s.links[id]
	return ok
}

// IsCompatible reports whether the two strengths are closer than threshold.
// The result only depends on the two strengths, so it is symmetric.
func (s *Subgraph) IsCompatible(other *Subgraph, threshold float64) bool {
	return math.Abs(s.Strength-other.Strength) < threshold
}

// Connect records a symmetric link between s and other. Connecting twice has no effect.
func (s *Subgraph) Connect(other *Subgraph) error {
	_, err := s.Link(other)
	return err
}

// Link is Connect that also reports whether a new link was recorded.
func (s *Subgraph) Link(other *Subgraph) (bool, error) {
	if s.ID == other.ID {
		return false, ErrSelfLink
	}
	if s.retired || other.retired {
		return false, ErrRetired
	}
	if s.ConnectedTo(other.ID) {
		return false, nil
	}
	s.ensureLinks()
	other.ensureLinks()
	s.links[other.ID] = struct{}{}
	other.links[s.ID] = struct{}{}
	return true, nil
}

// Unlink removes id from the connection set. Only one side is touched; the
// swarm calls it on each neighbour of a retired subgraph.
func (s *Subgraph) Unlink(id string) {
	delete(s.links, id)
}

// ReplaceLink re-points a link from oldID to newID, keeping the set symmetric
// when the peer was merged into a new subgraph.
func (s *Subgraph) ReplaceLink(oldID, newID string) {
	if _, ok := s.links[oldID]; !ok {
		return
	}
	delete(s.links, oldID)
	if newID != s.ID {
		s.links[newID] = struct{}{}
	}
}

// Split partitions the nodes into k contiguous blocks, in original order.
// The first n%k children get ceil(n/k) nodes and the others floor(n/k), so
// every child is non-empty. Edges crossing blocks are dropped. Child strength
// is the parent strength times decay (decay <= 0 keeps it unchanged). The
// parent is retired.
func (s *Subgraph) Split(k int, decay float64) ([]*Subgraph, error) {
	if s.retired {
		return nil, ErrRetired
	}
	n := len(s.Nodes)
	if k < 2 || n < k {
		return nil, fmt.Errorf("%w: %d parts from %d nodes", ErrSplitTooSmall, k, n)
	}
	if decay <= 0 {
		decay = 1
	}

	// 1. Block boundaries and node -> (child, local index)
	owner := make([]int, n)
	local := make([]int, n)
	bounds := make([][2]int, k)
	start := 0
	for c := 0; c < k; c++ {
		size := n / k
		if c < n%k {
			size++
		}
		bounds[c] = [2]int{start, start + size}
		for i := start; i < start+size; i++ {
			owner[i] = c
			local[i] = i - start
		}
		start += size
	}

	// 2. Edges that stay inside a block
	edges := make([][]Edge, k)
	for _, e := range s.Edges {
		if owner[e.From] != owner[e.To] {
			continue
		}
		c := owner[e.From]
		edges[c] = append(edges[c], Edge{From: local[e.From], To: local[e.To]})
	}

	// 3. Children
	children := make([]*Subgraph, 0, k)
	for c := 0; c < k; c++ {
		child := &Subgraph{
			ID:       uuid.New().String(),
			Nodes:    slices.Clone(s.Nodes[bounds[c][0]:bounds[c][1]]),
			Edges:    edges[c],
			Strength: s.Strength * decay,
			Parents:  []string{s.ID},
			links:    make(map[string]struct{}),
		}
		children = append(children, child)
	}

	s.retired = true
	return children, nil
}

// Merge combines s and other into a new subgraph. Nodes are concatenated
// (other's edges are offset by len(s.Nodes)), strength is the mean of both
// and the connection set is the union of both minus the operands themselves.
// Both operands are retired.
func (s *Subgraph) Merge(other *Subgraph, threshold float64) (*Subgraph, error) {
	if s.ID == other.ID {
		return nil, ErrSelfLink
	}
	if s.retired || other.retired {
		return nil, ErrRetired
	}
	if !s.IsCompatible(other, threshold) {
		return nil, fmt.Errorf("%w: strengths %.3f and %.3f", ErrIncompatibleMerge, s.Strength, other.Strength)
	}

	offset := len(s.Nodes)
	nodes := make([]Node, 0, offset+len(other.Nodes))
	nodes = append(nodes, s.Nodes...)
	nodes = append(nodes, other.Nodes...)

	edges := make([]Edge, 0, len(s.Edges)+len(other.Edges))
	edges = append(edges, s.Edges...)
	for _, e := range other.Edges {
		edges = append(edges, Edge{From: e.From + offset, To: e.To + offset})
	}

	merged := &Subgraph{
		ID:       uuid.New().String(),
		Nodes:    nodes,
		Edges:    edges,
		Strength: (s.Strength + other.Strength) / 2,
		Parents:  []string{s.ID, other.ID},
		links:    make(map[string]struct{}, len(s.links)+len(other.links)),
	}
	for id := range s.links {
		merged.links[id] = struct{}{}
	}
	for id := range other.links {
		merged.links[id] = struct{}{}
	}
	delete(merged.links, s.ID)
	delete(merged.links, other.ID)

	s.retired = true
	other.retired = true
	return merged, nil
}

// Clone returns a deep copy, including lifecycle state.
func (s *Subgraph) Clone() *Subgraph {
	c := &Subgraph{
		ID:        s.ID,
		Nodes:     slices.Clone(s.Nodes),
		Edges:     slices.Clone(s.Edges),
		Strength:  s.Strength,
		Parents:   slices.Clone(s.Parents),
		links:     make(map[string]struct{}, len(s.links)),
		age:       s.age,
		retired:   s.retired,
		finalized: s.finalized,
	}
	for id := range s.links {
		c.links[id] = struct{}{}
	}
	return c
}

func (s *Subgraph) ensureLinks() {
	if s.links == nil {
		s.links = make(map[string]struct{})
	}
}
