package sim

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/nofree-network/nofree/internal/domain"
)

// ─── Topology ───────────────────────────────────────────────────────────────

// Topology kinds.
const (
	TopologyFull   = "full"
	TopologyRing   = "ring"
	TopologyStar   = "star"
	TopologyRandom = "random"
	TopologyEdges  = "edges"
)

// Topology describes the overlay graph. Links are bidirectional: every edge
// becomes one directed link in each direction.
type Topology struct {
	Kind   string   `toml:"kind" json:"kind"`
	Nodes  int      `toml:"nodes" json:"nodes"`
	Degree int      `toml:"degree,omitempty" json:"degree,omitempty"` // random only
	Edges  [][2]int `toml:"edges,omitempty" json:"edges,omitempty"`   // edges only
}

// String renders the topology for reports, e.g. "random(10,d=4)".
func (t Topology) String() string {
	switch t.Kind {
	case TopologyRandom:
		return fmt.Sprintf("%s(%d,d=%d)", t.Kind, t.Nodes, t.Degree)
	case TopologyEdges:
		return fmt.Sprintf("%s(%d,e=%d)", t.Kind, t.Nodes, len(t.Edges))
	default:
		return fmt.Sprintf("%s(%d)", t.Kind, t.Nodes)
	}
}

// Validate checks the description without building it.
func (t Topology) Validate() error {
	if t.Nodes < 1 {
		return fmt.Errorf("%w: topology needs at least one node", domain.ErrInvalidConfig)
	}
	switch t.Kind {
	case TopologyFull, TopologyRing, TopologyStar:
	case TopologyRandom:
		if t.Degree < 1 {
			return fmt.Errorf("%w: random topology needs degree >= 1", domain.ErrInvalidConfig)
		}
	case TopologyEdges:
		for _, e := range t.Edges {
			if e[0] < 0 || e[0] >= t.Nodes || e[1] < 0 || e[1] >= t.Nodes {
				return fmt.Errorf("%w: edge %v out of range", domain.ErrInvalidConfig, e)
			}
			if e[0] == e[1] {
				return fmt.Errorf("%w: self loop on %d", domain.ErrInvalidConfig, e[0])
			}
		}
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownTopology, t.Kind)
	}
	return nil
}

// Build returns the undirected edge set, each edge as (low, high), sorted.
// Random topologies draw from r.
func (t Topology) Build(r *rand.Rand) ([][2]int, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	set := make(map[[2]int]struct{})
	add := func(a, b int) bool {
		if a == b {
			return false
		}
		if a > b {
			a, b = b, a
		}
		if _, ok := set[[2]int{a, b}]; ok {
			return false
		}
		set[[2]int{a, b}] = struct{}{}
		return true
	}

	n := t.Nodes
	switch t.Kind {
	case TopologyFull:
		for a := 0; a < n; a++ {
			for b := a + 1; b < n; b++ {
				add(a, b)
			}
		}
	case TopologyRing:
		for a := 0; a < n; a++ {
			add(a, (a+1)%n)
		}
	case TopologyStar:
		for b := 1; b < n; b++ {
			add(0, b)
		}
	case TopologyRandom:
		// A ring keeps the graph connected; random chords top up the degree.
		for a := 0; a < n; a++ {
			add(a, (a+1)%n)
		}
		want := n * min(t.Degree, n-1) / 2
		for tries := 0; len(set) < want && tries < want*20; tries++ {
			add(r.IntN(n), r.IntN(n))
		}
	case TopologyEdges:
		for _, e := range t.Edges {
			add(e[0], e[1])
		}
	}

	edges := make([][2]int, 0, len(set))
	for e := range set {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges, nil
}
