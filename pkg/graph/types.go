package graph

// NodeType represents the role of an asset in a lineage graph.
type NodeType string

const (
	NodeRoot  NodeType = "root"
	NodeAsset NodeType = "asset"
)

// EdgeType represents the semantic relationship between two nodes.
type EdgeType string

const (
	EdgeFeeds EdgeType = "feeds" // data flows From -> To
	EdgeLoop  EdgeType = "loop"  // a feeds edge that closes a cycle
)

// Node represents a cataloged asset in the lineage graph.
type Node struct {
	ID         string            `json:"id"`
	Type       NodeType          `json:"type"`
	Label      string            `json:"label"`
	Depth      int               `json:"depth"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Edge represents a directed lineage connection between two nodes.
type Edge struct {
	FromID string   `json:"from_id"`
	ToID   string   `json:"to_id"`
	Type   EdgeType `json:"type"`
}

// Graph is a lineage snapshot.
type Graph struct {
	Root  string           `json:"root"`
	Nodes map[string]*Node `json:"nodes"`
	Edges []*Edge          `json:"edges"`
}

// NewGraph creates an empty lineage graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes: make(map[string]*Node),
		Edges: make([]*Edge, 0),
	}
}

// AddNode adds a node to the graph. An existing node keeps its type and
// the smallest depth seen.
func (g *Graph) AddNode(n *Node) {
	if old, ok := g.Nodes[n.ID]; ok {
		if n.Depth < old.Depth {
			old.Depth = n.Depth
		}
		if old.Label == "" {
			old.Label = n.Label
		}
		return
	}
	g.Nodes[n.ID] = n
}

// AddEdge adds an edge to the graph.
func (g *Graph) AddEdge(e *Edge) {
	g.Edges = append(g.Edges, e)
}
