package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
	"github.com/rmax-ai/catalogctl/pkg/lineage"
)

// Projection accumulates lineage walks into one graph. Walks in both
// directions from the same root can be applied to the same projection.
type Projection struct {
	mu         sync.RWMutex
	graph      *Graph
	downstream map[string][]string // id -> ids it feeds
}

// NewProjection creates an empty projection rooted at root.
func NewProjection(root catalog.Asset) *Projection {
	p := &Projection{
		graph:      NewGraph(),
		downstream: make(map[string][]string),
	}
	p.graph.Root = root.ID
	p.graph.AddNode(&Node{
		ID:         root.ID,
		Type:       NodeRoot,
		Label:      root.Name,
		Properties: assetProps(root.ClassType, root.ResourceName, root.ResourceType),
	})
	return p
}

func assetProps(classType, resourceName, resourceType string) map[string]string {
	props := make(map[string]string)
	if classType != "" {
		props["class_type"] = classType
	}
	if resourceName != "" {
		props["resource_name"] = resourceName
	}
	if resourceType != "" {
		props["resource_type"] = resourceType
	}
	return props
}

// flow orients an edge between parent and child in data-flow order.
func flow(d catalog.Direction, parent, child string) (from, to string) {
	if d == catalog.Inbound {
		return child, parent
	}
	return parent, child
}

// Apply adds one lineage record and the edge to its parent.
func (p *Projection) Apply(r lineage.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.graph.AddNode(&Node{
		ID:         r.ID,
		Type:       NodeAsset,
		Label:      r.Name,
		Depth:      r.Depth,
		Properties: assetProps(r.ClassType, r.ResourceName, r.ResourceType),
	})
	from, to := flow(r.Direction, r.Parent, r.ID)
	p.addEdgeLocked(from, to, EdgeFeeds)
}

// ApplyLoop adds the back-edge of a detected loop.
func (p *Projection) ApplyLoop(d catalog.Direction, l lineage.Loop) {
	p.mu.Lock()
	defer p.mu.Unlock()
	from, to := flow(d, l.From, l.To)
	p.addEdgeLocked(from, to, EdgeLoop)
}

// addEdgeLocked must be called with p.mu held.
func (p *Projection) addEdgeLocked(from, to string, t EdgeType) {
	if slices.Contains(p.downstream[from], to) {
		return
	}
	p.downstream[from] = append(p.downstream[from], to)
	p.graph.AddEdge(&Edge{FromID: from, ToID: to, Type: t})
}

// Consume drains a walk into the projection and returns the records it
// saw.
func (p *Projection) Consume(w *lineage.Walk) ([]lineage.Record, error) {
	var records []lineage.Record
	for r := range w.Records() {
		p.Apply(r)
		records = append(records, r)
	}
	for _, l := range w.Loops() {
		p.ApplyLoop(w.Direction(), l)
	}
	if err := w.Err(); err != nil {
		return records, fmt.Errorf("%s lineage of %s: %w", w.Direction(), w.Root().ID, err)
	}
	return records, nil
}

// Downstream returns the ids id feeds directly.
func (p *Projection) Downstream(id string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.downstream[id])
}

// GetGraph returns a copy of the current graph.
func (p *Projection) GetGraph() *Graph {
	p.mu.RLock()
	defer p.mu.RUnlock()

	newGraph := NewGraph()
	newGraph.Root = p.graph.Root
	for k, v := range p.graph.Nodes {
		n := *v
		newGraph.Nodes[k] = &n
	}
	for _, e := range p.graph.Edges {
		edge := *e
		newGraph.Edges = append(newGraph.Edges, &edge)
	}
	return newGraph
}

// WriteJSON writes the graph as indented JSON.
func (p *Projection) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p.GetGraph())
}
