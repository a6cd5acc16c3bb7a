package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
	"github.com/rmax-ai/catalogctl/pkg/catalog/catalogtest"
	"github.com/rmax-ai/catalogctl/pkg/lineage"
)

func TestProjection_BothDirections(t *testing.T) {
	f := catalogtest.New()
	f.Add("src", "raw_orders", "Table").Add("mid", "orders", "Table").Add("dst", "orders_report", "Report")
	f.Link("src", "mid").Link("mid", "dst")

	tr := lineage.NewTraverser(f)
	ctx := context.Background()

	in, err := tr.Traverse(ctx, "mid", catalog.Inbound)
	if err != nil {
		t.Fatalf("Traverse inbound failed: %v", err)
	}
	proj := NewProjection(in.Root())
	if _, err := proj.Consume(in); err != nil {
		t.Fatalf("Consume inbound failed: %v", err)
	}

	out, err := tr.Traverse(ctx, "mid", catalog.Outbound)
	if err != nil {
		t.Fatalf("Traverse outbound failed: %v", err)
	}
	if _, err := proj.Consume(out); err != nil {
		t.Fatalf("Consume outbound failed: %v", err)
	}

	g := proj.GetGraph()
	if len(g.Nodes) != 3 {
		t.Fatalf("Expected 3 nodes, got %d", len(g.Nodes))
	}
	if g.Nodes["mid"].Type != NodeRoot {
		t.Errorf("Expected mid to be root, got %s", g.Nodes["mid"].Type)
	}
	if g.Nodes["dst"].Properties["class_type"] != "Report" {
		t.Errorf("Expected class_type Report, got %q", g.Nodes["dst"].Properties["class_type"])
	}

	// edges follow data flow regardless of walk direction
	if got := proj.Downstream("src"); len(got) != 1 || got[0] != "mid" {
		t.Errorf("Downstream(src) = %v; want [mid]", got)
	}
	if got := proj.Downstream("mid"); len(got) != 1 || got[0] != "dst" {
		t.Errorf("Downstream(mid) = %v; want [dst]", got)
	}
}

func TestProjection_LoopEdge(t *testing.T) {
	f := catalogtest.New()
	f.Add("a", "a", "Table").Add("b", "b", "Table")
	f.Link("a", "b").Link("b", "a")

	w, err := lineage.NewTraverser(f).Traverse(context.Background(), "a", catalog.Outbound)
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	proj := NewProjection(w.Root())
	if _, err := proj.Consume(w); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	var buf bytes.Buffer
	if err := proj.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	var g Graph
	if err := json.Unmarshal(buf.Bytes(), &g); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if g.Root != "a" {
		t.Errorf("Expected root a, got %q", g.Root)
	}
	if len(g.Edges) != 2 {
		t.Fatalf("Expected 2 edges, got %d", len(g.Edges))
	}
	if g.Edges[1].Type != EdgeLoop || g.Edges[1].FromID != "b" || g.Edges[1].ToID != "a" {
		t.Errorf("Unexpected loop edge %+v", *g.Edges[1])
	}
}

func TestProjection_MultiHopEdges(t *testing.T) {
	f := catalogtest.New().MultiHop()
	f.Add("r", "r", "Table").Add("a", "a", "Table").Add("b", "b", "Table")
	f.Link("r", "a").Link("a", "b")

	w, err := lineage.NewTraverser(f).Traverse(context.Background(), "r", catalog.Outbound)
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	proj := NewProjection(w.Root())
	if _, err := proj.Consume(w); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	if got := proj.Downstream("r"); len(got) != 1 || got[0] != "a" {
		t.Errorf("Downstream(r) = %v; want [a]", got)
	}
	if got := proj.Downstream("a"); len(got) != 1 || got[0] != "b" {
		t.Errorf("Downstream(a) = %v; want [b]", got)
	}
	g := proj.GetGraph()
	if len(g.Edges) != 2 {
		t.Errorf("Expected 2 edges, got %d", len(g.Edges))
	}
	if g.Nodes["b"].Depth != 2 {
		t.Errorf("Expected b at depth 2, got %d", g.Nodes["b"].Depth)
	}
}
