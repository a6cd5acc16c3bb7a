// Package lineage walks the lineage graph of a cataloged asset.
//
// A traversal starts at a root asset and follows lineage edges in one
// direction, depth first, fetching each neighbor's detail as it goes. Each
// traversal owns a VisitedSet, so cycles are reported as loops instead of
// being walked again. Lineage is read-only here; nothing is mutated.
package lineage

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
	"github.com/rmax-ai/catalogctl/pkg/metrics"
)

// Fetcher is the subset of catalog.Catalog a traversal needs.
type Fetcher interface {
	GetAsset(ctx context.Context, id, segments string) (catalog.Asset, error)
}

// Record is one asset reached from the root.
type Record struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	ClassType    string            `json:"class_type"`
	ResourceName string            `json:"resource_name,omitempty"`
	ResourceType string            `json:"resource_type,omitempty"`
	Direction    catalog.Direction `json:"direction"`
	Parent       string            `json:"parent"`
	Depth        int               `json:"depth"`
	Distance     int               `json:"distance"`
}

// Loop is a lineage edge that pointed back at an already visited asset.
type Loop struct {
	From string `json:"from"`
	To   string `json:"to"`
	Name string `json:"name"`
}

// Failure is a branch that could not be followed.
type Failure struct {
	ID     string `json:"id,omitempty"`
	Parent string `json:"parent"`
	Err    error  `json:"-"`
}

func (f Failure) Error() string {
	if f.ID == "" {
		return fmt.Sprintf("lineage item under %s: %v", f.Parent, f.Err)
	}
	return fmt.Sprintf("asset %s (under %s): %v", f.ID, f.Parent, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Option configures a Traverser.
type Option func(*Traverser)

// WithMaxDepth drops assets more than n hops from the root. Zero means
// only the catalog's own hop horizon limits the walk.
func WithMaxDepth(n int) Option {
	return func(t *Traverser) {
		if n >= 0 {
			t.maxDepth = n
		}
	}
}

// WithSegments overrides the detail segments requested per direction.
func WithSegments(fn func(catalog.Direction) string) Option {
	return func(t *Traverser) {
		if fn != nil {
			t.segments = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Traverser) {
		if l != nil {
			t.logger = l
		}
	}
}

// Traverser starts lineage walks. It holds no per-walk state and may be
// shared.
type Traverser struct {
	fetch    Fetcher
	maxDepth int
	segments func(catalog.Direction) string
	logger   *slog.Logger
}

func NewTraverser(fetch Fetcher, opts ...Option) *Traverser {
	t := &Traverser{
		fetch:    fetch,
		segments: catalog.LineageSegments,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type frame struct {
	id       string
	name     string
	parent   string
	depth    int
	distance int
}

// Walk is an in-progress traversal. Records drains it; a Walk is not safe
// for concurrent use.
type Walk struct {
	ctx      context.Context
	t        *Traverser
	dir      catalog.Direction
	root     catalog.Asset
	visited  *VisitedSet
	stack    []frame
	edges    map[[2]string]struct{}
	loops    []Loop
	failures []Failure
	err      error
	logger   *slog.Logger
}

// Traverse fetches the root asset and prepares a walk in direction d.
// Failing to fetch the root is returned as an error; every later failure
// only ends its own branch.
func (t *Traverser) Traverse(ctx context.Context, rootID string, d catalog.Direction) (*Walk, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("traverse %s: invalid direction %q", rootID, d)
	}
	w := &Walk{
		ctx:     ctx,
		t:       t,
		dir:     d,
		visited: NewVisitedSet(),
		edges:   make(map[[2]string]struct{}),
		logger:  t.logger.With("root", rootID, "direction", string(d)),
	}
	w.visited.Add(rootID)

	root, err := t.fetch.GetAsset(ctx, rootID, t.segments(d))
	if err != nil {
		return nil, fmt.Errorf("traverse %s: fetch root: %w", rootID, err)
	}
	w.root = root
	w.logger.Info("starting lineage walk", "name", root.Name, "class_type", root.ClassType)
	w.expand(root, 0)
	return w, nil
}

// expand discovers every neighbor listed on a before any of them is
// descended into. The detail response carries every hop up to the
// catalog's horizon, so each item is attributed to its own near end and
// placed hop.Distance below a. New neighbors are marked visited and pushed
// so that the first listed neighbor is popped first.
func (w *Walk) expand(a catalog.Asset, depth int) {
	var children []frame
	for _, group := range a.Lineage {
		if group.Direction != "" && group.Direction != w.dir {
			continue
		}
		for _, hop := range group.Hops {
			childDepth := depth + max(hop.Distance, 1)
			if w.t.maxDepth > 0 && childDepth > w.t.maxDepth {
				continue
			}
			for _, item := range hop.Items {
				name, _ := item.Neighbor(w.dir)
				id, err := catalog.NeighborID(item, w.dir)
				if err != nil {
					w.logger.Warn("skipping lineage item", "parent", a.ID, "neighbor", name, "error", err)
					w.failures = append(w.failures, Failure{Parent: a.ID, Err: err})
					continue
				}
				parent, err := w.nearEnd(a.ID, item, hop.Distance)
				if err != nil {
					w.logger.Warn("skipping lineage item", "parent", a.ID, "neighbor", name, "error", err)
					w.failures = append(w.failures, Failure{ID: id, Parent: a.ID, Err: err})
					continue
				}
				if _, seen := w.edges[[2]string{parent, id}]; seen {
					continue
				}
				w.edges[[2]string{parent, id}] = struct{}{}
				if !w.visited.Add(id) {
					w.logger.Info("loop found, skipping", "parent", parent, "neighbor", name, "id", id)
					metrics.LineageLoops.WithLabelValues(string(w.dir)).Inc()
					w.loops = append(w.loops, Loop{From: parent, To: id, Name: name})
					continue
				}
				children = append(children, frame{
					id:       id,
					name:     name,
					parent:   parent,
					depth:    childDepth,
					distance: hop.Distance,
				})
			}
		}
	}
	for _, c := range slices.Backward(children) {
		w.stack = append(w.stack, c)
	}
}

// nearEnd decodes the end of item closest to the walk's root. One-hop
// items without a near URI belong to the expanded asset itself.
func (w *Walk) nearEnd(expanded string, item catalog.LineageItem, distance int) (string, error) {
	uri := item.FromURI
	if w.dir == catalog.Inbound {
		uri = item.ToURI
	}
	if uri == "" && distance <= 1 {
		return expanded, nil
	}
	return catalog.ParseAssetURI(uri)
}

// Records yields every asset reachable from the root, excluding the root,
// in depth-first order. The sequence is finite and consumed as it goes:
// ranging over it again resumes where the previous range stopped.
func (w *Walk) Records() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for len(w.stack) > 0 {
			if err := w.ctx.Err(); err != nil {
				w.err = err
				return
			}

			fr := w.stack[len(w.stack)-1]
			w.stack = w.stack[:len(w.stack)-1]

			a, err := w.t.fetch.GetAsset(w.ctx, fr.id, w.t.segments(w.dir))
			if err != nil {
				w.logger.Warn("lineage branch abandoned", "id", fr.id, "name", fr.name, "parent", fr.parent, "error", err)
				w.failures = append(w.failures, Failure{ID: fr.id, Parent: fr.parent, Err: err})
				continue
			}
			if a.ID == "" {
				a.ID = fr.id
			}
			if a.Name == "" {
				a.Name = fr.name
			}

			if w.t.maxDepth == 0 || fr.depth < w.t.maxDepth {
				w.expand(a, fr.depth)
			}

			metrics.LineageVisited.WithLabelValues(string(w.dir)).Inc()
			w.logger.Debug("found lineage", "id", a.ID, "name", a.Name, "parent", fr.parent, "depth", fr.depth)
			if !yield(Record{
				ID:           a.ID,
				Name:         a.Name,
				ClassType:    a.ClassType,
				ResourceName: a.ResourceName,
				ResourceType: a.ResourceType,
				Direction:    w.dir,
				Parent:       fr.parent,
				Depth:        fr.depth,
				Distance:     fr.distance,
			}) {
				return
			}
		}
	}
}

// Collect drains the walk.
func (w *Walk) Collect() ([]Record, error) {
	var out []Record
	for r := range w.Records() {
		out = append(out, r)
	}
	return out, w.err
}

func (w *Walk) Root() catalog.Asset          { return w.root }
func (w *Walk) Direction() catalog.Direction { return w.dir }
func (w *Walk) Loops() []Loop                { return slices.Clone(w.loops) }
func (w *Walk) Failures() []Failure          { return slices.Clone(w.failures) }
func (w *Walk) Visited() *VisitedSet         { return w.visited }

// Err reports why the walk stopped early, if it did.
func (w *Walk) Err() error { return w.err }
