// Package catalogtest provides an in-memory catalog.Catalog for tests.
package catalogtest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
)

// Operation names recorded in the call log.
const (
	OpGetAsset            = "GetAsset"
	OpGetAssets           = "GetAssets"
	OpSearch              = "Search"
	OpSearchRelationships = "SearchRelationships"
	OpDeleteAsset         = "DeleteAsset"
	OpDeleteRelationship  = "DeleteRelationship"
	OpListSources         = "ListSources"
	OpPurgeSource         = "PurgeSource"
	OpDeleteSource        = "DeleteSource"
	OpJobStatus           = "JobStatus"
)

// ReasonBlocked is the validation code returned for blocked deletes.
const ReasonBlocked = "OBJECT_REFERENCED"

// Call is one recorded invocation.
type Call struct {
	Op   string
	Args []string
}

type edge struct {
	distance int
	item     catalog.LineageItem
}

type failure struct {
	op  string
	arg string
	err error
}

// Fake is a deterministic, concurrency-safe catalog held in memory.
// Assets are returned by Search in insertion order.
type Fake struct {
	// Hook, when set, runs before every operation, outside the lock.
	Hook func(op string, args ...string)

	mu            sync.Mutex
	order         []string
	assets        map[string]catalog.Asset
	lineage       map[catalog.Direction]map[string][]edge
	relationships []catalog.Relationship
	blockers      map[string][]string
	undeletable   map[string]string
	failures      []failure
	sources       []catalog.Source
	purges        map[string]catalog.JobHandle
	jobs          map[string][]catalog.JobStatus
	calls         []Call
	multiHop      bool
}

var _ catalog.Catalog = (*Fake)(nil)

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		assets: make(map[string]catalog.Asset),
		lineage: map[catalog.Direction]map[string][]edge{
			catalog.Inbound:  {},
			catalog.Outbound: {},
		},
		blockers:    make(map[string][]string),
		undeletable: make(map[string]string),
		purges:      make(map[string]catalog.JobHandle),
		jobs:        make(map[string][]catalog.JobStatus),
	}
}

// AddAsset registers assets. Lineage on the argument is ignored; use Link.
func (f *Fake) AddAsset(assets ...catalog.Asset) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range assets {
		if _, ok := f.assets[a.ID]; !ok {
			f.order = append(f.order, a.ID)
		}
		a.Lineage = nil
		f.assets[a.ID] = a
	}
	return f
}

// Add is a shorthand for AddAsset with only an id, name and class type.
func (f *Fake) Add(id, name, classType string) *Fake {
	return f.AddAsset(catalog.Asset{ID: id, Name: name, ClassType: classType})
}

// Link records a one-hop lineage edge from -> to, visible outbound on
// from and inbound on to.
func (f *Fake) Link(from, to string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := catalog.LineageItem{
		From:     f.assets[from].Name,
		FromType: f.assets[from].ClassType,
		To:       f.assets[to].Name,
		ToType:   f.assets[to].ClassType,
		FromURI:  catalog.AssetURI(from),
		ToURI:    catalog.AssetURI(to),
	}
	f.lineage[catalog.Outbound][from] = append(f.lineage[catalog.Outbound][from], edge{1, item})
	f.lineage[catalog.Inbound][to] = append(f.lineage[catalog.Inbound][to], edge{1, item})
	return f
}

// MultiHop makes direction-segment responses carry every hop up to
// distance 5, the way the detail endpoint does, instead of only the
// asset's own edges.
func (f *Fake) MultiHop() *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.multiHop = true
	return f
}

// AddItem attaches a raw lineage item to id in direction d.
func (f *Fake) AddItem(id string, d catalog.Direction, distance int, item catalog.LineageItem) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lineage[d][id] = append(f.lineage[d][id], edge{distance, item})
	return f
}

// Relate records a relationship from -> to with the given types.
func (f *Fake) Relate(from, to string, types ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relationships = append(f.relationships, catalog.Relationship{From: from, To: to, Types: types})
	return f
}

// Block makes deleting id fail with CONTENT_FAILED while any of by exists.
func (f *Fake) Block(id string, by ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockers[id] = append(f.blockers[id], by...)
	return f
}

// Undeletable makes every delete of id fail with CONTENT_FAILED.
func (f *Fake) Undeletable(id, reason string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.undeletable[id] = reason
	return f
}

// Fail makes op return err. An empty arg matches every call of op,
// otherwise only calls whose first argument equals arg.
func (f *Fake) Fail(op, arg string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failure{op: op, arg: arg, err: err})
	return f
}

// AddSource registers catalog sources.
func (f *Fake) AddSource(sources ...catalog.Source) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, sources...)
	return f
}

// SetPurge scripts the handle PurgeSource returns for a source.
// By default a purge returns job id "job-<name>".
func (f *Fake) SetPurge(name string, h catalog.JobHandle) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purges[name] = h
	return f
}

// ScriptJob queues the statuses JobStatus returns for jobID, one per
// call. The last status repeats.
func (f *Fake) ScriptJob(jobID string, statuses ...catalog.JobStatus) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID] = append(f.jobs[jobID], statuses...)
	return f
}

// Calls returns a copy of the call log.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallsTo returns the recorded calls of one operation.
func (f *Fake) CallsTo(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Has reports whether id is still cataloged.
func (f *Fake) Has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.assets[id]
	return ok
}

// Len returns the number of cataloged assets.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.assets)
}

// Relationships returns the remaining relationships.
func (f *Fake) Relationships() []catalog.Relationship {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.relationships)
}

// Sources returns the remaining sources.
func (f *Fake) Sources() []catalog.Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sources)
}

// enter runs the hook, records the call and returns any injected failure.
func (f *Fake) enter(op string, args ...string) error {
	if f.Hook != nil {
		f.Hook(op, args...)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: op, Args: args})
	for _, fl := range f.failures {
		if fl.op != op {
			continue
		}
		if fl.arg == "" || (len(args) > 0 && args[0] == fl.arg) {
			return fl.err
		}
	}
	return nil
}

func (f *Fake) GetAsset(ctx context.Context, id, segments string) (catalog.Asset, error) {
	if err := f.enter(OpGetAsset, id, segments); err != nil {
		return catalog.Asset{}, err
	}
	if err := ctx.Err(); err != nil {
		return catalog.Asset{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assets[id]
	if !ok {
		return catalog.Asset{}, fmt.Errorf("get asset %s: %w", id, catalog.ErrNotFound)
	}
	a.Lineage = f.lineageFor(id, segments)
	return a, nil
}

func (f *Fake) GetAssets(ctx context.Context, ids []string, segments string) ([]catalog.Asset, error) {
	if err := f.enter(OpGetAssets, strings.Join(ids, ","), segments); err != nil {
		return nil, err
	}
	if len(ids) > catalog.BulkLimit {
		return nil, fmt.Errorf("get assets: %d ids: %w", len(ids), catalog.ErrBulkLimit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []catalog.Asset
	for _, id := range ids {
		a, ok := f.assets[id]
		if !ok {
			continue
		}
		a.Lineage = f.lineageFor(id, segments)
		out = append(out, a)
	}
	return out, nil
}

// lineageFor renders lineage the way the detail endpoint would for the
// requested segments. Survey segments, and direction segments in
// multi-hop mode, get groups up to distance 5. Caller holds f.mu.
func (f *Fake) lineageFor(id, segments string) []catalog.LineageGroup {
	for _, d := range catalog.AllDirections {
		if segments != catalog.LineageSegments(d) {
			continue
		}
		if f.multiHop {
			return groupEdges(d, f.reach(id, d, 5))
		}
		return groupEdges(d, f.lineage[d][id])
	}
	if segments != catalog.SurveySegments {
		return nil
	}
	var groups []catalog.LineageGroup
	for _, d := range catalog.AllDirections {
		if g := groupEdges(d, f.reach(id, d, 5)); len(g) > 0 {
			groups = append(groups, g...)
		}
	}
	return groups
}

// reach collects edges up to maxDist hops away, each tagged with its
// breadth-first distance.
func (f *Fake) reach(id string, d catalog.Direction, maxDist int) []edge {
	seen := map[string]bool{id: true}
	frontier := []string{id}
	var out []edge
	for dist := 1; dist <= maxDist && len(frontier) > 0; dist++ {
		var next []string
		for _, cur := range frontier {
			for _, e := range f.lineage[d][cur] {
				out = append(out, edge{dist, e.item})
				nid, err := catalog.NeighborID(e.item, d)
				if err != nil || seen[nid] {
					continue
				}
				seen[nid] = true
				next = append(next, nid)
			}
		}
		frontier = next
	}
	return out
}

func groupEdges(d catalog.Direction, edges []edge) []catalog.LineageGroup {
	if len(edges) == 0 {
		return nil
	}
	byDist := map[int][]catalog.LineageItem{}
	var dists []int
	for _, e := range edges {
		if _, ok := byDist[e.distance]; !ok {
			dists = append(dists, e.distance)
		}
		byDist[e.distance] = append(byDist[e.distance], e.item)
	}
	slices.Sort(dists)
	g := catalog.LineageGroup{Direction: d}
	for _, dist := range dists {
		g.Hops = append(g.Hops, catalog.LineageHop{Distance: dist, Items: byDist[dist]})
	}
	return []catalog.LineageGroup{g}
}

func (f *Fake) Search(ctx context.Context, q catalog.Query, from, size int) (catalog.SearchPage, error) {
	if err := f.enter(OpSearch, q.String(), fmt.Sprint(from), fmt.Sprint(size)); err != nil {
		return catalog.SearchPage{}, err
	}
	if err := ctx.Err(); err != nil {
		return catalog.SearchPage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var matches []catalog.Asset
	for _, id := range f.order {
		a, ok := f.assets[id]
		if ok && matchesQuery(a, q) {
			matches = append(matches, a)
		}
	}
	page := catalog.SearchPage{Total: len(matches)}
	if from < len(matches) {
		end := min(from+size, len(matches))
		page.Assets = slices.Clone(matches[from:end])
	}
	return page, nil
}

func matchesQuery(a catalog.Asset, q catalog.Query) bool {
	if len(q.ClassTypes) > 0 {
		return slices.Contains(q.ClassTypes, a.ClassType)
	}
	k := strings.ToLower(strings.TrimSpace(q.Knowledge))
	if k == "" || k == "*" {
		return true
	}
	return strings.Contains(strings.ToLower(a.Name), k) || strings.Contains(strings.ToLower(a.ClassType), k)
}

func (f *Fake) SearchRelationships(ctx context.Context, q catalog.RelationshipQuery) ([]catalog.Relationship, error) {
	key := q.Target
	if key == "" {
		key = q.Source
	}
	if err := f.enter(OpSearchRelationships, key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []catalog.Relationship
	for _, r := range f.relationships {
		if (q.Target != "" && r.To == q.Target) || (q.Source != "" && r.From == q.Source) {
			out = append(out, catalog.Relationship{From: r.From, To: r.To, Types: slices.Clone(r.Types)})
		}
	}
	return out, nil
}

func contentFailed(reason string) catalog.DeleteResult {
	return catalog.DeleteResult{Items: []catalog.DeleteItem{{
		MessageCode: catalog.MessageContentFailed,
		Reasons:     []string{reason},
	}}}
}

var published = catalog.DeleteResult{Items: []catalog.DeleteItem{{MessageCode: "CONTENT_PUBLISHED"}}}

func (f *Fake) DeleteAsset(ctx context.Context, id, classType string) (catalog.DeleteResult, error) {
	if err := f.enter(OpDeleteAsset, id, classType); err != nil {
		return catalog.DeleteResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return catalog.DeleteResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.assets[id]; !ok {
		return catalog.DeleteResult{}, fmt.Errorf("delete asset %s: %w", id, catalog.ErrNotFound)
	}
	if reason, ok := f.undeletable[id]; ok {
		return contentFailed(reason), nil
	}
	for _, b := range f.blockers[id] {
		if _, alive := f.assets[b]; alive {
			return contentFailed(ReasonBlocked), nil
		}
	}

	delete(f.assets, id)
	f.order = slices.DeleteFunc(f.order, func(s string) bool { return s == id })
	f.relationships = slices.DeleteFunc(f.relationships, func(r catalog.Relationship) bool {
		return r.From == id || r.To == id
	})
	return published, nil
}

func (f *Fake) DeleteRelationship(ctx context.Context, from, to, relType string) (catalog.DeleteResult, error) {
	if err := f.enter(OpDeleteRelationship, from+"->"+to, relType); err != nil {
		return catalog.DeleteResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return catalog.DeleteResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, r := range f.relationships {
		if r.From != from || r.To != to || !slices.Contains(r.Types, relType) {
			continue
		}
		r.Types = slices.DeleteFunc(slices.Clone(r.Types), func(t string) bool { return t == relType })
		if len(r.Types) == 0 {
			f.relationships = slices.Delete(f.relationships, i, i+1)
		} else {
			f.relationships[i] = r
		}
		return published, nil
	}
	return contentFailed("RELATIONSHIP_NOT_FOUND"), nil
}

func (f *Fake) ListSources(ctx context.Context, offset, limit int) ([]catalog.Source, error) {
	if err := f.enter(OpListSources, fmt.Sprint(offset), fmt.Sprint(limit)); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset >= len(f.sources) {
		return nil, nil
	}
	end := min(offset+limit, len(f.sources))
	return slices.Clone(f.sources[offset:end]), nil
}

func (f *Fake) PurgeSource(ctx context.Context, name string) (catalog.JobHandle, error) {
	if err := f.enter(OpPurgeSource, name); err != nil {
		return catalog.JobHandle{}, err
	}
	if err := ctx.Err(); err != nil {
		return catalog.JobHandle{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasSource(name) {
		return catalog.JobHandle{}, fmt.Errorf("purge source %s: %w", name, catalog.ErrNotFound)
	}
	if h, ok := f.purges[name]; ok {
		return h, nil
	}
	return catalog.JobHandle{JobID: "job-" + name}, nil
}

func (f *Fake) DeleteSource(ctx context.Context, name string) error {
	if err := f.enter(OpDeleteSource, name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasSource(name) {
		return fmt.Errorf("delete source %s: %w", name, catalog.ErrNotFound)
	}
	f.sources = slices.DeleteFunc(f.sources, func(s catalog.Source) bool { return s.Name == name })
	return nil
}

func (f *Fake) hasSource(name string) bool {
	return slices.ContainsFunc(f.sources, func(s catalog.Source) bool { return s.Name == name })
}

func (f *Fake) JobStatus(ctx context.Context, jobID string) (catalog.JobStatus, error) {
	if err := f.enter(OpJobStatus, jobID); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	script, ok := f.jobs[jobID]
	if !ok || len(script) == 0 {
		return "", fmt.Errorf("job %s: %w", jobID, catalog.ErrNotFound)
	}
	status := script[0]
	if len(script) > 1 {
		f.jobs[jobID] = script[1:]
	}
	return status, nil
}
