package lineage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
	"github.com/rmax-ai/catalogctl/pkg/catalog/catalogtest"
)

const tableType = "com.infa.odin.models.relational.Table"

func ids(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

// fakeWith registers assets named after their ids.
func fakeWith(idList ...string) *catalogtest.Fake {
	f := catalogtest.New()
	for _, id := range idList {
		f.Add(id, "name-"+id, tableType)
	}
	return f
}

func TestTraverse_SelfReferentialCycle(t *testing.T) {
	f := fakeWith("a1", "a2")
	f.AddItem("a1", catalog.Outbound, 1, catalog.LineageItem{
		From: "name-a1", To: "name-a2",
		FromURI: catalog.AssetURI("a1"), ToURI: catalog.AssetURI("a2"),
	})
	f.AddItem("a1", catalog.Outbound, 2, catalog.LineageItem{
		From: "name-a2", To: "name-a1",
		FromURI: catalog.AssetURI("a2"), ToURI: catalog.AssetURI("a1"),
	})

	w, err := NewTraverser(f).Traverse(context.Background(), "a1", catalog.Outbound)
	require.NoError(t, err)
	records, err := w.Collect()
	require.NoError(t, err)

	assert.Equal(t, []string{"a2"}, ids(records))
	require.Len(t, w.Loops(), 1)
	assert.Equal(t, Loop{From: "a2", To: "a1", Name: "name-a1"}, w.Loops()[0])

	var rootFetches int
	for _, c := range f.CallsTo(catalogtest.OpGetAsset) {
		if c.Args[0] == "a1" {
			rootFetches++
		}
	}
	assert.Equal(t, 1, rootFetches, "root must never be revisited")
}

func TestTraverse_AcyclicVisitsEachOnce(t *testing.T) {
	// a -> b -> d
	// a -> c -> d   (diamond: d reachable twice)
	// c -> e
	f := fakeWith("a", "b", "c", "d", "e")
	f.Link("a", "b").Link("a", "c").Link("b", "d").Link("c", "d").Link("c", "e")

	w, err := NewTraverser(f).Traverse(context.Background(), "a", catalog.Outbound)
	require.NoError(t, err)
	records, err := w.Collect()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"b", "c", "d", "e"}, ids(records))
	assert.Equal(t, len(records)+1, w.Visited().Len())
	assert.Len(t, w.Loops(), 1, "second path into d is reported as a loop")
	assert.Empty(t, w.Failures())

	seen := map[string]int{}
	for _, c := range f.CallsTo(catalogtest.OpGetAsset) {
		seen[c.Args[0]]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "asset %s fetched more than once", id)
	}
}

func TestTraverse_SiblingsDiscoveredBeforeDescent(t *testing.T) {
	// root -> x -> y, root -> y. y is a direct child of root, so it must
	// be attributed to root, not to x.
	f := fakeWith("root", "x", "y")
	f.Link("root", "x").Link("root", "y").Link("x", "y")

	w, err := NewTraverser(f).Traverse(context.Background(), "root", catalog.Outbound)
	require.NoError(t, err)
	records, err := w.Collect()
	require.NoError(t, err)

	require.Equal(t, []string{"x", "y"}, ids(records))
	assert.Equal(t, "root", records[1].Parent)
	assert.Equal(t, 1, records[1].Depth)
	require.Len(t, w.Loops(), 1)
	assert.Equal(t, "x", w.Loops()[0].From)
}

func TestTraverse_DepthFirstOrder(t *testing.T) {
	f := fakeWith("r", "a", "a1", "a2", "b")
	f.Link("r", "a").Link("r", "b").Link("a", "a1").Link("a1", "a2")

	w, err := NewTraverser(f).Traverse(context.Background(), "r", catalog.Outbound)
	require.NoError(t, err)
	records, err := w.Collect()
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "a1", "a2", "b"}, ids(records))
	assert.Equal(t, []int{1, 2, 3, 1}, []int{records[0].Depth, records[1].Depth, records[2].Depth, records[3].Depth})
}

func TestTraverse_DirectionsAreIndependent(t *testing.T) {
	// up -> mid -> down
	f := fakeWith("up", "mid", "down")
	f.Link("up", "mid").Link("mid", "down")
	tr := NewTraverser(f)

	out, err := tr.Traverse(context.Background(), "mid", catalog.Outbound)
	require.NoError(t, err)
	outRecords, err := out.Collect()
	require.NoError(t, err)

	in, err := tr.Traverse(context.Background(), "mid", catalog.Inbound)
	require.NoError(t, err)
	inRecords, err := in.Collect()
	require.NoError(t, err)

	assert.Equal(t, []string{"down"}, ids(outRecords))
	assert.Equal(t, []string{"up"}, ids(inRecords))
	assert.ElementsMatch(t, []string{"mid", "down"}, out.Visited().IDs())
	assert.ElementsMatch(t, []string{"mid", "up"}, in.Visited().IDs())
	assert.False(t, in.Visited().Contains("down"))
	assert.Equal(t, catalog.Inbound, inRecords[0].Direction)
}

func TestTraverse_LongCycleTerminates(t *testing.T) {
	const n = 50
	var idList []string
	for i := 0; i < n; i++ {
		idList = append(idList, fmt.Sprintf("n%d", i))
	}
	f := fakeWith(idList...)
	for i := 0; i < n; i++ {
		f.Link(idList[i], idList[(i+1)%n])
	}

	w, err := NewTraverser(f).Traverse(context.Background(), "n0", catalog.Outbound)
	require.NoError(t, err)
	records, err := w.Collect()
	require.NoError(t, err)

	assert.Len(t, records, n-1)
	require.Len(t, w.Loops(), 1)
	assert.Equal(t, Loop{From: "n49", To: "n0", Name: "name-n0"}, w.Loops()[0])
}

func TestTraverse_RootFetchFailureIsFatal(t *testing.T) {
	f := fakeWith()
	_, err := NewTraverser(f).Traverse(context.Background(), "missing", catalog.Outbound)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = NewTraverser(f).Traverse(context.Background(), "x", catalog.Direction("up"))
	assert.Error(t, err)
}

func TestTraverse_BranchFailuresAreContained(t *testing.T) {
	boom := errors.New("timeout")
	f := fakeWith("r", "bad", "good", "child")
	f.Link("r", "bad").Link("r", "good").Link("good", "child")
	f.Link("bad", "child")
	f.Fail(catalogtest.OpGetAsset, "bad", boom)
	f.AddItem("r", catalog.Outbound, 1, catalog.LineageItem{To: "broken", ToURI: "/too/short"})

	w, err := NewTraverser(f).Traverse(context.Background(), "r", catalog.Outbound)
	require.NoError(t, err)
	records, err := w.Collect()
	require.NoError(t, err)

	assert.Equal(t, []string{"good", "child"}, ids(records))
	failures := w.Failures()
	require.Len(t, failures, 2)
	assert.ErrorIs(t, failures[0], catalog.ErrMalformedURI)
	assert.Equal(t, "r", failures[0].Parent)
	assert.ErrorIs(t, failures[1], boom)
	assert.Equal(t, "bad", failures[1].ID)
}

func TestTraverse_MaxDepth(t *testing.T) {
	f := fakeWith("r", "a", "b", "c")
	f.Link("r", "a").Link("a", "b").Link("b", "c")

	w, err := NewTraverser(f, WithMaxDepth(2)).Traverse(context.Background(), "r", catalog.Outbound)
	require.NoError(t, err)
	records, err := w.Collect()
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, ids(records))
	assert.False(t, w.Visited().Contains("c"))
}

func TestTraverse_MultiHopResponses(t *testing.T) {
	// r -> a -> b -> r, with every detail response carrying the whole
	// horizon instead of one hop.
	f := fakeWith("r", "a", "b").MultiHop()
	f.Link("r", "a").Link("a", "b").Link("b", "r")

	w, err := NewTraverser(f).Traverse(context.Background(), "r", catalog.Outbound)
	require.NoError(t, err)
	records, err := w.Collect()
	require.NoError(t, err)

	require.Equal(t, []string{"a", "b"}, ids(records))
	assert.Equal(t, "r", records[0].Parent)
	assert.Equal(t, 1, records[0].Depth)
	assert.Equal(t, "a", records[1].Parent, "b is attributed to its near end, not the queried asset")
	assert.Equal(t, 2, records[1].Depth)
	assert.Equal(t, 2, records[1].Distance)

	require.Len(t, w.Loops(), 1, "edges repeated by deeper responses are not loops")
	assert.Equal(t, Loop{From: "b", To: "r", Name: "name-r"}, w.Loops()[0])
}

func TestTraverse_MultiHopMaxDepth(t *testing.T) {
	f := fakeWith("r", "a", "b").MultiHop()
	f.Link("r", "a").Link("a", "b")

	w, err := NewTraverser(f, WithMaxDepth(1)).Traverse(context.Background(), "r", catalog.Outbound)
	require.NoError(t, err)
	records, err := w.Collect()
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, ids(records))
	assert.False(t, w.Visited().Contains("b"), "b is two hops away")
}

func TestTraverse_MultiHopMalformedNearEnd(t *testing.T) {
	f := fakeWith("r", "b")
	f.AddItem("r", catalog.Outbound, 2, catalog.LineageItem{
		From: "gone", To: "name-b",
		FromURI: "/bad", ToURI: catalog.AssetURI("b"),
	})

	w, err := NewTraverser(f).Traverse(context.Background(), "r", catalog.Outbound)
	require.NoError(t, err)
	records, err := w.Collect()
	require.NoError(t, err)

	assert.Empty(t, records)
	require.Len(t, w.Failures(), 1)
	assert.ErrorIs(t, w.Failures()[0], catalog.ErrMalformedURI)
	assert.Equal(t, "b", w.Failures()[0].ID)
}

func TestTraverse_Cancellation(t *testing.T) {
	f := fakeWith("r", "a", "b", "c")
	f.Link("r", "a").Link("a", "b").Link("b", "c")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := NewTraverser(f).Traverse(ctx, "r", catalog.Outbound)
	require.NoError(t, err)

	var got []string
	for r := range w.Records() {
		got = append(got, r.ID)
		cancel()
	}
	assert.Equal(t, []string{"a"}, got)
	assert.ErrorIs(t, w.Err(), context.Canceled)
}

func TestTraverse_RecordsIsNotRestartable(t *testing.T) {
	f := fakeWith("r", "a", "b")
	f.Link("r", "a").Link("r", "b")

	w, err := NewTraverser(f).Traverse(context.Background(), "r", catalog.Outbound)
	require.NoError(t, err)

	for range w.Records() {
		break
	}
	rest, err := w.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(rest))

	again, err := w.Collect()
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestVisitedSet(t *testing.T) {
	v := NewVisitedSet()
	assert.True(t, v.Add("a"))
	assert.True(t, v.Add("b"))
	assert.False(t, v.Add("a"))
	assert.True(t, v.Contains("b"))
	assert.False(t, v.Contains("c"))
	assert.Equal(t, 2, v.Len())
	assert.Equal(t, []string{"a", "b"}, v.IDs())
}
