package purge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
	"github.com/rmax-ai/catalogctl/pkg/catalog/catalogtest"
)

const (
	termType  = "com.infa.ccgf.models.governance.BusinessTerm"
	tableType = "com.infa.odin.models.relational.Table"
)

var terms = catalog.Query{ClassTypes: []string{termType}}

// callIndex returns the position of the first call matching op and arg0.
func callIndex(calls []catalogtest.Call, op, arg0 string) int {
	return slices.IndexFunc(calls, func(c catalogtest.Call) bool {
		return c.Op == op && len(c.Args) > 0 && c.Args[0] == arg0
	})
}

func TestPurgeAll_ZeroMatches(t *testing.T) {
	f := catalogtest.New()
	f.Add("t1", "orders", tableType)

	res, err := NewScheduler(f, Config{}, nil).PurgeAll(context.Background(), terms)
	require.NoError(t, err)

	assert.Equal(t, []int{0}, res.Passes)
	assert.Equal(t, 0, res.Deleted)
	assert.Empty(t, res.Undeletable)
	assert.NotEmpty(t, res.CampaignID)
	assert.Empty(t, f.CallsTo(catalogtest.OpDeleteAsset))
	assert.Empty(t, f.CallsTo(catalogtest.OpDeleteRelationship))
	assert.Len(t, f.CallsTo(catalogtest.OpSearch), 1)
}

func TestPurgeAll_CampaignID(t *testing.T) {
	f := catalogtest.New()
	f.Add("g1", "orders", termType)

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	res, err := NewScheduler(f, Config{}, logger).PurgeAll(context.Background(), terms, WithCampaignID("hist-42"))
	require.NoError(t, err)

	assert.Equal(t, "hist-42", res.CampaignID)
	assert.Contains(t, logs.String(), `"campaign":"hist-42"`)
}

func TestPurgeAll_RelationshipsDeletedBeforeAsset(t *testing.T) {
	f := catalogtest.New()
	f.Add("A", "Revenue", termType).Add("B", "orders.amount", tableType)
	f.Relate("B", "A", "core.DataElementToBusinessTerm", "core.Classification")

	res, err := NewScheduler(f, Config{}, nil).PurgeAll(context.Background(), terms)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, res.Passes)
	assert.Equal(t, 2, res.RelationshipsDeleted)

	calls := f.Calls()
	relIdx := callIndex(calls, catalogtest.OpDeleteRelationship, "B->A")
	assetIdx := callIndex(calls, catalogtest.OpDeleteAsset, "A")
	require.NotEqual(t, -1, relIdx)
	require.NotEqual(t, -1, assetIdx)
	assert.Less(t, relIdx, assetIdx)

	// one delete per declared relationship type
	assert.Len(t, f.CallsTo(catalogtest.OpDeleteRelationship), 2)
	assert.True(t, f.Has("B"))
}

func TestPurgeAll_IncludeOutgoing(t *testing.T) {
	f := catalogtest.New()
	f.Add("A", "Revenue", termType).Add("B", "Finance", "com.infa.ccgf.models.governance.Domain")
	f.Relate("A", "B", "core.TermToDomain")

	_, err := NewScheduler(f, Config{IncludeOutgoing: true}, nil).PurgeAll(context.Background(), terms)
	require.NoError(t, err)

	calls := f.Calls()
	relIdx := callIndex(calls, catalogtest.OpDeleteRelationship, "A->B")
	assetIdx := callIndex(calls, catalogtest.OpDeleteAsset, "A")
	require.NotEqual(t, -1, relIdx)
	assert.Less(t, relIdx, assetIdx)
}

func TestPurgeAll_SkipRelationships(t *testing.T) {
	f := catalogtest.New()
	f.Add("A", "Mask SSN", termType).Add("B", "ssn", tableType)
	f.Relate("B", "A", "core.Protects")

	res, err := NewScheduler(f, Config{SkipRelationships: true}, nil).PurgeAll(context.Background(), terms)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Empty(t, f.CallsTo(catalogtest.OpSearchRelationships))
	assert.Empty(t, f.CallsTo(catalogtest.OpDeleteRelationship))
}

func TestPurgeAll_ChainConvergesOnePerPass(t *testing.T) {
	// C is deletable only after B is gone, B only after A. Search returns
	// C, B, A so every pass can remove exactly one asset.
	f := catalogtest.New()
	f.Add("C", "c", termType).Add("B", "b", termType).Add("A", "a", termType)
	f.Block("C", "B").Block("B", "A")

	res, err := NewScheduler(f, Config{Concurrency: 1}, nil).PurgeAll(context.Background(), terms)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 1, 1, 0}, res.Passes)
	assert.Equal(t, 3, res.Deleted)
	assert.Empty(t, res.Undeletable)
	assert.Equal(t, 0, f.Len())
}

func TestPurgeAll_ContentFailedIsNotFatal(t *testing.T) {
	f := catalogtest.New()
	f.Add("A", "a", termType).Add("B", "b", termType)
	f.Undeletable("B", "OBJECT_IN_USE")

	res, err := NewScheduler(f, Config{}, nil).PurgeAll(context.Background(), terms)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, res.Passes)
	assert.Equal(t, []catalog.AssetRef{{ID: "B", Name: "b", ClassType: termType}}, res.Undeletable)
}

func TestPurgeAll_TransportErrorsLeaveAssetForLaterPass(t *testing.T) {
	f := catalogtest.New()
	f.Add("A", "a", termType).Add("B", "b", termType)
	f.Fail(catalogtest.OpDeleteAsset, "A", errors.New("read: connection reset"))
	f.Fail(catalogtest.OpSearchRelationships, "B", errors.New("timeout"))

	res, err := NewScheduler(f, Config{}, nil).PurgeAll(context.Background(), terms)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, res.Passes)
	assert.False(t, f.Has("B"), "relationship search failure must not stop the asset delete")
	assert.True(t, f.Has("A"))
	assert.Len(t, f.CallsTo(catalogtest.OpDeleteAsset), 3, "A attempted in both passes")
}

func TestPurgeAll_StalledAssetIsQuarantined(t *testing.T) {
	f := catalogtest.New()
	f.Add("B", "b", termType).Add("A", "a", termType).Add("X", "x", termType)
	f.Block("B", "A")
	f.Undeletable("X", "EXTERNAL_REFERENCE")

	res, err := NewScheduler(f, Config{Concurrency: 1, StallPasses: 2}, nil).PurgeAll(context.Background(), terms)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 1, 0}, res.Passes)
	assert.Equal(t, []catalog.AssetRef{{ID: "X", Name: "x", ClassType: termType}}, res.Undeletable)

	var xDeletes int
	for _, c := range f.CallsTo(catalogtest.OpDeleteAsset) {
		if c.Args[0] == "X" {
			xDeletes++
		}
	}
	assert.Equal(t, 2, xDeletes, "quarantined asset is not attempted again")
}

func TestPurgeAll_PassLimit(t *testing.T) {
	f := catalogtest.New()
	chain := []string{"E", "D", "C", "B", "A"}
	for _, id := range chain {
		f.Add(id, id, termType)
	}
	for i := 0; i < len(chain)-1; i++ {
		f.Block(chain[i], chain[i+1])
	}

	res, err := NewScheduler(f, Config{Concurrency: 1, MaxPasses: 3, StallPasses: 10}, nil).PurgeAll(context.Background(), terms)
	require.ErrorIs(t, err, ErrPassLimit)
	assert.Equal(t, []int{1, 1, 1}, res.Passes)
	assert.Equal(t, 3, res.Deleted)
	assert.Len(t, res.Undeletable, 2)
}

func TestPurgeAll_SearchFailureIsFatal(t *testing.T) {
	f := catalogtest.New()
	f.Fail(catalogtest.OpSearch, "", catalog.ErrUnauthorized)

	res, err := NewScheduler(f, Config{}, nil).PurgeAll(context.Background(), terms)
	require.ErrorIs(t, err, catalog.ErrUnauthorized)
	assert.Empty(t, res.Passes)
}

func TestPurgeAll_Cancellation(t *testing.T) {
	f := catalogtest.New()
	for i := 0; i < 10; i++ {
		f.Add(fmt.Sprintf("t%d", i), "term", termType)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Hook = func(op string, args ...string) {
		if op == catalogtest.OpDeleteAsset && args[0] == "t2" {
			cancel()
		}
	}

	res, err := NewScheduler(f, Config{Concurrency: 1}, nil).PurgeAll(ctx, terms)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, res.Passes, 1)
	assert.Equal(t, 2, res.Deleted)
	assert.Less(t, len(f.CallsTo(catalogtest.OpDeleteAsset)), 10)
	assert.False(t, res.FinishedAt.IsZero())
}

func TestPurgeAll_PagesWholeSnapshot(t *testing.T) {
	f := catalogtest.New()
	for i := 0; i < 7; i++ {
		f.Add(fmt.Sprintf("t%d", i), "term", termType)
	}

	res, err := NewScheduler(f, Config{PageSize: 3}, nil).PurgeAll(context.Background(), terms)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 0}, res.Passes)

	var froms []string
	for _, c := range f.CallsTo(catalogtest.OpSearch) {
		froms = append(froms, c.Args[1])
	}
	assert.Equal(t, []string{"0", "3", "6", "0"}, froms)
}

// dupCatalog repeats every search hit, as overlapping pages would.
type dupCatalog struct {
	*catalogtest.Fake
}

func (d dupCatalog) Search(ctx context.Context, q catalog.Query, from, size int) (catalog.SearchPage, error) {
	page, err := d.Fake.Search(ctx, q, from, size)
	page.Assets = append(page.Assets, page.Assets...)
	return page, err
}

func TestPurgeAll_DeduplicatesSnapshot(t *testing.T) {
	f := catalogtest.New()
	f.Add("A", "a", termType).Add("B", "b", termType)

	res, err := NewScheduler(dupCatalog{f}, Config{}, nil).PurgeAll(context.Background(), terms)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, res.Passes)
	assert.Len(t, f.CallsTo(catalogtest.OpDeleteAsset), 2)
}

func TestConfigDefaults(t *testing.T) {
	cfg := NewScheduler(catalogtest.New(), Config{PageSize: 500}, nil).Config()
	assert.Equal(t, MaxPageSize, cfg.PageSize)
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultMaxPasses, cfg.MaxPasses)
	assert.Equal(t, DefaultStallPasses, cfg.StallPasses)
}
