package domains

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/triangulate/internal/ingest"
)

func discovery(name string, repos ...string) ingest.Domain {
	return ingest.Domain{
		Name:         name,
		SystemType:   "domain",
		Repositories: repos,
		Source:       ingest.SourceRef{File: "domains-shop.jsonl", Line: 1},
	}
}

func TestMergeRules(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(Entry{Name: "orders", SystemType: "domain", Repositories: []string{"shop-api"}})

	appendRepo := discovery("Orders", "shop-web", "shop-api")
	appendRepo.Add = true
	missing := discovery("shipping", "ship")
	missing.Add = true

	res, err := NewMerger(reg, nil).Merge(ctx, []ingest.Domain{
		discovery("orders", "other"),
		appendRepo,
		missing,
		discovery("ordrs", "typo"),
		discovery("payments", "pay-api"),
		discovery("paymnts", "pay-typo"),
	}, false)
	require.NoError(t, err)

	require.Len(t, res.Added, 1)
	assert.Equal(t, "payments", res.Added[0].Name)
	assert.Equal(t, []Update{{Name: "orders", AddedRepos: []string{"shop-web"}}}, res.Updated)

	require.Len(t, res.Conflicts, 3)
	assert.Equal(t, "shipping", res.Conflicts[0].Name)
	assert.Contains(t, res.Conflicts[0].Reason, "does not exist")
	assert.Equal(t, "ordrs", res.Conflicts[1].Name)
	assert.Contains(t, res.Conflicts[1].Reason, `near-duplicate of existing domain "orders"`)
	assert.Equal(t, "paymnts", res.Conflicts[2].Name)

	entries, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"shop-api", "shop-web"}, entries[0].Repositories)
	assert.Equal(t, "payments", entries[1].Name)
}

func TestMergeExistsMarker(t *testing.T) {
	reg := NewMemoryRegistry(Entry{Name: "orders", Repositories: []string{}})
	d := discovery("orders", "shop-web")
	d.SystemType = ExistsMarker

	res, err := NewMerger(reg, nil).Merge(context.Background(), []ingest.Domain{d}, false)
	require.NoError(t, err)
	assert.Len(t, res.Updated, 1)
	assert.Empty(t, res.Added)
}

func TestMergeDryRunLeavesRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	res, err := NewMerger(reg, nil).Merge(ctx, []ingest.Domain{discovery("billing", "b")}, true)
	require.NoError(t, err)
	assert.Len(t, res.Added, 1)

	entries, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
