package discount

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v int64) *int64 { return &v }

func TestBuildSnapshot_FoldsJoinCrossProduct(t *testing.T) {
	base := Discount{ID: 1, Name: "bundle", Enabled: true}

	// 2 purchasables x 2 categories x 2 groups joined naively is 8 rows; the
	// snapshot must fold them back into three independent two-element sets.
	var rows []CatalogRow
	for _, p := range []int64{10, 11} {
		for _, c := range []int64{20, 21} {
			for _, g := range []int64{30, 31} {
				rows = append(rows, CatalogRow{
					Discount:      base,
					PurchasableID: ptr(p),
					CategoryID:    ptr(c),
					UserGroupID:   ptr(g),
				})
			}
		}
	}
	require.Len(t, rows, 8)

	snap := BuildSnapshot(rows)
	d := snap.ByID(1)
	require.NotNil(t, d)

	assert.ElementsMatch(t, []int64{10, 11}, d.PurchasableIDs)
	assert.ElementsMatch(t, []int64{20, 21}, d.CategoryIDs)
	assert.ElementsMatch(t, []int64{30, 31}, d.UserGroupIDs)
}

func TestBuildSnapshot_NormalizesScopeFlags(t *testing.T) {
	rows := []CatalogRow{{
		// Persisted flag claims "all groups" but a relation row exists; the
		// set wins and the flag is recomputed.
		Discount:    Discount{ID: 1, Enabled: true, AllGroups: true},
		UserGroupID: ptr(5),
	}}

	d := BuildSnapshot(rows).ByID(1)
	require.NotNil(t, d)
	assert.False(t, d.AllGroups)
	assert.Equal(t, []int64{5}, d.UserGroupIDs)
}

func TestSnapshot_ByCode(t *testing.T) {
	rows := []CatalogRow{
		{Discount: Discount{ID: 1, Code: "SAVE10", Enabled: true}},
		{Discount: Discount{ID: 2, Enabled: true}},
	}
	snap := BuildSnapshot(rows)

	assert.NotNil(t, snap.ByCode("save10"))
	assert.NotNil(t, snap.ByCode("SAVE10"))
	assert.Nil(t, snap.ByCode("OTHER"))
	assert.Nil(t, snap.ByCode(""), "automatic discounts are not code-addressable")
}

func TestSnapshot_AllSortedByOrder(t *testing.T) {
	rows := []CatalogRow{
		{Discount: Discount{ID: 3, SortOrder: 2}},
		{Discount: Discount{ID: 1, SortOrder: 1}},
		{Discount: Discount{ID: 2, SortOrder: 1}},
	}
	snap := BuildSnapshot(rows)

	got := make([]int64, 0, 3)
	for _, d := range snap.All() {
		got = append(got, d.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, got, "sorted by SortOrder, then ID")
}

func TestSnapshot_AllIsCallerOwned(t *testing.T) {
	snap := BuildSnapshot([]CatalogRow{
		{Discount: Discount{ID: 1, SortOrder: 1}},
		{Discount: Discount{ID: 2, SortOrder: 2}},
	})

	first := snap.All()
	first[0], first[1] = first[1], first[0]

	again := snap.All()
	assert.Equal(t, int64(1), again[0].ID, "reordering the returned slice must not affect the snapshot")
	assert.Equal(t, int64(2), again[1].ID)
}

func TestCatalog_CachesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	source := &staticSource{rows: []CatalogRow{{Discount: Discount{ID: 1, Enabled: true}}}}
	catalog := NewCatalog(source, time.Minute)

	first, err := catalog.Snapshot(ctx)
	require.NoError(t, err)

	second, err := catalog.Snapshot(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second, "snapshot is shared until invalidated")
	assert.Equal(t, 1, source.calls)

	catalog.Invalidate()

	third, err := catalog.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, 2, source.calls)
}
