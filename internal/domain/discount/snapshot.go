package discount

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	gocache "github.com/patrickmn/go-cache"
)

// CatalogRow is one pre-joined row from the discount store: the discount's
// scalar fields plus at most one related ID per scoping relation. A discount
// joined against N purchasables, M categories, and K user groups arrives as
// N*M*K rows that the snapshot builder folds back into a single Discount.
type CatalogRow struct {
	Discount      Discount
	PurchasableID *int64
	CategoryID    *int64
	UserGroupID   *int64
}

// CatalogSource loads all discounts with their scoping relations, pre-joined.
type CatalogSource interface {
	LoadAll(ctx context.Context) ([]CatalogRow, error)
}

// Snapshot is an immutable view of the discount catalog, shared read-only
// across concurrent evaluations. A catalog change produces a new Snapshot,
// never an in-place update.
type Snapshot struct {
	byID   map[int64]*Discount
	byCode map[string]*Discount
	sorted []*Discount
}

// BuildSnapshot folds pre-joined rows into one Discount per ID with three
// independent, deduplicated scoping sets.
func BuildSnapshot(rows []CatalogRow) *Snapshot {
	byID := make(map[int64]*Discount)
	seen := make(map[int64]map[string]struct{})

	for _, row := range rows {
		d, ok := byID[row.Discount.ID]
		if !ok {
			clone := row.Discount
			clone.PurchasableIDs = nil
			clone.CategoryIDs = nil
			clone.UserGroupIDs = nil
			d = &clone
			byID[d.ID] = d
			seen[d.ID] = make(map[string]struct{})
		}

		appendUnique(&d.PurchasableIDs, seen[d.ID], 'p', row.PurchasableID)
		appendUnique(&d.CategoryIDs, seen[d.ID], 'c', row.CategoryID)
		appendUnique(&d.UserGroupIDs, seen[d.ID], 'g', row.UserGroupID)
	}

	byCode := make(map[string]*Discount)
	sorted := make([]*Discount, 0, len(byID))
	for _, d := range byID {
		d.NormalizeScope()
		if d.Code != "" {
			byCode[strings.ToLower(d.Code)] = d
		}
		sorted = append(sorted, d)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].SortOrder != sorted[j].SortOrder {
			return sorted[i].SortOrder < sorted[j].SortOrder
		}
		return sorted[i].ID < sorted[j].ID
	})

	return &Snapshot{byID: byID, byCode: byCode, sorted: sorted}
}

func appendUnique(dst *[]int64, seen map[string]struct{}, kind byte, id *int64) {
	if id == nil {
		return
	}
	key := string(kind) + ":" + strconv.FormatInt(*id, 10)
	if _, dup := seen[key]; dup {
		return
	}
	seen[key] = struct{}{}
	*dst = append(*dst, *id)
}

// All returns every discount ordered by SortOrder. The slice is the caller's
// to reorder or filter; the discounts themselves are shared across concurrent
// evaluations and must not be mutated.
func (s *Snapshot) All() []*Discount {
	out := make([]*Discount, len(s.sorted))
	copy(out, s.sorted)
	return out
}

// ByID returns the discount with the given ID, or nil.
func (s *Snapshot) ByID(id int64) *Discount {
	return s.byID[id]
}

// ByCode returns the coupon-gated discount matching code case-insensitively,
// or nil.
func (s *Snapshot) ByCode(code string) *Discount {
	if code == "" {
		return nil
	}
	return s.byCode[strings.ToLower(code)]
}

const snapshotKey = "catalog"

// Catalog caches the current Snapshot for the lifetime of an evaluation
// context. Reloads are coalesced so a cache miss under concurrent load runs
// the source query once.
type Catalog struct {
	source CatalogSource
	cache  *gocache.Cache

	mu sync.Mutex // serializes reloads on cache miss
}

// NewCatalog creates a Catalog over the given source. Snapshots expire after
// ttl unless invalidated earlier by a catalog-changed notification.
func NewCatalog(source CatalogSource, ttl time.Duration) *Catalog {
	return &Catalog{
		source: source,
		cache:  gocache.New(ttl, 2*ttl),
	}
}

// Snapshot returns the cached snapshot, loading a fresh one when absent.
func (c *Catalog) Snapshot(ctx context.Context) (*Snapshot, error) {
	if v, ok := c.cache.Get(snapshotKey); ok {
		return v.(*Snapshot), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have completed the reload while we waited.
	if v, ok := c.cache.Get(snapshotKey); ok {
		return v.(*Snapshot), nil
	}

	rows, err := c.source.LoadAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load discount catalog")
	}

	snap := BuildSnapshot(rows)
	c.cache.Set(snapshotKey, snap, gocache.DefaultExpiration)
	return snap, nil
}

// Invalidate drops the cached snapshot so the next read sees fresh data.
// Wire this to the store's catalog-changed notification.
func (c *Catalog) Invalidate() {
	c.cache.Delete(snapshotKey)
}
