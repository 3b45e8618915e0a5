package resultcache

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/artobs/taxongrid/internal/model"
)

// HotmapLoader matches query.Engine's HotmapWindow signature.
type HotmapLoader func(ctx context.Context, zoom int, slots []int, yearFrom, yearTo int) ([]model.GridHotmap, error)

// CellTaxaLoader matches query.Engine's CellTaxaWindow signature.
type CellTaxaLoader func(ctx context.Context, zoom int, slots []int, yearFrom, yearTo, x, y, limit int) ([]model.CellTaxon, error)

// CachedQuery wraps a query.Engine with a read-through Cache in front of
// its two most expensive reads. It never changes results: on any cache
// error or miss it calls through to loader and (best-effort) populates
// the cache with what it found.
type CachedQuery struct {
	Cache *Cache
}

func NewCachedQuery(c *Cache) *CachedQuery {
	return &CachedQuery{Cache: c}
}

// HotmapWindow serves a HotmapWindow-shaped read through the cache,
// tagging the entry by every (zoom, slot) pair it covers so a later
// rebuild at any of those keys can invalidate it precisely.
func (q *CachedQuery) HotmapWindow(ctx context.Context, zoom int, slots []int, yearFrom, yearTo int, load HotmapLoader) ([]model.GridHotmap, error) {
	key := Key("hotmap_window", zoom, yearFrom, yearTo, slots, "")
	if b, ok := q.Cache.Get(ctx, key); ok {
		var rows []model.GridHotmap
		if err := json.Unmarshal(b, &rows); err == nil {
			return rows, nil
		}
	}

	rows, err := load(ctx, zoom, slots, yearFrom, yearTo)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(rows); err == nil {
		tags := make([]string, 0, len(slots))
		for _, s := range slots {
			tags = append(tags, ZoomSlotKeyPrefix(zoom, s))
		}
		q.Cache.Set(ctx, key, b, tags...)
	}
	return rows, nil
}

// CellTaxaWindow serves a CellTaxaWindow-shaped read through the cache.
func (q *CachedQuery) CellTaxaWindow(ctx context.Context, zoom int, slots []int, yearFrom, yearTo, x, y, limit int, load CellTaxaLoader) ([]model.CellTaxon, error) {
	extra := cellExtra(x, y, limit)
	key := Key("cell_taxa_window", zoom, yearFrom, yearTo, slots, extra)
	if b, ok := q.Cache.Get(ctx, key); ok {
		var rows []model.CellTaxon
		if err := json.Unmarshal(b, &rows); err == nil {
			return rows, nil
		}
	}

	rows, err := load(ctx, zoom, slots, yearFrom, yearTo, x, y, limit)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(rows); err == nil {
		tags := make([]string, 0, len(slots))
		for _, s := range slots {
			tags = append(tags, ZoomSlotKeyPrefix(zoom, s))
		}
		q.Cache.Set(ctx, key, b, tags...)
	}
	return rows, nil
}

// InvalidateBuild drops cached entries affected by a rebuild_hotmap at
// (zoom, slot), called once the build has committed.
func (q *CachedQuery) InvalidateBuild(zoom, slot int) {
	q.Cache.InvalidateTag(ZoomSlotKeyPrefix(zoom, slot))
}

func cellExtra(x, y, limit int) string {
	return "x=" + strconv.Itoa(x) + ":y=" + strconv.Itoa(y) + ":lim=" + strconv.Itoa(limit)
}
