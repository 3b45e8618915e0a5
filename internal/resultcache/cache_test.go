package resultcache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/artobs/taxongrid/internal/model"
)

func newMiniRedis(t *testing.T) *RedisAdapter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	a, err := NewRedisAdapter(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisAdapter: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestKeyIsOrderIndependentOverSlots(t *testing.T) {
	a := Key("hotmap_window", 15, 2020, 2022, []int{3, 1, 2}, "")
	b := Key("hotmap_window", 15, 2020, 2022, []int{1, 2, 3}, "")
	if a != b {
		t.Errorf("expected order-independent keys, got %q vs %q", a, b)
	}
}

func TestKeyDiffersOnOperationZoomOrRange(t *testing.T) {
	base := Key("hotmap_window", 15, 2020, 2022, []int{0}, "")
	if Key("cell_taxa_window", 15, 2020, 2022, []int{0}, "") == base {
		t.Error("expected operation to affect key")
	}
	if Key("hotmap_window", 14, 2020, 2022, []int{0}, "") == base {
		t.Error("expected zoom to affect key")
	}
	if Key("hotmap_window", 15, 2021, 2022, []int{0}, "") == base {
		t.Error("expected year range to affect key")
	}
}

func TestCacheLocalHitThenMiss(t *testing.T) {
	c, err := New(8, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	c.Set(ctx, "k", []byte("v"))

	if v, ok := c.Get(ctx, "k"); !ok || string(v) != "v" {
		t.Fatalf("expected hit, got ok=%v v=%q", ok, v)
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expected entry to have expired")
	}
}

func TestCacheFallsBackToRedisAndPromotes(t *testing.T) {
	rdb := newMiniRedis(t)
	ctx := context.Background()

	c, err := New(8, time.Minute, rdb)
	if err != nil {
		t.Fatal(err)
	}
	if err := rdb.Set(ctx, "k", []byte("from-redis"), time.Minute); err != nil {
		t.Fatal(err)
	}

	v, ok := c.Get(ctx, "k")
	if !ok || string(v) != "from-redis" {
		t.Fatalf("expected redis-backed hit, got ok=%v v=%q", ok, v)
	}
	if c.Len() != 1 {
		t.Error("expected redis hit to promote into local tier")
	}
}

func TestInvalidateTagDropsOnlyTaggedKeys(t *testing.T) {
	c, err := New(8, time.Minute, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	c.Set(ctx, "a", []byte("1"), "z=15:s=0")
	c.Set(ctx, "b", []byte("2"), "z=15:s=1")

	c.InvalidateTag("z=15:s=0")

	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("expected tagged key to be invalidated")
	}
	if _, ok := c.Get(ctx, "b"); !ok {
		t.Error("expected key under a different tag to survive invalidation")
	}
}

func TestCachedQueryHotmapWindowCachesAndInvalidates(t *testing.T) {
	c, err := New(8, time.Minute, nil)
	if err != nil {
		t.Fatal(err)
	}
	q := NewCachedQuery(c)
	ctx := context.Background()

	calls := 0
	load := func(ctx context.Context, zoom int, slots []int, yearFrom, yearTo int) ([]model.GridHotmap, error) {
		calls++
		return []model.GridHotmap{{HotmapKey: model.HotmapKey{Zoom: zoom}, X: 1, Y: 1, Coverage: 2, Score: 0.5}}, nil
	}

	rows, err := q.HotmapWindow(ctx, 15, []int{0}, 0, 0, load)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Coverage != 2 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if calls != 1 {
		t.Fatalf("expected 1 load call, got %d", calls)
	}

	if _, err := q.HotmapWindow(ctx, 15, []int{0}, 0, 0, load); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected cache hit to avoid a second load call, got %d calls", calls)
	}

	q.InvalidateBuild(15, 0)
	if _, err := q.HotmapWindow(ctx, 15, []int{0}, 0, 0, load); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected invalidation to force a reload, got %d calls", calls)
	}
}
