// Package query implements the read-only hotmap and nearby-ranking
// operations served against the storage engine: window/range reads,
// per-cell taxa enumeration, and distance-weighted ranking.
package query

import (
	"context"
	"sort"

	"github.com/artobs/taxongrid/internal/apperr"
	"github.com/artobs/taxongrid/internal/distance"
	"github.com/artobs/taxongrid/internal/model"
	"github.com/artobs/taxongrid/internal/store"
	"github.com/artobs/taxongrid/internal/timeslot"
	"github.com/artobs/taxongrid/internal/tilemath"
)

// Engine serves read-only queries against a Store.
type Engine struct {
	Store *store.Store
}

// New builds a query Engine.
func New(s *store.Store) *Engine {
	return &Engine{Store: s}
}

// DefaultCandidateLimit bounds RankNearby's candidate scan.
const DefaultCandidateLimit = 4000

func validateSlots(slots []int) error {
	hasZero, hasNonZero := false, false
	for _, s := range slots {
		if !timeslot.IsValidSlot(s) {
			return apperr.New(apperr.BadRequest, "slot out of range [0,48]")
		}
		if s == timeslot.AllTime {
			hasZero = true
		} else {
			hasNonZero = true
		}
	}
	if hasZero && hasNonZero {
		return apperr.New(apperr.BadRequest, "slot 0 cannot be mixed with non-zero slots")
	}
	return nil
}

func validateYears(yearFrom, yearTo int) error {
	if yearFrom > yearTo {
		return apperr.New(apperr.BadRequest, "year_from must be <= year_to")
	}
	return nil
}

// HotmapByKey returns hotmap tiles for (zoom, slot) across an optional year
// range. yearFrom==yearTo==0 selects the all-years aggregate row.
func (e *Engine) HotmapByKey(ctx context.Context, zoom, slot, yearFrom, yearTo int) ([]model.GridHotmap, error) {
	return e.HotmapWindow(ctx, zoom, []int{slot}, yearFrom, yearTo)
}

// HotmapWindow is HotmapByKey generalized over a slot set (a seasonal
// window). Slot 0 may not be mixed with non-zero slots.
func (e *Engine) HotmapWindow(ctx context.Context, zoom int, slots []int, yearFrom, yearTo int) ([]model.GridHotmap, error) {
	if err := validateSlots(slots); err != nil {
		return nil, err
	}
	if err := validateYears(yearFrom, yearTo); err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, nil
	}
	return e.Store.HotmapRows(ctx, zoom, slots, yearFrom, yearTo)
}

// CellTaxa returns the taxa present in one tile, restricted to the active
// taxa set, for (zoom, slot) across an optional year range.
func (e *Engine) CellTaxa(ctx context.Context, zoom, slot, x, y, yearFrom, yearTo, limit int) ([]model.CellTaxon, error) {
	return e.CellTaxaWindow(ctx, zoom, []int{slot}, x, y, yearFrom, yearTo, limit)
}

// CellTaxaWindow is CellTaxa generalized over a slot set.
func (e *Engine) CellTaxaWindow(ctx context.Context, zoom int, slots []int, x, y, yearFrom, yearTo, limit int) ([]model.CellTaxon, error) {
	if err := validateSlots(slots); err != nil {
		return nil, err
	}
	if err := validateYears(yearFrom, yearTo); err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, nil
	}
	activeTaxa, err := e.Store.ActiveTaxaForKeys(ctx, zoom, slots, yearFrom, yearTo)
	if err != nil {
		return nil, err
	}
	return e.Store.CellTaxaRows(ctx, zoom, slots, yearFrom, yearTo, x, y, activeTaxa, limit)
}

// RankNearbyParams configures a RankNearby call.
type RankNearbyParams struct {
	Lat, Lon         float64
	Zoom             int
	Slot             int
	YearFrom, YearTo int
	MaxKM            float64
	Mode             distance.Mode
	D0KM             float64
	Gamma            float64
	Limit            int
	WithTaxa         bool
}

// RankNearby fetches candidate hotmap tiles, computes haversine distance and
// decay-weighted score from (lat, lon), and returns the top Limit tiles
// sorted by (dw_score DESC, distance ASC). max_km <= 0 returns empty.
func (e *Engine) RankNearby(ctx context.Context, p RankNearbyParams) ([]model.RankedTile, error) {
	if p.MaxKM <= 0 {
		return nil, nil
	}
	if err := validateSlots([]int{p.Slot}); err != nil {
		return nil, err
	}
	if err := validateYears(p.YearFrom, p.YearTo); err != nil {
		return nil, err
	}

	candidates, err := e.Store.HotmapRows(ctx, p.Zoom, []int{p.Slot}, p.YearFrom, p.YearTo)
	if err != nil {
		return nil, err
	}
	if len(candidates) > DefaultCandidateLimit {
		candidates = candidates[:DefaultCandidateLimit]
	}

	seen := make(map[[2]int]bool, len(candidates))
	ranked := make([]model.RankedTile, 0, len(candidates))
	for _, tile := range candidates {
		key := [2]int{tile.X, tile.Y}
		if seen[key] {
			continue
		}
		seen[key] = true

		lat, lon := tilemath.Centroid(tilemath.BBox{
			TopLat: tile.BBox.TopLat, LeftLon: tile.BBox.LeftLon,
			BottomLat: tile.BBox.BottomLat, RightLon: tile.BBox.RightLon,
		})
		d := distance.HaversineKM(p.Lat, p.Lon, lat, lon)
		if d > p.MaxKM {
			continue
		}
		w := distance.Weight(p.Mode, d, p.D0KM, p.Gamma)

		var taxa []model.CellTaxon
		if p.WithTaxa && p.YearFrom == p.YearTo {
			activeTaxa, err := e.Store.ActiveTaxaForKeys(ctx, p.Zoom, []int{p.Slot}, p.YearFrom, p.YearTo)
			if err == nil {
				taxa, _ = e.Store.CellTaxaRows(ctx, p.Zoom, []int{p.Slot}, p.YearFrom, p.YearTo, tile.X, tile.Y, activeTaxa, 0)
			}
		}

		ranked = append(ranked, model.RankedTile{
			GridHotmap: tile,
			DistanceKM: d,
			Weight:     w,
			DWScore:    tile.Score * w,
			Taxa:       taxa,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].DWScore != ranked[j].DWScore {
			return ranked[i].DWScore > ranked[j].DWScore
		}
		return ranked[i].DistanceKM < ranked[j].DistanceKM
	})

	if p.Limit > 0 && len(ranked) > p.Limit {
		ranked = ranked[:p.Limit]
	}
	return ranked, nil
}
