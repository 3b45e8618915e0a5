package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/artobs/taxongrid/internal/apperr"
	"github.com/artobs/taxongrid/internal/model"
)

// inClause builds a "?,?,?" placeholder string and matching args slice for
// an IN (...) clause over ids.
func inClause(ids []int) (placeholders string, args []any) {
	parts := make([]string, len(ids))
	args = make([]any, len(ids))
	for i, id := range ids {
		parts[i] = "?"
		args[i] = id
	}
	return strings.Join(parts, ","), args
}

// HotmapRows returns hotmap tiles for zoom across the given slot set and
// year range, read in autocommit (no explicit transaction). Rows are
// aggregated per (x, y_tile) using MAX(coverage), MAX(score) as required
// for year-range/slot-window aggregation — summing would double-count
// taxa observed across multiple buckets that are each already an
// aggregate.
func (s *Store) HotmapRows(ctx context.Context, zoom int, slots []int, yearFrom, yearTo int) ([]model.GridHotmap, error) {
	if len(slots) == 0 {
		return nil, nil
	}
	slotPH, slotArgs := inClause(slots)

	q := fmt.Sprintf(`
		SELECT x, y_tile, MAX(coverage) AS coverage, MAX(score) AS score,
			MIN(top_lat) AS top_lat, MIN(left_lon) AS left_lon, MAX(bottom_lat) AS bottom_lat, MAX(right_lon) AS right_lon,
			MAX(updated_at_utc) AS updated_at_utc
		FROM grid_hotmap
		WHERE zoom=? AND year BETWEEN ? AND ? AND slot_id IN (%s)
		GROUP BY x, y_tile
		ORDER BY coverage DESC, score DESC`, slotPH)

	args := append([]any{zoom, yearFrom, yearTo}, slotArgs...)
	rows, err := s.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "query hotmap rows", err)
	}
	defer rows.Close()

	var out []model.GridHotmap
	for rows.Next() {
		var x, yTile, coverage int
		var score float64
		var topLat, leftLon, botLat, rightLon float64
		var updatedAt string
		if err := rows.Scan(&x, &yTile, &coverage, &score, &topLat, &leftLon, &botLat, &rightLon, &updatedAt); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan hotmap row", err)
		}
		ts, _ := time.Parse(timeLayout, updatedAt)
		out = append(out, model.GridHotmap{
			HotmapKey: model.HotmapKey{Zoom: zoom, Year: yearFrom, Slot: 0},
			X:         x, Y: yTile, Coverage: coverage, Score: score,
			BBox:         model.BBox{TopLat: topLat, LeftLon: leftLon, BottomLat: botLat, RightLon: rightLon},
			UpdatedAtUTC: ts,
		})
	}
	return out, rows.Err()
}

// CellTaxaRows returns the taxa present in one tile across the given slot
// set and year range, aggregated via SUM(observations_count), restricted to
// activeTaxa (the union of active taxa across the requested slots).
func (s *Store) CellTaxaRows(ctx context.Context, zoom int, slots []int, yearFrom, yearTo, x, y int, activeTaxa []int, limit int) ([]model.CellTaxon, error) {
	if len(slots) == 0 || len(activeTaxa) == 0 {
		return nil, nil
	}
	slotPH, slotArgs := inClause(slots)
	taxaPH, taxaArgs := inClause(activeTaxa)

	q := fmt.Sprintf(`
		SELECT g.taxon_id AS taxon_id, SUM(g.observations_count) AS obs,
			COALESCE(d.scientific_name, '') AS scientific_name, COALESCE(d.swedish_name, '') AS swedish_name
		FROM taxon_grid g
		LEFT JOIN taxon_dim d ON d.taxon_id = g.taxon_id
		WHERE g.zoom=? AND g.year BETWEEN ? AND ? AND g.slot_id IN (%s) AND g.x=? AND g.y_tile=? AND g.taxon_id IN (%s)
		GROUP BY g.taxon_id
		ORDER BY obs DESC`, slotPH, taxaPH)

	args := []any{zoom, yearFrom, yearTo}
	args = append(args, slotArgs...)
	args = append(args, x, y)
	args = append(args, taxaArgs...)

	rows, err := s.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "query cell taxa", err)
	}
	defer rows.Close()

	var out []model.CellTaxon
	for rows.Next() {
		var ct model.CellTaxon
		if err := rows.Scan(&ct.TaxonID, &ct.ObservationsCount, &ct.ScientificName, &ct.SwedishName); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan cell taxa row", err)
		}
		out = append(out, ct)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// ActiveTaxaForKeys returns the union of HotmapTaxaSet members across the
// given (zoom, slot) combinations for any year in [yearFrom, yearTo].
func (s *Store) ActiveTaxaForKeys(ctx context.Context, zoom int, slots []int, yearFrom, yearTo int) ([]int, error) {
	if len(slots) == 0 {
		return nil, nil
	}
	slotPH, slotArgs := inClause(slots)
	q := fmt.Sprintf(`SELECT DISTINCT taxon_id FROM hotmap_taxa_set WHERE zoom=? AND year BETWEEN ? AND ? AND slot_id IN (%s)`, slotPH)
	args := append([]any{zoom, yearFrom, yearTo}, slotArgs...)

	rows, err := s.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "query active taxa", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var t int
		if err := rows.Scan(&t); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan active taxon", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
