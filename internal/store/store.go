// Package store implements the relational storage engine: per-taxon grids,
// layer-state watermarks, the materialized hotmap, and the taxa dictionary,
// backed by a single SQLite database file under WAL journaling.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/artobs/taxongrid/internal/apperr"
	"github.com/artobs/taxongrid/internal/contenthash"
	"github.com/artobs/taxongrid/internal/model"
	"github.com/artobs/taxongrid/internal/tilemath"
)

// Store wraps the SQLite connection pool with the write/read discipline the
// component design requires: writers run each logical operation inside a
// transaction, readers run in autocommit.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if absent) the SQLite database at path, enabling WAL
// journaling and a busy timeout, and ensures the schema exists.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "open database", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.Internal, "apply schema", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	return sqliteLooksLikeBusy(err.Error())
}

func sqliteLooksLikeBusy(msg string) bool {
	for _, needle := range []string{"database is locked", "busy", "SQLITE_BUSY"} {
		if contains(msg, needle) {
			return true
		}
	}
	return false
}

func contains(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

// withTx runs fn inside a single transaction, mapping SQLite lock errors to
// apperr.StoreBusy.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		if isBusyErr(err) {
			return apperr.Wrap(apperr.StoreBusy, "begin transaction", err)
		}
		return apperr.Wrap(apperr.Internal, "begin transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		if isBusyErr(err) {
			return apperr.Wrap(apperr.StoreBusy, "transaction failed", err)
		}
		var appErr *apperr.Error
		if e, ok := apperr.As(err); ok {
			appErr = e
			return appErr
		}
		return apperr.Wrap(apperr.Internal, "transaction failed", err)
	}
	if err := tx.Commit(); err != nil {
		if isBusyErr(err) {
			return apperr.Wrap(apperr.StoreBusy, "commit transaction", err)
		}
		return apperr.Wrap(apperr.Internal, "commit transaction", err)
	}
	return nil
}

const timeLayout = time.RFC3339Nano

// ReplaceTaxonGrid atomically deletes and bulk-inserts the grid cells for
// one (taxon, zoom, year, slot) layer. Cells must not contain duplicate
// (x, y) pairs.
func (s *Store) ReplaceTaxonGrid(ctx context.Context, key model.Key, cells []model.GridCell, fetchedAt time.Time) error {
	if dupCell := firstDuplicateXY(cells); dupCell != nil {
		return apperr.New(apperr.Internal, fmt.Sprintf("duplicate cell (%d,%d) in replace_taxon_grid", dupCell.X, dupCell.Y))
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM taxon_grid WHERE taxon_id=? AND zoom=? AND year=? AND slot_id=?`,
			key.TaxonID, key.Zoom, key.Year, key.Slot); err != nil {
			return fmt.Errorf("delete taxon_grid: %w", err)
		}

		stmt := `INSERT INTO taxon_grid
			(taxon_id, zoom, year, slot_id, x, y_tile, observations_count, taxa_count, top_lat, left_lon, bottom_lat, right_lon, fetched_at_utc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		for _, c := range cells {
			if _, err := tx.ExecContext(ctx, stmt,
				key.TaxonID, key.Zoom, key.Year, key.Slot, c.X, c.Y,
				c.ObservationsCount, c.TaxaCount,
				c.BBox.TopLat, c.BBox.LeftLon, c.BBox.BottomLat, c.BBox.RightLon,
				fetchedAt.UTC().Format(timeLayout)); err != nil {
				return fmt.Errorf("insert taxon_grid: %w", err)
			}
		}
		return nil
	})
}

func firstDuplicateXY(cells []model.GridCell) *model.GridCell {
	seen := make(map[[2]int]bool, len(cells))
	for i := range cells {
		key := [2]int{cells[i].X, cells[i].Y}
		if seen[key] {
			return &cells[i]
		}
		seen[key] = true
	}
	return nil
}

// UpsertLayerState sets the content-hash watermark for a layer.
func (s *Store) UpsertLayerState(ctx context.Context, key model.Key, sha string, cellCount int, fetchedAt time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO taxon_layer_state (taxon_id, zoom, year, slot_id, last_fetch_utc, payload_sha256, grid_cell_count)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(taxon_id, zoom, year, slot_id) DO UPDATE SET
				last_fetch_utc=excluded.last_fetch_utc,
				payload_sha256=excluded.payload_sha256,
				grid_cell_count=excluded.grid_cell_count`,
			key.TaxonID, key.Zoom, key.Year, key.Slot,
			fetchedAt.UTC().Format(timeLayout), sha, cellCount)
		if err != nil {
			return fmt.Errorf("upsert layer state: %w", err)
		}
		return nil
	})
}

// GetLayerState returns the current watermark for a layer, or ok=false if
// absent.
func (s *Store) GetLayerState(ctx context.Context, key model.Key) (state model.TaxonLayerState, ok bool, err error) {
	row := struct {
		LastFetchUTC  string `db:"last_fetch_utc"`
		PayloadSHA256 string `db:"payload_sha256"`
		GridCellCount int    `db:"grid_cell_count"`
	}{}
	err = s.db.GetContext(ctx, &row, `
		SELECT last_fetch_utc, payload_sha256, grid_cell_count
		FROM taxon_layer_state WHERE taxon_id=? AND zoom=? AND year=? AND slot_id=?`,
		key.TaxonID, key.Zoom, key.Year, key.Slot)
	if err == sql.ErrNoRows {
		return model.TaxonLayerState{}, false, nil
	}
	if err != nil {
		return model.TaxonLayerState{}, false, apperr.Wrap(apperr.Internal, "get layer state", err)
	}
	ts, _ := time.Parse(timeLayout, row.LastFetchUTC)
	return model.TaxonLayerState{
		Key:           key,
		LastFetchUTC:  ts,
		PayloadSHA256: row.PayloadSHA256,
		GridCellCount: row.GridCellCount,
	}, true, nil
}

// MaterializeParentZoomFromChild aggregates a finer zoom's cells into a
// coarser destination zoom by parent-tile grouping, replaces the
// destination layer, and writes a LOCAL_FROM_<src>:<srcSHA> watermark.
// dstZoom must be less than srcZoom.
func (s *Store) MaterializeParentZoomFromChild(ctx context.Context, taxonID, slot, year, srcZoom, dstZoom int, srcSHA string) error {
	if dstZoom >= srcZoom {
		return apperr.New(apperr.Internal, "materialize_parent_zoom_from_child requires dst_zoom < src_zoom")
	}
	srcKey := model.Key{TaxonID: taxonID, Zoom: srcZoom, Year: year, Slot: slot}
	children, err := s.getCells(ctx, srcKey)
	if err != nil {
		return err
	}

	factor := tilemath.ZoomFactor(srcZoom, dstZoom)
	type agg struct {
		obs, taxaSum int64
		taxaMax      int64
		n            int
	}
	groups := map[[2]int]*agg{}
	order := make([][2]int, 0)
	for _, c := range children {
		px, py := c.X/factor, c.Y/factor
		key := [2]int{px, py}
		g, ok := groups[key]
		if !ok {
			g = &agg{}
			groups[key] = g
			order = append(order, key)
		}
		g.obs += c.ObservationsCount
		g.taxaSum += c.TaxaCount
		if c.TaxaCount > g.taxaMax {
			g.taxaMax = c.TaxaCount
		}
		g.n++
	}

	dstCells := make([]model.GridCell, 0, len(order))
	for _, key := range order {
		g := groups[key]
		taxaCount := g.taxaMax
		if taxaCount == 0 {
			taxaCount = 1
		}
		bbox := tilemath.TileBBox(dstZoom, key[0], key[1])
		dstCells = append(dstCells, model.GridCell{
			X: key[0], Y: key[1], Zoom: dstZoom,
			ObservationsCount: g.obs,
			TaxaCount:         taxaCount,
			BBox: model.BBox{
				TopLat: bbox.TopLat, LeftLon: bbox.LeftLon,
				BottomLat: bbox.BottomLat, RightLon: bbox.RightLon,
			},
		})
	}

	dstKey := model.Key{TaxonID: taxonID, Zoom: dstZoom, Year: year, Slot: slot}
	now := time.Now().UTC()
	if err := s.ReplaceTaxonGrid(ctx, dstKey, dstCells, now); err != nil {
		return err
	}
	marker := contenthash.LocalFromMarker(srcZoom, srcSHA)
	return s.UpsertLayerState(ctx, dstKey, marker, len(dstCells), now)
}

// GetCells returns the persisted grid cells for a (taxon, zoom, year, slot)
// layer, read in autocommit.
func (s *Store) GetCells(ctx context.Context, key model.Key) ([]model.GridCell, error) {
	return s.getCells(ctx, key)
}

func (s *Store) getCells(ctx context.Context, key model.Key) ([]model.GridCell, error) {
	rows := []struct {
		X        int     `db:"x"`
		Y        int     `db:"y_tile"`
		Obs      int64   `db:"observations_count"`
		Taxa     int64   `db:"taxa_count"`
		TopLat   float64 `db:"top_lat"`
		LeftLon  float64 `db:"left_lon"`
		BotLat   float64 `db:"bottom_lat"`
		RightLon float64 `db:"right_lon"`
	}{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT x, y_tile, observations_count, taxa_count, top_lat, left_lon, bottom_lat, right_lon
		FROM taxon_grid WHERE taxon_id=? AND zoom=? AND year=? AND slot_id=?`,
		key.TaxonID, key.Zoom, key.Year, key.Slot)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "select taxon_grid cells", err)
	}
	out := make([]model.GridCell, len(rows))
	for i, r := range rows {
		out[i] = model.GridCell{
			X: r.X, Y: r.Y, Zoom: key.Zoom,
			ObservationsCount: r.Obs, TaxaCount: r.Taxa,
			BBox: model.BBox{TopLat: r.TopLat, LeftLon: r.LeftLon, BottomLat: r.BotLat, RightLon: r.RightLon},
		}
	}
	return out, nil
}

// RebuildHotmap recomputes GridHotmap and HotmapTaxaSet for (zoom, year,
// slot) from TaxonGrid rows restricted to activeTaxa, using the scoring
// formula score = coverage^alpha / (obsTotal+1)^beta.
func (s *Store) RebuildHotmap(ctx context.Context, zoom, year, slot int, activeTaxa []int, alpha, beta float64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM grid_hotmap WHERE zoom=? AND year=? AND slot_id=?`, zoom, year, slot); err != nil {
			return fmt.Errorf("delete grid_hotmap: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM hotmap_taxa_set WHERE zoom=? AND year=? AND slot_id=?`, zoom, year, slot); err != nil {
			return fmt.Errorf("delete hotmap_taxa_set: %w", err)
		}

		if len(activeTaxa) == 0 {
			return nil
		}

		taxaSet := make(map[int]bool, len(activeTaxa))
		for _, t := range activeTaxa {
			taxaSet[t] = true
		}
		ids := make([]int, 0, len(taxaSet))
		for t := range taxaSet {
			ids = append(ids, t)
			if _, err := tx.ExecContext(ctx, `INSERT INTO hotmap_taxa_set (zoom, year, slot_id, taxon_id) VALUES (?,?,?,?)`, zoom, year, slot, t); err != nil {
				return fmt.Errorf("insert hotmap_taxa_set: %w", err)
			}
		}
		sort.Ints(ids)

		query, args := inQuery(`
			SELECT x, y_tile, COUNT(DISTINCT taxon_id) AS coverage, SUM(observations_count) AS obs_total,
				MIN(top_lat) AS top_lat, MIN(left_lon) AS left_lon, MAX(bottom_lat) AS bottom_lat, MAX(right_lon) AS right_lon
			FROM taxon_grid
			WHERE zoom=? AND year=? AND slot_id=? AND observations_count > 0 AND taxon_id IN (%s)
			GROUP BY x, y_tile`, ids)
		queryArgs := append([]any{zoom, year, slot}, args...)

		rows, err := tx.QueryxContext(ctx, query, queryArgs...)
		if err != nil {
			return fmt.Errorf("aggregate hotmap: %w", err)
		}
		defer rows.Close()

		now := time.Now().UTC().Format(timeLayout)
		insert := `INSERT INTO grid_hotmap (zoom, year, slot_id, x, y_tile, coverage, score, top_lat, left_lon, bottom_lat, right_lon, updated_at_utc)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`
		for rows.Next() {
			var x, yTile, coverage int
			var obsTotal int64
			var topLat, leftLon, botLat, rightLon float64
			if err := rows.Scan(&x, &yTile, &coverage, &obsTotal, &topLat, &leftLon, &botLat, &rightLon); err != nil {
				return fmt.Errorf("scan hotmap row: %w", err)
			}
			score := math.Pow(float64(coverage), alpha) / math.Pow(float64(obsTotal)+1, beta)
			if _, err := tx.ExecContext(ctx, insert, zoom, year, slot, x, yTile, coverage, score, topLat, leftLon, botLat, rightLon, now); err != nil {
				return fmt.Errorf("insert grid_hotmap: %w", err)
			}
		}
		return rows.Err()
	})
}

func inQuery(base string, ids []int) (string, []any) {
	placeholders := ""
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = id
	}
	return fmt.Sprintf(base, placeholders), args
}

// ClearHotmap deletes hotmap rows, optionally scoped by zoom/year/slot
// (a nil pointer means "match any" for that dimension).
func (s *Store) ClearHotmap(ctx context.Context, zoom, year, slot *int) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		q := `DELETE FROM grid_hotmap WHERE 1=1`
		args := []any{}
		if zoom != nil {
			q += ` AND zoom=?`
			args = append(args, *zoom)
		}
		if year != nil {
			q += ` AND year=?`
			args = append(args, *year)
		}
		if slot != nil {
			q += ` AND slot_id=?`
			args = append(args, *slot)
		}
		_, err := tx.ExecContext(ctx, q, args...)
		return err
	})
}

// ClearDerivedZoomCache deletes taxon_layer_state (and taxon_grid) rows
// whose watermark is a LOCAL_FROM_ marker and whose zoom is not keepZoom,
// optionally scoped by year/slot.
func (s *Store) ClearDerivedZoomCache(ctx context.Context, keepZoom int, year, slot *int) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		q := `SELECT taxon_id, zoom, year, slot_id FROM taxon_layer_state WHERE payload_sha256 LIKE 'LOCAL_FROM_%' AND zoom != ?`
		args := []any{keepZoom}
		if year != nil {
			q += ` AND year=?`
			args = append(args, *year)
		}
		if slot != nil {
			q += ` AND slot_id=?`
			args = append(args, *slot)
		}
		rows, err := tx.QueryxContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("select derived layers: %w", err)
		}
		type layerKey struct {
			TaxonID, Zoom, Year, Slot int
		}
		var toDelete []layerKey
		for rows.Next() {
			var k layerKey
			if err := rows.Scan(&k.TaxonID, &k.Zoom, &k.Year, &k.Slot); err != nil {
				rows.Close()
				return fmt.Errorf("scan derived layer: %w", err)
			}
			toDelete = append(toDelete, k)
		}
		rows.Close()

		for _, k := range toDelete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM taxon_layer_state WHERE taxon_id=? AND zoom=? AND year=? AND slot_id=?`,
				k.TaxonID, k.Zoom, k.Year, k.Slot); err != nil {
				return fmt.Errorf("delete derived layer state: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM taxon_grid WHERE taxon_id=? AND zoom=? AND year=? AND slot_id=?`,
				k.TaxonID, k.Zoom, k.Year, k.Slot); err != nil {
				return fmt.Errorf("delete derived grid: %w", err)
			}
		}
		return nil
	})
}

// IsValidLocalFrom reports whether marker matches the expected
// LOCAL_FROM_<srcZoom>:<srcSHA> form.
func (s *Store) IsValidLocalFrom(marker string, srcZoom int, srcSHA string) bool {
	return contenthash.IsValidLocalFrom(marker, srcZoom, srcSHA)
}

// UpsertTaxonDim writes/refreshes the human-readable name row for a taxon.
func (s *Store) UpsertTaxonDim(ctx context.Context, t model.TaxonDim) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO taxon_dim (taxon_id, scientific_name, swedish_name, updated_at_utc)
			VALUES (?,?,?,?)
			ON CONFLICT(taxon_id) DO UPDATE SET
				scientific_name=excluded.scientific_name,
				swedish_name=excluded.swedish_name,
				updated_at_utc=excluded.updated_at_utc`,
			t.TaxonID, t.ScientificName, t.SwedishName, time.Now().UTC().Format(timeLayout))
		return err
	})
}
