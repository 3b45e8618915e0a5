// Package ingest orchestrates the idempotent build pipeline: for each
// (slot, taxon) it fetches the base zoom from upstream, detects change via
// content hash, persists, derives coarser zooms, computes an all-years
// aggregate, and finally rebuilds the hotmap for every (zoom, year) pair.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/artobs/taxongrid/internal/apperr"
	"github.com/artobs/taxongrid/internal/contenthash"
	"github.com/artobs/taxongrid/internal/model"
	"github.com/artobs/taxongrid/internal/store"
	"github.com/artobs/taxongrid/internal/timeslot"
	"github.com/artobs/taxongrid/internal/upstream"
)

// TaxonInput is one taxon entry from the loaded taxa list.
type TaxonInput struct {
	TaxonID        int
	ScientificName string
	SwedishName    string
}

// Params describes one pipeline invocation.
type Params struct {
	Zooms    []int // any order; Run sorts a copy desc and uses the largest as base
	Slots    []int // possibly {0}
	YearFrom int
	YearTo   int
	Taxa     []TaxonInput
	Alpha    float64
	Beta     float64
	Force    bool
}

// Result summarizes one completed build.
type Result struct {
	SlotsBuilt []int
	Zooms      []int
	BaseZoom   int
	NTaxa      int
	Alpha      float64
	Beta       float64
	YearFrom   int
	YearTo     int
}

// MaxSplitDepth bounds the resilient upstream client's recursive bbox split.
const MaxSplitDepth = 4

// InterTaxonInterval is the minimum pacing between per-taxon upstream calls,
// applied even when upstream is healthy, to avoid bursty request patterns.
const InterTaxonInterval = 2 * time.Second

// WorldBBox is the full WGS84 extent, used as the default coverage area a
// fetch is split against when the upstream API refuses an oversized grid.
var WorldBBox = model.BBox{TopLat: 90, LeftLon: -180, BottomLat: -90, RightLon: 180}

// Pipeline wires the upstream client and storage engine together.
type Pipeline struct {
	Store              *store.Store
	Upstream            *upstream.Client
	InterTaxonInterval time.Duration
	MaxSplitDepth       int
	CoverageBBox        model.BBox
	Logger              zerolog.Logger
}

// New builds a Pipeline with default pacing, split-depth tuning, and a
// world-wide coverage bbox for the resilient split fallback.
func New(s *store.Store, client *upstream.Client, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		Store:               s,
		Upstream:            client,
		InterTaxonInterval:  InterTaxonInterval,
		MaxSplitDepth:       MaxSplitDepth,
		CoverageBBox:        WorldBBox,
		Logger:              logger,
	}
}

// Run executes one full build: per (slot, taxon) fetch-and-derive, an
// all-years merge, taxon dimension upserts, then a hotmap rebuild for
// every (zoom, year) pair touched.
func (p *Pipeline) Run(ctx context.Context, params Params) (Result, error) {
	if len(params.Zooms) == 0 {
		return Result{}, apperr.New(apperr.BadRequest, "at least one zoom is required")
	}
	zooms := append([]int(nil), params.Zooms...)
	sort.Sort(sort.Reverse(sort.IntSlice(zooms)))
	base := zooms[0]

	for _, s := range params.Slots {
		if !timeslot.IsValidSlot(s) {
			return Result{}, apperr.New(apperr.BadRequest, fmt.Sprintf("slot %d out of range", s))
		}
	}

	for _, slot := range params.Slots {
		for i, taxon := range params.Taxa {
			if i > 0 {
				p.sleep(ctx, p.interval())
			}
			if err := p.buildTaxonSlot(ctx, taxon, slot, base, zooms, params); err != nil {
				return Result{}, err
			}
		}
	}

	for _, taxon := range params.Taxa {
		if err := p.Store.UpsertTaxonDim(ctx, model.TaxonDim{
			TaxonID:        taxon.TaxonID,
			ScientificName: taxon.ScientificName,
			SwedishName:    taxon.SwedishName,
		}); err != nil {
			return Result{}, err
		}
	}

	activeTaxa := make([]int, len(params.Taxa))
	for i, t := range params.Taxa {
		activeTaxa[i] = t.TaxonID
	}

	years := append([]int{0}, yearsInRange(params.YearFrom, params.YearTo)...)
	for _, slot := range params.Slots {
		for _, y := range years {
			for _, z := range zooms {
				if err := p.Store.RebuildHotmap(ctx, z, y, slot, activeTaxa, params.Alpha, params.Beta); err != nil {
					return Result{}, err
				}
			}
		}
	}

	return Result{
		SlotsBuilt: params.Slots,
		Zooms:      zooms,
		BaseZoom:   base,
		NTaxa:      len(params.Taxa),
		Alpha:      params.Alpha,
		Beta:       params.Beta,
		YearFrom:   params.YearFrom,
		YearTo:     params.YearTo,
	}, nil
}

func yearsInRange(from, to int) []int {
	if from == 0 && to == 0 {
		return nil
	}
	out := make([]int, 0, to-from+1)
	for y := from; y <= to; y++ {
		out = append(out, y)
	}
	return out
}

func (p *Pipeline) interval() time.Duration {
	if p.InterTaxonInterval <= 0 {
		return InterTaxonInterval
	}
	return p.InterTaxonInterval
}

func (p *Pipeline) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func (p *Pipeline) splitDepth() int {
	if p.MaxSplitDepth <= 0 {
		return MaxSplitDepth
	}
	return p.MaxSplitDepth
}

func (p *Pipeline) coverageBBox() model.BBox {
	if p.CoverageBBox == (model.BBox{}) {
		return WorldBBox
	}
	return p.CoverageBBox
}

// buildTaxonSlot builds one (taxon, slot): per-year fetch/hash-compare/
// persist/derive, then the all-years aggregate.
func (p *Pipeline) buildTaxonSlot(ctx context.Context, taxon TaxonInput, slot, base int, zooms []int, params Params) error {
	yearList := yearsInRange(params.YearFrom, params.YearTo)
	perYearCells := make(map[int][]model.GridCell, len(yearList))

	for _, y := range yearList {
		cells, changed, sha, err := p.fetchAndMaybePersist(ctx, taxon.TaxonID, base, slot, y, params.Force)
		if err != nil {
			return err
		}
		perYearCells[y] = cells

		if changed {
			for _, dst := range zooms {
				if dst == base {
					continue
				}
				if err := p.Store.MaterializeParentZoomFromChild(ctx, taxon.TaxonID, slot, y, base, dst, sha); err != nil {
					return err
				}
			}
		}
	}

	if len(yearList) == 0 {
		// year_from == year_to == 0: fetch the all-years bucket directly.
		_, changed, sha, err := p.fetchAndMaybePersist(ctx, taxon.TaxonID, base, slot, 0, params.Force)
		if err != nil {
			return err
		}
		if changed {
			for _, dst := range zooms {
				if dst == base {
					continue
				}
				if err := p.Store.MaterializeParentZoomFromChild(ctx, taxon.TaxonID, slot, 0, base, dst, sha); err != nil {
					return err
				}
			}
		}
		return nil
	}

	merged := make([][]model.GridCell, 0, len(yearList))
	for _, y := range yearList {
		merged = append(merged, perYearCells[y])
	}
	allYearsCells := upstream.MergeCellListsAllYears(merged...)
	sha, err := hashCells(allYearsCells)
	if err != nil {
		return err
	}

	key := model.Key{TaxonID: taxon.TaxonID, Zoom: base, Year: 0, Slot: slot}
	existing, ok, err := p.Store.GetLayerState(ctx, key)
	if err != nil {
		return err
	}
	if !ok || existing.PayloadSHA256 != sha || params.Force {
		now := time.Now().UTC()
		if err := p.Store.ReplaceTaxonGrid(ctx, key, allYearsCells, now); err != nil {
			return err
		}
		if err := p.Store.UpsertLayerState(ctx, key, sha, len(allYearsCells), now); err != nil {
			return err
		}
		for _, dst := range zooms {
			if dst == base {
				continue
			}
			if err := p.Store.MaterializeParentZoomFromChild(ctx, taxon.TaxonID, slot, 0, base, dst, sha); err != nil {
				return err
			}
		}
	}

	return nil
}

// fetchAndMaybePersist handles one (taxon, base zoom, slot, year): build
// the date filter, call the resilient upstream client,
// hash, compare against the stored watermark, and persist only if changed
// (or force is set).
func (p *Pipeline) fetchAndMaybePersist(ctx context.Context, taxonID, base, slot, year int, force bool) (cells []model.GridCell, changed bool, sha string, err error) {
	filter, err := dateFilterFor(slot, year)
	if err != nil {
		return nil, false, "", err
	}

	req := upstream.Request{
		TaxonIDs: []int{taxonID},
		Zoom:     base,
		Date:     filter,
		BBox:     &upstream.BBoxFilter{BBox: p.coverageBBox()},
	}
	cells, err = p.Upstream.GeogridResilient(ctx, req, p.splitDepth())
	if err != nil {
		return nil, false, "", classifyUpstreamErr(err)
	}

	sha, err = hashCells(cells)
	if err != nil {
		return nil, false, "", err
	}

	key := model.Key{TaxonID: taxonID, Zoom: base, Year: year, Slot: slot}
	existing, ok, err := p.Store.GetLayerState(ctx, key)
	if err != nil {
		return nil, false, "", err
	}

	if ok && existing.PayloadSHA256 == sha && !force {
		return cells, false, sha, nil
	}

	now := time.Now().UTC()
	if err := p.Store.ReplaceTaxonGrid(ctx, key, cells, now); err != nil {
		return nil, false, "", err
	}
	if err := p.Store.UpsertLayerState(ctx, key, sha, len(cells), now); err != nil {
		return nil, false, "", err
	}
	return cells, true, sha, nil
}

func classifyUpstreamErr(err error) error {
	return apperr.Wrap(apperr.UpstreamFatal, "upstream request failed", err)
}

func hashCells(cells []model.GridCell) (string, error) {
	projected := make([]contenthash.Cell, len(cells))
	for i, c := range cells {
		projected[i] = contenthash.Cell{
			X: c.X, Y: c.Y, Zoom: c.Zoom,
			ObservationsCount: c.ObservationsCount, TaxaCount: c.TaxaCount,
			TopLat: c.BBox.TopLat, TopLon: c.BBox.LeftLon,
			BottomLat: c.BBox.BottomLat, BottomLon: c.BBox.RightLon,
		}
	}
	return contenthash.Hash(projected)
}

// dateFilterFor builds the upstream date filter for a (slot, year) pair:
// slot 0 with an explicit year collapses to the full calendar year; slots
// 1..48 resolve to the exact (month, quartile, year) day bounds. year=0
// (all-years) with slot 0 yields no date filter at all.
func dateFilterFor(slot, year int) (*upstream.DateFilter, error) {
	if slot == timeslot.AllTime {
		if year == 0 {
			return nil, nil
		}
		return &upstream.DateFilter{
			StartDate: fmt.Sprintf("%04d-01-01", year),
			EndDate:   fmt.Sprintf("%04d-12-31", year),
		}, nil
	}

	month, quartile, err := timeslot.SplitSlot(slot)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "invalid slot", err)
	}
	boundYear := year
	if boundYear == 0 {
		boundYear = time.Now().UTC().Year()
	}
	startDay, endDay, err := timeslot.SlotBounds(month, quartile, boundYear)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "invalid slot bounds", err)
	}
	return &upstream.DateFilter{
		StartDate: fmt.Sprintf("%04d-%02d-%02d", boundYear, month, startDay),
		EndDate:   fmt.Sprintf("%04d-%02d-%02d", boundYear, month, endDay),
	}, nil
}
