package httpapi

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/artobs/taxongrid/internal/apperr"
	"github.com/artobs/taxongrid/internal/distance"
	"github.com/artobs/taxongrid/internal/export"
	"github.com/artobs/taxongrid/internal/ingest"
	"github.com/artobs/taxongrid/internal/logger"
	"github.com/artobs/taxongrid/internal/model"
	"github.com/artobs/taxongrid/internal/observability"
	"github.com/artobs/taxongrid/internal/query"
	"github.com/artobs/taxongrid/internal/taxalist"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type buildRequest struct {
	SlotID   *int  `json:"slot_id"`
	SlotIDs  []int `json:"slot_ids"`
	Zooms    []int `json:"zooms"`
	N        int   `json:"n"`
	Alpha    *float64 `json:"alpha"`
	Beta     *float64 `json:"beta"`
	Force    bool  `json:"force"`
	YearFrom int   `json:"year_from"`
	YearTo   int   `json:"year_to"`
}

type buildResponse struct {
	OK         bool    `json:"ok"`
	SlotsBuilt []int   `json:"slots_built"`
	Zooms      []int   `json:"zooms"`
	BaseZoom   int     `json:"base_zoom"`
	NTaxa      int     `json:"n_taxa"`
	Alpha      float64 `json:"alpha"`
	Beta       float64 `json:"beta"`
	YearFrom   int     `json:"year_from"`
	YearTo     int     `json:"year_to"`
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req buildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, apperr.New(apperr.BadRequest, "invalid JSON body"))
		return
	}

	slots := req.SlotIDs
	if req.SlotID != nil {
		slots = append([]int{*req.SlotID}, slots...)
	}
	if len(slots) == 0 {
		writeAPIError(w, apperr.New(apperr.BadRequest, "slot_id or slot_ids is required"))
		return
	}
	if len(req.Zooms) == 0 {
		writeAPIError(w, apperr.New(apperr.BadRequest, "zooms is required"))
		return
	}

	release, ok := s.BuildLock.TryAcquire()
	if !ok {
		observability.IncBuildBusy()
		writeAPIError(w, apperr.New(apperr.BuildBusy, "a build is already in progress"))
		return
	}
	defer release()

	taxa, err := s.loadTaxa(req.N)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	alpha := s.DefaultAlpha
	if req.Alpha != nil {
		alpha = *req.Alpha
	}
	beta := s.DefaultBeta
	if req.Beta != nil {
		beta = *req.Beta
	}

	params := ingest.Params{
		Zooms:    req.Zooms,
		Slots:    slots,
		YearFrom: req.YearFrom,
		YearTo:   req.YearTo,
		Taxa:     taxa,
		Alpha:    alpha,
		Beta:     beta,
		Force:    req.Force,
	}

	ctx := logger.WithOperation(r.Context(), "ingest.build")
	result, err := s.Pipeline.Run(ctx, params)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	if s.CachedQuery != nil {
		for _, z := range result.Zooms {
			for _, sl := range result.SlotsBuilt {
				s.CachedQuery.InvalidateBuild(z, sl)
			}
		}
	}

	writeJSON(w, http.StatusOK, buildResponse{
		OK:         true,
		SlotsBuilt: result.SlotsBuilt,
		Zooms:      result.Zooms,
		BaseZoom:   result.BaseZoom,
		NTaxa:      result.NTaxa,
		Alpha:      result.Alpha,
		Beta:       result.Beta,
		YearFrom:   result.YearFrom,
		YearTo:     result.YearTo,
	})
}

func (s *Server) loadTaxa(n int) ([]ingest.TaxonInput, error) {
	if s.TaxaListPath == "" {
		return nil, apperr.New(apperr.MissingInput, "no taxa list path configured")
	}
	f, err := os.Open(s.TaxaListPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.MissingInput, "opening taxa list", err)
	}
	defer f.Close()

	parsed, err := taxalist.Parse(f)
	if err != nil {
		return nil, err
	}
	if n > 0 && n < len(parsed) {
		parsed = parsed[:n]
	}
	taxa := make([]ingest.TaxonInput, len(parsed))
	for i, t := range parsed {
		taxa[i] = ingest.TaxonInput{TaxonID: t.TaxonID, ScientificName: t.ScientificName, SwedishName: t.SwedishName}
	}
	return taxa, nil
}

func (s *Server) handleHotmap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	zoom, err := requireQueryInt(q, "zoom")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	slot, err := requireQueryInt(q, "slot_id")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	yearFrom, err := queryInt(q, "year_from", 0)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	yearTo, err := queryInt(q, "year_to", yearFrom)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	var tiles []model.GridHotmap
	var loadErr error
	if s.CachedQuery != nil {
		tiles, loadErr = s.CachedQuery.HotmapWindow(r.Context(), zoom, []int{slot}, yearFrom, yearTo, s.Query.HotmapWindow)
	} else {
		tiles, loadErr = s.Query.HotmapByKey(r.Context(), zoom, slot, yearFrom, yearTo)
	}
	if loadErr != nil {
		writeAPIError(w, loadErr)
		return
	}
	writeJSON(w, http.StatusOK, export.GeoJSON(tiles))
}

func (s *Server) handleHotmapWindow(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	zoom, err := requireQueryInt(q, "zoom")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	slots, err := queryIntCSV(q, "slot_ids")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	yearFrom, err := queryInt(q, "year_from", 0)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	yearTo, err := queryInt(q, "year_to", yearFrom)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	var tiles []model.GridHotmap
	var loadErr error
	if s.CachedQuery != nil {
		tiles, loadErr = s.CachedQuery.HotmapWindow(r.Context(), zoom, slots, yearFrom, yearTo, s.Query.HotmapWindow)
	} else {
		tiles, loadErr = s.Query.HotmapWindow(r.Context(), zoom, slots, yearFrom, yearTo)
	}
	if loadErr != nil {
		writeAPIError(w, loadErr)
		return
	}
	writeJSON(w, http.StatusOK, export.GeoJSON(tiles))
}

func (s *Server) handleCellTaxa(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	zoom, err := requireQueryInt(q, "zoom")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	slot, err := requireQueryInt(q, "slot_id")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	x, err := requireQueryInt(q, "x")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	y, err := requireQueryInt(q, "y")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	limit, err := queryInt(q, "limit", 0)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	yearFrom, err := queryInt(q, "year_from", 0)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	yearTo, err := queryInt(q, "year_to", yearFrom)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	var rows []model.CellTaxon
	var loadErr error
	if s.CachedQuery != nil {
		rows, loadErr = s.CachedQuery.CellTaxaWindow(r.Context(), zoom, []int{slot}, yearFrom, yearTo, x, y, limit, s.Query.CellTaxaWindow)
	} else {
		rows, loadErr = s.Query.CellTaxa(r.Context(), zoom, slot, x, y, yearFrom, yearTo, limit)
	}
	if loadErr != nil {
		writeAPIError(w, loadErr)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCellTaxaWindow(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	zoom, err := requireQueryInt(q, "zoom")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	slots, err := queryIntCSV(q, "slot_ids")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	x, err := requireQueryInt(q, "x")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	y, err := requireQueryInt(q, "y")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	limit, err := queryInt(q, "limit", 0)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	yearFrom, err := queryInt(q, "year_from", 0)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	yearTo, err := queryInt(q, "year_to", yearFrom)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	var rows []model.CellTaxon
	var loadErr error
	if s.CachedQuery != nil {
		rows, loadErr = s.CachedQuery.CellTaxaWindow(r.Context(), zoom, slots, yearFrom, yearTo, x, y, limit, s.Query.CellTaxaWindow)
	} else {
		rows, loadErr = s.Query.CellTaxaWindow(r.Context(), zoom, slots, x, y, yearFrom, yearTo, limit)
	}
	if loadErr != nil {
		writeAPIError(w, loadErr)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleRankNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := requireQueryFloat(q, "lat")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	lon, err := requireQueryFloat(q, "lon")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	zoom, err := requireQueryInt(q, "zoom")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	slot, err := requireQueryInt(q, "slot_id")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	maxKM, err := queryFloat(q, "max_km", 0)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	d0, err := queryFloat(q, "d0_km", 30)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	gamma, err := queryFloat(q, "gamma", 1)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	limit, err := queryInt(q, "limit", 20)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	yearFrom, err := queryInt(q, "year_from", 0)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	yearTo, err := queryInt(q, "year_to", yearFrom)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	mode := distance.Mode(q.Get("mode"))
	if mode == "" {
		mode = distance.ModeExponential
	}

	ranked, err := s.Query.RankNearby(r.Context(), query.RankNearbyParams{
		Lat: lat, Lon: lon, Zoom: zoom, Slot: slot,
		YearFrom: yearFrom, YearTo: yearTo,
		MaxKM: maxKM, Mode: mode, D0KM: d0, Gamma: gamma,
		Limit: limit, WithTaxa: true,
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	zoom, err := requireQueryInt(q, "zoom")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	slot, err := requireQueryInt(q, "slot_id")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	yearFrom, err := queryInt(q, "year_from", 0)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	yearTo, err := queryInt(q, "year_to", yearFrom)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	limit, err := queryInt(q, "limit", 0)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	tiles, err := s.Query.HotmapByKey(r.Context(), zoom, slot, yearFrom, yearTo)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	if err := export.WriteCSVTopSites(w, tiles, limit, "api"); err != nil {
		writeAPIError(w, err)
		return
	}
}
