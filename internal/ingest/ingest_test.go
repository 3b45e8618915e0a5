package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artobs/taxongrid/internal/model"
	"github.com/artobs/taxongrid/internal/store"
	"github.com/artobs/taxongrid/internal/upstream"
)

func newFakeUpstreamServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Taxon struct {
				IDs []int `json:"ids"`
			} `json:"taxon"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		taxonID := 0
		if len(body.Taxon.IDs) > 0 {
			taxonID = body.Taxon.IDs[0]
		}
		resp := struct {
			GridCells []map[string]any `json:"gridCells"`
		}{
			GridCells: []map[string]any{
				{"x": 100 + taxonID, "y": 200, "zoom": 15, "observationsCount": 10, "taxaCount": 1,
					"boundingBox": map[string]any{
						"topLeft":     map[string]any{"latitude": 1.0, "longitude": 2.0},
						"bottomRight": map[string]any{"latitude": 3.0, "longitude": 4.0},
					}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestPipeline(t *testing.T, srv *httptest.Server) *Pipeline {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "ingest.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	client := upstream.New(upstream.Config{BaseURL: srv.URL, MinInterval: time.Millisecond})
	p := New(s, client, zerolog.Nop())
	p.InterTaxonInterval = time.Millisecond
	return p
}

func TestRunBuildsAndRebuildsHotmap(t *testing.T) {
	srv := newFakeUpstreamServer()
	defer srv.Close()
	p := newTestPipeline(t, srv)
	ctx := context.Background()

	params := Params{
		Zooms:    []int{15, 14},
		Slots:    []int{0},
		YearFrom: 0,
		YearTo:   0,
		Taxa:     []TaxonInput{{TaxonID: 1, ScientificName: "Vulpes vulpes"}},
		Alpha:    2.0,
		Beta:     0.5,
	}

	result, err := p.Run(ctx, params)
	if err != nil {
		t.Fatal(err)
	}
	if result.BaseZoom != 15 {
		t.Errorf("BaseZoom = %d, want 15", result.BaseZoom)
	}
	if result.NTaxa != 1 {
		t.Errorf("NTaxa = %d, want 1", result.NTaxa)
	}

	rows, err := p.Store.HotmapRows(ctx, 15, []int{0}, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) == 0 {
		t.Fatal("expected hotmap rows after build")
	}
}

func TestRunRejectsInvalidSlot(t *testing.T) {
	srv := newFakeUpstreamServer()
	defer srv.Close()
	p := newTestPipeline(t, srv)

	_, err := p.Run(context.Background(), Params{
		Zooms: []int{15},
		Slots: []int{99},
		Taxa:  []TaxonInput{{TaxonID: 1}},
	})
	if err == nil {
		t.Fatal("expected error for out-of-range slot")
	}
}

func TestRunRejectsNoZooms(t *testing.T) {
	p := newTestPipeline(t, newFakeUpstreamServer())
	_, err := p.Run(context.Background(), Params{Taxa: []TaxonInput{{TaxonID: 1}}})
	if err == nil {
		t.Fatal("expected error for no zooms")
	}
}

// newOversizedWorldUpstreamServer rejects any request whose bbox still
// covers (roughly) the whole world as "too many cells", and only succeeds
// once the resilient client has quadrant-split down to a small-enough area.
// This exercises the split path the way a real worldwide build would hit it.
func newOversizedWorldUpstreamServer(t *testing.T) *httptest.Server {
	t.Helper()
	var calls int
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body struct {
			Geographics struct {
				BoundingBox struct {
					TopLeft     struct{ Latitude, Longitude float64 } `json:"topLeft"`
					BottomRight struct{ Latitude, Longitude float64 } `json:"bottomRight"`
				} `json:"boundingBox"`
			} `json:"geographics"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		bb := body.Geographics.BoundingBox
		area := (bb.TopLeft.Latitude - bb.BottomRight.Latitude) * (bb.BottomRight.Longitude - bb.TopLeft.Longitude)
		if area > 10000 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("number of cells that can be returned is too large"))
			return
		}
		x := int(bb.TopLeft.Longitude * 1000)
		y := int(bb.TopLeft.Latitude * 1000)
		resp := struct {
			GridCells []map[string]any `json:"gridCells"`
		}{
			GridCells: []map[string]any{
				{"x": x, "y": y, "zoom": 15, "observationsCount": 1, "taxaCount": 1,
					"boundingBox": map[string]any{
						"topLeft":     map[string]any{"latitude": bb.TopLeft.Latitude, "longitude": bb.TopLeft.Longitude},
						"bottomRight": map[string]any{"latitude": bb.BottomRight.Latitude, "longitude": bb.BottomRight.Longitude},
					}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestRunSplitsWorldwideFetchWhenUpstreamRejectsIt(t *testing.T) {
	srv := newOversizedWorldUpstreamServer(t)
	defer srv.Close()
	p := newTestPipeline(t, srv)
	ctx := context.Background()

	result, err := p.Run(ctx, Params{
		Zooms:    []int{15},
		Slots:    []int{0},
		YearFrom: 0,
		YearTo:   0,
		Taxa:     []TaxonInput{{TaxonID: 1}},
		Alpha:    2.0,
		Beta:     0.5,
	})
	if err != nil {
		t.Fatalf("expected worldwide fetch to succeed via bbox split, got: %v", err)
	}
	if result.NTaxa != 1 {
		t.Errorf("NTaxa = %d, want 1", result.NTaxa)
	}
}

func TestDateFilterForAllTimeAllYears(t *testing.T) {
	f, err := dateFilterFor(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if f != nil {
		t.Errorf("expected nil date filter for slot=0, year=0, got %+v", f)
	}
}

func TestDateFilterForAllTimeWithYear(t *testing.T) {
	f, err := dateFilterFor(0, 2024)
	if err != nil {
		t.Fatal(err)
	}
	if f.StartDate != "2024-01-01" || f.EndDate != "2024-12-31" {
		t.Errorf("unexpected bounds: %+v", f)
	}
}

func TestDateFilterForSlot(t *testing.T) {
	// slot 5 = month 2, quartile 1
	f, err := dateFilterFor(5, 2024)
	if err != nil {
		t.Fatal(err)
	}
	if f.StartDate != "2024-02-01" || f.EndDate != "2024-02-07" {
		t.Errorf("unexpected bounds: %+v", f)
	}
}

func TestHashCellsDeterministic(t *testing.T) {
	a := []model.GridCell{{X: 1, Y: 1, ObservationsCount: 1}}
	b := []model.GridCell{{X: 1, Y: 1, ObservationsCount: 1}}
	ha, _ := hashCells(a)
	hb, _ := hashCells(b)
	if ha != hb {
		t.Error("expected identical hashes for identical cells")
	}
}
