package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artobs/taxongrid/internal/buildlock"
	"github.com/artobs/taxongrid/internal/logger"
	"github.com/artobs/taxongrid/internal/model"
	"github.com/artobs/taxongrid/internal/query"
	"github.com/artobs/taxongrid/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	srv := &Server{
		Query:        query.New(s),
		Pipeline:     nil,
		BuildLock:    buildlock.New(),
		DefaultAlpha: 2.0,
		DefaultBeta:  0.5,
		Logger:       logger.Build(logger.Config{Level: "error"}, io.Discard),
	}
	return srv, s
}

func seedHotmap(t *testing.T, s *store.Store, zoom, slot int) {
	t.Helper()
	ctx := context.Background()
	key := model.Key{TaxonID: 1, Zoom: zoom, Year: 0, Slot: slot}
	cells := []model.GridCell{{X: 1, Y: 1, ObservationsCount: 10}}
	if err := s.ReplaceTaxonGrid(ctx, key, cells, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	if err := s.RebuildHotmap(ctx, zoom, 0, slot, []int{1}, 2.0, 0.5); err != nil {
		t.Fatal(err)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var body map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body["ok"] {
		t.Error("expected ok=true")
	}
}

func TestHandleHotmapMissingZoomIsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/hotmap?slot_id=0", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestHandleHotmapReturnsGeoJSON(t *testing.T) {
	srv, s := newTestServer(t)
	seedHotmap(t, s, 15, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/hotmap?zoom=15&slot_id=0", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var fc map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &fc); err != nil {
		t.Fatal(err)
	}
	if fc["type"] != "FeatureCollection" {
		t.Errorf("expected FeatureCollection, got %+v", fc)
	}
	feats, _ := fc["features"].([]any)
	if len(feats) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(feats))
	}
}

func TestHandleBuildRejectsMissingZooms(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"slot_id":0}`
	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/build", strings.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestHandleBuildReturnsBusyOnConcurrentBuild(t *testing.T) {
	srv, _ := newTestServer(t)
	release, ok := srv.BuildLock.TryAcquire()
	if !ok {
		t.Fatal("expected to acquire lock")
	}
	defer release()

	body := `{"slot_id":0,"zooms":[15]}`
	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/build", strings.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestHandleRankNearbyMaxKMZeroReturnsEmptyList(t *testing.T) {
	srv, s := newTestServer(t)
	seedHotmap(t, s, 15, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/rank_nearby?lat=59&lon=18&zoom=15&slot_id=0", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "null\n" && rr.Body.String() != "[]\n" {
		t.Errorf("expected empty result, got %q", rr.Body.String())
	}
}

func TestHandleExportCSV(t *testing.T) {
	srv, s := newTestServer(t)
	seedHotmap(t, s, 15, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/hotmap/export.csv?zoom=15&slot_id=0", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != "text/csv" {
		t.Errorf("expected text/csv content type, got %q", rr.Header().Get("Content-Type"))
	}
}
