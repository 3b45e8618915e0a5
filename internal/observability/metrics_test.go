package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestObserveFunctionsNoopWhenDisabled(t *testing.T) {
	enabled.Store(false)
	// Should not panic even though collectors are nil.
	ObserveHTTP("GET", "/api/hotmap", 200, 0.01)
	ObserveUpstream("ok", 0.5)
	IncBBoxSplit(1)
	IncLayerBuilt(15)
	IncLayerSkipped(15)
	ObserveBuildDuration(1.0)
	IncBuildBusy()
	ObserveHotmapRebuild(15, 0, 0.1)
	ObserveQuery("HotmapByKey", 0.002)
	IncResultCacheHit("lru")
	IncResultCacheMiss("redis")
}

func TestMetricsHandlerSmoke(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)

	ObserveHTTP("GET", "/api/hotmap", 200, 0.01)
	ObserveUpstream("ok", 1.2)
	IncLayerBuilt(15)
	ObserveHotmapRebuild(15, 0, 0.05)
	IncResultCacheHit("lru")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"http_requests_total", "upstream_requests_total", "ingest_layers_built_total", "hotmap_rebuild_total", "result_cache_hits_total"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics payload to contain %q", want)
		}
	}
}

func TestEnabledReflectsInit(t *testing.T) {
	Init(nil, false)
	if Enabled() {
		t.Error("expected Enabled() false")
	}
	reg := prometheus.NewRegistry()
	Init(reg, true)
	if !Enabled() {
		t.Error("expected Enabled() true")
	}
}
