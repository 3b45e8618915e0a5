package tilemath

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestTileBBoxZeroZoom(t *testing.T) {
	b := TileBBox(0, 0, 0)
	if !almostEqual(b.LeftLon, -180, 1e-6) || !almostEqual(b.RightLon, 180, 1e-6) {
		t.Errorf("unexpected lon bounds: %+v", b)
	}
	if !almostEqual(b.TopLat, MaxLat, 1e-3) {
		t.Errorf("unexpected top lat: %v", b.TopLat)
	}
}

func TestLonLatToTileRoundTrip(t *testing.T) {
	z := 10
	x, y := LonLatToTile(z, 13.0, 55.6)
	b := TileBBox(z, x, y)
	if !(b.LeftLon <= 13.0 && 13.0 <= b.RightLon) {
		t.Errorf("lon %v not within tile bounds %+v", 13.0, b)
	}
	if !(b.BottomLat <= 55.6 && 55.6 <= b.TopLat) {
		t.Errorf("lat %v not within tile bounds %+v", 55.6, b)
	}
}

func TestLonLatToTileClampsLatitude(t *testing.T) {
	z := 5
	n := 1 << uint(z)
	_, yTop := LonLatToTile(z, 0, 89.9)
	if yTop != 0 {
		t.Errorf("expected clamp to top row, got y=%d", yTop)
	}
	_, yBottom := LonLatToTile(z, 0, -89.9)
	if yBottom != n-1 {
		t.Errorf("expected clamp to bottom row, got y=%d (n=%d)", yBottom, n)
	}
}

func TestLonLatToTileNeverOutOfRange(t *testing.T) {
	z := 8
	n := 1 << uint(z)
	pts := [][2]float64{{-180, -89.99}, {179.999, 89.99}, {0, 0}, {-179.999, 0}}
	for _, p := range pts {
		x, y := LonLatToTile(z, p[0], p[1])
		if x < 0 || x >= n || y < 0 || y >= n {
			t.Errorf("tile (%d,%d) out of range for zoom %d", x, y, z)
		}
	}
}

func TestToParent(t *testing.T) {
	px, py := ToParent(15, 34000, 19000, 14)
	if px != 17000 || py != 9500 {
		t.Errorf("ToParent = (%d,%d), want (17000,9500)", px, py)
	}
}

func TestZoomFactor(t *testing.T) {
	if ZoomFactor(15, 14) != 2 {
		t.Errorf("ZoomFactor(15,14) = %d, want 2", ZoomFactor(15, 14))
	}
	if ZoomFactor(15, 13) != 4 {
		t.Errorf("ZoomFactor(15,13) = %d, want 4", ZoomFactor(15, 13))
	}
}

func TestCentroid(t *testing.T) {
	lat, lon := Centroid(BBox{TopLat: 10, BottomLat: 0, LeftLon: 0, RightLon: 10})
	if lat != 5 || lon != 5 {
		t.Errorf("Centroid = (%v,%v), want (5,5)", lat, lon)
	}
}
