package distance

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestHaversineKMZero(t *testing.T) {
	d := HaversineKM(55.667, 13.350, 55.667, 13.350)
	if !almostEqual(d, 0, 1e-9) {
		t.Errorf("HaversineKM same point = %v, want 0", d)
	}
}

func TestHaversineKMKnownDistance(t *testing.T) {
	// Equator, 1 degree of longitude apart, roughly 111.19 km.
	d := HaversineKM(0, 0, 0, 1)
	if !almostEqual(d, 111.19, 0.5) {
		t.Errorf("HaversineKM = %v, want ~111.19", d)
	}
}

func TestWeightD0NonPositive(t *testing.T) {
	if w := Weight(ModeExponential, 10, 0, 1); w != 0 {
		t.Errorf("Weight with d0=0 = %v, want 0", w)
	}
	if w := Weight(ModeRational, 10, -5, 1); w != 0 {
		t.Errorf("Weight with d0<0 = %v, want 0", w)
	}
}

func TestWeightRationalGammaDefault(t *testing.T) {
	w1 := Weight(ModeRational, 30, 30, 0)
	w2 := Weight(ModeRational, 30, 30, 1)
	if !almostEqual(w1, w2, 1e-12) {
		t.Errorf("gamma<=0 should default to 1: got %v vs %v", w1, w2)
	}
}

func TestWeightRationalScenario(t *testing.T) {
	w := Weight(ModeRational, 30, 30, 2)
	if !almostEqual(w, 0.25, 1e-9) {
		t.Errorf("Weight(rational,30,30,2) = %v, want 0.25", w)
	}
	dwScore := 4.0 * w
	if !almostEqual(dwScore, 1.0, 1e-9) {
		t.Errorf("dw_score = %v, want 1.0", dwScore)
	}
}

func TestWeightExponential(t *testing.T) {
	w := Weight(ModeExponential, 0, 10, 0)
	if !almostEqual(w, 1.0, 1e-9) {
		t.Errorf("Weight(exp, 0, 10) = %v, want 1.0", w)
	}
}
