// Package contenthash computes the stable SHA-256 watermark used to detect
// changes in upstream grid-cell payloads, independent of cell ordering or
// incidental upstream JSON key additions.
package contenthash

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Cell is the minimal projection of a grid cell hashed into the watermark.
// Fields beyond these are irrelevant to the hash by construction: callers
// project upstream payloads into this shape before calling Hash.
type Cell struct {
	X                 int
	Y                 int
	Zoom              int
	ObservationsCount int64
	TaxaCount         int64
	TopLat            float64
	TopLon            float64
	BottomLat         float64
	BottomLon         float64
}

// canonicalCell is the exact tuple shape serialized for hashing; field
// order here is fixed and part of the hash's stability contract.
type canonicalCell struct {
	X   int     `json:"x"`
	Y   int     `json:"y"`
	Z   int     `json:"z"`
	Obs int64   `json:"obs"`
	Tax int64   `json:"tax"`
	T   float64 `json:"t"`
	L   float64 `json:"l"`
	B   float64 `json:"b"`
	R   float64 `json:"r"`
}

// Hash returns the canonical SHA-256 hex digest of cells: sorted by (x, y),
// projected to a fixed tuple, and compact-JSON serialized. The result is
// invariant under input reordering and under any field of the source
// payload not captured by Cell.
func Hash(cells []Cell) (string, error) {
	sorted := make([]Cell, len(cells))
	copy(sorted, cells)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})

	projected := make([]canonicalCell, len(sorted))
	for i, c := range sorted {
		projected[i] = canonicalCell{
			X:   c.X,
			Y:   c.Y,
			Z:   c.Zoom,
			Obs: coerceNonNegative(c.ObservationsCount),
			Tax: coerceNonNegative(c.TaxaCount),
			T:   c.TopLat,
			L:   c.TopLon,
			B:   c.BottomLat,
			R:   c.BottomLon,
		}
	}

	buf, err := json.Marshal(projected)
	if err != nil {
		return "", fmt.Errorf("contenthash: marshal canonical cells: %w", err)
	}
	sum := sha256.Sum256(buf)
	return fmt.Sprintf("%x", sum[:]), nil
}

func coerceNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

const localFromPrefix = "LOCAL_FROM_"

// LocalFromMarker builds the TaxonLayerState payload_sha256 marker that a
// derived (coarser) zoom writes in place of a real content hash: it encodes
// the source zoom and the source layer's hash at the time of derivation.
func LocalFromMarker(srcZoom int, srcSHA string) string {
	return fmt.Sprintf("%s%d:%s", localFromPrefix, srcZoom, srcSHA)
}

// ParseLocalFromMarker extracts (srcZoom, srcSHA) from a marker produced by
// LocalFromMarker. ok is false if marker is not in that format.
func ParseLocalFromMarker(marker string) (srcZoom int, srcSHA string, ok bool) {
	if !strings.HasPrefix(marker, localFromPrefix) {
		return 0, "", false
	}
	rest := marker[len(localFromPrefix):]
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	z, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return z, parts[1], true
}

// IsValidLocalFrom reports whether marker exactly matches the expected
// LOCAL_FROM_<srcZoom>:<srcSHA> form for the given source layer.
func IsValidLocalFrom(marker string, srcZoom int, srcSHA string) bool {
	return marker == LocalFromMarker(srcZoom, srcSHA)
}
