// Package model defines the domain types shared across the ingest, store,
// and query layers: tile grid keys, per-taxon grid cells, layer watermarks,
// and the materialized hotmap.
package model

import "time"

// AllTime is the sentinel slot id meaning "no calendar restriction".
const AllTime = 0

// AllYears is the sentinel year meaning "every year aggregated together".
const AllYears = 0

// MaxSlot is the highest valid slot id (12 months * 4 week-quartiles).
const MaxSlot = 48

// BBox is a WGS84 bounding box in (top, left, bottom, right) ordering,
// matching a slippy tile's bbox orientation.
type BBox struct {
	TopLat    float64
	LeftLon   float64
	BottomLat float64
	RightLon  float64
}

// GridCell is one upstream-reported (or locally derived) observation
// aggregate for a single tile.
type GridCell struct {
	X                 int
	Y                 int
	Zoom              int
	ObservationsCount int64
	TaxaCount         int64
	BBox              BBox
}

// Key identifies a TaxonGrid row group.
type Key struct {
	TaxonID int
	Zoom    int
	Year    int
	Slot    int
}

// TaxonGrid is one persisted grid cell belonging to a Key.
type TaxonGrid struct {
	Key
	X                 int
	Y                 int
	ObservationsCount int64
	TaxaCount         int64
	BBox              BBox
	FetchedAtUTC      time.Time
}

// TaxonLayerState is the content-hash watermark for a Key.
type TaxonLayerState struct {
	Key
	LastFetchUTC   time.Time
	PayloadSHA256  string
	GridCellCount  int
}

// HotmapKey identifies a GridHotmap / HotmapTaxaSet group.
type HotmapKey struct {
	Zoom int
	Year int
	Slot int
}

// GridHotmap is one materialized hotspot tile.
type GridHotmap struct {
	HotmapKey
	X           int
	Y           int
	Coverage    int
	Score       float64
	BBox        BBox
	UpdatedAtUTC time.Time
}

// TaxonDim is a human-readable taxon name record.
type TaxonDim struct {
	TaxonID        int
	ScientificName string
	SwedishName    string
	UpdatedAtUTC   time.Time
}

// CellTaxon is one row of the per-cell taxa enumeration (GridHotmapTaxaNames).
type CellTaxon struct {
	TaxonID           int
	ScientificName    string
	SwedishName       string
	ObservationsCount int64
}

// RankedTile is one scored, distance-weighted hotmap tile as produced by
// RankNearby.
type RankedTile struct {
	GridHotmap
	DistanceKM float64
	Weight     float64
	DWScore    float64
	Taxa       []CellTaxon
}
