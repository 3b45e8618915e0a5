// Package export renders hotmap tiles to GeoJSON polygons and a ranked CSV
// top-sites listing.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/artobs/taxongrid/internal/model"
	"github.com/artobs/taxongrid/internal/tilemath"
)

// Feature is one GeoJSON Feature in the rendered FeatureCollection.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Geometry is a GeoJSON Polygon geometry.
type Geometry struct {
	Type        string        `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

// FeatureCollection is the top-level GeoJSON document.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

func sortedTiles(tiles []model.GridHotmap) []model.GridHotmap {
	out := make([]model.GridHotmap, len(tiles))
	copy(out, tiles)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Coverage != out[j].Coverage {
			return out[i].Coverage > out[j].Coverage
		}
		return out[i].Score > out[j].Score
	})
	return out
}

// GeoJSON renders hotmap tiles to a FeatureCollection of 5-point polygons
// (closed at the top-left corner), ordered by coverage DESC, score DESC.
func GeoJSON(tiles []model.GridHotmap) FeatureCollection {
	sorted := sortedTiles(tiles)
	features := make([]Feature, 0, len(sorted))
	for _, tile := range sorted {
		b := tile.BBox
		ring := [][2]float64{
			{b.LeftLon, b.TopLat},
			{b.RightLon, b.TopLat},
			{b.RightLon, b.BottomLat},
			{b.LeftLon, b.BottomLat},
			{b.LeftLon, b.TopLat},
		}
		features = append(features, Feature{
			Type:     "Feature",
			Geometry: Geometry{Type: "Polygon", Coordinates: [][][2]float64{ring}},
			Properties: map[string]any{
				"zoom":     tile.Zoom,
				"year":     tile.Year,
				"slot_id":  tile.Slot,
				"x":        tile.X,
				"y":        tile.Y,
				"coverage": tile.Coverage,
				"score":    tile.Score,
			},
		})
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}

// MarshalGeoJSON renders tiles directly to its compact JSON form.
func MarshalGeoJSON(tiles []model.GridHotmap) ([]byte, error) {
	return json.Marshal(GeoJSON(tiles))
}

var csvHeader = []string{
	"rank", "zoom", "year", "slot_id", "x", "y", "coverage", "score",
	"centroid_lat", "centroid_lon", "topLeft_lat", "topLeft_lon",
	"bottomRight_lat", "bottomRight_lon", "source",
}

// WriteCSVTopSites writes the header plus up to limit ranked rows (limit<=0
// means unlimited), in the same coverage/score order as GeoJSON.
func WriteCSVTopSites(w io.Writer, tiles []model.GridHotmap, limit int, source string) error {
	sorted := sortedTiles(tiles)
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("export: write csv header: %w", err)
	}
	for i, tile := range sorted {
		lat, lon := tilemath.Centroid(tilemath.BBox{
			TopLat: tile.BBox.TopLat, LeftLon: tile.BBox.LeftLon,
			BottomLat: tile.BBox.BottomLat, RightLon: tile.BBox.RightLon,
		})
		row := []string{
			fmt.Sprint(i + 1),
			fmt.Sprint(tile.Zoom),
			fmt.Sprint(tile.Year),
			fmt.Sprint(tile.Slot),
			fmt.Sprint(tile.X),
			fmt.Sprint(tile.Y),
			fmt.Sprint(tile.Coverage),
			fmt.Sprint(tile.Score),
			fmt.Sprint(lat),
			fmt.Sprint(lon),
			fmt.Sprint(tile.BBox.TopLat),
			fmt.Sprint(tile.BBox.LeftLon),
			fmt.Sprint(tile.BBox.BottomLat),
			fmt.Sprint(tile.BBox.RightLon),
			source,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export: write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
