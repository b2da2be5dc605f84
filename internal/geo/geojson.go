package geo

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Feature is a point entity with display properties.
type Feature struct {
	ID         string
	Lat        float64
	Lng        float64
	Properties map[string]any
}

// Point builds a lng/lat point geometry.
func Point(lat, lng float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{lng, lat})
}

// FeatureCollection converts features to a GeoJSON collection with a
// bounding box covering every point. An empty input yields an empty
// collection without a bounding box.
func FeatureCollection(features []Feature) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(features))}
	if len(features) == 0 {
		return fc
	}
	bounds := geom.NewBounds(geom.XY)
	for _, f := range features {
		pt := Point(f.Lat, f.Lng)
		bounds.Extend(pt)
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         f.ID,
			Geometry:   pt,
			Properties: f.Properties,
		})
	}
	fc.BBox = bounds
	return fc
}
