package pgstore

import (
	geojson "github.com/paulmach/go.geojson"

	"github.com/opentransittools/trajectorycore/business/data/trajectory"
)

// legLineString renders a leg's sample path as a GeoJSON LineString for
// storage alongside its planar geometry, so any consumer reading the
// database directly (an ops dashboard, a one-off debugging query) gets a
// standard format. Reading its coordinates as lon/lat still needs the
// planar CRS's definition.
//
// Coordinates are left in the leg's planar projection; conversion to
// WGS84 happens once, at the boundary where a caller actually needs
// lon/lat (spec.md §3's "converted to WGS84 only at the write boundary"),
// which for this store is toWGS84 in crs.go, applied to each leg's start
// and end point, not here.
func legLineString(leg trajectory.Leg) *geojson.Feature {
	coords := make([][]float64, len(leg.SampleLocations))
	for i, p := range leg.SampleLocations {
		coords[i] = []float64{p.X, p.Y}
	}
	feature := geojson.NewLineStringFeature(coords)
	feature.SetProperty("mode", leg.Mode.String())
	feature.SetProperty("length_meters", leg.LengthMeters)
	return feature
}

// legLineStringJSON marshals legLineString's feature to its JSON text
// representation for a jsonb column.
func legLineStringJSON(leg trajectory.Leg) ([]byte, error) {
	return legLineString(leg).MarshalJSON()
}
