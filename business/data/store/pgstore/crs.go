package pgstore

import "math"

// earthRadiusMeters is the sphere used for the equirectangular approximation
// below; adequate at the leg scale (meters to low kilometers) this
// conversion is used for.
const earthRadiusMeters = 6378137.0

// wgs84Origin anchors the planar CRS's origin in WGS84 lon/lat. It is a
// per-deployment constant (set from the origin lon/lat passed to Open)
// rather than a general EPSG transform: the core only ever needs to turn a
// leg's local planar coordinates into approximate lon/lat for display, not
// survey-grade reprojection.
type wgs84Origin struct {
	LonDeg float64
	LatDeg float64
}

// toWGS84 converts a planar (x, y) offset in meters from origin into
// approximate (lon, lat) degrees using an equirectangular approximation.
// This is deliberately not a full EPSG projection library call: spec.md
// §3 only requires a WGS84 rendering at the write boundary for display
// (each leg's start/end lon/lat, written alongside the planar geometry), and the
// pack carries no geodesy dependency to ground a precise one on.
func (o wgs84Origin) toWGS84(x, y float64) (lon, lat float64) {
	latRad := o.LatDeg * math.Pi / 180
	dLat := y / earthRadiusMeters
	dLon := x / (earthRadiusMeters * math.Cos(latRad))
	lat = o.LatDeg + dLat*180/math.Pi
	lon = o.LonDeg + dLon*180/math.Pi
	return lon, lat
}
