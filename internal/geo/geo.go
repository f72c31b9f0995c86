// Package geo holds the distance and projection helpers shared by the route
// model and the tracking state. Every call site uses EarthRadiusMeters.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for every haversine distance.
const EarthRadiusMeters = 6371000.0

// Equirectangular scale factors, kilometers per degree.
const (
	kmPerDegLon = 111.32
	kmPerDegLat = 110.57
)

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LonLat returns the point in [lon, lat] order, as routing services and
// GeoJSON expect it.
func (p Point) LonLat() [2]float64 { return [2]float64{p.Lon, p.Lat} }

// IsZero reports whether the point is the null island placeholder.
func (p Point) IsZero() bool { return p.Lat == 0 && p.Lon == 0 }

// Distance returns the great-circle distance in meters between a and b.
func Distance(a, b Point) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// PointToSegmentDistance returns the distance in meters from p to the
// segment a-b. The projection runs on a local equirectangular plane, the
// parameter is clamped to [0,1] and the final distance is geodesic.
func PointToSegmentDistance(p, a, b Point) float64 {
	if a == b {
		return Distance(p, a)
	}
	dx := (b.Lon - a.Lon) * kmPerDegLon
	dy := (b.Lat - a.Lat) * kmPerDegLat
	px := (p.Lon - a.Lon) * kmPerDegLon
	py := (p.Lat - a.Lat) * kmPerDegLat

	t := (px*dx + py*dy) / (dx*dx + dy*dy)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	closest := Point{
		Lat: a.Lat + t*(b.Lat-a.Lat),
		Lon: a.Lon + t*(b.Lon-a.Lon),
	}
	return Distance(p, closest)
}
