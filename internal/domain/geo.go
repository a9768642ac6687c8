package domain

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean radius of the spherical Earth model.
const EarthRadiusKm = 6371.0

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// Valid reports whether the coordinate is inside the WGS84 range.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180 &&
		!math.IsNaN(l.Lat) && !math.IsNaN(l.Lng)
}

// DistanceTo returns the haversine distance in kilometers.
func (l Location) DistanceTo(other Location) float64 {
	return DistanceKm(l.Lat, l.Lng, other.Lat, other.Lng)
}

// DistanceKm returns the great-circle distance between two points using the
// haversine formula.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	a := sinLat*sinLat + math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*sinLng*sinLng

	// rounding can push a slightly outside [0,1] for antipodal points
	a = math.Min(1, math.Max(0, a))

	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// FormatDistance renders a distance in kilometers for display:
// meters below 1km, one decimal below 10km, whole kilometers above.
func FormatDistance(km float64) string {
	if math.IsNaN(km) || km < 0 {
		km = 0
	}
	// the unit follows the rounded value, so 999.6m prints as 1.0km
	if m := math.Round(km * 1000); m < 1000 {
		return fmt.Sprintf("%dm", int(m))
	}
	if tenths := math.Round(km * 10); tenths < 100 {
		return fmt.Sprintf("%.1fkm", tenths/10)
	}
	return fmt.Sprintf("%dkm", int(math.Round(km)))
}

// BoundingBox is a lat/lng rectangle used to prefilter proximity queries.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// BoundingBoxAround returns a box that contains every point within radiusKm
// of the center. It is loose near the poles, and a circle crossing the
// antimeridian gets the full longitude range.
func BoundingBoxAround(center Location, radiusKm float64) BoundingBox {
	latDelta := radiusKm / 111.0
	lngDelta := 180.0
	// a circle reaching a pole spans every longitude
	if cos := math.Cos(toRadians(center.Lat)); cos > 0.01 && math.Abs(center.Lat)+latDelta < 90 {
		lngDelta = math.Min(180, radiusKm/(111.0*cos))
	}
	box := BoundingBox{
		MinLat: math.Max(-90, center.Lat-latDelta),
		MaxLat: math.Min(90, center.Lat+latDelta),
		MinLng: center.Lng - lngDelta,
		MaxLng: center.Lng + lngDelta,
	}
	if box.MinLng < -180 || box.MaxLng > 180 {
		box.MinLng, box.MaxLng = -180, 180
	}
	return box
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
