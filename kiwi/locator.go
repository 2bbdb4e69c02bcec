package kiwi

import "math"

// LocatorFromLatLon returns the 6-character Maidenhead locator (field,
// square, subsquare) for a position. It returns false when coordinates are
// out of range or non-finite.
func LocatorFromLatLon(lat, lon float64) (string, bool) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return "", false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", false
	}
	// clamp the closed upper edges into the last subsquare
	lat = math.Min(lat, 89.999999)
	lon = math.Min(lon, 179.999999)

	adjLon := lon + 180
	adjLat := lat + 90
	fieldLon := int(adjLon / 20)
	fieldLat := int(adjLat / 10)
	adjLon -= float64(fieldLon) * 20
	adjLat -= float64(fieldLat) * 10
	squareLon := int(adjLon / 2)
	squareLat := int(adjLat)
	adjLon -= float64(squareLon) * 2
	adjLat -= float64(squareLat)
	subLon := int(adjLon * 12)
	subLat := int(adjLat * 24)

	return string([]byte{
		byte('A' + fieldLon),
		byte('A' + fieldLat),
		byte('0' + squareLon),
		byte('0' + squareLat),
		byte('a' + subLon),
		byte('a' + subLat),
	}), true
}
