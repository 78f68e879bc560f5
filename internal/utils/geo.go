package utils

import "math"

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two coordinates.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DistanceKm is HaversineKm rounded to 10 metres, the precision shown to owners.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	return math.Round(HaversineKm(lat1, lng1, lat2, lng2)*100) / 100
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
