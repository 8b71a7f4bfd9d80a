package service

import (
	"math"
	"strings"
	"time"
)

const earthRadiusKm = 6371.0

// haversineKm is the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// travelSpeedKmh is the implied speed between two located logins. Zero when
// either side is unlocated or the elapsed time is non-positive, which makes
// simultaneous logins from one place a non-event.
func travelSpeedKmh(prev, cur Location) float64 {
	if !prev.Known() || !cur.Known() {
		return 0
	}
	elapsed := cur.At.Sub(prev.At)
	if elapsed <= 0 {
		return 0
	}
	distance := haversineKm(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)
	return distance / elapsed.Hours()
}

// unusualHour reports whether t falls in the configured quiet window.
// The window may wrap midnight (start 22, end 5).
func unusualHour(t time.Time, start, end int) bool {
	if start == end {
		return false
	}
	h := t.Hour()
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
