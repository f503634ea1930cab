// Package geo holds great-circle helpers on a spherical Earth.
package geo

import (
	"math"
	"time"
)

// EarthRadiusKm is the mean Earth radius.
const EarthRadiusKm = 6371.0088

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// HaversineKm returns the great-circle distance between two lat/lng pairs.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

func HaversineM(lat1, lng1, lat2, lng2 float64) float64 {
	return HaversineKm(lat1, lng1, lat2, lng2) * 1000
}

// Fix is one timestamped position on a path.
type Fix struct {
	Lat float64
	Lng float64
	At  time.Time
}

// PathMetrics sums the great-circle legs between consecutive fixes, which
// must already be in capture order. Distance is nil for fewer than two fixes;
// speed is nil as well when no time elapsed between the first and last fix.
func PathMetrics(fixes []Fix) (distanceM, avgSpeedMps *float64) {
	if len(fixes) < 2 {
		return nil, nil
	}

	total := 0.0
	for i := 1; i < len(fixes); i++ {
		prev, cur := fixes[i-1], fixes[i]
		total += HaversineM(prev.Lat, prev.Lng, cur.Lat, cur.Lng)
	}
	distanceM = &total

	elapsed := fixes[len(fixes)-1].At.Sub(fixes[0].At).Seconds()
	if elapsed > 0 {
		speed := total / elapsed
		avgSpeedMps = &speed
	}
	return distanceM, avgSpeedMps
}
