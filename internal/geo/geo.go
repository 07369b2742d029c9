// Package geo implements the equirectangular-projection position math used
// throughout the recognition pipeline. No ellipsoidal accuracy is attempted,
// per SPEC_FULL.md §1's non-goals.
package geo

import "math"

const (
	// metresPerDegreeLon is the equirectangular scale factor for longitude;
	// it must be combined with cos(latitude) at the point of use.
	metresPerDegreeLon = 111320.0
	// metresPerDegreeLat is the equirectangular scale factor for latitude.
	metresPerDegreeLat = 110540.0
)

// Position is a geodetic point: longitude/latitude in degrees, altitude in metres.
type Position struct {
	Longitude float64
	Latitude  float64
	Altitude  float64
}

// x returns the equirectangular-projected x coordinate (metres), using refLat
// as the latitude at which cos(lat) is evaluated.
func x(p Position, refLat float64) float64 {
	return p.Longitude * metresPerDegreeLon * math.Cos(radians(refLat))
}

// y returns the equirectangular-projected y coordinate (metres).
func y(p Position) float64 {
	return p.Latitude * metresPerDegreeLat
}

func radians(deg float64) float64 { return deg * math.Pi / 180.0 }

// HorizontalDistance returns the equirectangular-projected planar distance
// between a and b in metres, using a's latitude as the projection reference.
func HorizontalDistance(a, b Position) float64 {
	dx := x(a, a.Latitude) - x(b, a.Latitude)
	dy := y(a) - y(b)
	return math.Sqrt(dx*dx + dy*dy)
}

// VerticalDistance returns the absolute altitude difference in metres.
func VerticalDistance(a, b Position) float64 {
	return math.Abs(a.Altitude - b.Altitude)
}

// BoundingBox is an axis-aligned box over a set of positions.
type BoundingBox struct {
	North, South, East, West float64
}

// Bounds computes the bounding box over positions. Panics on an empty slice;
// callers must guard (recognition never calls this with zero states).
func Bounds(positions []Position) BoundingBox {
	box := BoundingBox{
		North: positions[0].Latitude,
		South: positions[0].Latitude,
		East:  positions[0].Longitude,
		West:  positions[0].Longitude,
	}
	for _, p := range positions[1:] {
		if p.Latitude > box.North {
			box.North = p.Latitude
		}
		if p.Latitude < box.South {
			box.South = p.Latitude
		}
		if p.Longitude > box.East {
			box.East = p.Longitude
		}
		if p.Longitude < box.West {
			box.West = p.Longitude
		}
	}
	return box
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (lon, lat float64) {
	return (b.East + b.West) / 2, (b.North + b.South) / 2
}

// CoverageAreaKM2 returns the box's area in square kilometres, using the
// equirectangular approximation evaluated at the box's own centre latitude,
// per SPEC_FULL.md §4.4 step 7.
func (b BoundingBox) CoverageAreaKM2() float64 {
	_, centerLat := b.Center()
	dLon := (b.East - b.West) * metresPerDegreeLon * math.Cos(radians(centerLat))
	dLat := (b.North - b.South) * metresPerDegreeLat
	return (dLon * dLat) / 1e6
}

// AltitudeLayer classifies an altitude (metres) into the named bands from
// SPEC_FULL.md §4.3.
type AltitudeLayer string

const (
	LayerUltraLow AltitudeLayer = "UltraLow"
	LayerLow      AltitudeLayer = "Low"
	LayerMedium   AltitudeLayer = "Medium"
	LayerHigh     AltitudeLayer = "High"
	LayerVeryHigh AltitudeLayer = "VeryHigh"
)

// ClassifyAltitude returns the altitude layer for altMetres.
func ClassifyAltitude(altMetres float64) AltitudeLayer {
	switch {
	case altMetres < 1000:
		return LayerUltraLow
	case altMetres < 3000:
		return LayerLow
	case altMetres < 7000:
		return LayerMedium
	case altMetres < 12000:
		return LayerHigh
	default:
		return LayerVeryHigh
	}
}

// HeadingDiff returns the signed angular difference to-from, normalised to
// (-180, 180].
func HeadingDiff(from, to float64) float64 {
	d := math.Mod(to-from, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}

// ShortestArcInterp interpolates from h1 towards h2 by fraction f using the
// shortest arc, returning an angle in [0, 360).
func ShortestArcInterp(h1, h2, f float64) float64 {
	diff := HeadingDiff(h1, h2)
	result := math.Mod(h1+diff*f, 360)
	if result < 0 {
		result += 360
	}
	return result
}

// CircularStats computes the resultant-vector mean and standard deviation
// (degrees) of a set of headings (degrees), per SPEC_FULL.md §4.4 step 7.
func CircularStats(headingsDeg []float64) (meanDeg, stdDeg float64) {
	if len(headingsDeg) == 0 {
		return 0, 0
	}
	var sinSum, cosSum float64
	for _, h := range headingsDeg {
		r := radians(h)
		sinSum += math.Sin(r)
		cosSum += math.Cos(r)
	}
	n := float64(len(headingsDeg))
	mean := math.Mod(degrees(math.Atan2(sinSum, cosSum))+360, 360)
	resultant := math.Sqrt(sinSum*sinSum+cosSum*cosSum) / n
	if resultant > 1 {
		resultant = 1
	}
	std := degrees(math.Sqrt(-2 * math.Log(math.Max(resultant, 1e-10))))
	return mean, std
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the sample standard deviation of values (n-1 denominator),
// or 0 when fewer than 2 values are given.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := Mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}
