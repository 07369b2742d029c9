package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHorizontalDistanceZero(t *testing.T) {
	p := Position{Longitude: 116.4, Latitude: 39.9, Altitude: 5000}
	assert.InDelta(t, 0, HorizontalDistance(p, p), 1e-9)
}

func TestVerticalDistance(t *testing.T) {
	a := Position{Altitude: 5000}
	b := Position{Altitude: 5300}
	assert.InDelta(t, 300, VerticalDistance(a, b), 1e-9)
}

func TestClassifyAltitude(t *testing.T) {
	cases := map[float64]AltitudeLayer{
		500:   LayerUltraLow,
		2999:  LayerLow,
		6999:  LayerMedium,
		11999: LayerHigh,
		12000: LayerVeryHigh,
	}
	for alt, want := range cases {
		assert.Equal(t, want, ClassifyAltitude(alt))
	}
}

func TestHeadingDiffWrap(t *testing.T) {
	assert.InDelta(t, 20, HeadingDiff(350, 10), 1e-9)
	assert.InDelta(t, -20, HeadingDiff(10, 350), 1e-9)
}

func TestShortestArcInterpWrap(t *testing.T) {
	got := ShortestArcInterp(350, 10, 0.5)
	assert.InDelta(t, 0, got, 1e-9)
}

func TestShortestArcInterpBounds(t *testing.T) {
	for f := 0.0; f <= 1.0; f += 0.25 {
		got := ShortestArcInterp(10, 350, f)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.Less(t, got, 360.0)
	}
}

func TestCircularStatsTightCluster(t *testing.T) {
	mean, std := CircularStats([]float64{88, 90, 92, 90})
	assert.InDelta(t, 90, mean, 1.0)
	assert.Less(t, std, 5.0)
}

func TestCircularStatsOppositeHeadings(t *testing.T) {
	_, std := CircularStats([]float64{0, 180})
	assert.Greater(t, std, 30.0)
}

func TestBoundsAndCoverage(t *testing.T) {
	positions := []Position{
		{Longitude: 116.398, Latitude: 39.898},
		{Longitude: 116.405, Latitude: 39.902},
	}
	box := Bounds(positions)
	assert.InDelta(t, 116.405, box.East, 1e-9)
	assert.InDelta(t, 116.398, box.West, 1e-9)
	assert.Greater(t, box.CoverageAreaKM2(), 0.0)
}

func TestStdDevSingleValue(t *testing.T) {
	assert.Equal(t, 0.0, StdDev([]float64{42}))
}
