package track

import (
	"testing"
	"time"

	"github.com/rhino11/formation/internal/geo"
	"github.com/rhino11/formation/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stateAt(t time.Time, lon, heading, speed float64) models.TargetState {
	return models.TargetState{
		Timestamp: t,
		Position:  geo.Position{Longitude: lon, Latitude: 39.9, Altitude: 5000},
		Heading:   heading,
		Speed:     speed,
	}
}

func TestAddStateSegmentsOnGap(t *testing.T) {
	tr := New("t1", nil, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.AddState(stateAt(base, 116.4, 90, 250), false)
	tr.AddState(stateAt(base.Add(5*time.Second), 116.41, 90, 250), false)
	tr.AddState(stateAt(base.Add(5*time.Minute), 116.42, 90, 250), false)

	require.Equal(t, 1, len(tr.segments), "gap beyond SegmentGap should seal a segment")
	assert.Equal(t, 2, len(tr.segments[0].states))
	assert.Equal(t, 1, len(tr.current.states))
}

func TestFinalizeSealsTrailingSegment(t *testing.T) {
	tr := New("t1", nil, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.AddState(stateAt(base, 116.4, 90, 250), false)
	tr.Finalize()
	assert.Equal(t, 1, len(tr.segments))
	assert.Equal(t, 0, len(tr.current.states))
}

func TestInterpolateLinearMidpoint(t *testing.T) {
	tr := New("t1", nil, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.AddState(stateAt(base, 116.0, 90, 200), false)
	tr.AddState(stateAt(base.Add(10*time.Second), 116.1, 90, 300), false)

	got, ok := tr.Interpolate(base.Add(5 * time.Second))
	require.True(t, ok)
	assert.InDelta(t, 116.05, got.Position.Longitude, 1e-9)
	assert.InDelta(t, 250, got.Speed, 1e-9)
}

func TestInterpolateHeadingWraps(t *testing.T) {
	tr := New("t1", nil, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.AddState(stateAt(base, 116.0, 350, 200), false)
	tr.AddState(stateAt(base.Add(10*time.Second), 116.0, 10, 200), false)

	got, ok := tr.Interpolate(base.Add(5 * time.Second))
	require.True(t, ok)
	assert.InDelta(t, 0, got.Heading, 1e-6)
}

func TestInterpolateClampsAtBoundaries(t *testing.T) {
	tr := New("t1", nil, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.AddState(stateAt(base, 116.0, 90, 200), false)

	before, ok := tr.Interpolate(base.Add(-time.Minute))
	require.True(t, ok)
	assert.Equal(t, 200.0, before.Speed)

	after, ok := tr.Interpolate(base.Add(time.Minute))
	require.True(t, ok)
	assert.Equal(t, 200.0, after.Speed)
}

func TestInterpolateEmptyTrack(t *testing.T) {
	tr := New("t1", nil, nil)
	_, ok := tr.Interpolate(time.Now())
	assert.False(t, ok)
}

type fakeReader struct {
	state models.TargetState
	found bool
}

func (f fakeReader) Get(string) (models.TargetState, bool) { return f.state, f.found }

func TestInterpolateNearRealTimeConsultsCache(t *testing.T) {
	cached := stateAt(time.Now(), 200, 45, 999)
	tr := New("t1", nil, fakeReader{state: cached, found: true})
	tr.now = time.Now

	got, ok := tr.Interpolate(time.Now())
	require.True(t, ok)
	assert.Equal(t, 999.0, got.Speed)
}

func TestStatesInRange(t *testing.T) {
	tr := New("t1", nil, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		tr.AddState(stateAt(base.Add(time.Duration(i)*time.Second), 116.0, 90, 200), false)
	}
	got := tr.StatesInRange(base.Add(time.Second), base.Add(3*time.Second))
	assert.Equal(t, 3, len(got))
}

func TestMotionFeaturesRequireBothNeighbours(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	states := []models.TargetState{
		stateAt(base, 116.0, 0, 200),
		stateAt(base.Add(time.Second), 116.0, 90, 220),
		stateAt(base.Add(2*time.Second), 116.0, 180, 240),
	}
	_, ok := MotionFeaturesAt(states, 0)
	assert.False(t, ok)

	f, ok := MotionFeaturesAt(states, 1)
	require.True(t, ok)
	assert.InDelta(t, 20, f.Acceleration, 1e-9)
	assert.True(t, f.Maneuvering)
}
