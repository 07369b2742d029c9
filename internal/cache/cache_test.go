package cache

import (
	"testing"
	"time"

	"github.com/rhino11/formation/internal/geo"
	"github.com/rhino11/formation/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newState(lon, heading, speed float64, ts time.Time) models.TargetState {
	return models.TargetState{
		Timestamp: ts,
		Position:  geo.Position{Longitude: lon, Latitude: 39.9, Altitude: 5000},
		Heading:   heading,
		Speed:     speed,
	}
}

func TestPutCreateThenUpdate(t *testing.T) {
	c := New(DefaultConfig())
	s1 := newState(116.4, 90, 250, time.Now())

	updated, v1, d1, err := c.Put("t1", s1)
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Nil(t, d1)

	s2 := newState(116.41, 90, 250, time.Now())
	updated, v2, d2, err := c.Put("t1", s2)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Greater(t, v2, v1)
	require.NotNil(t, d2)
	assert.Contains(t, d2.ChangedFields, "position")
}

func TestVersionStrictlyMonotonicSameMillisecond(t *testing.T) {
	c := New(DefaultConfig())
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return frozen }

	_, v1, _, _ := c.Put("t1", newState(116.4, 90, 250, frozen))
	_, v2, _, _ := c.Put("t1", newState(116.5, 90, 250, frozen))
	assert.Greater(t, v2, v1)
}

func TestPutGetRoundTrip(t *testing.T) {
	c := New(DefaultConfig())
	s := newState(116.4, 90, 250, time.Now())
	_, v, _, _ := c.Put("t1", s)

	got, ok := c.Get("t1")
	require.True(t, ok)
	assert.Equal(t, s.Position, got.Position)
	assert.Equal(t, v, c.VersionOf("t1"))
}

func TestNoOpPutStillBumpsVersionNoDelta(t *testing.T) {
	c := New(DefaultConfig())
	s := newState(116.4, 90, 250, time.Now())
	_, v1, _, _ := c.Put("t1", s)
	_, v2, delta, _ := c.Put("t1", s)

	assert.Greater(t, v2, v1, "always-bump policy: version advances even on identical state")
	assert.Nil(t, delta, "identical state emits no delta event")
}

func TestHeadingDeltaWraps(t *testing.T) {
	c := New(DefaultConfig())
	now := time.Now()
	c.Put("t1", newState(116.4, 350, 250, now))
	_, _, d, _ := c.Put("t1", newState(116.4, 10, 250, now.Add(time.Second)))

	require.NotNil(t, d)
	require.NotNil(t, d.Heading)
	assert.InDelta(t, 20, d.Heading.Delta, 1e-9)
}

func TestDeleteEmitsDeltaAndRemovesState(t *testing.T) {
	c := New(DefaultConfig())
	c.Put("t1", newState(116.4, 90, 250, time.Now()))

	require.NoError(t, c.Delete("t1", "EXPIRED"))
	_, ok := c.Get("t1")
	assert.False(t, ok)

	events := c.DeltaSince("t1", -1)
	require.Len(t, events, 1)
	assert.Equal(t, models.DeltaDelete, events[0].Kind)
}

func TestDeleteAbsentIsIdempotent(t *testing.T) {
	c := New(DefaultConfig())
	assert.NoError(t, c.Delete("nope", "EXPIRED"))
}

func TestDeltaSinceFiltersByVersion(t *testing.T) {
	c := New(DefaultConfig())
	now := time.Now()
	c.Put("t1", newState(116.4, 90, 250, now))
	_, v2, _, _ := c.Put("t1", newState(116.5, 90, 250, now.Add(time.Second)))
	_, _, _, _ = c.Put("t1", newState(116.6, 90, 250, now.Add(2*time.Second)))

	events := c.DeltaSince("t1", v2)
	require.Len(t, events, 1)
	assert.Greater(t, events[0].Version, v2)
}

func TestAllActiveScansWithoutExpired(t *testing.T) {
	c := New(Config{TargetTTL: 10 * time.Millisecond, DeltaTTL: DefaultDeltaTTL, DeltaMaxItems: DefaultDeltaMaxPerTarget})
	frozen := time.Now()
	c.now = func() time.Time { return frozen }
	c.Put("t1", newState(116.4, 90, 250, frozen))

	assert.Contains(t, c.AllActive(), "t1")

	c.now = func() time.Time { return frozen.Add(time.Hour) }
	assert.NotContains(t, c.AllActive(), "t1")
}

func TestDeltaLogCapped(t *testing.T) {
	c := New(Config{TargetTTL: DefaultTargetTTL, DeltaTTL: DefaultDeltaTTL, DeltaMaxItems: 3})
	now := time.Now()
	c.Put("t1", newState(0, 0, 0, now))
	for i := 1; i <= 5; i++ {
		c.Put("t1", newState(float64(i), 0, 0, now.Add(time.Duration(i)*time.Second)))
	}
	events := c.DeltaSince("t1", -1)
	assert.LessOrEqual(t, len(events), 3)
}

func TestAsPublisherSatisfiesTrackPublisher(t *testing.T) {
	c := New(DefaultConfig())
	pub := c.AsPublisher()
	require.NoError(t, pub.Put("t1", newState(116.4, 90, 250, time.Now())))
	_, ok := c.Get("t1")
	assert.True(t, ok)
}
