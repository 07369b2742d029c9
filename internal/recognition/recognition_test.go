package recognition

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhino11/formation/internal/geo"
	"github.com/rhino11/formation/internal/models"
	"github.com/rhino11/formation/internal/rules"
)

func fighterAttrs() models.TargetAttributes {
	return models.TargetAttributes{
		PlatformType: models.PlatformFighter,
		Nation:       "BLUE",
		Alliance:     "NATO",
	}
}

func ingestTightFormation(e *Engine, base time.Time) {
	starts := []geo.Position{
		{Longitude: 116.400, Latitude: 39.900, Altitude: 5000},
		{Longitude: 116.405, Latitude: 39.902, Altitude: 5000},
		{Longitude: 116.398, Latitude: 39.898, Altitude: 5000},
		{Longitude: 116.402, Latitude: 39.901, Altitude: 5000},
	}
	ids := []string{"T1", "T2", "T3", "T4"}

	for step := 0; step < 24; step++ {
		t := base.Add(time.Duration(step) * 5 * time.Second)
		for i, id := range ids {
			e.Ingest(id, fighterAttrs(), models.TargetState{
				Timestamp: t,
				Position:  starts[i],
				Heading:   90,
				Speed:     250,
			})
		}
	}
}

func newTightFighterEngine() *Engine {
	m := rules.NewManager()
	m.ApplyPreset("tight_fighter")
	return New(m, DefaultConfig(), nil)
}

func TestRecognizeFourTightFightersFormOneFormation(t *testing.T) {
	e := newTightFighterEngine()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	ingestTightFormation(e, base)

	formations, err := e.Recognize(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, formations, 1)

	f := formations[0]
	assert.Equal(t, "Fighter Section", f.Type)
	assert.Len(t, f.Members, 4)
	assert.GreaterOrEqual(t, f.Confidence, 0.7)
}

func TestRecognizeEmptyTrackSetReturnsNoFormations(t *testing.T) {
	e := newTightFighterEngine()
	formations, err := e.Recognize(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, formations)
}

func TestRecognizeSingleTargetReturnsNoFormations(t *testing.T) {
	e := newTightFighterEngine()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	e.Ingest("T1", fighterAttrs(), models.TargetState{Timestamp: base, Position: geo.Position{Longitude: 1, Latitude: 1, Altitude: 1000}, Heading: 90, Speed: 200})

	formations, err := e.Recognize(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, formations)
}

func TestRecognizeZeroDurationWindowReturnsNoFormations(t *testing.T) {
	e := newTightFighterEngine()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	e.Ingest("T1", fighterAttrs(), models.TargetState{Timestamp: base, Position: geo.Position{Longitude: 1, Latitude: 1}, Heading: 0, Speed: 200})
	e.Ingest("T2", fighterAttrs(), models.TargetState{Timestamp: base, Position: geo.Position{Longitude: 1.001, Latitude: 1.001}, Heading: 0, Speed: 200})

	formations, err := e.Recognize(context.Background(), &TimeRange{Start: base, End: base})
	require.NoError(t, err)
	assert.Empty(t, formations)
}

func TestRecognizeFarApartTargetsDoNotForm(t *testing.T) {
	e := newTightFighterEngine()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	for step := 0; step < 12; step++ {
		t := base.Add(time.Duration(step) * 10 * time.Second)
		e.Ingest("T1", fighterAttrs(), models.TargetState{Timestamp: t, Position: geo.Position{Longitude: 100, Latitude: 10, Altitude: 5000}, Heading: 90, Speed: 250})
		e.Ingest("T2", fighterAttrs(), models.TargetState{Timestamp: t, Position: geo.Position{Longitude: 120, Latitude: 40, Altitude: 5000}, Heading: 90, Speed: 250})
	}

	formations, err := e.Recognize(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, formations)
}

func TestShouldRunHonoursForceAndFirstRun(t *testing.T) {
	e := newTightFighterEngine()
	assert.True(t, e.ShouldRun(false), "never run before should honour")
	assert.True(t, e.ShouldRun(true))
}

func TestShouldRunRespectsMinIntervalAndPendingSet(t *testing.T) {
	e := newTightFighterEngine()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	_, ran, err := e.RecognizeIncremental(context.Background(), true)
	require.NoError(t, err)
	require.True(t, ran)

	assert.False(t, e.ShouldRun(false), "no pending, interval not elapsed")

	e.MarkPending("T1")
	assert.True(t, e.ShouldRun(false), "pending set makes it honoured")

	e.pending = make(map[string]struct{})
	e.now = func() time.Time { return fixed.Add(10 * time.Second) }
	assert.True(t, e.ShouldRun(false), "interval elapsed")
}

func TestRecognizeIncrementalClearsPendingOnSuccess(t *testing.T) {
	e := newTightFighterEngine()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	ingestTightFormation(e, base)

	formations, ran, err := e.RecognizeIncremental(context.Background(), true)
	require.NoError(t, err)
	require.True(t, ran)
	assert.NotEmpty(t, formations)
	assert.Equal(t, 0, e.PendingCount())
}

func TestRecognizeIncrementalSkipsWhenNotHonoured(t *testing.T) {
	e := newTightFighterEngine()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	_, ran, err := e.RecognizeIncremental(context.Background(), true)
	require.NoError(t, err)
	require.True(t, ran)

	_, ran, err = e.RecognizeIncremental(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestClassifyFormationTypePriorityOrder(t *testing.T) {
	cases := []struct {
		types []models.PlatformType
		want  string
	}{
		{[]models.PlatformType{models.PlatformAWACS, models.PlatformFighter}, "AEW-Controlled Group"},
		{[]models.PlatformType{models.PlatformTanker, models.PlatformFighter}, "Refueling Cell"},
		{[]models.PlatformType{models.PlatformEW, models.PlatformBomber}, "Strike Package with EW"},
		{[]models.PlatformType{models.PlatformFighter, models.PlatformUAV}, "Fighter Section"},
		{[]models.PlatformType{models.PlatformBomber, models.PlatformFighter}, "Escorted Strike Package"},
		{[]models.PlatformType{models.PlatformBomber, models.PlatformBomber}, "Bomber Cell"},
		{[]models.PlatformType{models.PlatformTransport, models.PlatformTransport}, "Transport Formation"},
		{[]models.PlatformType{models.PlatformHelicopter, models.PlatformUnknown}, "Mixed Formation"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, classifyFormationType(c.types))
	}
}

func TestApplyPresetSwitchesRuleSet(t *testing.T) {
	m := rules.NewManager()
	e := New(m, DefaultConfig(), nil)
	ok := e.ApplyPreset("strike_package")
	assert.True(t, ok)
	assert.False(t, e.ApplyPreset("no-such-preset"))
}
