package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhino11/formation/internal/geo"
	"github.com/rhino11/formation/internal/models"
	"github.com/rhino11/formation/internal/recognition"
	"github.com/rhino11/formation/internal/rules"
)

type fakeCache struct {
	version int64
	updated bool
}

func (f *fakeCache) Put(targetID string, state models.TargetState) (bool, int64, *models.DeltaEvent, error) {
	f.version++
	return f.updated, f.version, &models.DeltaEvent{TargetID: targetID, Version: f.version}, nil
}

type fakeBus struct {
	updates     int
	formations  int
}

func (f *fakeBus) PublishTargetUpdate(targetID string, delta models.DeltaEvent, now time.Time) {
	f.updates++
}
func (f *fakeBus) BroadcastFormationDetected(formation models.Formation, now time.Time) {
	f.formations++
}

type fakeStore struct {
	stored []models.Formation
}

func (f *fakeStore) Store(formation models.Formation, customID string) (string, error) {
	id := customID
	if id == "" {
		id = "F-generated"
	}
	formation.ID = id
	f.stored = append(f.stored, formation)
	return id, nil
}
func (f *fakeStore) Latest(n int) []models.Formation {
	if n > len(f.stored) {
		n = len(f.stored)
	}
	return f.stored[:n]
}

func fighterAttrs() models.TargetAttributes {
	return models.TargetAttributes{PlatformType: models.PlatformFighter, Nation: "BLUE", Alliance: "NATO"}
}

func tightObservations(base time.Time, step int) []models.TargetObservation {
	starts := []geo.Position{
		{Longitude: 116.400, Latitude: 39.900, Altitude: 5000},
		{Longitude: 116.405, Latitude: 39.902, Altitude: 5000},
		{Longitude: 116.398, Latitude: 39.898, Altitude: 5000},
		{Longitude: 116.402, Latitude: 39.901, Altitude: 5000},
	}
	ids := []string{"T1", "T2", "T3", "T4"}
	t := base.Add(time.Duration(step) * 5 * time.Second)

	obs := make([]models.TargetObservation, len(ids))
	for i, id := range ids {
		obs[i] = models.TargetObservation{
			TargetID: id,
			Attrs:    fighterAttrs(),
			State:    models.TargetState{Timestamp: t, Position: starts[i], Heading: 90, Speed: 250},
		}
	}
	return obs
}

func newTestService(c *fakeCache, b *fakeBus, st *fakeStore) *Service {
	m := rules.NewManager()
	m.ApplyPreset("tight_fighter")
	engine := recognition.New(m, recognition.DefaultConfig(), nil)
	return New(c, engine, st, b, DefaultConfig())
}

func TestPushMarksPendingAndPublishesOnUpdate(t *testing.T) {
	c := &fakeCache{updated: true}
	b := &fakeBus{}
	st := &fakeStore{}
	s := newTestService(c, b, st)

	result := s.Push(context.Background(), tightObservations(time.Now(), 0))
	assert.Equal(t, 4, result.Received)
	assert.Equal(t, 4, result.Changed)
	assert.Equal(t, 4, b.updates)
}

func TestPushDoesNotPublishWhenCacheReportsNoUpdate(t *testing.T) {
	c := &fakeCache{updated: false}
	b := &fakeBus{}
	st := &fakeStore{}
	s := newTestService(c, b, st)

	result := s.Push(context.Background(), tightObservations(time.Now(), 0))
	assert.Equal(t, 0, result.Changed)
	assert.Equal(t, 0, b.updates)
	assert.False(t, result.TriggerRecognize)
}

func TestShouldTriggerRecognizeOnChangeRatio(t *testing.T) {
	c := &fakeCache{}
	s := newTestService(c, &fakeBus{}, &fakeStore{})
	assert.True(t, s.shouldTriggerRecognize(1, 5, 0), "1/5 == 0.2 >= 0.1 threshold")
	assert.False(t, s.shouldTriggerRecognize(0, 20, 0))
}

func TestShouldTriggerRecognizeOnPendingSetSize(t *testing.T) {
	c := &fakeCache{}
	s := newTestService(c, &fakeBus{}, &fakeStore{})
	assert.True(t, s.shouldTriggerRecognize(0, 1000, 10))
	assert.False(t, s.shouldTriggerRecognize(0, 1000, 9))
}

func TestForceRecognizeStoresAndBroadcastsFormations(t *testing.T) {
	c := &fakeCache{updated: true}
	b := &fakeBus{}
	st := &fakeStore{}
	s := newTestService(c, b, st)
	// Keep Push from triggering its own background passes, so every
	// broadcast counted below comes from ForceRecognize.
	s.config.MinChangeThreshold = 2

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	for step := 0; step < 24; step++ {
		s.Push(context.Background(), tightObservations(base, step))
	}

	formations, err := s.ForceRecognize(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, formations)
	assert.NotEmpty(t, st.stored)
	assert.Equal(t, len(formations), b.formations)
}

func TestStartStopIsIdempotent(t *testing.T) {
	s := newTestService(&fakeCache{}, &fakeBus{}, &fakeStore{})
	s.Start()
	s.Start()
	assert.True(t, s.Status().Running)

	s.Stop()
	s.Stop()
	assert.False(t, s.Status().Running)
}

func TestRecentFormationsDelegatesToStore(t *testing.T) {
	st := &fakeStore{stored: []models.Formation{{ID: "F1"}, {ID: "F2"}}}
	s := newTestService(&fakeCache{}, &fakeBus{}, st)

	got := s.RecentFormations(1)
	require.Len(t, got, 1)
	assert.Equal(t, "F1", got[0].ID)
}
