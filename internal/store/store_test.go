package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhino11/formation/internal/models"
)

func fixedFormation(createdAt time.Time, ftype string, confidence float64) models.Formation {
	return models.Formation{
		Type:       ftype,
		Confidence: confidence,
		CreatedAt:  createdAt,
		TimeStart:  createdAt,
		TimeEnd:    createdAt,
		Members: []models.FormationMember{
			{TargetID: "T1"},
			{TargetID: "T2"},
		},
	}
}

func TestStoreGeneratesIDWhenCustomIDEmpty(t *testing.T) {
	s := New(time.Hour)
	id, err := s.Store(fixedFormation(time.Now(), "tight_fighter_pair", 0.9), "")
	require.NoError(t, err)
	assert.Regexp(t, `^F\d+_[0-9a-f]{8}$`, id)
}

func TestStoreHonorsCustomID(t *testing.T) {
	s := New(time.Hour)
	id, err := s.Store(fixedFormation(time.Now(), "loose_bomber_cell", 0.7), "custom-id")
	require.NoError(t, err)
	assert.Equal(t, "custom-id", id)

	got, ok := s.Get("custom-id")
	require.True(t, ok)
	assert.Equal(t, "loose_bomber_cell", got.Type)
}

func TestGetMissingReturnsFalse(t *testing.T) {
	s := New(time.Hour)
	_, ok := s.Get("nope")
	assert.False(t, ok)
}

func TestGetExpiredReturnsFalse(t *testing.T) {
	s := New(time.Hour)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	id, err := s.Store(fixedFormation(fixed, "strike_package", 0.8), "")
	require.NoError(t, err)

	s.now = func() time.Time { return fixed.Add(2 * time.Hour) }
	_, ok := s.Get(id)
	assert.False(t, ok)
}

func TestDeleteRemovesFromBothIndexes(t *testing.T) {
	s := New(time.Hour)
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	id, err := s.Store(fixedFormation(now, "awacs_control_group", 0.5), "")
	require.NoError(t, err)

	require.NoError(t, s.Delete(id))
	_, ok := s.Get(id)
	assert.False(t, ok)
	assert.Empty(t, s.Latest(10))
	assert.Empty(t, s.ByDate(now.Format("20060102"), 10))
}

func TestDeleteOfMissingIDIsIdempotent(t *testing.T) {
	s := New(time.Hour)
	assert.NoError(t, s.Delete("does-not-exist"))
}

func TestLatestReturnsMostRecentFirst(t *testing.T) {
	s := New(time.Hour)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		t0 := base.Add(time.Duration(i) * time.Minute)
		id, err := s.Store(fixedFormation(t0, "tight_fighter_pair", 0.9), "")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	latest := s.Latest(2)
	require.Len(t, latest, 2)
	assert.Equal(t, ids[2], latest[0].ID)
	assert.Equal(t, ids[1], latest[1].ID)
}

func TestByTimeRangeFiltersAndOrdersOldestFirst(t *testing.T) {
	s := New(time.Hour)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		t0 := base.Add(time.Duration(i) * time.Hour)
		_, err := s.Store(fixedFormation(t0, "tight_fighter_pair", 0.9), "")
		require.NoError(t, err)
	}

	got := s.ByTimeRange(base.Add(time.Hour), base.Add(3*time.Hour), 0)
	require.Len(t, got, 3)
	assert.True(t, got[0].CreatedAt.Before(got[1].CreatedAt))
}

func TestByTimeRangeHonorsLimit(t *testing.T) {
	s := New(time.Hour)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.Store(fixedFormation(base.Add(time.Duration(i)*time.Minute), "tight_fighter_pair", 0.9), "")
		require.NoError(t, err)
	}
	got := s.ByTimeRange(base, base.Add(time.Hour), 2)
	assert.Len(t, got, 2)
}

func TestByDateIsolatesCalendarDays(t *testing.T) {
	s := New(time.Hour)
	day1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

	_, err := s.Store(fixedFormation(day1, "tight_fighter_pair", 0.9), "")
	require.NoError(t, err)
	_, err = s.Store(fixedFormation(day2, "loose_bomber_cell", 0.7), "")
	require.NoError(t, err)

	got := s.ByDate("20260501", 0)
	require.Len(t, got, 1)
	assert.Equal(t, "tight_fighter_pair", got[0].Type)
}

func TestStatisticsAggregatesTypeDistributionAndConfidence(t *testing.T) {
	s := New(time.Hour)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.Store(fixedFormation(now, "tight_fighter_pair", 0.8), "")
	require.NoError(t, err)
	_, err = s.Store(fixedFormation(now, "tight_fighter_pair", 0.6), "")
	require.NoError(t, err)

	stats := s.Statistics(1)
	assert.Equal(t, 2, stats.TotalCount)
	assert.Equal(t, 2, stats.TypeDistribution["tight_fighter_pair"])
	assert.InDelta(t, 0.7, stats.AvgConfidence, 1e-9)
}

func TestCleanupExpiredSweepsOrphanIndexesAndOldDates(t *testing.T) {
	s := New(time.Hour)
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }

	_, err := s.Store(fixedFormation(start, "tight_fighter_pair", 0.9), "")
	require.NoError(t, err)

	s.now = func() time.Time { return start.Add(2 * time.Hour) }
	stats := s.CleanupExpired()

	assert.Equal(t, 1, stats.OrphanIndexesCleaned)
	assert.Equal(t, 1, stats.DateIndexesDropped)
	assert.Empty(t, s.Latest(10))
}

func TestCleanupExpiredIsIdempotent(t *testing.T) {
	s := New(time.Hour)
	stats := s.CleanupExpired()
	assert.Equal(t, 0, stats.OrphanIndexesCleaned)
	second := s.CleanupExpired()
	assert.Equal(t, 0, second.OrphanIndexesCleaned)
}
