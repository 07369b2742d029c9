// Package store implements the formation store: a time-indexed, TTL'd
// record of recognition results with a global timeline index and a per-date
// index (SPEC_FULL.md §4.6), grounded on
// original_source/cache/formation_store.py.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rhino11/formation/internal/errs"
	"github.com/rhino11/formation/internal/logging"
	"github.com/rhino11/formation/internal/models"
)

// DefaultTTL is FORMATION_TTL.
const DefaultTTL = 7 * 24 * time.Hour

type record struct {
	formation models.Formation
	expiresAt time.Time
}

// indexEntry is one member of the slice-backed "ordered set scored by
// create-time-epoch" described in SPEC_FULL.md §4.6's Go realization.
type indexEntry struct {
	id    string
	score float64 // create-time epoch seconds
}

// Store is the formation store.
type Store struct {
	mu       sync.RWMutex
	ttl      time.Duration
	records  map[string]record
	timeline []indexEntry
	daily    map[string][]indexEntry // key: YYYYMMDD
	dailyExp map[string]time.Time
	now      func() time.Time
}

// New creates a Store with the given record/date-index TTL. A zero ttl uses
// DefaultTTL.
func New(ttl time.Duration) *Store {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Store{
		ttl:      ttl,
		records:  make(map[string]record),
		daily:    make(map[string][]indexEntry),
		dailyExp: make(map[string]time.Time),
		now:      time.Now,
	}
}

func generateFormationID(createTime time.Time) string {
	return fmt.Sprintf("F%d_%s", createTime.UnixMilli(), uuid.New().String()[:8])
}

func insertSorted(entries []indexEntry, e indexEntry) []indexEntry {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].score >= e.score })
	entries = append(entries, indexEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	return entries
}

// Store writes formation and adds it to both indexes. If customID is
// non-empty it is used verbatim instead of generating one.
func (s *Store) Store(formation models.Formation, customID string) (string, error) {
	id := customID
	if id == "" {
		id = generateFormationID(formation.CreatedAt)
	}
	formation.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[id] = record{formation: formation, expiresAt: s.now().Add(s.ttl)}

	score := float64(formation.CreatedAt.Unix())
	s.timeline = insertSorted(s.timeline, indexEntry{id: id, score: score})

	dateKey := formation.CreatedAt.Format("20060102")
	s.daily[dateKey] = insertSorted(s.daily[dateKey], indexEntry{id: id, score: score})
	s.dailyExp[dateKey] = s.now().Add(s.ttl)

	logging.For("store").WithField("formation_id", id).Info("[STORE] formation stored")
	return id, nil
}

func (s *Store) liveLocked(id string) (models.Formation, bool) {
	rec, ok := s.records[id]
	if !ok || s.now().After(rec.expiresAt) {
		return models.Formation{}, false
	}
	return rec.formation, true
}

// Get returns the formation with id, if present and unexpired.
func (s *Store) Get(id string) (models.Formation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveLocked(id)
}

// Delete removes the formation record and both index entries for id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil // idempotent success on an already-absent record, §7.
	}
	delete(s.records, id)
	s.timeline = removeID(s.timeline, id)

	dateKey := rec.formation.CreatedAt.Format("20060102")
	s.daily[dateKey] = removeID(s.daily[dateKey], id)
	return nil
}

func removeID(entries []indexEntry, id string) []indexEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}

// Latest returns up to n formations, most recent first.
func (s *Store) Latest(n int) []models.Formation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Formation
	for i := len(s.timeline) - 1; i >= 0 && len(out) < n; i-- {
		if f, ok := s.liveLocked(s.timeline[i].id); ok {
			out = append(out, f)
		}
	}
	return out
}

// ByTimeRange returns formations with create time in [start, end], oldest
// first, up to limit.
func (s *Store) ByTimeRange(start, end time.Time, limit int) []models.Formation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo, hi := float64(start.Unix()), float64(end.Unix())
	var out []models.Formation
	for _, e := range s.timeline {
		if e.score < lo || e.score > hi {
			continue
		}
		if f, ok := s.liveLocked(e.id); ok {
			out = append(out, f)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// ByDate returns formations created on date (YYYYMMDD), most recent first,
// up to limit.
func (s *Store) ByDate(date string, limit int) []models.Formation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.daily[date]
	var out []models.Formation
	for i := len(entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if f, ok := s.liveLocked(entries[i].id); ok {
			out = append(out, f)
		}
	}
	return out
}

// Statistics summarizes formation activity over the last days days.
type Statistics struct {
	TotalCount       int
	DailyCounts      map[string]int
	TypeDistribution map[string]int
	AvgConfidence    float64
}

// Statistics computes daily counts, type distribution, and mean confidence
// over the last `days` days, following original_source's
// get_formation_statistics (limit 1000 formations sampled per day).
func (s *Store) Statistics(days int) Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{DailyCounts: make(map[string]int), TypeDistribution: make(map[string]int)}
	var totalConfidence float64
	var confidenceCount int

	for i := 0; i < days; i++ {
		date := s.now().AddDate(0, 0, -i).Format("20060102")
		entries := s.daily[date]
		stats.DailyCounts[date] = len(entries)
		stats.TotalCount += len(entries)

		limit := 1000
		for j, e := range entries {
			if j >= limit {
				break
			}
			f, ok := s.liveLocked(e.id)
			if !ok {
				continue
			}
			stats.TypeDistribution[f.Type]++
			totalConfidence += f.Confidence
			confidenceCount++
		}
	}
	if confidenceCount > 0 {
		stats.AvgConfidence = totalConfidence / float64(confidenceCount)
	}
	return stats
}

// CleanupStats reports how many orphaned index references were swept.
type CleanupStats struct {
	OrphanIndexesCleaned int
	DateIndexesDropped   int
}

// CleanupExpired sweeps the timeline and date indexes for entries whose
// backing record has expired, and drops date indexes older than the
// store's TTL. Idempotent: a second call with no intervening writes removes
// nothing further.
func (s *Store) CleanupExpired() CleanupStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats CleanupStats

	var liveTimeline []indexEntry
	for _, e := range s.timeline {
		if _, ok := s.liveLocked(e.id); ok {
			liveTimeline = append(liveTimeline, e)
		} else {
			stats.OrphanIndexesCleaned++
		}
	}
	s.timeline = liveTimeline

	for date, exp := range s.dailyExp {
		if s.now().After(exp) {
			delete(s.daily, date)
			delete(s.dailyExp, date)
			stats.DateIndexesDropped++
		}
	}

	for date, entries := range s.daily {
		var live []indexEntry
		for _, e := range entries {
			if _, ok := s.liveLocked(e.id); ok {
				live = append(live, e)
			} else {
				stats.OrphanIndexesCleaned++
			}
		}
		if len(live) == 0 {
			delete(s.daily, date)
			delete(s.dailyExp, date)
			continue
		}
		s.daily[date] = live
	}

	return stats
}

// ErrBackendUnavailable mirrors cache.ErrBackendUnavailable for the store's
// hypothetical out-of-process backend.
var ErrBackendUnavailable = errs.Transient("formation store backend unavailable")
