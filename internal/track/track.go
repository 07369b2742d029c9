// Package track implements TargetTrack: a segmented, time-ordered history of
// TargetState observations with linear/circular interpolation and
// near-real-time cache pull-through (SPEC_FULL.md §4.2).
package track

import (
	"sort"
	"sync"
	"time"

	"github.com/rhino11/formation/internal/geo"
	"github.com/rhino11/formation/internal/models"
)

// SegmentGap is the default gap (SEGMENT_GAP) beyond which a new segment starts.
const SegmentGap = 2 * time.Minute

// NearRealTimeWindow is how close to wall-clock now a requested interpolation
// time must be before the cache is consulted first.
const NearRealTimeWindow = 5 * time.Second

// Publisher is the one-way write path a track uses to mirror its ingested
// states into the target cache, breaking the cyclic track<->cache dependency
// called out in SPEC_FULL.md §9. Implemented by cache.Publisher, which wraps
// a *cache.TargetCache.
type Publisher interface {
	Put(targetID string, state models.TargetState) error
}

// Reader is the near-real-time pull-on-read path: interpolate consults the
// cache only for times within NearRealTimeWindow of now. Implemented by
// *cache.TargetCache.
type Reader interface {
	Get(targetID string) (models.TargetState, bool)
}

// MotionFeatures are the centred-finite-difference derived quantities
// attached to a state once both neighbours are known.
type MotionFeatures struct {
	Acceleration float64
	TurnRate     float64
	ClimbRate    float64
	Maneuvering  bool
}

type segment struct {
	states []models.TargetState
}

// Track is a single target's segmented state history.
type Track struct {
	mu        sync.RWMutex
	targetID  string
	segments  []segment
	current   segment
	publisher Publisher
	reader    Reader
	now       func() time.Time
}

// New creates a Track for targetID. publisher/reader may be nil (the track
// then behaves purely as local history with no cache mirroring or pull-through).
func New(targetID string, publisher Publisher, reader Reader) *Track {
	return &Track{
		targetID:  targetID,
		publisher: publisher,
		reader:    reader,
		now:       time.Now,
	}
}

// AddState appends state to the track, sealing the current segment first if
// the gap since the last observation exceeds SegmentGap. If syncToCache is
// true and a Publisher is configured, the state is mirrored to the cache;
// a mirroring error is discarded and never fails AddState.
func (t *Track) AddState(state models.TargetState, syncToCache bool) {
	t.mu.Lock()
	if len(t.current.states) > 0 {
		last := t.current.states[len(t.current.states)-1]
		if state.Timestamp.Sub(last.Timestamp) > SegmentGap {
			t.segments = append(t.segments, t.current)
			t.current = segment{}
		}
	}
	t.current.states = append(t.current.states, state)
	t.mu.Unlock()

	if syncToCache && t.publisher != nil {
		_ = t.publisher.Put(t.targetID, state)
	}
}

// Finalize seals any trailing non-empty segment.
func (t *Track) Finalize() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.current.states) > 0 {
		t.segments = append(t.segments, t.current)
		t.current = segment{}
	}
}

// allStates returns every observed state across sealed and open segments, in
// timestamp order. Callers must hold at least a read lock.
func (t *Track) allStates() []models.TargetState {
	var all []models.TargetState
	for _, seg := range t.segments {
		all = append(all, seg.states...)
	}
	all = append(all, t.current.states...)
	return all
}

// Interpolate returns the state at time t, linearly interpolating position
// and speed and shortest-arc interpolating heading between the nearest
// states at-or-before and at-or-after t. Returns false if the track is empty.
// Times within NearRealTimeWindow of now consult the cache Reader first.
func (t *Track) Interpolate(at time.Time) (models.TargetState, bool) {
	if t.reader != nil && t.now().Sub(at).Abs() < NearRealTimeWindow {
		if s, ok := t.reader.Get(t.targetID); ok {
			return s, true
		}
	}

	t.mu.RLock()
	all := t.allStates()
	t.mu.RUnlock()

	if len(all) == 0 {
		return models.TargetState{}, false
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })

	var before, after *models.TargetState
	for i := range all {
		s := all[i]
		if !s.Timestamp.After(at) {
			before = &all[i]
		}
		if s.Timestamp.After(at) || s.Timestamp.Equal(at) {
			if after == nil {
				after = &all[i]
			}
		}
	}

	switch {
	case before == nil && after == nil:
		return models.TargetState{}, false
	case before == nil:
		return *after, true
	case after == nil:
		return *before, true
	case before.Timestamp.Equal(after.Timestamp):
		return *before, true
	default:
		span := after.Timestamp.Sub(before.Timestamp).Seconds()
		frac := at.Sub(before.Timestamp).Seconds() / span
		return interpolateState(*before, *after, frac), true
	}
}

func interpolateState(before, after models.TargetState, frac float64) models.TargetState {
	lerp := func(a, b float64) float64 { return a + (b-a)*frac }
	span := after.Timestamp.Sub(before.Timestamp)
	offset := time.Duration(float64(span) * frac)
	return models.TargetState{
		Timestamp: before.Timestamp.Add(offset),
		Position: geo.Position{
			Longitude: lerp(before.Position.Longitude, after.Position.Longitude),
			Latitude:  lerp(before.Position.Latitude, after.Position.Latitude),
			Altitude:  lerp(before.Position.Altitude, after.Position.Altitude),
		},
		Heading: geo.ShortestArcInterp(before.Heading, after.Heading, frac),
		Speed:   lerp(before.Speed, after.Speed),
		Pitch:   lerp(before.Pitch, after.Pitch),
		Roll:    lerp(before.Roll, after.Roll),
	}
}

// Latest returns the most recently observed state, if any.
func (t *Track) Latest() (models.TargetState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.current.states) > 0 {
		return t.current.states[len(t.current.states)-1], true
	}
	if len(t.segments) > 0 {
		last := t.segments[len(t.segments)-1]
		if len(last.states) > 0 {
			return last.states[len(last.states)-1], true
		}
	}
	return models.TargetState{}, false
}

// TimeSpan returns the earliest and latest observed timestamps across every
// segment. ok is false for an empty track.
func (t *Track) TimeSpan() (start, end time.Time, ok bool) {
	t.mu.RLock()
	all := t.allStates()
	t.mu.RUnlock()
	if len(all) == 0 {
		return time.Time{}, time.Time{}, false
	}
	start, end = all[0].Timestamp, all[0].Timestamp
	for _, s := range all[1:] {
		if s.Timestamp.Before(start) {
			start = s.Timestamp
		}
		if s.Timestamp.After(end) {
			end = s.Timestamp
		}
	}
	return start, end, true
}

// StatesInRange returns every observed state with timestamp in [start, end].
func (t *Track) StatesInRange(start, end time.Time) []models.TargetState {
	t.mu.RLock()
	all := t.allStates()
	t.mu.RUnlock()

	var out []models.TargetState
	for _, s := range all {
		if !s.Timestamp.Before(start) && !s.Timestamp.After(end) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Count returns the total number of observed states.
func (t *Track) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.allStates())
}

// MotionFeaturesAt computes centred-finite-difference motion features for the
// state at index i within the combined, time-sorted state list; both
// neighbours must exist.
func MotionFeaturesAt(states []models.TargetState, i int) (MotionFeatures, bool) {
	if i <= 0 || i >= len(states)-1 {
		return MotionFeatures{}, false
	}
	prev, cur, next := states[i-1], states[i], states[i+1]
	dt1 := cur.Timestamp.Sub(prev.Timestamp).Seconds()
	dt2 := next.Timestamp.Sub(cur.Timestamp).Seconds()
	if dt1 <= 0 || dt2 <= 0 {
		return MotionFeatures{}, false
	}

	accel := ((next.Speed-cur.Speed)/dt2 + (cur.Speed-prev.Speed)/dt1) / 2
	turnRate := (geo.HeadingDiff(prev.Heading, cur.Heading)/dt1 + geo.HeadingDiff(cur.Heading, next.Heading)/dt2) / 2
	climbRate := ((next.Position.Altitude-cur.Position.Altitude)/dt2 + (cur.Position.Altitude-prev.Position.Altitude)/dt1) / 2

	features := MotionFeatures{
		Acceleration: accel,
		TurnRate:     turnRate,
		ClimbRate:    climbRate,
	}
	features.Maneuvering = abs(turnRate) > 5 || abs(accel) > 2
	return features, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
