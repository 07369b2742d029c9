// Package recognition implements the formation recognition pipeline: a
// transient per-run track map, multi-time-point rule evaluation fanned out
// with errgroup, graph-connectivity formation synthesis, and the incremental
// triggering logic that drives the stream service (SPEC_FULL.md §4.4),
// grounded on original_source/formation_engine.py and
// original_source/formation_engine_smart.py.
package recognition

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rhino11/formation/internal/geo"
	"github.com/rhino11/formation/internal/logging"
	"github.com/rhino11/formation/internal/models"
	"github.com/rhino11/formation/internal/rules"
	"github.com/rhino11/formation/internal/track"
)

// Config carries the tunables described in SPEC_FULL.md §4.4/§6.
type Config struct {
	SamplingStep         time.Duration
	PersistenceThreshold float64
	MinFormationDuration time.Duration
	MinTrackPoints       int
	MinInterval          time.Duration
}

// DefaultConfig returns the spec's default tunables.
func DefaultConfig() Config {
	return Config{
		SamplingStep:         10 * time.Second,
		PersistenceThreshold: 0.6,
		MinFormationDuration: 30 * time.Second,
		MinTrackPoints:       3,
		MinInterval:          5 * time.Second,
	}
}

type trackEntry struct {
	track *track.Track
	attrs models.TargetAttributes
}

// Engine is the formation recognition engine. One Engine instance owns a
// transient map of tracks built up via Ingest and consumed by Recognize; the
// spec requires recognitions never run concurrently, so every exported
// method that touches shared state takes the same mutex.
type Engine struct {
	mu          sync.Mutex
	config      Config
	rules       *rules.Manager
	cacheReader track.Reader
	now         func() time.Time

	tracks  map[string]*trackEntry
	pending map[string]struct{}
	lastRun time.Time
	hasRun  bool
}

// New creates an Engine evaluating manager's active rule set. cacheReader may
// be nil; when set, it backs each track's near-real-time pull-through and the
// incremental refresh-before-run step.
func New(manager *rules.Manager, cfg Config, cacheReader track.Reader) *Engine {
	return &Engine{
		config:      cfg,
		rules:       manager,
		cacheReader: cacheReader,
		now:         time.Now,
		tracks:      make(map[string]*trackEntry),
		pending:     make(map[string]struct{}),
	}
}

// Ingest records state for targetID, creating its track on first sight, and
// marks the target pending for the next incremental run. Mirrors
// original_source/formation_engine.py's _process_single_record.
func (e *Engine) Ingest(targetID string, attrs models.TargetAttributes, state models.TargetState) {
	e.mu.Lock()
	te, ok := e.tracks[targetID]
	if !ok {
		te = &trackEntry{track: track.New(targetID, nil, e.cacheReader), attrs: attrs}
		e.tracks[targetID] = te
	} else {
		te.attrs = attrs
	}
	e.pending[targetID] = struct{}{}
	e.mu.Unlock()

	te.track.AddState(state, false)
}

// MarkPending adds targetID to the pending set without ingesting a new
// state, for callers that only observed a cache-side version bump.
func (e *Engine) MarkPending(targetID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[targetID] = struct{}{}
}

// PendingCount reports how many targets are currently pending.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// ShouldRun reports whether an incremental run is currently honoured, per
// SPEC_FULL.md §4.4: forced, never run before, MIN_INTERVAL elapsed, or a
// non-empty pending set.
func (e *Engine) ShouldRun(force bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shouldRunLocked(force)
}

func (e *Engine) shouldRunLocked(force bool) bool {
	if force {
		return true
	}
	if !e.hasRun {
		return true
	}
	if e.now().Sub(e.lastRun) >= e.config.MinInterval {
		return true
	}
	return len(e.pending) > 0
}

// RecognizeIncremental runs a recognition pass iff ShouldRun(force) holds.
// ran is false when the run was skipped. On success the pending set is
// cleared; on failure it is left intact so the caller's next attempt retries
// the same targets, per the stream service's failure policy (SPEC_FULL.md
// §4.5).
func (e *Engine) RecognizeIncremental(ctx context.Context, force bool) (formations []models.Formation, ran bool, err error) {
	e.mu.Lock()
	if !e.shouldRunLocked(force) {
		e.mu.Unlock()
		return nil, false, nil
	}
	pendingIDs := make([]string, 0, len(e.pending))
	for id := range e.pending {
		pendingIDs = append(pendingIDs, id)
	}
	e.mu.Unlock()

	e.refreshFromCache(pendingIDs)

	formations, err = e.Recognize(ctx, nil)

	e.mu.Lock()
	e.lastRun = e.now()
	e.hasRun = true
	if err == nil {
		e.pending = make(map[string]struct{})
	}
	e.mu.Unlock()

	return formations, true, err
}

// refreshFromCache pulls the latest cached state for each id and merges it
// into the local track when it postdates the track's own latest observation,
// mirroring SmartFormationEngine._refresh_from_cache.
func (e *Engine) refreshFromCache(ids []string) {
	if e.cacheReader == nil {
		return
	}
	for _, id := range ids {
		e.mu.Lock()
		te, ok := e.tracks[id]
		e.mu.Unlock()
		if !ok {
			continue
		}
		cached, ok := e.cacheReader.Get(id)
		if !ok {
			continue
		}
		latest, hasLatest := te.track.Latest()
		if !hasLatest || cached.Timestamp.After(latest.Timestamp) {
			te.track.AddState(cached, false)
		}
	}
}

// TimeRange bounds an analysis window.
type TimeRange struct {
	Start, End time.Time
}

type pairKey [2]string

func sortedPair(a, b string) pairKey {
	if a < b {
		return pairKey{a, b}
	}
	return pairKey{b, a}
}

type pairHistory struct {
	evaluations    int
	passedCount    int
	totalConfidence float64
	firstTime      time.Time
	lastTime       time.Time
}

type pointObservation struct {
	pair       pairKey
	passed     bool
	confidence float64
}

// Recognize executes the full multi-time-point recognition algorithm
// (SPEC_FULL.md §4.4 steps 1-9) over the engine's current track set. A nil
// window derives [start, end] from the tracks' own timestamp span.
func (e *Engine) Recognize(ctx context.Context, window *TimeRange) ([]models.Formation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := make(map[string]*trackEntry, len(e.tracks))
	for id, te := range e.tracks {
		entries[id] = te
	}
	if len(entries) == 0 {
		return nil, nil
	}

	start, end, ok := e.analysisWindow(entries, window)
	if !ok {
		return nil, nil
	}

	times := sampledTimes(start, end, e.config.SamplingStep)
	if len(times) == 0 {
		return nil, nil
	}

	histories, err := e.evaluateTimePoints(ctx, entries, times)
	if err != nil {
		return nil, err
	}

	validPairs := e.filterPersistentPairs(histories)
	if len(validPairs) == 0 {
		return nil, nil
	}

	components, confidences, cohesions := buildFormationGraph(validPairs)

	var formations []models.Formation
	for i, comp := range components {
		formation, ok := e.createFormation(entries, comp, confidences[i], cohesions[i], start, end)
		if ok {
			formations = append(formations, formation)
		}
	}
	return formations, nil
}

func (e *Engine) analysisWindow(entries map[string]*trackEntry, window *TimeRange) (time.Time, time.Time, bool) {
	if window != nil {
		return window.Start, window.End, true
	}
	var start, end time.Time
	found := false
	for _, te := range entries {
		s, en, ok := te.track.TimeSpan()
		if !ok {
			continue
		}
		if !found {
			start, end, found = s, en, true
			continue
		}
		if s.Before(start) {
			start = s
		}
		if en.After(end) {
			end = en
		}
	}
	return start, end, found
}

func sampledTimes(start, end time.Time, step time.Duration) []time.Time {
	if step <= 0 || end.Before(start) {
		return nil
	}
	var times []time.Time
	for t := start; !t.After(end); t = t.Add(step) {
		times = append(times, t)
	}
	return times
}

// evaluateTimePoints fans out one goroutine per sampled time, each producing
// its own slice of pairwise observations; results are merged into a single
// pairHistory map after every goroutine completes, per the fan-out/merge
// shape chosen in SPEC_FULL.md §4.4's Go realization note.
func (e *Engine) evaluateTimePoints(ctx context.Context, entries map[string]*trackEntry, times []time.Time) (map[pairKey]*pairHistory, error) {
	perPoint := make([][]pointObservation, len(times))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range times {
		i, t := i, t
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			perPoint[i] = e.evaluateOneTimePoint(entries, t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	histories := make(map[pairKey]*pairHistory)
	for i, t := range times {
		for _, obs := range perPoint[i] {
			h, ok := histories[obs.pair]
			if !ok {
				h = &pairHistory{firstTime: t, lastTime: t}
				histories[obs.pair] = h
			}
			h.evaluations++
			if t.Before(h.firstTime) {
				h.firstTime = t
			}
			if t.After(h.lastTime) {
				h.lastTime = t
			}
			if obs.passed {
				h.passedCount++
				h.totalConfidence += obs.confidence
			}
		}
	}
	return histories, nil
}

func (e *Engine) evaluateOneTimePoint(entries map[string]*trackEntry, t time.Time) []pointObservation {
	type liveTarget struct {
		id    string
		entry *trackEntry
		state models.TargetState
	}

	var live []liveTarget
	for id, te := range entries {
		state, ok := te.track.Interpolate(t)
		if !ok {
			continue
		}
		live = append(live, liveTarget{id: id, entry: te, state: state})
	}
	if len(live) < 2 {
		return nil
	}
	sort.Slice(live, func(i, j int) bool { return live[i].id < live[j].id })

	var observations []pointObservation
	for i := 0; i < len(live); i++ {
		for j := i + 1; j < len(live); j++ {
			a, b := live[i], live[j]
			ctx := &rules.RuleContext{
				Track1: a.entry.track, Track2: b.entry.track,
				State1: a.state, State2: b.state,
				Attrs1: a.entry.attrs, Attrs2: b.entry.attrs,
				Now: t,
			}
			result := e.rules.EvaluatePair(ctx)
			observations = append(observations, pointObservation{
				pair:       sortedPair(a.id, b.id),
				passed:     result.Passed,
				confidence: result.Confidence,
			})
		}
	}
	return observations
}

type validPair struct {
	pair        pairKey
	persistence float64
	confidence  float64
}

func (e *Engine) filterPersistentPairs(histories map[pairKey]*pairHistory) []validPair {
	var out []validPair
	for pair, h := range histories {
		if h.evaluations == 0 {
			continue
		}
		persistence := float64(h.passedCount) / float64(h.evaluations)
		avgConfidence := 0.0
		if h.passedCount > 0 {
			avgConfidence = h.totalConfidence / float64(h.passedCount)
		}
		duration := h.lastTime.Sub(h.firstTime)
		if persistence >= e.config.PersistenceThreshold && duration >= e.config.MinFormationDuration {
			out = append(out, validPair{pair: pair, persistence: persistence, confidence: avgConfidence})
		}
	}
	return out
}

// buildFormationGraph finds connected components of size >= 2 over the
// retained pairs (depth-first search), and for each component computes a
// confidence/cohesion that averages over every internal member pair — pairs
// absent from the retained edge set contribute zero, exactly as
// original_source/formation_engine.py's _build_formations does via
// edge_weights.get(p, 0).
func buildFormationGraph(pairs []validPair) (components [][]string, confidences, cohesions []float64) {
	graph := make(map[string]map[string]bool)
	confByPair := make(map[pairKey]float64)
	persByPair := make(map[pairKey]float64)

	for _, vp := range pairs {
		a, b := vp.pair[0], vp.pair[1]
		if graph[a] == nil {
			graph[a] = make(map[string]bool)
		}
		if graph[b] == nil {
			graph[b] = make(map[string]bool)
		}
		graph[a][b] = true
		graph[b][a] = true
		confByPair[vp.pair] = vp.confidence
		persByPair[vp.pair] = vp.persistence
	}

	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	visited := make(map[string]bool)
	var dfs func(node string, comp map[string]bool)
	dfs = func(node string, comp map[string]bool) {
		visited[node] = true
		comp[node] = true
		neighbors := make([]string, 0, len(graph[node]))
		for n := range graph[node] {
			neighbors = append(neighbors, n)
		}
		sort.Strings(neighbors)
		for _, n := range neighbors {
			if !visited[n] {
				dfs(n, comp)
			}
		}
	}

	for _, node := range nodes {
		if visited[node] {
			continue
		}
		comp := make(map[string]bool)
		dfs(node, comp)
		if len(comp) < 2 {
			continue
		}
		members := make([]string, 0, len(comp))
		for m := range comp {
			members = append(members, m)
		}
		sort.Strings(members)

		var confSum, persSum float64
		var pairCount int
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				p := sortedPair(members[i], members[j])
				confSum += confByPair[p]
				persSum += persByPair[p]
				pairCount++
			}
		}
		var conf, pers float64
		if pairCount > 0 {
			conf = confSum / float64(pairCount)
			pers = persSum / float64(pairCount)
		}
		components = append(components, members)
		confidences = append(confidences, conf)
		cohesions = append(cohesions, pers)
	}
	return components, confidences, cohesions
}

func (e *Engine) createFormation(entries map[string]*trackEntry, memberIDs []string, confidence, cohesion float64, start, end time.Time) (models.Formation, bool) {
	var members []models.FormationMember
	var allStates []models.TargetState

	for _, id := range memberIDs {
		te, ok := entries[id]
		if !ok {
			continue
		}
		states := te.track.StatesInRange(start, end)
		if len(states) < e.config.MinTrackPoints {
			continue
		}
		members = append(members, models.FormationMember{
			TargetID:   id,
			Attributes: te.attrs,
			JoinedAt:   states[0].Timestamp,
			States:     states,
		})
		allStates = append(allStates, states...)
	}
	if len(members) < 2 {
		return models.Formation{}, false
	}

	positions := make([]geo.Position, len(allStates))
	speeds := make([]float64, len(allStates))
	headings := make([]float64, len(allStates))
	altitudes := make([]float64, len(allStates))
	for i, s := range allStates {
		positions[i] = s.Position
		speeds[i] = s.Speed
		headings[i] = s.Heading
		altitudes[i] = s.Position.Altitude
	}

	bounds := geo.Bounds(positions)
	centerLon, centerLat := bounds.Center()
	centerAlt := geo.Mean(altitudes)

	meanHeading, headingStd := geo.CircularStats(headings)
	meanSpeed, speedStd := geo.Mean(speeds), geo.StdDev(speeds)
	altLayer := geo.ClassifyAltitude(centerAlt)

	platformTypes := make([]models.PlatformType, 0, len(members))
	for _, m := range members {
		platformTypes = append(platformTypes, m.Attributes.PlatformType)
	}

	appliedRules, ruleConfidences := e.ruleSummary()

	return models.Formation{
		Type:       classifyFormationType(platformTypes),
		Confidence: confidence,
		Members:    members,
		TimeStart:  start,
		TimeEnd:    end,
		CreatedAt:  e.now(),
		Spatial: models.SpatialSummary{
			Center:  geo.Position{Longitude: centerLon, Latitude: centerLat, Altitude: centerAlt},
			Bounds:  bounds,
			AreaKM2: bounds.CoverageAreaKM2(),
		},
		Motion: models.MotionSummary{
			MeanSpeed:     meanSpeed,
			SpeedStdDev:   speedStd,
			MeanHeading:   meanHeading,
			HeadingStdDev: headingStd,
			AltitudeLayer: altLayer,
			Cohesion:      cohesion,
		},
		AppliedRules:    appliedRules,
		RuleConfidences: ruleConfidences,
	}, true
}

func (e *Engine) ruleSummary() ([]string, map[string]float64) {
	var names []string
	confidences := make(map[string]float64)
	for _, r := range e.rules.Rules() {
		if !r.Enabled() {
			continue
		}
		names = append(names, r.Name())
		stats := r.Stats()
		if stats.Evaluations > 0 {
			confidences[r.Name()] = float64(stats.Passed) / float64(stats.Evaluations)
		}
	}
	return names, confidences
}

// classifyFormationType applies the priority-ordered classification rules
// from SPEC_FULL.md §4.4 step 8, first match wins.
func classifyFormationType(types []models.PlatformType) string {
	has := func(p models.PlatformType) bool {
		for _, t := range types {
			if t == p {
				return true
			}
		}
		return false
	}
	allIn := func(allowed ...models.PlatformType) bool {
		for _, t := range types {
			found := false
			for _, a := range allowed {
				if t == a {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}

	switch {
	case has(models.PlatformAWACS) && len(types) >= 2:
		return "AEW-Controlled Group"
	case has(models.PlatformTanker):
		return "Refueling Cell"
	case has(models.PlatformEW):
		return "Strike Package with EW"
	case allIn(models.PlatformFighter, models.PlatformUAV):
		return "Fighter Section"
	case has(models.PlatformBomber) && has(models.PlatformFighter):
		return "Escorted Strike Package"
	case has(models.PlatformBomber):
		return "Bomber Cell"
	case has(models.PlatformTransport):
		return "Transport Formation"
	default:
		return "Mixed Formation"
	}
}

// ApplyPreset swaps the active rule set, logging the switch the way
// adapt_to_scene does in the original engine.
func (e *Engine) ApplyPreset(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ok := e.rules.ApplyPreset(name)
	if ok {
		logging.For("recognition").WithField("preset", name).Info("[RECOGNITION] preset applied")
	}
	return ok
}

// TrackCount reports how many targets the engine currently tracks.
func (e *Engine) TrackCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tracks)
}
