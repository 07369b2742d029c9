// Package cache implements the target state cache: current state, monotonic
// per-target version, content hash, and an append-only delta event log
// (SPEC_FULL.md §4.1). Backed by an in-process sharded map with a bounded LRU
// companion standing in for the donor system's external KV store.
package cache

import (
	"crypto/md5"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rhino11/formation/internal/errs"
	"github.com/rhino11/formation/internal/logging"
	"github.com/rhino11/formation/internal/models"
)

const (
	shardCount = 32

	// DefaultTargetTTL is TARGET_TTL.
	DefaultTargetTTL = 24 * time.Hour
	// DefaultDeltaTTL is DELTA_TTL.
	DefaultDeltaTTL = 7 * 24 * time.Hour
	// DefaultDeltaMaxPerTarget is DELTA_MAX_PER_TARGET.
	DefaultDeltaMaxPerTarget = 10000
)

type entry struct {
	state       models.TargetState
	hash        string
	version     int64
	lastTouched time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
	deltas  map[string][]models.DeltaEvent
}

// Config bounds the cache's TTL and delta-log retention behaviour.
type Config struct {
	TargetTTL     time.Duration
	DeltaTTL      time.Duration
	DeltaMaxItems int
}

// DefaultConfig returns SPEC_FULL.md §6's default cache configuration.
func DefaultConfig() Config {
	return Config{
		TargetTTL:     DefaultTargetTTL,
		DeltaTTL:      DefaultDeltaTTL,
		DeltaMaxItems: DefaultDeltaMaxPerTarget,
	}
}

// MetricsSink receives cache write outcomes; implemented by *metrics.Registry.
type MetricsSink interface {
	ObserveCachePut(updated bool)
}

// TargetCache is the per-target current-state + version + delta-log store.
type TargetCache struct {
	cfg     Config
	shards  [shardCount]*shard
	recent  *lru.Cache[string, struct{}] // ids of recent Puts; not read, and its evictions do not remove entries
	now     func() time.Time
	metrics MetricsSink
}

// SetMetrics attaches a metrics sink; nil disables instrumentation.
func (c *TargetCache) SetMetrics(m MetricsSink) {
	c.metrics = m
}

// New creates a TargetCache with cfg. A zero Config uses DefaultConfig.
func New(cfg Config) *TargetCache {
	if cfg.TargetTTL == 0 {
		cfg = DefaultConfig()
	}
	recent, _ := lru.New[string, struct{}](100000)
	c := &TargetCache{cfg: cfg, recent: recent, now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]*entry), deltas: make(map[string][]models.DeltaEvent)}
	}
	return c
}

func (c *TargetCache) shardFor(targetID string) *shard {
	h := fnv32(targetID)
	return c.shards[h%shardCount]
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func stateHash(s models.TargetState) string {
	data := fmt.Sprintf("%.6f|%.6f|%.1f|%.2f|%.2f|%s",
		s.Position.Longitude, s.Position.Latitude, s.Position.Altitude,
		s.Heading, s.Speed, s.Timestamp.Format(time.RFC3339Nano))
	sum := md5.Sum([]byte(data))
	return fmt.Sprintf("%x", sum)
}

// Put atomically assigns the next version, stores state, refreshes the TTL
// clock, and appends a DeltaEvent when an old state existed and at least one
// of {position, heading, speed} differs. Per the always-bump policy chosen in
// SPEC_FULL.md §9, the version advances on every Put regardless of whether the
// hash changed. Returns whether this was an update (an old state existed),
// the new version, and the delta event if one was emitted.
func (c *TargetCache) Put(targetID string, state models.TargetState) (updated bool, version int64, delta *models.DeltaEvent, err error) {
	sh := c.shardFor(targetID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	old, existed := sh.entries[targetID]
	newVersion := c.now().UnixMilli()
	if existed && newVersion <= old.version {
		newVersion = old.version + 1
	}

	newHash := stateHash(state)
	e := &entry{state: state, hash: newHash, version: newVersion, lastTouched: c.now()}
	sh.entries[targetID] = e
	c.recent.Add(targetID, struct{}{})

	var emitted *models.DeltaEvent
	if existed {
		if d := computeDelta(targetID, newVersion, old.state, state); d != nil {
			sh.deltas[targetID] = appendCapped(sh.deltas[targetID], *d, c.cfg.DeltaMaxItems)
			emitted = d
		}
	}

	logging.CacheEvent(targetID, "PUT", newVersion)
	if c.metrics != nil {
		c.metrics.ObserveCachePut(existed)
	}
	return existed, newVersion, emitted, nil
}

func appendCapped(log []models.DeltaEvent, event models.DeltaEvent, max int) []models.DeltaEvent {
	log = append(log, event)
	if max > 0 && len(log) > max {
		log = log[len(log)-max:]
	}
	return log
}

func computeDelta(targetID string, version int64, old, new models.TargetState) *models.DeltaEvent {
	d := models.DeltaEvent{TargetID: targetID, Version: version, Kind: models.DeltaUpdate, Timestamp: new.Timestamp}
	var changed []string

	if old.Position != new.Position {
		d.Position = &models.PositionDelta{
			From: old.Position, To: new.Position,
			DLon: new.Position.Longitude - old.Position.Longitude,
			DLat: new.Position.Latitude - old.Position.Latitude,
			DAlt: new.Position.Altitude - old.Position.Altitude,
		}
		changed = append(changed, "position")
	}
	if old.Heading != new.Heading {
		diffVal := headingDelta(old.Heading, new.Heading)
		d.Heading = &models.FieldDelta{From: old.Heading, To: new.Heading, Delta: diffVal}
		changed = append(changed, "heading")
	}
	if old.Speed != new.Speed {
		d.Speed = &models.FieldDelta{From: old.Speed, To: new.Speed, Delta: new.Speed - old.Speed}
		changed = append(changed, "speed")
	}

	if len(changed) == 0 {
		return nil
	}
	d.ChangedFields = changed
	return &d
}

func headingDelta(from, to float64) float64 {
	diff := to - from
	for diff > 180 {
		diff -= 360
	}
	for diff <= -180 {
		diff += 360
	}
	return diff
}

// Publisher adapts a TargetCache to track.Publisher's single-return-value
// Put signature.
type Publisher struct{ Cache *TargetCache }

// Put implements track.Publisher.
func (p Publisher) Put(targetID string, state models.TargetState) error {
	_, _, _, err := p.Cache.Put(targetID, state)
	return err
}

// AsPublisher adapts the cache to track.Publisher.
func (c *TargetCache) AsPublisher() Publisher { return Publisher{Cache: c} }

// Get returns the current state for targetID, if present and unexpired.
func (c *TargetCache) Get(targetID string) (models.TargetState, bool) {
	sh := c.shardFor(targetID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[targetID]
	if !ok || c.expired(e) {
		return models.TargetState{}, false
	}
	return e.state, true
}

func (c *TargetCache) expired(e *entry) bool {
	return c.cfg.TargetTTL > 0 && c.now().Sub(e.lastTouched) > c.cfg.TargetTTL
}

// VersionOf returns the current version for targetID, or 0 if absent.
func (c *TargetCache) VersionOf(targetID string) int64 {
	sh := c.shardFor(targetID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[targetID]
	if !ok || c.expired(e) {
		return 0
	}
	return e.version
}

// GetBatch returns the current states of every id present (and unexpired) in ids.
func (c *TargetCache) GetBatch(ids []string) map[string]models.TargetState {
	out := make(map[string]models.TargetState, len(ids))
	for _, id := range ids {
		if s, ok := c.Get(id); ok {
			out[id] = s
		}
	}
	return out
}

// Delete removes targetID's state, appending a DELETE DeltaEvent first.
func (c *TargetCache) Delete(targetID string, reason string) error {
	sh := c.shardFor(targetID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[targetID]
	if !ok {
		// Deleting an already-absent target is idempotent success (§7).
		return nil
	}
	event := models.DeltaEvent{
		TargetID: targetID, Version: e.version, Kind: models.DeltaDelete,
		Timestamp: c.now(), Reason: reason,
	}
	sh.deltas[targetID] = appendCapped(sh.deltas[targetID], event, c.cfg.DeltaMaxItems)
	delete(sh.entries, targetID)
	logging.CacheEvent(targetID, "DELETE", e.version)
	return nil
}

// DeltaSince returns every delta event for targetID with version strictly
// greater than sinceVersion, in insertion (version-ascending) order.
func (c *TargetCache) DeltaSince(targetID string, sinceVersion int64) []models.DeltaEvent {
	sh := c.shardFor(targetID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var out []models.DeltaEvent
	for _, e := range sh.deltas[targetID] {
		if e.Version > sinceVersion {
			out = append(out, e)
		}
	}
	return out
}

// DeltaInRange returns every delta event for targetID timestamped within [start, end].
func (c *TargetCache) DeltaInRange(targetID string, start, end time.Time) []models.DeltaEvent {
	sh := c.shardFor(targetID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var out []models.DeltaEvent
	for _, e := range sh.deltas[targetID] {
		if !e.Timestamp.Before(start) && !e.Timestamp.After(end) {
			out = append(out, e)
		}
	}
	return out
}

// Clear removes every target's state and delta log, for the admin "wipe
// cache" operation. Does not emit DELETE events; this is a hard reset, not a
// per-target soft-delete.
func (c *TargetCache) Clear() {
	for _, sh := range c.shards {
		sh.mu.Lock()
		sh.entries = make(map[string]*entry)
		sh.deltas = make(map[string][]models.DeltaEvent)
		sh.mu.Unlock()
	}
}

// AllActive enumerates every currently live (unexpired) target id. Scans shard
// maps directly rather than any cross-product of targets and delta events,
// per the storage-shape requirement in SPEC_FULL.md §4.1.
func (c *TargetCache) AllActive() []string {
	var ids []string
	for _, sh := range c.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			if !c.expired(e) {
				ids = append(ids, id)
			}
		}
		sh.mu.Unlock()
	}
	return ids
}

// ErrBackendUnavailable models the retryable transient-failure class for a
// hypothetical out-of-process backend; the in-process implementation never
// returns it today, but callers at the HTTP boundary should still check for it.
var ErrBackendUnavailable = errs.Transient("cache backend unavailable")
