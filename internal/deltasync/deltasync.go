// Package deltasync implements session-scoped incremental pull, full-state
// snapshot, and client/server state comparison over the target cache
// (SPEC_FULL.md §4.7), grounded on original_source/sync/delta_sync.py.
package deltasync

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rhino11/formation/internal/logging"
	"github.com/rhino11/formation/internal/models"
)

// DefaultSessionTTL is SESSION_TTL.
const DefaultSessionTTL = time.Hour

// lastDeltaEvents bounds how many trailing delta events are attached to a
// pulled target, matching delta_events[-5:] in the original.
const lastDeltaEvents = 5

// CacheReader is the subset of *cache.TargetCache the sync service reads.
type CacheReader interface {
	Get(targetID string) (models.TargetState, bool)
	VersionOf(targetID string) int64
	DeltaSince(targetID string, sinceVersion int64) []models.DeltaEvent
	AllActive() []string
}

type session struct {
	models.SyncSession
	expiresAt time.Time
}

// Service is the delta sync service.
type Service struct {
	mu       sync.RWMutex
	cache    CacheReader
	ttl      time.Duration
	sessions map[string]*session
	now      func() time.Time
}

// New creates a Service reading from cache, with the given session TTL (zero
// uses DefaultSessionTTL).
func New(cache CacheReader, ttl time.Duration) *Service {
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	return &Service{
		cache:    cache,
		ttl:      ttl,
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// CreateSession starts a new sync session scoped to clientID, optionally
// restricted to targetIDs (empty means "all active targets").
func (s *Service) CreateSession(clientID string, targetIDs []string) string {
	sessionID := fmt.Sprintf("sync_%s_%s", clientID, uuid.New().String()[:8])
	now := s.now()

	s.mu.Lock()
	s.sessions[sessionID] = &session{
		SyncSession: models.SyncSession{
			SessionID:  sessionID,
			ClientID:   clientID,
			CreatedAt:  now,
			LastSyncAt: now,
			TargetIDs:  targetIDs,
			Versions:   make(map[string]int64),
		},
		expiresAt: now.Add(s.ttl),
	}
	s.mu.Unlock()

	logging.For("deltasync").WithField("session_id", sessionID).Info("[SYNC] session created")
	return sessionID
}

func (s *Service) liveSession(sessionID string) (*session, bool) {
	sess, ok := s.sessions[sessionID]
	if !ok || s.now().After(sess.expiresAt) {
		return nil, false
	}
	return sess, true
}

// GetSession returns the session's current state, if present and unexpired.
func (s *Service) GetSession(sessionID string) (models.SyncSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.liveSession(sessionID)
	if !ok {
		return models.SyncSession{}, false
	}
	return sess.SyncSession, true
}

// UpdateSession merges versions into the session's version map, refreshes
// last-sync-at and the TTL, and reports whether the session existed.
func (s *Service) UpdateSession(sessionID string, versions map[string]int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.liveSession(sessionID)
	if !ok {
		return false
	}
	for id, v := range versions {
		sess.Versions[id] = v
	}
	sess.LastSyncAt = s.now()
	sess.expiresAt = s.now().Add(s.ttl)
	return true
}

// CloseSession deletes sessionID. Idempotent.
func (s *Service) CloseSession(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	return existed
}

// RemovedTarget describes a target that was known to the caller but is no
// longer present in the cache.
type RemovedTarget struct {
	TargetID    string
	LastVersion int64
}

// TargetDelta is one target's current state plus its trailing delta events,
// returned from a Pull.
type TargetDelta struct {
	TargetID     string
	CurrentState models.TargetState
	Version      int64
	BaseVersion  int64
	DeltaEvents  []models.DeltaEvent
}

// Package is the result of a Pull.
type Package struct {
	Timestamp       time.Time
	SessionID       string
	FullSync        bool
	Targets         map[string]TargetDelta
	RemovedTargets  []RemovedTarget
	CurrentVersions map[string]int64
	TotalTargets    int
	UpdatedTargets  int
}

// Pull returns, for each requested target, the current state, version, and
// trailing delta events since sinceVersions[tid] (default 0); targets known
// to the caller (present in sinceVersions) but absent from the cache are
// reported as removed. FullSync is true iff sinceVersions is empty. When
// sessionID is non-empty, the session's own target list and version map seed
// defaults, and the session is updated with the resulting current versions.
func (s *Service) Pull(sessionID string, targetIDs []string, sinceVersions map[string]int64) Package {
	now := s.now()

	var sess *session
	if sessionID != "" {
		s.mu.RLock()
		sess, _ = s.liveSession(sessionID)
		s.mu.RUnlock()
	}

	if targetIDs == nil {
		if sess != nil && len(sess.TargetIDs) > 0 {
			targetIDs = sess.TargetIDs
		} else {
			targetIDs = s.cache.AllActive()
		}
	}

	baseVersions := sinceVersions
	if baseVersions == nil {
		if sess != nil {
			baseVersions = sess.Versions
		} else {
			baseVersions = map[string]int64{}
		}
	}

	pkg := Package{
		Timestamp:       now,
		SessionID:       sessionID,
		FullSync:        len(baseVersions) == 0,
		Targets:         make(map[string]TargetDelta),
		CurrentVersions: make(map[string]int64),
		TotalTargets:    len(targetIDs),
	}

	for _, tid := range targetIDs {
		state, ok := s.cache.Get(tid)
		if !ok {
			if baseVersion, known := baseVersions[tid]; known {
				pkg.RemovedTargets = append(pkg.RemovedTargets, RemovedTarget{TargetID: tid, LastVersion: baseVersion})
			}
			continue
		}

		currentVersion := s.cache.VersionOf(tid)
		pkg.CurrentVersions[tid] = currentVersion

		baseVersion := baseVersions[tid]
		if currentVersion > baseVersion {
			events := s.cache.DeltaSince(tid, baseVersion)
			if len(events) > lastDeltaEvents {
				events = events[len(events)-lastDeltaEvents:]
			}
			pkg.Targets[tid] = TargetDelta{
				TargetID:     tid,
				CurrentState: state,
				Version:      currentVersion,
				BaseVersion:  baseVersion,
				DeltaEvents:  events,
			}
		}
	}

	pkg.UpdatedTargets = len(pkg.Targets)

	if sessionID != "" {
		s.UpdateSession(sessionID, pkg.CurrentVersions)
	}

	return pkg
}

// FullPackage is the unconditional snapshot returned by PullFull.
type FullPackage struct {
	Timestamp time.Time
	Targets   map[string]models.TargetState
	Versions  map[string]int64
}

// PullFull returns an unconditional snapshot of targetIDs (or every active
// target when nil), for first-time sync.
func (s *Service) PullFull(targetIDs []string) FullPackage {
	if targetIDs == nil {
		targetIDs = s.cache.AllActive()
	}

	out := FullPackage{
		Timestamp: s.now(),
		Targets:   make(map[string]models.TargetState),
		Versions:  make(map[string]int64),
	}
	for _, tid := range targetIDs {
		state, ok := s.cache.Get(tid)
		if !ok {
			continue
		}
		out.Targets[tid] = state
		out.Versions[tid] = s.cache.VersionOf(tid)
	}
	return out
}

// ClientState is one target's version as known by a client, as submitted to
// CompareAndSync.
type ClientState struct {
	Version int64
}

// CompareResult is the outcome of CompareAndSync.
type CompareResult struct {
	Timestamp      time.Time
	NeedUpdate     []string
	NewTargets     []string
	ServerVersions map[string]int64
}

// CompareAndSync computes which of the client's target versions are stale
// (server version greater than the client's) and which server-side active
// targets the client does not have at all.
func (s *Service) CompareAndSync(clientStates map[string]ClientState) CompareResult {
	result := CompareResult{
		Timestamp:      s.now(),
		ServerVersions: make(map[string]int64),
	}

	for tid, clientInfo := range clientStates {
		serverVersion := s.cache.VersionOf(tid)
		result.ServerVersions[tid] = serverVersion
		if serverVersion > clientInfo.Version {
			result.NeedUpdate = append(result.NeedUpdate, tid)
		}
	}

	clientHas := make(map[string]bool, len(clientStates))
	for tid := range clientStates {
		clientHas[tid] = true
	}
	for _, tid := range s.cache.AllActive() {
		if !clientHas[tid] {
			result.NewTargets = append(result.NewTargets, tid)
		}
	}

	return result
}
