// Package stream implements the ingest-to-recognition pipeline: incoming
// target observations are cached, tracked in a pending set, and either
// trigger an immediate incremental recognition pass or wait for the
// background tick, per SPEC_FULL.md §4.5. Grounded on
// original_source/stream_service.py's DataStreamService for the
// trigger-threshold/pending-set logic, and the donor's sim.Engine.Start/Stop/
// simulationLoop for the ticker+stopCh background-loop shape.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rhino11/formation/internal/logging"
	"github.com/rhino11/formation/internal/models"
	"github.com/rhino11/formation/internal/recognition"
)

// Config mirrors DataStreamService's tunables.
type Config struct {
	RecognizeInterval  time.Duration
	MinChangeThreshold float64
	MinPendingTrigger  int
}

// DefaultConfig matches the original's recognize_interval=5.0,
// min_change_threshold=0.1, pending>=10.
func DefaultConfig() Config {
	return Config{
		RecognizeInterval:  5 * time.Second,
		MinChangeThreshold: 0.1,
		MinPendingTrigger:  10,
	}
}

// CachePutter is the subset of *cache.TargetCache the stream service writes
// through.
type CachePutter interface {
	Put(targetID string, state models.TargetState) (bool, int64, *models.DeltaEvent, error)
}

// Broadcaster is the subset of *bus.Bus the stream service publishes
// through.
type Broadcaster interface {
	PublishTargetUpdate(targetID string, delta models.DeltaEvent, now time.Time)
	BroadcastFormationDetected(formation models.Formation, now time.Time)
}

// FormationStore is the subset of *store.Store the stream service writes
// recognition results to and reads recent formations from.
type FormationStore interface {
	Store(f models.Formation, customID string) (string, error)
	Latest(n int) []models.Formation
}

// MetricsSink receives recognition-run observations; implemented by
// *metrics.Registry.
type MetricsSink interface {
	ObserveRecognitionRun(trigger string, durationSeconds float64, formationCount int)
}

// PushResult reports what happened to one push_data call.
type PushResult struct {
	Received         int
	Changed          int
	BufferSize       int
	TriggerRecognize bool
	PendingTargets   int
}

// Stats mirrors DataStreamService.stats.
type Stats struct {
	TotalReceived         int64
	TotalRecognized       int64
	LastRecognizeTime     time.Time
	BufferHighWatermark   int
}

// Service is the streaming ingest-and-recognize pipeline.
type Service struct {
	mu            sync.Mutex
	cache         CachePutter
	engine        *recognition.Engine
	formations    FormationStore
	bus           Broadcaster
	config        Config
	now           func() time.Time
	metrics       MetricsSink

	running   bool
	stopCh    chan struct{}
	ticker    *time.Ticker
	bufferLen int
	stats     Stats
}

// New wires a Service over cache, the recognition engine, the formation
// store, and the subscription bus.
func New(c CachePutter, engine *recognition.Engine, formations FormationStore, b Broadcaster, cfg Config) *Service {
	return &Service{
		cache:      c,
		engine:     engine,
		formations: formations,
		bus:        b,
		config:     cfg,
		now:        time.Now,
	}
}

// SetMetrics attaches a metrics sink; nil disables instrumentation.
func (s *Service) SetMetrics(m MetricsSink) {
	s.metrics = m
}

// Start launches the background recognition loop. Matches the donor's
// Engine.Start: guarded by isRunning, spawns one goroutine; a call while
// already running does nothing.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.ticker = time.NewTicker(s.config.RecognizeInterval)

	go s.recognizeLoop(s.stopCh, s.ticker)

	logging.For("stream").Info("[STREAM] service started")
}

// Stop halts the background loop, matching the donor's Engine.Stop.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)

	logging.For("stream").Info("[STREAM] service stopped")
}

func (s *Service) recognizeLoop(stopCh chan struct{}, ticker *time.Ticker) {
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if s.engine.PendingCount() == 0 {
				continue
			}
			if _, _, err := s.runRecognition(context.Background(), false); err != nil {
				logging.RecognitionError(err, s.engine.PendingCount())
			}
		}
	}
}

// Push ingests a batch of target observations: each is written through the
// cache, ingested into the recognition engine's tracks, and marked pending
// on a cache version bump. A TARGET_UPDATE is published immediately for
// every changed target. Returns whether the change ratio or pending-set size
// crossed the immediate-recognition threshold.
func (s *Service) Push(ctx context.Context, observations []models.TargetObservation) PushResult {
	changed := 0
	now := s.now()

	for _, obs := range observations {
		updated, _, delta, err := s.cache.Put(obs.TargetID, obs.State)
		if err != nil {
			logging.For("stream").WithField("target_id", obs.TargetID).WithField("error", err.Error()).Error("[STREAM] cache put failed")
			continue
		}

		s.engine.Ingest(obs.TargetID, obs.Attrs, obs.State)

		if updated {
			changed++
			s.engine.MarkPending(obs.TargetID)
			if delta != nil && s.bus != nil {
				s.bus.PublishTargetUpdate(obs.TargetID, *delta, now)
			}
		}
	}

	s.mu.Lock()
	s.bufferLen += len(observations)
	if s.bufferLen > s.stats.BufferHighWatermark {
		s.stats.BufferHighWatermark = s.bufferLen
	}
	s.stats.TotalReceived += int64(len(observations))
	pendingCount := s.engine.PendingCount()
	s.mu.Unlock()

	trigger := s.shouldTriggerRecognize(changed, len(observations), pendingCount)
	if trigger {
		go func() {
			if _, _, err := s.runRecognition(ctx, false); err != nil {
				logging.RecognitionError(err, s.engine.PendingCount())
			}
		}()
	}

	return PushResult{
		Received:         len(observations),
		Changed:          changed,
		BufferSize:       s.bufferLen,
		TriggerRecognize: trigger,
		PendingTargets:   pendingCount,
	}
}

// shouldTriggerRecognize matches DataStreamService._should_trigger_recognize:
// a change ratio at or above MinChangeThreshold, or a pending set at or above
// MinPendingTrigger, triggers an immediate pass.
func (s *Service) shouldTriggerRecognize(changed, total, pending int) bool {
	if total > 0 && float64(changed)/float64(total) >= s.config.MinChangeThreshold {
		return true
	}
	return pending >= s.config.MinPendingTrigger
}

// ForceRecognize runs an incremental recognition pass immediately regardless
// of the pending-set size or elapsed interval.
func (s *Service) ForceRecognize(ctx context.Context) ([]models.Formation, error) {
	formations, _, err := s.runRecognition(ctx, true)
	return formations, err
}

func (s *Service) runRecognition(ctx context.Context, force bool) ([]models.Formation, bool, error) {
	start := s.now()
	formations, ran, err := s.engine.RecognizeIncremental(ctx, force)
	if err != nil {
		return nil, ran, err
	}
	if !ran {
		return nil, false, nil
	}

	for _, f := range formations {
		storedID := f.ID
		if s.formations != nil {
			if id, storeErr := s.formations.Store(f, f.ID); storeErr == nil {
				storedID = id
			} else {
				logging.For("stream").WithField("error", storeErr.Error()).Warn("[STREAM] formation store failed")
			}
		}
		if s.bus != nil {
			f.ID = storedID
			s.bus.BroadcastFormationDetected(f, s.now())
		}
	}

	s.mu.Lock()
	s.stats.TotalRecognized += int64(len(formations))
	s.stats.LastRecognizeTime = s.now()
	s.mu.Unlock()

	elapsed := s.now().Sub(start)
	logging.RecognitionRun(triggerLabel(force), len(formations), elapsed.Milliseconds())
	if s.metrics != nil {
		s.metrics.ObserveRecognitionRun(triggerLabel(force), elapsed.Seconds(), len(formations))
	}
	return formations, ran, nil
}

func triggerLabel(force bool) string {
	if force {
		return "manual"
	}
	return "auto"
}

// Status mirrors DataStreamService.get_status.
type Status struct {
	Running        bool
	BufferSize     int
	PendingTargets int
	Stats          Stats
}

// Status reports the service's current state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:        s.running,
		BufferSize:     s.bufferLen,
		PendingTargets: s.engine.PendingCount(),
		Stats:          s.stats,
	}
}

// RecentFormations delegates to the formation store's Latest, matching
// DataStreamService.get_recent_formations.
func (s *Service) RecentFormations(n int) []models.Formation {
	if s.formations == nil {
		return nil
	}
	return s.formations.Latest(n)
}
