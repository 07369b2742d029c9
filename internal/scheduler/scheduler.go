// Package scheduler runs the two periodic maintenance jobs described in
// SPEC_FULL.md §4.8: a daily orphan-index sweep of the formation store and
// an hourly lightweight cache probe. Grounded on
// original_source/scheduler/cleanup.py's CleanupScheduler for the job split,
// and the donor's internal/sim.Engine.Start/Stop/simulationLoop for the
// ticker-driven background-loop shape.
package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/rhino11/formation/internal/logging"
	"github.com/rhino11/formation/internal/store"
)

// DailyInterval and HourlyInterval stand in for the original's cron
// schedule (02:00 daily, top of every hour): a fixed-period ticker started
// at process boot, matching the donor's non-cron, ticker-based idiom.
const (
	DailyInterval  = 24 * time.Hour
	HourlyInterval = time.Hour
)

// Cleaner is the subset of *store.Store the daily sweep calls.
type Cleaner interface {
	CleanupExpired() store.CleanupStats
}

// CacheProbe is the subset of *cache.TargetCache the hourly job inspects.
type CacheProbe interface {
	AllActive() []string
}

// MetricsSink receives gauge updates from the scheduler's probes;
// implemented by *metrics.Registry.
type MetricsSink interface {
	SetCacheSize(count float64)
}

// Scheduler runs the two jobs on independent tickers, each guarded against
// self-overlap by an atomic.Bool.
type Scheduler struct {
	cleaner Cleaner
	probe   CacheProbe

	dailyInterval  time.Duration
	hourlyInterval time.Duration

	metrics MetricsSink

	running     atomic.Bool
	dailyBusy   atomic.Bool
	hourlyBusy  atomic.Bool
	stopCh      chan struct{}
	dailyTicker *time.Ticker
	hourlyTick  *time.Ticker
}

// SetMetrics attaches a metrics sink; nil disables instrumentation.
func (s *Scheduler) SetMetrics(m MetricsSink) {
	s.metrics = m
}

// New creates a Scheduler over cleaner and probe, with the standard
// daily/hourly intervals.
func New(cleaner Cleaner, probe CacheProbe) *Scheduler {
	return &Scheduler{
		cleaner:        cleaner,
		probe:          probe,
		dailyInterval:  DailyInterval,
		hourlyInterval: HourlyInterval,
	}
}

// Start launches both background loops. Idempotent: a second call while
// already running is a no-op.
func (s *Scheduler) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	s.stopCh = make(chan struct{})
	s.dailyTicker = time.NewTicker(s.dailyInterval)
	s.hourlyTick = time.NewTicker(s.hourlyInterval)

	go s.loop(s.dailyTicker, s.runDaily)
	go s.loop(s.hourlyTick, s.runHourly)

	logging.SchedulerEvent("startup", map[string]int{})
}

// Stop halts both loops. Idempotent.
func (s *Scheduler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.dailyTicker.Stop()
	s.hourlyTick.Stop()
	close(s.stopCh)
}

func (s *Scheduler) loop(ticker *time.Ticker, job func()) {
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			job()
		}
	}
}

// runDaily performs the orphan-index sweep, skipping if the previous sweep
// is still in flight.
func (s *Scheduler) runDaily() {
	if !s.dailyBusy.CompareAndSwap(false, true) {
		return
	}
	defer s.dailyBusy.Store(false)

	if s.cleaner == nil {
		return
	}
	stats := s.cleaner.CleanupExpired()
	logging.SchedulerEvent("daily_cleanup", map[string]int{
		"orphan_indexes_cleaned": stats.OrphanIndexesCleaned,
		"date_indexes_dropped":   stats.DateIndexesDropped,
	})
}

// runHourly performs the lightweight cache probe, skipping if the previous
// probe is still in flight.
func (s *Scheduler) runHourly() {
	if !s.hourlyBusy.CompareAndSwap(false, true) {
		return
	}
	defer s.hourlyBusy.Store(false)

	if s.probe == nil {
		return
	}
	active := s.probe.AllActive()
	logging.SchedulerEvent("hourly_probe", map[string]int{"active_targets": len(active)})
	if s.metrics != nil {
		s.metrics.SetCacheSize(float64(len(active)))
	}
}

// RunDailyNow runs the daily job synchronously, for manual/admin triggers.
func (s *Scheduler) RunDailyNow() store.CleanupStats {
	if s.cleaner == nil {
		return store.CleanupStats{}
	}
	return s.cleaner.CleanupExpired()
}

// IsRunning reports whether the scheduler's loops are active.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}
