package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rhino11/formation/internal/store"
)

type fakeCleaner struct {
	calls   atomic.Int32
	stats   store.CleanupStats
	blocked chan struct{}
}

func (f *fakeCleaner) CleanupExpired() store.CleanupStats {
	f.calls.Add(1)
	if f.blocked != nil {
		<-f.blocked
	}
	return f.stats
}

type fakeProbe struct {
	calls atomic.Int32
	ids   []string
}

func (f *fakeProbe) AllActive() []string {
	f.calls.Add(1)
	return f.ids
}

func TestStartIsIdempotent(t *testing.T) {
	s := New(&fakeCleaner{}, &fakeProbe{})
	s.Start()
	s.Start()
	assert.True(t, s.IsRunning())
	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(&fakeCleaner{}, &fakeProbe{})
	s.Start()
	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestRunDailyNowInvokesCleaner(t *testing.T) {
	c := &fakeCleaner{stats: store.CleanupStats{OrphanIndexesCleaned: 3}}
	s := New(c, &fakeProbe{})

	stats := s.RunDailyNow()
	assert.Equal(t, 3, stats.OrphanIndexesCleaned)
	assert.Equal(t, int32(1), c.calls.Load())
}

func TestRunDailySkipsWhileBusy(t *testing.T) {
	blocked := make(chan struct{})
	c := &fakeCleaner{blocked: blocked}
	s := New(c, &fakeProbe{})

	go s.runDaily()
	waitForCalls(t, &c.calls, 1)

	s.runDaily() // should see dailyBusy already true and return immediately
	assert.Equal(t, int32(1), c.calls.Load())

	close(blocked)
}

func TestRunHourlyInvokesProbe(t *testing.T) {
	p := &fakeProbe{ids: []string{"T1", "T2"}}
	s := New(&fakeCleaner{}, p)

	s.runHourly()
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestTickersFireBothJobsOverTime(t *testing.T) {
	c := &fakeCleaner{}
	p := &fakeProbe{}
	s := New(c, p)
	s.dailyInterval = 20 * time.Millisecond
	s.hourlyInterval = 15 * time.Millisecond

	s.Start()
	defer s.Stop()

	waitForCalls(t, &c.calls, 1)
	waitForCalls(t, &p.calls, 1)
}

func waitForCalls(t *testing.T, counter *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if counter.Load() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected at least %d calls, got %d", want, counter.Load())
}
