package jobs

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/datafetch/scheduler/internal/trigger"
	"github.com/datafetch/scheduler/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScheduler() *Scheduler {
	return New(config.SchedulerConfig{
		MaxConcurrentFires: 3,
		MisfireGrace:       time.Hour,
	}, zap.NewNop())
}

func TestAddJobInvalidCron(t *testing.T) {
	s := newTestScheduler()
	s.Start()
	defer s.Shutdown()

	err := s.AddJob("bad", func() {}, trigger.Spec{
		Kind:           trigger.KindCron,
		CronExpression: "not a cron",
	}, "bad job")
	assert.ErrorIs(t, err, trigger.ErrInvalidSchedule)
	assert.Empty(t, s.ListJobs())
}

func TestIntervalJobFires(t *testing.T) {
	s := newTestScheduler()
	s.Start()
	defer s.Shutdown()

	var fired atomic.Int32
	err := s.AddJob("tick", func() { fired.Add(1) }, trigger.Spec{
		Kind:  trigger.KindInterval,
		Every: 20 * time.Millisecond,
	}, "ticker")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return fired.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOnceJobFiresImmediately(t *testing.T) {
	s := newTestScheduler()
	s.Start()
	defer s.Shutdown()

	done := make(chan struct{})
	err := s.AddJob("one-shot", func() { close(done) }, trigger.Spec{Kind: trigger.KindOnce}, "once")
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("once job did not fire")
	}
}

func TestRunJobNow(t *testing.T) {
	s := newTestScheduler()
	s.Start()
	defer s.Shutdown()

	var fired atomic.Int32
	require.NoError(t, s.AddJob("cronjob", func() { fired.Add(1) }, trigger.Spec{
		Kind:           trigger.KindCron,
		CronExpression: "0 3 * * *",
	}, "nightly"))

	assert.True(t, s.RunJobNow("cronjob"))
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.False(t, s.RunJobNow("missing"))
}

func TestPauseResume(t *testing.T) {
	s := newTestScheduler()
	s.Start()
	defer s.Shutdown()

	var fired atomic.Int32
	require.NoError(t, s.AddJob("tick", func() { fired.Add(1) }, trigger.Spec{
		Kind:  trigger.KindInterval,
		Every: 20 * time.Millisecond,
	}, "ticker"))

	require.True(t, s.PauseJob("tick"))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, fired.Load())

	require.True(t, s.ResumeJob("tick"))
	assert.Eventually(t, func() bool { return fired.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	assert.False(t, s.PauseJob("missing"))
	assert.False(t, s.ResumeJob("missing"))
}

func TestRemoveJob(t *testing.T) {
	s := newTestScheduler()
	s.Start()
	defer s.Shutdown()

	require.NoError(t, s.AddJob("tick", func() {}, trigger.Spec{
		Kind:  trigger.KindInterval,
		Every: time.Minute,
	}, "ticker"))

	assert.True(t, s.RemoveJob("tick"))
	assert.False(t, s.RemoveJob("tick"))
	assert.Empty(t, s.ListJobs())
}

func TestConcurrentFireCap(t *testing.T) {
	s := newTestScheduler()
	s.Start()
	defer s.Shutdown()

	block := make(chan struct{})
	var started atomic.Int32
	require.NoError(t, s.AddJob("slow", func() {
		started.Add(1)
		<-block
	}, trigger.Spec{Kind: trigger.KindCron, CronExpression: "0 3 * * *"}, "slow"))

	for i := 0; i < 5; i++ {
		s.RunJobNow("slow")
	}

	assert.Eventually(t, func() bool { return started.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	// 超过并发上限的触发被合并丢弃
	assert.Equal(t, int32(3), started.Load())

	close(block)
}

func TestMisfireDropped(t *testing.T) {
	s := newTestScheduler()
	s.Start()
	defer s.Shutdown()

	var fired atomic.Int32
	j := &job{id: "late", callback: func() { fired.Add(1) }}

	s.fire(j, time.Now().Add(-2*time.Hour))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fired.Load())

	s.fire(j, time.Now())
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestListJobs(t *testing.T) {
	s := newTestScheduler()
	s.Start()
	defer s.Shutdown()

	require.NoError(t, s.AddJob("a", func() {}, trigger.Spec{
		Kind: trigger.KindCron, CronExpression: "30 08 * * *",
	}, "morning"))
	require.NoError(t, s.AddJob("b", func() {}, trigger.Spec{
		Kind: trigger.KindInterval, Every: 10 * time.Minute,
	}, "poller"))

	infos := s.ListJobs()
	require.Len(t, infos, 2)

	byID := make(map[string]JobInfo)
	for _, info := range infos {
		byID[info.ID] = info
	}
	assert.Equal(t, "morning", byID["a"].Name)
	assert.Equal(t, "30 08 * * *", byID["a"].Expression)
	assert.False(t, byID["a"].NextRun.IsZero())
	assert.Equal(t, "10m0s", byID["b"].Expression)
}
