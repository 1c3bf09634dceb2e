package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/datafetch/scheduler/internal/trigger"
	"github.com/datafetch/scheduler/pkg/config"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Callback 任务到期时执行的回调。回调内的panic会被捕获，不会影响定时循环。
type Callback func()

// JobInfo 对外暴露的任务视图
type JobInfo struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Kind       trigger.Kind `json:"kind"`
	Expression string       `json:"expression"`
	NextRun    time.Time    `json:"next_run"`
	Paused     bool         `json:"paused"`
	InFlight   int          `json:"in_flight"`
}

type job struct {
	id       string
	name     string
	spec     trigger.Spec
	callback Callback

	entryID cron.EntryID  // cron触发
	stopCh  chan struct{} // interval触发的ticker协程
	timer   *time.Timer   // once触发

	paused   bool
	inFlight int
	nextRun  time.Time
}

// Scheduler 纯内存定时器设施：每个激活任务持有一个定时器，到期调用回调。
// 进程重启后任务全部丢失，由调用方在启动时从持久化定义重建。
type Scheduler struct {
	logger *zap.Logger
	cfg    config.SchedulerConfig
	cron   *cron.Cron

	mu      sync.Mutex
	jobs    map[string]*job
	running bool
	wg      sync.WaitGroup
}

func New(cfg config.SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.MaxConcurrentFires <= 0 {
		cfg.MaxConcurrentFires = 3
	}
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = time.Hour
	}
	return &Scheduler{
		logger: logger,
		cfg:    cfg,
		cron:   cron.New(),
		jobs:   make(map[string]*job),
	}
}

// Start 启动定时循环
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("job scheduler started")
}

// Shutdown 停止定时循环并等待在途回调结束
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for _, j := range s.jobs {
		s.stopJobLocked(j)
	}
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("job scheduler stopped")
}

// AddJob 注册一个定时任务，触发规则非法时同步返回错误。
// 同id重复注册时替换旧任务。
func (s *Scheduler) AddJob(id string, cb Callback, spec trigger.Spec, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[id]; ok {
		s.stopJobLocked(old)
		delete(s.jobs, id)
	}

	j := &job{id: id, name: name, spec: spec, callback: cb}

	switch spec.Kind {
	case trigger.KindCron:
		entryID, err := s.cron.AddFunc(spec.CronExpression, func() {
			s.fire(j, time.Now())
		})
		if err != nil {
			return fmt.Errorf("%w: cron %q: %v", trigger.ErrInvalidSchedule, spec.CronExpression, err)
		}
		j.entryID = entryID

	case trigger.KindInterval:
		if spec.Every <= 0 {
			return fmt.Errorf("%w: non-positive interval", trigger.ErrInvalidSchedule)
		}
		j.stopCh = make(chan struct{})
		j.nextRun = time.Now().Add(spec.Every)
		go s.runInterval(j)

	case trigger.KindOnce:
		j.nextRun = time.Now()
		j.timer = time.AfterFunc(0, func() {
			s.fire(j, time.Now())
		})

	default:
		return fmt.Errorf("%w: unknown trigger kind %q", trigger.ErrInvalidSchedule, spec.Kind)
	}

	s.jobs[id] = j
	s.logger.Info("job added",
		zap.String("job_id", id),
		zap.String("job_name", name),
		zap.String("kind", string(spec.Kind)))
	return nil
}

// RemoveJob 移除任务，不存在时返回false
func (s *Scheduler) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.stopJobLocked(j)
	delete(s.jobs, id)
	s.logger.Info("job removed", zap.String("job_id", id))
	return true
}

// PauseJob 暂停任务：定时器继续走，但到期触发被丢弃
func (s *Scheduler) PauseJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	j.paused = true
	return true
}

// ResumeJob 恢复任务。暂停期间错过的触发不补发。
func (s *Scheduler) ResumeJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	j.paused = false
	return true
}

// RunJobNow 立即触发一次，不影响既有调度
func (s *Scheduler) RunJobNow(id string) bool {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	go s.fire(j, time.Now())
	return true
}

// ListJobs 返回当前注册的全部任务
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := JobInfo{
			ID:         j.id,
			Name:       j.name,
			Kind:       j.spec.Kind,
			Expression: j.spec.CronExpression,
			NextRun:    j.nextRun,
			Paused:     j.paused,
			InFlight:   j.inFlight,
		}
		if j.spec.Kind == trigger.KindInterval {
			info.Expression = j.spec.Every.String()
		}
		if j.spec.Kind == trigger.KindCron {
			info.NextRun = s.cron.Entry(j.entryID).Next
		}
		infos = append(infos, info)
	}
	return infos
}

func (s *Scheduler) runInterval(j *job) {
	ticker := time.NewTicker(j.spec.Every)
	defer ticker.Stop()

	for {
		select {
		case at := <-ticker.C:
			s.mu.Lock()
			j.nextRun = at.Add(j.spec.Every)
			s.mu.Unlock()
			s.fire(j, at)
		case <-j.stopCh:
			return
		}
	}
}

// fire 执行一次到期触发：过期超出宽限窗口的丢弃，
// 在途数达到上限的合并跳过，回调panic只记日志。
func (s *Scheduler) fire(j *job, scheduledAt time.Time) {
	if delay := time.Since(scheduledAt); delay > s.cfg.MisfireGrace {
		s.logger.Warn("dropping misfired job",
			zap.String("job_id", j.id),
			zap.Duration("delay", delay))
		return
	}

	s.mu.Lock()
	if !s.running || j.paused {
		s.mu.Unlock()
		return
	}
	if j.inFlight >= s.cfg.MaxConcurrentFires {
		s.mu.Unlock()
		s.logger.Warn("skipping fire, max concurrent instances reached",
			zap.String("job_id", j.id),
			zap.Int("in_flight", s.cfg.MaxConcurrentFires))
		return
	}
	j.inFlight++
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			j.inFlight--
			s.mu.Unlock()
			if r := recover(); r != nil {
				s.logger.Error("job callback panicked",
					zap.String("job_id", j.id),
					zap.Any("panic", r))
			}
		}()
		j.callback()
	}()
}

func (s *Scheduler) stopJobLocked(j *job) {
	switch j.spec.Kind {
	case trigger.KindCron:
		s.cron.Remove(j.entryID)
	case trigger.KindInterval:
		close(j.stopCh)
	case trigger.KindOnce:
		if j.timer != nil {
			j.timer.Stop()
		}
	}
}
