package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/datafetch/scheduler/internal/biz/execution"
	scriptdef "github.com/datafetch/scheduler/internal/biz/script"
	"github.com/datafetch/scheduler/internal/biz/task"
	"github.com/datafetch/scheduler/internal/hub"
	"github.com/datafetch/scheduler/internal/jobs"
	"github.com/datafetch/scheduler/internal/ledger"
	"github.com/datafetch/scheduler/internal/script"
	"github.com/datafetch/scheduler/internal/trigger"
	"github.com/datafetch/scheduler/pkg/config"
	"github.com/google/wire"
	"go.uber.org/zap"
)

var Provider = wire.NewSet(New)

// housekeepingJobID 内部清理任务在调度器里的id，双下划线避免与业务任务撞名
const housekeepingJobID = "__housekeeping_cleanup_executions"

const cancelledByUser = "Cancelled by user"

// Notifier 执行状态变化的广播出口
type Notifier interface {
	Broadcast(event hub.ExecutionEvent)
}

// Engine 执行引擎：任务生命周期、执行编排与重试的唯一权威。
// 定时触发与手动触发最终都汇到executeWithRetry。
type Engine struct {
	cfg    config.EngineConfig
	logger *zap.Logger

	taskRepo   task.Repo
	scriptRepo scriptdef.Repo
	ledger     *ledger.Ledger
	sched      *jobs.Scheduler
	executor   *script.Executor
	prober     script.RowProber // 可为nil
	notifier   Notifier

	mu       sync.Mutex
	handles  map[uint64]*runHandle
	stopping bool

	wg sync.WaitGroup
}

// runHandle 一次在途执行的控制柄。每个任务只保留最近一次的柄，后写覆盖。
type runHandle struct {
	cancel context.CancelFunc
}

func New(
	cfg config.EngineConfig,
	taskRepo task.Repo,
	scriptRepo scriptdef.Repo,
	ldg *ledger.Ledger,
	sched *jobs.Scheduler,
	executor *script.Executor,
	prober script.RowProber,
	notifier Notifier,
	logger *zap.Logger,
) *Engine {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 60 * time.Second
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.HousekeepingCron == "" {
		cfg.HousekeepingCron = "0 3 * * *"
	}
	return &Engine{
		cfg:        cfg,
		logger:     logger,
		taskRepo:   taskRepo,
		scriptRepo: scriptRepo,
		ledger:     ldg,
		sched:      sched,
		executor:   executor,
		prober:     prober,
		notifier:   notifier,
		handles:    make(map[uint64]*runHandle),
	}
}

// Start 从持久化定义重建所有激活任务的调度，并注册每日清理任务
func (e *Engine) Start(ctx context.Context) error {
	tasks, err := e.taskRepo.FindActiveTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active tasks: %w", err)
	}

	e.sched.Start()

	for _, t := range tasks {
		if err := e.AddTask(t); err != nil {
			// 个别任务表达式坏了不拦整体启动
			e.logger.Error("failed to schedule task on startup",
				zap.Uint64("task_id", t.ID),
				zap.String("task_name", t.Name),
				zap.Error(err))
		}
	}

	if err := e.sched.AddJob(housekeepingJobID, e.runHousekeeping, trigger.Spec{
		Kind:           trigger.KindCron,
		CronExpression: e.cfg.HousekeepingCron,
	}, "cleanup old executions"); err != nil {
		return fmt.Errorf("failed to register housekeeping job: %w", err)
	}

	e.logger.Info("execution engine started", zap.Int("scheduled_tasks", len(tasks)))
	return nil
}

// Shutdown 先取消在途执行再停调度器，顺序不能反：
// 调度器停机会等在途回调退出，退避睡眠中的回调只有收到取消才会醒。
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.stopping = true
	for _, h := range e.handles {
		h.cancel()
	}
	e.mu.Unlock()

	e.sched.Shutdown()
	e.wg.Wait()
	e.logger.Info("execution engine stopped")
}

// AddTask 把任务挂进调度器。表达式非法时返回ErrInvalidSchedule。
func (e *Engine) AddTask(t *task.ScheduledTask) error {
	spec, err := trigger.Translate(t.ScheduleType, t.ScheduleExpression)
	if err != nil {
		return err
	}

	taskID := t.ID
	return e.sched.AddJob(taskJobID(taskID), func() {
		e.runScheduled(taskID)
	}, spec, t.Name)
}

// UpdateTask 任务定义变更后重建其调度；变为非激活时只摘除
func (e *Engine) UpdateTask(t *task.ScheduledTask) error {
	e.sched.RemoveJob(taskJobID(t.ID))
	if !t.IsActive {
		return nil
	}
	return e.AddTask(t)
}

// RemoveTask 摘除任务调度并取消其在途执行
func (e *Engine) RemoveTask(taskID uint64) {
	e.sched.RemoveJob(taskJobID(taskID))

	e.mu.Lock()
	if h, ok := e.handles[taskID]; ok {
		h.cancel()
	}
	e.mu.Unlock()
}

// PauseTask 暂停任务的定时触发，在途执行不受影响
func (e *Engine) PauseTask(taskID uint64) bool {
	return e.sched.PauseJob(taskJobID(taskID))
}

func (e *Engine) ResumeTask(taskID uint64) bool {
	return e.sched.ResumeJob(taskJobID(taskID))
}

// ListJobs 当前调度中的任务视图
func (e *Engine) ListJobs() []jobs.JobInfo {
	return e.sched.ListJobs()
}

// TriggerTask 手动触发一次执行，立刻返回关联id，不等待执行开始。
// extra参数覆盖任务定义里的同名参数，只对本次生效。
func (e *Engine) TriggerTask(ctx context.Context, taskID uint64, extra map[string]any, triggeredBy execution.TriggeredBy, operatorID *uint64) (string, error) {
	t, err := e.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return "", err
	}

	params := mergedParams(t, extra)
	requestID := fmt.Sprintf("exec_%s_%d",
		time.Now().UTC().Format("20060102_150405"), taskID)

	// 柄在返回前同步登记：返回后立刻CancelTask也能命中
	runCtx, h := e.registerRun(t.ID)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.releaseRun(t.ID, h)
		e.executeWithRetry(runCtx, t, params, triggeredBy, operatorID)
	}()

	e.logger.Info("task triggered",
		zap.Uint64("task_id", taskID),
		zap.String("request_id", requestID),
		zap.String("triggered_by", string(triggeredBy)))
	return requestID, nil
}

// CancelTask 取消任务的在途执行：撤销控制柄并把最近一条RUNNING记录改为CANCELLED。
// 没有登记在册的控制柄时返回false，台账一个字不动。
func (e *Engine) CancelTask(ctx context.Context, taskID uint64) (bool, error) {
	e.mu.Lock()
	h, hasHandle := e.handles[taskID]
	if hasHandle {
		h.cancel()
		delete(e.handles, taskID)
	}
	e.mu.Unlock()
	if !hasHandle {
		return false, nil
	}

	rec, err := e.ledger.LatestRunningByTask(ctx, taskID)
	if err != nil {
		return true, err
	}
	if rec == nil {
		return true, nil
	}

	now := time.Now().UTC()
	_, err = e.ledger.UpdateExecution(ctx, rec.ExecutionID, execution.NewPatch().
		WithStatus(execution.ExecutionStatusCancelled).
		WithEndTime(now).
		WithErrorMessage(cancelledByUser))
	if err != nil {
		return true, err
	}

	e.notify(hub.ExecutionEvent{
		ExecutionID:  rec.ExecutionID,
		TaskID:       taskID,
		Status:       string(execution.ExecutionStatusCancelled),
		ErrorMessage: cancelledByUser,
	})
	e.logger.Info("execution cancelled",
		zap.Uint64("task_id", taskID),
		zap.String("execution_id", rec.ExecutionID))
	return true, nil
}

// IsRunning 任务当前是否有在途执行
func (e *Engine) IsRunning(taskID uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.handles[taskID]
	return ok
}

// RunningTaskIDs 有在途执行的任务id集合
func (e *Engine) RunningTaskIDs() []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]uint64, 0, len(e.handles))
	for id := range e.handles {
		ids = append(ids, id)
	}
	return ids
}

// runScheduled 定时触发入口：每次触发都重读任务定义，编辑即时生效
func (e *Engine) runScheduled(taskID uint64) {
	ctx := context.Background()
	t, err := e.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			e.sched.RemoveJob(taskJobID(taskID))
			return
		}
		e.logger.Error("failed to load task for scheduled run",
			zap.Uint64("task_id", taskID), zap.Error(err))
		return
	}
	if !t.IsActive {
		return
	}

	e.wg.Add(1)
	defer e.wg.Done()
	runCtx, h := e.registerRun(taskID)
	defer e.releaseRun(taskID, h)
	e.executeWithRetry(runCtx, t, mergedParams(t, nil), execution.TriggeredByScheduler, nil)
}

// registerRun 登记一次在途执行的控制柄。同任务后写覆盖；
// 引擎停机中登记的柄直接处于已取消状态，执行会立刻收敛。
func (e *Engine) registerRun(taskID uint64) (context.Context, *runHandle) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &runHandle{cancel: cancel}
	e.mu.Lock()
	if e.stopping {
		cancel()
	}
	e.handles[taskID] = h
	e.mu.Unlock()
	return ctx, h
}

// releaseRun 注销控制柄，只清理自己的，后来者的不动
func (e *Engine) releaseRun(taskID uint64, h *runHandle) {
	h.cancel()
	e.mu.Lock()
	if e.handles[taskID] == h {
		delete(e.handles, taskID)
	}
	e.mu.Unlock()
}

func (e *Engine) runHousekeeping() {
	if _, err := e.ledger.Cleanup(context.Background(), e.cfg.RetentionDays); err != nil {
		e.logger.Error("housekeeping failed", zap.Error(err))
	}
}

// executeWithRetry 按任务重试策略执行：失败后指数退避再试，
// 每次尝试落一条独立的执行记录。成功、超出次数、被取消时结束。
// 控制柄由调用方登记与注销。
func (e *Engine) executeWithRetry(ctx context.Context, t *task.ScheduledTask, params map[string]any, triggeredBy execution.TriggeredBy, operatorID *uint64) {
	// 开重试时次数就是max_retries本身，关掉则只跑一次；
	// max_retries=0且开重试意味着一次都不跑
	maxAttempts := 1
	if t.RetryOnFailure {
		maxAttempts = t.MaxRetries
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		status := e.runOnce(ctx, t, params, triggeredBy, operatorID, attempt)

		switch status {
		case execution.ExecutionStatusCompleted, execution.ExecutionStatusCancelled:
			return
		}
		if attempt == maxAttempts-1 {
			return
		}

		delay := e.cfg.BackoffBase << attempt
		e.logger.Info("retrying task after backoff",
			zap.Uint64("task_id", t.ID),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// runOnce 执行一次尝试并返回其终态
func (e *Engine) runOnce(ctx context.Context, t *task.ScheduledTask, params map[string]any, triggeredBy execution.TriggeredBy, operatorID *uint64, attempt int) execution.ExecutionStatus {
	// 落账走独立上下文：执行被取消时记录仍要写得进去
	dbCtx := context.Background()

	rec, err := e.ledger.CreateExecution(dbCtx, t.ID, t.ScriptID, params, triggeredBy, operatorID)
	if err != nil {
		e.logger.Error("failed to create execution record",
			zap.Uint64("task_id", t.ID), zap.Error(err))
		return execution.ExecutionStatusFailed
	}

	targetTable := e.resolveTargetTable(dbCtx, t.ScriptID)
	rowsBefore := e.probeRows(ctx, targetTable)

	start := time.Now().UTC()
	runningPatch := execution.NewPatch().
		WithStatus(execution.ExecutionStatusRunning).
		WithStartTime(start).
		WithRetryCount(attempt)
	if rowsBefore != nil {
		runningPatch.WithRowsBefore(*rowsBefore)
	}
	if _, err := e.ledger.UpdateExecution(dbCtx, rec.ExecutionID, runningPatch); err != nil {
		e.logger.Error("failed to mark execution running",
			zap.String("execution_id", rec.ExecutionID), zap.Error(err))
	}
	e.notify(hub.ExecutionEvent{
		ExecutionID: rec.ExecutionID,
		TaskID:      t.ID,
		Status:      string(execution.ExecutionStatusRunning),
		RowsBefore:  rowsBefore,
	})

	result, runErr := e.executor.Execute(ctx, t.ScriptID, params, t.Timeout())
	end := time.Now().UTC()
	duration := end.Sub(start).Seconds()

	if runErr == nil && result != nil && !result.Success {
		if result.Err != "" {
			runErr = errors.New(result.Err)
		} else {
			runErr = errors.New("script reported failure")
		}
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			// 取消路径由CancelTask负责落账
			return execution.ExecutionStatusCancelled
		}

		status := execution.ExecutionStatusFailed
		message := runErr.Error()
		if errors.Is(runErr, context.DeadlineExceeded) {
			status = execution.ExecutionStatusTimeout
			message = "Execution timeout"
		}

		patch := execution.NewPatch().
			WithStatus(status).
			WithEndTime(end).
			WithDuration(duration).
			WithErrorMessage(message)
		if _, err := e.ledger.UpdateExecution(dbCtx, rec.ExecutionID, patch); err != nil {
			e.logger.Error("failed to mark execution failed",
				zap.String("execution_id", rec.ExecutionID), zap.Error(err))
		}
		e.notify(hub.ExecutionEvent{
			ExecutionID:  rec.ExecutionID,
			TaskID:       t.ID,
			Status:       string(status),
			RowsBefore:   rowsBefore,
			ErrorMessage: message,
			Duration:     &duration,
		})
		e.logger.Warn("execution finished with error",
			zap.Uint64("task_id", t.ID),
			zap.String("execution_id", rec.ExecutionID),
			zap.String("status", string(status)),
			zap.Int("attempt", attempt),
			zap.String("error", message))
		return status
	}

	rowsAfter := e.probeRows(dbCtx, targetTable)

	completedPatch := execution.NewPatch().
		WithStatus(execution.ExecutionStatusCompleted).
		WithEndTime(end).
		WithDuration(duration)
	if result != nil && result.Data != nil {
		completedPatch.WithResult(result.Data)
	}
	if rowsAfter != nil {
		completedPatch.WithRowsAfter(*rowsAfter)
	}
	if _, err := e.ledger.UpdateExecution(dbCtx, rec.ExecutionID, completedPatch); err != nil {
		e.logger.Error("failed to mark execution completed",
			zap.String("execution_id", rec.ExecutionID), zap.Error(err))
	}

	if err := e.taskRepo.Update(dbCtx, t.ID, task.NewTaskPatch().WithLastExecutionAt(end)); err != nil {
		e.logger.Warn("failed to update task last execution time",
			zap.Uint64("task_id", t.ID), zap.Error(err))
	}

	e.notify(hub.ExecutionEvent{
		ExecutionID: rec.ExecutionID,
		TaskID:      t.ID,
		Status:      string(execution.ExecutionStatusCompleted),
		RowsBefore:  rowsBefore,
		RowsAfter:   rowsAfter,
		Duration:    &duration,
	})
	e.logger.Info("execution completed",
		zap.Uint64("task_id", t.ID),
		zap.String("execution_id", rec.ExecutionID),
		zap.Float64("duration", duration))
	return execution.ExecutionStatusCompleted
}

func (e *Engine) resolveTargetTable(ctx context.Context, scriptID string) string {
	if e.scriptRepo == nil {
		return ""
	}
	s, err := e.scriptRepo.GetByScriptID(ctx, scriptID)
	if err != nil || s == nil {
		return ""
	}
	return s.TargetTable
}

// probeRows 行数探测尽力而为，失败只记日志
func (e *Engine) probeRows(ctx context.Context, table string) *int64 {
	if e.prober == nil || table == "" {
		return nil
	}
	count, err := e.prober.CountRows(ctx, table)
	if err != nil {
		e.logger.Debug("row count probe failed",
			zap.String("table", table), zap.Error(err))
		return nil
	}
	return &count
}

func (e *Engine) notify(event hub.ExecutionEvent) {
	if e.notifier == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	e.notifier.Broadcast(event)
}

func mergedParams(t *task.ScheduledTask, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(t.Parameters)+len(extra))
	for k, v := range t.Parameters {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func taskJobID(taskID uint64) string {
	return "task_" + strconv.FormatUint(taskID, 10)
}
