package retry

import (
	"context"
	"sync"
	"time"

	"github.com/datafetch/scheduler/internal/biz/execution"
	"github.com/datafetch/scheduler/internal/biz/task"
	"github.com/datafetch/scheduler/internal/ledger"
	"github.com/datafetch/scheduler/internal/script"
	"go.uber.org/zap"
)

const (
	// DefaultBase 首次重试延迟
	DefaultBase = 60 * time.Second
	// DefaultCap 单次重试延迟上限
	DefaultCap = 3600 * time.Second
)

// Policy 由任务定义推导出的重试策略
type Policy struct {
	Enabled    bool
	MaxRetries int
	Base       time.Duration
	Cap        time.Duration
}

// FromTask 从任务定义推导重试策略
func FromTask(t *task.ScheduledTask) Policy {
	return Policy{
		Enabled:    t.RetryOnFailure,
		MaxRetries: t.MaxRetries,
		Base:       DefaultBase,
		Cap:        DefaultCap,
	}
}

// ShouldRetry 该记录是否还应重试：策略开启、次数未用尽、且确实失败了
func (p Policy) ShouldRetry(rec *execution.TaskExecution) bool {
	return p.Enabled &&
		rec.RetryCount < p.MaxRetries &&
		rec.Status == execution.ExecutionStatusFailed
}

// Delay 第retryCount次重试前的等待时长：base·2^n，封顶cap
func (p Policy) Delay(retryCount int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	capd := p.Cap
	if capd <= 0 {
		capd = DefaultCap
	}

	d := base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= capd {
			return capd
		}
	}
	if d > capd {
		return capd
	}
	return d
}

// Controller 独立的延迟重试设施，供引擎主循环之外的补偿通道使用
// （如人工重放失败记录）。引擎内联重试不经过它——同一条执行
// 只允许一个重试权威，两条路径不可同时挂到同一触发源上。
type Controller struct {
	ledger   *ledger.Ledger
	executor *script.Executor
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func NewController(ldg *ledger.Ledger, executor *script.Executor, logger *zap.Logger) *Controller {
	return &Controller{
		ledger:   ldg,
		executor: executor,
		logger:   logger,
		pending:  make(map[string]*time.Timer),
	}
}

// ScheduleRetry 为失败记录安排一次延迟重试，不符合策略时返回false。
// 同一执行id重复安排时替换旧定时器。
func (c *Controller) ScheduleRetry(rec *execution.TaskExecution, policy Policy) bool {
	if !c.ShouldRetry(rec, policy) {
		return false
	}

	delay := policy.Delay(rec.RetryCount)
	original := *rec

	c.mu.Lock()
	if old, ok := c.pending[rec.ExecutionID]; ok {
		old.Stop()
	}
	c.pending[rec.ExecutionID] = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.pending, original.ExecutionID)
		c.mu.Unlock()
		c.ExecuteRetry(context.Background(), &original, policy, original.RetryCount+1)
	})
	c.mu.Unlock()

	c.logger.Info("retry scheduled",
		zap.String("execution_id", rec.ExecutionID),
		zap.Int("retry_count", rec.RetryCount),
		zap.Duration("delay", delay))
	return true
}

// ShouldRetry 见Policy.ShouldRetry
func (c *Controller) ShouldRetry(rec *execution.TaskExecution, policy Policy) bool {
	return policy.ShouldRetry(rec)
}

// ExecuteRetry 立即重放一次：以原记录的脚本与参数落一条新账，
// 再次失败且仍符合策略时递归安排下一轮。
func (c *Controller) ExecuteRetry(ctx context.Context, original *execution.TaskExecution, policy Policy, retryCount int) {
	rec, err := c.ledger.CreateExecution(ctx, original.TaskID, original.ScriptID,
		original.Params, original.TriggeredBy, original.OperatorID)
	if err != nil {
		c.logger.Error("failed to create retry execution record",
			zap.String("original_execution_id", original.ExecutionID), zap.Error(err))
		return
	}

	start := time.Now().UTC()
	if _, err := c.ledger.UpdateExecution(ctx, rec.ExecutionID, execution.NewPatch().
		WithStatus(execution.ExecutionStatusRunning).
		WithStartTime(start).
		WithRetryCount(retryCount)); err != nil {
		c.logger.Error("failed to mark retry execution running",
			zap.String("execution_id", rec.ExecutionID), zap.Error(err))
	}

	result, runErr := c.executor.Execute(ctx, original.ScriptID, original.Params, 0)
	end := time.Now().UTC()

	if runErr == nil && result != nil && result.Success {
		patch := execution.NewPatch().
			WithStatus(execution.ExecutionStatusCompleted).
			WithEndTime(end)
		if result.Data != nil {
			patch.WithResult(result.Data)
		}
		if _, err := c.ledger.UpdateExecution(ctx, rec.ExecutionID, patch); err != nil {
			c.logger.Error("failed to mark retry execution completed",
				zap.String("execution_id", rec.ExecutionID), zap.Error(err))
		}
		return
	}

	message := "script reported failure"
	if runErr != nil {
		message = runErr.Error()
	} else if result != nil && result.Err != "" {
		message = result.Err
	}
	if _, err := c.ledger.UpdateExecution(ctx, rec.ExecutionID, execution.NewPatch().
		WithStatus(execution.ExecutionStatusFailed).
		WithEndTime(end).
		WithErrorMessage(message)); err != nil {
		c.logger.Error("failed to mark retry execution failed",
			zap.String("execution_id", rec.ExecutionID), zap.Error(err))
	}

	rec.Status = execution.ExecutionStatusFailed
	rec.RetryCount = retryCount
	c.ScheduleRetry(rec, policy)
}

// CancelPendingRetry 取消未到期的重试，存在时返回true
func (c *Controller) CancelPendingRetry(executionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer, ok := c.pending[executionID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(c.pending, executionID)
	c.logger.Info("pending retry cancelled", zap.String("execution_id", executionID))
	return true
}

// PendingRetries 当前等待中的重试执行id
func (c *Controller) PendingRetries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown 停掉所有等待中的重试定时器
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, timer := range c.pending {
		timer.Stop()
		delete(c.pending, id)
	}
}
