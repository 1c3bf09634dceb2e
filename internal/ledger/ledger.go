package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/datafetch/scheduler/internal/biz/execution"
	"github.com/google/uuid"
	"github.com/google/wire"
	"go.uber.org/zap"
)

var Provider = wire.NewSet(New)

// Ledger 执行台账：所有执行记录的唯一读写入口。
// 只操作后端存储，不广播事件、不触发重试。
type Ledger struct {
	repo   execution.Repo
	logger *zap.Logger
}

func New(repo execution.Repo, logger *zap.Logger) *Ledger {
	return &Ledger{repo: repo, logger: logger}
}

// newExecutionID 生成全局唯一执行标识：时间戳 + 随机后缀
func newExecutionID() string {
	return fmt.Sprintf("exec_%s_%s",
		time.Now().UTC().Format("20060102_150405"),
		uuid.NewString()[:8])
}

// CreateExecution 创建一条PENDING记录并返回
func (l *Ledger) CreateExecution(
	ctx context.Context,
	taskID uint64,
	scriptID string,
	params map[string]any,
	triggeredBy execution.TriggeredBy,
	operatorID *uint64,
) (*execution.TaskExecution, error) {
	record := &execution.TaskExecution{
		ExecutionID: newExecutionID(),
		TaskID:      taskID,
		ScriptID:    scriptID,
		Params:      params,
		Status:      execution.ExecutionStatusPending,
		TriggeredBy: triggeredBy,
		OperatorID:  operatorID,
	}
	if err := l.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create execution record: %w", err)
	}
	return record, nil
}

// UpdateExecution 部分更新执行记录。提供EndTime且能确定开始时间时重算duration。
// 记录不存在时返回false，不报错。
func (l *Ledger) UpdateExecution(ctx context.Context, executionID string, patch *execution.TaskExecutionPatch) (bool, error) {
	if patch.EndTime != nil && patch.Duration == nil {
		start := patch.StartTime
		if start == nil {
			existing, err := l.repo.GetByExecutionID(ctx, executionID)
			if err != nil {
				return false, err
			}
			if existing == nil {
				l.logger.Warn("execution not found for update",
					zap.String("execution_id", executionID))
				return false, nil
			}
			start = existing.StartTime
		}
		if start != nil {
			patch.WithDuration(patch.EndTime.Sub(*start).Seconds())
		}
	}

	ok, err := l.repo.UpdateByExecutionID(ctx, executionID, patch)
	if err != nil {
		return false, fmt.Errorf("failed to update execution %s: %w", executionID, err)
	}
	if !ok {
		l.logger.Warn("execution not found for update",
			zap.String("execution_id", executionID))
	}
	return ok, nil
}

// GetExecution 不存在时返回 (nil, nil)
func (l *Ledger) GetExecution(ctx context.Context, executionID string) (*execution.TaskExecution, error) {
	return l.repo.GetByExecutionID(ctx, executionID)
}

func (l *Ledger) ListExecutions(ctx context.Context, filter execution.ListFilter, offset, limit int) ([]*execution.TaskExecution, int64, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.repo.List(ctx, filter, offset, limit)
}

// Stats 统计给定时间段的执行情况，零值时段默认为今日0点至当前
func (l *Ledger) Stats(ctx context.Context, start, end time.Time) (*execution.Stats, error) {
	if start.IsZero() {
		start = time.Now().UTC().Truncate(24 * time.Hour)
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return l.repo.Stats(ctx, start, end)
}

func (l *Ledger) RecentExecutions(ctx context.Context, limit int) ([]*execution.TaskExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.repo.Recent(ctx, limit)
}

func (l *Ledger) RunningExecutions(ctx context.Context) ([]*execution.TaskExecution, error) {
	return l.repo.Running(ctx)
}

func (l *Ledger) FailedExecutions(ctx context.Context, limit int) ([]*execution.TaskExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	return l.repo.RecentFailed(ctx, limit)
}

// LatestRunningByTask 取该任务最近一条RUNNING记录，取消时定位用
func (l *Ledger) LatestRunningByTask(ctx context.Context, taskID uint64) (*execution.TaskExecution, error) {
	return l.repo.LatestRunningByTask(ctx, taskID)
}

func (l *Ledger) DeleteExecutions(ctx context.Context, executionIDs []string) (int64, error) {
	return l.repo.DeleteByExecutionIDs(ctx, executionIDs)
}

func (l *Ledger) DeleteExecutionsByStatus(ctx context.Context, status execution.ExecutionStatus) (int64, error) {
	return l.repo.DeleteByStatus(ctx, status)
}

// Cleanup 删除早于保留窗口且处于终态的记录；PENDING/RUNNING永不删除
func (l *Ledger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	deleted, err := l.repo.DeleteTerminalBefore(ctx, cutoff, execution.TerminalStatuses())
	if err != nil {
		return 0, fmt.Errorf("housekeeping cleanup failed: %w", err)
	}
	if deleted > 0 {
		l.logger.Info("housekeeping: deleted old execution records",
			zap.Int64("deleted", deleted),
			zap.Int("retention_days", retentionDays))
	}
	return deleted, nil
}
