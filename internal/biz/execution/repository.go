package execution

import (
	"context"
	"time"

	"github.com/datafetch/scheduler/internal/infra/persistence/commonrepo"
	"github.com/samber/mo"
)

type Repo interface {
	commonrepo.Transaction
	Create(ctx context.Context, execution *TaskExecution) error

	// GetByExecutionID 不存在时返回 (nil, nil)
	GetByExecutionID(ctx context.Context, executionID string) (*TaskExecution, error)

	// UpdateByExecutionID 部分更新，记录不存在时返回false而非错误
	UpdateByExecutionID(ctx context.Context, executionID string, patch *TaskExecutionPatch) (bool, error)

	List(ctx context.Context, filter ListFilter, offset, limit int) ([]*TaskExecution, int64, error)
	Stats(ctx context.Context, start, end time.Time) (*Stats, error)
	Recent(ctx context.Context, limit int) ([]*TaskExecution, error)
	Running(ctx context.Context) ([]*TaskExecution, error)
	RecentFailed(ctx context.Context, limit int) ([]*TaskExecution, error)

	// LatestRunningByTask 取该任务最近一条RUNNING记录，没有则返回 (nil, nil)
	LatestRunningByTask(ctx context.Context, taskID uint64) (*TaskExecution, error)

	DeleteByExecutionIDs(ctx context.Context, executionIDs []string) (int64, error)
	DeleteByStatus(ctx context.Context, status ExecutionStatus) (int64, error)

	// DeleteTerminalBefore 删除创建时间早于cutoff且处于给定终态的记录
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time, statuses []ExecutionStatus) (int64, error)
}

type ListFilter struct {
	TaskID    mo.Option[uint64]
	ScriptID  mo.Option[string]
	Status    mo.Option[ExecutionStatus]
	StartDate mo.Option[time.Time]
	EndDate   mo.Option[time.Time]
}

// Stats 一段时间内的执行统计
type Stats struct {
	TotalCount   int64   `json:"total_count"`
	SuccessCount int64   `json:"success_count"`
	FailedCount  int64   `json:"failed_count"`
	SuccessRate  float64 `json:"success_rate"`
	AvgDuration  float64 `json:"avg_duration"`
	TodayCount   int64   `json:"today_count"`
}
