package executionrepo

import (
	"time"

	domain "github.com/datafetch/scheduler/internal/biz/execution"
	"github.com/datafetch/scheduler/internal/infra/persistence/commonrepo"
	"gorm.io/datatypes"
)

type TaskExecution struct {
	commonrepo.Mode
	ExecutionID  string                 `gorm:"column:execution_id;size:100;not null;uniqueIndex"`
	TaskID       uint64                 `gorm:"column:task_id;not null;index:idx_task_status"`
	ScriptID     string                 `gorm:"column:script_id;size:100;not null;index"`
	Params       datatypes.JSONMap      `gorm:"column:params;type:json"`
	Status       domain.ExecutionStatus `gorm:"column:status;size:20;not null;index:idx_task_status;index"`
	StartTime    *time.Time             `gorm:"column:start_time;index"`
	EndTime      *time.Time             `gorm:"column:end_time"`
	Duration     *float64               `gorm:"column:duration"`
	Result       datatypes.JSONMap      `gorm:"column:result;type:json"`
	ErrorMessage string                 `gorm:"column:error_message;type:text"`
	ErrorTrace   string                 `gorm:"column:error_trace;type:text"`
	RowsBefore   *int64                 `gorm:"column:rows_before"`
	RowsAfter    *int64                 `gorm:"column:rows_after"`
	RetryCount   int                    `gorm:"column:retry_count;not null;default:0"`
	TriggeredBy  domain.TriggeredBy     `gorm:"column:triggered_by;size:20;not null"`
	OperatorID   *uint64                `gorm:"column:operator_id"`
}

func (TaskExecution) TableName() string {
	return "task_executions"
}
