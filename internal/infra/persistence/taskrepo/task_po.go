package taskrepo

import (
	"time"

	domain "github.com/datafetch/scheduler/internal/biz/task"
	"github.com/datafetch/scheduler/internal/infra/persistence/commonrepo"
	"gorm.io/datatypes"
)

type ScheduledTask struct {
	commonrepo.Mode
	Name               string              `gorm:"column:name;size:255;not null"`
	Description        string              `gorm:"column:description;type:text"`
	UserID             uint64              `gorm:"column:user_id;not null;index"`
	ScriptID           string              `gorm:"column:script_id;size:100;not null;index"`
	ScheduleType       domain.ScheduleType `gorm:"column:schedule_type;size:20;not null"`
	ScheduleExpression string              `gorm:"column:schedule_expression;size:100;not null"`
	Parameters         datatypes.JSONMap   `gorm:"column:parameters;type:json"`
	// 布尔与策略字段不带default标签：带了gorm在INSERT时会跳过零值，
	// false/0就再也写不进去了
	IsActive           bool                `gorm:"column:is_active;not null;index"`
	RetryOnFailure     bool                `gorm:"column:retry_on_failure;not null"`
	MaxRetries         int                 `gorm:"column:max_retries;not null"`
	TimeoutSeconds     int                 `gorm:"column:timeout;not null"`
	LastExecutionAt    *time.Time          `gorm:"column:last_execution_at"`
	NextExecutionAt    *time.Time          `gorm:"column:next_execution_at"`
}

func (ScheduledTask) TableName() string {
	return "scheduled_tasks"
}
