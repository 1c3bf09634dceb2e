package task

import (
	"time"
)

// ScheduledTask 定时采集任务定义，由API层维护，引擎只读
type ScheduledTask struct {
	ID        uint64
	CreatedAt time.Time
	UpdatedAt time.Time

	Name               string
	Description        string
	UserID             uint64
	ScriptID           string
	ScheduleType       ScheduleType
	ScheduleExpression string
	Parameters         map[string]any
	IsActive           bool
	RetryOnFailure     bool
	MaxRetries         int
	// TimeoutSeconds 0表示不限制
	TimeoutSeconds int

	LastExecutionAt *time.Time
	NextExecutionAt *time.Time
}

// Timeout 返回任务的执行超时时长，0表示无超时
func (t *ScheduledTask) Timeout() time.Duration {
	if t.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// TaskPatch 部分更新的字段集合，nil表示不动
type TaskPatch struct {
	Name               *string
	Description        *string
	ScheduleType       *ScheduleType
	ScheduleExpression *string
	Parameters         *map[string]any
	IsActive           *bool
	RetryOnFailure     *bool
	MaxRetries         *int
	TimeoutSeconds     *int
	LastExecutionAt    *time.Time
}

func NewTaskPatch() *TaskPatch {
	return &TaskPatch{}
}

func (p *TaskPatch) WithName(name string) *TaskPatch {
	p.Name = &name
	return p
}

func (p *TaskPatch) WithScheduleExpression(expr string) *TaskPatch {
	p.ScheduleExpression = &expr
	return p
}

func (p *TaskPatch) WithParameters(parameters map[string]any) *TaskPatch {
	p.Parameters = &parameters
	return p
}

func (p *TaskPatch) WithIsActive(active bool) *TaskPatch {
	p.IsActive = &active
	return p
}

func (p *TaskPatch) WithLastExecutionAt(at time.Time) *TaskPatch {
	p.LastExecutionAt = &at
	return p
}
