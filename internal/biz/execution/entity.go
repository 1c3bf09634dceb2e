package execution

import "time"

// TaskExecution 一次任务执行的台账记录
type TaskExecution struct {
	ID        uint64
	CreatedAt time.Time
	UpdatedAt time.Time

	// ExecutionID 全局唯一执行标识，创建后不可变
	ExecutionID string
	TaskID      uint64
	ScriptID    string
	Params      map[string]any
	Status      ExecutionStatus
	StartTime   *time.Time
	EndTime     *time.Time
	// Duration 秒，StartTime与EndTime都存在时才有值
	Duration     *float64
	Result       map[string]any
	ErrorMessage string
	ErrorTrace   string
	RowsBefore   *int64
	RowsAfter    *int64
	RetryCount   int
	TriggeredBy  TriggeredBy
	OperatorID   *uint64
}

// TaskExecutionPatch 部分更新的字段集合，nil表示不动
type TaskExecutionPatch struct {
	Status       *ExecutionStatus
	StartTime    *time.Time
	EndTime      *time.Time
	Duration     *float64
	Result       *map[string]any
	ErrorMessage *string
	ErrorTrace   *string
	RowsBefore   *int64
	RowsAfter    *int64
	RetryCount   *int
}

func NewPatch() *TaskExecutionPatch {
	return &TaskExecutionPatch{}
}

func (p *TaskExecutionPatch) WithStatus(status ExecutionStatus) *TaskExecutionPatch {
	p.Status = &status
	return p
}

func (p *TaskExecutionPatch) WithStartTime(t time.Time) *TaskExecutionPatch {
	p.StartTime = &t
	return p
}

func (p *TaskExecutionPatch) WithEndTime(t time.Time) *TaskExecutionPatch {
	p.EndTime = &t
	return p
}

func (p *TaskExecutionPatch) WithDuration(seconds float64) *TaskExecutionPatch {
	p.Duration = &seconds
	return p
}

func (p *TaskExecutionPatch) WithResult(result map[string]any) *TaskExecutionPatch {
	p.Result = &result
	return p
}

func (p *TaskExecutionPatch) WithErrorMessage(msg string) *TaskExecutionPatch {
	p.ErrorMessage = &msg
	return p
}

func (p *TaskExecutionPatch) WithErrorTrace(trace string) *TaskExecutionPatch {
	p.ErrorTrace = &trace
	return p
}

func (p *TaskExecutionPatch) WithRowsBefore(n int64) *TaskExecutionPatch {
	p.RowsBefore = &n
	return p
}

func (p *TaskExecutionPatch) WithRowsAfter(n int64) *TaskExecutionPatch {
	p.RowsAfter = &n
	return p
}

func (p *TaskExecutionPatch) WithRetryCount(n int) *TaskExecutionPatch {
	p.RetryCount = &n
	return p
}
