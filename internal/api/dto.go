package api

import (
	"time"

	"github.com/datafetch/scheduler/internal/biz/execution"
	scriptdef "github.com/datafetch/scheduler/internal/biz/script"
	"github.com/datafetch/scheduler/internal/biz/task"
)

type TaskResp struct {
	ID                 uint64         `json:"id"`
	Name               string         `json:"name"`
	Description        string         `json:"description"`
	UserID             uint64         `json:"user_id"`
	ScriptID           string         `json:"script_id"`
	ScheduleType       string         `json:"schedule_type"`
	ScheduleExpression string         `json:"schedule_expression"`
	Parameters         map[string]any `json:"parameters"`
	IsActive           bool           `json:"is_active"`
	RetryOnFailure     bool           `json:"retry_on_failure"`
	MaxRetries         int            `json:"max_retries"`
	TimeoutSeconds     int            `json:"timeout_seconds"`
	LastExecutionAt    *time.Time     `json:"last_execution_at"`
	NextExecutionAt    *time.Time     `json:"next_execution_at"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func toTaskResp(t *task.ScheduledTask) TaskResp {
	return TaskResp{
		ID:                 t.ID,
		Name:               t.Name,
		Description:        t.Description,
		UserID:             t.UserID,
		ScriptID:           t.ScriptID,
		ScheduleType:       string(t.ScheduleType),
		ScheduleExpression: t.ScheduleExpression,
		Parameters:         t.Parameters,
		IsActive:           t.IsActive,
		RetryOnFailure:     t.RetryOnFailure,
		MaxRetries:         t.MaxRetries,
		TimeoutSeconds:     t.TimeoutSeconds,
		LastExecutionAt:    t.LastExecutionAt,
		NextExecutionAt:    t.NextExecutionAt,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

func toTaskResps(tasks []*task.ScheduledTask) []TaskResp {
	out := make([]TaskResp, len(tasks))
	for i, t := range tasks {
		out[i] = toTaskResp(t)
	}
	return out
}

type ExecutionResp struct {
	ID           uint64         `json:"id"`
	ExecutionID  string         `json:"execution_id"`
	TaskID       uint64         `json:"task_id"`
	ScriptID     string         `json:"script_id"`
	Params       map[string]any `json:"params"`
	Status       string         `json:"status"`
	StartTime    *time.Time     `json:"start_time"`
	EndTime      *time.Time     `json:"end_time"`
	Duration     *float64       `json:"duration"`
	Result       map[string]any `json:"result"`
	ErrorMessage string         `json:"error_message,omitempty"`
	RowsBefore   *int64         `json:"rows_before"`
	RowsAfter    *int64         `json:"rows_after"`
	RetryCount   int            `json:"retry_count"`
	TriggeredBy  string         `json:"triggered_by"`
	OperatorID   *uint64        `json:"operator_id"`
	CreatedAt    time.Time      `json:"created_at"`
}

func toExecutionResp(e *execution.TaskExecution) ExecutionResp {
	return ExecutionResp{
		ID:           e.ID,
		ExecutionID:  e.ExecutionID,
		TaskID:       e.TaskID,
		ScriptID:     e.ScriptID,
		Params:       e.Params,
		Status:       string(e.Status),
		StartTime:    e.StartTime,
		EndTime:      e.EndTime,
		Duration:     e.Duration,
		Result:       e.Result,
		ErrorMessage: e.ErrorMessage,
		RowsBefore:   e.RowsBefore,
		RowsAfter:    e.RowsAfter,
		RetryCount:   e.RetryCount,
		TriggeredBy:  string(e.TriggeredBy),
		OperatorID:   e.OperatorID,
		CreatedAt:    e.CreatedAt,
	}
}

func toExecutionResps(execs []*execution.TaskExecution) []ExecutionResp {
	out := make([]ExecutionResp, len(execs))
	for i, e := range execs {
		out[i] = toExecutionResp(e)
	}
	return out
}

type ScriptResp struct {
	ID          uint64    `json:"id"`
	ScriptID    string    `json:"script_id"`
	ScriptName  string    `json:"script_name"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	TargetTable string    `json:"target_table"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

func toScriptResp(s *scriptdef.DataScript) ScriptResp {
	return ScriptResp{
		ID:          s.ID,
		ScriptID:    s.ScriptID,
		ScriptName:  s.ScriptName,
		Category:    s.Category,
		Description: s.Description,
		TargetTable: s.TargetTable,
		IsActive:    s.IsActive,
		CreatedAt:   s.CreatedAt,
	}
}
