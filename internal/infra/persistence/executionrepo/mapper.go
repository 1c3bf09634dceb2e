package executionrepo

import (
	domain "github.com/datafetch/scheduler/internal/biz/execution"
	"github.com/datafetch/scheduler/internal/infra/persistence/commonrepo"
	"gorm.io/datatypes"
)

func (po *TaskExecution) ToDomain() *domain.TaskExecution {
	return &domain.TaskExecution{
		ID:           po.ID,
		CreatedAt:    po.CreatedAt,
		UpdatedAt:    po.UpdatedAt,
		ExecutionID:  po.ExecutionID,
		TaskID:       po.TaskID,
		ScriptID:     po.ScriptID,
		Params:       po.Params,
		Status:       po.Status,
		StartTime:    po.StartTime,
		EndTime:      po.EndTime,
		Duration:     po.Duration,
		Result:       po.Result,
		ErrorMessage: po.ErrorMessage,
		ErrorTrace:   po.ErrorTrace,
		RowsBefore:   po.RowsBefore,
		RowsAfter:    po.RowsAfter,
		RetryCount:   po.RetryCount,
		TriggeredBy:  po.TriggeredBy,
		OperatorID:   po.OperatorID,
	}
}

func (po *TaskExecution) FromDomain(domain *domain.TaskExecution) *TaskExecution {
	return &TaskExecution{
		Mode: commonrepo.Mode{
			ID:        domain.ID,
			CreatedAt: domain.CreatedAt,
			UpdatedAt: domain.UpdatedAt,
		},
		ExecutionID:  domain.ExecutionID,
		TaskID:       domain.TaskID,
		ScriptID:     domain.ScriptID,
		Params:       domain.Params,
		Status:       domain.Status,
		StartTime:    domain.StartTime,
		EndTime:      domain.EndTime,
		Duration:     domain.Duration,
		Result:       domain.Result,
		ErrorMessage: domain.ErrorMessage,
		ErrorTrace:   domain.ErrorTrace,
		RowsBefore:   domain.RowsBefore,
		RowsAfter:    domain.RowsAfter,
		RetryCount:   domain.RetryCount,
		TriggeredBy:  domain.TriggeredBy,
		OperatorID:   domain.OperatorID,
	}
}

func patchToMap(input *domain.TaskExecutionPatch) map[string]any {
	var values = make(map[string]any)
	if input.Status != nil {
		values["status"] = input.Status
	}
	if input.StartTime != nil {
		values["start_time"] = input.StartTime
	}
	if input.EndTime != nil {
		values["end_time"] = input.EndTime
	}
	if input.Duration != nil {
		values["duration"] = input.Duration
	}
	if input.Result != nil {
		values["result"] = datatypes.JSONMap(*input.Result)
	}
	if input.ErrorMessage != nil {
		values["error_message"] = input.ErrorMessage
	}
	if input.ErrorTrace != nil {
		values["error_trace"] = input.ErrorTrace
	}
	if input.RowsBefore != nil {
		values["rows_before"] = input.RowsBefore
	}
	if input.RowsAfter != nil {
		values["rows_after"] = input.RowsAfter
	}
	if input.RetryCount != nil {
		values["retry_count"] = input.RetryCount
	}
	return values
}
