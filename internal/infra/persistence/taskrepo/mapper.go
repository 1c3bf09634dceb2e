package taskrepo

import (
	domain "github.com/datafetch/scheduler/internal/biz/task"
	"github.com/datafetch/scheduler/internal/infra/persistence/commonrepo"
)

func (po *ScheduledTask) ToDomain() *domain.ScheduledTask {
	return &domain.ScheduledTask{
		ID:                 po.ID,
		CreatedAt:          po.CreatedAt,
		UpdatedAt:          po.UpdatedAt,
		Name:               po.Name,
		Description:        po.Description,
		UserID:             po.UserID,
		ScriptID:           po.ScriptID,
		ScheduleType:       po.ScheduleType,
		ScheduleExpression: po.ScheduleExpression,
		Parameters:         po.Parameters,
		IsActive:           po.IsActive,
		RetryOnFailure:     po.RetryOnFailure,
		MaxRetries:         po.MaxRetries,
		TimeoutSeconds:     po.TimeoutSeconds,
		LastExecutionAt:    po.LastExecutionAt,
		NextExecutionAt:    po.NextExecutionAt,
	}
}

func (po *ScheduledTask) FromDomain(domain *domain.ScheduledTask) *ScheduledTask {
	return &ScheduledTask{
		Mode: commonrepo.Mode{
			ID:        domain.ID,
			CreatedAt: domain.CreatedAt,
			UpdatedAt: domain.UpdatedAt,
		},
		Name:               domain.Name,
		Description:        domain.Description,
		UserID:             domain.UserID,
		ScriptID:           domain.ScriptID,
		ScheduleType:       domain.ScheduleType,
		ScheduleExpression: domain.ScheduleExpression,
		Parameters:         domain.Parameters,
		IsActive:           domain.IsActive,
		RetryOnFailure:     domain.RetryOnFailure,
		MaxRetries:         domain.MaxRetries,
		TimeoutSeconds:     domain.TimeoutSeconds,
		LastExecutionAt:    domain.LastExecutionAt,
		NextExecutionAt:    domain.NextExecutionAt,
	}
}

func patchToMap(input *domain.TaskPatch) map[string]any {
	var values = make(map[string]any)
	if input.Name != nil {
		values["name"] = input.Name
	}
	if input.Description != nil {
		values["description"] = input.Description
	}
	if input.ScheduleType != nil {
		values["schedule_type"] = input.ScheduleType
	}
	if input.ScheduleExpression != nil {
		values["schedule_expression"] = input.ScheduleExpression
	}
	if input.Parameters != nil {
		values["parameters"] = input.Parameters
	}
	if input.IsActive != nil {
		values["is_active"] = input.IsActive
	}
	if input.RetryOnFailure != nil {
		values["retry_on_failure"] = input.RetryOnFailure
	}
	if input.MaxRetries != nil {
		values["max_retries"] = input.MaxRetries
	}
	if input.TimeoutSeconds != nil {
		values["timeout"] = input.TimeoutSeconds
	}
	if input.LastExecutionAt != nil {
		values["last_execution_at"] = input.LastExecutionAt
	}
	return values
}
