package task

import (
	"context"
	"errors"

	"github.com/samber/mo"
)

// ErrTaskNotFound 任务不存在
var ErrTaskNotFound = errors.New("task not found")

type Repo interface {
	Create(ctx context.Context, task *ScheduledTask) error
	GetByID(ctx context.Context, id uint64) (*ScheduledTask, error)
	Update(ctx context.Context, id uint64, patch *TaskPatch) error
	Delete(ctx context.Context, id uint64) error
	List(ctx context.Context, filter *TaskFilter) ([]*ScheduledTask, error)

	// FindActiveTasks 查找所有激活任务，引擎启动时重建调度用
	FindActiveTasks(ctx context.Context) ([]*ScheduledTask, error)
}

type TaskFilter struct {
	IsActive mo.Option[bool]
	ScriptID mo.Option[string]
}
