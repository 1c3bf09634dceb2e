package taskrepo

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/datafetch/scheduler/internal/biz/task"
	"github.com/datafetch/scheduler/internal/infra/persistence/commonrepo"
	"github.com/google/wire"
	"gorm.io/gorm"
)

var Provider = wire.NewSet(NewMysqlRepositoryImpl)

type MysqlRepositoryImpl struct {
	commonrepo.DefaultRepo
}

func NewMysqlRepositoryImpl(db commonrepo.DB) domain.Repo {
	return &MysqlRepositoryImpl{
		DefaultRepo: commonrepo.NewDefaultRepo(db),
	}
}

func (r *MysqlRepositoryImpl) Create(ctx context.Context, task *domain.ScheduledTask) error {
	po := new(ScheduledTask).FromDomain(task)
	if err := r.Db(ctx).Create(po).Error; err != nil {
		return err
	}
	task.ID = po.ID
	task.CreatedAt = po.CreatedAt
	task.UpdatedAt = po.UpdatedAt
	return nil
}

func (r *MysqlRepositoryImpl) GetByID(ctx context.Context, id uint64) (*domain.ScheduledTask, error) {
	var po = new(ScheduledTask)
	if err := r.Db(ctx).First(po, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task %d: %w", id, domain.ErrTaskNotFound)
		}
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) Update(ctx context.Context, id uint64, patch *domain.TaskPatch) error {
	values := patchToMap(patch)
	if len(values) == 0 {
		return nil
	}
	return r.Db(ctx).Model(&ScheduledTask{}).Where("id = ?", id).Updates(values).Error
}

func (r *MysqlRepositoryImpl) Delete(ctx context.Context, id uint64) error {
	return r.Db(ctx).Delete(&ScheduledTask{}, id).Error
}

func (r *MysqlRepositoryImpl) List(ctx context.Context, filter *domain.TaskFilter) ([]*domain.ScheduledTask, error) {
	db := r.Db(ctx).Model(&ScheduledTask{})

	if filter != nil {
		if filter.IsActive.IsPresent() {
			db = db.Where("is_active = ?", filter.IsActive.MustGet())
		}
		if filter.ScriptID.IsPresent() {
			db = db.Where("script_id = ?", filter.ScriptID.MustGet())
		}
	}

	var pos []*ScheduledTask
	if err := db.Order("id").Find(&pos).Error; err != nil {
		return nil, err
	}

	tasks := make([]*domain.ScheduledTask, len(pos))
	for i := range pos {
		tasks[i] = pos[i].ToDomain()
	}
	return tasks, nil
}

func (r *MysqlRepositoryImpl) FindActiveTasks(ctx context.Context) ([]*domain.ScheduledTask, error) {
	var pos []*ScheduledTask
	if err := r.Db(ctx).Where("is_active = ?", true).Find(&pos).Error; err != nil {
		return nil, err
	}

	tasks := make([]*domain.ScheduledTask, len(pos))
	for i := range pos {
		tasks[i] = pos[i].ToDomain()
	}
	return tasks, nil
}
