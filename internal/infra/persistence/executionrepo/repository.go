package executionrepo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/datafetch/scheduler/internal/biz/execution"
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

func (r *MysqlRepositoryImpl) Create(ctx context.Context, execution *domain.TaskExecution) error {
	po := new(TaskExecution).FromDomain(execution)
	if err := r.Db(ctx).Create(po).Error; err != nil {
		return err
	}
	execution.ID = po.ID
	execution.CreatedAt = po.CreatedAt
	execution.UpdatedAt = po.UpdatedAt
	return nil
}

func (r *MysqlRepositoryImpl) GetByExecutionID(ctx context.Context, executionID string) (*domain.TaskExecution, error) {
	var po = new(TaskExecution)
	err := r.Db(ctx).Where("execution_id = ?", executionID).First(po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) UpdateByExecutionID(ctx context.Context, executionID string, patch *domain.TaskExecutionPatch) (bool, error) {
	values := patchToMap(patch)
	if len(values) == 0 {
		return true, nil
	}
	res := r.Db(ctx).Model(&TaskExecution{}).Where("execution_id = ?", executionID).Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *MysqlRepositoryImpl) List(ctx context.Context, filter domain.ListFilter, offset, limit int) ([]*domain.TaskExecution, int64, error) {
	db := r.Db(ctx).Model(&TaskExecution{})

	if filter.TaskID.IsPresent() {
		db = db.Where("task_id = ?", filter.TaskID.MustGet())
	}
	if filter.ScriptID.IsPresent() {
		db = db.Where("script_id = ?", filter.ScriptID.MustGet())
	}
	if filter.Status.IsPresent() {
		db = db.Where("status = ?", filter.Status.MustGet())
	}
	if filter.StartDate.IsPresent() {
		db = db.Where("start_time >= ?", filter.StartDate.MustGet())
	}
	if filter.EndDate.IsPresent() {
		db = db.Where("start_time <= ?", filter.EndDate.MustGet())
	}

	var count int64
	if err := db.Count(&count).Error; err != nil {
		return nil, 0, err
	}

	var pos []*TaskExecution
	if err := db.Order("start_time DESC").Limit(limit).Offset(offset).Find(&pos).Error; err != nil {
		return nil, 0, err
	}

	return toDomains(pos), count, nil
}

func (r *MysqlRepositoryImpl) Stats(ctx context.Context, start, end time.Time) (*domain.Stats, error) {
	var stats domain.Stats

	base := func() *gorm.DB {
		return r.Db(ctx).Model(&TaskExecution{}).
			Where("start_time >= ? AND start_time <= ?", start, end)
	}

	if err := base().Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}
	if err := base().Where("status = ?", domain.ExecutionStatusCompleted).
		Count(&stats.SuccessCount).Error; err != nil {
		return nil, err
	}
	stats.FailedCount = stats.TotalCount - stats.SuccessCount
	if stats.TotalCount > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalCount) * 100
	}

	var avg sql.NullFloat64
	err := base().Where("status = ?", domain.ExecutionStatusCompleted).
		Select("AVG(duration)").Scan(&avg).Error
	if err != nil {
		return nil, err
	}
	if avg.Valid {
		stats.AvgDuration = avg.Float64
	}

	todayStart := time.Now().UTC().Truncate(24 * time.Hour)
	if err := r.Db(ctx).Model(&TaskExecution{}).
		Where("start_time >= ?", todayStart).
		Count(&stats.TodayCount).Error; err != nil {
		return nil, err
	}

	return &stats, nil
}

func (r *MysqlRepositoryImpl) Recent(ctx context.Context, limit int) ([]*domain.TaskExecution, error) {
	var pos []*TaskExecution
	err := r.Db(ctx).Model(&TaskExecution{}).
		Order("start_time DESC").Limit(limit).Find(&pos).Error
	if err != nil {
		return nil, err
	}
	return toDomains(pos), nil
}

func (r *MysqlRepositoryImpl) Running(ctx context.Context) ([]*domain.TaskExecution, error) {
	var pos []*TaskExecution
	err := r.Db(ctx).Model(&TaskExecution{}).
		Where("status = ?", domain.ExecutionStatusRunning).
		Order("start_time DESC").Find(&pos).Error
	if err != nil {
		return nil, err
	}
	return toDomains(pos), nil
}

func (r *MysqlRepositoryImpl) RecentFailed(ctx context.Context, limit int) ([]*domain.TaskExecution, error) {
	var pos []*TaskExecution
	err := r.Db(ctx).Model(&TaskExecution{}).
		Where("status = ?", domain.ExecutionStatusFailed).
		Order("start_time DESC").Limit(limit).Find(&pos).Error
	if err != nil {
		return nil, err
	}
	return toDomains(pos), nil
}

func (r *MysqlRepositoryImpl) LatestRunningByTask(ctx context.Context, taskID uint64) (*domain.TaskExecution, error) {
	var po = new(TaskExecution)
	err := r.Db(ctx).
		Where("task_id = ? AND status = ?", taskID, domain.ExecutionStatusRunning).
		Order("created_at DESC").
		First(po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.ToDomain(), nil
}

// deleteChunk 批量删除每条语句的id上限，防止IN列表过长
const deleteChunk = 500

// DeleteByExecutionIDs 分批删除，整批在一个事务里：要么全删要么全留
func (r *MysqlRepositoryImpl) DeleteByExecutionIDs(ctx context.Context, executionIDs []string) (int64, error) {
	if len(executionIDs) == 0 {
		return 0, nil
	}
	var deleted int64
	err := r.Execute(ctx, func(ctx context.Context) error {
		for start := 0; start < len(executionIDs); start += deleteChunk {
			end := start + deleteChunk
			if end > len(executionIDs) {
				end = len(executionIDs)
			}
			res := r.Db(ctx).Where("execution_id IN ?", executionIDs[start:end]).Delete(&TaskExecution{})
			if res.Error != nil {
				return res.Error
			}
			deleted += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (r *MysqlRepositoryImpl) DeleteByStatus(ctx context.Context, status domain.ExecutionStatus) (int64, error) {
	res := r.Db(ctx).Where("status = ?", status).Delete(&TaskExecution{})
	return res.RowsAffected, res.Error
}

func (r *MysqlRepositoryImpl) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, statuses []domain.ExecutionStatus) (int64, error) {
	res := r.Db(ctx).
		Where("created_at < ? AND status IN ?", cutoff, statuses).
		Delete(&TaskExecution{})
	return res.RowsAffected, res.Error
}

func toDomains(pos []*TaskExecution) []*domain.TaskExecution {
	domains := make([]*domain.TaskExecution, len(pos))
	for i := range pos {
		domains[i] = pos[i].ToDomain()
	}
	return domains
}
