package scriptrepo

import (
	"context"
	"errors"

	domain "github.com/datafetch/scheduler/internal/biz/script"
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

func (r *MysqlRepositoryImpl) Create(ctx context.Context, script *domain.DataScript) error {
	po := new(DataScript).FromDomain(script)
	if err := r.Db(ctx).Create(po).Error; err != nil {
		return err
	}
	script.ID = po.ID
	script.CreatedAt = po.CreatedAt
	script.UpdatedAt = po.UpdatedAt
	return nil
}

func (r *MysqlRepositoryImpl) GetByScriptID(ctx context.Context, scriptID string) (*domain.DataScript, error) {
	var po = new(DataScript)
	err := r.Db(ctx).Where("script_id = ?", scriptID).First(po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) List(ctx context.Context, filter *domain.ScriptFilter) ([]*domain.DataScript, error) {
	db := r.Db(ctx).Model(&DataScript{})

	if filter != nil {
		if filter.Category.IsPresent() {
			db = db.Where("category = ?", filter.Category.MustGet())
		}
		if filter.IsActive.IsPresent() {
			db = db.Where("is_active = ?", filter.IsActive.MustGet())
		}
	}

	var pos []*DataScript
	if err := db.Order("category, script_id").Find(&pos).Error; err != nil {
		return nil, err
	}

	scripts := make([]*domain.DataScript, len(pos))
	for i := range pos {
		scripts[i] = pos[i].ToDomain()
	}
	return scripts, nil
}

func (r *MysqlRepositoryImpl) Delete(ctx context.Context, scriptID string) error {
	return r.Db(ctx).Where("script_id = ?", scriptID).Delete(&DataScript{}).Error
}
