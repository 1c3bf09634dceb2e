package script

import (
	"context"

	"gorm.io/gorm"
)

// RowProber 探测目标表行数，用于执行前后对账
type RowProber interface {
	CountRows(ctx context.Context, table string) (int64, error)
}

// TableProber 基于数据库COUNT的行数探测
type TableProber struct {
	db *gorm.DB
}

func NewTableProber(db *gorm.DB) *TableProber {
	return &TableProber{db: db}
}

func (p *TableProber) CountRows(ctx context.Context, table string) (int64, error) {
	var count int64
	err := p.db.WithContext(ctx).Table(table).Count(&count).Error
	return count, err
}
