package scriptrepo

import (
	domain "github.com/datafetch/scheduler/internal/biz/script"
	"github.com/datafetch/scheduler/internal/infra/persistence/commonrepo"
)

type DataScript struct {
	commonrepo.Mode
	ScriptID    string `gorm:"column:script_id;size:100;not null;uniqueIndex"`
	ScriptName  string `gorm:"column:script_name;size:255;not null"`
	Category    string `gorm:"column:category;size:100;index"`
	Description string `gorm:"column:description;type:text"`
	TargetTable string `gorm:"column:target_table;size:100"`
	// 不带default标签，false才写得进去
	IsActive    bool   `gorm:"column:is_active;not null"`
}

func (DataScript) TableName() string {
	return "data_scripts"
}

func (po *DataScript) ToDomain() *domain.DataScript {
	return &domain.DataScript{
		ID:          po.ID,
		CreatedAt:   po.CreatedAt,
		UpdatedAt:   po.UpdatedAt,
		ScriptID:    po.ScriptID,
		ScriptName:  po.ScriptName,
		Category:    po.Category,
		Description: po.Description,
		TargetTable: po.TargetTable,
		IsActive:    po.IsActive,
	}
}

func (po *DataScript) FromDomain(domain *domain.DataScript) *DataScript {
	return &DataScript{
		Mode: commonrepo.Mode{
			ID:        domain.ID,
			CreatedAt: domain.CreatedAt,
			UpdatedAt: domain.UpdatedAt,
		},
		ScriptID:    domain.ScriptID,
		ScriptName:  domain.ScriptName,
		Category:    domain.Category,
		Description: domain.Description,
		TargetTable: domain.TargetTable,
		IsActive:    domain.IsActive,
	}
}
