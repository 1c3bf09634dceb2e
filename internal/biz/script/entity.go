package script

import "time"

// DataScript 数据采集脚本的目录项，脚本本体在启动时注册到执行器
type DataScript struct {
	ID        uint64
	CreatedAt time.Time
	UpdatedAt time.Time

	ScriptID    string
	ScriptName  string
	Category    string
	Description string
	// TargetTable 脚本写入的目标表，行数探测用，可为空
	TargetTable string
	IsActive    bool
}
