package script

import (
	"context"
	"errors"

	"github.com/samber/mo"
)

// ErrScriptNotFound 脚本不存在
var ErrScriptNotFound = errors.New("script not found")

type Repo interface {
	Create(ctx context.Context, script *DataScript) error

	// GetByScriptID 不存在时返回 (nil, nil)
	GetByScriptID(ctx context.Context, scriptID string) (*DataScript, error)
	List(ctx context.Context, filter *ScriptFilter) ([]*DataScript, error)
	Delete(ctx context.Context, scriptID string) error
}

type ScriptFilter struct {
	Category mo.Option[string]
	IsActive mo.Option[bool]
}
