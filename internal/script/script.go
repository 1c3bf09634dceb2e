package script

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrScriptNotFound 脚本未注册
var ErrScriptNotFound = errors.New("script not found")

// Result 脚本一次运行的结果
type Result struct {
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	RowsProcessed int64          `json:"rows_processed"`
	Err           string         `json:"error,omitempty"`
}

// Runner 数据抓取脚本的执行体。实现方应尊重ctx取消。
type Runner interface {
	Run(ctx context.Context, params map[string]any) (*Result, error)
}

// RunnerFunc 函数式Runner适配器
type RunnerFunc func(ctx context.Context, params map[string]any) (*Result, error)

func (f RunnerFunc) Run(ctx context.Context, params map[string]any) (*Result, error) {
	return f(ctx, params)
}

// Registry 按script_id注册的脚本表，进程启动时装配，之后只读
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

func (r *Registry) Register(scriptID string, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[scriptID] = runner
}

func (r *Registry) Get(scriptID string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[scriptID]
	return runner, ok
}

func (r *Registry) ScriptIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runners))
	for id := range r.runners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Executor 带超时控制的脚本执行器
type Executor struct {
	registry *Registry
	logger   *zap.Logger
}

func NewExecutor(registry *Registry, logger *zap.Logger) *Executor {
	return &Executor{registry: registry, logger: logger}
}

// Execute 运行脚本，超时或上游取消时返回ctx错误。
// 脚本不配合取消时结果被丢弃，协程自行退出。
func (e *Executor) Execute(ctx context.Context, scriptID string, params map[string]any, timeout time.Duration) (*Result, error) {
	runner, ok := e.registry.Get(scriptID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, scriptID)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		result *Result
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("script panicked",
					zap.String("script_id", scriptID),
					zap.Any("panic", r))
				ch <- outcome{err: fmt.Errorf("script %s panicked: %v", scriptID, r)}
			}
		}()
		result, err := runner.Run(ctx, params)
		ch <- outcome{result: result, err: err}
	}()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
