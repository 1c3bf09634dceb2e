package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/datafetch/scheduler/internal/biz/execution"
	"github.com/datafetch/scheduler/internal/biz/task"
	"github.com/datafetch/scheduler/internal/engine"
	"github.com/datafetch/scheduler/internal/hub"
	"github.com/datafetch/scheduler/internal/infra/persistence/executionrepo"
	"github.com/datafetch/scheduler/internal/infra/persistence/scriptrepo"
	"github.com/datafetch/scheduler/internal/infra/persistence/taskrepo"
	"github.com/datafetch/scheduler/internal/jobs"
	"github.com/datafetch/scheduler/internal/ledger"
	"github.com/datafetch/scheduler/internal/orm"
	"github.com/datafetch/scheduler/internal/retry"
	"github.com/datafetch/scheduler/internal/script"
	"github.com/datafetch/scheduler/pkg/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiRig struct {
	server   *Server
	taskRepo task.Repo
	ledger   *ledger.Ledger
	registry *script.Registry
}

func newAPIRig(t *testing.T) *apiRig {
	st, err := orm.NewWithDialector(sqlite.Open("file:" + t.Name() + "?mode=memory&cache=shared"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	log := zap.NewNop()
	taskRepo := taskrepo.NewMysqlRepositoryImpl(st.DB())
	scriptRepo := scriptrepo.NewMysqlRepositoryImpl(st.DB())
	execRepo := executionrepo.NewMysqlRepositoryImpl(st.DB())
	ldg := ledger.New(execRepo, log)

	registry := script.NewRegistry()
	registry.Register("fetch_sales", script.RunnerFunc(func(ctx context.Context, params map[string]any) (*script.Result, error) {
		return &script.Result{Success: true, Data: map[string]any{"rows": float64(5)}}, nil
	}))

	h := hub.New(config.Default().Hub, nil, nil, log)
	t.Cleanup(h.Shutdown)

	sched := jobs.New(config.Default().Scheduler, log)
	executor := script.NewExecutor(registry, log)
	eng := engine.New(config.Default().Engine, taskRepo, scriptRepo, ldg, sched,
		executor, nil, h, log)
	t.Cleanup(eng.Shutdown)

	retryCtrl := retry.NewController(ldg, executor, log)
	t.Cleanup(retryCtrl.Shutdown)

	server := NewServer(st, eng, ldg, taskRepo, scriptRepo, registry, retryCtrl, h, log)
	return &apiRig{server: server, taskRepo: taskRepo, ledger: ldg, registry: registry}
}

func (r *apiRig) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.server.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreateGetListTask(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.do(t, http.MethodPost, "/api/v1/tasks", gin.H{
		"name":                "nightly fetch",
		"script_id":           "fetch_sales",
		"schedule_type":       "daily",
		"schedule_expression": "03:00",
		"parameters":          gin.H{"region": "east"},
		"retry_on_failure":    true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[TaskResp](t, w)
	assert.NotZero(t, created.ID)
	assert.True(t, created.IsActive)
	// 开重试但未给次数时取默认值
	assert.Equal(t, 3, created.MaxRetries)

	w = rig.do(t, http.MethodGet, "/api/v1/tasks/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[TaskResp](t, w)
	assert.Equal(t, "nightly fetch", got.Name)
	assert.Equal(t, "east", got.Parameters["region"])

	w = rig.do(t, http.MethodGet, "/api/v1/tasks?is_active=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]TaskResp](t, w), 1)

	// 任务已挂进调度器
	w = rig.do(t, http.MethodGet, "/api/v1/scheduler/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "nightly fetch")
}

func TestCreateTaskInvalidSchedule(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.do(t, http.MethodPost, "/api/v1/tasks", gin.H{
		"name":                "broken",
		"script_id":           "fetch_sales",
		"schedule_type":       "interval",
		"schedule_expression": "every tuesday",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_SCHEDULE")
}

func TestGetTaskNotFound(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, http.MethodGet, "/api/v1/tasks/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerTaskAndQueryExecutions(t *testing.T) {
	rig := newAPIRig(t)
	ctx := context.Background()

	tk := &task.ScheduledTask{
		Name:               "fetcher",
		ScriptID:           "fetch_sales",
		ScheduleType:       task.ScheduleTypeDaily,
		ScheduleExpression: "03:00",
		IsActive:           true,
	}
	require.NoError(t, rig.taskRepo.Create(ctx, tk))

	w := rig.do(t, http.MethodPost, "/api/v1/tasks/1/trigger", gin.H{
		"parameters": gin.H{"force": true},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[map[string]any](t, w)
	assert.Contains(t, resp["execution_id"], "exec_")

	require.Eventually(t, func() bool {
		w := rig.do(t, http.MethodGet, "/api/v1/executions?task_id=1&status=completed", nil)
		if w.Code != http.StatusOK {
			return false
		}
		return decode[map[string]any](t, w)["total"] == float64(1)
	}, 3*time.Second, 20*time.Millisecond)

	w = rig.do(t, http.MethodGet, "/api/v1/executions/recent", nil)
	require.Equal(t, http.StatusOK, w.Code)
	recent := decode[[]ExecutionResp](t, w)
	require.Len(t, recent, 1)
	assert.Equal(t, "completed", recent[0].Status)
	assert.Equal(t, true, recent[0].Params["force"])

	w = rig.do(t, http.MethodGet, "/api/v1/executions/"+recent[0].ExecutionID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodGet, "/api/v1/executions/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[execution.Stats](t, w)
	assert.Equal(t, int64(1), stats.TotalCount)
	assert.Equal(t, int64(1), stats.SuccessCount)
}

func TestTriggerUnknownTask(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, http.MethodPost, "/api/v1/tasks/42/trigger", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelWithoutRunningExecution(t *testing.T) {
	rig := newAPIRig(t)

	tk := &task.ScheduledTask{
		Name: "idle", ScriptID: "fetch_sales",
		ScheduleType: task.ScheduleTypeDaily, ScheduleExpression: "03:00",
		IsActive: true,
	}
	require.NoError(t, rig.taskRepo.Create(context.Background(), tk))

	w := rig.do(t, http.MethodPost, "/api/v1/tasks/1/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPauseResumeEndpoints(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.do(t, http.MethodPost, "/api/v1/tasks", gin.H{
		"name":                "pausable",
		"script_id":           "fetch_sales",
		"schedule_type":       "daily",
		"schedule_expression": "03:00",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t, http.StatusOK, rig.do(t, http.MethodPost, "/api/v1/tasks/1/pause", nil).Code)
	assert.Equal(t, http.StatusOK, rig.do(t, http.MethodPost, "/api/v1/tasks/1/resume", nil).Code)
	assert.Equal(t, http.StatusNotFound, rig.do(t, http.MethodPost, "/api/v1/tasks/99/pause", nil).Code)
}

func TestUpdateTaskReschedule(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.do(t, http.MethodPost, "/api/v1/tasks", gin.H{
		"name":                "editable",
		"script_id":           "fetch_sales",
		"schedule_type":       "daily",
		"schedule_expression": "03:00",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = rig.do(t, http.MethodPut, "/api/v1/tasks/1", gin.H{
		"schedule_type":       "interval",
		"schedule_expression": "15m",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[TaskResp](t, w)
	assert.Equal(t, "interval", updated.ScheduleType)
	assert.Equal(t, "15m", updated.ScheduleExpression)

	// 非法表达式被拒，原任务不变
	w = rig.do(t, http.MethodPut, "/api/v1/tasks/1", gin.H{
		"schedule_expression": "nope",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScriptCatalogue(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.do(t, http.MethodPost, "/api/v1/scripts", gin.H{
		"script_id":    "fetch_sales",
		"script_name":  "每日销售抓取",
		"category":     "sales",
		"target_table": "daily_sales",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = rig.do(t, http.MethodGet, "/api/v1/scripts/fetch_sales", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[ScriptResp](t, w)
	assert.Equal(t, "daily_sales", got.TargetTable)

	// fetch_sales已在进程内注册
	w = rig.do(t, http.MethodGet, "/api/v1/scripts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"registered":true`)

	assert.Equal(t, http.StatusOK, rig.do(t, http.MethodDelete, "/api/v1/scripts/fetch_sales", nil).Code)
	assert.Equal(t, http.StatusNotFound, rig.do(t, http.MethodGet, "/api/v1/scripts/fetch_sales", nil).Code)
}

func TestRetryFailedExecution(t *testing.T) {
	rig := newAPIRig(t)
	ctx := context.Background()

	tk := &task.ScheduledTask{
		Name: "fetcher", ScriptID: "fetch_sales",
		ScheduleType: task.ScheduleTypeDaily, ScheduleExpression: "03:00",
		IsActive: true, RetryOnFailure: true, MaxRetries: 3,
	}
	require.NoError(t, rig.taskRepo.Create(ctx, tk))

	rec, err := rig.ledger.CreateExecution(ctx, tk.ID, "fetch_sales", nil, execution.TriggeredByScheduler, nil)
	require.NoError(t, err)
	_, err = rig.ledger.UpdateExecution(ctx, rec.ExecutionID, execution.NewPatch().
		WithStatus(execution.ExecutionStatusFailed).
		WithErrorMessage("connection reset"))
	require.NoError(t, err)

	w := rig.do(t, http.MethodPost, "/api/v1/executions/"+rec.ExecutionID+"/retry", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	// 重放落一条新的completed记录，原记录保持failed
	require.Eventually(t, func() bool {
		w := rig.do(t, http.MethodGet, "/api/v1/executions?status=completed", nil)
		return w.Code == http.StatusOK && decode[map[string]any](t, w)["total"] == float64(1)
	}, 3*time.Second, 20*time.Millisecond)

	w = rig.do(t, http.MethodGet, "/api/v1/executions/"+rec.ExecutionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "failed", decode[ExecutionResp](t, w).Status)

	// 非失败记录不可重放
	pending, err := rig.ledger.CreateExecution(ctx, tk.ID, "fetch_sales", nil, execution.TriggeredByScheduler, nil)
	require.NoError(t, err)
	w = rig.do(t, http.MethodPost, "/api/v1/executions/"+pending.ExecutionID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = rig.do(t, http.MethodPost, "/api/v1/executions/exec_unknown/retry", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBulkDeleteExecutions(t *testing.T) {
	rig := newAPIRig(t)
	ctx := context.Background()

	a, err := rig.ledger.CreateExecution(ctx, 1, "fetch_sales", nil, execution.TriggeredByAPI, nil)
	require.NoError(t, err)
	_, err = rig.ledger.CreateExecution(ctx, 1, "fetch_sales", nil, execution.TriggeredByAPI, nil)
	require.NoError(t, err)

	w := rig.do(t, http.MethodDelete, "/api/v1/executions", gin.H{
		"execution_ids": []string{a.ExecutionID},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, w)["deleted"])

	w = rig.do(t, http.MethodDelete, "/api/v1/executions", gin.H{"status": "pending"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, w)["deleted"])

	w = rig.do(t, http.MethodDelete, "/api/v1/executions", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
