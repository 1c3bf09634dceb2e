package api

import (
	"context"
	"net/http"
	"time"

	"github.com/datafetch/scheduler/internal/biz/execution"
	"github.com/datafetch/scheduler/internal/biz/task"
	"github.com/datafetch/scheduler/internal/ledger"
	"github.com/datafetch/scheduler/internal/retry"
	"github.com/gin-gonic/gin"
	"github.com/samber/mo"
	"github.com/spf13/cast"
)

// ExecutionAPI 执行台账的查询、清理与人工重放
type ExecutionAPI struct {
	ledger  *ledger.Ledger
	tasks   task.Repo
	retries *retry.Controller
}

func NewExecutionAPI(ldg *ledger.Ledger, tasks task.Repo, retries *retry.Controller) *ExecutionAPI {
	return &ExecutionAPI{ledger: ldg, tasks: tasks, retries: retries}
}

func (a *ExecutionAPI) BindAll(r *gin.Engine) {
	g := r.Group("/api/v1")
	g.GET("/executions", a.List)
	g.GET("/executions/stats", a.Stats)
	g.GET("/executions/recent", a.Recent)
	g.GET("/executions/running", a.Running)
	g.GET("/executions/failed", a.Failed)
	g.GET("/executions/:execution_id", a.Get)
	g.POST("/executions/:execution_id/retry", a.Retry)
	g.DELETE("/executions", a.BulkDelete)
}

func (a *ExecutionAPI) List(c *gin.Context) {
	filter := execution.ListFilter{}
	if v, ok := c.GetQuery("task_id"); ok {
		filter.TaskID = mo.Some(cast.ToUint64(v))
	}
	if v, ok := c.GetQuery("script_id"); ok {
		filter.ScriptID = mo.Some(v)
	}
	if v, ok := c.GetQuery("status"); ok {
		filter.Status = mo.Some(execution.ExecutionStatus(v))
	}
	if v, ok := c.GetQuery("start_date"); ok {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be RFC3339"})
			return
		}
		filter.StartDate = mo.Some(at)
	}
	if v, ok := c.GetQuery("end_date"); ok {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be RFC3339"})
			return
		}
		filter.EndDate = mo.Some(at)
	}

	page := cast.ToInt(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize := cast.ToInt(c.DefaultQuery("page_size", "20"))
	if pageSize < 1 || pageSize > 500 {
		pageSize = 20
	}

	recs, total, err := a.ledger.ListExecutions(c.Request.Context(), filter, (page-1)*pageSize, pageSize)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"items":     toExecutionResps(recs),
	})
}

func (a *ExecutionAPI) Get(c *gin.Context) {
	rec, err := a.ledger.GetExecution(c.Request.Context(), c.Param("execution_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	c.JSON(http.StatusOK, toExecutionResp(rec))
}

func (a *ExecutionAPI) Stats(c *gin.Context) {
	var start, end time.Time
	if v, ok := c.GetQuery("start"); ok {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start must be RFC3339"})
			return
		}
		start = at
	}
	if v, ok := c.GetQuery("end"); ok {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must be RFC3339"})
			return
		}
		end = at
	}

	stats, err := a.ledger.Stats(c.Request.Context(), start, end)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a *ExecutionAPI) Recent(c *gin.Context) {
	recs, err := a.ledger.RecentExecutions(c.Request.Context(), cast.ToInt(c.DefaultQuery("limit", "50")))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toExecutionResps(recs))
}

func (a *ExecutionAPI) Running(c *gin.Context) {
	recs, err := a.ledger.RunningExecutions(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toExecutionResps(recs))
}

func (a *ExecutionAPI) Failed(c *gin.Context) {
	recs, err := a.ledger.FailedExecutions(c.Request.Context(), cast.ToInt(c.DefaultQuery("limit", "20")))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toExecutionResps(recs))
}

// Retry 人工重放一条失败的执行。重放本身不受剩余次数限制，
// 但重放再失败后是否续上自动重试仍按任务策略走。
func (a *ExecutionAPI) Retry(c *gin.Context) {
	rec, err := a.ledger.GetExecution(c.Request.Context(), c.Param("execution_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	if rec.Status != execution.ExecutionStatusFailed && rec.Status != execution.ExecutionStatusTimeout {
		c.JSON(http.StatusConflict, gin.H{"error": "only failed executions can be retried"})
		return
	}

	tk, err := a.tasks.GetByID(c.Request.Context(), rec.TaskID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	go a.retries.ExecuteRetry(context.Background(), rec, retry.FromTask(tk), rec.RetryCount+1)

	c.JSON(http.StatusAccepted, gin.H{
		"message":      "Retry started",
		"execution_id": rec.ExecutionID,
	})
}

type BulkDeleteReq struct {
	ExecutionIDs []string `json:"execution_ids"`
	Status       string   `json:"status"`
}

// BulkDelete 按id集合或状态批量删除执行记录，二选一
func (a *ExecutionAPI) BulkDelete(c *gin.Context) {
	var req BulkDeleteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var deleted int64
	var err error
	switch {
	case len(req.ExecutionIDs) > 0:
		deleted, err = a.ledger.DeleteExecutions(c.Request.Context(), req.ExecutionIDs)
	case req.Status != "":
		deleted, err = a.ledger.DeleteExecutionsByStatus(c.Request.Context(), execution.ExecutionStatus(req.Status))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "execution_ids or status is required"})
		return
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
