package api

import (
	"net/http"

	"github.com/datafetch/scheduler/internal/biz/execution"
	"github.com/datafetch/scheduler/internal/biz/task"
	"github.com/datafetch/scheduler/internal/engine"
	"github.com/datafetch/scheduler/internal/trigger"
	"github.com/gin-gonic/gin"
	"github.com/samber/mo"
	"github.com/spf13/cast"
)

// TaskAPI 任务定义的增删改查与运行时操作
type TaskAPI struct {
	taskRepo task.Repo
	engine   *engine.Engine
}

func NewTaskAPI(taskRepo task.Repo, eng *engine.Engine) *TaskAPI {
	return &TaskAPI{taskRepo: taskRepo, engine: eng}
}

func (a *TaskAPI) BindAll(r *gin.Engine) {
	g := r.Group("/api/v1")
	g.GET("/tasks", a.List)
	g.POST("/tasks", a.Create)
	g.GET("/tasks/:id", a.Get)
	g.PUT("/tasks/:id", a.Update)
	g.DELETE("/tasks/:id", a.Delete)
	g.POST("/tasks/:id/trigger", a.Trigger)
	g.POST("/tasks/:id/cancel", a.Cancel)
	g.POST("/tasks/:id/pause", a.Pause)
	g.POST("/tasks/:id/resume", a.Resume)
	g.GET("/tasks/:id/status", a.Status)
	g.GET("/scheduler/jobs", a.Jobs)
}

func (a *TaskAPI) List(c *gin.Context) {
	filter := &task.TaskFilter{}
	if v, ok := c.GetQuery("is_active"); ok {
		filter.IsActive = mo.Some(cast.ToBool(v))
	}
	if v, ok := c.GetQuery("script_id"); ok {
		filter.ScriptID = mo.Some(v)
	}

	tasks, err := a.taskRepo.List(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toTaskResps(tasks))
}

func (a *TaskAPI) Get(c *gin.Context) {
	t, err := a.taskRepo.GetByID(c.Request.Context(), cast.ToUint64(c.Param("id")))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toTaskResp(t))
}

type CreateTaskReq struct {
	Name               string         `json:"name" binding:"required"`
	Description        string         `json:"description"`
	UserID             uint64         `json:"user_id"`
	ScriptID           string         `json:"script_id" binding:"required"`
	ScheduleType       string         `json:"schedule_type" binding:"required"`
	ScheduleExpression string         `json:"schedule_expression"`
	Parameters         map[string]any `json:"parameters"`
	IsActive           *bool          `json:"is_active"`
	RetryOnFailure     bool           `json:"retry_on_failure"`
	MaxRetries         int            `json:"max_retries"`
	TimeoutSeconds     int            `json:"timeout_seconds"`
}

func (a *TaskAPI) Create(c *gin.Context) {
	var req CreateTaskReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 表达式先验证再落库
	if _, err := trigger.Translate(task.ScheduleType(req.ScheduleType), req.ScheduleExpression); err != nil {
		_ = c.Error(err)
		return
	}

	t := &task.ScheduledTask{
		Name:               req.Name,
		Description:        req.Description,
		UserID:             req.UserID,
		ScriptID:           req.ScriptID,
		ScheduleType:       task.ScheduleType(req.ScheduleType),
		ScheduleExpression: req.ScheduleExpression,
		Parameters:         req.Parameters,
		IsActive:           true,
		RetryOnFailure:     req.RetryOnFailure,
		MaxRetries:         req.MaxRetries,
		TimeoutSeconds:     req.TimeoutSeconds,
	}
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}
	if t.RetryOnFailure && t.MaxRetries <= 0 {
		t.MaxRetries = 3
	}

	if err := a.taskRepo.Create(c.Request.Context(), t); err != nil {
		_ = c.Error(err)
		return
	}

	if t.IsActive {
		if err := a.engine.AddTask(t); err != nil {
			_ = c.Error(err)
			return
		}
	}
	c.JSON(http.StatusCreated, toTaskResp(t))
}

type UpdateTaskReq struct {
	Name               *string         `json:"name"`
	Description        *string         `json:"description"`
	ScheduleType       *string         `json:"schedule_type"`
	ScheduleExpression *string         `json:"schedule_expression"`
	Parameters         *map[string]any `json:"parameters"`
	IsActive           *bool           `json:"is_active"`
	RetryOnFailure     *bool           `json:"retry_on_failure"`
	MaxRetries         *int            `json:"max_retries"`
	TimeoutSeconds     *int            `json:"timeout_seconds"`
}

func (a *TaskAPI) Update(c *gin.Context) {
	id := cast.ToUint64(c.Param("id"))

	var req UpdateTaskReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	current, err := a.taskRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	// 调度相关字段变更时先验证组合后的表达式
	scheduleType := current.ScheduleType
	if req.ScheduleType != nil {
		scheduleType = task.ScheduleType(*req.ScheduleType)
	}
	scheduleExpr := current.ScheduleExpression
	if req.ScheduleExpression != nil {
		scheduleExpr = *req.ScheduleExpression
	}
	if _, err := trigger.Translate(scheduleType, scheduleExpr); err != nil {
		_ = c.Error(err)
		return
	}

	patch := &task.TaskPatch{
		Name:               req.Name,
		Description:        req.Description,
		ScheduleExpression: req.ScheduleExpression,
		Parameters:         req.Parameters,
		IsActive:           req.IsActive,
		RetryOnFailure:     req.RetryOnFailure,
		MaxRetries:         req.MaxRetries,
		TimeoutSeconds:     req.TimeoutSeconds,
	}
	if req.ScheduleType != nil {
		st := task.ScheduleType(*req.ScheduleType)
		patch.ScheduleType = &st
	}

	if err := a.taskRepo.Update(c.Request.Context(), id, patch); err != nil {
		_ = c.Error(err)
		return
	}

	updated, err := a.taskRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := a.engine.UpdateTask(updated); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toTaskResp(updated))
}

func (a *TaskAPI) Delete(c *gin.Context) {
	id := cast.ToUint64(c.Param("id"))

	if _, err := a.taskRepo.GetByID(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}

	a.engine.RemoveTask(id)
	if err := a.taskRepo.Delete(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "task deleted successfully"})
}

type TriggerTaskReq struct {
	Parameters map[string]any `json:"parameters"`
	OperatorID *uint64        `json:"operator_id"`
}

func (a *TaskAPI) Trigger(c *gin.Context) {
	var req TriggerTaskReq
	// body可省略
	_ = c.ShouldBindJSON(&req)

	executionID, err := a.engine.TriggerTask(c.Request.Context(),
		cast.ToUint64(c.Param("id")), req.Parameters, execution.TriggeredByAPI, req.OperatorID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"execution_id": executionID,
		"message":      "task triggered",
	})
}

func (a *TaskAPI) Cancel(c *gin.Context) {
	cancelled, err := a.engine.CancelTask(c.Request.Context(), cast.ToUint64(c.Param("id")))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !cancelled {
		c.JSON(http.StatusNotFound, gin.H{"error": "no running execution for task"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "execution cancelled"})
}

func (a *TaskAPI) Pause(c *gin.Context) {
	if !a.engine.PauseTask(cast.ToUint64(c.Param("id"))) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task is not scheduled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "task paused"})
}

func (a *TaskAPI) Resume(c *gin.Context) {
	if !a.engine.ResumeTask(cast.ToUint64(c.Param("id"))) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task is not scheduled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "task resumed"})
}

func (a *TaskAPI) Status(c *gin.Context) {
	id := cast.ToUint64(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{
		"task_id": id,
		"running": a.engine.IsRunning(id),
	})
}

func (a *TaskAPI) Jobs(c *gin.Context) {
	c.JSON(http.StatusOK, a.engine.ListJobs())
}
