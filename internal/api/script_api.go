package api

import (
	"net/http"

	scriptdef "github.com/datafetch/scheduler/internal/biz/script"
	"github.com/datafetch/scheduler/internal/script"
	"github.com/gin-gonic/gin"
	"github.com/samber/mo"
	"github.com/spf13/cast"
)

// ScriptAPI 脚本目录维护。脚本本体在进程内注册，这里只管元数据。
type ScriptAPI struct {
	scriptRepo scriptdef.Repo
	registry   *script.Registry
}

func NewScriptAPI(scriptRepo scriptdef.Repo, registry *script.Registry) *ScriptAPI {
	return &ScriptAPI{scriptRepo: scriptRepo, registry: registry}
}

func (a *ScriptAPI) BindAll(r *gin.Engine) {
	g := r.Group("/api/v1")
	g.GET("/scripts", a.List)
	g.POST("/scripts", a.Create)
	g.GET("/scripts/:script_id", a.Get)
	g.DELETE("/scripts/:script_id", a.Delete)
}

func (a *ScriptAPI) List(c *gin.Context) {
	filter := &scriptdef.ScriptFilter{}
	if v, ok := c.GetQuery("category"); ok {
		filter.Category = mo.Some(v)
	}
	if v, ok := c.GetQuery("is_active"); ok {
		filter.IsActive = mo.Some(cast.ToBool(v))
	}

	scripts, err := a.scriptRepo.List(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}

	out := make([]gin.H, len(scripts))
	for i, s := range scripts {
		resp := toScriptResp(s)
		_, registered := a.registry.Get(s.ScriptID)
		out[i] = gin.H{
			"script":     resp,
			"registered": registered,
		}
	}
	c.JSON(http.StatusOK, out)
}

func (a *ScriptAPI) Get(c *gin.Context) {
	s, err := a.scriptRepo.GetByScriptID(c.Request.Context(), c.Param("script_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "script not found"})
		return
	}
	c.JSON(http.StatusOK, toScriptResp(s))
}

type CreateScriptReq struct {
	ScriptID    string `json:"script_id" binding:"required"`
	ScriptName  string `json:"script_name" binding:"required"`
	Category    string `json:"category"`
	Description string `json:"description"`
	TargetTable string `json:"target_table"`
	IsActive    *bool  `json:"is_active"`
}

func (a *ScriptAPI) Create(c *gin.Context) {
	var req CreateScriptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s := &scriptdef.DataScript{
		ScriptID:    req.ScriptID,
		ScriptName:  req.ScriptName,
		Category:    req.Category,
		Description: req.Description,
		TargetTable: req.TargetTable,
		IsActive:    true,
	}
	if req.IsActive != nil {
		s.IsActive = *req.IsActive
	}

	if err := a.scriptRepo.Create(c.Request.Context(), s); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, toScriptResp(s))
}

func (a *ScriptAPI) Delete(c *gin.Context) {
	if err := a.scriptRepo.Delete(c.Request.Context(), c.Param("script_id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "script deleted successfully"})
}
