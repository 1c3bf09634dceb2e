package api

import (
	"net/http"
	"time"

	"github.com/datafetch/scheduler/internal/api/middleware"
	scriptdef "github.com/datafetch/scheduler/internal/biz/script"
	"github.com/datafetch/scheduler/internal/biz/task"
	"github.com/datafetch/scheduler/internal/engine"
	"github.com/datafetch/scheduler/internal/hub"
	"github.com/datafetch/scheduler/internal/ledger"
	"github.com/datafetch/scheduler/internal/orm"
	"github.com/datafetch/scheduler/internal/retry"
	"github.com/datafetch/scheduler/internal/script"
	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"go.uber.org/zap"
)

var Provider = wire.NewSet(
	NewTaskAPI,
	NewExecutionAPI,
	NewScriptAPI,
	NewServer,
)

type Server struct {
	router  *gin.Engine
	storage *orm.Storage
}

func NewServer(
	storage *orm.Storage,
	eng *engine.Engine,
	ldg *ledger.Ledger,
	taskRepo task.Repo,
	scriptRepo scriptdef.Repo,
	registry *script.Registry,
	retries *retry.Controller,
	h *hub.Hub,
	logger *zap.Logger,
) *Server {
	s := &Server{storage: storage}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.ErrorHandlingMiddleware(logger))
	s.router.Use(middleware.Cors())

	NewTaskAPI(taskRepo, eng).BindAll(s.router)
	NewExecutionAPI(ldg, taskRepo, retries).BindAll(s.router)
	NewScriptAPI(scriptRepo, registry).BindAll(s.router)

	s.router.GET("/ws/executions", func(c *gin.Context) {
		h.ServeWS(c.Writer, c.Request)
	})
	s.router.GET("/api/v1/health", s.health)

	return s
}

func (s *Server) health(c *gin.Context) {
	if err := s.storage.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
