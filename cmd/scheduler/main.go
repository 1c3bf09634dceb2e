package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datafetch/scheduler/internal/api"
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
	"github.com/datafetch/scheduler/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// 解析命令行参数
	var configPath string
	flag.StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 创建日志器
	zapLogger, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting data-fetch scheduler")

	// 创建存储
	db, err := orm.New(orm.Config{
		Host:                  cfg.Database.Host,
		Port:                  cfg.Database.Port,
		Database:              cfg.Database.Database,
		User:                  cfg.Database.User,
		Password:              cfg.Database.Password,
		MaxConnections:        cfg.Database.MaxConnections,
		MaxIdleConnections:    cfg.Database.MaxIdleConnections,
		ConnectionMaxLifetime: cfg.Database.ConnectionMaxLifetime,
	})
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// 创建repositories
	taskRepo := taskrepo.NewMysqlRepositoryImpl(db.DB())
	scriptRepo := scriptrepo.NewMysqlRepositoryImpl(db.DB())
	executionRepo := executionrepo.NewMysqlRepositoryImpl(db.DB())

	// 数据抓取脚本在这里注册。脚本目录（data_scripts表）只存元数据，
	// 本体必须在进程内有对应的Runner才会被执行。
	registry := script.NewRegistry()

	ldg := ledger.New(executionRepo, zapLogger)
	sched := jobs.New(cfg.Scheduler, zapLogger)
	executor := script.NewExecutor(registry, zapLogger)
	prober := script.NewTableProber(db.DB())
	retryCtrl := retry.NewController(ldg, executor, zapLogger)

	// 通知枢纽，redis未启用时不做事件镜像
	notifyHub := hub.New(cfg.Hub, nil, ProvideRedisClient(cfg), zapLogger)

	eng := engine.New(cfg.Engine, taskRepo, scriptRepo, ldg, sched,
		executor, prober, notifyHub, zapLogger)

	if err := eng.Start(context.Background()); err != nil {
		zapLogger.Fatal("Failed to start execution engine", zap.Error(err))
	}

	// 创建API服务器
	apiServer := api.NewServer(db, eng, ldg, taskRepo, scriptRepo, registry, retryCtrl, notifyHub, zapLogger)

	httpServer := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        apiServer.Router(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		zapLogger.Info("Starting API server", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	zapLogger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		zapLogger.Error("Failed to shutdown API server", zap.Error(err))
	}

	eng.Shutdown()
	retryCtrl.Shutdown()
	notifyHub.Shutdown()

	zapLogger.Info("Shutdown complete")
}
