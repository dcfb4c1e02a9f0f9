package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/aistory/aistory-web/internal/clients/engine"
	"github.com/aistory/aistory-web/internal/db"
	"github.com/aistory/aistory-web/internal/handlers"
	"github.com/aistory/aistory-web/internal/middleware"
	"github.com/aistory/aistory-web/internal/platform/logger"
	"github.com/aistory/aistory-web/internal/realtime"
	"github.com/aistory/aistory-web/internal/realtime/bus"
	"github.com/aistory/aistory-web/internal/repos"
	"github.com/aistory/aistory-web/internal/server"
	"github.com/aistory/aistory-web/internal/services"
)

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Router *gin.Engine
	Cfg    Config
	Hub    *realtime.Hub
	Bus    bus.Bus

	JobRepo    repos.JobRepo
	JobService services.JobService

	cancel context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig()

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	hub := realtime.NewHub(log)

	var theBus bus.Bus
	if cfg.RedisAddr != "" {
		theBus, err = bus.NewRedisBus(log, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("init redis bus: %w", err)
		}
	} else {
		// single-replica deployments can run without redis; push then only
		// carries the gateway's own mutations
		log.Warn("REDIS_ADDR not set; engine-side push updates will not be forwarded")
	}

	jobRepo := repos.NewJobRepo(theDB, log)
	engineClient := engine.NewClient(cfg.EngineURL, log)
	notifier := services.NewJobNotifier(theBus, log)
	jobService := services.NewJobService(theDB, log, jobRepo, engineClient, notifier)

	authMW := middleware.NewAuthMiddleware(log, cfg.JWTSecretKey)
	router := server.NewRouter(server.RouterConfig{
		JobsHandler:    handlers.NewJobsHandler(log, jobService, cfg.AllowAnonRead),
		SSEHandler:     handlers.NewSSEHandler(log, hub),
		AuthMiddleware: authMW,
		AllowOrigins:   cfg.AllowOrigins,
	})

	return &App{
		Log:        log,
		DB:         theDB,
		Router:     router,
		Cfg:        cfg,
		Hub:        hub,
		Bus:        theBus,
		JobRepo:    jobRepo,
		JobService: jobService,
	}, nil
}

// Start launches the bus forwarder feeding the SSE hub.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Bus != nil {
		if err := a.Bus.StartForwarder(ctx, func(m realtime.Message) {
			a.Hub.Broadcast(m)
		}); err != nil {
			return fmt.Errorf("start bus forwarder: %w", err)
		}
	}
	return nil
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
