package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/aistory/aistory-web/internal/handlers"
	"github.com/aistory/aistory-web/internal/middleware"
)

type RouterConfig struct {
	JobsHandler    *handlers.JobsHandler
	SSEHandler     *handlers.SSEHandler
	AuthMiddleware *middleware.AuthMiddleware
	AllowOrigins   []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// list and create allow anonymous callers in some deployments;
		// the handler enforces the stricter variant itself
		api.GET("/jobs", cfg.AuthMiddleware.OptionalAuth(), cfg.JobsHandler.List)
		api.POST("/jobs", cfg.AuthMiddleware.OptionalAuth(), cfg.JobsHandler.Create)

		api.GET("/jobs/:id", cfg.AuthMiddleware.RequireAuth(), cfg.JobsHandler.Get)
		api.DELETE("/jobs/:id", cfg.AuthMiddleware.RequireAuth(), cfg.JobsHandler.Delete)
	}

	router.GET("/sse/stream", cfg.AuthMiddleware.OptionalAuth(), cfg.SSEHandler.Stream)

	return router
}
