package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/pawsos/backend/internal/config"
	"github.com/pawsos/backend/internal/http/handlers"
	"github.com/pawsos/backend/internal/http/middleware"
	"github.com/pawsos/backend/internal/metrics"
	"github.com/pawsos/backend/internal/service"

	_ "github.com/pawsos/backend/docs"
)

// Router wires the HTTP surface. m may be nil, in which case no request metrics are
// recorded and /metrics is not served.
func Router(cfg config.Config, engine *service.Engine, store service.Store, m *metrics.Metrics, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	if m != nil {
		r.Use(middleware.Metrics(m))
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.AdminKeyHeader, middleware.RequestIDHeader, middleware.CallerIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" || cfg.CORSAllowed == "" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Engine:    engine,
		Store:     store,
		Validator: validator.New(),
		Logger:    logger,
	}

	r.GET("/healthz", h.Healthz)
	if m != nil {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey), middleware.Timeout(cfg.RequestTimeout))
	{
		admin.POST("/owners", h.RegisterOwner)
		admin.POST("/responders", h.RegisterResponder)
	}

	api.GET("/leaderboard", middleware.Timeout(cfg.RequestTimeout), h.Leaderboard)

	user := api.Group("")
	user.Use(middleware.CallerID(), middleware.Timeout(cfg.RequestTimeout))
	{
		user.GET("/me", h.Me)
		user.PUT("/me/push-token", h.RegisterPushToken)

		user.POST("/cases", h.CreateCase)
		user.GET("/cases/:id", h.GetCase)
		user.POST("/cases/:id/accept", h.Accept)
		user.POST("/cases/:id/on-way", h.MarkOnWay)
		user.POST("/cases/:id/take-over", h.TakeOver)
		user.PUT("/cases/:id/instructions", h.UpdateInstructions)
		user.POST("/cases/:id/escalate", h.Escalate)
		user.POST("/cases/:id/resolve", h.Resolve)
		user.PUT("/cases/:id/location", h.UpdateLocation)

		user.POST("/cases/:id/archive", h.ArchiveToggle)
		user.POST("/cases/:id/delete", h.SoftDelete)
		user.POST("/cases/:id/restore", h.Restore)
		user.DELETE("/cases/:id", h.PermanentDelete)
		user.DELETE("/trash", h.EmptyTrash)

		user.GET("/feed", h.ResponderFeed)
		user.GET("/feed/escalated", h.EscalatedFeed)
		user.GET("/my/cases", h.OwnerActiveCases)
		user.GET("/history", h.History)
	}

	streams := api.Group("")
	streams.Use(middleware.CallerID())
	{
		streams.GET("/cases/:id/stream", h.CaseStream)
		streams.GET("/feed/stream", h.FeedStream)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
