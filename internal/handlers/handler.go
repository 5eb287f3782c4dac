package handlers

import (
	"time"

	"cadence_scheduler/internal/logger"
	"cadence_scheduler/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
	now      func() time.Time
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: log, now: time.Now}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", h.health)

	h.registerAuthRoutes(router)
	h.registerAPIRoutes(router)

	// Tick event stream (HTTP upgrade) on the same port
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.userIdMiddleware)
	{
		h.registerCadenceRoutes(api)
		h.registerInstrumentRoutes(api)
		h.registerTargetRoutes(api)
		h.registerLogRoutes(api)
	}
}

func (h *Handler) registerCadenceRoutes(api *gin.RouterGroup) {
	cadences := api.Group("/cadences")
	{
		cadences.GET("", h.listCadences)
		cadences.POST("", h.createCadence)
		// Body example: {"target_id":9,"cadence_frequency":24}
		cadences.POST("/imagers", h.initializeImagerCadences)
		cadences.GET("/:id", h.getCadence)
		cadences.PATCH("/:id", h.updateCadence)
		cadences.POST("/:id/run", h.runCadence)
		cadences.GET("/:id/observations", h.listObservations)
	}
}

func (h *Handler) registerInstrumentRoutes(api *gin.RouterGroup) {
	instruments := api.Group("/instruments")
	{
		instruments.GET("", h.listInstruments)
		instruments.POST("/sync", h.syncInstruments)
		instruments.GET("/:code/status", h.instrumentStatus)
	}
}

func (h *Handler) registerTargetRoutes(api *gin.RouterGroup) {
	targets := api.Group("/targets")
	{
		targets.GET("", h.listTargets)
		targets.POST("", h.createTarget)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("", h.getLogs)
	}
}
