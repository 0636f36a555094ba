// Package api exposes a read-only HTTP view of the running engine.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trading-engine/internal/engine"
	"trading-engine/internal/monitor"
	"trading-engine/pkg/db"
)

// Server wires HTTP endpoints around the engine's Service view. All
// endpoints are read-only except /api/system/shutdown.
type Server struct {
	Router  *gin.Engine
	Engine  engine.Service
	Queries *db.Queries
	Metrics *monitor.SystemMetrics
	Log     *zap.Logger

	shutdown func(reason string)
}

func NewServer(svc engine.Service, queries *db.Queries, metrics *monitor.SystemMetrics, shutdown func(string), log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware(log))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:   r,
		Engine:   svc,
		Queries:  queries,
		Metrics:  metrics,
		Log:      log,
		shutdown: shutdown,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)
		api.POST("/system/shutdown", s.postShutdown)

		api.GET("/positions", s.getPositions)
		api.GET("/orders", s.getOpenOrders)
		api.GET("/orders/archived", s.getArchivedOrders)
		api.GET("/orders/archived/:id", s.getArchivedOrder)
		api.GET("/anomalies", s.getAnomalies)
		api.GET("/snapshot", s.getSnapshot)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
