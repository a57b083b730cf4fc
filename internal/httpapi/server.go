package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"mortality-alerts/internal/service"
	"mortality-alerts/internal/storage"
	"mortality-alerts/internal/warehouse"
)

const (
	errCodeBadRequest  = "BAD_REQUEST"
	errCodeNotFound    = "NOT_FOUND"
	errCodeUnavailable = "UNAVAILABLE"
	errCodeInternal    = "INTERNAL_ERROR"
	errCodeDelivery    = "DELIVERY_FAILED"
)

// Evaluator is the part of the service the API drives.
type Evaluator interface {
	Evaluate(ctx context.Context, req service.EvaluateRequest) (service.Evaluation, error)
	SendAlert(ctx context.Context, req service.SendRequest) (service.SendResult, error)
}

var _ Evaluator = (*service.Service)(nil)

// Server wires dashboard routes onto a gin engine.
type Server struct {
	engine  *gin.Engine
	store   storage.MonthlyStore
	bedDays warehouse.BedDaySource
	svc     Evaluator
	logger  zerolog.Logger
}

// NewServer builds the router. bedDays may be nil when no warehouse is
// configured; the bed-day route then answers 503.
func NewServer(store storage.MonthlyStore, bedDays warehouse.BedDaySource, svc Evaluator, logger zerolog.Logger) *Server {
	s := &Server{
		engine:  gin.New(),
		store:   store,
		bedDays: bedDays,
		svc:     svc,
		logger:  logger.With().Str("component", "httpapi").Logger(),
	}
	s.engine.Use(gin.Recovery(), s.ginLogger())
	s.routes()
	return s
}

// Handler exposes the engine for http.Server and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)

	api := s.engine.Group("/api")
	api.GET("/hospitals", s.handleHospitals)
	api.GET("/mortality-data", s.handleMortalityData)
	api.GET("/raw-data", s.handleRawData)
	api.GET("/pbd-data", s.handleBedDays)
	api.GET("/models", s.handleListModels)
	api.GET("/models/:id", s.handleEvaluateModel)
	api.POST("/models/:id/send", s.handleSendAlert)
}

func (s *Server) ginLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		status := c.Writer.Status()
		evt := s.logger.Info()
		if status >= http.StatusInternalServerError {
			evt = s.logger.Error()
		}
		evt.Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request served")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func fail(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg, "error_code": code})
}
