package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"chatsim/internal/api"
	"chatsim/internal/config"
	"chatsim/internal/metrics"
	"chatsim/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter assembles the daemon's HTTP surface: the websocket endpoint for
// sessions, the operator API, and the health and metrics endpoints.
func NewRouter(
	logger *zap.Logger,
	registry *ws.Registry,
	chats *api.ChatHandler,
	sessions *api.SessionHandler,
	brokerCtl *api.BrokerHandler,
	hubStatus *api.StatusHandler,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))
	r.Use(metrics.HTTPMiddleware())

	r.GET("/ws", func(c *gin.Context) {
		registry.HandleUpgrade(c.Writer, c.Request)
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ctl := r.Group("/api")
	{
		ctl.GET("/status", hubStatus.Status)
		ctl.GET("/sessions", sessions.List)
		ctl.POST("/sessions/:session_id/drop", sessions.Drop)
		ctl.POST("/broker/pause", brokerCtl.Pause)
		ctl.POST("/broker/resume", brokerCtl.Resume)
		ctl.POST("/broker/tick", brokerCtl.Tick)
		ctl.GET("/chats", chats.List)
		ctl.GET("/chats/:chat_id/messages", chats.Messages)
		ctl.GET("/chats/:chat_id/search", chats.Search)
	}
	return r
}

// requestLogger emits one debug line per request. The websocket upgrade is
// skipped since its "request" lives as long as the session.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.FullPath() == "/ws" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

// Server manages the HTTP server lifecycle for the hub daemon.
type Server struct {
	http   *http.Server
	logger *zap.Logger
}

// NewServer binds the router to the configured listen address. A non-empty
// Params.Listen overrides the config file.
func NewServer(p Params, cfg *config.Config, router *gin.Engine, logger *zap.Logger) *Server {
	listen := cfg.Server.Listen
	if p.Listen != "" {
		listen = p.Listen
	}
	return &Server{
		http: &http.Server{
			Addr:              listen,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}
