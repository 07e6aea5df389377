package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"photogallery/internal/auth"
	"photogallery/internal/gallery"
	"photogallery/internal/metrics"
	"photogallery/internal/models"
	"photogallery/internal/objectstore"
	"photogallery/internal/proxy"
	"photogallery/internal/publisher"
	"photogallery/internal/upload"
)

const maxUploadBytes = 50 << 20

// Deps are the core components the HTTP layer exposes. Local is set only
// when the filesystem storage backend is in use.
type Deps struct {
	Uploads *upload.Orchestrator
	Gallery *gallery.Service
	Proxy   *proxy.Proxy
	Hub     *publisher.Hub
	Local   *objectstore.Local
}

type Server struct {
	cfg    *models.Config
	router *gin.Engine
	http   *http.Server
	deps   Deps
	log    zerolog.Logger
}

func NewServer(cfg *models.Config, deps Deps, log zerolog.Logger) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	s := &Server{
		cfg:    cfg,
		router: r,
		deps:   deps,
		log:    log.With().Str("component", "http").Logger(),
	}
	r.Use(gin.Recovery(), s.observe(), auth.Middleware([]byte(cfg.JWTSecret)))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET(proxy.RoutePrefix+"*path", s.handleMedia)
	r.GET("/ws/topics/:topic", s.handleSubscribe)
	if deps.Local != nil {
		r.PUT(objectstore.LocalUploadRoute, s.handleLocalUpload)
	}

	api := r.Group("/", auth.RequireUser())
	api.POST("/upload/authorize", s.handleAuthorize)
	api.POST("/upload/confirm", s.handleConfirm)
	api.GET("/images/:id", s.handleGetImage)
	api.DELETE("/images/:id", s.handleDeleteImage)
	api.POST("/images/:id/rotate", s.handleRotate)
	api.POST("/galleries/:id/publish", s.handlePublish)
	api.POST("/galleries/:id/archive", s.handleArchive)
	api.POST("/galleries/:id/cover", s.handleSetCover)

	s.http = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.ServerAddr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// observe logs each request and records its metrics under the route pattern.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.RecordRequest(c.Request.Method, route, strconv.Itoa(status), elapsed.Seconds())

		ev := s.log.Debug()
		if status >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Str("method", c.Request.Method).Str("route", route).Int("status", status).
			Dur("elapsed", elapsed).Msg("request")
	}
}

// statusFor maps a core error to the HTTP status it is surfaced with.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, models.ErrConfiguration), errors.Is(err, models.ErrTransientIO):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrStorageAuth):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("op", op).Msg("request failed")
		c.AbortWithStatusJSON(status, gin.H{"error": http.StatusText(status)})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
