package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BookingSync/dionysus-go/internal/repository"
)

// BackfillEnqueuer matches the producer-side genesis entry point; declared
// here so the server does not pull the producer package in.
type BackfillEnqueuer interface {
	EnqueueGenesis(ctx context.Context, modelName, topic string, ids []string) error
}

// Server exposes the operational surface: metrics, health, the publish audit
// report, and manual genesis triggering.
type Server struct {
	echo    *echo.Echo
	archive repository.ArchiveRepository
	genesis BackfillEnqueuer
}

func NewServer(archive repository.ArchiveRepository, genesis BackfillEnqueuer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, archive: archive, genesis: genesis}

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", s.healthz)
	e.GET("/v1/reports/published", s.publishedReport)
	e.POST("/v1/genesis", s.triggerGenesis)

	return s
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) publishedReport(c echo.Context) error {
	topic := c.QueryParam("topic")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	rows, err := s.archive.List(c.Request().Context(), topic, limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"published_events": rows})
}

type genesisRequest struct {
	Model string   `json:"model"`
	Topic string   `json:"topic"`
	IDs   []string `json:"ids"`
}

// triggerGenesis enqueues a backfill. Registration problems (model not a
// publisher on the topic) come back as 422 so callers can tell a bad request
// from infrastructure trouble.
func (s *Server) triggerGenesis(c echo.Context) error {
	if s.genesis == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "genesis is not configured on this deployment"})
	}
	var req genesisRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid body"})
	}
	if req.Model == "" || req.Topic == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "model and topic are required"})
	}

	if err := s.genesis.EnqueueGenesis(c.Request().Context(), req.Model, req.Topic, req.IDs); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "enqueued"})
}
