// Package monitor is the pipeline's observability surface: liveness,
// prometheus metrics, the run ledger, and a websocket feed of stage
// lifecycle events.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"radiopipe/internal/ledger"
)

// Config wires the server's collaborators. Ledger may be nil, in which case
// /runs serves 503.
type Config struct {
	Ledger   ledger.Store
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
}

// Server serves the monitor endpoints. The embedded Hub is the event sink to
// hand to the executor.
type Server struct {
	hub      *Hub
	echo     *echo.Echo
	ledger   ledger.Store
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		hub:    NewHub(),
		echo:   echo.New(),
		ledger: cfg.Ledger,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.echo.GET("/healthz", s.healthz)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	s.echo.GET("/runs", s.runs)
	s.echo.GET("/runs/:id/stages", s.stages)
	s.echo.GET("/events", s.events)
	return s
}

// Hub returns the event sink served over /events.
func (s *Server) Hub() *Hub { return s.hub }

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start blocks serving on addr until Shutdown.
func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.hub.Subscribers(),
	})
}

func (s *Server) runs(c echo.Context) error {
	if s.ledger == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "ledger not configured"})
	}
	runs, err := s.ledger.Runs(c.Request().Context())
	if err != nil {
		s.log.Error("list runs", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "ledger unavailable"})
	}
	if runs == nil {
		runs = []ledger.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) stages(c echo.Context) error {
	if s.ledger == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "ledger not configured"})
	}
	rows, err := s.ledger.Stages(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ledger.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown run"})
	}
	if err != nil {
		s.log.Error("list stages", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "ledger unavailable"})
	}
	if rows == nil {
		rows = []ledger.StageRow{}
	}
	return c.JSON(http.StatusOK, rows)
}

// events upgrades to a websocket and streams hub events as JSON until the
// client goes away or stops keeping up with its write deadlines.
func (s *Server) events(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	sub := s.hub.subscribe()
	defer func() {
		s.hub.unsubscribe(sub)
		conn.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return nil
		case ev := <-sub.ch:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return nil
			}
		}
	}
}
