// Package ops serves the operational HTTP surface next to the lobby
// port: liveness, a state snapshot and Prometheus metrics.
package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/udisondev/uberlobby/internal/lobby"
)

// Snapshotter is the slice of the lobby engine the ops server reads.
type Snapshotter interface {
	Snapshot(ctx context.Context) (lobby.Status, error)
}

// Server is the ops HTTP endpoint.
type Server struct {
	addr  string
	lobby Snapshotter
	echo  *echo.Echo
}

// New registers the routes on a fresh echo instance.
func New(bindAddress string, port int, lobby Snapshotter) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		addr:  fmt.Sprintf("%s:%d", bindAddress, port),
		lobby: lobby,
		echo:  e,
	}
	e.GET("/healthz", s.handleHealthz)
	e.GET("/status", s.handleStatus)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return s
}

// healthResponse is the payload for GET /healthz.
type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// statusResponse is the payload for GET /status.
type statusResponse struct {
	Sessions int    `json:"sessions"`
	Users    int    `json:"users"`
	Channels int    `json:"channels"`
	Battles  int    `json:"battles"`
	Uptime   string `json:"uptime"`
	Version  string `json:"version"`
}

func (s *Server) snapshot(c echo.Context) (lobby.Status, error) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	return s.lobby.Snapshot(ctx)
}

func (s *Server) handleHealthz(c echo.Context) error {
	st, err := s.snapshot(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Sessions: st.Sessions})
}

func (s *Server) handleStatus(c echo.Context) error {
	st, err := s.snapshot(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, statusResponse{
		Sessions: st.Sessions,
		Users:    st.Users,
		Channels: st.Channels,
		Battles:  st.Battles,
		Uptime:   st.Uptime.Round(time.Second).String(),
		Version:  st.Version,
	})
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(s.addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	slog.Info("ops server started", "address", s.addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("shutting down ops server: %w", err)
	}
	return <-errCh
}
