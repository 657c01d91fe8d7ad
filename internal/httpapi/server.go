// Package httpapi exposes the four control-plane endpoints of spec §6 over
// an Echo application, modeled on the bken server's own internal/httpapi
// package: Echo with middleware.Recover(), a slog-backed request logger, and
// a thin Server wrapper exposing Echo() for tests.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/MomoPewpew/Orpheus/internal/mixer"
	"github.com/MomoPewpew/Orpheus/internal/model"
	"github.com/MomoPewpew/Orpheus/internal/persist"
	"github.com/MomoPewpew/Orpheus/internal/reconcile"
)

// Server is the Echo application serving the workspace control plane.
type Server struct {
	echo       *echo.Echo
	mixer      *mixer.Mixer
	reconciler *reconcile.Reconciler
	store      *persist.Store
	logger     *slog.Logger

	mu    sync.Mutex
	state *model.AppState
}

// New constructs an Echo app wired to mixer m, reconciler r, and the
// persistence store st. current is the AppState most recently loaded or
// reconciled — Server serves it from GET /api/workspace and uses it as the
// "persisted copy" for orphan preset recovery on POST.
func New(m *mixer.Mixer, r *reconcile.Reconciler, st *persist.Store, current *model.AppState, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))
	e.Use(rateLimiter(rate.Limit(5), 10))

	s := &Server{echo: e, mixer: m, reconciler: r, store: st, logger: logger, state: current}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/api/workspace", s.handleGetWorkspace)
	s.echo.POST("/api/workspace", s.handlePostWorkspace)
	s.echo.POST("/api/soundboard/play/:sound_id", s.handlePlaySoundboard)
	s.echo.GET("/api/playing-layers", s.handlePlayingLayers)
}

// Run starts Echo and blocks until ctx cancellation or startup failure,
// mirroring the bken server's own Run loop.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		s.logger.Info("http server stopped")
		return nil
	}
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			logger.Info("http request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", c.RealIP(),
			)
			return nil
		}
	}
}

// rateLimiter guards the control plane from update storms (spec §6): one
// token bucket per remote address, modeled on the per-IP limiter pattern
// used elsewhere in the corpus but backed by golang.org/x/time/rate instead
// of a hand-rolled bucket.
func rateLimiter(r rate.Limit, burst int) echo.MiddlewareFunc {
	limiters := newLimiterSet(r, burst)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiters.allow(c.RealIP()) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

func (s *Server) handleGetWorkspace(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.JSON(http.StatusOK, s.state)
}

// presenceOnly validates which top-level fields the request body actually
// carries. float64 can't tell "absent" from "0" once unmarshaled into
// model.AppState directly, so masterVolume's presence (spec §6 / the
// original's workspace.py validation) is checked against the raw body
// first.
type presenceOnly struct {
	Environments *json.RawMessage `json:"environments"`
	Soundboard   *json.RawMessage `json:"soundboard"`
	MasterVolume *json.RawMessage `json:"masterVolume"`
}

func (s *Server) handlePostWorkspace(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workspace JSON")
	}

	var presence presenceOnly
	if err := json.Unmarshal(body, &presence); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workspace JSON")
	}
	if presence.Environments == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "environments is required")
	}
	if presence.Soundboard == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "soundboard is required")
	}
	if presence.MasterVolume == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "masterVolume is required")
	}

	var next model.AppState
	if err := json.Unmarshal(body, &next); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workspace JSON")
	}

	s.mu.Lock()
	persisted := s.state
	for i := range next.Environments {
		reconcile.RecoverOrphanPreset(&next.Environments[i], persisted, s.logger)
	}
	s.state = &next
	s.mu.Unlock()

	s.reconciler.Reconcile(&next)
	if s.store != nil {
		if err := s.store.Save(&next); err != nil {
			s.logger.Error("failed to persist workspace", "error", err)
		}
	}
	return c.JSON(http.StatusOK, next)
}

func (s *Server) handlePlaySoundboard(c echo.Context) error {
	soundID := strings.TrimSpace(c.Param("sound_id"))
	if soundID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sound_id is required")
	}
	s.mixer.PlaySoundboard(soundID)
	s.mixer.AcknowledgeSoundboard()
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handlePlayingLayers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.mixer.PlayingLayers())
}
