// Package server exposes the orchestration engine over HTTP: run lifecycle
// control, regeneration, artifact retrieval and a Server-Sent Events stream
// of each run's event log (replay then live).
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/storyloom/storyloom/core"
	"github.com/storyloom/storyloom/engine"
	"github.com/storyloom/storyloom/logging"
)

// Server wraps an echo instance around the engine.
type Server struct {
	echo   *echo.Echo
	engine *engine.Engine
	logger logging.Logger
}

// Options holds Server overrides.
type Options struct {
	// Logger receives request-level structured logs.
	Logger logging.Logger
}

// New builds the HTTP server and registers all routes.
func New(eng *engine.Engine, optFns ...func(o *Options)) *Server {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, engine: eng, logger: opts.Logger}

	e.GET("/health", s.handleHealth)
	v1 := e.Group("/v1")
	v1.POST("/runs", s.handleCreateRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:run_id", s.handleGetRun)
	v1.POST("/runs/:run_id/pause", s.handlePause)
	v1.POST("/runs/:run_id/resume", s.handleResume)
	v1.POST("/runs/:run_id/cancel", s.handleCancel)
	v1.POST("/runs/:run_id/regenerate", s.handleRegenerate)
	v1.GET("/runs/:run_id/events", s.handleEvents)
	v1.GET("/runs/:run_id/artifact", s.handleArtifact)

	return s
}

// Start begins serving on addr and blocks until shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Echo exposes the underlying router, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type createRunRequest struct {
	Premise  string   `json:"premise"`
	Guidance string   `json:"guidance,omitempty"`
	Phases   []string `json:"phases,omitempty"`
}

func (s *Server) handleCreateRun(c echo.Context) error {
	var req createRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Premise == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "premise is required")
	}

	var phases []core.Phase
	for _, raw := range req.Phases {
		p, ok := core.ParsePhase(raw)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown phase %q", raw))
		}
		phases = append(phases, p)
	}

	seed := core.Seed{Premise: req.Premise, Guidance: req.Guidance}
	runID, err := s.engine.StartRun(c.Request().Context(), seed, phases)
	if err != nil {
		return s.mapError(err)
	}
	s.logger.Info("run created", "run_id", runID)
	return c.JSON(http.StatusCreated, map[string]string{"run_id": runID})
}

func (s *Server) handleListRuns(c echo.Context) error {
	runs, err := s.engine.ListRuns(c.Request().Context())
	if err != nil {
		return s.mapError(err)
	}
	states := make([]*engine.RunState, 0, len(runs))
	for _, run := range runs {
		st, err := s.engine.GetRunState(c.Request().Context(), run.ID)
		if err != nil {
			return s.mapError(err)
		}
		states = append(states, st)
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": states})
}

func (s *Server) handleGetRun(c echo.Context) error {
	st, err := s.engine.GetRunState(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handlePause(c echo.Context) error {
	runID := c.Param("run_id")
	if err := s.engine.Pause(c.Request().Context(), runID); err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID, "requested": "pause"})
}

func (s *Server) handleResume(c echo.Context) error {
	runID := c.Param("run_id")
	if err := s.engine.Resume(c.Request().Context(), runID); err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID, "requested": "resume"})
}

func (s *Server) handleCancel(c echo.Context) error {
	runID := c.Param("run_id")
	if err := s.engine.Cancel(c.Request().Context(), runID); err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID, "requested": "cancel"})
}

type regenerateRequest struct {
	Phase   string   `json:"phase"`
	Content string   `json:"content"`
	Comment string   `json:"comment"`
	Locked  []string `json:"locked,omitempty"`
	Scenes  []int    `json:"scenes,omitempty"`
}

func (s *Server) handleRegenerate(c echo.Context) error {
	var req regenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rr := core.RegenerationRequest{
		Phase:   core.Phase(req.Phase),
		Content: req.Content,
		Comment: req.Comment,
		Scenes:  req.Scenes,
	}
	for _, l := range req.Locked {
		rr.Locked = append(rr.Locked, core.Phase(l))
	}

	newID, err := s.engine.Regenerate(c.Request().Context(), c.Param("run_id"), rr)
	if err != nil {
		return s.mapError(err)
	}
	s.logger.Info("regeneration started", "parent_id", c.Param("run_id"), "run_id", newID)
	return c.JSON(http.StatusCreated, map[string]string{"run_id": newID})
}

// handleEvents streams the run's event log as Server-Sent Events: full
// history first, then live events until the client disconnects or the run's
// log stops producing. The event sequence number is the SSE id, so clients
// can deduplicate across reconnects.
func (s *Server) handleEvents(c echo.Context) error {
	runID := c.Param("run_id")
	ctx := c.Request().Context()

	events, err := s.engine.Events(ctx, runID)
	if err != nil {
		return s.mapError(err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("marshal event failed", "run_id", runID, "error", err.Error())
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
			w.Flush()
		}
	}
}

func (s *Server) handleArtifact(c echo.Context) error {
	art, err := s.engine.Artifact(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, art)
}

// mapError translates domain errors into HTTP status codes.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, core.ErrRunNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrEmptyComment), errors.Is(err, core.ErrUnknownPhase):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrNonResumable), errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrMissingLockedOutput):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
