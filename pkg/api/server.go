package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/gantryhq/gantry/pkg/coordination"
	"github.com/gantryhq/gantry/pkg/events"
	"github.com/gantryhq/gantry/pkg/intake"
	"github.com/gantryhq/gantry/pkg/log"
	"github.com/gantryhq/gantry/pkg/metrics"
	"github.com/gantryhq/gantry/pkg/orchestrator"
	"github.com/gantryhq/gantry/pkg/storage"
	"github.com/gantryhq/gantry/pkg/types"
)

// Server serves the Gantry HTTP API
type Server struct {
	intake  *intake.Intake
	orch    *orchestrator.Orchestrator
	store   storage.Store
	coord   *coordination.Coordinator
	broker  *events.Broker
	version string

	http   *http.Server
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

// New creates an API server over the assembled collaborators
func New(in *intake.Intake, orch *orchestrator.Orchestrator, store storage.Store, coord *coordination.Coordinator, broker *events.Broker, version string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		intake:  in,
		orch:    orch,
		store:   store,
		coord:   coord,
		broker:  broker,
		version: version,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.WithComponent("api"),
	}
}

// Router builds the HTTP routing table
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.instrument)

	r.Get("/ping", s.handlePing)
	r.Get("/status", s.handleStatus)
	r.Get("/healthcheck", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/deployments", s.handleListDeployments)
	r.Get("/deployments/{id}", s.handleGetDeployment)
	r.Get("/events", s.handleEvents)

	r.Get("/lock", s.handleLockStatus)
	r.Post("/lock", s.handleLock)
	r.Delete("/lock", s.handleUnlock)

	r.Post("/{application}/deploy", s.handleDeploy)
	r.Post("/{application}/{environment}/{region}/pause", s.handlePause)
	r.Post("/{application}/{environment}/{region}/resume", s.handleResume)
	r.Post("/{application}/{environment}/{region}/cancel", s.handleCancel)

	return r
}

// Start serves the API until Stop. Blocks like http.ListenAndServe; a clean
// shutdown returns nil.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:        addr,
		Handler:     s.Router(),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
		// no WriteTimeout: /events holds its connection open
	}

	s.logger.Info().Str("address", addr).Msg("HTTP API listening")
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop ends event streams and drains in-flight requests
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("pong"))
}

type statusResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, statusResponse{
		Name:    "gantry",
		Version: s.version,
		Status:  "ok",
	})
}

type deployAccepted struct {
	ID string `json:"id"`
}

// handleDeploy accepts a deployment submission. The application comes from
// the path; everything else from the body.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req intake.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, types.WrapError(types.ErrValidation, err, "malformed request body"))
		return
	}
	req.Application = chi.URLParam(r, "application")

	d, err := s.intake.Submit(r.Context(), req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, deployAccepted{ID: d.ID})
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDeployment(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	var (
		list []*types.Deployment
		err  error
	)
	switch filter := r.URL.Query().Get("filter"); filter {
	case "":
		if app := r.URL.Query().Get("application"); app != "" {
			list, err = s.store.ListDeploymentsByApplication(app)
		} else {
			list, err = s.store.ListDeployments()
		}
	case "incomplete":
		list, err = s.store.ListIncompleteDeployments()
	case "broken":
		list, err = s.orch.Broken(r.Context())
	default:
		err = types.NewError(types.ErrValidation, "unknown filter %q", filter)
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	if list == nil {
		list = []*types.Deployment{}
	}
	s.respondJSON(w, http.StatusOK, list)
}

type requestedResponse struct {
	Requested bool `json:"requested"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	requested, err := s.orch.RequestPause(r.Context(), chi.URLParam(r, "application"), chi.URLParam(r, "environment"), chi.URLParam(r, "region"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, requestedResponse{Requested: requested})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	requested, err := s.orch.RequestCancel(r.Context(), chi.URLParam(r, "application"), chi.URLParam(r, "environment"), chi.URLParam(r, "region"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, requestedResponse{Requested: requested})
}

type queuedResponse struct {
	Queued bool `json:"queued"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	err := s.orch.RequestResume(r.Context(), chi.URLParam(r, "application"), chi.URLParam(r, "environment"), chi.URLParam(r, "region"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, queuedResponse{Queued: true})
}

type lockResponse struct {
	Locked bool `json:"locked"`
}

func (s *Server) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	locked, err := s.coord.Locked(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, lockResponse{Locked: locked})
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Lock(r.Context()); err != nil {
		s.respondError(w, err)
		return
	}
	s.logger.Info().Msg("Deployments locked")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Unlock(r.Context()); err != nil {
		s.respondError(w, err)
		return
	}
	s.logger.Info().Msg("Deployments unlocked")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
	}
	s.respondJSON(w, status, errorResponse{
		Error: err.Error(),
		Kind:  string(types.KindOf(err)),
	})
}

// statusForError maps classified errors onto the response codes of the
// deployment contract: 400 for refused input, 409 for a busy target, 423
// while the global lock is held
func statusForError(err error) int {
	if errors.Is(err, storage.ErrDeploymentNotFound) {
		return http.StatusNotFound
	}
	switch types.KindOf(err) {
	case types.ErrValidation, types.ErrImageMismatch:
		return http.StatusBadRequest
	case types.ErrAlreadyInProgress:
		return http.StatusConflict
	case types.ErrLocked:
		return http.StatusLocked
	case types.ErrHTTP, types.ErrStore:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
