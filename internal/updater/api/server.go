// Package api exposes the blue/green update executor over a small REST and
// websocket control surface: health, status, apply, rollback, history and
// diagnostics, all but /health and the /docs pages gated behind a
// shared-secret header.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/zetherion-ai/opscore/internal/updater"
)

// Executor is the subset of *updater.Executor the control API drives. It's
// an interface purely so handlers can be tested against a fake rather than
// a real git/docker-compose pipeline.
type Executor interface {
	ApplyUpdate(ctx context.Context, tag, version string) updater.Result
	Rollback(ctx context.Context, previousSHA string) updater.Result
	Unpause() bool
	State() string
	CurrentOperation() string
	StatusSnapshot() map[string]any
	GetDiagnostics(ctx context.Context) map[string]any
}

// Config configures a Server.
type Config struct {
	Secret         string // empty disables auth entirely
	HistoryLimit   int
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{HistoryLimit: 100, RequestTimeout: 30 * time.Second}
}

// Server wires an Executor into an HTTP router.
type Server struct {
	executor  Executor
	cfg       Config
	logger    *slog.Logger
	validate  *validator.Validate
	history   *historyRing
	startedAt time.Time
	upgrader  websocket.Upgrader
}

func NewServer(executor Executor, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Server{
		executor:  executor,
		cfg:       cfg,
		logger:    logger,
		validate:  validator.New(),
		history:   newHistoryRing(cfg.HistoryLimit),
		startedAt: time.Now(),
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// Router builds the mux.Router for this server.
//
// @title Updater Sidecar Control API
// @version 1.0
// @description Blue/green deployment control surface for the updater sidecar.
// @BasePath /
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	protected := router.NewRoute().Subrouter()
	protected.Use(AuthMiddleware(s.cfg.Secret))
	protected.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	protected.HandleFunc("/update/apply", s.handleApply).Methods(http.MethodPost)
	protected.HandleFunc("/update/rollback", s.handleRollback).Methods(http.MethodPost)
	protected.HandleFunc("/update/progress", s.handleProgress).Methods(http.MethodGet)
	protected.HandleFunc("/update/history", s.handleHistory).Methods(http.MethodGet)
	protected.HandleFunc("/diagnostics", s.handleDiagnostics).Methods(http.MethodGet)
	protected.HandleFunc("/update/unpause", s.handleUnpause).Methods(http.MethodPost)

	router.PathPrefix("/docs").Handler(httpSwagger.WrapHandler)

	return router
}

// handleHealth is intentionally unauthenticated — it's the liveness probe a
// load balancer or orchestrator hits before the sidecar has a secret at all.
//
// @Summary Liveness probe
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// @Summary Sidecar status
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]string
// @Router /status [get]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"state":            s.executor.State(),
		"current_operation": currentOperationOrNil(s.executor.CurrentOperation()),
		"uptime_seconds":    time.Since(s.startedAt).Seconds(),
	}
	for k, v := range s.executor.StatusSnapshot() {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func currentOperationOrNil(op string) any {
	if op == "" {
		return nil
	}
	return op
}

type applyRequest struct {
	Tag     string `json:"tag" validate:"required"`
	Version string `json:"version" validate:"required"`
}

// @Summary Apply an update
// @Accept json
// @Produce json
// @Param body body applyRequest true "release tag and version"
// @Success 200 {object} updater.Result
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 500 {object} updater.Result
// @Router /update/apply [post]
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "missing required field(s): "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	result := s.executor.ApplyUpdate(ctx, req.Tag, req.Version)
	s.history.record(HistoryEntry{
		Tag:       req.Tag,
		Version:   req.Version,
		Result:    result.Status,
		Error:     result.Error,
		Timestamp: time.Now(),
	})
	writeJSON(w, statusCodeForResult(result), result)
}

type rollbackRequest struct {
	PreviousSHA string `json:"previous_sha" validate:"required"`
}

// @Summary Roll back to a previous git SHA
// @Accept json
// @Produce json
// @Param body body rollbackRequest true "previous git SHA"
// @Success 200 {object} updater.Result
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 500 {object} updater.Result
// @Router /update/rollback [post]
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "missing required field(s): "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	result := s.executor.Rollback(ctx, req.PreviousSHA)
	s.history.record(HistoryEntry{
		Tag:       "rollback:" + req.PreviousSHA,
		Version:   "rollback",
		Result:    result.Status,
		Error:     result.Error,
		Timestamp: time.Now(),
	})
	writeJSON(w, statusCodeForResult(result), result)
}

// @Summary Clear a pause set by a failed rollout
// @Produce json
// @Success 200 {object} map[string]bool
// @Failure 401 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /update/unpause [post]
func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	if !s.executor.Unpause() {
		writeJSONError(w, http.StatusConflict, "an update or rollback is already in progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"unpaused": true})
}

// @Summary Recent apply/rollback history
// @Produce json
// @Success 200 {object} map[string][]HistoryEntry
// @Failure 401 {object} map[string]string
// @Router /update/history [get]
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"entries": s.history.all()})
}

// @Summary Point-in-time repo/container diagnostics
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]string
// @Router /diagnostics [get]
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.executor.GetDiagnostics(r.Context()))
}

// handleProgress upgrades to a websocket and pushes the current
// state/operation once a second until the client disconnects — a way to
// watch a long apply_update call progress without polling /status.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("progress websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			msg := map[string]any{
				"state":             s.executor.State(),
				"current_operation": currentOperationOrNil(s.executor.CurrentOperation()),
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func statusCodeForResult(result updater.Result) int {
	if strings.Contains(strings.ToLower(result.Error), "already in progress") {
		return http.StatusConflict
	}
	if result.Status == "success" {
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
