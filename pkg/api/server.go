package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/cuemby/magpie/pkg/config"
	"github.com/cuemby/magpie/pkg/events"
	"github.com/cuemby/magpie/pkg/log"
	"github.com/cuemby/magpie/pkg/manager"
)

// userHeader carries the caller's subject. The API trusts it; fronting
// the listener with an authenticating proxy is the deployment's job.
const userHeader = "X-Magpie-User"

// anonymousSubject is the subject of requests without a user header. It
// holds no grants, so anonymous callers see and touch nothing unless a
// policy says otherwise.
const anonymousSubject = "anonymous"

// Server is the control API listener
type Server struct {
	manager *manager.Manager
	broker  *events.Broker
	cfg     *config.Config
	logger  zerolog.Logger
	router  *mux.Router

	httpSrv *http.Server
	addr    string
}

// NewServer creates the control API server over the manager
func NewServer(mgr *manager.Manager, broker *events.Broker, cfg *config.Config) *Server {
	s := &Server{
		manager: mgr,
		broker:  broker,
		cfg:     cfg,
		logger:  log.WithComponent("api"),
	}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/tasks", s.handleCreateTask).Methods(http.MethodPost)
	v1.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
	v1.HandleFunc("/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)
	v1.HandleFunc("/tasks/{id}", s.handleUpdateTask).Methods(http.MethodPut)
	v1.HandleFunc("/tasks/{id}", s.handleDeleteTask).Methods(http.MethodDelete)
	v1.HandleFunc("/tasks/{id}/execute", s.handleExecuteTask).Methods(http.MethodPost)
	v1.HandleFunc("/tasks/{id}/stop", s.handleStopTask).Methods(http.MethodPost)
	v1.HandleFunc("/tasks/{id}/activate", s.handleActivateTask).Methods(http.MethodPost)
	v1.HandleFunc("/tasks/{id}/pause", s.handlePauseTask).Methods(http.MethodPost)
	v1.HandleFunc("/tasks/{id}/schedule", s.handleGetSchedule).Methods(http.MethodGet)
	v1.HandleFunc("/tasks/{id}/executions", s.handleListExecutions).Methods(http.MethodGet)
	v1.HandleFunc("/executions/{id}", s.handleGetExecution).Methods(http.MethodGet)
	v1.HandleFunc("/executions/{id}/logs", s.handleExecutionLogs).Methods(http.MethodGet)
	v1.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	r.Use(s.instrument)
	s.router = r
	return s
}

// Handler returns the HTTP handler with recovery wrapped around it
func (s *Server) Handler() http.Handler {
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(&panicLogger{logger: s.logger}),
		handlers.PrintRecoveryStack(true),
	)(s.router)
}

// Addr returns the bound listener address, empty before Start
func (s *Server) Addr() string {
	return s.addr
}

// Start binds the control API listener and begins serving
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.API.Addr)
	if err != nil {
		return fmt.Errorf("api listener on %s: %w", s.cfg.API.Addr, err)
	}
	s.addr = ln.Addr().String()

	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server failed")
		}
	}()

	s.logger.Info().Str("addr", s.addr).Msg("Control API started")
	return nil
}

// Stop shuts the listener down, waiting out in-flight requests
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	err := s.httpSrv.Shutdown(ctx)
	s.logger.Info().Msg("Control API stopped")
	return err
}

// panicLogger adapts zerolog to the recovery middleware's logger
type panicLogger struct {
	logger zerolog.Logger
}

func (p *panicLogger) Println(v ...interface{}) {
	p.logger.Error().Msg(fmt.Sprintln(v...))
}

// subject extracts the caller's subject from the request
func subject(r *http.Request) string {
	if s := r.Header.Get(userHeader); s != "" {
		return s
	}
	return anonymousSubject
}
