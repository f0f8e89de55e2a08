package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/cuemby/magpie/pkg/cache"
	"github.com/cuemby/magpie/pkg/config"
	"github.com/cuemby/magpie/pkg/engine"
	"github.com/cuemby/magpie/pkg/log"
	"github.com/cuemby/magpie/pkg/metrics"
	"github.com/cuemby/magpie/pkg/storage"
)

// writeBudget bounds the async heartbeat store writer. Overflow drops the
// oldest pending update, never the response: a dropped durable write costs
// nothing while the fresher cache record exists.
const writeBudget = 256

// heartbeatWrite is one queued last-heartbeat store update
type heartbeatWrite struct {
	executionID string
	at          time.Time
}

// Server ingests heartbeat and completion callbacks from collection
// containers. It listens on its own address, separate from the control
// API: containers reach this listener and nothing else.
type Server struct {
	store  storage.Store
	cache  cache.Cache
	engine *engine.Engine
	cfg    *config.Config
	logger zerolog.Logger
	router *mux.Router

	httpSrv *http.Server
	addr    string
	writes  chan heartbeatWrite
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewServer creates the callback server over the shared collaborators
func NewServer(store storage.Store, c cache.Cache, eng *engine.Engine, cfg *config.Config) *Server {
	s := &Server{
		store:  store,
		cache:  c,
		engine: eng,
		cfg:    cfg,
		logger: log.WithComponent("callback"),
		writes: make(chan heartbeatWrite, writeBudget),
		stopCh: make(chan struct{}),
	}

	s.router = mux.NewRouter()
	s.router.HandleFunc("/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	s.router.HandleFunc("/completion", s.handleCompletion).Methods(http.MethodPost)
	return s
}

// Handler returns the HTTP handler behind the listener
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound listener address, empty before Start. With a
// ":0" configuration this is where the ephemeral port shows up.
func (s *Server) Addr() string {
	return s.addr
}

// Start binds the callback listener and begins serving. The bind happens
// here, not in a goroutine, so an occupied port fails startup instead of
// logging into the void.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Callback.Addr)
	if err != nil {
		return fmt.Errorf("callback listener on %s: %w", s.cfg.Callback.Addr, err)
	}
	s.addr = ln.Addr().String()

	s.wg.Add(1)
	go s.writer()

	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Callback server failed")
		}
	}()

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("advertise", s.cfg.Callback.AdvertiseURL).
		Msg("Callback server started")
	return nil
}

// Stop shuts the listener down and drains the pending heartbeat writes
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info().Msg("Callback server stopped")
	return err
}

// enqueue hands a durable heartbeat update to the async writer. Never
// blocks: a full budget evicts the oldest pending update to make room.
func (s *Server) enqueue(update heartbeatWrite) {
	for {
		select {
		case s.writes <- update:
			return
		default:
		}
		select {
		case dropped := <-s.writes:
			metrics.HeartbeatWritesDropped.Inc()
			s.logger.Debug().
				Str("execution_id", dropped.executionID).
				Msg("Heartbeat write budget full, dropped oldest update")
		default:
		}
	}
}

func (s *Server) writer() {
	defer s.wg.Done()

	for {
		select {
		case update := <-s.writes:
			s.flush(update)
		case <-s.stopCh:
			for {
				select {
				case update := <-s.writes:
					s.flush(update)
				default:
					return
				}
			}
		}
	}
}

// flush applies one durable last-heartbeat update. Failures only log:
// the cache record already serves liveness and the row may simply have
// gone terminal since the callback landed.
func (s *Server) flush(update heartbeatWrite) {
	if err := s.store.SetExecutionHeartbeat(update.executionID, update.at); err != nil {
		s.logger.Debug().Err(err).
			Str("execution_id", update.executionID).
			Msg("Durable heartbeat write failed")
	}
}
