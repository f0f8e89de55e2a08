package engine

import (
	"fmt"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/rs/zerolog"

	"github.com/cuemby/magpie/pkg/cache"
	"github.com/cuemby/magpie/pkg/config"
	"github.com/cuemby/magpie/pkg/events"
	"github.com/cuemby/magpie/pkg/hostdriver"
	"github.com/cuemby/magpie/pkg/log"
	"github.com/cuemby/magpie/pkg/ports"
	"github.com/cuemby/magpie/pkg/storage"
	"github.com/cuemby/magpie/pkg/types"
)

// admission carries only ids; workers re-read both rows so a queue entry
// that sat behind a burst cannot act on a stale snapshot.
type admission struct {
	taskID      string
	executionID string
}

// Engine drives executions from pending to a terminal status. Admissions
// enter through a bounded queue and a fixed worker pool takes them through
// the start pipeline; the resolve path (completion, cancellation, failure)
// is shared with the callback endpoint and the reconciler so every
// terminal transition performs the same cleanup.
type Engine struct {
	store  storage.Store
	cache  cache.Cache
	driver *hostdriver.Driver
	ports  *ports.Allocator
	broker *events.Broker
	cfg    *config.Config
	logger zerolog.Logger

	queue  chan admission
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates an engine. Worker count and queue depth come from
// cfg.Engine; both are enforced positive by config validation.
func NewEngine(store storage.Store, c cache.Cache, driver *hostdriver.Driver, allocator *ports.Allocator, broker *events.Broker, cfg *config.Config) *Engine {
	return &Engine{
		store:  store,
		cache:  c,
		driver: driver,
		ports:  allocator,
		broker: broker,
		cfg:    cfg,
		logger: log.WithComponent("engine"),
		queue:  make(chan admission, cfg.Engine.Queue),
		stopCh: make(chan struct{}),
	}
}

// Start launches the worker pool
func (e *Engine) Start() {
	for i := 0; i < e.cfg.Engine.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.logger.Info().
		Int("workers", e.cfg.Engine.Workers).
		Int("queue", cap(e.queue)).
		Msg("Execution engine started")
}

// Stop halts the workers. Queued admissions are abandoned; their pending
// rows age past the admission timeout and the reconciler re-admits them
// after restart.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	e.logger.Info().Msg("Execution engine stopped")
}

// Admit enqueues an execution for start. Admission never blocks: a full
// queue returns an unavailable error and the committed pending row is
// picked up later by the reconciler's re-admission sweep.
func (e *Engine) Admit(task *types.Task, execution *types.Execution) error {
	select {
	case e.queue <- admission{taskID: task.ID, executionID: execution.ID}:
		return nil
	default:
		return fmt.Errorf("admission queue full (%d waiting): %w", cap(e.queue), errdefs.ErrUnavailable)
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case adm := <-e.queue:
			e.startExecution(adm)
		}
	}
}
