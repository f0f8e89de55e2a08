package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/cuemby/magpie/pkg/api"
	"github.com/cuemby/magpie/pkg/cache"
	"github.com/cuemby/magpie/pkg/callback"
	"github.com/cuemby/magpie/pkg/config"
	"github.com/cuemby/magpie/pkg/engine"
	"github.com/cuemby/magpie/pkg/events"
	"github.com/cuemby/magpie/pkg/hostdriver"
	"github.com/cuemby/magpie/pkg/log"
	"github.com/cuemby/magpie/pkg/manager"
	"github.com/cuemby/magpie/pkg/metrics"
	"github.com/cuemby/magpie/pkg/ports"
	"github.com/cuemby/magpie/pkg/rbac"
	"github.com/cuemby/magpie/pkg/reconciler"
	"github.com/cuemby/magpie/pkg/scheduler"
	"github.com/cuemby/magpie/pkg/storage"
)

// shutdownGrace bounds how long in-flight HTTP requests may run after
// the stop signal
const shutdownGrace = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the orchestrator control plane",
	Long: `Run the magpie control plane: the control API, the container
callback listener, the scheduler, the execution engine, the liveness
reconciler, and the metrics endpoint, all in one process.

Multiple instances may run against the same cache; the scheduler's
leader lease keeps exactly one of them firing schedules.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().String("config", "", "Path to the YAML configuration file")
}

func runServer(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	metrics.SetVersion(Version)
	logger := log.WithComponent("server")
	logger.Info().Str("version", Version).Msg("Magpie starting")

	store, err := storage.NewBoltStore(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, "")

	c, err := openCache(cfg)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer c.Close()

	driver, err := hostdriver.New(cfg.Host)
	if err != nil {
		return err
	}
	defer driver.Close()

	allocator, err := ports.NewAllocator(cfg.Ports.Min, cfg.Ports.Max, driver)
	if err != nil {
		return err
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	eng := engine.NewEngine(store, c, driver, allocator, broker, cfg)
	sched := scheduler.NewScheduler(store, c, eng, broker, cfg.Scheduler)
	recon := reconciler.NewReconciler(store, c, driver, eng, cfg)
	cbSrv := callback.NewServer(store, c, eng, cfg)
	enforcer := rbac.NewEnforcer(store)
	mgr := manager.New(store, eng, enforcer, broker, driver, cfg)
	apiSrv := api.NewServer(mgr, broker, cfg)
	collector := metrics.NewCollector(store)

	var g run.Group
	g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

	{
		stop := make(chan struct{})
		g.Add(func() error {
			eng.Start()
			<-stop
			return nil
		}, func(error) {
			eng.Stop()
			close(stop)
		})
	}
	{
		stop := make(chan struct{})
		g.Add(func() error {
			sched.Start()
			metrics.RegisterComponent("scheduler", true, "")
			<-stop
			return nil
		}, func(error) {
			sched.Stop()
			close(stop)
		})
	}
	{
		stop := make(chan struct{})
		g.Add(func() error {
			recon.Start()
			<-stop
			return nil
		}, func(error) {
			recon.Stop()
			close(stop)
		})
	}
	{
		stop := make(chan struct{})
		g.Add(func() error {
			if err := cbSrv.Start(); err != nil {
				return err
			}
			metrics.RegisterComponent("callback", true, "")
			<-stop
			return nil
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = cbSrv.Stop(ctx)
			close(stop)
		})
	}
	{
		stop := make(chan struct{})
		g.Add(func() error {
			if err := apiSrv.Start(); err != nil {
				return err
			}
			<-stop
			return nil
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = apiSrv.Stop(ctx)
			close(stop)
		})
	}
	{
		metricsSrv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics listener started")
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = metricsSrv.Shutdown(ctx)
		})
	}
	{
		stop := make(chan struct{})
		g.Add(func() error {
			collector.Start()
			<-stop
			return nil
		}, func(error) {
			collector.Stop()
			close(stop)
		})
	}

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		logger.Info().Str("signal", sig.Signal.String()).Msg("Magpie stopped")
		return nil
	}
	return err
}

// openCache selects the cache backend: Redis when an address is
// configured, the embedded in-process cache otherwise. The embedded
// cache is single-instance only; running more than one magpie needs
// Redis so the leader lease and counters are shared.
func openCache(cfg *config.Config) (cache.Cache, error) {
	if cfg.Cache.RedisAddr == "" {
		return cache.NewMemoryCache(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return cache.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisDB)
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	return mux
}
