// mesh-orchestrator — сервис выполнения workflow-планов.
//
// Сервис:
//   - Принимает планы и команды по HTTP API и из RabbitMQ
//   - Выполняет шаги через agent gateway с ограничением параллелизма
//   - Сохраняет историю run'ов в PostgreSQL
//   - Публикует события в RabbitMQ и WebSocket-подписчикам
//   - Вытесняет завершённые run'ы из памяти по расписанию
//
// PostgreSQL и RabbitMQ необязательны: без них сервис работает
// только в памяти.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/meshflow/internal/api"
	"github.com/shaiso/meshflow/internal/config"
	"github.com/shaiso/meshflow/internal/executor"
	"github.com/shaiso/meshflow/internal/mq"
	"github.com/shaiso/meshflow/internal/orchestrator"
	"github.com/shaiso/meshflow/internal/repo"
	"github.com/shaiso/meshflow/internal/retention"
	"github.com/shaiso/meshflow/internal/telemetry"
)

var startTime = time.Now()

func main() {
	configPath := flag.String("config", envOr("MESH_CONFIG", "mesh.toml"), "path to TOML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("starting mesh-orchestrator", "config", *configPath)

	if err := run(cfg, logger); err != nil {
		logger.Error("mesh-orchestrator failed", "error", err)
		os.Exit(1)
	}
	logger.Info("mesh-orchestrator stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	hub := api.NewHub(logger)
	sinks := []orchestrator.EventSink{hub}

	// PostgreSQL: история run'ов
	var runRepo *repo.RunRepo
	if cfg.Database.URL != "" {
		pool, err := repo.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		runRepo = repo.NewRunRepo(pool)
		if err := runRepo.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, runRepo)
		logger.Info("database connected")
	} else {
		logger.Warn("database url is not set, run history is disabled")
	}

	// RabbitMQ: события и входящие команды
	var mqConn *mq.Connection
	if cfg.Queue.URL != "" {
		conn, err := mq.NewConnection(cfg.Queue.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, queue integration disabled", "error", err)
		} else {
			defer conn.Close()
			mqConn = conn
			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				return fmt.Errorf("setup topology: %w", err)
			}
			sinks = append(sinks, mq.NewPublisher(mqConn, logger))
			logger.Info("RabbitMQ connected")
			logger.Debug("topology ready", "topology", mq.TopologyInfo())
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Registry:             orchestrator.NewRegistry(),
		Executor:             newExecutor(cfg, logger),
		Planner:              newPlanner(cfg),
		Sinks:                sinks,
		Metrics:              metrics,
		DefaultMaxParallel:   cfg.Orchestrator.MaxParallel,
		DefaultStepTimeoutMs: cfg.DefaultStepTimeoutMs(),
		AbandonOnCancel:      cfg.Orchestrator.AbandonOnCancel,
		Logger:               logger,
	})
	defer orch.Stop()

	sweeperCfg := retention.Config{
		Store:    orch,
		TTL:      cfg.Retention.TTL,
		Schedule: cfg.Retention.Schedule,
		Logger:   logger,
	}
	var history api.History
	if runRepo != nil {
		sweeperCfg.Archiver = runRepo
		history = runRepo
	}
	sweeper, err := retention.New(sweeperCfg)
	if err != nil {
		return err
	}

	// HTTP: API, /healthz, /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if orch.IsStopped() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if mqConn != nil && !mqConn.IsConnected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "queue disconnected")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime).Round(time.Second))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	api.NewHandler(api.Config{
		Orchestrator: orch,
		History:      history,
		Hub:          hub,
		Logger:       logger,
	}).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		// после HTTP: активные run'ы завершаются как CANCELLED
		orch.Stop()
		return nil
	})

	g.Go(func() error {
		return sweeper.Start(gctx)
	})

	if mqConn != nil {
		g.Go(func() error {
			return orch.StartConsumer(gctx, mqConn)
		})
	}

	return g.Wait()
}

// newExecutor собирает цепочку исполнения: лимит по lane → маршрутизация по агенту → gateway.
func newExecutor(cfg *config.Config, logger *slog.Logger) executor.Executor {
	var gateway executor.Executor
	if cfg.Agent.GatewayURL != "" {
		gateway = executor.NewHTTPExecutor(cfg.Agent.GatewayURL, cfg.Agent.Token)
	} else {
		logger.Warn("agent gateway url is not set, every step will fail")
		gateway = executor.Func(func(ctx context.Context, req *executor.Request) (*executor.Outcome, error) {
			return nil, errors.New("agent gateway is not configured")
		})
	}

	router := executor.NewHTTPRouter(gateway, cfg.Agent.Routes, cfg.Agent.Token)
	for agentID, target := range cfg.Agent.Routes {
		logger.Info("agent route registered", "agent_id", agentID, "url", target)
	}
	return executor.NewLaneLimiter(router, cfg.Orchestrator.LaneLimit)
}

func newPlanner(cfg *config.Config) executor.Planner {
	if cfg.Agent.PlannerURL == "" {
		return nil
	}
	return executor.NewHTTPPlanner(cfg.Agent.PlannerURL, cfg.Agent.Token)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
