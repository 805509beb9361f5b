package main

import (
	"context"
	"errors"
	"net"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/animetrack/internal/platform/auth"
	"github.com/example/animetrack/internal/platform/config"
	"github.com/example/animetrack/internal/platform/httpserver"
	"github.com/example/animetrack/internal/platform/logging"
	"github.com/example/animetrack/internal/platform/run"
	"github.com/example/animetrack/services/library/internal/app"
	libcfg "github.com/example/animetrack/services/library/internal/config"
	"github.com/example/animetrack/services/library/internal/domain"
	"github.com/example/animetrack/services/library/internal/drift"
	"github.com/example/animetrack/services/library/internal/handlers"
	"github.com/example/animetrack/services/library/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.ForService(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	lcfg, err := libcfg.Load()
	if err != nil {
		log.Error("load library config", zap.Error(err))
		run.Exit(1)
	}
	if err := lcfg.RequireSecret(cfg.IsProduction()); err != nil {
		log.Error("config", zap.Error(err))
		run.Exit(1)
	}
	if err := domain.ValidateTables(); err != nil {
		log.Error("vocabulary tables", zap.Error(err))
		run.Exit(1)
	}

	a, err := app.Build(context.Background(), app.Options{
		Config:     lcfg,
		Production: cfg.IsProduction(),
		Name:       cfg.ServiceName,
		Log:        log,
	})
	if err != nil {
		log.Error("init", zap.Error(err))
		run.Exit(1)
	}

	var enqueue handlers.EnqueueFunc
	var wrk *queue.Worker
	if a.JS != nil {
		enqueue = func(job queue.ImportMediaJob) error { return queue.Enqueue(a.JS, job) }
		wrk = queue.NewWorker(log, a.JS, func(ctx context.Context, job queue.ImportMediaJob) error {
			_, err := a.Importer.Import(ctx, job.Kind, job.ExternalID)
			return err
		}, a.Metrics)
		wrk.Batch = lcfg.WorkerBatchSize
		if err := wrk.EnsureStream(context.Background()); err != nil {
			log.Error("ensure stream", zap.Error(err))
			run.Exit(1)
		}
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		ReadyFunc: func() error { return a.Ready(context.Background()) },
	})
	handlers.Register(r, handlers.Deps{
		Catalog:   a.Catalog,
		Importer:  a.Importer,
		Reconcile: a.Reconcile,
		Progress:  a.Progress,
		Store:     a.Store,
		Enqueue:   enqueue,
		Metrics:   a.Metrics.Handler(),
		Verifier:  auth.JWTVerifier{Secret: []byte(lcfg.JWTSecret)},
		Log:       log,
	})
	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	lis, err := net.Listen("tcp", lcfg.GRPCAddr)
	if err != nil {
		log.Error("listen", zap.Error(err))
		run.Exit(1)
	}
	grpcSrv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	reflection.Register(grpcSrv)
	hs.SetServingStatus(cfg.ServiceName, healthpb.HealthCheckResponse_SERVING)

	scanner := drift.New(drift.Options{
		Store:    a.Store,
		Comparer: a.Reconcile,
		Metrics:  a.Metrics,
		Events:   a.Events,
		Log:      log,
	})

	scanCtx, cancelScan := context.WithCancel(context.Background())
	defer cancelScan()
	cr, err := scanner.Schedule(scanCtx, lcfg.DriftSchedule)
	if err != nil {
		log.Error("drift schedule", zap.Error(err))
		run.Exit(1)
	}

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		cr.Start()
		if wrk != nil {
			go func() {
				if err := wrk.Run(ctx); err != nil {
					log.Error("worker stopped", zap.Error(err))
				}
			}()
		}
		go func() {
			log.Info("grpc server starting", zap.String("addr", lcfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Error("grpc serve", zap.Error(err))
			}
		}()
		return srv.Start(log)
	})

	hs.Shutdown()
	cancelScan()
	runner.Graceful(
		srv.Shutdown,
		func(ctx context.Context) error {
			select {
			case <-cr.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		func(ctx context.Context) error { return stopGRPC(ctx, grpcSrv) },
	)
	a.Close()

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

func stopGRPC(ctx context.Context, s *grpc.Server) error {
	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	}
}
