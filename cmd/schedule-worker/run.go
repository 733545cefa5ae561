package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/keboola/schedule-coordinator/internal/pkg/log"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/servicectx"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/manager"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/model"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/worker"
	"github.com/keboola/schedule-coordinator/internal/pkg/telemetry"
	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
)

const metricsShutdownTimeout = 10 * time.Second

func runCommand(root *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the worker in the configured domains",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := root.loadConfig(ctx)
			if err != nil {
				return err
			}
			if cfg.IP == "" {
				return errors.New("ip is not set")
			}

			logger, err := root.newLogger(cfg)
			if err != nil {
				return err
			}

			proc, err := root.newProcess(ctx, logger, cfg, servicectx.WithoutSignals())
			if err != nil {
				return err
			}

			// The context of the command is cancelled by a signal
			go func() {
				<-ctx.Done()
				proc.Shutdown(context.Cause(ctx))
			}()

			store, err := root.openStore(ctx, proc, logger, cfg)
			if err != nil {
				proc.Shutdown(err)
				proc.WaitForShutdown()
				return err
			}

			data, err := manager.New(ctx, logger, store, cfg.Root)
			if err != nil {
				proc.Shutdown(err)
				proc.WaitForShutdown()
				return err
			}

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			factory, err := worker.NewFactory(
				ctx,
				data,
				telemetry.New(otel.GetTracerProvider()),
				worker.NewMetrics(registry),
				newLogExecutor(logger),
				worker.FactoryConfig{
					IP:        cfg.IP,
					HostName:  cfg.HostName,
					ThreadNum: cfg.Schedule.ThreadNum,
					Domains:   cfg.Schedule.Domains,
				},
			)
			if err != nil {
				proc.Shutdown(err)
				proc.WaitForShutdown()
				return err
			}

			if cfg.Metrics.Listen != "" {
				startMetricsServer(proc, logger, cfg.Metrics.Listen, registry)
			}

			// Workers are stopped before the store connection, so the servers can unregister
			workerCtx, workerCancel := context.WithCancel(context.WithoutCancel(ctx))
			done := make(chan error, 1)
			go func() {
				done <- factory.Run(workerCtx)
			}()
			proc.OnShutdown(func(ctx context.Context) {
				workerCancel()
				if err := <-done; err != nil {
					logger.Errorf(ctx, "worker stopped with error: %s", err)
				}
			})

			logger.Infof(ctx, `started worker "%s", domains "%s"`, factory.UUID(), strings.Join(cfg.Schedule.Domains, ","))
			proc.WaitForShutdown()
			return nil
		},
	}
}

func startMetricsServer(proc *servicectx.Process, logger log.Logger, listen string, registry *prometheus.Registry) {
	logger = logger.WithComponent("metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{
		Addr:              listen,
		Handler:           otelhttp.NewHandler(mux, "metrics"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof(proc.Ctx(), `metrics server listening on "%s"`, listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			proc.Shutdown(errors.Errorf("metrics server failed: %w", err))
		}
	}()

	proc.OnShutdown(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorf(ctx, `metrics server shutdown failed: %s`, err)
		}
	})
}

// logExecutor only logs owned task items, the business logic is not part of the worker.
type logExecutor struct {
	logger log.Logger
}

func newLogExecutor(logger log.Logger) worker.Executor {
	return &logExecutor{logger: logger.WithComponent("executor")}
}

func (e *logExecutor) Assign(ctx context.Context, taskType string, items []model.TaskItemDefine) error {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.TaskItemID)
	}
	e.logger.Infof(ctx, `task type "%s" owns "%d" task items: %s`, taskType, len(items), strings.Join(ids, ","))
	return nil
}
