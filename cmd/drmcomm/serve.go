package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/aixgo-dev/drmcomm/internal/encagent"
	"github.com/aixgo-dev/drmcomm/internal/observability"
	"github.com/aixgo-dev/drmcomm/pkg/comm"
	"github.com/aixgo-dev/drmcomm/pkg/config"
	metrics "github.com/aixgo-dev/drmcomm/pkg/observability"
	"github.com/aixgo-dev/drmcomm/pkg/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the communication handler until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, log.Default())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger.Printf("Starting drmcomm v%s", Version)
	logger.Printf("Server info: %s, transport: %s, HTTP: %s",
		cfg.Server.InfoPath, cfg.Transport.Type, cfg.Observability.HTTPAddr)

	if err := initTracing(cfg.Observability.Tracing); err != nil {
		return err
	}
	defer func() {
		if err := observability.Shutdown(context.Background()); err != nil {
			logger.Printf("Tracing shutdown error: %v", err)
		}
	}()

	metrics.InitMetrics()
	metrics.SetVersion(Version)
	checker := metrics.InitHealthChecker()

	out, closer, err := openTransport(cfg)
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	shared := newSharedServer(cfg, logger)
	defer func() {
		if err := shared.Close(context.Background()); err != nil {
			logger.Printf("Shared server close error: %v", err)
		}
	}()

	opts := handlerOptions(cfg, logger)
	if out != nil {
		opts = append(opts, comm.WithTransport(out))
	}
	handler, err := comm.New(ctx, shared, opts...)
	if err != nil {
		return err
	}

	agent := encagent.New(256, logger)
	if err := handler.Run(agent); err != nil {
		return err
	}

	checker.Register(metrics.ServerCheck(func(ctx context.Context) (string, error) {
		srv, err := shared.Acquire(ctx)
		if err != nil {
			return "", err
		}
		if s, ok := srv.(interface{ ID() string }); ok {
			return s.ID(), nil
		}
		return "unnamed", nil
	}))
	checker.Register(metrics.HandlerCheck(handler.Healthy, handler.Pending))
	checker.TrackQueue(handler.Pending)
	if r, ok := out.(*transport.Redis); ok {
		checker.Register(metrics.TransportCheck(config.TransportRedis, r.Pending))
	}

	sweeper, err := startRightsSweep(ctx, cfg.RightsSweep, shared, logger)
	if err != nil {
		_ = handler.Close(context.Background())
		return err
	}

	obsServer := metrics.NewServer(cfg.Observability.HTTPAddr)
	errChan := make(chan error, 1)
	go func() {
		logger.Printf("Starting HTTP server on %s", cfg.Observability.HTTPAddr)
		if err := obsServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	drainCtx, stopDrain := context.WithCancel(ctx)
	drained := drainResults(drainCtx, agent.Results())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case runErr = <-errChan:
		logger.Printf("Error: %v", runErr)
	case <-quit:
		logger.Println("Shutting down...")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sweeper != nil {
		<-sweeper.Stop().Done()
	}
	if err := handler.Close(shutdownCtx); err != nil {
		logger.Printf("Handler shutdown error: %v", err)
	}
	stopDrain()
	<-drained
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP server shutdown error: %v", err)
	}

	logger.Println("drmcomm stopped")
	return runErr
}

// drainResults discards agent results until ctx is done so the buffer never
// fills. The agent logs each result itself. The returned channel is closed
// once the drain has stopped.
func drainResults(ctx context.Context, results <-chan encagent.Result) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-results:
			}
		}
	}()
	return done
}

func initTracing(tc config.TracingConfig) error {
	if !tc.Enabled {
		return observability.InitFromEnv()
	}
	return observability.Init(observability.Config{
		ServiceName:  tc.ServiceName,
		Enabled:      true,
		ExporterType: tc.Exporter,
		OTLPEndpoint: tc.Endpoint,
	})
}

// startRightsSweep schedules PurgeExpiredRights on the shared server.
// It returns nil when spec is empty.
func startRightsSweep(ctx context.Context, spec string, shared *comm.SharedServer, logger *log.Logger) (*cron.Cron, error) {
	if spec == "" {
		return nil, nil
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		srv, err := shared.Acquire(sweepCtx)
		if err != nil {
			logger.Printf("[RightsSweep] No server: %v", err)
			return
		}
		purger, ok := srv.(rightsPurger)
		if !ok {
			return
		}
		n, err := purger.PurgeExpiredRights(sweepCtx)
		if err != nil {
			logger.Printf("[RightsSweep] Purge failed: %v", err)
			return
		}
		metrics.RecordRightsPurged(n)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid rights_sweep %q: %w", spec, err)
	}

	c.Start()
	logger.Printf("[RightsSweep] Scheduled: %s", spec)
	return c, nil
}
