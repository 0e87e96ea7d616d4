package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/drmcomm/internal/drmserver"
	"github.com/aixgo-dev/drmcomm/pkg/comm"
	"github.com/aixgo-dev/drmcomm/pkg/config"
	"github.com/aixgo-dev/drmcomm/pkg/transport"
)

var (
	// Version information (set via ldflags)
	Version = "dev"

	configFile     string
	serverInfoPath string
)

var rootCmd = &cobra.Command{
	Use:   "drmcomm",
	Short: "drmcomm - OMA DRM communication handler",
	Long: `drmcomm queues content key and device rights requests from an encoding
agent and delivers them to an OMA DRM server from a background worker.`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configFile, "config", os.Getenv("DRMCOMM_CONFIG"), "Configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&serverInfoPath, "server-info", "", "DRM server bootstrap document (overrides config)")
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
	}

	if serverInfoPath != "" {
		cfg.Server.InfoPath = serverInfoPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// handlerOptions maps the handler section of cfg onto comm options.
func handlerOptions(cfg *config.Config, logger *log.Logger) []comm.Option {
	opts := []comm.Option{
		comm.WithLogger(logger),
		comm.WithPollInterval(cfg.Handler.PollInterval),
		comm.WithLockTimeout(cfg.Handler.LockTimeout),
		comm.WithStopTimeout(cfg.Handler.StopTimeout),
		comm.WithDrainOnClose(cfg.Handler.DrainOnClose),
		comm.WithMetrics(cfg.Handler.EnableMetrics),
	}
	if cfg.Handler.SendRate > 0 {
		opts = append(opts, comm.WithSendRate(cfg.Handler.SendRate, cfg.Handler.SendBurst))
	}
	return opts
}

// openTransport returns nil for the loopback transport.
func openTransport(cfg *config.Config) (transport.Transport, io.Closer, error) {
	switch cfg.Transport.Type {
	case config.TransportMemory:
		m := transport.NewMemory(cfg.Transport.BufferSize)
		return m, m, nil
	case config.TransportRedis:
		r, err := transport.NewRedis(transport.RedisConfig{
			Addr:        cfg.Transport.Redis.Addr,
			Password:    cfg.Transport.Redis.Password,
			DB:          cfg.Transport.Redis.DB,
			OutboundKey: cfg.Transport.Redis.OutboundKey,
			InboundKey:  cfg.Transport.Redis.InboundKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	default:
		return nil, nil, nil
	}
}

func newSharedServer(cfg *config.Config, logger *log.Logger) *comm.SharedServer {
	return comm.NewSharedServer(
		comm.FileServerFactory(cfg.Server.InfoPath, drmserver.WithLogger(logger)),
		logger,
		comm.WithServerMetrics(cfg.Handler.EnableMetrics),
	)
}

// rightsPurger is implemented by servers that keep expiring rights objects.
type rightsPurger interface {
	PurgeExpiredRights(ctx context.Context) (int, error)
}
