package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ikarusms/internal/config"
	"ikarusms/internal/logger"
	"ikarusms/internal/microservices/broker"
	"ikarusms/internal/microservices/discovery"
)

var (
	bindAddr string
	bindPort int
)

var rootCmd = &cobra.Command{
	Use:   "broker",
	Short: "broker - master/slave state synchronization broker",
	Long: `broker keeps the state of every logged in master and merges the partial
reports of their slaves into it. Nodes find the broker by broadcasting a
"hello" datagram on the discovery port.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("address") {
			cfg.BindAddr = bindAddr
		}
		if cmd.Flags().Changed("port") {
			cfg.BindPort = bindPort
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		closer := logger.Init(logger.Config{
			Level:      cfg.LogLevel,
			Format:     cfg.LogFormat,
			FilePath:   cfg.LogFile,
			MaxSize:    cfg.LogFileMaxSizeMB,
			MaxBackups: cfg.LogFileMaxBackups,
			MaxAge:     cfg.LogFileMaxAgeDays,
		})
		defer closer.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, slog.Default())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&bindAddr, "address", "a", "", "IPv4 address to listen on (default: first non-loopback address)")
	rootCmd.Flags().IntVarP(&bindPort, "port", "p", 0, "TCP port to listen on, 0 lets the system choose")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run serves the broker, the discovery responder and the optional status
// endpoint until ctx is done or one of them fails.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	host := cfg.BindAddr
	if host == "" {
		host = defaultBindAddr()
	}

	registry := broker.NewRegistry(log)
	metrics := broker.NewMetrics(registry)
	server := broker.NewServer(
		net.JoinHostPort(host, strconv.Itoa(cfg.BindPort)),
		broker.NewDispatcher(registry, metrics, log),
		broker.ServerOptions{
			RequestTimeout: cfg.RequestTimeout,
			MaxRequestSize: cfg.MaxRequestSize,
			Logger:         log,
		},
	)
	if err := server.Listen(); err != nil {
		return err
	}

	responder, err := discovery.NewServer(cfg.DiscoveryBindAddr(), server.ListenAddr(), cfg.DiscoveryRate, log)
	if err != nil {
		server.Stop()
		return err
	}

	var status *http.Server
	if cfg.StatusAddr != "" {
		status = &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           broker.NewStatusRouter(broker.NewStatusHandler(registry, metrics)),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	fmt.Printf("OK, listen on %s\n", server.ListenAddr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Serve)
	g.Go(responder.Serve)
	if status != nil {
		g.Go(func() error {
			log.Info("status_listening", "addr", status.Addr)
			if err := status.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status endpoint: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("received_shutdown_signal")
		responder.Shutdown()
		server.Stop()
		if status != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			status.Shutdown(shutdownCtx)
		}
		return nil
	})

	err = g.Wait()
	log.Info("broker_stopped_gracefully")
	return err
}

// defaultBindAddr returns the first non-loopback IPv4 address of the host,
// or 127.0.0.1 when there is none.
func defaultBindAddr() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
