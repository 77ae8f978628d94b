package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/diagnostics"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/service"
	"github.com/kozaktomas/face-attendance/internal/spool"
	"github.com/kozaktomas/face-attendance/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance engine and the HTTP API",
	Long: `Start the attendance engine.
Active cameras from CAMERAS_FILE are started, enrolled embeddings are loaded
from PostgreSQL and the HTTP API is served. SIGINT or SIGTERM stops the
cameras, flushes pending attendance events and shuts the server down.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Bool("no-spool", false, "Disable the SQLite overflow spool")
}

// newMetrics creates the attendance metrics on a registry that also carries
// the Go runtime and process collectors.
func newMetrics() (*metrics.Metrics, *prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return nil, nil, err
	}
	return m, registry, nil
}

// connectMQTT connects the diagnostics forwarder. A broker that cannot be
// reached disables forwarding instead of failing startup.
func connectMQTT(ctx context.Context, cfg *config.Config, log zerolog.Logger) *diagnostics.MQTTPublisher {
	if cfg.MQTT.Broker == "" {
		return nil
	}
	pub, err := diagnostics.NewMQTTPublisher(diagnostics.MQTTConfig{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID + "-diagnostics",
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		Topic:    cfg.MQTT.DiagnosticsTopic,
	}, logging.Component("mqtt"))
	if err != nil {
		log.Warn().Err(err).Msg("diagnostics forwarding disabled")
		return nil
	}
	if err := pub.Connect(ctx); err != nil {
		log.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("diagnostics forwarding disabled")
		return nil
	}
	return pub
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
	log := logging.Component("serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	m, registry, err := newMetrics()
	if err != nil {
		return err
	}
	opts := []service.Option{service.WithMetrics(m), service.WithLogger(logging.Component("service"))}

	if !mustGetBool(cmd, "no-spool") && cfg.Spool.Path != "" {
		sp, err := spool.Open(cfg.Spool.Path)
		if err != nil {
			return fmt.Errorf("failed to open spool: %w", err)
		}
		opts = append(opts, service.WithSpool(sp))
	}
	if pub := connectMQTT(ctx, cfg, log); pub != nil {
		opts = append(opts, service.WithMQTT(pub))
	}

	svc, err := service.New(cfg, repositories(pool), opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error().Err(err).Msg("error during shutdown")
		}
	}()

	if err := svc.LoadStore(ctx); err != nil {
		return err
	}
	if _, err := svc.Prime(ctx); err != nil {
		return err
	}

	server := web.NewServer(cfg, svc, registry)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), constants.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Info().
		Str("addr", server.Addr()).
		Int("cameras", len(cfg.Cameras)).
		Str("version", Version).
		Msg("face attendance started, press Ctrl+C to stop")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
