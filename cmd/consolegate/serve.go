package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kweaver-ai/consolegate"
	"github.com/kweaver-ai/consolegate/config"
	"github.com/kweaver-ai/consolegate/internal/audit"
	"github.com/kweaver-ai/consolegate/internal/discovery"
	"github.com/kweaver-ai/consolegate/internal/httpclient"
	"github.com/kweaver-ai/consolegate/internal/logger"
	"github.com/kweaver-ai/consolegate/internal/metrics"
	"github.com/kweaver-ai/consolegate/internal/oauth"
	"github.com/kweaver-ai/consolegate/internal/security"
	"github.com/kweaver-ai/consolegate/internal/userinfo"
	"github.com/kweaver-ai/consolegate/session"
)

const healthTimeout = 2 * time.Second

// serveConfigPath is a YAML file; CONSOLEGATE_CONFIG_FILE is used when empty.
var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	Long: `Loads the configuration (file, then CONSOLEGATE_* environment variables),
mounts one gateway per configured product under its path prefix and serves
/metrics and /healthz next to them.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to the YAML configuration file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewLoader().Load(serveConfigPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Logging.Level)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	clients := httpclient.NewFactory(log)
	defer clients.Close()

	redisClient := cfg.Redis.NewClient()
	defer func() { _ = redisClient.Close() }() // Safe to ignore: shutting down

	handler, err := buildHandler(cfg, log, m, registry, clients, redisClient)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Listening on %s", cfg.Server.Addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildHandler wires the collaborators once and mounts a gateway per product.
func buildHandler(cfg *config.Config, log logger.Logger, m *metrics.Metrics, registry *prometheus.Registry, clients *httpclient.Factory, redisClient *redis.Client) (http.Handler, error) {
	resolver, err := discovery.New(cfg.Discovery, clients.MustPreset(httpclient.ClientTypeDiscovery), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery resolver: %w", err)
	}
	store := session.NewRedisStore(redisClient, cfg.Session, log)

	opts := consolegate.Options{
		Resolver: resolver,
		OAuth: oauth.NewClient(oauth.Options{
			HTTPClient:       clients.MustPreset(httpclient.ClientTypeAuth),
			EndSessionClient: clients.MustPreset(httpclient.ClientTypeEndSession),
			Scopes:           cfg.OAuth.Scopes,
			Logger:           log,
			Metrics:          m,
		}),
		Directory:            userinfo.NewDirectory(clients.MustPreset(httpclient.ClientTypeDirectory), userinfo.RoleMap(cfg.Roles), log, m),
		Recorder:             audit.NewRecorder(clients.MustPreset(httpclient.ClientTypeSideChannel), log, m),
		Store:                store,
		Metrics:              m,
		Logger:               log,
		RateLimit:            cfg.RateLimit,
		TrustForwardedPrefix: cfg.Server.TrustForwardedPrefix,
	}

	mux := http.NewServeMux()
	for _, product := range cfg.Products {
		gw, err := consolegate.New(product, opts)
		if err != nil {
			return nil, err
		}
		mux.Handle(product.PathPrefix+"/", gw)
		log.Infof("Mounted %s gateway at %s/", product.Name, product.PathPrefix)
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			log.Errorf("Health check failed: %v", err)
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok")) // Safe to ignore: health response write
	})
	return security.NewHeaders(nil, log).Wrap(mux), nil
}
