package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/taxi-dispatch/internal/auth"
	"github.com/example/taxi-dispatch/internal/config"
	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/eta"
	"github.com/example/taxi-dispatch/internal/fare"
	"github.com/example/taxi-dispatch/internal/geo"
	httpapi "github.com/example/taxi-dispatch/internal/http"
	"github.com/example/taxi-dispatch/internal/ingest"
	"github.com/example/taxi-dispatch/internal/logging"
	"github.com/example/taxi-dispatch/internal/matcher"
	"github.com/example/taxi-dispatch/internal/payments"
	"github.com/example/taxi-dispatch/internal/registry"
	"github.com/example/taxi-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("taxi-api", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var positions geo.Locator = geo.NewIndex()
	if cfg.RedisAddr != "" {
		rg := geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		defer rg.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rg.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Warn("redis unreachable, matcher will scan the store until it recovers", "addr", cfg.RedisAddr, "error", err)
		}
		positions = rg
	}

	wsReg := dispatch.NewWSRegistry()
	transports := []dispatch.Transport{dispatch.LogTransport{Logger: logger}, wsReg}
	if len(cfg.KafkaBrokers) > 0 {
		kt := dispatch.NewKafkaTransport(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		defer kt.Close()
		transports = append(transports, kt)
	}
	if cfg.AMQPURL != "" {
		at, err := dispatch.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			// events still reach the other transports
			logger.Warn("rabbitmq unavailable, ride events will not be published there", "error", err)
		} else {
			defer at.Close()
			transports = append(transports, at)
		}
	}
	if cfg.WebhookURL != "" {
		transports = append(transports, dispatch.NewWebhookTransport(cfg.WebhookURL, cfg.WebhookKey))
	}
	dispatcher := dispatch.New(logger, cfg.EventBuffer, transports...)
	defer dispatcher.Close()

	var gateway payments.Gateway = &payments.Offline{}
	if cfg.StripeAPIKey != "" {
		gateway = payments.NewStripeClient(cfg.StripeAPIKey, cfg.PaymentCurrency)
	}

	fares, err := fare.New(cfg.Fares)
	if err != nil {
		return err
	}
	reg := registry.New(store, fares,
		registry.WithNotifier(dispatcher),
		registry.WithPositions(positions),
		registry.WithPayments(gateway),
		registry.WithLogger(logger),
	)

	etaChain := &eta.Chain{Fallback: eta.Flat{TrafficFactor: cfg.Fares.TrafficFactor}, Cache: eta.NewCache(cfg.ETACacheTTL)}
	if cfg.OSRMEndpoint != "" {
		etaChain.Primary = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}
	m := &matcher.Service{
		Store:           store,
		Positions:       positions,
		Fares:           fares,
		ETA:             etaChain,
		Logger:          logger,
		TopN:            cfg.MatcherTopN,
		DefaultRadiusKm: cfg.MatchRadiusKm,
	}

	var locations httpapi.LocationPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		locations = kp
	}

	api := httpapi.NewServer(httpapi.Deps{
		Registry: reg,
		Matcher:  m,
		Auth:     auth.NewManager(cfg.JWTSecret, cfg.JWTTTL),
		WS:       wsReg,
		Ingest:   locations,
		Logger:   logger,
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("taxi-dispatch listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, error) {
	if cfg.PGDSN == "" {
		logger.Warn("PG_DSN not set, using in-memory store")
		return storage.NewMemoryStore(), nil
	}
	ps, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	if cfg.RunMigrations {
		applied, err := ps.Migrate(ctx)
		if err != nil {
			_ = ps.Close()
			return nil, err
		}
		logger.Info("migrations applied", "files", applied)
	}
	return ps, nil
}
