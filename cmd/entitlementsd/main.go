package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/entitlements/pkg/api"
	"github.com/platinummonkey/entitlements/pkg/async"
	"github.com/platinummonkey/entitlements/pkg/catalog"
	"github.com/platinummonkey/entitlements/pkg/config"
	"github.com/platinummonkey/entitlements/pkg/entitlements"
	"github.com/platinummonkey/entitlements/pkg/features"
	"github.com/platinummonkey/entitlements/pkg/observability"
	"github.com/platinummonkey/entitlements/pkg/orgs"
	"github.com/platinummonkey/entitlements/pkg/overrides"
	"github.com/platinummonkey/entitlements/pkg/plans"
	"github.com/platinummonkey/entitlements/pkg/rbac"
	"github.com/platinummonkey/entitlements/pkg/storage/postgres"
	"github.com/platinummonkey/entitlements/pkg/usage"
)

var version = "dev"

func main() {
	migrateOnly := flag.Bool("migrate", false, "Apply database migrations and exit")
	flag.Parse()

	if err := config.LoadEnvFile(); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *migrateOnly {
		err = migrate(ctx, cfg, logger)
	} else {
		err = run(ctx, cfg, logger)
	}
	if err != nil {
		logger.WithError(err).Error("entitlementsd failed")
		os.Exit(1)
	}
}

// stores holds the backends selected by configuration
type stores struct {
	db        *sql.DB
	rdb       *redis.Client
	directory orgs.Service
	roles     rbac.Store
	overrides overrides.Store
	usage     usage.Store
}

func (s *stores) Close() error {
	var errs []error
	if s.rdb != nil {
		errs = append(errs, s.rdb.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

func openStores(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*stores, error) {
	st := &stores{}

	needsDB := cfg.Storage.Store == config.StorePostgres || cfg.Storage.UsageStore == config.StorePostgres
	if needsDB {
		db, err := postgres.Open(ctx, cfg.Storage.Postgres)
		if err != nil {
			return nil, err
		}
		st.db = db
		if err := postgres.Migrate(ctx, db, logger); err != nil {
			st.Close()
			return nil, err
		}
	}

	switch cfg.Storage.Store {
	case config.StorePostgres:
		st.directory = orgs.NewPostgresService(st.db)
		st.roles = rbac.NewSQLStore(st.db)
		st.overrides = overrides.NewPostgresStore(st.db)
	default:
		logger.Warn("Using in-memory stores; data is lost on restart")
		st.directory = orgs.NewMemoryService()
		st.roles = rbac.NewMemoryStore()
		st.overrides = overrides.NewMemoryStore()
	}

	switch cfg.Storage.UsageStore {
	case config.StorePostgres:
		st.usage = usage.NewPostgresStore(st.db)
	case config.StoreRedis:
		rdb, err := postgres.NewRedisClient(ctx, cfg.Storage.Redis)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.rdb = rdb
		st.usage = usage.NewRedisStore(rdb, cfg.Storage.RedisPrefix)
	default:
		st.usage = usage.NewMemoryStore(cfg.Policy.UsageMaxRetries)
	}

	logger.WithFields(map[string]interface{}{
		"store":       cfg.Storage.Store,
		"usage_store": cfg.Storage.UsageStore,
	}).Info("Stores initialized")
	return st, nil
}

func migrate(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	if cfg.Storage.Postgres.URL == "" {
		return fmt.Errorf("ENTITLEMENTS_POSTGRES_URL is required to migrate")
	}
	db, err := postgres.Open(ctx, cfg.Storage.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	return postgres.Migrate(ctx, db, logger)
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.Register(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	shutdown.Register(func(context.Context) error { return st.Close() })

	// assigned before any hook can fire: the watcher starts after it and
	// writes only happen once the API serves
	var memo *entitlements.MemoResolver

	fc := features.NewMemoryCatalog()
	pc := plans.NewMemoryCatalog()
	loader := catalog.NewLoader(cfg.Catalog.Path, fc, pc,
		catalog.WithLogger(logger),
		catalog.WithMetrics(metrics),
		catalog.OnReload(func() {
			if memo != nil {
				memo.Purge()
			}
		}),
	)
	if err := loader.Load(ctx); err != nil {
		return err
	}

	roles := rbac.NewManager(st.roles, fc, rbac.WithLogger(logger))

	overrideOpts := []overrides.Option{
		overrides.WithLogger(logger),
		overrides.WithMetrics(metrics),
		overrides.WithDirectory(st.directory),
		overrides.OnChange(func(o overrides.Override) {
			if memo != nil {
				memo.OverrideChanged(o)
			}
		}),
	}
	if cfg.Policy.RejectOverlappingOverrides {
		overrideOpts = append(overrideOpts, overrides.RejectOverlapping())
	}
	overrideSvc := overrides.NewService(st.overrides, fc, overrideOpts...)

	tracker := usage.NewTracker(st.usage, fc,
		usage.WithLogger(logger),
		usage.WithMetrics(metrics),
		usage.WithDirectory(st.directory),
		usage.OnChange(func(userID string) {
			if memo != nil {
				memo.InvalidateUser(userID)
			}
		}),
	)

	engine := entitlements.NewEngine(entitlements.Sources{
		Directory: st.directory,
		Features:  fc,
		Plans:     pc,
		Roles:     roles,
		Overrides: overrideSvc,
		Usage:     tracker,
	},
		entitlements.WithLogger(logger),
		entitlements.WithMetrics(metrics),
	)

	apiCfg := api.Config{
		Resolver:  engine,
		Overrides: overrideSvc,
		Usage:     tracker,
		Roles:     roles,
		Directory: st.directory,
		Features:  fc,
		Plans:     pc,
		Logger:    logger,
		Metrics:   metrics,
	}
	if cfg.Cache.ResolverSize > 0 {
		memo = entitlements.NewMemoResolver(engine, cfg.Cache.ResolverSize, cfg.Cache.ResolverTTL, metrics)
		apiCfg.Resolver = memo
		apiCfg.Invalidator = memo
		logger.WithFields(map[string]interface{}{
			"size": cfg.Cache.ResolverSize,
			"ttl":  cfg.Cache.ResolverTTL.String(),
		}).Info("Resolver memoization enabled")
	}

	if cfg.Catalog.Watch {
		async.SafeGo(ctx, logger, 0, "catalog watch", loader.Watch)
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(api.NewServer(apiCfg), "entitlements-api"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(version, st.db, st.rdb)
	health.AddCheck("catalog", true, loader.Ready)
	healthRouter := mux.NewRouter()
	healthRouter.HandleFunc("/health/live", health.Liveness).Methods("GET")
	healthRouter.HandleFunc("/health/ready", health.Readiness).Methods("GET")
	if metrics != nil {
		healthRouter.Handle("/metrics", observability.MetricsHandler(registry)).Methods("GET")
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     healthRouter,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	shutdown.AddServer(apiServer)
	shutdown.AddServer(healthServer)

	errCh := make(chan error, 2)
	for _, srv := range []*http.Server{apiServer, healthServer} {
		srv := srv
		go func() {
			logger.WithField("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server %s failed: %w", srv.Addr, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return shutdown.Wait(ctx)
	case err := <-errCh:
		return errors.Join(err, shutdown.Shutdown())
	}
}
