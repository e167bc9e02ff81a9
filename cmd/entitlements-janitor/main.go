package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/entitlements/pkg/config"
	"github.com/platinummonkey/entitlements/pkg/features"
	"github.com/platinummonkey/entitlements/pkg/observability"
	"github.com/platinummonkey/entitlements/pkg/orgs"
	"github.com/platinummonkey/entitlements/pkg/overrides"
	"github.com/platinummonkey/entitlements/pkg/storage/postgres"
	"github.com/platinummonkey/entitlements/pkg/usage"
)

var (
	runOnce   = flag.Bool("run-once", false, "Run the selected jobs once and exit")
	job       = flag.String("job", "all", "Job to run with --run-once: cleanup, reset, or all")
	orgList   = flag.String("orgs", "", "Comma-separated organization ids whose usage is reset; empty resets every user")
	logFormat = flag.String("log-format", "text", "Log format: text or json")
)

func main() {
	flag.Parse()

	if err := config.LoadEnvFile(); err != nil {
		logrus.Fatalf("Failed to load env file: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger := setupLogger(cfg.Observability.LogLevel.String(), *logFormat)

	if cfg.Storage.Store != config.StorePostgres {
		logger.Fatal("The janitor needs ENTITLEMENTS_STORE=postgres; in-memory overrides live in the service process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Storage.Postgres)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	var usageStore usage.Store
	switch cfg.Storage.UsageStore {
	case config.StorePostgres:
		usageStore = usage.NewPostgresStore(db)
	case config.StoreRedis:
		rdb, err := postgres.NewRedisClient(ctx, cfg.Storage.Redis)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		usageStore = usage.NewRedisStore(rdb, cfg.Storage.RedisPrefix)
	default:
		logger.Fatal("The janitor needs a shared usage store (postgres or redis)")
	}

	// cleanup and resets never consult the feature catalog
	catalog := features.NewMemoryCatalog()
	serviceLogger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	directory := orgs.NewPostgresService(db)

	j := &janitor{
		overrides:   overrides.NewService(overrides.NewPostgresStore(db), catalog, overrides.WithLogger(serviceLogger)),
		tracker:     usage.NewTracker(usageStore, catalog, usage.WithLogger(serviceLogger), usage.WithDirectory(directory)),
		orgIDs:      splitList(*orgList),
		concurrency: cfg.Janitor.Concurrency,
		logger:      logger,
	}

	if *runOnce {
		if err := runJobs(ctx, j, *job); err != nil {
			logger.Fatalf("Janitor run failed: %v", err)
		}
		logger.Info("Janitor run completed successfully")
		return
	}

	c := cron.New()
	_, err = c.AddFunc(cfg.Janitor.CleanupSchedule, func() {
		if err := j.cleanupExpired(ctx); err != nil {
			logger.Errorf("Override cleanup failed: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule override cleanup: %v", err)
	}

	_, err = c.AddFunc(cfg.Janitor.UsageResetSchedule, func() {
		if err := j.resetUsage(ctx); err != nil {
			logger.Errorf("Usage reset failed: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule usage reset: %v", err)
	}

	c.Start()
	logger.Info("Entitlements janitor started")
	logger.Infof("Override cleanup schedule: %s", cfg.Janitor.CleanupSchedule)
	logger.Infof("Usage reset schedule: %s", cfg.Janitor.UsageResetSchedule)

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	// waits for running jobs
	<-c.Stop().Done()
	logger.Info("Janitor stopped")
}

// runJobs runs the named job, or both for "all"
func runJobs(ctx context.Context, j *janitor, name string) error {
	switch name {
	case "cleanup":
		return j.cleanupExpired(ctx)
	case "reset":
		return j.resetUsage(ctx)
	case "all":
		if err := j.cleanupExpired(ctx); err != nil {
			return err
		}
		return j.resetUsage(ctx)
	default:
		return fmt.Errorf("unknown job %q (must be cleanup, reset, or all)", name)
	}
}

func setupLogger(level, format string) *logrus.Logger {
	logger := logrus.New()
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
