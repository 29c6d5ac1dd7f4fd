// Package app assembles the scheduler's stores and services from
// configuration. Both the HTTP gateway and the CLI start from here.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/internal/repository"
	"github.com/noah-isme/class-scheduler-api/internal/service"
	"github.com/noah-isme/class-scheduler-api/pkg/cache"
	"github.com/noah-isme/class-scheduler-api/pkg/config"
	"github.com/noah-isme/class-scheduler-api/pkg/database"
	"github.com/noah-isme/class-scheduler-api/pkg/jobs"
	"github.com/noah-isme/class-scheduler-api/pkg/notify"
)

const catalogCachePrefix = "scheduler:catalog"

// App holds the wired services and the connections backing them.
type App struct {
	Config        *config.Config
	Logger        *zap.Logger
	DB            *sqlx.DB
	Redis         *redis.Client
	Metrics       *service.MetricsService
	Catalog       *service.CatalogService
	Enrollment    *service.EnrollmentService
	Notifications *service.NotificationService
}

// New connects to PostgreSQL, and Redis when the cache or the redis notify
// driver needs it, then builds every service. The notification workers are
// started with ctx. Call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, DB: db, Metrics: service.NewMetricsService()}

	if needsRedis(cfg) {
		a.Redis, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	publisher, err := notify.New(cfg.Notify, a.Redis)
	if err != nil {
		a.closeStores()
		return nil, fmt.Errorf("init notifier: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		cacheSvc = service.NewCacheService(repository.NewCacheRepository(a.Redis, catalogCachePrefix), a.Metrics, cfg.Cache.TTL, logger)
	}

	a.Catalog = service.NewCatalogService(
		repository.NewSemesterRepository(db),
		repository.NewCourseRepository(db),
		repository.NewOfferingRepository(db),
		repository.NewStudentRepository(db),
		cacheSvc,
		validate,
		logger,
	)

	a.Notifications = service.NewNotificationService(publisher, cfg.Notify.Subject, a.Metrics, jobs.QueueConfig{
		Workers:    cfg.Notify.Workers,
		MaxRetries: cfg.Notify.MaxRetries,
		RetryDelay: cfg.Notify.RetryDelay,
		Logger:     logger,
	}, logger)
	a.Notifications.Start(ctx)

	store := repository.NewEnrollmentRepository(db, repository.EnrollmentTxOptions{
		Isolation:   IsolationLevel(cfg.Enrollment.Isolation),
		LockTimeout: cfg.Enrollment.LockTimeout,
	}, a.Metrics)

	a.Enrollment = service.NewEnrollmentService(store, a.Notifications, a.Metrics, service.EnrollmentOptions{
		MaxAttempts:  cfg.Enrollment.MaxAttempts,
		RetryBackoff: cfg.Enrollment.RetryBackoff,
		Catalog:      a.Catalog,
	}, validate, logger)

	logger.Info("scheduler ready",
		zap.String("isolation", cfg.Enrollment.Isolation),
		zap.Bool("catalog_cache", cacheSvc.Enabled()),
		zap.String("notify_driver", cfg.Notify.Driver),
	)

	return a, nil
}

// Close drains pending notifications, then releases Redis and the database.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Notifications != nil {
		a.Notifications.Stop()
	}
	a.closeStores()
}

func (a *App) closeStores() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("close database", zap.Error(err))
		}
	}
}

// IsolationLevel maps a configured isolation name to its sql level.
func IsolationLevel(name string) sql.IsolationLevel {
	if name == config.IsolationSerializable {
		return sql.LevelSerializable
	}
	return sql.LevelReadCommitted
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Cache.Enabled || cfg.Notify.Driver == config.NotifyDriverRedis
}
