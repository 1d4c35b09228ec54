// Package setup bootstraps the manager and cluster processes: configuration,
// loggers, and connections, in dependency order.
package setup

import (
	"context"
	"log"
	"time"

	"github.com/ninthbyte/threadwatch/internal/database"
	"github.com/ninthbyte/threadwatch/internal/redis"
	"github.com/ninthbyte/threadwatch/internal/setup/config"
	"github.com/ninthbyte/threadwatch/internal/threads"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// App bundles the dependencies a process needs. DB and Threads are only set
// for the manager; clusters talk to the store through the IPC channel.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	DBLogger     *zap.Logger
	DB           database.Client
	RedisManager *redis.Manager
	StatusClient rueidis.Client
	Threads      *threads.Client
}

// InitializeManager bootstraps the manager process. A store-connect failure
// here is fatal; no manager operation is meaningful without the durable
// store.
func InitializeManager(ctx context.Context, logDir string) (*App, error) {
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger, dbLogger, err := GetLoggers(logDir, cfg.Common.Debug.LogLevel, cfg.Common.Debug.MaxLogsToKeep)
	if err != nil {
		return nil, err
	}

	redisManager := redis.NewManager(&cfg.Common.Redis, logger)

	db, err := database.NewConnection(ctx, &cfg.Common.PostgreSQL, dbLogger, true)
	if err != nil {
		return nil, err
	}

	requestTimeout := time.Duration(cfg.Manager.RequestTimeout) * time.Millisecond

	threadsClient, err := threads.NewClient(&cfg.Common, redisManager, requestTimeout, logger)
	if err != nil {
		return nil, err
	}

	statusClient, err := redisManager.GetClient(redis.ClusterStatusDBIndex)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:       cfg,
		Logger:       logger,
		DBLogger:     dbLogger.Named("database"),
		DB:           db,
		RedisManager: redisManager,
		StatusClient: statusClient,
		Threads:      threadsClient,
	}, nil
}

// InitializeCluster bootstraps one cluster process. Clusters carry no
// database connection; their durable reads and writes go through the
// manager.
func InitializeCluster(_ context.Context, logDir string) (*App, error) {
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger, dbLogger, err := GetLoggers(logDir, cfg.Common.Debug.LogLevel, cfg.Common.Debug.MaxLogsToKeep)
	if err != nil {
		return nil, err
	}

	redisManager := redis.NewManager(&cfg.Common.Redis, logger)

	statusClient, err := redisManager.GetClient(redis.ClusterStatusDBIndex)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:       cfg,
		Logger:       logger,
		DBLogger:     dbLogger,
		RedisManager: redisManager,
		StatusClient: statusClient,
	}, nil
}

// Cleanup shuts components down in reverse initialization order. Cleanup
// errors are logged, never fatal.
func (a *App) Cleanup() {
	if err := a.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	if err := a.DBLogger.Sync(); err != nil {
		log.Printf("Failed to sync DB logger: %v", err)
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			log.Printf("Failed to close database connection: %v", err)
		}
	}

	a.RedisManager.Close()
}
