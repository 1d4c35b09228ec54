package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ninthbyte/threadwatch/internal/cache"
	"github.com/ninthbyte/threadwatch/internal/database"
	"github.com/ninthbyte/threadwatch/internal/ipc"
	"github.com/ninthbyte/threadwatch/internal/manager"
	"github.com/ninthbyte/threadwatch/internal/setup"
	"github.com/ninthbyte/threadwatch/internal/status"
	"github.com/ninthbyte/threadwatch/internal/watcher"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const (
	// ManagerLogDir specifies where manager log files are stored.
	ManagerLogDir = "logs/manager_logs"

	staleCheckInterval = time.Minute
)

func main() {
	cmd := &cli.Command{
		Name:  "manager",
		Usage: "Start the threadwatch manager",
		Action: func(ctx context.Context, _ *cli.Command) error {
			return runManager(ctx)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func runManager(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := setup.InitializeManager(ctx, ManagerLogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup()

	guildCache := cache.New(
		database.NewGuildStore(app.DB), &app.Config.Manager.Cache, app.Logger,
	)
	guildCache.Start(ctx)

	poller := watcher.NewPoller(
		app.Threads,
		time.Duration(app.Config.Manager.Watcher.FetchDelay)*time.Millisecond,
		app.Logger,
	)

	w := watcher.New(
		guildCache, poller,
		&app.Config.Manager.Watcher, &app.Config.Common.Sharding, app.Logger,
	)

	handler := manager.NewHandler(guildCache, w, app.Threads, app.Logger)
	server := ipc.NewServer(app.Config.Common.IPC.Addr, handler, app.Logger)
	w.SetSender(server)

	go w.Start(ctx)
	go watchClusterHealth(ctx, status.NewMonitor(app.StatusClient, app.Logger), app.Logger)

	app.Logger.Info("Manager started",
		zap.String("ipcAddr", app.Config.Common.IPC.Addr))

	return server.Listen(ctx)
}

// watchClusterHealth periodically logs clusters whose heartbeat went stale.
func watchClusterHealth(ctx context.Context, monitor *status.Monitor, logger *zap.Logger) {
	ticker := time.NewTicker(staleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stale, err := monitor.StaleClusters(ctx)
			if err != nil {
				logger.Warn("Failed to check cluster health", zap.Error(err))
				continue
			}

			for _, s := range stale {
				logger.Warn("Cluster heartbeat is stale",
					zap.Int("clusterID", s.ClusterID),
					zap.Time("lastSeen", s.LastSeen))
			}
		}
	}
}
