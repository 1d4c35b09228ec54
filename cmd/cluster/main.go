package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ninthbyte/threadwatch/internal/bot"
	"github.com/ninthbyte/threadwatch/internal/ipc"
	"github.com/ninthbyte/threadwatch/internal/setup"
	"github.com/ninthbyte/threadwatch/internal/status"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const (
	// ClusterLogDir specifies where cluster log files are stored.
	ClusterLogDir = "logs/cluster_logs"
)

func main() {
	cmd := &cli.Command{
		Name:  "cluster",
		Usage: "Start one threadwatch cluster",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "id",
				Aliases: []string{"i"},
				Value:   0,
				Usage:   "Cluster ID within the fleet",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runCluster(ctx, int(c.Int("id")))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func runCluster(ctx context.Context, clusterID int) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := setup.InitializeCluster(ctx, ClusterLogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup()

	ipcClient := ipc.NewClient(clusterID, app.Config.Common.IPC.Addr, app.Logger)

	// The manager may still be coming up; keep dialing until it answers or
	// we are told to stop.
	err = backoff.Retry(func() error {
		return ipcClient.Connect(ctx)
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to manager: %w", err)
	}
	defer ipcClient.Close()

	reporter := status.NewReporter(
		app.StatusClient,
		clusterID,
		bot.ShardIDsForCluster(
			clusterID,
			app.Config.Common.Sharding.TotalShards,
			app.Config.Common.Sharding.TotalClusters,
		),
		time.Duration(app.Config.Cluster.HeartbeatInterval)*time.Second,
		app.Logger,
	)

	discordBot, err := bot.New(app.Config, clusterID, ipcClient, reporter, app.Logger)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	if err := discordBot.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bot: %w", err)
	}

	app.Logger.Info("Cluster started", zap.Int("clusterID", clusterID))

	<-ctx.Done()

	discordBot.Close()

	return nil
}
