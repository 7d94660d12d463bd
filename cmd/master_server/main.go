package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rxanders35/fdfs/pkg/master_server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	masterAddr        string
	logLevel          string
	heartbeatInterval time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "master_server",
		Short:        "Tracker: assigns writes to storage nodes and locates volumes",
		SilenceUsage: true,
		RunE:         runMaster,
	}

	rootCmd.Flags().StringVar(&masterAddr, "master-addr", "localhost:9090", "master's grpc address")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "log level")
	rootCmd.Flags().DurationVar(&heartbeatInterval, "heartbeat-interval", 5*time.Second,
		"expected node heartbeat interval; nodes silent for 3 intervals are dropped")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func runMaster(cmd *cobra.Command, args []string) error {
	setupLogging()
	if heartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat-interval must be positive, got %s", heartbeatInterval)
	}
	log.Info().Str("addr", masterAddr).Dur("heartbeat_interval", heartbeatInterval).Msg("Starting")

	s := master_server.NewGRPCServer(masterAddr, heartbeatInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(s.Run)
	g.Go(func() error {
		s.RunPruner(ctx, heartbeatInterval)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shut down")
		s.Stop()
		return nil
	})

	return g.Wait()
}
