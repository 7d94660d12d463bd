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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rxanders35/fdfs/pkg/gateway"
	"github.com/rxanders35/fdfs/pkg/tracker"
	"github.com/spf13/cobra"
)

var (
	masterAddr   string
	gatewayAddr  string
	defaultGroup string
	logLevel     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "gateway",
		Short:        "HTTP gateway in front of the storage cluster",
		SilenceUsage: true,
		RunE:         runGateway,
	}

	rootCmd.Flags().StringVar(&masterAddr, "master-addr", "localhost:9090", "master's grpc address")
	rootCmd.Flags().StringVar(&gatewayAddr, "gateway-addr", "127.0.0.1:8081", "gateway's http address")
	rootCmd.Flags().StringVar(&defaultGroup, "group", "group1", "group used for writes that don't name one")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

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

func runGateway(cmd *cobra.Command, args []string) error {
	setupLogging()

	m, err := tracker.Dial(masterAddr)
	if err != nil {
		return fmt.Errorf("failed to init master client on API gateway: %w", err)
	}
	defer m.Close()

	h, err := gateway.NewGatewayHandler(m, defaultGroup, &http.Client{Timeout: time.Minute})
	if err != nil {
		return err
	}
	s, err := gateway.NewGatewayServer(gatewayAddr, h)
	if err != nil {
		return fmt.Errorf("failed to init API gateway: %w", err)
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", gatewayAddr).Str("master", masterAddr).Msg("gateway started")
		if err := s.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errc:
		return fmt.Errorf("server run error: %w", err)
	}

	log.Info().Msg("Shut down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
