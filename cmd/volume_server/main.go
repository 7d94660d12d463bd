package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rxanders35/fdfs/pkg/config"
	"github.com/rxanders35/fdfs/pkg/ledger"
	"github.com/rxanders35/fdfs/pkg/metrics"
	"github.com/rxanders35/fdfs/pkg/tracker"
	"github.com/rxanders35/fdfs/pkg/volume_server"
	"github.com/rxanders35/fdfs/pkg/volume_server/layout"
	"github.com/rxanders35/fdfs/pkg/volume_server/lsm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	cfgFile    string
	logLevel   string
	listenAddr string
	masterAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "volume_server",
		Short: "Storage node: stores files on weighted local volumes",
		Long: `Storage node for an fdfs group.

Files are placed on the configured volumes by weighted round robin and
addressed by group/volume/shard/shard/file_id.ext references.

Example:
  volume_server --config /etc/fdfs/volume.yaml`,
		SilenceUsage: true,
		RunE:         runVolumeServer,
	}

	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "log level")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "http listen address (overrides config)")
	rootCmd.Flags().StringVar(&masterAddr, "master-addr", "", "master's grpc address (overrides config)")
	_ = rootCmd.MarkFlagRequired("config")

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

func runVolumeServer(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := config.LoadVolumeServerConfig(cfgFile)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if masterAddr != "" {
		cfg.MasterAddr = masterAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	serverID, err := getOrCreateServerID(cfg.DataDir)
	if err != nil {
		return err
	}

	m := metrics.New(nil)

	index, err := lsm.NewLSM(cfg.IndexDir)
	if err != nil {
		return err
	}
	defer index.Close()

	l, err := ledger.NewLedger(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer l.Close()

	r, err := volume_server.NewRegistry(cfg.RegistryConfig(),
		volume_server.WithObserver(m),
		volume_server.WithObserver(index),
		volume_server.WithObserver(l),
	)
	if err != nil {
		return fmt.Errorf("couldn't init volume registry: %w", err)
	}
	defer r.Close()
	m.SetVolumes(r.Volumes())

	for _, v := range r.Volumes() {
		log.Info().
			Str("volume", v.Name).
			Str("root", v.Root).
			Bool("read_write", v.ReadWrite).
			Int("weight", v.Weight).
			Uint64("used", v.Used).
			Msg("volume ready")
	}

	s, err := volume_server.NewHTTPServer(cfg.Listen, r,
		volume_server.WithJournal(r.Journal()),
		volume_server.WithIndex(index),
		volume_server.WithLedger(l),
		volume_server.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("couldn't init volume server: %w", err)
	}

	var mc *volume_server.MasterClient
	if cfg.MasterAddr != "" {
		t, err := tracker.Dial(cfg.MasterAddr)
		if err != nil {
			return err
		}
		defer t.Close()
		mc = volume_server.NewMasterClient(t, serverID, advertiseAddr(cfg.Listen, cfg.Host), r)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("listen", cfg.Listen).
			Str("group", r.Group()).
			Str("node", serverID.String()).
			Msg("volume server started")
		if err := s.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server run error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		r.RunCompactor(ctx, cfg.CompactInterval)
		return nil
	})

	g.Go(func() error {
		runScratchReaper(ctx, r, cfg.ScratchMaxAge)
		return nil
	})

	if mc != nil {
		g.Go(func() error {
			log.Info().Str("master", cfg.MasterAddr).Msg("reporting to master")
			mc.Run(ctx, cfg.HeartbeatInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shut down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func runScratchReaper(ctx context.Context, r *volume_server.Registry, maxAge time.Duration) {
	reap := func() {
		if _, err := r.ReapScratch(maxAge); err != nil {
			log.Warn().Err(err).Msg("scratch reaping failed")
		}
	}
	reap()

	ticker := time.NewTicker(maxAge)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reap()
		}
	}
}

// advertiseAddr turns a listen address such as ":8080" into one other
// machines can reach.
func advertiseAddr(listen, host string) string {
	h, port, err := net.SplitHostPort(listen)
	if err != nil || (h != "" && h != "0.0.0.0" && h != "::") {
		return listen
	}
	if host == "" {
		host, _ = os.Hostname()
	}
	return net.JoinHostPort(host, port)
}

func getOrCreateServerID(dataDir string) (uuid.UUID, error) {
	volumeServerIdPath := filepath.Join(dataDir, layout.NodeIDFile)

	// Check if the path exists and is a directory
	if info, err := os.Stat(volumeServerIdPath); err == nil && info.IsDir() {
		return uuid.Nil, fmt.Errorf("volume.id path %s is a directory, expected a file", volumeServerIdPath)
	}

	idData, err := os.ReadFile(volumeServerIdPath)
	if err == nil {
		volumeServerId, err := uuid.FromBytes(idData)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed parsing volume server id from %s: %w", volumeServerIdPath, err)
		}
		return volumeServerId, nil
	}

	// First start: mint an id and persist it next to the data.
	if errors.Is(err, os.ErrNotExist) {
		volumeServerId := uuid.New()
		if err := os.MkdirAll(dataDir, layout.DirPerm); err != nil {
			return uuid.Nil, fmt.Errorf("failed to create directory %s: %w", dataDir, err)
		}
		if err := os.WriteFile(volumeServerIdPath, volumeServerId[:], layout.FilePerm); err != nil {
			return uuid.Nil, fmt.Errorf("failed to write new volume.id file %s: %w", volumeServerIdPath, err)
		}
		return volumeServerId, nil
	}

	return uuid.Nil, fmt.Errorf("failed reading volume.id file %s: %w", volumeServerIdPath, err)
}
