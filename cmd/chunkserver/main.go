// Command chunkserver runs the chunk data-plane core: the read
// service (C7), write chain (C6), wrong-CRC notifier (C9), and
// background chart/scan timers (C10), all backed by the HDD space
// manager (C2) and bounded worker pool (C4).
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chunkserver/internal/chunkconn"
	"chunkserver/internal/chunktimers"
	"chunkserver/internal/config"
	"chunkserver/internal/crcnotify"
	"chunkserver/internal/diskstore"
	"chunkserver/internal/jobpool"
	"chunkserver/internal/logging"
	"chunkserver/internal/peerstats"
	"chunkserver/internal/readservice"
	"chunkserver/internal/replicator"
	"chunkserver/internal/wireproto"
	"chunkserver/internal/wiring"
	"chunkserver/internal/writechain"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{Use: "chunkserver", Short: "Chunk data-plane core"}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chunkserver",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return run(ctx, logger, cfg)
		},
	}
	bindFlags(serveCmd)

	versionCmd := &cobra.Command{
		Use: "version",
		Run: func(cmd *cobra.Command, args []string) { fmt.Println(version) },
	}

	rootCmd.AddCommand(serveCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func bindFlags(cmd *cobra.Command) {
	cmd.Flags().String("addr", ":9422", "listen address (host:port)")
	cmd.Flags().StringSlice("disk", nil, "disk root directory (repeatable)")
	cmd.Flags().Int64Slice("disk-capacity", nil, "disk capacity in bytes, same order as --disk (optional)")
	cmd.Flags().Int("workers", 4, "worker pool size")
	cmd.Flags().Int("max-open-fds", 1024, "open chunk file descriptor cache size")
	cmd.Flags().Duration("scan-throttle", 1*time.Second, "pause between per-directory disk scan steps")
	cmd.Flags().Duration("rescan-interval", 10*time.Minute, "background full disk rescan period")
	cmd.Flags().Duration("chart-interval", 60*time.Second, "chart data rollup period")
	cmd.Flags().String("chart-path", "", "path to persist the chart database (disabled if empty)")
	cmd.Flags().Duration("connect-timeout", 1*time.Second, "peer dial timeout")
	cmd.Flags().Duration("wave-timeout", 500*time.Millisecond, "replication wave timeout")
	cmd.Flags().Duration("total-timeout", 60*time.Second, "replication total timeout")
}

func configFromFlags(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()

	cfg.ListenAddr, _ = cmd.Flags().GetString("addr")
	cfg.DiskRoots, _ = cmd.Flags().GetStringSlice("disk")
	cfg.DiskCapacities, _ = cmd.Flags().GetInt64Slice("disk-capacity")
	cfg.Workers, _ = cmd.Flags().GetInt("workers")
	cfg.MaxOpenFDs, _ = cmd.Flags().GetInt("max-open-fds")
	cfg.ScanThrottle, _ = cmd.Flags().GetDuration("scan-throttle")
	cfg.RescanInterval, _ = cmd.Flags().GetDuration("rescan-interval")
	cfg.ChartInterval, _ = cmd.Flags().GetDuration("chart-interval")
	cfg.ChartPath, _ = cmd.Flags().GetString("chart-path")
	cfg.ConnectTimeout, _ = cmd.Flags().GetDuration("connect-timeout")
	cfg.WaveTimeout, _ = cmd.Flags().GetDuration("wave-timeout")
	cfg.TotalTimeout, _ = cmd.Flags().GetDuration("total-timeout")

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config) error {
	store := diskstore.New(diskstore.Config{
		DiskRoots:      cfg.DiskRoots,
		DiskCapacities: cfg.DiskCapacities,
		MaxOpenFDs:     cfg.MaxOpenFDs,
		Logger:         logger,
	})

	logger.Info("scanning disks", "roots", strings.Join(cfg.DiskRoots, ","))
	if err := store.ScanAll(ctx, cfg.ScanThrottle); err != nil {
		return fmt.Errorf("initial disk scan: %w", err)
	}
	if err := store.Watch(ctx); err != nil {
		logger.Warn("disk watch unavailable, relying on periodic rescan only", "error", err)
	}

	pool, err := jobpool.New(cfg.JobPoolConfig())
	if err != nil {
		return fmt.Errorf("create job pool: %w", err)
	}
	defer pool.Shutdown()
	readservice.RegisterHandlers(pool)
	writechain.RegisterHandlers(pool)
	go pool.Run(ctx)

	connector := chunkconn.NewTCPConnector()
	peers := peerstats.New(nil)

	notifier := crcnotify.New(cfg.CRCNotifierConfig(connector))
	store.SetCRCFailureReporter(func(key diskstore.ChunkKey, chunkVersion uint32, blockIndex int) {
		// No MasterConnection is wired in, so there is no peer list to
		// advise — this is the boundary SPEC_FULL documents as external
		// (a real deployment bridges this to Notifier.ReportBadCRC once
		// per known replica peer).
		logger.Warn("block failed CRC verification", "chunk_id", key.ID, "part", key.PartType, "version", chunkVersion, "block", blockIndex)
	})
	notifier.Start(ctx)
	defer notifier.Close()

	timers, err := chunktimers.New(chunktimers.Config{
		Store: store, Peers: peers, Logger: logger,
		ChartInterval: cfg.ChartInterval, RescanInterval: cfg.RescanInterval,
		ScanThrottle: cfg.ScanThrottle,
	})
	if err != nil {
		return fmt.Errorf("create chunk timers: %w", err)
	}
	if cfg.ChartPath != "" {
		if err := timers.Chart().Load(cfg.ChartPath); err != nil {
			logger.Info("no existing chart database to load", "path", cfg.ChartPath, "error", err)
		}
	}
	if err := timers.Start(ctx); err != nil {
		return fmt.Errorf("start chunk timers: %w", err)
	}
	defer timers.Stop()

	// Replicator is wired for a future MasterConnection-driven repair
	// path (LIZ_CSTOMA_REPLICATE, spec.md §4.8); nothing in a
	// standalone process currently triggers it.
	_ = replicator.New(cfg.ReplicatorConfig(connector))

	readServer := readservice.NewServer(readservice.Config{
		Store: store, Pool: pool, Connector: connector,
		Locator: &wiring.StandaloneLocator{Store: store}, Logger: logger,
	})
	writeCfg := wiring.WriteConfigFor(store, connector, pool, peers, logger)
	handler := wiring.NewConnHandler(logger, readServer, writeCfg)

	listener, err := chunkconn.Listen(ctx, cfg.ListenAddr, logger, handler.Handle)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	logger.Info("chunkserver listening", "addr", listener.Addr())

	<-ctx.Done()
	logger.Info("shutting down")
	if err := listener.Close(); err != nil {
		logger.Error("listener close error", "error", err)
	}
	if cfg.ChartPath != "" {
		if err := timers.Chart().Save(cfg.ChartPath); err != nil {
			logger.Error("failed to persist chart database", "path", cfg.ChartPath, "error", err)
		}
	}
	logger.Info("shutdown complete")
	return nil
}

var _ = wireproto.OpCltocsRead // keep wireproto imported for godoc grouping; used transitively by wiring
