package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gridcache/internal/api"
	"gridcache/internal/config"
	"gridcache/internal/membership"
	"gridcache/internal/node"
	"gridcache/internal/storage"
	"gridcache/internal/transport"
)

type serveFlags struct {
	configFile string
	nodeID     string
	listen     string
	admin      string
	peers      string
	dataDir    string
	logLevel   string
}

func newServeCommand() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a cache node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, &f)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&f.configFile, "config", "", "path to a TOML config file")
	cmd.Flags().StringVar(&f.nodeID, "node-id", "", "node identity")
	cmd.Flags().StringVar(&f.listen, "listen", "", "replica gRPC address")
	cmd.Flags().StringVar(&f.admin, "admin", "", "admin HTTP address")
	cmd.Flags().StringVar(&f.peers, "peers", "", "peers as id=addr,id=addr")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "", "goleveldb directory; empty keeps data in memory")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	return cmd
}

// loadConfig reads the config file, then lets flags that were set override it.
func loadConfig(cmd *cobra.Command, f *serveFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("node-id") {
		cfg.NodeID = f.nodeID
	}
	if flags.Changed("listen") {
		cfg.ListenAddr = f.listen
	}
	if flags.Changed("admin") {
		cfg.AdminAddr = f.admin
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if flags.Changed("peers") {
		peers, err := config.ParsePeers(f.peers)
		if err != nil {
			return nil, err
		}
		cfg.Peers = peers
	}
	if len(cfg.Caches) == 0 {
		cfg.Caches = []config.CacheConfig{{Name: "default"}}
		cfg.Adjust(nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if err := zc.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	return zc.Build()
}

func serve(cfg *config.Config) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	for _, msg := range cfg.WarningMsgs {
		logger.Warn(msg)
	}
	logger.Info("starting", zap.Stringer("config", cfg))

	db, err := storage.OpenLevelDB(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	var n *node.Node
	tr := transport.NewGRPCTransport(cfg.NodeID, func(id string) (string, bool) {
		return n.Ring().Addr(id)
	}, logger)

	peers := cfg.BuildRingNodes()[1:]
	n, err = node.New(node.Options{
		NodeID:    cfg.NodeID,
		Addr:      cfg.ListenAddr,
		Peers:     peers,
		DB:        db,
		Transport: tr,
		VNodes:    cfg.VNodes,
		Membership: membership.Config{
			ProbeInterval:  cfg.ProbeInterval.Duration,
			ProbeTimeout:   cfg.ProbeTimeout.Duration,
			SuspectTimeout: cfg.SuspectTimeout.Duration,
		},
		RepairInterval: cfg.RepairInterval.Duration,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	for _, cc := range cfg.Caches {
		if _, err := n.CreateCache(cc); err != nil {
			return err
		}
	}

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", cfg.ListenAddr)
	}
	grpcSrv := transport.NewServer(n, logger)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("replica service stopped", zap.Error(err))
		}
	}()

	adminSrv := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           api.NewServer(n, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("admin listening", zap.String("addr", cfg.AdminAddr))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server failed", zap.Error(err))
		}
	}()

	n.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = adminSrv.Shutdown(shutdownCtx)
	grpcSrv.Stop()
	return n.Stop()
}
