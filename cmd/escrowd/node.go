package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"nftescrow/config"
	"nftescrow/core"
	"nftescrow/core/events"
	"nftescrow/integrations/kafka"
	"nftescrow/observability/logging"
	"nftescrow/observability/otel"
	"nftescrow/rpc"
	"nftescrow/services/indexer"
	"nftescrow/storage"
)

// node owns every long-lived component of the daemon.
type node struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        storage.Database
	index     *indexer.Store
	publisher *kafka.Publisher
	processor *core.Processor
	shutdown  func(context.Context) error

	publisherRan bool
}

func openNode(ctx context.Context, path string) (*node, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logFile := cfg.Logging.File
	if logFile != "" {
		logFile = cfg.ResolvePath(logFile)
	}
	logger := logging.SetupWithOptions(logging.Options{
		Service:    serviceName,
		Env:        cfg.Node.Environment,
		Level:      cfg.Logging.Level,
		File:       logFile,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	n := &node{cfg: cfg, logger: logger}
	ready := false
	defer func() {
		if !ready {
			n.Close(context.Background())
		}
	}()

	n.shutdown, err = otel.Init(ctx, cfg.OTel(serviceName))
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataDir := cfg.ResolvePath(cfg.Node.DataDir)
	var dbPath string
	if cfg.Node.DBBackend != "memory" && cfg.Node.DBBackend != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dbPath = filepath.Join(dataDir, "ledger")
		if cfg.Node.DBBackend != "leveldb" {
			dbPath += ".db"
		}
	}
	n.db, err = storage.Open(cfg.Node.DBBackend, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var sinks events.Multi
	if cfg.Indexer.Enabled {
		dsn := cfg.Indexer.DSN
		if cfg.Indexer.Driver == indexer.DriverSQLite {
			dsn = cfg.ResolvePath(dsn)
		}
		n.index, err = indexer.Open(cfg.Indexer.Driver, dsn, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, n.index)
	}
	if cfg.Kafka.Enabled {
		n.publisher, err = kafka.NewPublisher(kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), cfg.Kafka.QueueSize, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, n.publisher)
	}

	n.processor, err = core.NewProcessor(n.db,
		core.WithParams(cfg.EscrowParams()),
		core.WithEmitter(sinks),
		core.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	ready = true
	return n, nil
}

func (n *node) applyGenesis() (int, error) {
	spec, err := n.cfg.LoadGenesis()
	if err != nil {
		return 0, err
	}
	if spec == nil {
		return 0, nil
	}
	return n.processor.ApplyGenesis(spec)
}

// Run serves RPC and drains the event publisher until ctx ends.
func (n *node) Run(ctx context.Context) error {
	srvCfg := rpc.ServerConfig{
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: n.cfg.RateLimit.RequestsPerMinute,
			Burst:             n.cfg.RateLimit.Burst,
			TrustedProxies:    n.cfg.RateLimit.TrustedProxies,
		},
		Logger: n.logger,
	}
	if n.index != nil {
		srvCfg.Index = n.index
	}
	srv, err := rpc.NewServer(n.processor, srvCfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, n.cfg.Node.RPCAddress)
	})
	if n.publisher != nil {
		n.publisherRan = true
		g.Go(func() error {
			return n.publisher.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	n.logger.Info("shutdown complete")
	return nil
}

func (n *node) Close(ctx context.Context) {
	if n.publisher != nil && !n.publisherRan {
		// Flush events queued by genesis before the writer closes.
		drainCtx, cancel := context.WithCancel(ctx)
		cancel()
		_ = n.publisher.Run(drainCtx)
	}
	if n.index != nil {
		if err := n.index.Close(); err != nil {
			n.logger.Warn("close indexer", slog.Any("error", err))
		}
	}
	if n.db != nil {
		n.db.Close()
	}
	if n.shutdown != nil {
		if err := n.shutdown(ctx); err != nil {
			n.logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}
}
