package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mr-tron/base58"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/heliolabs/rollup/config"
	"github.com/heliolabs/rollup/executor"
	"github.com/heliolabs/rollup/ledger"
	"github.com/heliolabs/rollup/node"
	"github.com/heliolabs/rollup/rpc"
	"github.com/heliolabs/rollup/sequencer"
	"github.com/heliolabs/rollup/settlement"
)

var runCommand = cli.Command{
	Action: run,
	Name:   "run",
	Usage:  "starts the validator node",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "path to the YAML configuration file",
		},
	},
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open account store: %w", err)
	}

	accounts, err := ledger.New(store, logger)
	if err != nil {
		return errors.Join(err, store.Close())
	}

	if cfg.Settlement.Endpoint == "" {
		return errors.Join(
			fmt.Errorf("no settlement endpoint configured"),
			accounts.Close(),
		)
	}
	authority, err := loadAuthorityKey(cfg.Settlement.AuthorityKeyPath)
	if err != nil {
		return errors.Join(err, accounts.Close())
	}

	client := settlement.NewHTTPClient(cfg.Settlement.Endpoint, authority, logger)
	journal := sequencer.NewJournal(cfg.Sequencer.JournalPath)
	seq := sequencer.New(client, journal, sequencer.Config{
		Interval:        cfg.Sequencer.Interval,
		MaxBatchSize:    cfg.Sequencer.MaxBatchSize,
		QueueCapacity:   cfg.Sequencer.QueueCapacity,
		MaxRetries:      cfg.Sequencer.MaxRetries,
		ShutdownTimeout: cfg.Sequencer.ShutdownTimeout,
	}, logger)

	validator := node.New(accounts, executor.New(accounts, logger), seq, logger)
	validator.Start()

	server := rpc.NewServer(validator, logger)
	serverErrs := make(chan error, 1)
	go func() {
		serverErrs <- server.Listen(cfg.Listen)
	}()
	logger.Info("validator started", zap.String("listen", cfg.Listen))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-ctx.Done():
	case err := <-serverErrs:
		return errors.Join(err, validator.Close(context.Background()))
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Sequencer.ShutdownTimeout+5*time.Second,
	)
	defer cancel()
	return errors.Join(
		server.Shutdown(),
		validator.Close(shutdownCtx),
	)
}

func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}

func openStore(cfg config.DatabaseConfig) (ledger.Store, error) {
	switch cfg.Backend {
	case "leveldb":
		return ledger.NewLevelDbStore(cfg.Path)
	case "sqlite":
		return ledger.NewSqliteStore(cfg.Path)
	case "memory":
		return ledger.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database backend: %q", cfg.Backend)
	}
}

// loadAuthorityKey reads the base58-encoded settlement signing key. Both a
// 32-byte seed and a full 64-byte private key are accepted.
func loadAuthorityKey(path string) (ed25519.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("no settlement authority key configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read authority key: %w", err)
	}
	raw, err := base58.Decode(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode authority key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("authority key has unexpected length %d", len(raw))
	}
}
