package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"citanft/internal/chainstate"
	"citanft/internal/config"
	"citanft/internal/idempotency"
	"citanft/internal/metrics"
	"citanft/internal/notify"
	"citanft/internal/txn"
	"citanft/internal/wallet"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/urfave/cli.v1"
)

// stack holds everything a command needs, built once from configuration.
type stack struct {
	cfg      *config.AppConfig
	metrics  *metrics.Registry
	recorder *notify.Recorder
	notifier notify.Notifier
	manager  *wallet.Manager
	poller   *chainstate.Poller
	orch     *txn.Orchestrator
	store    idempotency.Store
	closers  []func()
}

func newStack(ctx *cli.Context) (*stack, error) {
	cfg, err := config.LoadFrom(ctx.GlobalString(siteConfigFlag.Name), ctx.GlobalString(deploymentsFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if backend := ctx.GlobalString(backendFlag.Name); backend != "" {
		cfg.Wallet.Preferred = backend
	}

	s := &stack{
		cfg:      cfg,
		metrics:  metrics.New(),
		recorder: notify.NewRecorder(100),
	}

	notifiers := notify.Multi{notify.LogNotifier{}, s.recorder}
	if cfg.Service.DiscordToken != "" && cfg.Site.Discord.ChannelID != "" {
		discord, err := notify.NewDiscordNotifier(cfg.Service.DiscordToken, cfg.Site.Discord.ChannelID)
		if err != nil {
			log.Warn("Discord notices disabled", "err", err)
		} else {
			notifiers = append(notifiers, discord)
			s.closers = append(s.closers, func() { _ = discord.Close() })
		}
	}

	s.notifier = notifiers

	backends, err := buildBackends(cfg)
	if err != nil {
		return nil, err
	}
	s.manager = wallet.NewManager(wallet.Config{
		ChainID:  cfg.Chain.ChainID,
		Network:  cfg.Chain.Network,
		Contract: cfg.Chain.Contract,
		ABI:      cfg.Chain.ABI,
	}, func() (*wallet.Connector, error) {
		return wallet.NewConnector(wallet.ConnectorConfig{
			Network:   cfg.Chain.Network,
			Preferred: cfg.Wallet.Preferred,
		}, backends...)
	}, wallet.WithNotifier(notifiers), wallet.WithMetrics(s.metrics))
	s.closers = append(s.closers, s.manager.Disconnect)

	s.poller = chainstate.New(s.manager, chainstate.Config{
		Interval:  cfg.Service.PollInterval,
		SupplyCap: cfg.Chain.SupplyCap,
		Metrics:   s.metrics,
	})
	s.orch = txn.New(s.manager, txn.Config{
		MintPrice: cfg.Chain.MintPrice,
		Refresher: s.poller,
		Notifier:  notifiers,
		Metrics:   s.metrics,
	})

	store, err := openStore(cfg)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("idempotency store error: %w", err)
	}
	s.store = store

	log.Info("Client configured", "network", cfg.Chain.Network, "chain", cfg.Chain.ChainID,
		"contract", cfg.Chain.Contract, "backends", cfg.Wallet.Backends, "preferred", cfg.Wallet.Preferred)
	return s, nil
}

// buildBackends maps the configured backend names onto wallet backends.
func buildBackends(cfg *config.AppConfig) ([]wallet.Backend, error) {
	var backends []wallet.Backend
	for _, name := range cfg.Wallet.Backends {
		switch name {
		case wallet.BackendRPC:
			backends = append(backends, wallet.RPCBackend{RPCURL: cfg.Chain.RPCURL})
		case wallet.BackendPrivateKey:
			backends = append(backends, wallet.PrivateKeyBackend{
				RPCURL:        cfg.Chain.RPCURL,
				PrivateKeyHex: cfg.Wallet.PrivateKey,
			})
		case wallet.BackendKeystore:
			backends = append(backends, wallet.KeystoreBackend{
				RPCURL:     cfg.Chain.RPCURL,
				Dir:        cfg.Wallet.KeystoreDir,
				Account:    cfg.Wallet.Account,
				Passphrase: cfg.Wallet.Passphrase,
			})
		case wallet.BackendClef:
			backends = append(backends, wallet.ClefBackend{
				RPCURL:   cfg.Chain.RPCURL,
				Endpoint: cfg.Wallet.ClefEndpoint,
				Account:  cfg.Wallet.Account,
			})
		default:
			return nil, fmt.Errorf("unknown wallet backend %q", name)
		}
	}
	return backends, nil
}

// openStore prefers Postgres when DATABASE_URL is set and falls back to a file.
func openStore(cfg *config.AppConfig) (idempotency.Store, error) {
	if cfg.Service.DatabaseURL == "" {
		return idempotency.NewFileStore(cfg.Service.IdempotencyStorePath)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return idempotency.NewPostgresStore(ctx, cfg.Service.DatabaseURL)
}

func (s *stack) timeout() (context.Context, context.CancelFunc) {
	d := s.cfg.Service.RPCTimeout
	if d <= 0 {
		d = 15 * time.Second
	}
	return context.WithTimeout(context.Background(), d)
}

// supplyCap is the contract's cap once read, else the configured one.
func (s *stack) supplyCap() *big.Int {
	if c := s.poller.SupplyCap(); c != nil {
		return c
	}
	return s.cfg.Chain.SupplyCap
}

func (s *stack) Close() {
	if pg, ok := s.store.(*idempotency.PostgresStore); ok {
		pg.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}
