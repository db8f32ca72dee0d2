package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"citanft/internal/idempotency"
	"citanft/internal/server"
	"citanft/internal/txn"
	"citanft/internal/view"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/urfave/cli.v1"
)

var app *cli.App

func init() {
	app = cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Usage = "Cita NFT minting client"
	app.Flags = []cli.Flag{
		siteConfigFlag,
		deploymentsFlag,
		backendFlag,
		verbosityFlag,
	}
	app.Before = func(ctx *cli.Context) error {
		setupLogging(ctx.GlobalInt(verbosityFlag.Name))
		return nil
	}
	app.Action = serve
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "Run the HTTP API and the contract poller",
			Flags:  []cli.Flag{noPollFlag},
			Action: serve,
		},
		{
			Name:   "info",
			Usage:  "Print the contract state once",
			Action: info,
		},
		{
			Name:   "mint",
			Usage:  "Mint one token and wait for confirmation",
			Action: func(ctx *cli.Context) error { return submit(ctx, txn.Mint) },
		},
		{
			Name:   "start-presale",
			Usage:  "Start the presale (contract owner only)",
			Action: func(ctx *cli.Context) error { return submit(ctx, txn.StartPresale) },
		},
	}
}

func setupLogging(verbosity int) {
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(verbosity), true)
	log.SetDefault(log.NewLogger(handler))
}

func serve(ctx *cli.Context) error {
	stack, err := newStack(ctx)
	if err != nil {
		return err
	}
	defer stack.Close()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !ctx.Bool(noPollFlag.Name) {
		stack.poller.Sync(runCtx)
		announcements := stack.poller.Announce(runCtx, stack.notifier)
		defer announcements.Unsubscribe()

		go func() {
			if err := stack.poller.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("Poller stopped", "err", err)
			}
		}()
	}

	if purger, ok := stack.store.(idempotency.Purger); ok {
		go func() {
			if err := idempotency.Sweep(runCtx, purger, stack.cfg.Service.IdempotencyWindow); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("Idempotency sweep stopped", "err", err)
			}
		}()
	}

	apiServer := server.NewServer(stack.cfg, server.Deps{
		Wallet:  stack.manager,
		State:   stack.poller,
		Txn:     stack.orch,
		Store:   stack.store,
		Notices: stack.recorder,
		Metrics: stack.metrics,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		log.Info("Got interrupt, shutting down...")
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	}

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	return apiServer.Shutdown(shutdownCtx)
}

func info(ctx *cli.Context) error {
	stack, err := newStack(ctx)
	if err != nil {
		return err
	}
	defer stack.Close()

	c, cancel := stack.timeout()
	defer cancel()

	if _, err := stack.manager.Connect(c, false); err != nil {
		return err
	}
	state := stack.poller.Sync(c)
	session := stack.manager.Session()

	fmt.Printf("Network:         %s (chain %s)\n", stack.cfg.Chain.Network, stack.cfg.Chain.ChainID)
	fmt.Printf("Contract:        %s\n", stack.cfg.Chain.Contract.Hex())
	fmt.Printf("Wallet:          %s %s\n", session.Backend, session.Address)
	fmt.Printf("Backends:        %s\n", strings.Join(stack.manager.Backends(), ", "))
	fmt.Printf("Presale started: %t\n", state.PresaleStarted)
	fmt.Printf("Presale ended:   %t\n", state.PresaleEnded)
	fmt.Printf("Owner:           %t\n", state.IsOwner)
	fmt.Printf("Minted:          %s\n", view.MintedLabel(state.MintedCount, stack.supplyCap()))
	fmt.Printf("Next action:     %s\n", view.NextAction(view.Snapshot{
		Connected:      session.Connected,
		IsOwner:        state.IsOwner,
		PresaleStarted: state.PresaleStarted,
		MintedCount:    state.MintedCount,
		SupplyCap:      stack.supplyCap(),
	}))
	return nil
}

func submit(ctx *cli.Context, op txn.Operation) error {
	stack, err := newStack(ctx)
	if err != nil {
		return err
	}
	defer stack.Close()

	c, cancel := signalContext()
	defer cancel()

	if _, err := stack.manager.Connect(c, true); err != nil {
		return err
	}
	state := stack.poller.Sync(c)
	if op == txn.Mint && view.SoldOut(state.MintedCount, stack.supplyCap()) {
		return errors.New("supply sold out")
	}

	receipt, err := stack.orch.Submit(c, op)
	if err != nil {
		return err
	}
	fmt.Printf("%s confirmed in block %s (tx %s)\n", op, receipt.BlockNumber, receipt.TxHash.Hex())
	if op == txn.Mint {
		fmt.Println(view.MintedLabel(stack.poller.State().MintedCount, stack.supplyCap()))
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
