// Package txn submits the collection's write transactions one at a time.
package txn

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"

	"citanft/internal/metrics"
	"citanft/internal/notify"
	"citanft/internal/wallet"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

var (
	ErrAlreadyPending = errors.New("a transaction is already pending")
	ErrUserRejected   = errors.New("transaction rejected by wallet")
	ErrReverted       = errors.New("transaction reverted")
)

type Operation int

const (
	StartPresale Operation = iota
	Mint
)

func (o Operation) String() string {
	switch o {
	case StartPresale:
		return "start_presale"
	case Mint:
		return "mint"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// ParseOperation accepts the names produced by String.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start_presale", "start-presale", "startpresale":
		return StartPresale, nil
	case "mint":
		return Mint, nil
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

// HandleSource hands out chain handles. *wallet.Manager satisfies it.
type HandleSource interface {
	Handle(ctx context.Context, needWrite bool) (*wallet.Handle, error)
}

// Refresher is told about confirmed transactions so cached state catches up.
type Refresher interface {
	RefreshPresaleStatus(ctx context.Context) bool
	RefreshMintedCount(ctx context.Context) string
}

// Result is the outcome of one submission.
type Result struct {
	Operation Operation
	TxHash    string
	Receipt   *types.Receipt
	Err       error
}

type Config struct {
	// MintPrice is attached to every mint, in wei. Nil means zero.
	MintPrice *big.Int
	Refresher Refresher
	Notifier  notify.Notifier
	Metrics   *metrics.Registry
}

// Orchestrator allows at most one write transaction in flight and never
// queues or retries.
type Orchestrator struct {
	src       HandleSource
	mintPrice *big.Int
	refresher Refresher
	notifier  notify.Notifier
	metrics   *metrics.Registry

	inFlight atomic.Bool
}

func New(src HandleSource, cfg Config) *Orchestrator {
	price := cfg.MintPrice
	if price == nil {
		price = new(big.Int)
	}
	return &Orchestrator{
		src:       src,
		mintPrice: new(big.Int).Set(price),
		refresher: cfg.Refresher,
		notifier:  cfg.Notifier,
		metrics:   cfg.Metrics,
	}
}

// InFlight reports whether a transaction is awaiting confirmation.
func (o *Orchestrator) InFlight() bool {
	return o.inFlight.Load()
}

// Submit sends op and waits for its confirmation.
func (o *Orchestrator) Submit(ctx context.Context, op Operation) (*types.Receipt, error) {
	results, err := o.Start(ctx, op)
	if err != nil {
		return nil, err
	}
	res := <-results
	return res.Receipt, res.Err
}

// Start claims the in-flight slot and runs the submission in the background.
// It fails with ErrAlreadyPending while another transaction is unconfirmed.
// The returned channel yields exactly one Result.
func (o *Orchestrator) Start(ctx context.Context, op Operation) (<-chan Result, error) {
	if op != StartPresale && op != Mint {
		return nil, fmt.Errorf("unknown operation %d", int(op))
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		o.metrics.IncTx(op.String(), "already_pending")
		return nil, ErrAlreadyPending
	}
	o.metrics.SetInFlight(true)

	results := make(chan Result, 1)
	go func() {
		res := o.run(ctx, op)
		o.inFlight.Store(false)
		o.metrics.SetInFlight(false)
		o.afterConfirm(ctx, res)
		results <- res
	}()
	return results, nil
}

func (o *Orchestrator) run(ctx context.Context, op Operation) Result {
	res := Result{Operation: op}

	h, err := o.src.Handle(ctx, true)
	if err != nil {
		res.Err = classify(err)
		o.record(op, resultLabel(res.Err), res.Err)
		return res
	}
	writer, err := h.Writer()
	if err != nil {
		res.Err = err
		o.record(op, "error", err)
		return res
	}

	value := new(big.Int)
	if op == Mint {
		value.Set(o.mintPrice)
	}
	opts, err := h.TransactOpts(ctx, value)
	if err != nil {
		res.Err = err
		o.record(op, "error", err)
		return res
	}

	var tx *types.Transaction
	switch op {
	case StartPresale:
		tx, err = writer.StartPresale(opts)
	case Mint:
		tx, err = writer.Mint(opts)
	}
	if err != nil {
		res.Err = classify(err)
		o.record(op, resultLabel(res.Err), res.Err)
		return res
	}
	res.TxHash = tx.Hash().Hex()
	log.Info("Transaction submitted", "op", op, "hash", res.TxHash, "from", opts.From)

	receipt, err := h.WaitMined(ctx, tx)
	if err != nil {
		res.Err = fmt.Errorf("wait for %s: %w", res.TxHash, err)
		o.record(op, "error", res.Err)
		return res
	}
	res.Receipt = receipt
	if receipt.Status != types.ReceiptStatusSuccessful {
		res.Err = fmt.Errorf("%w: %s in block %v", ErrReverted, res.TxHash, receipt.BlockNumber)
		o.record(op, "reverted", res.Err)
		return res
	}

	o.metrics.IncTx(op.String(), "confirmed")
	log.Info("Transaction confirmed", "op", op, "hash", res.TxHash, "block", receipt.BlockNumber)
	return res
}

func (o *Orchestrator) afterConfirm(ctx context.Context, res Result) {
	if res.Err != nil {
		return
	}
	switch res.Operation {
	case StartPresale:
		if o.refresher != nil {
			o.refresher.RefreshPresaleStatus(ctx)
		}
	case Mint:
		notify.Info(ctx, o.notifier, "You successfully minted a Cita NFT!")
		if o.refresher != nil {
			o.refresher.RefreshMintedCount(ctx)
		}
	}
}

func (o *Orchestrator) record(op Operation, result string, err error) {
	o.metrics.IncTx(op.String(), result)
	if errors.Is(err, ErrUserRejected) {
		log.Info("Transaction abandoned", "op", op, "err", err)
		return
	}
	log.Error("Transaction failed", "op", op, "err", err)
}

// classify maps wallet refusals onto ErrUserRejected.
func classify(err error) error {
	if errors.Is(err, keystore.ErrLocked) || errors.Is(err, keystore.ErrDecrypt) {
		return fmt.Errorf("%w: %w", ErrUserRejected, err)
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"user denied", "user rejected", "request denied", "rejected by user"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %w", ErrUserRejected, err)
		}
	}
	return err
}

func resultLabel(err error) string {
	if errors.Is(err, ErrUserRejected) {
		return "rejected"
	}
	return "error"
}
