// Package chainstate keeps a snapshot of the collection contract's public state
// and refreshes it on a fixed interval.
package chainstate

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"citanft/internal/metrics"
	"citanft/internal/notify"
	"citanft/internal/wallet"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
)

// DefaultInterval matches the refresh period of the minting page.
const DefaultInterval = 5 * time.Second

// State is a full snapshot of the polled contract fields. MintedCount is the
// decimal form of a uint256 and is never converted to a native integer.
type State struct {
	PresaleStarted bool      `json:"presaleStarted"`
	PresaleEnded   bool      `json:"presaleEnded"`
	MintedCount    string    `json:"mintedCount"`
	IsOwner        bool      `json:"isOwner"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// HandleSource hands out chain handles. *wallet.Manager satisfies it.
type HandleSource interface {
	Handle(ctx context.Context, needWrite bool) (*wallet.Handle, error)
}

type Config struct {
	Interval time.Duration
	// SupplyCap is used until the contract's maxTokenIds has been read.
	SupplyCap *big.Int
	// Now defaults to time.Now.
	Now     func() time.Time
	Metrics *metrics.Registry
}

// Poller reads the contract and republishes snapshots to subscribers.
type Poller struct {
	src      HandleSource
	interval time.Duration
	cap      *big.Int
	now      func() time.Time
	metrics  *metrics.Registry

	mu       sync.RWMutex
	state    State
	capKnown bool
	feed     event.Feed
}

func New(src HandleSource, cfg Config) *Poller {
	p := &Poller{
		src:      src,
		interval: cfg.Interval,
		cap:      cfg.SupplyCap,
		now:      cfg.Now,
		metrics:  cfg.Metrics,
		state:    State{MintedCount: "0"},
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// State returns the latest snapshot.
func (p *Poller) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// SupplyCap returns the contract's cap once read, otherwise the configured one.
// It is nil when neither is known.
func (p *Poller) SupplyCap() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cap == nil {
		return nil
	}
	return new(big.Int).Set(p.cap)
}

// Subscribe delivers every new snapshot on ch. Publishing blocks until every
// subscriber has received, so ch must be drained.
func (p *Poller) Subscribe(ch chan<- State) event.Subscription {
	return p.feed.Subscribe(ch)
}

// update applies f to a copy of the snapshot and publishes the result.
func (p *Poller) update(f func(s *State)) State {
	p.mu.Lock()
	next := p.state
	f(&next)
	next.UpdatedAt = p.now().UTC()
	p.state = next
	p.mu.Unlock()

	p.feed.Send(next)
	return next
}

// RefreshPresaleStatus reads the presale flag. While the presale has not
// started it also checks whether the connected account owns the contract.
// Any failure returns false and leaves the snapshot as it was.
func (p *Poller) RefreshPresaleStatus(ctx context.Context) bool {
	h, err := p.src.Handle(ctx, false)
	if err != nil {
		p.fail("presaleStarted", err)
		return false
	}
	started, err := h.Contract().PresaleStarted(ctx)
	if err != nil {
		p.fail("presaleStarted", err)
		return false
	}
	p.metrics.IncRead("presaleStarted", "ok")

	var isOwner *bool
	if !started {
		if owner, ok := p.checkOwner(ctx, h); ok {
			isOwner = &owner
		}
	}
	p.update(func(s *State) {
		s.PresaleStarted = started
		if isOwner != nil {
			s.IsOwner = *isOwner
		}
	})
	return started
}

func (p *Poller) checkOwner(ctx context.Context, h *wallet.Handle) (bool, bool) {
	owner, err := h.Contract().Owner(ctx)
	if err != nil {
		p.fail("owner", err)
		return false, false
	}
	signer, err := h.SignerAddress(ctx)
	if errors.Is(err, wallet.ErrNoSigner) {
		return false, true
	}
	if err != nil {
		p.fail("owner", err)
		return false, false
	}
	p.metrics.IncRead("owner", "ok")
	return strings.EqualFold(signer.Hex(), owner.Hex()), true
}

// RefreshPresaleEndStatus reports whether the presale end timestamp is at or
// before the current second. Failure returns false without touching state.
func (p *Poller) RefreshPresaleEndStatus(ctx context.Context) bool {
	h, err := p.src.Handle(ctx, false)
	if err != nil {
		p.fail("presaleEnded", err)
		return false
	}
	endsAt, err := h.Contract().PresaleEnded(ctx)
	if err != nil {
		p.fail("presaleEnded", err)
		return false
	}
	p.metrics.IncRead("presaleEnded", "ok")

	ended := endsAt.Cmp(big.NewInt(p.now().Unix())) <= 0
	p.update(func(s *State) { s.PresaleEnded = ended })
	p.metrics.SetPresaleEnded(ended)
	return ended
}

// RefreshMintedCount reads the mint counter. On failure the previous value is
// returned.
func (p *Poller) RefreshMintedCount(ctx context.Context) string {
	h, err := p.src.Handle(ctx, false)
	if err != nil {
		p.fail("tokenIds", err)
		return p.State().MintedCount
	}
	minted, err := h.Contract().TokenIds(ctx)
	if err != nil {
		p.fail("tokenIds", err)
		return p.State().MintedCount
	}
	p.metrics.IncRead("tokenIds", "ok")

	count := minted.String()
	p.update(func(s *State) { s.MintedCount = count })
	f, _ := new(big.Float).SetInt(minted).Float64()
	p.metrics.SetMinted(f)
	return count
}

// RefreshSupplyCap reads maxTokenIds. The contract value replaces the
// configured cap; a mismatch is logged. On failure the cap is unchanged.
func (p *Poller) RefreshSupplyCap(ctx context.Context) *big.Int {
	h, err := p.src.Handle(ctx, false)
	if err != nil {
		p.fail("maxTokenIds", err)
		return p.SupplyCap()
	}
	onChain, err := h.Contract().MaxTokenIds(ctx)
	if err != nil {
		p.fail("maxTokenIds", err)
		return p.SupplyCap()
	}
	p.metrics.IncRead("maxTokenIds", "ok")

	p.mu.Lock()
	if p.cap != nil && p.cap.Cmp(onChain) != 0 {
		log.Warn("Configured supply cap differs from contract", "configured", p.cap, "contract", onChain)
	}
	p.cap = new(big.Int).Set(onChain)
	p.capKnown = true
	p.mu.Unlock()
	return new(big.Int).Set(onChain)
}

// Sync runs the refresh sequence used when a session is established. The
// supply cap is read until it succeeds once.
func (p *Poller) Sync(ctx context.Context) State {
	p.mu.RLock()
	capKnown := p.capKnown
	p.mu.RUnlock()
	if !capKnown {
		p.RefreshSupplyCap(ctx)
	}
	if p.RefreshPresaleStatus(ctx) {
		p.RefreshPresaleEndStatus(ctx)
	}
	p.RefreshMintedCount(ctx)
	return p.State()
}

// Run syncs once and then polls every interval until ctx is cancelled. Once the
// presale has ended the presale checks are no longer scheduled; the minted count
// keeps refreshing until the supply cap is reached, at which point Run returns.
func (p *Poller) Run(ctx context.Context) error {
	p.Sync(ctx)
	presaleDone := p.State().PresaleEnded

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if presaleDone && p.soldOut() {
			log.Info("Supply cap reached, polling stopped", "minted", p.State().MintedCount, "cap", p.SupplyCap())
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if !presaleDone && p.RefreshPresaleStatus(ctx) && p.RefreshPresaleEndStatus(ctx) {
			presaleDone = true
			log.Info("Presale ended, presale checks stopped")
		}
		p.RefreshMintedCount(ctx)
	}
}

func (p *Poller) soldOut() bool {
	return soldOut(p.State().MintedCount, p.SupplyCap())
}

func soldOut(count string, supplyCap *big.Int) bool {
	if supplyCap == nil {
		return false
	}
	minted, ok := new(big.Int).SetString(count, 10)
	return ok && minted.Cmp(supplyCap) >= 0
}

// Announce posts a notice when the presale starts, when it ends and when the
// supply sells out. Changes are measured against the snapshot at call time,
// so call it after Sync. The returned subscription stops the announcer.
func (p *Poller) Announce(ctx context.Context, n notify.Notifier) event.Subscription {
	ch := make(chan State, 8)
	sub := p.Subscribe(ch)
	prev := p.State()

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case next := <-ch:
				for _, msg := range transitions(prev, next, p.SupplyCap()) {
					notify.Info(ctx, n, msg)
				}
				prev = next
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	})
}

// transitions lists the announcements for the move from prev to next.
func transitions(prev, next State, supplyCap *big.Int) []string {
	var msgs []string
	if !prev.PresaleStarted && next.PresaleStarted {
		msgs = append(msgs, "The presale has started")
	}
	if !prev.PresaleEnded && next.PresaleEnded {
		msgs = append(msgs, "The presale has ended")
	}
	if !soldOut(prev.MintedCount, supplyCap) && soldOut(next.MintedCount, supplyCap) {
		msgs = append(msgs, "Supply sold out")
	}
	return msgs
}

func (p *Poller) fail(field string, err error) {
	p.metrics.IncRead(field, "error")
	log.Warn("Contract read failed", "field", field, "err", err)
}
