// Package wallet obtains chain handles from a configured wallet backend and
// tracks the connected session.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"citanft/internal/metrics"
	"citanft/internal/nft"
	"citanft/internal/notify"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

var (
	ErrWrongNetwork = errors.New("wrong network")
	ErrNoSigner     = errors.New("wallet cannot sign transactions")
	ErrReadOnly     = errors.New("handle is read-only")
	ErrDisconnected = errors.New("wallet disconnected while connecting")
)

// Session describes the connected wallet. Address is empty when the wallet
// exposes no account.
type Session struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
	Backend   string `json:"backend,omitempty"`
}

// ContractFactory binds the collection contract to a node connection.
type ContractFactory func(client ChainClient) (nft.Contract, error)

// Config fixes the network and contract a manager works against.
type Config struct {
	ChainID  *big.Int
	Network  string
	Contract common.Address
	ABI      string
}

type Option func(*Manager)

// WithContractFactory replaces the go-ethereum binding, mostly for tests.
func WithContractFactory(f ContractFactory) Option {
	return func(m *Manager) { m.contracts = f }
}

func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

func WithMetrics(r *metrics.Registry) Option {
	return func(m *Manager) { m.metrics = r }
}

// Manager owns the connector and the session. The connector is built on first
// use and never twice.
type Manager struct {
	cfg          Config
	newConnector func() (*Connector, error)
	contracts    ContractFactory
	notifier     notify.Notifier
	metrics      *metrics.Registry

	mu        sync.Mutex
	connector *Connector
	session   Session
	// generation changes on every Disconnect; a Connect that started under an
	// older generation must not publish its session.
	generation uint64
}

func NewManager(cfg Config, newConnector func() (*Connector, error), opts ...Option) *Manager {
	m := &Manager{cfg: cfg, newConnector: newConnector}
	m.contracts = func(client ChainClient) (nft.Contract, error) {
		return nft.New(cfg.Contract, client, cfg.ABI)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect acquires a handle and, on success, replaces the session.
func (m *Manager) Connect(ctx context.Context, needWrite bool) (*Handle, error) {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()

	h, backend, err := m.acquire(ctx, needWrite)
	if err != nil {
		m.metrics.IncConnect(connectResult(err))
		return nil, err
	}

	session := Session{Connected: true, Backend: backend}
	if h.signer != nil {
		session.Address = h.signer.From.Hex()
	} else if addr, err := h.SignerAddress(ctx); err == nil {
		session.Address = addr.Hex()
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		m.metrics.IncConnect("stale")
		log.Debug("Dropping session from a connect that raced a disconnect", "backend", backend)
		return nil, ErrDisconnected
	}
	m.session = session
	m.mu.Unlock()

	m.metrics.IncConnect("ok")
	log.Info("Wallet connected", "backend", backend, "address", session.Address, "chain", h.chainID)
	return h, nil
}

// Handle acquires a handle without touching the session.
func (m *Manager) Handle(ctx context.Context, needWrite bool) (*Handle, error) {
	h, _, err := m.acquire(ctx, needWrite)
	return h, err
}

// Disconnect clears the cached provider and resets the session.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connector != nil {
		m.connector.ClearCachedProvider()
	}
	if m.session.Connected {
		log.Info("Wallet disconnected", "address", m.session.Address)
	}
	m.session = Session{}
	m.generation++
}

// Backends lists the wallet backends that can be connected, in configuration
// order. It is empty when the connector cannot be built.
func (m *Manager) Backends() []string {
	c, err := m.getConnector()
	if err != nil {
		return nil
	}
	return c.Backends()
}

// Session returns a copy of the current session.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *Manager) getConnector() (*Connector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connector != nil {
		return m.connector, nil
	}
	c, err := m.newConnector()
	if err != nil {
		return nil, fmt.Errorf("wallet connector: %w", err)
	}
	m.connector = c
	return c, nil
}

func (m *Manager) acquire(ctx context.Context, needWrite bool) (*Handle, string, error) {
	connector, err := m.getConnector()
	if err != nil {
		return nil, "", err
	}
	provider, backend, err := connector.Connect(ctx)
	if err != nil {
		return nil, "", err
	}
	client := provider.Client()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("fetch chain id: %w", err)
	}
	if m.cfg.ChainID != nil && chainID.Cmp(m.cfg.ChainID) != 0 {
		notify.Warn(ctx, m.notifier, "Change the network to "+m.cfg.Network)
		return nil, "", fmt.Errorf("%w: connected to chain %s, want %s (%s)", ErrWrongNetwork, chainID, m.cfg.ChainID, m.cfg.Network)
	}

	contract, err := m.contracts(client)
	if err != nil {
		return nil, "", err
	}
	h := &Handle{chainID: chainID, client: client, contract: contract, provider: provider}
	if !needWrite {
		return h, backend, nil
	}

	signer, err := provider.Signer(ctx, chainID)
	if err != nil {
		return nil, "", err
	}
	h.signer = signer
	return h, backend, nil
}

func connectResult(err error) string {
	switch {
	case errors.Is(err, ErrWrongNetwork):
		return "wrong_network"
	case errors.Is(err, ErrNoSigner):
		return "no_signer"
	default:
		return "error"
	}
}

// Handle is a connection to the required network. A write-capable handle also
// carries a transactor for the wallet account.
type Handle struct {
	chainID  *big.Int
	client   ChainClient
	contract nft.Contract
	provider Provider
	signer   *bind.TransactOpts
}

func (h *Handle) ChainID() *big.Int { return new(big.Int).Set(h.chainID) }

func (h *Handle) Client() ChainClient { return h.client }

// Contract returns the read-only contract surface.
func (h *Handle) Contract() nft.Reader { return h.contract }

func (h *Handle) Writable() bool { return h.signer != nil }

// accountReader is implemented by providers that know their account without
// unlocking it.
type accountReader interface {
	Account(ctx context.Context) (common.Address, error)
}

// SignerAddress returns the account that would sign. For read-only handles it
// asks the provider, which fails with ErrNoSigner if the wallet has no account.
func (h *Handle) SignerAddress(ctx context.Context) (common.Address, error) {
	if h.signer != nil {
		return h.signer.From, nil
	}
	if r, ok := h.provider.(accountReader); ok {
		return r.Account(ctx)
	}
	signer, err := h.provider.Signer(ctx, h.chainID)
	if err != nil {
		return common.Address{}, err
	}
	return signer.From, nil
}

// Writer returns the state-changing contract surface.
func (h *Handle) Writer() (nft.Writer, error) {
	if h.signer == nil {
		return nil, ErrReadOnly
	}
	return h.contract, nil
}

// TransactOpts returns a copy of the signer bound to ctx and carrying value.
func (h *Handle) TransactOpts(ctx context.Context, value *big.Int) (*bind.TransactOpts, error) {
	if h.signer == nil {
		return nil, ErrReadOnly
	}
	opts := *h.signer
	opts.Context = ctx
	opts.Value = value
	return &opts, nil
}

// WaitMined blocks until tx has a receipt or ctx ends.
func (h *Handle) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, h.client, tx)
}
