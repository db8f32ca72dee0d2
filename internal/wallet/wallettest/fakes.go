// Package wallettest provides in-memory wallet backends and contracts for tests.
package wallettest

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"

	"citanft/internal/nft"
	"citanft/internal/wallet"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Client is a ChainClient answering only chain id, block number and receipts.
// Any other ContractBackend method panics.
type Client struct {
	bind.ContractBackend

	mu       sync.Mutex
	chainID  *big.Int
	receipts map[common.Hash]*types.Receipt
	status   uint64
	// Gate, when set, holds every receipt lookup until it is closed.
	Gate chan struct{}
	// BeforeChainID, when set, runs at the start of every ChainID call.
	BeforeChainID func()
	closed        atomic.Bool
}

func NewClient(chainID int64) *Client {
	return &Client{
		chainID:  big.NewInt(chainID),
		receipts: make(map[common.Hash]*types.Receipt),
		status:   types.ReceiptStatusSuccessful,
	}
}

// SetChainID simulates the wallet switching networks.
func (c *Client) SetChainID(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chainID = big.NewInt(id)
}

func (c *Client) ChainID(context.Context) (*big.Int, error) {
	if c.BeforeChainID != nil {
		c.BeforeChainID()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.chainID), nil
}

func (c *Client) BlockNumber(context.Context) (uint64, error) { return 1, nil }

func (c *Client) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

// SetStatus changes the status of receipts not registered with SetReceipt.
func (c *Client) SetStatus(status uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// SetReceipt registers the receipt returned for hash.
func (c *Client) SetReceipt(hash common.Hash, r *types.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[hash] = r
}

func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if c.Gate != nil {
		select {
		case <-c.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.receipts[hash]; ok {
		return r, nil
	}
	return &types.Receipt{Status: c.status, TxHash: hash, BlockNumber: big.NewInt(1)}, nil
}

func (c *Client) Close() { c.closed.Store(true) }

func (c *Client) Closed() bool { return c.closed.Load() }

// Contract is an in-memory collection contract.
type Contract struct {
	mu sync.Mutex

	Started    bool
	EndsAt     *big.Int
	Minted     *big.Int
	MaxSupply  *big.Int
	OwnerAddr  common.Address
	ReadErr    error
	OwnerErr   error
	WriteErr   error
	nonce      uint64
	calls      map[string]int
	lastValues []*big.Int
}

func NewContract(owner common.Address) *Contract {
	return &Contract{
		EndsAt:    big.NewInt(0),
		Minted:    big.NewInt(0),
		MaxSupply: big.NewInt(333),
		OwnerAddr: owner,
		calls:     make(map[string]int),
	}
}

// Calls reports how often method was invoked.
func (c *Contract) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// MintValues returns the value attached to each mint.
func (c *Contract) MintValues() []*big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*big.Int(nil), c.lastValues...)
}

// Update runs f with the contract locked.
func (c *Contract) Update(f func(c *Contract)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(c)
}

func (c *Contract) read(method string) error {
	c.calls[method]++
	if c.ReadErr != nil {
		return errors.Join(nft.ErrCallFailed, c.ReadErr)
	}
	return nil
}

func (c *Contract) PresaleStarted(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.read("presaleStarted"); err != nil {
		return false, err
	}
	return c.Started, nil
}

func (c *Contract) PresaleEnded(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.read("presaleEnded"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.EndsAt), nil
}

func (c *Contract) TokenIds(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.read("tokenIds"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.Minted), nil
}

func (c *Contract) MaxTokenIds(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.read("maxTokenIds"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.MaxSupply), nil
}

func (c *Contract) Owner(context.Context) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.read("owner"); err != nil {
		return common.Address{}, err
	}
	if c.OwnerErr != nil {
		return common.Address{}, c.OwnerErr
	}
	return c.OwnerAddr, nil
}

func (c *Contract) StartPresale(opts *bind.TransactOpts) (*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["startPresale"]++
	if c.WriteErr != nil {
		return nil, c.WriteErr
	}
	c.Started = true
	return c.nextTx(opts), nil
}

func (c *Contract) Mint(opts *bind.TransactOpts) (*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["mint"]++
	if c.WriteErr != nil {
		return nil, c.WriteErr
	}
	c.lastValues = append(c.lastValues, opts.Value)
	c.Minted = new(big.Int).Add(c.Minted, big.NewInt(1))
	return c.nextTx(opts), nil
}

func (c *Contract) nextTx(opts *bind.TransactOpts) *types.Transaction {
	c.nonce++
	to := opts.From
	return types.NewTx(&types.LegacyTx{Nonce: c.nonce, To: &to, Value: opts.Value, Gas: 21000, GasPrice: big.NewInt(1)})
}

// Backend opens a provider over Client. A zero Signer makes it read-only.
type Backend struct {
	BackendName string
	Client      *Client
	Signer      common.Address
	OpenErr     error
	opens       atomic.Int32
}

func (b *Backend) Name() string {
	if b.BackendName == "" {
		return "fake"
	}
	return b.BackendName
}

func (b *Backend) Opens() int { return int(b.opens.Load()) }

func (b *Backend) Open(context.Context) (wallet.Provider, error) {
	b.opens.Add(1)
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	return &provider{client: b.Client, signer: b.Signer}, nil
}

type provider struct {
	client *Client
	signer common.Address
}

func (p *provider) Client() wallet.ChainClient { return p.client }

func (p *provider) Signer(context.Context, *big.Int) (*bind.TransactOpts, error) {
	if p.signer == (common.Address{}) {
		return nil, wallet.ErrNoSigner
	}
	return &bind.TransactOpts{From: p.signer}, nil
}

func (p *provider) Close() { p.client.Close() }

// ContractFactory always binds c.
func ContractFactory(c *Contract) wallet.ContractFactory {
	return func(wallet.ChainClient) (nft.Contract, error) { return c, nil }
}

// NewManager wires a manager to one fake backend and contract on chain 4.
func NewManager(b *Backend, c *Contract, opts ...wallet.Option) *wallet.Manager {
	cfg := wallet.Config{ChainID: big.NewInt(4), Network: "Rinkeby"}
	opts = append([]wallet.Option{wallet.WithContractFactory(ContractFactory(c))}, opts...)
	return wallet.NewManager(cfg, func() (*wallet.Connector, error) {
		return wallet.NewConnector(wallet.ConnectorConfig{Network: "rinkeby"}, b)
	}, opts...)
}
