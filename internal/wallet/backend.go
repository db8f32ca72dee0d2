package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/external"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend names accepted in configuration.
const (
	BackendRPC        = "rpc"
	BackendPrivateKey = "privatekey"
	BackendKeystore   = "keystore"
	BackendClef       = "clef"
)

// ChainClient is the node connection a provider hands out. *ethclient.Client
// satisfies it.
type ChainClient interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Provider is a live wallet connection.
type Provider interface {
	Client() ChainClient
	// Signer returns a transactor for the wallet's active account, or
	// ErrNoSigner when the wallet can only read.
	Signer(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)
	Close()
}

// Backend opens providers for one kind of wallet.
type Backend interface {
	Name() string
	Open(ctx context.Context) (Provider, error)
}

type signerFunc func(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)

type rpcProvider struct {
	client  ChainClient
	signer  signerFunc
	account func(ctx context.Context) (common.Address, error)
	closers []func()
}

func (p *rpcProvider) Client() ChainClient { return p.client }

// Account returns the signing address without building a transactor.
func (p *rpcProvider) Account(ctx context.Context) (common.Address, error) {
	if p.account == nil {
		return common.Address{}, ErrNoSigner
	}
	return p.account(ctx)
}

func (p *rpcProvider) Signer(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	if p.signer == nil {
		return nil, ErrNoSigner
	}
	return p.signer(ctx, chainID)
}

func (p *rpcProvider) Close() {
	for _, c := range p.closers {
		c()
	}
	p.client.Close()
}

func dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	cli, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return cli, nil
}

// RPCBackend connects to a node without any signing capability.
type RPCBackend struct {
	RPCURL string
}

func (RPCBackend) Name() string { return BackendRPC }

func (b RPCBackend) Open(ctx context.Context) (Provider, error) {
	cli, err := dial(ctx, b.RPCURL)
	if err != nil {
		return nil, err
	}
	return &rpcProvider{client: cli}, nil
}

// PrivateKeyBackend signs with a raw hex key, the way an injected browser
// wallet holds a single account.
type PrivateKeyBackend struct {
	RPCURL        string
	PrivateKeyHex string
}

func (PrivateKeyBackend) Name() string { return BackendPrivateKey }

func (b PrivateKeyBackend) Open(ctx context.Context) (Provider, error) {
	key, err := ParsePrivateKey(b.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	cli, err := dial(ctx, b.RPCURL)
	if err != nil {
		return nil, err
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	return &rpcProvider{
		client: cli,
		signer: func(_ context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
			opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
			if err != nil {
				return nil, fmt.Errorf("transactor: %w", err)
			}
			return opts, nil
		},
		account: func(context.Context) (common.Address, error) { return from, nil },
	}, nil
}

// ParsePrivateKey accepts a hex key with or without 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// KeystoreBackend signs with an account from an encrypted keystore directory.
type KeystoreBackend struct {
	RPCURL     string
	Dir        string
	Account    string // hex address; empty selects the first account
	Passphrase string
}

func (KeystoreBackend) Name() string { return BackendKeystore }

func (b KeystoreBackend) Open(ctx context.Context) (Provider, error) {
	if b.Dir == "" {
		return nil, fmt.Errorf("keystore directory is required")
	}
	ks := keystore.NewKeyStore(b.Dir, keystore.StandardScryptN, keystore.StandardScryptP)
	account, err := b.findAccount(ks)
	if err != nil {
		return nil, err
	}
	cli, err := dial(ctx, b.RPCURL)
	if err != nil {
		return nil, err
	}
	signer := &keystoreSigner{ks: ks, account: account, passphrase: b.Passphrase, unlock: ks.Unlock}
	return &rpcProvider{
		client:  cli,
		signer:  signer.transactor,
		account: signer.address,
		closers: []func(){func() { _ = ks.Lock(account.Address) }},
	}, nil
}

// keystoreSigner decrypts the account key once and keeps it unlocked until the
// provider closes. A failed unlock is retried on the next call.
type keystoreSigner struct {
	ks         *keystore.KeyStore
	account    accounts.Account
	passphrase string
	unlock     func(a accounts.Account, passphrase string) error

	mu       sync.Mutex
	unlocked bool
}

func (s *keystoreSigner) transactor(_ context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.unlocked {
		if err := s.unlock(s.account, s.passphrase); err != nil {
			return nil, fmt.Errorf("unlock %s: %w", s.account.Address.Hex(), err)
		}
		s.unlocked = true
	}
	return bind.NewKeyStoreTransactorWithChainID(s.ks, s.account, chainID)
}

func (s *keystoreSigner) address(context.Context) (common.Address, error) {
	return s.account.Address, nil
}

func (b KeystoreBackend) findAccount(ks *keystore.KeyStore) (accounts.Account, error) {
	if b.Account == "" {
		all := ks.Accounts()
		if len(all) == 0 {
			return accounts.Account{}, fmt.Errorf("keystore %s has no accounts", b.Dir)
		}
		return all[0], nil
	}
	if !common.IsHexAddress(b.Account) {
		return accounts.Account{}, fmt.Errorf("invalid keystore account %q", b.Account)
	}
	return ks.Find(accounts.Account{Address: common.HexToAddress(b.Account)})
}

// ClefBackend delegates signing to an external signer reached over RPC, so the
// key never enters this process.
type ClefBackend struct {
	RPCURL   string
	Endpoint string
	Account  string
}

func (ClefBackend) Name() string { return BackendClef }

func (b ClefBackend) Open(ctx context.Context) (Provider, error) {
	if b.Endpoint == "" {
		return nil, fmt.Errorf("clef endpoint is required")
	}
	signer, err := external.NewExternalSigner(b.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect clef: %w", err)
	}
	cli, err := dial(ctx, b.RPCURL)
	if err != nil {
		return nil, err
	}
	return &rpcProvider{
		client: cli,
		signer: func(context.Context, *big.Int) (*bind.TransactOpts, error) {
			account, err := b.pick(signer.Accounts())
			if err != nil {
				return nil, err
			}
			return bind.NewClefTransactor(signer, account), nil
		},
		account: func(context.Context) (common.Address, error) {
			account, err := b.pick(signer.Accounts())
			return account.Address, err
		},
	}, nil
}

func (b ClefBackend) pick(all []accounts.Account) (accounts.Account, error) {
	if len(all) == 0 {
		return accounts.Account{}, errors.New("clef exposes no accounts")
	}
	if b.Account == "" {
		return all[0], nil
	}
	want := common.HexToAddress(b.Account)
	for _, a := range all {
		if a.Address == want {
			return a, nil
		}
	}
	return accounts.Account{}, fmt.Errorf("clef account %s not found", want.Hex())
}
