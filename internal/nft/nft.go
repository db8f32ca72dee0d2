// Package nft binds the collection contract's read and write surface.
package nft

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"citanft/internal/contracts"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrCallFailed marks any failed contract read or write.
var ErrCallFailed = errors.New("contract call failed")

// Reader is the read-only contract surface.
type Reader interface {
	PresaleStarted(ctx context.Context) (bool, error)
	PresaleEnded(ctx context.Context) (*big.Int, error)
	TokenIds(ctx context.Context) (*big.Int, error)
	MaxTokenIds(ctx context.Context) (*big.Int, error)
	Owner(ctx context.Context) (common.Address, error)
}

// Writer is the state-changing contract surface. Calls need a signing transactor.
type Writer interface {
	StartPresale(opts *bind.TransactOpts) (*types.Transaction, error)
	Mint(opts *bind.TransactOpts) (*types.Transaction, error)
}

// Contract is the full binding.
type Contract interface {
	Reader
	Writer
}

// CitaNFT is a binding to a deployed collection contract.
type CitaNFT struct {
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
}

// New binds the contract at address. An empty abiJSON selects the embedded ABI.
func New(address common.Address, backend bind.ContractBackend, abiJSON string) (*CitaNFT, error) {
	if abiJSON == "" {
		abiJSON = contracts.CitaNFTABI
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	for _, name := range []string{"presaleStarted", "presaleEnded", "tokenIds", "maxTokenIds", "owner", "startPresale", "mint"} {
		if _, ok := parsed.Methods[name]; !ok {
			return nil, fmt.Errorf("abi is missing method %q", name)
		}
	}
	return &CitaNFT{
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// Address returns the bound contract address.
func (c *CitaNFT) Address() common.Address { return c.address }

func (c *CitaNFT) call(ctx context.Context, method string) (interface{}, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCallFailed, method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s: empty result", ErrCallFailed, method)
	}
	return out[0], nil
}

func (c *CitaNFT) PresaleStarted(ctx context.Context) (bool, error) {
	v, err := c.call(ctx, "presaleStarted")
	if err != nil {
		return false, err
	}
	started, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: presaleStarted: unexpected type %T", ErrCallFailed, v)
	}
	return started, nil
}

// PresaleEnded returns the presale end as a unix timestamp in seconds.
func (c *CitaNFT) PresaleEnded(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "presaleEnded")
}

// TokenIds returns the number of tokens minted so far.
func (c *CitaNFT) TokenIds(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "tokenIds")
}

func (c *CitaNFT) MaxTokenIds(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "maxTokenIds")
}

func (c *CitaNFT) Owner(ctx context.Context) (common.Address, error) {
	v, err := c.call(ctx, "owner")
	if err != nil {
		return common.Address{}, err
	}
	owner, ok := v.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: owner: unexpected type %T", ErrCallFailed, v)
	}
	return owner, nil
}

func (c *CitaNFT) callUint(ctx context.Context, method string) (*big.Int, error) {
	v, err := c.call(ctx, method)
	if err != nil {
		return nil, err
	}
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s: unexpected type %T", ErrCallFailed, method, v)
	}
	return n, nil
}

func (c *CitaNFT) StartPresale(opts *bind.TransactOpts) (*types.Transaction, error) {
	return c.transact(opts, "startPresale")
}

// Mint sends a mint transaction. opts.Value carries the mint price.
func (c *CitaNFT) Mint(opts *bind.TransactOpts) (*types.Transaction, error) {
	return c.transact(opts, "mint")
}

func (c *CitaNFT) transact(opts *bind.TransactOpts, method string) (*types.Transaction, error) {
	if opts == nil {
		return nil, fmt.Errorf("%s: transactor is required", method)
	}
	tx, err := c.contract.Transact(opts, method)
	if err != nil {
		return nil, fmt.Errorf("%s tx: %w", method, err)
	}
	return tx, nil
}
