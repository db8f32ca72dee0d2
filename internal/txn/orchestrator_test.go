package txn

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"citanft/internal/notify"
	"citanft/internal/wallet"
	"citanft/internal/wallet/wallettest"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	minter = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type refresher struct {
	mu      sync.Mutex
	presale int
	minted  int
}

func (r *refresher) RefreshPresaleStatus(context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presale++
	return true
}

func (r *refresher) RefreshMintedCount(context.Context) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.minted++
	return "1"
}

func (r *refresher) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presale, r.minted
}

type fixture struct {
	orch      *Orchestrator
	client    *wallettest.Client
	contract  *wallettest.Contract
	refresher *refresher
	notices   *notify.Recorder
}

func newFixture(t *testing.T, signer common.Address, price *big.Int) *fixture {
	t.Helper()
	f := &fixture{
		client:    wallettest.NewClient(4),
		contract:  wallettest.NewContract(owner),
		refresher: &refresher{},
		notices:   notify.NewRecorder(10),
	}
	m := wallettest.NewManager(&wallettest.Backend{Client: f.client, Signer: signer}, f.contract)
	f.orch = New(m, Config{MintPrice: price, Refresher: f.refresher, Notifier: f.notices})
	return f
}

func TestMintConfirmed(t *testing.T) {
	price := big.NewInt(10_000_000_000_000_000)
	f := newFixture(t, minter, price)

	receipt, err := f.orch.Submit(context.Background(), Mint)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)

	values := f.contract.MintValues()
	require.Len(t, values, 1)
	assert.Equal(t, 0, price.Cmp(values[0]))

	_, minted := f.refresher.counts()
	assert.Equal(t, 1, minted)

	notices := f.notices.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, "You successfully minted a Cita NFT!", notices[0].Message)
	assert.False(t, f.orch.InFlight())
}

func TestStartPresaleRefreshesStatus(t *testing.T) {
	f := newFixture(t, owner, big.NewInt(5))

	_, err := f.orch.Submit(context.Background(), StartPresale)
	require.NoError(t, err)

	presale, minted := f.refresher.counts()
	assert.Equal(t, 1, presale)
	assert.Equal(t, 0, minted)
	assert.Empty(t, f.notices.Notices())
	assert.Equal(t, 1, f.contract.Calls("startPresale"))
	assert.Empty(t, f.contract.MintValues())
}

func TestSecondSubmissionRejectedWhilePending(t *testing.T) {
	f := newFixture(t, minter, nil)
	f.client.Gate = make(chan struct{})

	first, err := f.orch.Start(context.Background(), Mint)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.contract.Calls("mint") == 1 }, time.Second, time.Millisecond)
	assert.True(t, f.orch.InFlight())

	_, err = f.orch.Start(context.Background(), Mint)
	require.ErrorIs(t, err, ErrAlreadyPending)
	_, err = f.orch.Start(context.Background(), StartPresale)
	require.ErrorIs(t, err, ErrAlreadyPending)
	assert.Equal(t, 1, f.contract.Calls("mint"))
	assert.Equal(t, 0, f.contract.Calls("startPresale"))

	close(f.client.Gate)
	res := <-first
	require.NoError(t, res.Err)
	assert.NotEmpty(t, res.TxHash)
	assert.False(t, f.orch.InFlight())

	_, err = f.orch.Submit(context.Background(), Mint)
	require.NoError(t, err)
	assert.Equal(t, 2, f.contract.Calls("mint"))
}

func TestRevertedReceipt(t *testing.T) {
	f := newFixture(t, minter, nil)
	f.client.SetStatus(types.ReceiptStatusFailed)

	_, err := f.orch.Submit(context.Background(), Mint)
	require.ErrorIs(t, err, ErrReverted)

	_, minted := f.refresher.counts()
	assert.Equal(t, 0, minted)
	assert.Empty(t, f.notices.Notices())
	assert.False(t, f.orch.InFlight())
}

func TestRejectedByWallet(t *testing.T) {
	cases := []error{
		errors.New("MetaMask Tx Signature: User denied transaction signature."),
		keystore.ErrLocked,
	}
	for _, werr := range cases {
		f := newFixture(t, minter, nil)
		f.contract.Update(func(c *wallettest.Contract) { c.WriteErr = werr })

		_, err := f.orch.Submit(context.Background(), Mint)
		require.ErrorIs(t, err, ErrUserRejected)
		require.ErrorIs(t, err, werr)
		assert.False(t, f.orch.InFlight())
	}
}

func TestOtherWriteErrorsPassThrough(t *testing.T) {
	f := newFixture(t, minter, nil)
	boom := errors.New("insufficient funds for gas * price + value")
	f.contract.Update(func(c *wallettest.Contract) { c.WriteErr = boom })

	_, err := f.orch.Submit(context.Background(), Mint)
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUserRejected)
}

func TestReadOnlyWalletCannotSubmit(t *testing.T) {
	f := newFixture(t, common.Address{}, nil)

	_, err := f.orch.Submit(context.Background(), StartPresale)
	require.ErrorIs(t, err, wallet.ErrNoSigner)
	assert.Equal(t, 0, f.contract.Calls("startPresale"))
	assert.False(t, f.orch.InFlight())
}

func TestWrongNetworkReleasesSlot(t *testing.T) {
	f := newFixture(t, minter, nil)
	f.client.SetChainID(1)

	_, err := f.orch.Submit(context.Background(), Mint)
	require.ErrorIs(t, err, wallet.ErrWrongNetwork)
	assert.False(t, f.orch.InFlight())
}

func TestParseOperation(t *testing.T) {
	for _, s := range []string{"mint", " MINT "} {
		op, err := ParseOperation(s)
		require.NoError(t, err)
		assert.Equal(t, Mint, op)
	}
	for _, s := range []string{"start_presale", "start-presale"} {
		op, err := ParseOperation(s)
		require.NoError(t, err)
		assert.Equal(t, StartPresale, op)
	}
	_, err := ParseOperation("burn")
	require.Error(t, err)
	assert.Equal(t, "start_presale", StartPresale.String())
}
