package wallet

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeystoreSigner(t *testing.T, passphrase string) (*keystoreSigner, *int) {
	t.Helper()
	ks := keystore.NewKeyStore(t.TempDir(), keystore.LightScryptN, keystore.LightScryptP)
	account, err := ks.NewAccount("secret")
	require.NoError(t, err)

	unlocks := 0
	return &keystoreSigner{
		ks:         ks,
		account:    account,
		passphrase: passphrase,
		unlock: func(a accounts.Account, pass string) error {
			unlocks++
			return ks.Unlock(a, pass)
		},
	}, &unlocks
}

func TestKeystoreSignerUnlocksOnce(t *testing.T) {
	signer, unlocks := newTestKeystoreSigner(t, "secret")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		opts, err := signer.transactor(ctx, big.NewInt(4))
		require.NoError(t, err)
		assert.Equal(t, signer.account.Address, opts.From)
	}
	assert.Equal(t, 1, *unlocks)
}

func TestKeystoreSignerRetriesFailedUnlock(t *testing.T) {
	signer, unlocks := newTestKeystoreSigner(t, "wrong")
	ctx := context.Background()

	_, err := signer.transactor(ctx, big.NewInt(4))
	require.ErrorIs(t, err, keystore.ErrDecrypt)
	_, err = signer.transactor(ctx, big.NewInt(4))
	require.ErrorIs(t, err, keystore.ErrDecrypt)
	assert.Equal(t, 2, *unlocks)
}

func TestKeystoreAccountSkipsUnlock(t *testing.T) {
	signer, unlocks := newTestKeystoreSigner(t, "secret")
	p := &rpcProvider{signer: signer.transactor, account: signer.address}

	for i := 0; i < 3; i++ {
		addr, err := p.Account(context.Background())
		require.NoError(t, err)
		assert.Equal(t, signer.account.Address, addr)
	}
	assert.Equal(t, 0, *unlocks)

	h := &Handle{chainID: big.NewInt(4), provider: p}
	addr, err := h.SignerAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signer.account.Address, addr)
	assert.Equal(t, 0, *unlocks)
}

func TestReadOnlyProviderHasNoAccount(t *testing.T) {
	_, err := (&rpcProvider{}).Account(context.Background())
	assert.ErrorIs(t, err, ErrNoSigner)
}
