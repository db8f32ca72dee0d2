package view

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMintedLabel(t *testing.T) {
	assert.Equal(t, "150/333 Minted", MintedLabel("150", big.NewInt(333)))
	assert.Equal(t, "0/333 Minted", MintedLabel("", big.NewInt(333)))
}

func TestSoldOutIsNumeric(t *testing.T) {
	supply := big.NewInt(333)

	assert.True(t, SoldOut("1000", supply))
	assert.True(t, SoldOut("333", supply))
	assert.False(t, SoldOut("99", supply))
	assert.False(t, SoldOut("332", supply))
	assert.False(t, SoldOut("garbage", supply))
	assert.False(t, SoldOut("1000", nil))
}

func TestNextAction(t *testing.T) {
	supply := big.NewInt(333)
	cases := []struct {
		name string
		in   Snapshot
		want string
	}{
		{"disconnected", Snapshot{InFlight: true, IsOwner: true}, ActionConnect},
		{"in flight", Snapshot{Connected: true, InFlight: true, IsOwner: true}, ActionLoading},
		{"owner before sale", Snapshot{Connected: true, IsOwner: true, MintedCount: "0", SupplyCap: supply}, ActionStartSale},
		{"owner after start", Snapshot{Connected: true, IsOwner: true, PresaleStarted: true, MintedCount: "5", SupplyCap: supply}, ActionMint},
		{"sold out", Snapshot{Connected: true, PresaleStarted: true, MintedCount: "333", SupplyCap: supply}, ActionSoldOut},
		{"not started", Snapshot{Connected: true, MintedCount: "0", SupplyCap: supply}, ActionWaitForSale},
		{"mint", Snapshot{Connected: true, PresaleStarted: true, MintedCount: "150", SupplyCap: supply}, ActionMint},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NextAction(tc.in))
		})
	}
}

func TestMintCaption(t *testing.T) {
	supply := big.NewInt(333)

	assert.Equal(t, PromptConnectToMint, MintCaption(Snapshot{PresaleStarted: true, SupplyCap: supply}))
	assert.Equal(t, ActionMint, MintCaption(Snapshot{Connected: true, PresaleStarted: true, MintedCount: "1", SupplyCap: supply}))
	assert.Equal(t, ActionSoldOut, MintCaption(Snapshot{Connected: true, PresaleStarted: true, MintedCount: "333", SupplyCap: supply}))
}
