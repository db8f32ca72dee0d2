// Package view turns session and chain state into what the minting page shows.
package view

import (
	"fmt"
	"math/big"
)

// Button captions, in the order they take precedence.
const (
	ActionConnect     = "Connect Wallet"
	ActionLoading     = "Loading..."
	ActionStartSale   = "Start Sale"
	ActionSoldOut     = "Supply sold out"
	ActionWaitForSale = "Wait for sale to start"
	ActionMint        = "Mint Cita"
)

// PromptConnectToMint replaces the navbar caption in the mint area while no
// wallet is connected.
const PromptConnectToMint = "Connect your wallet to Mint"

// Snapshot is everything NextAction looks at.
type Snapshot struct {
	Connected      bool
	InFlight       bool
	IsOwner        bool
	PresaleStarted bool
	MintedCount    string
	SupplyCap      *big.Int
}

// MintedLabel renders the progress line, e.g. "150/333 Minted".
func MintedLabel(minted string, supplyCap *big.Int) string {
	if minted == "" {
		minted = "0"
	}
	return fmt.Sprintf("%s/%s Minted", minted, supplyCap)
}

// SoldOut compares the decimal minted count against the cap numerically. An
// unparsable count is treated as not sold out.
func SoldOut(minted string, supplyCap *big.Int) bool {
	if supplyCap == nil {
		return false
	}
	n, ok := new(big.Int).SetString(minted, 10)
	if !ok {
		return false
	}
	return n.Cmp(supplyCap) >= 0
}

// NextAction picks the single action the page offers.
func NextAction(s Snapshot) string {
	switch {
	case !s.Connected:
		return ActionConnect
	case s.InFlight:
		return ActionLoading
	case s.IsOwner && !s.PresaleStarted:
		return ActionStartSale
	case SoldOut(s.MintedCount, s.SupplyCap):
		return ActionSoldOut
	case !s.PresaleStarted:
		return ActionWaitForSale
	default:
		return ActionMint
	}
}

// MintCaption is what the mint area shows. It differs from NextAction only
// before a wallet is connected.
func MintCaption(s Snapshot) string {
	if !s.Connected {
		return PromptConnectToMint
	}
	return NextAction(s)
}
