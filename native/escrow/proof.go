package escrow

import (
	"errors"

	"nftescrow/native/token"
)

// SellerEvidence is what a seller presents when confirming an order.
// SellerHoldingAccount, BuyerHoldingAccount and NftMint only matter for
// NFT-bound orders; NftMint may be left zero to accept the recorded mint.
type SellerEvidence struct {
	Seller               [20]byte
	SellerHoldingAccount [20]byte
	BuyerHoldingAccount  [20]byte
	NftMint              [20]byte
}

// Proof checks seller authorization against the order's binding.
type Proof struct {
	ledger *token.Ledger
}

// NewProof returns a verifier reading NFT holdings from ledger.
func NewProof(ledger *token.Ledger) *Proof {
	return &Proof{ledger: ledger}
}

// VerifySellerProof succeeds iff ev satisfies the order's authorization mode.
// It performs no writes.
func (p *Proof) VerifySellerProof(order *Order, ev SellerEvidence) error {
	if order == nil {
		return invalidArgument("nil order")
	}
	if ev.Seller == ([20]byte{}) {
		return authFailure("missing seller")
	}
	if ev.Seller == order.Buyer {
		return authFailure("buyer cannot confirm as seller")
	}
	if order.HasSeller() && order.Seller != ev.Seller {
		return authFailure("seller does not match bound identity")
	}
	switch order.Auth.Mode {
	case AuthPlainIdentity:
		if !order.HasSeller() {
			return authFailure("no seller bound to order")
		}
		return nil
	case AuthNftBound:
		return p.verifyNft(order, ev)
	default:
		return authFailure("unknown authorization mode")
	}
}

func (p *Proof) verifyNft(order *Order, ev SellerEvidence) error {
	if p == nil || p.ledger == nil {
		return errNilLedger
	}
	if ev.NftMint != ([20]byte{}) && ev.NftMint != order.Auth.NftMint {
		return authFailure("nft mint does not match order")
	}
	if ev.BuyerHoldingAccount != order.Auth.BuyerNftAccount {
		return authFailure("invalid nft account")
	}
	if ev.SellerHoldingAccount == ([20]byte{}) {
		return authFailure("missing nft account")
	}
	holding, err := p.ledger.Account(ev.SellerHoldingAccount)
	if err != nil {
		if errors.Is(err, token.ErrAccountNotFound) {
			return authFailure("missing nft account")
		}
		return err
	}
	if holding.Owner != ev.Seller {
		return authFailure("invalid nft owner")
	}
	if holding.Mint != order.Auth.NftMint {
		return authFailure("invalid nft account")
	}
	if holding.Balance == nil || !holding.Balance.IsInt64() || holding.Balance.Int64() != 1 {
		return authFailure("invalid nft amount")
	}
	return nil
}
