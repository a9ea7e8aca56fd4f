package escrow

import (
	"math"
	"math/big"
)

// CreateOrderParams is the instruction payload of a create_order instruction.
// The signer of the instruction is the buyer.
type CreateOrderParams struct {
	Mint            [20]byte
	Amount          *big.Int
	Expiration      uint64
	Seller          [20]byte
	NftMint         [20]byte
	BuyerNftAccount [20]byte
}

// Request converts the wire payload into an engine request.
func (p CreateOrderParams) Request() (CreateOrderRequest, error) {
	if p.Expiration > math.MaxInt64 {
		return CreateOrderRequest{}, ErrInvalidExpiration
	}
	return CreateOrderRequest{
		Mint:            p.Mint,
		Amount:          p.Amount,
		Expiration:      int64(p.Expiration),
		Seller:          p.Seller,
		NftMint:         p.NftMint,
		BuyerNftAccount: p.BuyerNftAccount,
	}, nil
}

// OrderRef addresses an order by its buyer. It is the payload of every
// instruction that needs nothing else.
type OrderRef struct {
	Buyer [20]byte
}

// SellerConfirmationParams is the payload of a seller_confirmation
// instruction. The instruction signer is the seller.
type SellerConfirmationParams struct {
	Buyer                [20]byte
	SellerHoldingAccount [20]byte
	BuyerHoldingAccount  [20]byte
	NftMint              [20]byte
}

// Evidence returns the proof material presented by seller.
func (p SellerConfirmationParams) Evidence(seller [20]byte) SellerEvidence {
	return SellerEvidence{
		Seller:               seller,
		SellerHoldingAccount: p.SellerHoldingAccount,
		BuyerHoldingAccount:  p.BuyerHoldingAccount,
		NftMint:              p.NftMint,
	}
}
